package storage

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"promocast/internal/domain"
)

// Memory is a process-local Store. It backs the "memory" driver, the "file"
// driver and tests.
type Memory struct {
	mu         sync.RWMutex
	channels   map[string]domain.Channel
	templates  map[templateKey]Template
	deliveries map[string]domain.DeliveryLogEntry
	ledger     []domain.SendLedgerEntry
	now        func() time.Time
}

type templateKey struct {
	kind     string
	platform domain.Platform
}

func NewMemory() *Memory {
	return &Memory{
		channels:   map[string]domain.Channel{},
		templates:  map[templateKey]Template{},
		deliveries: map[string]domain.DeliveryLogEntry{},
		now:        time.Now,
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) ActiveChannels(ctx context.Context) ([]domain.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		if ch.IsActive {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Channel(_ context.Context, id string) (domain.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[id]
	if !ok {
		return domain.Channel{}, fmt.Errorf("channel %s: %w", id, ErrNotFound)
	}
	return ch, nil
}

func (m *Memory) UpsertChannel(_ context.Context, ch domain.Channel) error {
	if strings.TrimSpace(ch.ID) == "" {
		return errors.New("channel id is required")
	}
	m.mu.Lock()
	m.channels[ch.ID] = ch
	m.mu.Unlock()
	return nil
}

func (m *Memory) ActiveTemplate(_ context.Context, kind string, platform domain.Platform) (Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[templateKey{kind, platform}]
	if !ok || !t.Active {
		return Template{}, fmt.Errorf("template %s/%s: %w", kind, platform, ErrNotFound)
	}
	return t, nil
}

func (m *Memory) UpsertTemplate(_ context.Context, t Template) error {
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = m.now()
	}
	m.mu.Lock()
	m.templates[templateKey{t.Kind, t.Platform}] = t
	m.mu.Unlock()
	return nil
}

func (m *Memory) CreateDelivery(_ context.Context, e domain.DeliveryLogEntry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.now()
	}
	if e.Status == "" {
		e.Status = domain.DeliveryPending
	}
	e.Payload = maps.Clone(e.Payload)
	m.mu.Lock()
	m.deliveries[e.ID] = e
	m.mu.Unlock()
	return e.ID, nil
}

func (m *Memory) MarkDelivery(_ context.Context, id string, status domain.DeliveryStatus, errMsg string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.deliveries[id]
	if !ok {
		return fmt.Errorf("delivery %s: %w", id, ErrNotFound)
	}
	e.Status = status
	e.ErrorMessage = errMsg
	e.SentAt = nil
	if status == domain.DeliverySent {
		t := at
		e.SentAt = &t
	}
	m.deliveries[id] = e
	return nil
}

func (m *Memory) DeliveryStats(_ context.Context, since time.Time) (domain.DeliveryStats, error) {
	st := domain.NewDeliveryStats(since)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.deliveries {
		if !e.CreatedAt.Before(since) {
			st.Add(e.Platform, e.Status, 1)
		}
	}
	return st, nil
}

// Deliveries returns a snapshot of every delivery row, oldest first.
func (m *Memory) Deliveries() []domain.DeliveryLogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.DeliveryLogEntry, 0, len(m.deliveries))
	for _, e := range m.deliveries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Memory) RecordSend(_ context.Context, e domain.SendLedgerEntry) error {
	if e.SentAt.IsZero() {
		e.SentAt = m.now()
	}
	m.mu.Lock()
	m.ledger = append(m.ledger, e)
	m.mu.Unlock()
	return nil
}

// Ledger returns a snapshot of the send ledger.
func (m *Memory) Ledger() []domain.SendLedgerEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.SendLedgerEntry(nil), m.ledger...)
}

func (m *Memory) SentSince(_ context.Context, channelID string, eventType domain.EventType, entity domain.EntityRef, since time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.ledger {
		if e.ChannelID == channelID && e.EventType == eventType && e.EntityType == entity.Type &&
			e.EntityID == entity.ID && !e.SentAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) CodePublishedElsewhere(_ context.Context, code, entityID string) (bool, error) {
	if strings.TrimSpace(code) == "" {
		return false, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.ledger {
		if e.EntityType == domain.EntityCoupon && e.CouponCode == code && e.EntityID != entityID {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) PruneLedger(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.ledger[:0]
	var n int64
	for _, e := range m.ledger {
		if e.SentAt.Before(before) && !isCodeMarker(e) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.ledger = kept
	return n, nil
}

func (m *Memory) PruneDeliveries(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.deliveries {
		if e.CreatedAt.Before(before) {
			delete(m.deliveries, id)
			n++
		}
	}
	return n, nil
}

// isCodeMarker reports ledger rows that retention must never remove.
func isCodeMarker(e domain.SendLedgerEntry) bool {
	return e.EntityType == domain.EntityCoupon && strings.TrimSpace(e.CouponCode) != ""
}
