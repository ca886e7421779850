package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"promocast/internal/domain"
	logx "promocast/pkg/logx"
)

// fileStore is a dependency-free persistence backend: state lives in a Memory
// and every write is appended to a journal.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot)
//   - <prefix>.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	*Memory
	log logx.Logger

	mu           sync.Mutex
	snapshotPath string
	journal      *os.File
	writes       int
}

type journalRecord struct {
	Op       string                   `json:"op"`
	Channel  *domain.Channel          `json:"channel,omitempty"`
	Template *Template                `json:"template,omitempty"`
	Delivery *domain.DeliveryLogEntry `json:"delivery,omitempty"`
	Mark     *markRecord              `json:"mark,omitempty"`
	Ledger   *domain.SendLedgerEntry  `json:"ledger,omitempty"`
}

type markRecord struct {
	ID     string                `json:"id"`
	Status domain.DeliveryStatus `json:"status"`
	Error  string                `json:"error,omitempty"`
	At     time.Time             `json:"at"`
}

type snapshot struct {
	Channels   []domain.Channel          `json:"channels"`
	Templates  []Template                `json:"templates"`
	Deliveries []domain.DeliveryLogEntry `json:"deliveries"`
	Ledger     []domain.SendLedgerEntry  `json:"ledger"`
}

const compactEvery = 1000

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	mem := NewMemory()
	if err := loadSnapshot(snapPath, mem); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("snapshot unreadable, starting from journal", logx.String("path", snapPath), logx.Err(err))
	}
	if err := replayJournal(journalPath, mem); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("journal replay incomplete", logx.String("path", journalPath), logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", "file"), logx.String("path", prefix))
	return &fileStore{Memory: mem, log: log, snapshotPath: snapPath, journal: jf}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) UpsertChannel(ctx context.Context, ch domain.Channel) error {
	if err := s.Memory.UpsertChannel(ctx, ch); err != nil {
		return err
	}
	return s.append(journalRecord{Op: "channel", Channel: &ch})
}

func (s *fileStore) UpsertTemplate(ctx context.Context, t Template) error {
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now()
	}
	if err := s.Memory.UpsertTemplate(ctx, t); err != nil {
		return err
	}
	return s.append(journalRecord{Op: "template", Template: &t})
}

func (s *fileStore) CreateDelivery(ctx context.Context, e domain.DeliveryLogEntry) (string, error) {
	id, err := s.Memory.CreateDelivery(ctx, e)
	if err != nil {
		return "", err
	}
	s.Memory.mu.RLock()
	stored := s.Memory.deliveries[id]
	s.Memory.mu.RUnlock()
	return id, s.append(journalRecord{Op: "delivery", Delivery: &stored})
}

func (s *fileStore) MarkDelivery(ctx context.Context, id string, status domain.DeliveryStatus, errMsg string, at time.Time) error {
	if err := s.Memory.MarkDelivery(ctx, id, status, errMsg, at); err != nil {
		return err
	}
	return s.append(journalRecord{Op: "mark", Mark: &markRecord{ID: id, Status: status, Error: errMsg, At: at}})
}

func (s *fileStore) RecordSend(ctx context.Context, e domain.SendLedgerEntry) error {
	if e.SentAt.IsZero() {
		e.SentAt = time.Now()
	}
	if err := s.Memory.RecordSend(ctx, e); err != nil {
		return err
	}
	return s.append(journalRecord{Op: "ledger", Ledger: &e})
}

func (s *fileStore) PruneLedger(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.Memory.PruneLedger(ctx, before)
	if err != nil || n == 0 {
		return n, err
	}
	return n, s.compact()
}

func (s *fileStore) PruneDeliveries(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.Memory.PruneDeliveries(ctx, before)
	if err != nil || n == 0 {
		return n, err
	}
	return n, s.compact()
}

func (s *fileStore) append(r journalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return errors.New("journal closed")
	}
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compactLocked()
}

func (s *fileStore) compactLocked() error {
	if s.journal == nil {
		return errors.New("journal closed")
	}
	snap := s.Memory.snapshot()

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func (m *Memory) snapshot() snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var snap snapshot
	for _, ch := range m.channels {
		snap.Channels = append(snap.Channels, ch)
	}
	for _, t := range m.templates {
		snap.Templates = append(snap.Templates, t)
	}
	for _, d := range m.deliveries {
		snap.Deliveries = append(snap.Deliveries, d)
	}
	snap.Ledger = append(snap.Ledger, m.ledger...)
	return snap
}

func loadSnapshot(path string, m *Memory) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range snap.Channels {
		m.channels[ch.ID] = ch
	}
	for _, t := range snap.Templates {
		m.templates[templateKey{t.Kind, t.Platform}] = t
	}
	for _, d := range snap.Deliveries {
		m.deliveries[d.ID] = d
	}
	m.ledger = append(m.ledger, snap.Ledger...)
	return nil
}

func replayJournal(path string, m *Memory) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	ctx := context.Background()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		switch {
		case r.Op == "channel" && r.Channel != nil:
			_ = m.UpsertChannel(ctx, *r.Channel)
		case r.Op == "template" && r.Template != nil:
			_ = m.UpsertTemplate(ctx, *r.Template)
		case r.Op == "delivery" && r.Delivery != nil:
			_, _ = m.CreateDelivery(ctx, *r.Delivery)
		case r.Op == "mark" && r.Mark != nil:
			_ = m.MarkDelivery(ctx, r.Mark.ID, r.Mark.Status, r.Mark.Error, r.Mark.At)
		case r.Op == "ledger" && r.Ledger != nil:
			_ = m.RecordSend(ctx, *r.Ledger)
		}
	}
	return sc.Err()
}
