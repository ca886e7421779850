package storage

import (
	"context"
	"errors"
	"time"

	"promocast/internal/domain"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path (modernc, pure Go)
//   - "mysql": MySQL server reachable through DSN
//   - "file": in-memory state replayed from a JSONL journal at Path
//   - "memory": process-local, lost on exit
type Config struct {
	Driver          string
	Path            string
	DSN             string
	BusyTimeout     time.Duration // sqlite only; 0 means default
	MaxOpenConns    int           // mysql only
	ConnMaxLifetime time.Duration // mysql only
}

// Template is a stored message template, keyed by kind and platform.
type Template struct {
	Kind      string
	Platform  domain.Platform
	Body      string
	Active    bool
	UpdatedAt time.Time
}

// ChannelRegistry yields configured channels.
type ChannelRegistry interface {
	ActiveChannels(ctx context.Context) ([]domain.Channel, error)
	Channel(ctx context.Context, id string) (domain.Channel, error)
	UpsertChannel(ctx context.Context, ch domain.Channel) error
}

// TemplateStore yields message templates.
type TemplateStore interface {
	// ActiveTemplate returns ErrNotFound when no active template exists for the pair.
	ActiveTemplate(ctx context.Context, kind string, platform domain.Platform) (Template, error)
	UpsertTemplate(ctx context.Context, t Template) error
}

// DeliveryLog records every send attempt.
type DeliveryLog interface {
	// CreateDelivery stores a pending row and returns its id.
	CreateDelivery(ctx context.Context, e domain.DeliveryLogEntry) (string, error)
	MarkDelivery(ctx context.Context, id string, status domain.DeliveryStatus, errMsg string, at time.Time) error
	DeliveryStats(ctx context.Context, since time.Time) (domain.DeliveryStats, error)
}

// Ledger is the deduplication record of confirmed sends.
type Ledger interface {
	RecordSend(ctx context.Context, e domain.SendLedgerEntry) error
	// SentSince reports a send of the same event type and entity to the channel at or after since.
	SentSince(ctx context.Context, channelID string, eventType domain.EventType, entity domain.EntityRef, since time.Time) (bool, error)
	// CodePublishedElsewhere reports whether code was already published, on any
	// channel, for a coupon entity other than entityID.
	CodePublishedElsewhere(ctx context.Context, code, entityID string) (bool, error)
}

// Pruner deletes rows past retention. The dispatch core never calls it.
type Pruner interface {
	PruneLedger(ctx context.Context, before time.Time) (int64, error)
	PruneDeliveries(ctx context.Context, before time.Time) (int64, error)
}

// Store is the full persistence API.
type Store interface {
	ChannelRegistry
	TemplateStore
	DeliveryLog
	Ledger
	Pruner
	Close() error
}
