package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"promocast/internal/dedup"
	"promocast/internal/domain"
	"promocast/internal/storage"
	logx "promocast/pkg/logx"
)

type failingPruner struct{ storage.Pruner }

func (failingPruner) PruneLedger(context.Context, time.Time) (int64, error) {
	return 0, errors.New("locked")
}

func (failingPruner) PruneDeliveries(context.Context, time.Time) (int64, error) { return 2, nil }

func TestRunOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now()
	mem := storage.NewMemory()
	for _, at := range []time.Time{now.Add(-40 * 24 * time.Hour), now.Add(-time.Hour)} {
		if err := mem.RecordSend(ctx, domain.SendLedgerEntry{ChannelID: "a", EventType: domain.EventCouponNew, EntityType: domain.EntityCoupon, EntityID: "c", SentAt: at}); err != nil {
			t.Fatal(err)
		}
		if _, err := mem.CreateDelivery(ctx, domain.DeliveryLogEntry{ChannelID: "a", Platform: domain.PlatformTelegram, CreatedAt: at}); err != nil {
			t.Fatal(err)
		}
	}

	j, err := New(Config{Schedule: "@daily", LedgerMaxAge: 30 * 24 * time.Hour, DeliveryMaxAge: 0}, mem, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	rep, err := j.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.Ledger != 1 || rep.Deliveries != 0 {
		t.Fatalf("report=%+v", rep)
	}
	if len(mem.Ledger()) != 1 || len(mem.Deliveries()) != 2 {
		t.Fatalf("ledger=%d deliveries=%d", len(mem.Ledger()), len(mem.Deliveries()))
	}
}

func TestRunOnceKeepsGoingOnError(t *testing.T) {
	t.Parallel()

	j, err := New(Config{Schedule: "0 3 * * *", LedgerMaxAge: time.Hour, DeliveryMaxAge: time.Hour}, failingPruner{}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	rep, err := j.RunOnce(context.Background())
	if err == nil || rep.Deliveries != 2 {
		t.Fatalf("rep=%+v err=%v", rep, err)
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Schedule: "whenever"}, storage.NewMemory(), logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunStopsWithContext(t *testing.T) {
	t.Parallel()

	j, err := New(Config{Schedule: "@every 1h"}, storage.NewMemory(), logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRunOnceKeepsCouponCodeMarker(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := storage.NewMemory()
	old := time.Now().Add(-31 * 24 * time.Hour)
	if err := mem.RecordSend(ctx, domain.SendLedgerEntry{
		ChannelID: "tg", EventType: domain.EventCouponNew, EntityType: domain.EntityCoupon,
		EntityID: "c1", CouponCode: "SAVE10", SentAt: old,
	}); err != nil {
		t.Fatal(err)
	}

	j, err := New(Config{Schedule: "@daily", LedgerMaxAge: 30 * 24 * time.Hour}, mem, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := j.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	guard := dedup.New(mem, logx.Nop())
	rescraped := domain.CouponNewEvent{CouponID: "c9", Code: "SAVE10"}
	if !guard.IsDuplicate(ctx, domain.Channel{ID: "wa"}, rescraped, false) {
		t.Fatal("code published 31 days ago must still be a duplicate after retention")
	}
}
