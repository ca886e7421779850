package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"promocast/internal/domain"
	"promocast/internal/storage"
	logx "promocast/pkg/logx"
)

type brokenLedger struct{ storage.Ledger }

func (brokenLedger) RecordSend(context.Context, domain.SendLedgerEntry) error {
	return errors.New("disk full")
}
func (brokenLedger) SentSince(context.Context, string, domain.EventType, domain.EntityRef, time.Time) (bool, error) {
	return false, errors.New("db down")
}
func (brokenLedger) CodePublishedElsewhere(context.Context, string, string) (bool, error) {
	return false, errors.New("db down")
}

func hours(n int) *int { return &n }

func TestIsDuplicate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	promo := domain.PromotionEvent{ProductID: "p1"}
	coupon := domain.CouponNewEvent{CouponID: "c1", Code: "SAVE10"}
	rescraped := domain.CouponNewEvent{CouponID: "c9", Code: "SAVE10"}

	windowed := domain.Channel{ID: "a", AvoidDuplicatesHours: hours(24)}
	unwindowed := domain.Channel{ID: "b"}

	seed := func(t *testing.T) *Guard {
		t.Helper()
		mem := storage.NewMemory()
		g := New(mem, logx.Nop())
		g.now = func() time.Time { return now.Add(-2 * time.Hour) }
		g.RecordSend(ctx, windowed, promo)
		g.RecordSend(ctx, windowed, coupon)
		g.now = func() time.Time { return now }
		return g
	}

	tests := []struct {
		name   string
		ch     domain.Channel
		ev     domain.Event
		bypass bool
		at     time.Time
		want   bool
	}{
		{name: "inside window", ch: windowed, ev: promo, at: now, want: true},
		{name: "bypass", ch: windowed, ev: promo, bypass: true, at: now},
		{name: "window elapsed", ch: windowed, ev: promo, at: now.Add(23 * time.Hour)},
		{name: "no window configured", ch: unwindowed, ev: promo, at: now},
		{name: "other entity", ch: windowed, ev: domain.PromotionEvent{ProductID: "p2"}, at: now},
		{name: "expired after new is not duplicate", ch: windowed, ev: domain.CouponExpiredEvent{CouponID: "c1", Code: "SAVE10"}, at: now},
		{name: "code marker ignores window", ch: unwindowed, ev: rescraped, at: now.Add(1000 * time.Hour), want: true},
		{name: "code marker on other channel", ch: domain.Channel{ID: "z"}, ev: rescraped, at: now, want: true},
		{name: "code marker bypassed", ch: unwindowed, ev: rescraped, bypass: true, at: now},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := seed(t)
			at := tt.at
			g.now = func() time.Time { return at }
			if got := g.IsDuplicate(ctx, tt.ch, tt.ev, tt.bypass); got != tt.want {
				t.Fatalf("IsDuplicate=%v want %v", got, tt.want)
			}
		})
	}
}

func TestGuardFailsOpen(t *testing.T) {
	t.Parallel()

	g := New(brokenLedger{}, logx.Nop())
	ch := domain.Channel{ID: "a", AvoidDuplicatesHours: hours(24)}
	if g.IsDuplicate(context.Background(), ch, domain.CouponNewEvent{CouponID: "c1", Code: "X"}, false) {
		t.Fatalf("lookup errors must not suppress a send")
	}
	if g.IsDuplicate(context.Background(), ch, domain.PromotionEvent{ProductID: "p"}, false) {
		t.Fatalf("lookup errors must not suppress a send")
	}
	// Must not panic or propagate.
	g.RecordSend(context.Background(), ch, domain.PromotionEvent{ProductID: "p"})
}
