// Package dedup decides whether a channel already received an event's entity.
package dedup

import (
	"context"
	"time"

	"promocast/internal/domain"
	"promocast/internal/storage"
	logx "promocast/pkg/logx"
)

// Guard consults the send ledger. Lookup errors are fail-open and record
// errors are swallowed; neither ever fails a dispatch.
type Guard struct {
	ledger storage.Ledger
	log    logx.Logger
	now    func() time.Time
}

func New(ledger storage.Ledger, log logx.Logger) *Guard {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Guard{ledger: ledger, log: log, now: time.Now}
}

// IsDuplicate reports whether ch was already satisfied for ev.
//
// Coupon events first check the permanent code marker: a code already published
// under another coupon id is a duplicate on every channel, regardless of time.
// Otherwise the rolling window of ch.AvoidDuplicatesHours applies; channels
// without a window never see duplicates.
func (g *Guard) IsDuplicate(ctx context.Context, ch domain.Channel, ev domain.Event, bypass bool) bool {
	if bypass || g == nil || g.ledger == nil {
		return false
	}
	entity := ev.Entity()
	log := g.log.With(logx.String("channel", ch.ID), logx.String("event", string(ev.Type())), logx.String("entity", entity.ID))

	if ev.Type().IsCoupon() {
		if code := ev.CouponCode(); code != "" {
			dup, err := g.ledger.CodePublishedElsewhere(ctx, code, entity.ID)
			if err != nil {
				log.Warn("coupon code lookup failed, treating as new", logx.Err(err))
				return false
			}
			if dup {
				log.Debug("coupon code already published under another id", logx.String("code", code))
				return true
			}
		}
	}

	if ch.AvoidDuplicatesHours == nil || *ch.AvoidDuplicatesHours <= 0 {
		return false
	}
	since := g.now().Add(-time.Duration(*ch.AvoidDuplicatesHours) * time.Hour)
	dup, err := g.ledger.SentSince(ctx, ch.ID, ev.Type(), entity, since)
	if err != nil {
		log.Warn("ledger lookup failed, treating as new", logx.Err(err))
		return false
	}
	return dup
}

// RecordSend appends a ledger row after a confirmed send. Best-effort.
func (g *Guard) RecordSend(ctx context.Context, ch domain.Channel, ev domain.Event) {
	if g == nil || g.ledger == nil {
		return
	}
	entity := ev.Entity()
	err := g.ledger.RecordSend(ctx, domain.SendLedgerEntry{
		ChannelID:  ch.ID,
		EventType:  ev.Type(),
		EntityType: entity.Type,
		EntityID:   entity.ID,
		CouponCode: ev.CouponCode(),
		SentAt:     g.now(),
	})
	if err != nil {
		g.log.Warn("ledger record failed",
			logx.String("channel", ch.ID),
			logx.String("event", string(ev.Type())),
			logx.String("entity", entity.ID),
			logx.Err(err),
		)
	}
}
