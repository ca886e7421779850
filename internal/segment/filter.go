// Package segment reduces the active channel set to the channels eligible for one event.
//
// Gates run in a fixed order and the first rejection wins:
// content type, category, source platform, schedule window, offer score.
package segment

import (
	"strings"
	"time"

	"promocast/internal/domain"
	logx "promocast/pkg/logx"
)

// Rejection reasons, reported in debug logs.
const (
	ReasonContentType = "content_type"
	ReasonCategory    = "category"
	ReasonPlatform    = "platform"
	ReasonSchedule    = "schedule"
	ReasonScore       = "score"
)

// Filter is safe for concurrent use. It performs no I/O besides debug logging.
type Filter struct {
	log logx.Logger
	loc *time.Location
	now func() time.Time
}

type Option func(*Filter)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option { return func(f *Filter) { f.now = now } }

// WithLocation sets the zone used for schedule windows. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(f *Filter) {
		if loc != nil {
			f.loc = loc
		}
	}
}

func New(log logx.Logger, opts ...Option) *Filter {
	if log.IsZero() {
		log = logx.Nop()
	}
	f := &Filter{log: log, loc: time.Local, now: time.Now}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Filter returns the channels that pass every gate, in input order.
func (f *Filter) Filter(channels []domain.Channel, ev domain.Event) []domain.Channel {
	now := f.now().In(f.loc)
	out := make([]domain.Channel, 0, len(channels))
	for _, ch := range channels {
		ok, reason := Eligible(ch, ev, now)
		if !ok {
			f.log.Debug("channel rejected by segmentation",
				logx.String("channel", ch.ID),
				logx.String("event", string(ev.Type())),
				logx.String("reason", reason),
				logx.String("score", domain.FormatScore(ev.Meta().OfferScore)),
			)
			continue
		}
		out = append(out, ch)
	}
	return out
}

// Eligible applies the gates to a single channel. now must already be in the
// zone schedule windows are expressed in.
func Eligible(ch domain.Channel, ev domain.Event, now time.Time) (bool, string) {
	meta := ev.Meta()
	if !acceptsContent(ch, ev.Type()) {
		return false, ReasonContentType
	}
	if !acceptsCategory(ch.CategoryFilter, meta.CategoryID) {
		return false, ReasonCategory
	}
	if !acceptsPlatform(ch.PlatformFilter, meta.SourcePlatform) {
		return false, ReasonPlatform
	}
	if !inSchedule(ch.ScheduleStart, ch.ScheduleEnd, now) {
		return false, ReasonSchedule
	}
	if meta.OfferScore != nil {
		floor := 0.0
		if ch.MinOfferScore != nil {
			floor = *ch.MinOfferScore
		}
		if *meta.OfferScore < floor {
			return false, ReasonScore
		}
	}
	return true, ""
}

func acceptsContent(ch domain.Channel, t domain.EventType) bool {
	coupon := t.IsCoupon()
	if cf := ch.ContentFilter; cf != nil {
		if coupon {
			return cf.AcceptsCoupons
		}
		return cf.AcceptsProducts
	}
	// OnlyCoupons short-circuits before NoCoupons when both are set.
	if ch.OnlyCoupons {
		return coupon
	}
	if ch.NoCoupons && coupon {
		return false
	}
	return true
}

func acceptsCategory(filter []string, category string) bool {
	if len(nonEmpty(filter)) == 0 {
		return true
	}
	category = strings.TrimSpace(category)
	if category == "" {
		return false
	}
	for _, c := range filter {
		if strings.TrimSpace(c) == category {
			return true
		}
	}
	return false
}

func acceptsPlatform(filter []string, platform string) bool {
	platform = strings.TrimSpace(platform)
	if platform == "" || len(nonEmpty(filter)) == 0 {
		return true
	}
	for _, p := range filter {
		if strings.EqualFold(strings.TrimSpace(p), platform) {
			return true
		}
	}
	return false
}

func nonEmpty(in []string) []string {
	out := in[:0:0]
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
