package segment

import (
	"testing"
	"time"

	"promocast/internal/domain"
	logx "promocast/pkg/logx"
)

func f64(v float64) *float64 { return &v }

func at(hh, mm int) time.Time {
	return time.Date(2026, 3, 10, hh, mm, 0, 0, time.UTC)
}

func TestEligibleGates(t *testing.T) {
	t.Parallel()

	promo := domain.PromotionEvent{ProductID: "p1", CategoryID: "eletronicos", SourcePlatform: "shopee", OfferScore: f64(70)}
	coupon := domain.CouponNewEvent{CouponID: "c1", Code: "SAVE10", SourcePlatform: "amazon"}
	expired := domain.CouponExpiredEvent{CouponID: "c1", Code: "SAVE10"}

	tests := []struct {
		name   string
		ch     domain.Channel
		ev     domain.Event
		now    time.Time
		ok     bool
		reason string
	}{
		{name: "no filters accepts", ch: domain.Channel{ID: "a"}, ev: promo, now: at(12, 0), ok: true},
		{name: "content filter rejects products", ch: domain.Channel{ContentFilter: &domain.ContentFilter{AcceptsCoupons: true}}, ev: promo, now: at(12, 0), reason: ReasonContentType},
		{name: "content filter accepts coupons", ch: domain.Channel{ContentFilter: &domain.ContentFilter{AcceptsCoupons: true}}, ev: coupon, now: at(12, 0), ok: true},
		{name: "content filter overrides legacy flags", ch: domain.Channel{ContentFilter: &domain.ContentFilter{AcceptsProducts: true}, OnlyCoupons: true}, ev: promo, now: at(12, 0), ok: true},
		{name: "only coupons rejects promotion", ch: domain.Channel{OnlyCoupons: true}, ev: promo, now: at(12, 0), reason: ReasonContentType},
		{name: "only coupons accepts expired coupon", ch: domain.Channel{OnlyCoupons: true}, ev: expired, now: at(12, 0), ok: true},
		{name: "no coupons rejects coupon", ch: domain.Channel{NoCoupons: true}, ev: coupon, now: at(12, 0), reason: ReasonContentType},
		{name: "no coupons accepts promotion", ch: domain.Channel{NoCoupons: true}, ev: promo, now: at(12, 0), ok: true},
		{name: "both legacy flags prefer only coupons", ch: domain.Channel{OnlyCoupons: true, NoCoupons: true}, ev: coupon, now: at(12, 0), ok: true},
		{name: "category member", ch: domain.Channel{CategoryFilter: []string{"moda", "eletronicos"}}, ev: promo, now: at(12, 0), ok: true},
		{name: "category not member", ch: domain.Channel{CategoryFilter: []string{"moda"}}, ev: promo, now: at(12, 0), reason: ReasonCategory},
		{name: "category missing on payload", ch: domain.Channel{CategoryFilter: []string{"moda"}}, ev: coupon, now: at(12, 0), reason: ReasonCategory},
		{name: "platform mismatch", ch: domain.Channel{PlatformFilter: []string{"amazon"}}, ev: promo, now: at(12, 0), reason: ReasonPlatform},
		{name: "platform case insensitive", ch: domain.Channel{PlatformFilter: []string{"Shopee"}}, ev: promo, now: at(12, 0), ok: true},
		{name: "platform absent on payload", ch: domain.Channel{PlatformFilter: []string{"amazon"}}, ev: expired, now: at(12, 0), ok: true},
		{name: "inside day window", ch: domain.Channel{ScheduleStart: "08:00", ScheduleEnd: "20:00"}, ev: promo, now: at(8, 0), ok: true},
		{name: "outside day window", ch: domain.Channel{ScheduleStart: "08:00", ScheduleEnd: "20:00"}, ev: promo, now: at(21, 0), reason: ReasonSchedule},
		{name: "overnight window after start", ch: domain.Channel{ScheduleStart: "22:00", ScheduleEnd: "06:00"}, ev: promo, now: at(23, 30), ok: true},
		{name: "overnight window before end", ch: domain.Channel{ScheduleStart: "22:00", ScheduleEnd: "06:00"}, ev: promo, now: at(5, 59), ok: true},
		{name: "overnight window midday", ch: domain.Channel{ScheduleStart: "22:00", ScheduleEnd: "06:00"}, ev: promo, now: at(12, 0), reason: ReasonSchedule},
		{name: "unparsable window is open", ch: domain.Channel{ScheduleStart: "late", ScheduleEnd: "06:00"}, ev: promo, now: at(12, 0), ok: true},
		{name: "score below floor", ch: domain.Channel{MinOfferScore: f64(80)}, ev: promo, now: at(12, 0), reason: ReasonScore},
		{name: "score equal floor", ch: domain.Channel{MinOfferScore: f64(70)}, ev: promo, now: at(12, 0), ok: true},
		{name: "score absent on payload", ch: domain.Channel{MinOfferScore: f64(80)}, ev: coupon, now: at(12, 0), ok: true},
		{name: "content gate reported first", ch: domain.Channel{OnlyCoupons: true, CategoryFilter: []string{"moda"}}, ev: promo, now: at(12, 0), reason: ReasonContentType},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ok, reason := Eligible(tt.ch, tt.ev, tt.now)
			if ok != tt.ok || reason != tt.reason {
				t.Fatalf("Eligible()=(%v,%q) want (%v,%q)", ok, reason, tt.ok, tt.reason)
			}
		})
	}
}

func TestFilterIsSubsetInOrder(t *testing.T) {
	t.Parallel()

	f := New(logx.Nop(), WithClock(func() time.Time { return at(12, 0) }), WithLocation(time.UTC))
	in := []domain.Channel{
		{ID: "1"},
		{ID: "2", OnlyCoupons: true},
		{ID: "3", PlatformFilter: []string{"shopee"}},
		{ID: "4", MinOfferScore: f64(99)},
		{ID: "5"},
	}
	ev := domain.PromotionEvent{ProductID: "p", SourcePlatform: "shopee", OfferScore: f64(50)}

	got := f.Filter(in, ev)
	want := []string{"1", "3", "5"}
	if len(got) != len(want) {
		t.Fatalf("len=%d want %d", len(got), len(want))
	}
	for i, ch := range got {
		if ch.ID != want[i] {
			t.Fatalf("got[%d]=%s want %s", i, ch.ID, want[i])
		}
	}
	if len(f.Filter(nil, ev)) != 0 {
		t.Fatalf("empty input should give empty output")
	}
}

func TestFilterUsesLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("BRT", -3*3600)
	// 01:00 UTC is 22:00 in BRT.
	f := New(logx.Nop(), WithClock(func() time.Time { return at(1, 0) }), WithLocation(loc))
	ch := domain.Channel{ID: "night", ScheduleStart: "21:00", ScheduleEnd: "23:00"}
	if got := f.Filter([]domain.Channel{ch}, domain.CouponNewEvent{CouponID: "c"}); len(got) != 1 {
		t.Fatalf("expected channel to be inside its local window")
	}
}

func TestParseClock(t *testing.T) {
	t.Parallel()

	cases := map[string]int{"00:00": 0, "06:30": 390, "23:59:59": 1439}
	for in, want := range cases {
		got, err := ParseClock(in)
		if err != nil || got != want {
			t.Fatalf("ParseClock(%q)=(%d,%v) want %d", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "24:00", "7", "12:60", "aa:bb"} {
		if _, err := ParseClock(bad); err == nil {
			t.Fatalf("ParseClock(%q) should fail", bad)
		}
	}
}
