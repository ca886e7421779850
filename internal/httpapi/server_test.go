package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"promocast/internal/dispatch"
	"promocast/internal/domain"
	"promocast/internal/metrics"
	"promocast/internal/storage"
	logx "promocast/pkg/logx"
)

type fakeDispatcher struct {
	last     domain.Event
	lastOpts dispatch.Options
	known    map[string]bool
}

func (f *fakeDispatcher) Dispatch(_ context.Context, ev domain.Event, opts dispatch.Options) (domain.DispatchResult, error) {
	f.last, f.lastOpts = ev, opts
	for _, id := range opts.ChannelIDs {
		if !f.known[id] {
			return domain.DispatchResult{}, fmt.Errorf("load channels: channel %s: %w", id, storage.ErrNotFound)
		}
	}
	return domain.DispatchResult{Success: true, Total: 1, Sent: 1, Details: []domain.Detail{{ChannelID: "t1", Success: true}}}, nil
}

type countingInvalidator struct{ n int }

func (c *countingInvalidator) Invalidate() { c.n++ }

func newTestServer(t *testing.T) (*httptest.Server, *fakeDispatcher, *storage.Memory, *countingInvalidator) {
	t.Helper()
	disp := &fakeDispatcher{known: map[string]bool{"t1": true}}
	mem := storage.NewMemory()
	inv := &countingInvalidator{}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s := New("127.0.0.1:0", Deps{
		Dispatcher:  disp,
		Stats:       mem,
		Credentials: inv,
		Metrics:     metrics.New(nil),
		Log:         logx.Nop(),
		Now:         func() time.Time { return now },
	})
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return srv, disp, mem, inv
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestPostEvent(t *testing.T) {
	t.Parallel()
	srv, disp, _, _ := newTestServer(t)

	resp := post(t, srv.URL+"/v1/events", `{"type":"coupon_new","payload":{"id":"c1","code":"SAVE10","platform":"shopee"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var res domain.DispatchResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Sent != 1 {
		t.Fatalf("res=%+v", res)
	}
	if disp.last.CouponCode() != "SAVE10" || disp.lastOpts.Manual {
		t.Fatalf("dispatched %+v %+v", disp.last, disp.lastOpts)
	}

	if resp := post(t, srv.URL+"/v1/events", `{"type":"flash","payload":{"id":"x"}}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown type status=%d", resp.StatusCode)
	}
}

func TestChannelTest(t *testing.T) {
	t.Parallel()
	srv, disp, _, _ := newTestServer(t)

	if resp := post(t, srv.URL+"/v1/channels/t1/test", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if disp.last.Type() != domain.EventPromotionNew || !strings.HasPrefix(disp.last.Entity().ID, "test-") {
		t.Fatalf("synthetic event=%+v", disp.last)
	}
	if !disp.lastOpts.Manual || !disp.lastOpts.SkipSegmentation || len(disp.lastOpts.ChannelIDs) != 1 || disp.lastOpts.ChannelIDs[0] != "t1" {
		t.Fatalf("opts=%+v", disp.lastOpts)
	}

	if resp := post(t, srv.URL+"/v1/channels/t1/test", `{"type":"coupon_new"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("coupon status=%d", resp.StatusCode)
	}
	if disp.last.Type() != domain.EventCouponNew || disp.last.CouponCode() == "" {
		t.Fatalf("synthetic coupon=%+v", disp.last)
	}

	if resp := post(t, srv.URL+"/v1/channels/ghost/test", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown channel status=%d", resp.StatusCode)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	srv, _, mem, _ := newTestServer(t)
	ctx := context.Background()

	id, err := mem.CreateDelivery(ctx, domain.DeliveryLogEntry{EventType: domain.EventCouponNew, Platform: domain.PlatformTelegram, ChannelID: "t1", CreatedAt: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	if err := mem.MarkDelivery(ctx, id, domain.DeliverySent, "", time.Now()); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(srv.URL + "/v1/stats?since=2000h")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var st domain.DeliveryStats
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Total != 1 || st.ByStatus[domain.DeliverySent] != 1 {
		t.Fatalf("stats=%+v", st)
	}

	bad, err := http.Get(srv.URL + "/v1/stats?since=yesterday")
	if err != nil {
		t.Fatal(err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad since status=%d", bad.StatusCode)
	}
}

func TestParseSince(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Time
		err  bool
	}{
		{in: "", want: now.Add(-24 * time.Hour)},
		{in: "1h", want: now.Add(-time.Hour)},
		{in: "7d", want: now.Add(-7 * 24 * time.Hour)},
		{in: "2026-04-30T00:00:00Z", want: time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)},
		{in: "-1h", err: true},
		{in: "last week", err: true},
	}
	for _, tt := range tests {
		got, err := parseSince(tt.in, now)
		if (err != nil) != tt.err {
			t.Fatalf("%q: err=%v", tt.in, err)
		}
		if !tt.err && !got.Equal(tt.want) {
			t.Fatalf("%q: got %s want %s", tt.in, got, tt.want)
		}
	}
}

func TestInvalidateHealthAndMetrics(t *testing.T) {
	t.Parallel()
	srv, _, _, inv := newTestServer(t)

	if resp := post(t, srv.URL+"/v1/credentials/invalidate", ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if inv.n != 1 {
		t.Fatalf("invalidations=%d", inv.n)
	}
	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status=%d", path, resp.StatusCode)
		}
	}
}

func TestPprofIsOptIn(t *testing.T) {
	t.Parallel()

	for _, on := range []bool{false, true} {
		s := New("127.0.0.1:0", Deps{Log: logx.Nop(), Pprof: on})
		rec := httptest.NewRecorder()
		s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
		want := http.StatusNotFound
		if on {
			want = http.StatusOK
		}
		if rec.Code != want {
			t.Fatalf("pprof=%v status=%d want %d", on, rec.Code, want)
		}
	}
}
