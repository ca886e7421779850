package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"promocast/internal/eventbus"
)

func TestObserve(t *testing.T) {
	t.Parallel()

	m := New(nil)
	m.Observe(eventbus.Event{Type: eventbus.TypeDeliverySent, Data: eventbus.Delivery{Platform: "telegram", EventType: "coupon_new", Duration: time.Second}})
	m.Observe(eventbus.Event{Type: eventbus.TypeDeliveryFailed, Data: eventbus.Delivery{Platform: "whatsapp", EventType: "coupon_new", ErrorKind: "window_closed"}})
	m.Observe(eventbus.Event{Type: eventbus.TypeDeliverySkipped, Data: eventbus.Delivery{Platform: "telegram", EventType: "coupon_new", Reason: "duplicate"}})
	m.Observe(eventbus.Event{Type: eventbus.TypeDispatchDone, Data: eventbus.Dispatch{EventType: "coupon_new", Filtered: 3, Duration: time.Second}})

	if got := testutil.ToFloat64(m.Deliveries.WithLabelValues("telegram", "coupon_new", "sent", "")); got != 1 {
		t.Fatalf("sent=%v", got)
	}
	if got := testutil.ToFloat64(m.Deliveries.WithLabelValues("whatsapp", "coupon_new", "failed", "window_closed")); got != 1 {
		t.Fatalf("failed=%v", got)
	}
	if got := testutil.ToFloat64(m.Deliveries.WithLabelValues("telegram", "coupon_new", "skipped", "duplicate")); got != 1 {
		t.Fatalf("skipped=%v", got)
	}
	if got := testutil.ToFloat64(m.Filtered); got != 3 {
		t.Fatalf("filtered=%v", got)
	}
	if got := testutil.ToFloat64(m.Dispatches.WithLabelValues("coupon_new", "false")); got != 1 {
		t.Fatalf("dispatches=%v", got)
	}
}

func TestRunConsumesBus(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	m := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx, bus)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	// The subscription may not exist yet, so publish until one lands.
	for testutil.ToFloat64(m.Filtered) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("bus event not observed")
		}
		bus.Publish(eventbus.Event{Type: eventbus.TypeDispatchDone, Data: eventbus.Dispatch{Filtered: 2}})
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestHandlerAndMiddleware(t *testing.T) {
	t.Parallel()

	m := New(nil)
	m.WatchBusDrops(eventbus.New())
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	r.Handle("/metrics", m.Handler())

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/items/42")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		`promocast_http_requests_total{method="GET",path="/items/{id}",status="418"} 1`,
		"promocast_eventbus_dropped 0",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}
