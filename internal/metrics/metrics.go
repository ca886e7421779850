// Package metrics turns dispatch outcomes from the event bus into prometheus series.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"promocast/internal/eventbus"
)

const namespace = "promocast"

type Metrics struct {
	reg *prometheus.Registry

	Deliveries       *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec
	Dispatches       *prometheus.CounterVec
	DispatchDuration prometheus.Histogram
	Filtered         prometheus.Counter
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

// New registers the collectors on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Per-channel delivery outcomes.",
		}, []string{"platform", "event_type", "outcome", "reason"}),
		DeliveryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Time spent rendering and sending to one channel.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"platform"}),
		Dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Completed dispatches.",
		}, []string{"event_type", "manual"}),
		DispatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Wall time of one dispatch across all channels.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		Filtered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segmentation_filtered_total",
			Help:      "Channels dropped by segmentation.",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"path", "method", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"path", "method", "status"}),
	}
}

// WatchBusDrops exposes the bus drop counter as a gauge.
func (m *Metrics) WatchBusDrops(bus *eventbus.MemBus) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "eventbus_dropped",
		Help:      "Events dropped because a subscriber was slow.",
	}, func() float64 { return float64(bus.Dropped()) })
}

// Observe records one bus event.
func (m *Metrics) Observe(e eventbus.Event) {
	switch d := e.Data.(type) {
	case eventbus.Delivery:
		outcome, reason := "sent", ""
		switch e.Type {
		case eventbus.TypeDeliveryFailed:
			outcome, reason = "failed", d.ErrorKind
		case eventbus.TypeDeliverySkipped:
			outcome, reason = "skipped", d.Reason
		}
		m.Deliveries.WithLabelValues(d.Platform, d.EventType, outcome, reason).Inc()
		if d.Duration > 0 {
			m.DeliveryDuration.WithLabelValues(d.Platform).Observe(d.Duration.Seconds())
		}
	case eventbus.Dispatch:
		m.Dispatches.WithLabelValues(d.EventType, strconv.FormatBool(d.Manual)).Inc()
		m.DispatchDuration.Observe(d.Duration.Seconds())
		m.Filtered.Add(float64(d.Filtered))
	}
}

// Run consumes bus events until ctx ends.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsubscribe := bus.Subscribe(256)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Middleware records RED metrics keyed by the chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		status := strconv.Itoa(ww.Status())
		m.HTTPDuration.WithLabelValues(path, r.Method, status).Observe(time.Since(start).Seconds())
		m.HTTPRequests.WithLabelValues(path, r.Method, status).Inc()
	})
}
