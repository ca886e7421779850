// Package dispatch fans one event out to every eligible channel.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"promocast/internal/dedup"
	"promocast/internal/domain"
	"promocast/internal/eventbus"
	"promocast/internal/segment"
	"promocast/internal/storage"
	"promocast/internal/transport"
	logx "promocast/pkg/logx"
)

// Result messages for dispatches that never reach a channel.
const (
	MsgNoActiveChannels = "no active channels"
	MsgNoEligible       = "no channel passed segmentation"
)

// Detail reasons.
const (
	ReasonDuplicate = "duplicate"
	ReasonTimeout   = "timeout"
	ReasonRender    = "render"
	ReasonTransport = "transport"
	ReasonPanic     = "panic"
)

var ErrNilEvent = errors.New("dispatch: nil event")

// ErrDeadline is recorded for channels the dispatch deadline cut off.
var ErrDeadline = errors.New("dispatch deadline exceeded before channel was attempted")

// Options tune a single dispatch.
type Options struct {
	// Manual bypasses deduplication (admin triggered sends and tests).
	Manual bool
	// ChannelIDs restricts the dispatch to these channels, active or not.
	ChannelIDs []string
	// SkipSegmentation sends to every loaded channel (channel tests).
	SkipSegmentation bool
}

type Config struct {
	// Workers bounds concurrent channels (default 4; 1 is strictly sequential).
	Workers int
	// Timeout is the overall deadline of one dispatch (default 2m).
	Timeout time.Duration
	// LogosDir holds <platform>.png and generic.png for coupon events without an image.
	LogosDir string
}

// Renderer produces the message text for an event on a platform.
type Renderer interface {
	Render(ctx context.Context, ev domain.Event, platform domain.Platform) (string, error)
}

type Deps struct {
	Channels   storage.ChannelRegistry
	Deliveries storage.DeliveryLog
	Guard      *dedup.Guard
	Filter     *segment.Filter
	Renderer   Renderer
	Transports *transport.Registry
	// Bus is optional.
	Bus eventbus.Bus
	Log logx.Logger
}

// Dispatcher is safe for concurrent use; concurrent dispatches share nothing
// but the stores and transports.
type Dispatcher struct {
	cfg Config
	Deps
	now func() time.Time
}

func New(cfg Config, deps Deps) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Filter == nil {
		deps.Filter = segment.New(deps.Log)
	}
	if deps.Transports == nil {
		deps.Transports = transport.NewRegistry()
	}
	return &Dispatcher{cfg: cfg, Deps: deps, now: time.Now}
}

// Dispatch delivers ev to every eligible channel and reports per-channel outcomes.
//
// Loading channels is the only fatal step. Every per-channel failure is
// reported in the result and never aborts the other channels.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.Event, opts Options) (domain.DispatchResult, error) {
	if ev == nil {
		return domain.DispatchResult{}, ErrNilEvent
	}
	start := d.now()
	ev = d.injectLogo(ev)
	log := d.Log.With(logx.String("event", string(ev.Type())), logx.String("entity", ev.Entity().ID))

	channels, err := d.loadChannels(ctx, opts)
	if err != nil {
		return domain.DispatchResult{}, fmt.Errorf("load channels: %w", err)
	}
	if len(channels) == 0 {
		log.Info("dispatch skipped", logx.String("reason", MsgNoActiveChannels))
		return domain.DispatchResult{Success: false, Message: MsgNoActiveChannels, Details: []domain.Detail{}}, nil
	}

	eligible := channels
	if !opts.SkipSegmentation {
		eligible = d.Filter.Filter(channels, ev)
	}
	filtered := len(channels) - len(eligible)
	if len(eligible) == 0 {
		log.Info("dispatch skipped", logx.String("reason", MsgNoEligible), logx.Int("filtered", filtered))
		return domain.DispatchResult{Success: false, Message: MsgNoEligible, Filtered: filtered, Details: []domain.Detail{}}, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	details := d.fanOut(runCtx, eligible, ev, opts.Manual)

	res := domain.DispatchResult{Total: len(eligible), Filtered: filtered, Details: details}
	for _, dt := range details {
		switch {
		case dt.Skipped:
			res.Skipped++
		case dt.Success:
			res.Sent++
		default:
			res.Failed++
		}
	}
	res.Success = res.Failed == 0
	res.Message = fmt.Sprintf("sent %d, failed %d, skipped %d of %d", res.Sent, res.Failed, res.Skipped, res.Total)

	took := d.now().Sub(start)
	fields := []logx.Field{
		logx.Int("total", res.Total), logx.Int("sent", res.Sent), logx.Int("failed", res.Failed),
		logx.Int("skipped", res.Skipped), logx.Int("filtered", res.Filtered),
		logx.Bool("manual", opts.Manual), logx.Duration("took", took),
	}
	if res.Failed > 0 {
		log.Warn("dispatch finished with failures", fields...)
	} else {
		log.Info("dispatch finished", fields...)
	}
	d.publish(eventbus.TypeDispatchDone, eventbus.Dispatch{
		EventType: string(ev.Type()), Manual: opts.Manual, Total: res.Total, Sent: res.Sent,
		Failed: res.Failed, Skipped: res.Skipped, Filtered: res.Filtered, Duration: took,
	})
	return res, nil
}

func (d *Dispatcher) loadChannels(ctx context.Context, opts Options) ([]domain.Channel, error) {
	var channels []domain.Channel
	if len(opts.ChannelIDs) > 0 {
		for _, id := range opts.ChannelIDs {
			ch, err := d.Channels.Channel(ctx, id)
			if err != nil {
				return nil, err
			}
			channels = append(channels, ch)
		}
	} else {
		var err error
		if channels, err = d.Channels.ActiveChannels(ctx); err != nil {
			return nil, err
		}
	}
	for _, ch := range channels {
		if ch.LegacyFlagConflict() {
			d.Log.Warn("channel has both only_coupons and no_coupons set; only_coupons wins", logx.String("channel", ch.Label()))
		}
	}
	return channels, nil
}

// fanOut runs the bounded worker pool. Each worker owns distinct slots of
// details, so no counter is shared until the join.
func (d *Dispatcher) fanOut(ctx context.Context, channels []domain.Channel, ev domain.Event, manual bool) []domain.Detail {
	details := make([]domain.Detail, len(channels))
	workers := d.cfg.Workers
	if workers > len(channels) {
		workers = len(channels)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				details[i] = d.runChannel(ctx, channels[i], ev, manual)
			}
		}()
	}
	for i := range channels {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return details
}

func (d *Dispatcher) runChannel(ctx context.Context, ch domain.Channel, ev domain.Event, manual bool) (dt domain.Detail) {
	defer func() {
		if r := recover(); r != nil {
			d.Log.Error("panic while sending to channel", logx.String("channel", ch.ID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			dt = domain.Detail{ChannelID: ch.ID, Platform: ch.Platform, Error: fmt.Sprint("panic: ", r), Reason: ReasonPanic}
		}
	}()

	if ctx.Err() != nil {
		return d.expire(ctx, ch, ev)
	}
	if d.Guard.IsDuplicate(ctx, ch, ev, manual) {
		d.publish(eventbus.TypeDeliverySkipped, eventbus.Delivery{ChannelID: ch.ID, Platform: string(ch.Platform), EventType: string(ev.Type()), Reason: ReasonDuplicate})
		return domain.Detail{ChannelID: ch.ID, Platform: ch.Platform, Skipped: true, Reason: ReasonDuplicate}
	}
	dt = d.sendToChannel(ctx, ch, ev)
	if dt.Success {
		d.Guard.RecordSend(storeContext(ctx), ch, ev)
	}
	return dt
}

// expire records a channel the deadline cut off as failed instead of leaving it pending.
func (d *Dispatcher) expire(ctx context.Context, ch domain.Channel, ev domain.Event) domain.Detail {
	sctx, cancel := context.WithTimeout(storeContext(ctx), storeTimeout)
	defer cancel()
	now := d.now()
	entry := domain.DeliveryLogEntry{
		EventType: ev.Type(), Platform: ch.Platform, ChannelID: ch.ID, Payload: ev.Vars(),
		Status: domain.DeliveryFailed, ErrorMessage: ErrDeadline.Error(), CreatedAt: now,
	}
	if _, err := d.Deliveries.CreateDelivery(sctx, entry); err != nil {
		d.Log.Warn("delivery log write failed", logx.String("channel", ch.ID), logx.Err(err))
	}
	d.publish(eventbus.TypeDeliveryFailed, eventbus.Delivery{ChannelID: ch.ID, Platform: string(ch.Platform), EventType: string(ev.Type()), ErrorKind: ReasonTimeout})
	return domain.Detail{ChannelID: ch.ID, Platform: ch.Platform, Error: ErrDeadline.Error(), Reason: ReasonTimeout}
}

func (d *Dispatcher) publish(typ string, data any) {
	if d.Bus == nil {
		return
	}
	d.Bus.Publish(eventbus.Event{Type: typ, Time: d.now(), Data: data})
}
