package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"promocast/internal/domain"
	"promocast/internal/eventbus"
	"promocast/internal/transport"
	logx "promocast/pkg/logx"
)

// storeTimeout bounds log writes that run after the dispatch context ended.
const storeTimeout = 5 * time.Second

// storeContext keeps log writes alive when the dispatch deadline has passed.
func storeContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// sendToChannel writes a pending row, renders, sends, and settles the row.
// Log store failures are warnings and never change the outcome.
func (d *Dispatcher) sendToChannel(ctx context.Context, ch domain.Channel, ev domain.Event) domain.Detail {
	start := d.now()
	log := d.Log.With(logx.String("channel", ch.ID), logx.String("platform", string(ch.Platform)), logx.String("event", string(ev.Type())))
	dt := domain.Detail{ChannelID: ch.ID, Platform: ch.Platform}

	id := d.logPending(ctx, ch, ev, log)

	fail := func(reason string, err error) domain.Detail {
		dt.Error = err.Error()
		dt.Reason = reason
		kind := reason
		if reason == ReasonTransport {
			kind = transport.KindOf(err).String()
			dt.Reason = kind
		}
		d.settle(ctx, id, domain.DeliveryFailed, dt.Error, log)
		log.Warn("send failed", logx.String("reason", dt.Reason), logx.Err(err))
		d.publish(eventbus.TypeDeliveryFailed, eventbus.Delivery{
			ChannelID: ch.ID, Platform: string(ch.Platform), EventType: string(ev.Type()),
			ErrorKind: kind, Duration: d.now().Sub(start),
		})
		return dt
	}

	tr, err := d.Transports.Get(ch.Platform)
	if err != nil {
		return fail(ReasonTransport, err)
	}
	text, err := d.Renderer.Render(ctx, ev, ch.Platform)
	if err != nil {
		return fail(ReasonRender, err)
	}
	msg := transport.Message{Text: text, ImageRef: ev.Meta().ImageURL, ParseMode: ch.ParseMode}
	log.Trace("rendered", logx.Int("runes", utf8.RuneCountInString(text)), logx.String("image", msg.ImageRef))
	res, err := safeSend(ctx, tr, ch.Identifier, msg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			return fail(ReasonTimeout, err)
		}
		return fail(ReasonTransport, err)
	}

	dt.Success = true
	dt.MessageID = res.MessageID
	d.settle(ctx, id, domain.DeliverySent, "", log)
	log.Debug("sent", logx.String("message_id", res.MessageID), logx.Bool("image", msg.HasImage()))
	d.publish(eventbus.TypeDeliverySent, eventbus.Delivery{
		ChannelID: ch.ID, Platform: string(ch.Platform), EventType: string(ev.Type()), Duration: d.now().Sub(start),
	})
	return dt
}

// safeSend turns a transport panic into an error so the pending row is settled.
func safeSend(ctx context.Context, tr transport.ChannelTransport, to string, msg transport.Message) (res transport.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()
	return tr.Send(ctx, to, msg)
}

func (d *Dispatcher) logPending(ctx context.Context, ch domain.Channel, ev domain.Event, log logx.Logger) string {
	sctx, cancel := context.WithTimeout(storeContext(ctx), storeTimeout)
	defer cancel()
	id, err := d.Deliveries.CreateDelivery(sctx, domain.DeliveryLogEntry{
		EventType: ev.Type(),
		Platform:  ch.Platform,
		ChannelID: ch.ID,
		Payload:   ev.Vars(),
		Status:    domain.DeliveryPending,
		CreatedAt: d.now(),
	})
	if err != nil {
		log.Warn("delivery log write failed", logx.Err(err))
		return ""
	}
	return id
}

func (d *Dispatcher) settle(ctx context.Context, id string, status domain.DeliveryStatus, errMsg string, log logx.Logger) {
	if id == "" {
		return
	}
	sctx, cancel := context.WithTimeout(storeContext(ctx), storeTimeout)
	defer cancel()
	if err := d.Deliveries.MarkDelivery(sctx, id, status, errMsg, d.now()); err != nil {
		log.Warn("delivery log update failed", logx.String("delivery", id), logx.String("status", string(status)), logx.Err(err))
	}
}
