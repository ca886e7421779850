package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	logx "promocast/pkg/logx"
)

type Config struct {
	URL     string
	Subject string
	// Queue shares the subject between replicas when set.
	Queue string
	// HandleTimeout bounds one dispatch; zero leaves the dispatcher deadline alone.
	HandleTimeout time.Duration
}

// Subscriber dispatches every message published on the subject.
// Messages are handled one at a time in arrival order.
type Subscriber struct {
	cfg  Config
	disp Dispatcher
	log  logx.Logger
}

func NewSubscriber(cfg Config, disp Dispatcher, log logx.Logger) *Subscriber {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Subscriber{cfg: cfg, disp: disp, log: log}
}

// Run connects, subscribes and blocks until ctx ends.
func (s *Subscriber) Run(ctx context.Context) error {
	nc, err := nats.Connect(s.cfg.URL,
		nats.Name("promocast"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.log.Warn("nats disconnected", logx.Err(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			s.log.Info("nats reconnected", logx.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	handler := func(msg *nats.Msg) {
		reply := s.Handle(ctx, msg.Data)
		if msg.Reply == "" {
			return
		}
		b, _ := json.Marshal(reply)
		if err := msg.Respond(b); err != nil {
			s.log.Warn("nats reply failed", logx.Err(err))
		}
	}
	var sub *nats.Subscription
	if s.cfg.Queue != "" {
		sub, err = nc.QueueSubscribe(s.cfg.Subject, s.cfg.Queue, handler)
	} else {
		sub, err = nc.Subscribe(s.cfg.Subject, handler)
	}
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", s.cfg.Subject, err)
	}
	s.log.Info("nats intake listening", logx.String("subject", s.cfg.Subject), logx.String("queue", s.cfg.Queue))

	<-ctx.Done()
	if err := sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		s.log.Warn("nats drain failed", logx.Err(err))
	}
	return nil
}

// Handle decodes and dispatches one message body.
func (s *Subscriber) Handle(ctx context.Context, data []byte) Reply {
	ev, opts, err := Decode(data)
	if err != nil {
		s.log.Warn("dropping undecodable event", logx.Err(err), logx.Int("bytes", len(data)))
		return Reply{Error: err.Error()}
	}
	if s.cfg.HandleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.HandleTimeout)
		defer cancel()
	}
	res, err := s.disp.Dispatch(ctx, ev, opts)
	if err != nil {
		s.log.Error("dispatch failed", logx.String("event", string(ev.Type())), logx.String("entity", ev.Entity().ID), logx.Err(err))
		return Reply{Error: err.Error()}
	}
	return Reply{Result: &res}
}
