// Package app wires configuration, storage, transports and the dispatcher into
// one process and keeps them in step with config reloads.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"promocast/internal/config"
	"promocast/internal/credentials"
	"promocast/internal/dedup"
	"promocast/internal/dispatch"
	"promocast/internal/domain"
	"promocast/internal/eventbus"
	"promocast/internal/httpapi"
	"promocast/internal/intake"
	"promocast/internal/metrics"
	"promocast/internal/render"
	"promocast/internal/retention"
	"promocast/internal/runtime/supervisor"
	"promocast/internal/segment"
	"promocast/internal/storage"
	"promocast/internal/transport"
	"promocast/internal/transport/telegram"
	"promocast/internal/transport/webbridge"
	"promocast/internal/transport/whatsapp"
	logx "promocast/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	store      storage.Store
	bus        *eventbus.MemBus
	creds      *credentials.Cache
	transports *transport.Registry
	guard      *dedup.Guard
	renderer   *render.Renderer
	metrics    *metrics.Metrics

	// Swapped on reload; readers never see a half-built value.
	disp     atomic.Pointer[dispatch.Dispatcher]
	alertBot atomic.Pointer[telegram.Transport]

	sup *supervisor.Supervisor
}

// New loads the config at cfgPath and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, root := logx.New(mapLogConfig(cfg))
	a := &App{cfgm: cfgm, logs: logs, log: root.With(logx.String("comp", "app"))}
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	store, err := storage.Open(mapStorageConfig(cfg), root.With(logx.String("comp", "storage")))
	switch {
	case errors.Is(err, storage.ErrDisabled):
		a.log.Warn("storage disabled; using an in-memory store, nothing survives a restart")
		store = storage.NewMemory()
	case err != nil:
		_ = logs.Close()
		return nil, err
	}
	a.store = store
	a.bus = eventbus.New()
	a.creds = credentials.NewCache(credentialLoader(cfgm))
	a.transports = transport.NewRegistry()
	a.guard = dedup.New(store, root.With(logx.String("comp", "dedup")))
	a.renderer = render.New(store)
	a.metrics = metrics.New(nil)
	a.metrics.WatchBusDrops(a.bus)

	a.buildTransports(cfg)
	a.buildDispatcher(cfg)
	logs.SetAlertSender(alertSender{a: a})

	seedCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.seed(seedCtx, cfg); err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}
	a.log.Info("promocast ready",
		logx.String("config", cfgPath),
		logx.String("storage", mapStorageConfig(cfg).Driver),
		logx.Int("channels", len(cfg.Channels)),
		logx.Int("templates", len(cfg.Templates)),
	)
	return a, nil
}

func (a *App) buildTransports(cfg *config.Config) {
	tg := telegram.New(mapTelegramConfig(cfg), a.creds, a.log.With(logx.String("comp", "telegram")))
	a.transports.Register(tg)
	a.alertBot.Store(tg)
	a.transports.Register(whatsapp.New(mapWhatsAppConfig(cfg), a.creds, a.log.With(logx.String("comp", "whatsapp"))))
	a.transports.Register(webbridge.New(mapWebBridgeConfig(cfg), a.creds, a.log.With(logx.String("comp", "webbridge"))))
}

func (a *App) buildDispatcher(cfg *config.Config) {
	segLog := a.log.With(logx.String("comp", "segment"))
	d := dispatch.New(mapDispatchConfig(cfg), dispatch.Deps{
		Channels:   a.store,
		Deliveries: a.store,
		Guard:      a.guard,
		Filter:     segment.New(segLog, segment.WithLocation(cfg.Dispatch.Location())),
		Renderer:   a.renderer,
		Transports: a.transports,
		Bus:        a.bus,
		Log:        a.log.With(logx.String("comp", "dispatch")),
	})
	a.disp.Store(d)
}

// Dispatch runs one event through the current dispatcher.
func (a *App) Dispatch(ctx context.Context, ev domain.Event, opts dispatch.Options) (domain.DispatchResult, error) {
	return a.disp.Load().Dispatch(ctx, ev, opts)
}

// Start launches the surfaces and background loops under one supervisor.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	cfg := a.cfgm.Get()
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)

	a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)
	a.sup.Go("config.reload", a.reloadLoop)
	a.sup.Go("metrics", func(c context.Context) error { return a.metrics.Run(c, a.bus) })
	a.sup.Go("eventbus.log", a.logEvents)

	if cfg.HTTP.Enabled {
		srv := httpapi.New(cfg.HTTP.AddrOrDefault(), httpapi.Deps{
			Dispatcher:  a,
			Stats:       a.store,
			Credentials: a.creds,
			Metrics:     a.metrics,
			Log:         a.log.With(logx.String("comp", "http")),
			Pprof:       cfg.HTTP.Pprof,
		})
		a.sup.Go("http", srv.Run)
	}
	if cfg.NATS.Enabled {
		sub := intake.NewSubscriber(intake.Config{
			URL:     cfg.NATS.URL,
			Subject: cfg.NATS.SubjectOrDefault(),
			Queue:   cfg.NATS.Queue,
		}, a, a.log.With(logx.String("comp", "nats")))
		a.sup.GoRestart("nats.intake", sub.Run, time.Second, time.Minute)
	}
	if cfg.Retention.Enabled {
		job, err := retention.New(mapRetentionConfig(cfg), a.store, a.log.With(logx.String("comp", "retention")))
		if err != nil {
			return err
		}
		a.sup.Go("retention", job.Run)
	}

	a.log.Info("app started",
		logx.Bool("http", cfg.HTTP.Enabled),
		logx.Bool("nats", cfg.NATS.Enabled),
		logx.Bool("retention", cfg.Retention.Enabled),
	)
	return nil
}

// Done is closed when the app stops on its own (fatal loop error) or ctx ends.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Done()
}

// Err is the error that stopped the app, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Stop drains the background loops and closes storage and logging.
func (a *App) Stop(ctx context.Context) error {
	var errs []error
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	a.log.Info("app stopped")
	if err := a.logs.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close logs: %w", err))
	}
	return errors.Join(errs...)
}

func (a *App) logEvents(ctx context.Context) error {
	events, unsubscribe := a.bus.Subscribe(128)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if d, ok := e.Data.(eventbus.Delivery); ok {
				a.log.Debug("delivery event", logx.String("type", e.Type), logx.String("channel", d.ChannelID),
					logx.String("platform", d.Platform), logx.String("kind", d.ErrorKind), logx.String("reason", d.Reason))
			}
		}
	}
}
