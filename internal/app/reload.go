package app

import (
	"context"
	"time"

	"promocast/internal/config"
	logx "promocast/pkg/logx"
)

// Sections that are only read at startup.
var restartSections = []string{"storage", "http", "nats", "retention"}

func (a *App) reloadLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-sub:
			if !ok {
				return nil
			}
			// Coalesce bursts to the newest config.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

// applyConfig brings live components in line with next.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	change := config.Diff(prev, next)
	if len(change.Sections) == 0 && !change.Credentials {
		a.log.Info("config reloaded (no changes)")
		return
	}

	if change.Has("logging") {
		a.logs.Apply(mapLogConfig(next))
	}
	if change.Credentials {
		a.creds.Invalidate()
	}
	if change.Has("telegram") || change.Has("whatsapp") || change.Has("webbridge") {
		a.buildTransports(next)
	}
	if change.Has("dispatch") || change.Has("logos") {
		a.buildDispatcher(next)
	}
	if change.Has("channels") || change.Has("templates") {
		seedCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := a.seed(seedCtx, next); err != nil {
			a.log.Warn("reseeding after reload failed", logx.Err(err))
		}
		cancel()
	}
	for _, s := range restartSections {
		if change.Has(s) {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}
	a.log.Info("config reloaded", change.Fields()...)
}
