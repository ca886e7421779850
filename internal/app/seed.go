package app

import (
	"context"
	"fmt"
	"time"

	"promocast/internal/config"
	"promocast/internal/domain"
	"promocast/internal/storage"
	logx "promocast/pkg/logx"
)

// seed upserts the channels and templates declared in the config. Rows that
// exist only in the store are left alone.
func (a *App) seed(ctx context.Context, cfg *config.Config) error {
	for _, ch := range cfg.Channels {
		if ch.LegacyFlagConflict() {
			a.log.Warn("channel sets both only_coupons and no_coupons; only_coupons wins", logx.String("channel", ch.Label()))
		}
		if err := a.store.UpsertChannel(ctx, ch); err != nil {
			return fmt.Errorf("seed channel %s: %w", ch.ID, err)
		}
	}
	now := time.Now()
	for _, t := range cfg.Templates {
		err := a.store.UpsertTemplate(ctx, storage.Template{
			Kind:      t.Kind,
			Platform:  domain.Platform(t.Platform),
			Body:      t.Body,
			Active:    t.IsActive(),
			UpdatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("seed template %s/%s: %w", t.Kind, t.Platform, err)
		}
	}
	if len(cfg.Channels)+len(cfg.Templates) > 0 {
		a.log.Debug("seeded store", logx.Int("channels", len(cfg.Channels)), logx.Int("templates", len(cfg.Templates)))
	}
	return nil
}
