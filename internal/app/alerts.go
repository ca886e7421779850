package app

import (
	"context"
	"errors"
	"strings"

	"promocast/internal/transport"
)

// alertSender forwards log alerts to the configured operator chat through
// the current telegram transport.
type alertSender struct{ a *App }

func (s alertSender) SendAlert(ctx context.Context, text string) error {
	cfg := s.a.cfgm.Get()
	if cfg == nil {
		return nil
	}
	chat := strings.TrimSpace(cfg.Logging.Alerts.ChatID)
	if chat == "" {
		return nil
	}
	bot := s.a.alertBot.Load()
	if bot == nil {
		return errors.New("telegram transport not ready")
	}
	_, err := bot.Send(ctx, chat, transport.Message{Text: transport.Clip(text, transport.TelegramTextLimit)})
	return err
}
