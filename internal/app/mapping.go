package app

import (
	"context"
	"strings"
	"time"

	"promocast/internal/config"
	"promocast/internal/credentials"
	"promocast/internal/dispatch"
	"promocast/internal/retention"
	"promocast/internal/storage"
	"promocast/internal/transport/telegram"
	"promocast/internal/transport/webbridge"
	"promocast/internal/transport/whatsapp"
	logx "promocast/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alerts: logx.AlertConfig{
			Enabled:    cfg.Logging.Alerts.Enabled && strings.TrimSpace(cfg.Logging.Alerts.ChatID) != "",
			MinLevel:   cfg.Logging.Alerts.MinLevel,
			RatePerSec: cfg.Logging.Alerts.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	sc := cfg.Storage
	busy, _ := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	life, _ := config.ParseDurationField("storage.conn_max_lifetime", sc.ConnMaxLifetime)
	return storage.Config{
		Driver:          sc.DriverOrDefault(),
		Path:            sc.PathOrDefault(),
		DSN:             sc.DSN,
		BusyTimeout:     busy,
		MaxOpenConns:    sc.MaxOpenConns,
		ConnMaxLifetime: life,
	}
}

// credentialLoader reads the committed config on every cache miss, so an
// Invalidate after a reload picks up new tokens.
func credentialLoader(cfgm *config.Manager) credentials.Loader {
	return func(context.Context) (credentials.Set, error) {
		cfg := cfgm.Get()
		var set credentials.Set
		if cfg != nil {
			set.Telegram.Token = cfg.Telegram.Token
			set.WhatsApp.Token = cfg.WhatsApp.Token
			set.WhatsApp.PhoneNumberID = cfg.WhatsApp.PhoneNumberID
			set.WebBridge.Token = cfg.WebBridge.Token
		}
		return credentials.WithEnv(set), nil
	}
}

func mapTelegramConfig(cfg *config.Config) telegram.Config {
	timeout, download := cfg.Telegram.Durations()
	return telegram.Config{
		APIURL:           cfg.Telegram.APIURL,
		Timeout:          timeout,
		DownloadTimeout:  download,
		DownloadAttempts: cfg.Telegram.DownloadAttempts,
		RatePerSec:       cfg.Telegram.RatePerSec,
		DefaultParseMode: cfg.Telegram.ParseMode,
	}
}

func mapWhatsAppConfig(cfg *config.Config) whatsapp.Config {
	timeout, opener := cfg.WhatsApp.Durations()
	return whatsapp.Config{
		BaseURL:        cfg.WhatsApp.BaseURL,
		APIVersion:     cfg.WhatsApp.APIVersion,
		Timeout:        timeout,
		OpenerTemplate: cfg.WhatsApp.OpenerTemplate,
		OpenerLanguage: cfg.WhatsApp.OpenerLanguage,
		OpenerDelay:    opener,
		RatePerSec:     cfg.WhatsApp.RatePerSec,
	}
}

func mapWebBridgeConfig(cfg *config.Config) webbridge.Config {
	return webbridge.Config{
		BaseURL:    cfg.WebBridge.URL,
		Timeout:    cfg.WebBridge.TimeoutOrZero(),
		RatePerSec: cfg.WebBridge.RatePerSec,
	}
}

func mapDispatchConfig(cfg *config.Config) dispatch.Config {
	return dispatch.Config{
		Workers:  cfg.Dispatch.Workers,
		Timeout:  cfg.Dispatch.TimeoutOrDefault(),
		LogosDir: cfg.Logos.Dir,
	}
}

func mapRetentionConfig(cfg *config.Config) retention.Config {
	ledger, deliveries := cfg.Retention.MaxAges()
	return retention.Config{
		Schedule:       cfg.Retention.ScheduleOrDefault(),
		LedgerMaxAge:   ledger,
		DeliveryMaxAge: deliveries,
		Location:       cfg.Dispatch.Location(),
	}
}
