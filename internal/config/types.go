package config

import (
	"promocast/internal/domain"
)

// Config is the whole process configuration. Unknown keys are rejected.
//
// Durations are Go duration strings ("500ms", "30s", "2m"); empty means default.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Telegram  TelegramConfig  `json:"telegram"`
	WhatsApp  WhatsAppConfig  `json:"whatsapp"`
	WebBridge WebBridgeConfig `json:"webbridge"`
	HTTP      HTTPConfig      `json:"http"`
	NATS      NATSConfig      `json:"nats"`
	Retention RetentionConfig `json:"retention"`
	Logos     LogosConfig     `json:"logos"`

	// Channels and Templates are upserted into the store at startup.
	Channels  []domain.Channel `json:"channels,omitempty"`
	Templates []TemplateSeed   `json:"templates,omitempty" validate:"dive"`
}

type LoggingConfig struct {
	Level   string        `json:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" validate:"required_if=Enabled true"`
}

// LoggingAlerts forwards WARN+ records to a telegram chat through the bot token.
type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	ChatID     string `json:"chat_id" validate:"required_if=Enabled true"`
	MinLevel   string `json:"min_level" validate:"omitempty,oneof=warn error"`
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0"`
}

// StorageConfig selects the store driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./promocast.db" }
type StorageConfig struct {
	Driver string `json:"driver" validate:"omitempty,oneof=sqlite mysql file memory none"`
	Path   string `json:"path"`
	// DSN is the go-sql-driver/mysql data source name.
	DSN         string `json:"dsn" validate:"required_if=Driver mysql"`
	BusyTimeout string `json:"busy_timeout,omitempty" validate:"omitempty,godur"`

	MaxOpenConns    int    `json:"max_open_conns,omitempty" validate:"gte=0"`
	ConnMaxLifetime string `json:"conn_max_lifetime,omitempty" validate:"omitempty,godur"`
}

// DispatchConfig tunes the worker pool. Defaults: 4 workers, 2m deadline.
type DispatchConfig struct {
	Workers int    `json:"workers" validate:"gte=0,lte=64"`
	Timeout string `json:"timeout" validate:"omitempty,godur"`
	// Timezone of the channel schedule windows (IANA name, default local).
	Timezone string `json:"timezone" validate:"omitempty,timezone"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied through PROMOCAST_TELEGRAM_TOKEN.
	Token            string `json:"token"`
	APIURL           string `json:"api_url" validate:"omitempty,url"`
	Timeout          string `json:"timeout" validate:"omitempty,godur"`
	DownloadTimeout  string `json:"download_timeout" validate:"omitempty,godur"`
	DownloadAttempts uint   `json:"download_attempts"`
	RatePerSec       int    `json:"rate_per_sec" validate:"gte=0"`
	ParseMode        string `json:"parse_mode" validate:"omitempty,oneof=HTML Markdown MarkdownV2"`
}

type WhatsAppConfig struct {
	Token         string `json:"token"`
	PhoneNumberID string `json:"phone_number_id"`
	BaseURL       string `json:"base_url" validate:"omitempty,url"`
	APIVersion    string `json:"api_version"`
	Timeout       string `json:"timeout" validate:"omitempty,godur"`
	RatePerSec    int    `json:"rate_per_sec" validate:"gte=0"`
	// OpenerTemplate is the approved template sent when the 24h window is closed.
	OpenerTemplate string `json:"opener_template"`
	OpenerLanguage string `json:"opener_language"`
	OpenerDelay    string `json:"opener_delay" validate:"omitempty,godur"`
}

type WebBridgeConfig struct {
	URL        string `json:"url" validate:"omitempty,url"`
	Token      string `json:"token"`
	Timeout    string `json:"timeout" validate:"omitempty,godur"`
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr" validate:"omitempty,hostname_port"`
	// Pprof mounts the runtime profiler under /debug.
	Pprof bool `json:"pprof"`
}

type NATSConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url" validate:"required_if=Enabled true"`
	Subject string `json:"subject"`
	// Queue is the optional queue group so replicas share the subject.
	Queue string `json:"queue"`
}

// RetentionConfig prunes ledger and delivery rows on a cron schedule.
type RetentionConfig struct {
	Enabled        bool   `json:"enabled"`
	Schedule       string `json:"schedule" validate:"omitempty,cronspec"`
	LedgerMaxAge   string `json:"ledger_max_age" validate:"omitempty,godur"`
	DeliveryMaxAge string `json:"delivery_max_age" validate:"omitempty,godur"`
}

type LogosConfig struct {
	Dir string `json:"dir"`
}

// TemplateSeed is a message template loaded into the store at startup.
type TemplateSeed struct {
	Kind     string `json:"kind" validate:"required"`
	Platform string `json:"platform" validate:"required,oneof=telegram whatsapp whatsapp_web"`
	Body     string `json:"body" validate:"required"`
	// Active defaults to true.
	Active *bool `json:"active,omitempty"`
}

func (t TemplateSeed) IsActive() bool { return t.Active == nil || *t.Active }
