package config

import "time"

// Defaults applied by the accessors below when a field is empty.
const (
	DefaultDispatchTimeout  = 2 * time.Minute
	DefaultHTTPAddr         = "127.0.0.1:8088"
	DefaultNATSSubject      = "promocast.events"
	DefaultRetentionCron    = "17 3 * * *"
	DefaultLedgerMaxAge     = 30 * 24 * time.Hour
	DefaultDeliveryMaxAge   = 90 * 24 * time.Hour
	DefaultStorageDriver    = "sqlite"
	DefaultStoragePath      = "./promocast.db"
	DefaultFileStorePath    = "./promocast_store"
	defaultWhatsAppOpenerIn = 3 * time.Second
)

// Durations below were checked by Validate; a malformed value falls back to the default.

func (d DispatchConfig) TimeoutOrDefault() time.Duration {
	v, _ := ParseDurationOrDefault("dispatch.timeout", d.Timeout, DefaultDispatchTimeout)
	return v
}

func (d DispatchConfig) Location() *time.Location {
	if d.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (s StorageConfig) DriverOrDefault() string {
	if s.Driver == "" {
		return DefaultStorageDriver
	}
	return s.Driver
}

func (s StorageConfig) PathOrDefault() string {
	if s.Path != "" {
		return s.Path
	}
	switch s.DriverOrDefault() {
	case "sqlite":
		return DefaultStoragePath
	case "file":
		return DefaultFileStorePath
	}
	return ""
}

func (t TelegramConfig) Durations() (timeout, download time.Duration) {
	timeout, _ = ParseDurationField("telegram.timeout", t.Timeout)
	download, _ = ParseDurationField("telegram.download_timeout", t.DownloadTimeout)
	return timeout, download
}

func (w WhatsAppConfig) Durations() (timeout, openerDelay time.Duration) {
	timeout, _ = ParseDurationField("whatsapp.timeout", w.Timeout)
	openerDelay, _ = ParseDurationOrDefault("whatsapp.opener_delay", w.OpenerDelay, defaultWhatsAppOpenerIn)
	return timeout, openerDelay
}

func (w WebBridgeConfig) TimeoutOrZero() time.Duration {
	v, _ := ParseDurationField("webbridge.timeout", w.Timeout)
	return v
}

func (h HTTPConfig) AddrOrDefault() string {
	if h.Addr == "" {
		return DefaultHTTPAddr
	}
	return h.Addr
}

func (n NATSConfig) SubjectOrDefault() string {
	if n.Subject == "" {
		return DefaultNATSSubject
	}
	return n.Subject
}

func (r RetentionConfig) ScheduleOrDefault() string {
	if r.Schedule == "" {
		return DefaultRetentionCron
	}
	return r.Schedule
}

func (r RetentionConfig) MaxAges() (ledger, deliveries time.Duration) {
	ledger, _ = ParseDurationOrDefault("retention.ledger_max_age", r.LedgerMaxAge, DefaultLedgerMaxAge)
	deliveries, _ = ParseDurationOrDefault("retention.delivery_max_age", r.DeliveryMaxAge, DefaultDeliveryMaxAge)
	return ledger, deliveries
}
