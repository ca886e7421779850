package config

import (
	"reflect"

	logx "promocast/pkg/logx"
)

// Change summarizes a reload. It never carries secrets.
type Change struct {
	Sections []string
	// Credentials is set when any token or phone number id changed.
	Credentials bool
}

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// Fields renders the change for structured logs.
func (c Change) Fields() []logx.Field {
	return []logx.Field{logx.Strs("sections", c.Sections), logx.Bool("credentials", c.Credentials)}
}

// Diff compares two configs section by section.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	sections := []struct {
		name     string
		old, new any
	}{
		{"logging", oldCfg.Logging, newCfg.Logging},
		{"storage", oldCfg.Storage, newCfg.Storage},
		{"dispatch", oldCfg.Dispatch, newCfg.Dispatch},
		{"telegram", withoutSecret(oldCfg.Telegram), withoutSecret(newCfg.Telegram)},
		{"whatsapp", withoutSecrets(oldCfg.WhatsApp), withoutSecrets(newCfg.WhatsApp)},
		{"webbridge", withoutToken(oldCfg.WebBridge), withoutToken(newCfg.WebBridge)},
		{"http", oldCfg.HTTP, newCfg.HTTP},
		{"nats", oldCfg.NATS, newCfg.NATS},
		{"retention", oldCfg.Retention, newCfg.Retention},
		{"logos", oldCfg.Logos, newCfg.Logos},
		{"channels", oldCfg.Channels, newCfg.Channels},
		{"templates", oldCfg.Templates, newCfg.Templates},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			ch.Sections = append(ch.Sections, s.name)
		}
	}
	ch.Credentials = oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		oldCfg.WhatsApp.Token != newCfg.WhatsApp.Token ||
		oldCfg.WhatsApp.PhoneNumberID != newCfg.WhatsApp.PhoneNumberID ||
		oldCfg.WebBridge.Token != newCfg.WebBridge.Token
	return ch
}

func withoutSecret(t TelegramConfig) TelegramConfig {
	t.Token = ""
	return t
}

func withoutSecrets(w WhatsAppConfig) WhatsAppConfig {
	w.Token = ""
	w.PhoneNumberID = ""
	return w
}

func withoutToken(w WebBridgeConfig) WebBridgeConfig {
	w.Token = ""
	return w
}
