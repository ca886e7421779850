// Package credentials holds the transport credential set shared by every send.
//
// The set is loaded lazily and cached copy-on-write: readers never lock, and
// Invalidate drops the cached value so the next Get reloads it.
package credentials

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

var ErrNoLoader = errors.New("credentials loader is nil")

type TelegramCreds struct {
	Token string
}

type WhatsAppCreds struct {
	Token         string
	PhoneNumberID string
}

type WebBridgeCreds struct {
	Token string
}

// Set is an immutable snapshot. Never modify a Set returned by Get.
type Set struct {
	Telegram  TelegramCreds
	WhatsApp  WhatsAppCreds
	WebBridge WebBridgeCreds
}

// Loader produces a fresh Set, typically from config plus environment.
type Loader func(ctx context.Context) (Set, error)

// Source is what transports depend on.
type Source interface {
	Get(ctx context.Context) (Set, error)
}

type entry struct {
	set Set
	gen uint64
}

// Cache is constructed once per process and passed by reference.
type Cache struct {
	load Loader

	cur atomic.Pointer[entry]
	gen atomic.Uint64

	// loadMu serializes reloads; the fast path never takes it.
	loadMu sync.Mutex
}

func NewCache(load Loader) *Cache {
	return &Cache{load: load}
}

// Get returns the cached set, loading it on first use or after Invalidate.
func (c *Cache) Get(ctx context.Context) (Set, error) {
	if e := c.cur.Load(); e != nil {
		return e.set, nil
	}
	if c.load == nil {
		return Set{}, ErrNoLoader
	}

	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	if e := c.cur.Load(); e != nil {
		return e.set, nil
	}
	gen := c.gen.Load()
	set, err := c.load(ctx)
	if err != nil {
		return Set{}, err
	}
	// An Invalidate that raced with the load wins; the caller still gets
	// the value it asked for, but it is not cached.
	if c.gen.Load() == gen {
		c.cur.Store(&entry{set: set, gen: gen})
	}
	return set, nil
}

// Invalidate clears the cache. Safe to call from any goroutine.
func (c *Cache) Invalidate() {
	c.gen.Add(1)
	c.cur.Store(nil)
}

// Generation increases on every Invalidate.
func (c *Cache) Generation() uint64 { return c.gen.Load() }

// Static returns a Source that always yields set.
func Static(set Set) Source { return staticSource(set) }

type staticSource Set

func (s staticSource) Get(context.Context) (Set, error) { return Set(s), nil }

// Environment variables that override configured credentials.
const (
	EnvTelegramToken         = "PROMOCAST_TELEGRAM_TOKEN"
	EnvWhatsAppToken         = "PROMOCAST_WHATSAPP_TOKEN"
	EnvWhatsAppPhoneNumberID = "PROMOCAST_WHATSAPP_PHONE_NUMBER_ID"
	EnvWebBridgeToken        = "PROMOCAST_WEBBRIDGE_TOKEN"
)

// WithEnv overlays non-empty PROMOCAST_* variables on base.
func WithEnv(base Set) Set {
	overlay := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	overlay(&base.Telegram.Token, EnvTelegramToken)
	overlay(&base.WhatsApp.Token, EnvWhatsAppToken)
	overlay(&base.WhatsApp.PhoneNumberID, EnvWhatsAppPhoneNumberID)
	overlay(&base.WebBridge.Token, EnvWebBridgeToken)
	return base
}
