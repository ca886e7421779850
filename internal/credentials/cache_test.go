package credentials

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestCacheLoadsOnceUntilInvalidated(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	token := "t1"
	var mu sync.Mutex
	c := NewCache(func(context.Context) (Set, error) {
		calls.Add(1)
		mu.Lock()
		defer mu.Unlock()
		return Set{Telegram: TelegramCreds{Token: token}}, nil
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s, err := c.Get(ctx); err != nil || s.Telegram.Token != "t1" {
				t.Errorf("Get=(%+v,%v)", s, err)
			}
		}()
	}
	wg.Wait()
	if n := calls.Load(); n != 1 {
		t.Fatalf("loader calls=%d want 1", n)
	}

	mu.Lock()
	token = "t2"
	mu.Unlock()
	if s, _ := c.Get(ctx); s.Telegram.Token != "t1" {
		t.Fatalf("cache should still hold the old token")
	}
	c.Invalidate()
	if c.Generation() != 1 {
		t.Fatalf("generation=%d", c.Generation())
	}
	if s, _ := c.Get(ctx); s.Telegram.Token != "t2" {
		t.Fatalf("token after invalidate=%q", s.Telegram.Token)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("loader calls=%d want 2", n)
	}
}

func TestCacheErrorsAreNotCached(t *testing.T) {
	t.Parallel()

	fail := true
	c := NewCache(func(context.Context) (Set, error) {
		if fail {
			return Set{}, errors.New("vault unavailable")
		}
		return Set{WhatsApp: WhatsAppCreds{Token: "w"}}, nil
	})
	if _, err := c.Get(context.Background()); err == nil {
		t.Fatalf("expected loader error")
	}
	fail = false
	if s, err := c.Get(context.Background()); err != nil || s.WhatsApp.Token != "w" {
		t.Fatalf("Get=(%+v,%v)", s, err)
	}
	if _, err := NewCache(nil).Get(context.Background()); !errors.Is(err, ErrNoLoader) {
		t.Fatalf("nil loader err=%v", err)
	}
}

func TestWithEnv(t *testing.T) {
	t.Setenv(EnvTelegramToken, "from-env")
	t.Setenv(EnvWhatsAppPhoneNumberID, "")

	got := WithEnv(Set{
		Telegram: TelegramCreds{Token: "from-config"},
		WhatsApp: WhatsAppCreds{PhoneNumberID: "123"},
	})
	if got.Telegram.Token != "from-env" {
		t.Fatalf("telegram token=%q", got.Telegram.Token)
	}
	if got.WhatsApp.PhoneNumberID != "123" {
		t.Fatalf("empty env must not override: %q", got.WhatsApp.PhoneNumberID)
	}
}
