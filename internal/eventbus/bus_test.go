package eventbus

import (
	"sync"
	"testing"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()

	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: TypeDeliverySent, Data: Delivery{ChannelID: "x"}})
	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Type != TypeDeliverySent || e.Time.IsZero() {
			t.Fatalf("event=%+v", e)
		}
		if d, ok := e.Data.(Delivery); !ok || d.ChannelID != "x" {
			t.Fatalf("data=%+v", e.Data)
		}
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatalf("channel should be closed after unsubscribe")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: TypeDispatchDone})
	}
	if got := b.Dropped(); got != 4 {
		t.Fatalf("dropped=%d want 4", got)
	}
}

func TestConcurrentUnsubscribe(t *testing.T) {
	t.Parallel()

	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		_, unsub := b.Subscribe(1)
		wg.Add(2)
		go func() { defer wg.Done(); unsub() }()
		go func() { defer wg.Done(); b.Publish(Event{Type: TypeDeliveryFailed}) }()
	}
	wg.Wait()
}
