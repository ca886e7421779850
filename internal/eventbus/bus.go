// Package eventbus fans dispatch outcomes out to in-process observers
// (metrics, logs) without coupling them to the dispatcher.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the dispatcher.
const (
	TypeDeliverySent    = "delivery.sent"
	TypeDeliveryFailed  = "delivery.failed"
	TypeDeliverySkipped = "delivery.skipped"
	TypeDispatchDone    = "dispatch.done"
)

// Event is a lightweight in-memory signal.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers use buffered channels; slow subscribers drop events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Delivery is the Data of the delivery.* events.
type Delivery struct {
	ChannelID string
	Platform  string
	EventType string
	// ErrorKind is the transport error kind for failures ("" otherwise).
	ErrorKind string
	Reason    string
	Duration  time.Duration
}

// Dispatch is the Data of dispatch.done.
type Dispatch struct {
	EventType string
	Manual    bool
	Total     int
	Sent      int
	Failed    int
	Skipped   int
	Filtered  int
	Duration  time.Duration
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() *MemBus {
	return &MemBus{subs: map[uint64]chan Event{}}
}

type MemBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *MemBus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot so no lock is held while sending.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close ch under us.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
				b.dropped.Add(1)
			}
		}()
	}
}

func (b *MemBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Dropped counts events lost to full subscriber buffers.
func (b *MemBus) Dropped() uint64 { return b.dropped.Load() }
