// Package eventbus is an in-process fanout for pipeline events
// (deliveries, commits, ticks, config reloads).
package eventbus

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the pipeline.
const (
	DeliverySent   = "delivery.sent"
	DeliveryFailed = "delivery.failed"
	ItemCommitted  = "item.committed"
	TickCompleted  = "tick.completed"
	ConfigReloaded = "config.reloaded"
)

// Event is a small signal. Publish never blocks; a subscriber whose buffer
// is full misses the event and the bus counts it as dropped.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Delivery is the payload of DeliverySent and DeliveryFailed.
type Delivery struct {
	URL      string `json:"url"`
	Channel  string `json:"channel"`
	Attempts int    `json:"attempts"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// Commit is the payload of ItemCommitted.
type Commit struct {
	URL    string `json:"url"`
	Source string `json:"source"`
	RunID  string `json:"run_id"`
}

type Bus interface {
	Publish(e Event)
	// Subscribe receives every event, or only the listed types when given.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch    chan Event
	types []string
}

func (s *sub) wants(t string) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*sub
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	targets := make([]*sub, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Type) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		b.offer(s.ch, e)
	}
}

// offer recovers from a send racing an unsubscribe's close.
func (b *memBus) offer(ch chan Event, e Event) {
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
		b.dropped.Add(1)
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	s := &sub{ch: make(chan Event, buffer), types: slices.Clone(types)}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
