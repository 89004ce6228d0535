// Package events carries lifecycle and ledger notifications to
// subscribers over plain channels. Producers publish typed values;
// consumers drain their subscription channel. There is no dynamic
// listener registry and publishing never blocks the producer.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lazypower/amnesiad/internal/model"
)

// Type names an event kind.
type Type string

const (
	TransactionAdded   Type = "transaction-added"
	BlockAdded         Type = "block-added"
	RecordArchived     Type = "record-archived"
	RecordPromoted     Type = "record-promoted"
	RecordForgotten    Type = "record-forgotten"
	DifficultyAdjusted Type = "difficulty-adjusted"
	MemoryPressure     Type = "memory-pressure"
)

// Event is a single notification. Exactly one payload field is set,
// matching Type, so consumers can render without a follow-up fetch.
type Event struct {
	Type        Type               `json:"type"`
	Time        time.Time          `json:"time"`
	Transaction *model.Transaction `json:"transaction,omitempty"`
	Block       *model.Block       `json:"block,omitempty"`
	Record      *model.Record      `json:"record,omitempty"`
	Difficulty  *DifficultyChange  `json:"difficulty,omitempty"`
	Pressure    *PressureReport    `json:"pressure,omitempty"`
}

// DifficultyChange reports a consensus difficulty adjustment.
type DifficultyChange struct {
	Old int `json:"old"`
	New int `json:"new"`
}

// PressureReport reports an emergency eviction pass.
type PressureReport struct {
	Usage    float64 `json:"usage"`
	Archived int     `json:"archived"`
}

// DefaultBuffer is the per-subscriber channel depth.
const DefaultBuffer = 64

// Bus fans events out to all current subscribers. A subscriber that
// stops draining loses events once its buffer fills; it never stalls
// the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	buffer int
	closed bool
}

// NewBus returns a Bus with the given per-subscriber buffer depth
// (DefaultBuffer when <= 0).
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{
		subs:   make(map[chan Event]struct{}),
		buffer: buffer,
	}
}

// Subscribe returns a channel of events and a cancel function. The
// channel is closed on cancel or bus close.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber that has buffer space.
func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			log.Debug().Str("event", string(ev.Type)).Msg("dropping event for slow subscriber")
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
