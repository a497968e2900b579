package director

import (
	"sync"
	"sync/atomic"

	"github.com/talgya/swarm-director/internal/focus"
)

// Kind classifies an event.
type Kind string

const (
	KindWaveStarted   Kind = "wave_started"
	KindMilestone     Kind = "milestone"
	KindSpawn         Kind = "spawn"
	KindDespawn       Kind = "despawn"
	KindTargetAdded   Kind = "target_added"
	KindTargetRemoved Kind = "target_removed"
	KindBalance       Kind = "balance"
	KindOverride      Kind = "override"
	KindRevert        Kind = "revert"
	KindReward        Kind = "reward"
)

// Event is a notable occurrence in a session.
type Event struct {
	Tick   uint64         `json:"tick"`
	Kind   Kind           `json:"kind"`
	Wave   uint32         `json:"wave,omitempty"`
	Agent  focus.AgentID  `json:"agent,omitempty"`
	Target focus.TargetID `json:"target,omitempty"`
	Count  int            `json:"count,omitempty"`
	Detail string         `json:"detail,omitempty"`
}

// Subscription receives published events on C until it is cancelled.
type Subscription struct {
	C       <-chan Event
	ch      chan Event
	dropped atomic.Uint64
}

// Dropped returns how many events were discarded because C was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Bus fans events out to subscribers. Publishing never blocks: a subscriber
// that falls behind loses events rather than stalling the tick.
type Bus struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a subscriber with the given channel buffer.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes the subscriber and closes its channel. Safe to call twice.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}

// Publish delivers e to every subscriber that has room.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
