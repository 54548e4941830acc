// Package events is the in-process pub/sub layer connecting the trader to
// the API's websocket stream and other observers.
package events

import (
	"sync"
)

// Bus fans events out to channel subscribers. Publishing never blocks;
// slow subscribers lose events rather than stalling the trading path.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]chan any
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]chan any)}
}

// Subscribe registers a listener for a topic. The returned func removes the
// subscription and closes the channel.
func (b *Bus) Subscribe(t Topic, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.subs[t] = append(b.subs[t], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[t]
		for i, c := range subs {
			if c == ch {
				close(c)
				b.subs[t] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}

	return ch, unsub
}

// Publish delivers payload to every subscriber of the topic.
func (b *Bus) Publish(t Topic, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[t] {
		select {
		case ch <- payload:
		default:
			// drop for slow subscribers
		}
	}
}
