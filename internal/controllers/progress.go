package controllers

import (
	"sync"

	"github.com/jabook/bookcache/internal/models"
)

// ProgressBroadcaster fans sync progress snapshots out to any number of
// subscribers. Publishing never blocks: a subscriber that stops draining its
// channel simply misses snapshots.
type ProgressBroadcaster struct {
	mu   sync.Mutex
	subs map[int]chan models.SyncProgress
	next int
}

// NewProgressBroadcaster creates an empty broadcaster
func NewProgressBroadcaster() *ProgressBroadcaster {
	return &ProgressBroadcaster{subs: make(map[int]chan models.SyncProgress)}
}

// Subscribe registers a new listener. The returned cancel func must be called
// to release the subscription; it closes the channel.
func (b *ProgressBroadcaster) Subscribe() (<-chan models.SyncProgress, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan models.SyncProgress, 16)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers a snapshot to every subscriber, dropping it for slow ones
func (b *ProgressBroadcaster) Publish(p models.SyncProgress) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- p:
		default:
		}
	}
}
