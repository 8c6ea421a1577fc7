package controllers

import (
	"testing"

	"github.com/jabook/bookcache/internal/models"
)

func TestProgressBroadcasterFanOut(t *testing.T) {
	b := NewProgressBroadcaster()

	ch1, cancel1 := b.Subscribe()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()

	b.Publish(models.SyncProgress{TotalForums: 5})

	p1 := <-ch1
	p2 := <-ch2
	if p1.TotalForums != 5 || p2.TotalForums != 5 {
		t.Errorf("Both subscribers should receive the snapshot, got %d and %d", p1.TotalForums, p2.TotalForums)
	}

	cancel1()
	if _, ok := <-ch1; ok {
		t.Error("Cancelled subscription channel should be closed")
	}

	// Remaining subscriber still receives after the other cancels
	b.Publish(models.SyncProgress{TotalForums: 7})
	if p := <-ch2; p.TotalForums != 7 {
		t.Errorf("Expected snapshot after peer cancel, got %+v", p)
	}
}

func TestProgressBroadcasterDropsWhenFull(t *testing.T) {
	b := NewProgressBroadcaster()
	ch, cancel := b.Subscribe()
	defer cancel()

	// Overfill the buffer; Publish must never block
	for i := 0; i < 40; i++ {
		b.Publish(models.SyncProgress{CompletedTopics: i})
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	if received == 0 || received > 16 {
		t.Errorf("Expected between 1 and 16 buffered snapshots, got %d", received)
	}
}

func TestProgressBroadcasterCancelIdempotent(t *testing.T) {
	b := NewProgressBroadcaster()
	_, cancel := b.Subscribe()
	cancel()
	cancel()
}
