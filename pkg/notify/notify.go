// Package notify carries change notifications out of the lifecycle engine:
// structured events for subscribers, and add/remove calls for the search
// indexer.
package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/pagefs/pkg/storage"
)

// Kind identifies a change event.
type Kind string

const (
	Added           Kind = "added"
	Renaming        Kind = "renaming"
	Renamed         Kind = "renamed"
	Deleted         Kind = "deleted"
	ConfigSet       Kind = "config_set"
	ConfigDeleted   Kind = "config_deleted"
	UploadCancelled Kind = "upload_cancelled"
)

// Event describes one change. NewPath is only set for renames; Version is
// zero when the change produced no new record.
type Event struct {
	Kind    Kind
	Path    string
	NewPath string
	Version uint64
	At      time.Time
}

// Publisher receives change events. Implementations must not block.
type Publisher interface {
	Publish(e Event)
}

// Indexer is the search index seen from the lifecycle engine.
type Indexer interface {
	Index(path string, md storage.Metadata, version uint64) error
	Remove(path string) error
}

// NoopIndexer discards every call.
type NoopIndexer struct{}

func (NoopIndexer) Index(string, storage.Metadata, uint64) error { return nil }
func (NoopIndexer) Remove(string) error                          { return nil }

// NoopPublisher discards every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(Event) {}

// Bus fans events out to subscribers over buffered channels. A subscriber
// that falls behind loses events rather than stalling the publisher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	nextID  uint64
	dropped atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]chan Event)}
}

// Subscribe registers a subscriber with the given channel buffer. The
// returned cancel function closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers e to every subscriber with buffer space.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was
// full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
