package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(4)
	defer cancel()

	bus.Publish(Event{Kind: Renaming, Path: "/a", NewPath: "/b"})
	bus.Publish(Event{Kind: Renamed, Path: "/a", NewPath: "/b"})

	first := <-ch
	second := <-ch
	assert.Equal(t, Renaming, first.Kind)
	assert.Equal(t, Renamed, second.Kind)
	assert.False(t, first.At.IsZero())
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus()
	_, cancel := bus.Subscribe(1)
	defer cancel()

	bus.Publish(Event{Kind: Added, Path: "/a"})
	bus.Publish(Event{Kind: Added, Path: "/b"})

	assert.Equal(t, uint64(1), bus.Dropped())
}

func TestCancelClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	cancel()
	cancel()

	_, ok := <-ch
	require.False(t, ok)

	// Publishing after cancel must not panic on the closed channel
	bus.Publish(Event{Kind: Deleted, Path: "/a"})
}
