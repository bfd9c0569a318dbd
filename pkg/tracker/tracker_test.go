package tracker

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskMapSuppressesDuplicates(t *testing.T) {
	var m TaskMap

	task, ok := m.TryStart("/a")
	require.True(t, ok)
	assert.True(t, m.IsActive("/a"))

	_, ok = m.TryStart("/a")
	assert.False(t, ok)

	task.Done()
	assert.Equal(t, 1, m.Len(), "finished task lingers until checked")
	assert.False(t, m.IsActive("/a"))
	assert.Equal(t, 0, m.Len())

	_, ok = m.TryStart("/a")
	assert.True(t, ok)
}

func TestTaskMapReplacesFinished(t *testing.T) {
	var m TaskMap
	old, _ := m.TryStart("/a")
	old.Done()

	fresh, ok := m.TryStart("/a")
	require.True(t, ok)
	assert.NotSame(t, old, fresh)
	assert.True(t, m.IsActive("/a"))
}

func TestTaskMapConcurrentStart(t *testing.T) {
	var m TaskMap
	var started atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := m.TryStart("/contended"); ok {
				started.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), started.Load())
}

func TestUploadMapObserve(t *testing.T) {
	tests := []struct {
		name     string
		sizes    []int64
		expected []Verdict
	}{
		{"quiescent", []int64{10, 10}, []Verdict{Defer, Proceed}},
		{"active", []int64{10, 20, 20}, []Verdict{Defer, Active, Proceed}},
		{"restart after proceed", []int64{5, 5, 5}, []Verdict{Defer, Proceed, Defer}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var u UploadMap
			for i, size := range tt.sizes {
				assert.Equal(t, tt.expected[i], u.Observe("/a", size), "observation %d", i)
			}
		})
	}
}

func TestUploadMapForget(t *testing.T) {
	var u UploadMap
	u.Observe("/a", 1)
	u.Forget("/a")
	assert.Equal(t, Defer, u.Observe("/a", 1))
}
