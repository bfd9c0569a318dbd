// Package tracker records work in flight inside this process so the sweeper
// does not duplicate a delete or rename that is already running, and does not
// purge a tombstone while an upload at the original path is still writing.
//
// Nothing here is persisted. The operation log is authoritative; losing the
// tracker on restart only means one redundant attempt.
package tracker

import (
	"sync"
)

// Task is a handle on one running piece of work.
type Task struct {
	done chan struct{}
	once sync.Once
}

func newTask() *Task {
	return &Task{done: make(chan struct{})}
}

// Done marks the task finished. Safe to call more than once.
func (t *Task) Done() {
	t.once.Do(func() { close(t.done) })
}

// Finished reports whether Done has been called.
func (t *Task) Finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Wait returns a channel closed when the task finishes.
func (t *Task) Wait() <-chan struct{} {
	return t.done
}

// TaskMap maps a path to the task currently working on it. Finished tasks
// stay in the map until the next lookup evicts them.
type TaskMap struct {
	m sync.Map // path -> *Task
}

// TryStart registers a new task for path unless a live one exists.
func (m *TaskMap) TryStart(path string) (*Task, bool) {
	for {
		t := newTask()
		actual, loaded := m.m.LoadOrStore(path, t)
		if !loaded {
			return t, true
		}
		existing := actual.(*Task)
		if !existing.Finished() {
			return nil, false
		}
		if m.m.CompareAndSwap(path, existing, t) {
			return t, true
		}
	}
}

// IsActive reports whether a live task holds path.
func (m *TaskMap) IsActive(path string) bool {
	v, ok := m.m.Load(path)
	if !ok {
		return false
	}
	t := v.(*Task)
	if t.Finished() {
		m.m.CompareAndDelete(path, t)
		return false
	}
	return true
}

// Len returns the number of entries, finished ones included.
func (m *TaskMap) Len() int {
	n := 0
	m.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Verdict is the outcome of observing an upload.
type Verdict int

const (
	// Defer means this is the first sighting; look again next cycle.
	Defer Verdict = iota

	// Proceed means the upload has not moved since the last sighting.
	Proceed

	// Active means bytes arrived since the last sighting.
	Active
)

func (v Verdict) String() string {
	switch v {
	case Defer:
		return "defer"
	case Proceed:
		return "proceed"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// UploadMap remembers the uploaded size last seen per path.
type UploadMap struct {
	m sync.Map // path -> int64
}

// Observe compares uploaded against the previous sighting of path.
func (u *UploadMap) Observe(path string, uploaded int64) Verdict {
	prev, loaded := u.m.LoadOrStore(path, uploaded)
	if !loaded {
		return Defer
	}
	if prev.(int64) == uploaded {
		u.m.CompareAndDelete(path, prev)
		return Proceed
	}
	u.m.CompareAndSwap(path, prev, uploaded)
	return Active
}

// Forget drops any sighting of path.
func (u *UploadMap) Forget(path string) {
	u.m.Delete(path)
}

// Tracker bundles the three in-flight maps owned by one lifecycle engine.
type Tracker struct {
	Deletes TaskMap
	Renames TaskMap
	Uploads UploadMap
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{}
}
