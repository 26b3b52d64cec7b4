package input

import (
	"sort"
	"sync"
)

// Source yields the events gathered since the previous call. The driver
// calls Drain once per tick.
type Source interface {
	Drain() []Event
}

// Queue collects events from capture goroutines. It is safe for concurrent
// Push; Drain hands the backlog to the single driver goroutine.
type Queue struct {
	mu      sync.Mutex
	pending []Event
	limit   int
	dropped uint64
}

// DefaultQueueLimit caps the backlog between two ticks.
const DefaultQueueLimit = 1024

// NewQueue creates a queue holding at most limit events between drains.
// A non-positive limit selects DefaultQueueLimit.
func NewQueue(limit int) *Queue {
	if limit <= 0 {
		limit = DefaultQueueLimit
	}
	return &Queue{limit: limit}
}

// Push appends an event. When the backlog is full the oldest pointer move is
// discarded first, then the new event itself.
func (q *Queue) Push(ev Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) >= q.limit {
		if !q.evictMove() {
			q.dropped++
			return false
		}
	}
	q.pending = append(q.pending, ev)
	return true
}

func (q *Queue) evictMove() bool {
	for i, ev := range q.pending {
		if ev.Kind == KindMouseMove {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			q.dropped++
			return true
		}
	}
	return false
}

// Drain returns pending events sorted by timestamp and empties the queue.
func (q *Queue) Drain() []Event {
	q.mu.Lock()
	events := q.pending
	q.pending = nil
	q.mu.Unlock()

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events
}

// Len returns the backlog size.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Dropped returns how many events were discarded because the queue was full.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
