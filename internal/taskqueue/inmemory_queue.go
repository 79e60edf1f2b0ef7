package taskqueue

import (
	"context"
	"sync"
	"time"
)

// InMemoryQueue is a Queue kept in process memory. It honors NotBefore and
// is safe for concurrent use.
type InMemoryQueue struct {
	mu     sync.Mutex
	tasks  []queued
	seq    uint64
	notify chan struct{}
	now    func() time.Time
}

type queued struct {
	task      Task
	seq       uint64
	notBefore time.Time
}

// NewInMemoryQueue creates an empty queue.
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		notify: make(chan struct{}, 1),
		now:    time.Now,
	}
}

// Ensure InMemoryQueue implements Queue.
var _ Queue = (*InMemoryQueue)(nil)

func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := q.now()
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = now
	}

	q.mu.Lock()
	q.seq++
	q.tasks = append(q.tasks, queued{task: t, seq: q.seq, notBefore: notBefore(t, now)})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

func (q *InMemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	tmr := newStoppedTimer()
	defer tmr.Stop()

	for {
		t, wait := q.take()
		if t != nil {
			return t, nil
		}
		if wait <= 0 {
			wait = time.Hour
		}
		tmr.Reset(wait)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
			tmr.Stop()
		case <-tmr.C:
		}
	}
}

// take removes the next eligible task. When none is eligible it returns
// how long until the earliest one becomes so, or zero for an empty queue.
func (q *InMemoryQueue) take() (*Task, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	best := -1
	var earliest time.Time
	for i, e := range q.tasks {
		if earliest.IsZero() || e.notBefore.Before(earliest) {
			earliest = e.notBefore
		}
		if e.notBefore.After(now) {
			continue
		}
		if best < 0 || before(e, q.tasks[best]) {
			best = i
		}
	}
	if best < 0 {
		if earliest.IsZero() {
			return nil, 0
		}
		return nil, earliest.Sub(now)
	}
	t := q.tasks[best].task
	q.tasks = append(q.tasks[:best], q.tasks[best+1:]...)
	return &t, 0
}

func before(a, b queued) bool {
	if !a.notBefore.Equal(b.notBefore) {
		return a.notBefore.Before(b.notBefore)
	}
	return a.seq < b.seq
}

func (q *InMemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
