// Package taskqueue provides durable FIFO queues of topic messages. The
// worker in pkg/worker drains a queue into topic handlers; the signal
// package uses it to carry instance completion messages.
package taskqueue

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"time"
)

// Task is one message waiting for delivery on Topic.
type Task struct {
	ID      string
	Topic   string
	Payload []byte

	// Attempts counts failed deliveries so far.
	Attempts int

	EnqueuedAt time.Time

	// NotBefore is the earliest time this task should be eligible
	// for processing. Zero value means "immediately".
	NotBefore time.Time
}

// Queue is a FIFO of tasks ordered by NotBefore, then by enqueue order.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next eligible task, blocking until one
	// is available or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}

// encodeTask is the payload format of the Postgres, Redis and Mongo queues:
// the whole task, so retry metadata survives a round trip.
func encodeTask(t Task) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&t); err != nil {
		return nil, fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	return buf.Bytes(), nil
}

func decodeTask(data []byte) (*Task, error) {
	var t Task
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&t); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &t, nil
}

// waitPoll sleeps for d on a reusable timer, returning ctx.Err() if ctx is
// done first.
func waitPoll(ctx context.Context, tmr *time.Timer, d time.Duration) error {
	tmr.Reset(d)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}

// newStoppedTimer returns a timer that has not been started.
func newStoppedTimer() *time.Timer {
	tmr := time.NewTimer(0)
	if !tmr.Stop() {
		select {
		case <-tmr.C:
		default:
		}
	}
	return tmr
}

func notBefore(t Task, now time.Time) time.Time {
	if t.NotBefore.IsZero() {
		return now
	}
	return t.NotBefore
}
