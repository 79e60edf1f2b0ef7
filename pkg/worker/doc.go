// Package worker drains a task queue into topic handlers.
//
// A Worker is the consuming half of a durable signal hub: producers enqueue
// opaque payloads on a topic, and the worker delivers each one to every
// handler subscribed to that topic. A delivery that fails is put back on
// the queue with an exponential backoff until Config.MaxAttempts is
// reached, after which it is logged and discarded.
//
// Workers are decoupled from any particular persistence backend. The
// in-memory, SQLite, PostgreSQL and MongoDB queues in internal/taskqueue
// can all be plugged in, and several workers may consume the same
// database-backed queue.
//
// # Usage
//
//	q := taskqueue.NewInMemoryQueue()
//	w := worker.New(q, worker.Config{MaxAttempts: 5})
//	remove := w.Handle("procflow.instance.completed", deliver)
//	defer remove()
//	go func() { _ = w.Run(ctx) }()
//	_ = w.Enqueue(ctx, "procflow.instance.completed", payload)
package worker
