// Package queue provides named durable job queues.
//
// Each queue is registered once with its processor and a Config holding its
// retry, locking and retention tunables:
//
//	q := queue.New(store)
//	q.Register("auto-tagging", enricher.AutoTag, queue.Config{MaxAttempts: 3})
//	res, err := q.Enqueue(ctx, "auto-tagging", payload, queue.DedupKey("auto-tag:"+id))
//
// Enqueue with a DedupKey is idempotent while a job with that key is pending
// or running: the result reports duplicate and points at the existing job.
package queue
