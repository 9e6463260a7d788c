// Package worker runs the processing pools for registered queues.
//
// Each queue gets its own pool with the queue's fixed concurrency. A pool
// claims jobs, renews their locks while they run, records the outcome and
// runs the queue's failure hooks with the retry decision. A maintenance loop
// per queue requeues or fails jobs whose lock expired and prunes old jobs
// under the queue's retention policy.
package worker
