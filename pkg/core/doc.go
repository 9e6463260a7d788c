// Package core provides the fundamental types and interfaces shared by the
// enrichment queues.
//
// This package contains:
//   - Job and Checkpoint data models with GORM annotations
//   - EnqueueResult, the outcome of every enqueue request
//   - Storage interface defining the persistence contract
//   - Event types for queue monitoring
//   - Error types that steer retry decisions
package core
