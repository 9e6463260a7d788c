// Package enrich is the enrichment orchestrator. It owns the processors of
// every queue and the triggers that enqueue them.
//
// Each processor loads the recipe, checks the feature toggles, calls a
// strategy or the model executor, merges the result inside one store
// transaction, and emits events. Triggers apply the same toggles up front
// and return a skipped result with a reason rather than enqueueing work that
// would do nothing.
//
// Failures are decided by the worker. Imports are user-facing: their final
// failure marks the recipe and emits a failed event with a friendly reason.
// Background enhancements only log.
package enrich
