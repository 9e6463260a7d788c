// Package context carries the running job and its phase checkpoints through
// a processor's context.Context.
//
// This package is internal. Processors use pkg/jobctx instead.
package context
