// Package handler provides reflection-based execution of queue processors.
//
// This package is internal and should not be imported directly.
// It provides:
//   - Handler: metadata and execution for a registered processor
//   - JSON payload decoding into the processor's argument type
package handler
