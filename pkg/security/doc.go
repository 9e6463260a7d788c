// Package security provides validation, sanitization, and limits for the
// enrichment queues.
//
// This package includes:
//   - Input validation for queue names and dedup keys
//   - Error message sanitization, including redaction of provider credentials
//   - Clamping functions that enforce limits on attempts and concurrency
package security
