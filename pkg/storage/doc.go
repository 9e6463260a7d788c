// Package storage provides the GORM-backed persistence for the enrichment
// pipeline.
//
// This package includes:
//   - GormStorage: the durable job store implementing core.Storage, running on
//     SQLite or PostgreSQL (row locks with SKIP LOCKED on PostgreSQL)
//   - RecipeStore: recipe reads and transactional read-modify-write merges
//   - Open and the pool helpers used by the enricher binary
package storage
