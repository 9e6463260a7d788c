// Package schedule provides schedules for recurring enrichment jobs.
//
// This package includes:
//   - Schedule interface
//   - Every(), Daily(), DailyIn() and Weekly() helpers
//   - Cron() for cron expressions, backed by robfig/cron
//   - Parse() for the textual forms accepted in configuration
package schedule
