// Package store persists download tasks and registered media assets in
// SQLite and exposes helpers for driving the task lifecycle.
//
// The Store manages database connections, schema migrations, stats queries,
// retry scheduling, and the status transitions the distribution pipeline
// walks a task through. Tasks survive restarts; on startup the daemon calls
// RecoverInFlight so work interrupted by a crash is claimed again instead of
// stranding in a mid-flight status.
//
// Treat this package as the single source of truth for task semantics; when
// you add new statuses or columns, add a migration under migrations/ and keep
// the status set in models.go in step.
package store
