// Package logging assembles the structured slog loggers used across the
// kiosk daemon.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes shared attribute keys so every component tags log
// lines the same way. The package also provides a no-op logger for tests
// and wiring code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so new components
// emit data with the same shape and routing as the rest of the daemon.
package logging
