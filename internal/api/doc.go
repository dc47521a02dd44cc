// Package api defines wire-format types and converters shared by the IPC
// and HTTP API layer. It translates stored tasks and assets into
// transport-friendly DTOs so remote consumers never couple to internal
// types.
//
// DTOs use camelCase JSON tags, internal enums surface as lowercase
// strings, and timestamps are RFC3339 with milliseconds. The playback
// snapshot is the one internal type passed through unchanged; it is
// already a wire shape.
package api
