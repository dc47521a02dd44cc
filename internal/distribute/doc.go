// Package distribute runs the file distribution pipeline: a dispatcher
// claims queued download tasks from the store in priority order and hands
// them to a bounded worker pool, where each attempt streams the payload into
// staging, verifies its checksum, optionally unpacks it, and registers the
// result with the media library.
//
// Failure policy follows the shared taxonomy in internal/faults. Transient
// failures re-enter the queue on the configured backoff schedule instead of
// blocking a worker; corrupt payloads and origin refusals are terminal on
// the first occurrence. Tasks whose deadline has passed are expired, not
// failed, at every decision point.
package distribute
