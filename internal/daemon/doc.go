// Package daemon coordinates the long-running kiosk process.
//
// It wires the store, media library, distribution pipeline, playback
// scheduler, command channel, and state reporter into a single lifecycle
// with flock-based locking so a second instance cannot touch the same
// state directory. The daemon is both the command handler (broker and
// local input share one dispatch) and the pipeline event sink that turns
// task outcomes into acks and rotation entries. It also serves the
// read-only localhost HTTP API.
//
// Keep orchestration here: component behavior lives in the component
// packages while the daemon focuses on startup, shutdown, and routing
// between them.
package daemon
