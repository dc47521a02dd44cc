// Package mqtt is the broker-facing edge of the daemon. It subscribes to
// the device's command topics, validates and dedupes inbound payloads, and
// hands each surviving command to a Handler; outbound it publishes
// heartbeats, state reports, and acks on the device's own topic prefix.
//
// The network callback never blocks and the receive loop never dies on bad
// input: payloads are queued to a dispatcher goroutine and malformed or
// duplicate messages are dropped there. When the channel is disabled in
// config the daemon gets a no-op service and runs broker-less.
package mqtt
