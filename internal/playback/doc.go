// Package playback owns the rotation of verified assets and the state
// machine that keeps one of them on screen. A single scheduler goroutine
// performs every queue and state mutation; commands, player exit events,
// and restart timers all funnel into it, so there is exactly one writer to
// reason about.
//
// The queue survives restarts as an atomic JSON snapshot. Crashed player
// processes are relaunched on a delay, bounded per item; stop and pause
// requests preempt everything else.
package playback
