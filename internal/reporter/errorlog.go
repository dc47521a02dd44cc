package reporter

import (
	"sync"
	"time"
)

// errorLogSize bounds how many faults a state report carries.
const errorLogSize = 20

// Entry is one operator-visible fault.
type Entry struct {
	At        time.Time `json:"at"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
}

// ErrorLog is a fixed-size ring of the most recent faults. Every component's
// error sink writes here; the oldest entry falls off once the ring is full.
// Safe for concurrent use.
type ErrorLog struct {
	mu      sync.Mutex
	entries []Entry
}

// NewErrorLog returns an empty ring.
func NewErrorLog() *ErrorLog {
	return &ErrorLog{}
}

// Record appends a fault, evicting the oldest entry when full.
func (l *ErrorLog) Record(component, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{
		At:        time.Now().UTC(),
		Component: component,
		Message:   message,
	})
	if len(l.entries) > errorLogSize {
		l.entries = l.entries[len(l.entries)-errorLogSize:]
	}
}

// Sink returns a one-argument recorder bound to a component, in the shape
// the pipeline, scheduler, and command channel accept as error sinks.
func (l *ErrorLog) Sink(component string) func(message string) {
	return func(message string) {
		l.Record(component, message)
	}
}

// Entries returns the ring contents, oldest first.
func (l *ErrorLog) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}
