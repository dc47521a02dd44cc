package metrics

import "time"

// ResultLabel enumerates command and fetch result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultRejected ResultLabel = "rejected"
	ResultFailed   ResultLabel = "failed"
)

// Recorder defines observability hooks for the daemon. Implementations may
// forward to Prometheus or drop everything; components always hold a
// non-nil Recorder so call sites never branch.
type Recorder interface {
	ObserveDownloadDuration(scheme string, d time.Duration, success bool)
	IncTaskOutcome(outcome string)
	IncTaskRetry(classification string)
	SetTasksInFlight(n int)
	SetQueueDepth(n int)
	IncCommand(verb string, result ResultLabel)
	IncPlayerRestart()
	IncStateTransition(state string)
	IncPublish(kind string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not
// configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveDownloadDuration(string, time.Duration, bool) {}
func (NoopRecorder) IncTaskOutcome(string)                               {}
func (NoopRecorder) IncTaskRetry(string)                                 {}
func (NoopRecorder) SetTasksInFlight(int)                                {}
func (NoopRecorder) SetQueueDepth(int)                                   {}
func (NoopRecorder) IncCommand(string, ResultLabel)                      {}
func (NoopRecorder) IncPlayerRestart()                                   {}
func (NoopRecorder) IncStateTransition(string)                           {}
func (NoopRecorder) IncPublish(string)                                   {}
