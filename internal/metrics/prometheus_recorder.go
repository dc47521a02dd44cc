package metrics

import (
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once             sync.Once
	downloadDuration *prom.HistogramVec
	taskOutcomes     *prom.CounterVec
	taskRetries      *prom.CounterVec
	tasksInFlight    prom.Gauge
	queueDepth       prom.Gauge
	commands         *prom.CounterVec
	playerRestarts   prom.Counter
	stateTransitions *prom.CounterVec
	publishes        *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics
// (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.downloadDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "kiosk",
			Name:      "download_duration_seconds",
			Help:      "Duration of individual fetch attempts by URI scheme",
			Buckets:   prom.DefBuckets,
		}, []string{"scheme", "result"})
		pr.taskOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "kiosk",
			Name:      "task_outcomes_total",
			Help:      "Download task outcomes by terminal status",
		}, []string{"outcome"})
		pr.taskRetries = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "kiosk",
			Name:      "task_retries_total",
			Help:      "Download task retries by failure classification",
		}, []string{"classification"})
		pr.tasksInFlight = prom.NewGauge(prom.GaugeOpts{
			Namespace: "kiosk",
			Name:      "tasks_in_flight",
			Help:      "Download tasks currently owned by a worker",
		})
		pr.queueDepth = prom.NewGauge(prom.GaugeOpts{
			Namespace: "kiosk",
			Name:      "playback_queue_depth",
			Help:      "Items in the playback queue",
		})
		pr.commands = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "kiosk",
			Name:      "commands_total",
			Help:      "Control commands by verb and result",
		}, []string{"verb", "result"})
		pr.playerRestarts = prom.NewCounter(prom.CounterOpts{
			Namespace: "kiosk",
			Name:      "player_restarts_total",
			Help:      "Automatic restarts after player crashes",
		})
		pr.stateTransitions = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "kiosk",
			Name:      "state_transitions_total",
			Help:      "Scheduler state transitions by target state",
		}, []string{"state"})
		pr.publishes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "kiosk",
			Name:      "publishes_total",
			Help:      "Messages published to the broker by kind",
		}, []string{"kind"})
		reg.MustRegister(
			pr.downloadDuration,
			pr.taskOutcomes,
			pr.taskRetries,
			pr.tasksInFlight,
			pr.queueDepth,
			pr.commands,
			pr.playerRestarts,
			pr.stateTransitions,
			pr.publishes,
		)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveDownloadDuration(scheme string, d time.Duration, success bool) {
	if p == nil || p.downloadDuration == nil {
		return
	}
	result := "failed"
	if success {
		result = "success"
	}
	p.downloadDuration.WithLabelValues(scheme, result).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncTaskOutcome(outcome string) {
	if p == nil || p.taskOutcomes == nil {
		return
	}
	p.taskOutcomes.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncTaskRetry(classification string) {
	if p == nil || p.taskRetries == nil {
		return
	}
	p.taskRetries.WithLabelValues(classification).Inc()
}

func (p *PrometheusRecorder) SetTasksInFlight(n int) {
	if p == nil || p.tasksInFlight == nil {
		return
	}
	p.tasksInFlight.Set(float64(n))
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	if p == nil || p.queueDepth == nil {
		return
	}
	p.queueDepth.Set(float64(n))
}

func (p *PrometheusRecorder) IncCommand(verb string, result ResultLabel) {
	if p == nil || p.commands == nil {
		return
	}
	p.commands.WithLabelValues(verb, string(result)).Inc()
}

func (p *PrometheusRecorder) IncPlayerRestart() {
	if p == nil || p.playerRestarts == nil {
		return
	}
	p.playerRestarts.Inc()
}

func (p *PrometheusRecorder) IncStateTransition(state string) {
	if p == nil || p.stateTransitions == nil {
		return
	}
	p.stateTransitions.WithLabelValues(state).Inc()
}

func (p *PrometheusRecorder) IncPublish(kind string) {
	if p == nil || p.publishes == nil {
		return
	}
	p.publishes.WithLabelValues(kind).Inc()
}

// HTTPHandler returns an http.Handler that serves Prometheus metrics for the
// provided registry.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
