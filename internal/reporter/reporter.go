// Package reporter assembles the device's outward-facing state: player
// status, pending distribution work, broker connectivity, and the recent
// fault ring, folded into one report. It owns the heartbeat and status
// tickers and publishes through the command channel; the same report feeds
// query commands, the IPC server, and the HTTP API.
package reporter

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"kiosk/internal/config"
	"kiosk/internal/distribute"
	"kiosk/internal/faults"
	"kiosk/internal/logging"
	"kiosk/internal/playback"
	"kiosk/internal/player"
)

const (
	netConnected    = "connected"
	netDisconnected = "disconnected"
)

// PlayerSource yields playback state. *playback.Scheduler implements it.
type PlayerSource interface {
	State() playback.State
	Status(ctx context.Context) playback.Status
}

// TaskSource yields the pipeline's pending work. *distribute.Manager
// implements it.
type TaskSource interface {
	Snapshot(ctx context.Context) ([]distribute.TaskView, error)
}

// Publisher carries reports to the broker. The mqtt service implements it;
// with the channel disabled the publishes are silent no-ops and netStatus
// stays disconnected.
type Publisher interface {
	Connected() bool
	PublishHeartbeat(payload []byte) error
	PublishStatus(payload []byte) error
}

// Media identifies what is on screen.
type Media struct {
	AssetID string `json:"assetId,omitempty"`
	Path    string `json:"path,omitempty"`
	Title   string `json:"title,omitempty"`
}

// PendingTask is the report's view of one distribution task.
type PendingTask struct {
	ID           string     `json:"id"`
	URI          string     `json:"uri"`
	DestName     string     `json:"destName"`
	Status       string     `json:"status"`
	Priority     int        `json:"priority"`
	RetryCount   int        `json:"retryCount"`
	BytesFetched int64      `json:"bytesFetched"`
	ExpireAt     *time.Time `json:"expireAt,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// StateReport is the full device status published on the status topic and
// served to local clients.
type StateReport struct {
	At           time.Time        `json:"at"`
	DeviceID     string           `json:"deviceId"`
	PlayerState  string           `json:"playerState"`
	CurrentMedia *Media           `json:"currentMedia,omitempty"`
	Progress     *player.Progress `json:"progress,omitempty"`
	Volume       int              `json:"volume"`
	Loop         bool             `json:"loop"`
	CurrentIndex int              `json:"currentIndex"`
	QueueLength  int              `json:"queueLength"`
	NetStatus    string           `json:"netStatus"`
	PendingTasks []PendingTask    `json:"pendingTasks"`
	Errors       []Entry          `json:"errors"`
}

// Heartbeat is the lightweight liveness beacon published between reports.
type Heartbeat struct {
	At        time.Time `json:"at"`
	DeviceID  string    `json:"deviceId"`
	State     string    `json:"state"`
	UptimeSec int64     `json:"uptimeSec"`
}

// Reporter aggregates component state and drives the periodic publishes.
type Reporter struct {
	cfg       *config.Config
	scheduler PlayerSource
	pipeline  TaskSource
	pub       Publisher
	log       *ErrorLog
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	started time.Time
	wg      sync.WaitGroup
}

// New builds a reporter over the given sources. A nil error log gets a
// fresh ring; a nil logger falls back to a no-op logger.
func New(cfg *config.Config, scheduler PlayerSource, pipeline TaskSource, pub Publisher, errlog *ErrorLog, logger *slog.Logger) *Reporter {
	if errlog == nil {
		errlog = NewErrorLog()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reporter{
		cfg:       cfg,
		scheduler: scheduler,
		pipeline:  pipeline,
		pub:       pub,
		log:       errlog,
		logger:    logging.NewComponentLogger(logger, "reporter"),
	}
}

// Log returns the fault ring components record into.
func (r *Reporter) Log() *ErrorLog {
	return r.log
}

// Start launches the heartbeat and status loops. Calling Start on a running
// reporter is a no-op.
func (r *Reporter) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.started = time.Now()
	r.mu.Unlock()

	if interval := r.cfg.HeartbeatInterval(); interval > 0 {
		r.wg.Add(1)
		go r.heartbeatLoop(runCtx, interval)
	}
	if interval := r.cfg.StatusReportInterval(); interval > 0 {
		r.wg.Add(1)
		go r.statusLoop(runCtx, interval)
	}
	return nil
}

// Stop halts the publish loops.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// Report assembles one full state report. A failing task snapshot degrades
// to an empty pending list; the report always builds.
func (r *Reporter) Report(ctx context.Context) StateReport {
	status := r.scheduler.Status(ctx)
	report := StateReport{
		At:           time.Now().UTC(),
		DeviceID:     r.cfg.MQTT.ClientID,
		PlayerState:  string(status.State),
		Progress:     status.Progress,
		Volume:       status.Volume,
		Loop:         status.Loop,
		CurrentIndex: status.CurrentIndex,
		QueueLength:  status.QueueLength,
		NetStatus:    netDisconnected,
		PendingTasks: []PendingTask{},
		Errors:       r.log.Entries(),
	}
	if status.CurrentAssetID != "" || status.CurrentPath != "" {
		report.CurrentMedia = &Media{
			AssetID: status.CurrentAssetID,
			Path:    status.CurrentPath,
			Title:   status.CurrentTitle,
		}
	}
	if r.pub.Connected() {
		report.NetStatus = netConnected
	}
	views, err := r.pipeline.Snapshot(ctx)
	if err != nil {
		r.logger.Warn("task snapshot unavailable", logging.Error(err))
		return report
	}
	for _, view := range views {
		report.PendingTasks = append(report.PendingTasks, pendingTask(view))
	}
	return report
}

// PublishReport builds and publishes one state report. Query commands and
// the status ticker both land here.
func (r *Reporter) PublishReport(ctx context.Context) error {
	payload, err := json.Marshal(r.Report(ctx))
	if err != nil {
		return faults.Wrap(faults.ErrProtocol, "reporter", "publish", "encode state report", err)
	}
	return r.pub.PublishStatus(payload)
}

func (r *Reporter) publishHeartbeat() error {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()

	beat := Heartbeat{
		At:        time.Now().UTC(),
		DeviceID:  r.cfg.MQTT.ClientID,
		State:     string(r.scheduler.State()),
		UptimeSec: int64(time.Since(started).Seconds()),
	}
	payload, err := json.Marshal(beat)
	if err != nil {
		return faults.Wrap(faults.ErrProtocol, "reporter", "publish", "encode heartbeat", err)
	}
	return r.pub.PublishHeartbeat(payload)
}

func (r *Reporter) heartbeatLoop(ctx context.Context, interval time.Duration) {
	defer r.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.publishHeartbeat(); err != nil {
				r.logger.Debug("heartbeat publish skipped", logging.Error(err))
			}
		}
	}
}

func (r *Reporter) statusLoop(ctx context.Context, interval time.Duration) {
	defer r.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.PublishReport(ctx); err != nil {
				r.logger.Debug("status publish skipped", logging.Error(err))
			}
		}
	}
}

func pendingTask(view distribute.TaskView) PendingTask {
	task := view.Task
	out := PendingTask{
		ID:           task.ID,
		URI:          task.URI,
		DestName:     task.DestName,
		Status:       string(task.Status),
		Priority:     task.Priority,
		RetryCount:   task.RetryCount,
		BytesFetched: view.BytesFetched,
		Error:        task.ErrorMessage,
	}
	if task.ExpireAt != nil {
		expireAt := task.ExpireAt.UTC()
		out.ExpireAt = &expireAt
	}
	return out
}
