package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	prom "github.com/prometheus/client_golang/prometheus"

	"kiosk/internal/command"
	"kiosk/internal/config"
	"kiosk/internal/distribute"
	"kiosk/internal/library"
	"kiosk/internal/logging"
	"kiosk/internal/metrics"
	"kiosk/internal/mqtt"
	"kiosk/internal/playback"
	"kiosk/internal/player"
	"kiosk/internal/reporter"
	"kiosk/internal/store"
)

// Daemon wires the store, library, pipeline, scheduler, command channel,
// and reporter into a single lifecycle with flock-based locking to prevent
// a second instance from touching the same state directory. It is the
// command handler for both broker and local (IPC, HTTP) input, and the
// event sink that turns pipeline outcomes into acks and rotation entries.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	st     *store.Store

	errlog    *reporter.ErrorLog
	registry  *prom.Registry
	recorder  metrics.Recorder
	launch    player.LaunchFunc
	library   *library.Library
	scheduler *playback.Scheduler
	manager   *distribute.Manager
	channel   mqtt.Service
	reporter  *reporter.Reporter
	api       *apiServer

	lockPath string
	lock     *flock.Flock
	logPath  string

	running   atomic.Bool
	startedAt time.Time
	cancel    context.CancelFunc
}

// Status is the daemon-level runtime summary served to the CLI and HTTP API.
type Status struct {
	Running         bool
	PID             int
	StartedAt       time.Time
	Uptime          time.Duration
	BrokerConnected bool
	Player          playback.Status
	Tasks           store.HealthSummary
	AssetCount      int
	DatabasePath    string
	LockFilePath    string
}

// Option adjusts daemon construction. Options run before the subsystems are
// built, so a test can swap the player launch or the broker service without
// touching real processes or sockets.
type Option func(*Daemon)

// WithLaunchFunc replaces the player launch used by the scheduler.
func WithLaunchFunc(launch player.LaunchFunc) Option {
	return func(d *Daemon) {
		if launch != nil {
			d.launch = launch
		}
	}
}

// WithRecorder replaces the metrics sink shared across subsystems.
func WithRecorder(recorder metrics.Recorder) Option {
	return func(d *Daemon) {
		if recorder != nil {
			d.recorder = recorder
		}
	}
}

// WithChannel replaces the broker service. Tests inject a capture here and
// drive HandleCommand directly.
func WithChannel(svc mqtt.Service) Option {
	return func(d *Daemon) {
		if svc != nil {
			d.channel = svc
		}
	}
}

// New builds the daemon and every subsystem under it. Nothing starts until
// Start; construction only wires dependencies.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || st == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		st:       st,
		errlog:   reporter.NewErrorLog(),
		lockPath: cfg.LockPath(),
		logPath:  filepath.Join(cfg.System.LogPath, "kiosk.log"),
	}
	d.lock = flock.New(d.lockPath)

	for _, opt := range opts {
		opt(d)
	}

	if d.recorder == nil {
		d.registry = prom.NewRegistry()
		d.recorder = metrics.NewPrometheusRecorder(d.registry)
	}
	d.library = library.New(st, cfg, logger)
	if d.launch == nil {
		d.launch = player.NewLauncher(cfg, logger).Launch
	}
	d.scheduler = playback.NewScheduler(cfg, d.library, d.launch, logger,
		playback.WithRecorder(d.recorder),
		playback.WithErrorSink(d.errlog.Sink("playback")))
	d.manager = distribute.NewManager(cfg, st, d.library, logger,
		distribute.WithEvents(d),
		distribute.WithRecorder(d.recorder))
	if d.channel == nil {
		d.channel = mqtt.New(cfg, d, logger,
			mqtt.WithRecorder(d.recorder),
			mqtt.WithErrorSink(d.errlog.Sink("mqtt")))
	}
	d.reporter = reporter.New(cfg, d.scheduler, d.manager, d.channel, d.errlog, logger)
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the instance lock and brings the subsystems up: pipeline
// first so recovered tasks are moving before commands arrive, then the
// scheduler, the command channel, the reporter, and the HTTP API. Any
// failure unwinds what already started.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another kiosk daemon holds the state directory")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.manager.Start(runCtx); err != nil {
		d.unwind(nil)
		return fmt.Errorf("start pipeline: %w", err)
	}
	if err := d.scheduler.Start(runCtx); err != nil {
		d.unwind([]func(){d.manager.Stop})
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := d.channel.Start(runCtx); err != nil {
		d.unwind([]func(){d.scheduler.Stop, d.manager.Stop})
		return fmt.Errorf("start command channel: %w", err)
	}
	if err := d.reporter.Start(runCtx); err != nil {
		d.unwind([]func(){d.channel.Stop, d.scheduler.Stop, d.manager.Stop})
		return fmt.Errorf("start reporter: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.unwind([]func(){d.reporter.Stop, d.channel.Stop, d.scheduler.Stop, d.manager.Stop})
		return fmt.Errorf("start api server: %w", err)
	}

	d.redeliverAcks(runCtx)

	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("lock", d.lockPath),
		logging.String("database", d.st.Path()))
	return nil
}

func (d *Daemon) unwind(stops []func()) {
	for _, stop := range stops {
		stop()
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	_ = d.lock.Unlock()
}

// Stop shuts the subsystems down in reverse dependency order: outward
// surfaces first so no new work arrives, the pipeline drains its workers,
// and the scheduler quits the player last.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()
	d.reporter.Stop()
	d.channel.Stop()
	d.manager.Stop()
	d.scheduler.Stop()

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.st != nil {
		return d.st.Close()
	}
	return nil
}

// Running reports whether Start has completed and Stop has not.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Connected reports broker connectivity.
func (d *Daemon) Connected() bool {
	return d.channel.Connected()
}

// LogPath returns the stable daemon log location.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status assembles the daemon-level runtime summary. Store errors degrade
// individual sections rather than failing the whole call.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:         d.running.Load(),
		PID:             os.Getpid(),
		BrokerConnected: d.channel.Connected(),
		Player:          d.scheduler.Status(ctx),
		DatabasePath:    d.st.Path(),
		LockFilePath:    d.lockPath,
	}
	if status.Running {
		status.StartedAt = d.startedAt
		status.Uptime = time.Since(d.startedAt)
	}
	if health, err := d.st.Health(ctx); err == nil {
		status.Tasks = health
	} else {
		d.logger.Warn("task health unavailable", logging.Error(err))
	}
	if count, err := d.library.Count(ctx); err == nil {
		status.AssetCount = count
	}
	return status
}

// Queue returns the rotation snapshot including items.
func (d *Daemon) Queue(ctx context.Context) playback.Status {
	return d.scheduler.Status(ctx)
}

// Tasks lists every stored task with live progress for pending ones.
func (d *Daemon) Tasks(ctx context.Context) ([]distribute.TaskView, error) {
	return d.manager.Snapshot(ctx)
}

// AllTasks lists every task regardless of state, newest first.
func (d *Daemon) AllTasks(ctx context.Context) ([]*store.Task, error) {
	return d.st.ListTasks(ctx)
}

// Assets lists the registered media catalog.
func (d *Daemon) Assets(ctx context.Context) ([]*store.Asset, error) {
	return d.library.List(ctx)
}

// Report builds the full state report on demand.
func (d *Daemon) Report(ctx context.Context) reporter.StateReport {
	return d.reporter.Report(ctx)
}

// Play starts or resumes playback. A non-empty ref plays that asset or
// file, appending it to the rotation when absent.
func (d *Daemon) Play(ctx context.Context, ref string) error {
	return d.scheduler.Play(ctx, ref)
}

// Pause suspends the live session.
func (d *Daemon) Pause(ctx context.Context) error {
	return d.scheduler.Pause(ctx)
}

// StopPlayback ends the live session and parks the rotation.
func (d *Daemon) StopPlayback(ctx context.Context) error {
	return d.scheduler.StopPlayback(ctx)
}

// SetVolume applies the playback volume.
func (d *Daemon) SetVolume(ctx context.Context, percent int) error {
	return d.scheduler.SetVolume(ctx, percent)
}

// SetLoop switches the rotation loop mode.
func (d *Daemon) SetLoop(ctx context.Context, loop bool) error {
	return d.scheduler.SetLoop(ctx, loop)
}

// Distribute submits a local distribution request, bypassing the broker
// dedupe path. The returned created flag is false for a re-submitted id.
func (d *Daemon) Distribute(ctx context.Context, spec command.TaskSpec) (*store.Task, bool, error) {
	return d.manager.Submit(ctx, spec, "")
}

// RemoveAsset deletes an asset from the catalog and drops it from the
// rotation. Deletion of the on-screen asset is deferred until the item
// leaves the screen.
func (d *Daemon) RemoveAsset(ctx context.Context, id string) (bool, error) {
	deferred, err := d.library.Remove(ctx, id)
	if err != nil {
		return false, err
	}
	if dropErr := d.scheduler.DropAsset(ctx, id); dropErr != nil && !errors.Is(dropErr, playback.ErrNotRunning) {
		d.logger.Warn("drop asset from rotation",
			logging.String(logging.FieldAssetID, id),
			logging.Error(dropErr))
	}
	return deferred, nil
}
