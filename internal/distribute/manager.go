package distribute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"kiosk/internal/command"
	"kiosk/internal/config"
	"kiosk/internal/faults"
	"kiosk/internal/fileutil"
	"kiosk/internal/library"
	"kiosk/internal/logging"
	"kiosk/internal/metrics"
	"kiosk/internal/store"
)

const defaultPollInterval = 2 * time.Second

// Events receives pipeline outcomes. The daemon bridges these into acks,
// scheduler enqueues, and report error entries; callbacks run on worker
// goroutines and must not block.
type Events interface {
	TaskCompleted(task *store.Task, assets []*store.Asset)
	TaskFailed(task *store.Task, err error)
	TaskExpired(task *store.Task)
}

// TaskView pairs a persisted task with the volatile byte progress of its
// current attempt.
type TaskView struct {
	Task         *store.Task
	BytesFetched int64
}

// Manager coordinates the distribution pipeline: one dispatcher goroutine
// claims ready tasks in priority order while a bounded pool of workers runs
// the download, verify, extract, and register stages.
type Manager struct {
	cfg      *config.Config
	store    *store.Store
	library  *library.Library
	logger   *slog.Logger
	recorder metrics.Recorder
	events   Events
	fetchers map[string]Fetcher

	pollInterval time.Duration
	slots        chan struct{}
	wake         chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	progressMu sync.Mutex
	progress   map[string]*atomic.Int64
	inFlight   int
}

// Option adjusts Manager construction.
type Option func(*Manager)

// WithFetcher registers or replaces the fetcher for a URI scheme.
func WithFetcher(scheme string, fetcher Fetcher) Option {
	return func(m *Manager) {
		m.fetchers[strings.ToLower(scheme)] = fetcher
	}
}

// WithEvents wires the outcome sink.
func WithEvents(events Events) Option {
	return func(m *Manager) {
		m.events = events
	}
}

// WithRecorder wires the metrics sink.
func WithRecorder(recorder metrics.Recorder) Option {
	return func(m *Manager) {
		if recorder != nil {
			m.recorder = recorder
		}
	}
}

// WithPollInterval overrides the dispatcher poll cadence.
func WithPollInterval(interval time.Duration) Option {
	return func(m *Manager) {
		if interval > 0 {
			m.pollInterval = interval
		}
	}
}

// NewManager builds a pipeline manager over the task store and media
// library. A nil logger falls back to a no-op logger.
func NewManager(cfg *config.Config, st *store.Store, lib *library.Library, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	workers := cfg.Download.MaxConcurrent
	if workers < 1 {
		workers = 1
	}
	m := &Manager{
		cfg:          cfg,
		store:        st,
		library:      lib,
		logger:       logging.NewComponentLogger(logger, "distribute"),
		recorder:     metrics.NoopRecorder{},
		pollInterval: defaultPollInterval,
		slots:        make(chan struct{}, workers),
		wake:         make(chan struct{}, 1),
		progress:     make(map[string]*atomic.Int64),
		fetchers: map[string]Fetcher{
			"http":  NewHTTPFetcher(),
			"https": NewHTTPFetcher(),
			"s3":    NewS3Fetcher(cfg.Download.S3),
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start recovers interrupted work, sweeps the staging directory, and
// launches the dispatcher. Calling Start on a running manager is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	recovered, err := m.store.RecoverInFlight(runCtx, time.Now())
	if err != nil {
		cancel()
		m.mu.Lock()
		m.running = false
		m.cancel = nil
		m.mu.Unlock()
		return fmt.Errorf("recover interrupted tasks: %w", err)
	}
	if recovered > 0 {
		m.logger.Info("recovered interrupted tasks", logging.Int64("count", recovered))
	}
	m.sweepStaging()

	m.wg.Add(1)
	go m.runDispatcher(runCtx)
	return nil
}

// Stop cancels the dispatcher and waits for in-flight workers to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	running := m.running
	m.running = false
	m.cancel = nil
	m.mu.Unlock()
	if !running {
		return
	}
	cancel()
	m.wg.Wait()
}

// Submit validates and persists a distribution request, waking the
// dispatcher. Re-delivery of an already known task id returns the stored
// task unchanged with created=false, so broker redeliveries cannot clobber
// an attempt already underway.
func (m *Manager) Submit(ctx context.Context, spec command.TaskSpec, correlationID string) (*store.Task, bool, error) {
	extract := m.cfg.Download.ExtractDefault
	if spec.Extract != nil {
		extract = *spec.Extract
	}
	task := store.Task{
		ID:            spec.ID,
		URI:           spec.URI,
		Checksum:      spec.Checksum,
		DestName:      spec.DestName,
		Priority:      spec.Priority,
		Extract:       extract,
		CorrelationID: correlationID,
	}
	if !spec.ExpireAt.IsZero() {
		expireAt := spec.ExpireAt
		task.ExpireAt = &expireAt
	}

	stored, created, err := m.store.Enqueue(ctx, task)
	if err != nil {
		return nil, false, err
	}
	logger := m.logger.With(logging.String(logging.FieldTaskID, stored.ID))
	if created {
		logger.Info("task accepted",
			logging.String("uri", stored.URI),
			logging.Int("priority", stored.Priority),
			logging.Bool("extract", stored.Extract))
		m.poke()
	} else {
		logger.Info("task re-delivered, keeping existing state",
			logging.String(logging.FieldState, string(stored.Status)))
	}
	return stored, created, nil
}

// Snapshot lists pending tasks with their current attempt progress for the
// state report.
func (m *Manager) Snapshot(ctx context.Context) ([]TaskView, error) {
	tasks, err := m.store.ListTasks(ctx, store.StatusQueued, store.StatusDownloading, store.StatusVerifying, store.StatusExtracting)
	if err != nil {
		return nil, err
	}
	views := make([]TaskView, 0, len(tasks))
	for _, task := range tasks {
		views = append(views, TaskView{Task: task, BytesFetched: m.bytesFor(task.ID)})
	}
	return views, nil
}

func (m *Manager) runDispatcher(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	m.sweepExpired(ctx, time.Now())
	for {
		if ctx.Err() != nil {
			return
		}
		if m.dispatchNext(ctx) {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case <-ticker.C:
			m.sweepExpired(ctx, time.Now())
		}
	}
}

// dispatchNext claims the highest-priority ready task and hands it to a
// worker. It reports whether another dispatch should be tried immediately.
func (m *Manager) dispatchNext(ctx context.Context) bool {
	select {
	case m.slots <- struct{}{}:
	default:
		// Pool saturated; a finishing worker pokes the wake channel.
		return false
	}

	task, err := m.store.NextReady(ctx, time.Now())
	if err != nil || task == nil {
		<-m.slots
		if err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("claim next task", logging.Error(err))
		}
		return false
	}

	if err := m.store.MarkInFlight(ctx, task.ID, store.StatusDownloading); err != nil {
		<-m.slots
		m.logStoreErr(task.ID, "mark downloading", err)
		return false
	}
	task.Status = store.StatusDownloading

	m.adjustInFlight(1)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.adjustInFlight(-1)
			<-m.slots
			m.poke()
		}()
		m.process(ctx, task)
	}()
	return true
}

func (m *Manager) process(ctx context.Context, task *store.Task) {
	logger := m.logger.With(logging.String(logging.FieldTaskID, task.ID))
	started := time.Now()

	assets, err := m.runAttempt(ctx, task, logger)
	m.recorder.ObserveDownloadDuration(uriScheme(task.URI), time.Since(started), err == nil)
	if err == nil {
		m.recorder.IncTaskOutcome("completed")
		logger.Info("task completed",
			logging.Duration("duration", time.Since(started)),
			logging.String("final_path", task.FinalPath),
			logging.Int("assets", len(assets)))
		if m.events != nil {
			m.events.TaskCompleted(task, assets)
		}
		return
	}

	if ctx.Err() != nil && !task.ExpiredBy(time.Now()) {
		// Shutdown interrupted the attempt; recovery requeues it next start.
		logger.Debug("attempt interrupted by shutdown")
		return
	}
	m.handleFailure(ctx, task, err, logger)
}

func (m *Manager) runAttempt(ctx context.Context, task *store.Task, logger *slog.Logger) ([]*store.Asset, error) {
	parsed, err := url.Parse(task.URI)
	if err != nil {
		return nil, faults.Wrap(faults.ErrProtocol, "distribute", "fetch", "parse uri "+task.URI, err)
	}
	fetcher := m.fetchers[strings.ToLower(parsed.Scheme)]
	if fetcher == nil {
		return nil, faults.Wrap(faults.ErrProtocol, "distribute", "fetch", "unsupported scheme "+parsed.Scheme, nil)
	}

	attemptCtx := ctx
	if task.ExpireAt != nil {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithDeadline(attemptCtx, *task.ExpireAt)
		defer cancel()
	}
	if timeout := m.cfg.DownloadTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(attemptCtx, timeout)
		defer cancel()
	}

	partPath := filepath.Join(m.cfg.StagingDir(), task.ID+".part")
	defer os.Remove(partPath)
	progress := m.trackProgress(task.ID)
	defer m.clearProgress(task.ID)

	if err := fetcher.Fetch(attemptCtx, parsed, partPath, progress); err != nil {
		return nil, err
	}

	if err := m.store.MarkInFlight(ctx, task.ID, store.StatusVerifying); err != nil {
		return nil, fmt.Errorf("mark verifying: %w", err)
	}
	if strings.TrimSpace(task.Checksum) == "" {
		logger.Warn("no checksum provided, skipping verification",
			logging.String(logging.FieldErrorHint, "include a checksum in distribute payloads to catch corrupt transfers"))
	} else if err := VerifyFile(partPath, task.Checksum); err != nil {
		return nil, err
	}

	if task.Extract {
		if err := m.store.MarkInFlight(ctx, task.ID, store.StatusExtracting); err != nil {
			return nil, fmt.Errorf("mark extracting: %w", err)
		}
		assets, finalPath, err := m.extractAndRegister(ctx, task, partPath)
		if err != nil {
			return nil, err
		}
		if err := m.store.MarkCompleted(ctx, task.ID, finalPath); err != nil {
			return nil, fmt.Errorf("mark completed: %w", err)
		}
		task.FinalPath = finalPath
		task.Status = store.StatusCompleted
		return assets, nil
	}

	finalPath := filepath.Join(m.cfg.MediaRoot(), task.DestName)
	if err := fileutil.MoveFile(partPath, finalPath); err != nil {
		return nil, fmt.Errorf("stage into media root: %w", err)
	}
	asset, err := m.library.Register(ctx, finalPath, task.Checksum, task.ID)
	if err != nil {
		return nil, err
	}
	if err := m.store.MarkCompleted(ctx, task.ID, finalPath); err != nil {
		return nil, fmt.Errorf("mark completed: %w", err)
	}
	task.FinalPath = finalPath
	task.Status = store.StatusCompleted
	return []*store.Asset{asset}, nil
}

// extractAndRegister unpacks a verified archive into a scratch directory,
// then flattens every playable entry into the media root. Any extraction
// error discards the scratch directory so the library never sees partial
// content.
func (m *Manager) extractAndRegister(ctx context.Context, task *store.Task, archivePath string) ([]*store.Asset, string, error) {
	extractDir := filepath.Join(m.cfg.StagingDir(), task.ID+".extract")
	if err := os.RemoveAll(extractDir); err != nil {
		return nil, "", fmt.Errorf("reset extract dir: %w", err)
	}
	defer os.RemoveAll(extractDir)

	entries, err := ExtractArchive(archivePath, task.DestName, extractDir)
	if err != nil {
		return nil, "", err
	}

	var assets []*store.Asset
	for _, entry := range entries {
		if !library.Playable(entry) {
			continue
		}
		finalPath := filepath.Join(m.cfg.MediaRoot(), filepath.Base(entry))
		if err := fileutil.MoveFile(entry, finalPath); err != nil {
			return nil, "", fmt.Errorf("stage into media root: %w", err)
		}
		asset, err := m.library.Register(ctx, finalPath, "", task.ID)
		if err != nil {
			return nil, "", err
		}
		assets = append(assets, asset)
	}
	if len(assets) == 0 {
		return nil, "", faults.Wrap(faults.ErrCorruptPayload, "distribute", "extract", "archive contains no playable media", nil)
	}
	return assets, m.cfg.MediaRoot(), nil
}

func (m *Manager) handleFailure(ctx context.Context, task *store.Task, attemptErr error, logger *slog.Logger) {
	now := time.Now()
	if task.ExpiredBy(now) {
		if err := m.store.MarkExpired(ctx, task.ID); err != nil {
			m.logStoreErr(task.ID, "mark expired", err)
			return
		}
		m.recorder.IncTaskOutcome("expired")
		logger.Warn("task expired before completion", logging.Error(attemptErr))
		task.Status = store.StatusExpired
		if m.events != nil {
			m.events.TaskExpired(task)
		}
		return
	}

	attempt := task.RetryCount + 1
	if !faults.Retryable(attemptErr) || task.RetryCount >= m.retryLimit() {
		if err := m.store.MarkFailed(ctx, task.ID, attemptErr.Error()); err != nil {
			m.logStoreErr(task.ID, "mark failed", err)
			return
		}
		m.recorder.IncTaskOutcome("failed")
		logger.Error("task failed",
			logging.Error(attemptErr),
			logging.Int(logging.FieldAttempt, attempt),
			logging.String("classification", faults.Classification(attemptErr)))
		task.Status = store.StatusFailed
		task.ErrorMessage = attemptErr.Error()
		if m.events != nil {
			m.events.TaskFailed(task, attemptErr)
		}
		return
	}

	delay := m.backoffDelay(task.RetryCount)
	nextAttempt := now.Add(delay)
	if err := m.store.RequeueForRetry(ctx, task.ID, attemptErr.Error(), nextAttempt); err != nil {
		m.logStoreErr(task.ID, "requeue", err)
		return
	}
	m.recorder.IncTaskRetry(faults.Classification(attemptErr))
	logger.Warn("task requeued",
		logging.Error(attemptErr),
		logging.Int(logging.FieldAttempt, attempt),
		logging.Duration("backoff", delay))
	m.scheduleWake(delay)
}

// sweepExpired converts queued tasks whose deadline has passed into the
// expired terminal state. Expiry is distinct from failure in reports.
func (m *Manager) sweepExpired(ctx context.Context, now time.Time) {
	tasks, err := m.store.ListTasks(ctx, store.StatusQueued)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			m.logger.Error("list queued tasks", logging.Error(err))
		}
		return
	}
	for _, task := range tasks {
		if !task.ExpiredBy(now) {
			continue
		}
		if err := m.store.MarkExpired(ctx, task.ID); err != nil {
			m.logStoreErr(task.ID, "mark expired", err)
			continue
		}
		m.recorder.IncTaskOutcome("expired")
		m.logger.Warn("task expired before dispatch",
			logging.String(logging.FieldTaskID, task.ID),
			logging.String("uri", task.URI))
		task.Status = store.StatusExpired
		if m.events != nil {
			m.events.TaskExpired(task)
		}
	}
}

// sweepStaging clears leftover partial downloads and extraction scratch from
// a previous run. Recovered tasks refetch from scratch.
func (m *Manager) sweepStaging() {
	staging := m.cfg.StagingDir()
	entries, err := os.ReadDir(staging)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("read staging dir", logging.Error(err))
		}
		return
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(staging, entry.Name())); err != nil {
			m.logger.Warn("remove stale staging entry",
				logging.String("entry", entry.Name()),
				logging.Error(err))
		}
	}
}

func (m *Manager) retryLimit() int {
	if m.cfg.Download.RetryLimit < 0 {
		return 0
	}
	return m.cfg.Download.RetryLimit
}

func (m *Manager) backoffDelay(retryCount int) time.Duration {
	return retryDelay(retryCount, m.retryLimit(), m.cfg.RetryBackoff())
}

// retryDelay picks the wait before the next attempt: the schedule advances
// one position per retry and clamps at both the schedule's last entry and
// the retry limit.
func retryDelay(retryCount, retryLimit int, schedule []time.Duration) time.Duration {
	if len(schedule) == 0 {
		return 0
	}
	idx := retryCount
	if last := retryLimit - 1; last >= 0 && idx > last {
		idx = last
	}
	if idx > len(schedule)-1 {
		idx = len(schedule) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return schedule[idx]
}

func (m *Manager) poke() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// scheduleWake pokes the dispatcher when a backoff elapses so retries do not
// wait out a full poll interval.
func (m *Manager) scheduleWake(delay time.Duration) {
	if delay <= 0 {
		m.poke()
		return
	}
	time.AfterFunc(delay, m.poke)
}

func (m *Manager) logStoreErr(taskID, operation string, err error) {
	if errors.Is(err, context.Canceled) {
		m.logger.Debug("daemon shutting down, skipping task update",
			logging.String(logging.FieldTaskID, taskID),
			logging.String("operation", operation))
		return
	}
	m.logger.Error("persist task state",
		logging.String(logging.FieldTaskID, taskID),
		logging.String("operation", operation),
		logging.Error(err))
}

func (m *Manager) trackProgress(id string) func(int64) {
	counter := new(atomic.Int64)
	m.progressMu.Lock()
	m.progress[id] = counter
	m.progressMu.Unlock()
	return func(n int64) {
		counter.Store(n)
	}
}

func (m *Manager) clearProgress(id string) {
	m.progressMu.Lock()
	delete(m.progress, id)
	m.progressMu.Unlock()
}

func (m *Manager) bytesFor(id string) int64 {
	m.progressMu.Lock()
	defer m.progressMu.Unlock()
	if counter, ok := m.progress[id]; ok {
		return counter.Load()
	}
	return 0
}

func (m *Manager) adjustInFlight(delta int) {
	m.progressMu.Lock()
	m.inFlight += delta
	current := m.inFlight
	m.progressMu.Unlock()
	m.recorder.SetTasksInFlight(current)
}

func uriScheme(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Scheme == "" {
		return "unknown"
	}
	return strings.ToLower(parsed.Scheme)
}
