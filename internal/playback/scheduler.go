package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"kiosk/internal/config"
	"kiosk/internal/library"
	"kiosk/internal/logging"
	"kiosk/internal/metrics"
	"kiosk/internal/player"
)

// State is the scheduler's externally visible phase.
type State string

const (
	StateIdle       State = "idle"
	StateLoading    State = "loading"
	StatePlaying    State = "playing"
	StatePaused     State = "paused"
	StateRestarting State = "restarting"
	StateStopped    State = "stopped"
)

const sessionStopTimeout = 10 * time.Second

// ErrNotRunning is returned for control requests made outside Start/Stop.
var ErrNotRunning = errors.New("playback scheduler is not running")

type controlKind int

const (
	ctrlPlay controlKind = iota
	ctrlPause
	ctrlStop
	ctrlVolume
	ctrlLoop
	ctrlEnqueue
	ctrlDrop
)

type request struct {
	kind    controlKind
	ref     string
	volume  int
	loop    bool
	item    Item
	assetID string
	reply   chan error
}

type exitNotice struct {
	token uint64
	event player.ExitEvent
}

// Status is a point-in-time snapshot for reports and the CLI.
type Status struct {
	State          State            `json:"state"`
	CurrentAssetID string           `json:"currentAssetId,omitempty"`
	CurrentPath    string           `json:"currentPath,omitempty"`
	CurrentTitle   string           `json:"currentTitle,omitempty"`
	CurrentIndex   int              `json:"currentIndex"`
	QueueLength    int              `json:"queueLength"`
	Items          []Item           `json:"items,omitempty"`
	Loop           bool             `json:"loop"`
	Volume         int              `json:"volume"`
	Restarts       int              `json:"restarts"`
	LastError      string           `json:"lastError,omitempty"`
	Progress       *player.Progress `json:"progress,omitempty"`
}

// Scheduler keeps one queue item on screen. A single goroutine owns every
// state and queue mutation; control methods hand it requests and wait for
// the outcome. Stop and pause travel on a priority channel so they are
// never stuck behind routine traffic.
type Scheduler struct {
	cfg     *config.Config
	library *library.Library
	launch  player.LaunchFunc
	logger  *slog.Logger

	recorder metrics.Recorder
	report   func(message string)

	snapshotPath string

	urgent  chan request
	control chan request
	exits   chan exitNotice

	// Consumed only by the run goroutine.
	restartTimer *time.Timer
	restartC     <-chan time.Time
	missingNext  string

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	queue     *Queue
	state     State
	session   player.Controller
	token     uint64
	volume    int
	restarts  int
	lastErr   string
	opStopped bool

	wg sync.WaitGroup
}

// Option adjusts Scheduler construction.
type Option func(*Scheduler)

// WithRecorder wires metrics emission.
func WithRecorder(recorder metrics.Recorder) Option {
	return func(s *Scheduler) {
		if recorder != nil {
			s.recorder = recorder
		}
	}
}

// WithErrorSink registers the callback that feeds operator-visible playback
// failures into the state report.
func WithErrorSink(sink func(message string)) Option {
	return func(s *Scheduler) {
		if sink != nil {
			s.report = sink
		}
	}
}

// NewScheduler builds a stopped scheduler. Start restores the persisted
// queue and begins processing.
func NewScheduler(cfg *config.Config, lib *library.Library, launch player.LaunchFunc, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Scheduler{
		cfg:          cfg,
		library:      lib,
		launch:       launch,
		logger:       logging.NewComponentLogger(logger, "playback"),
		recorder:     metrics.NoopRecorder{},
		report:       func(string) {},
		snapshotPath: cfg.SnapshotPath(),
		urgent:       make(chan request, 4),
		control:      make(chan request, 16),
		exits:        make(chan exitNotice, 4),
		queue:        NewQueue(cfg.Player.Loop),
		state:        StateIdle,
		volume:       cfg.Player.Volume,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start restores the queue snapshot and launches the scheduler goroutine.
// With autoplay enabled and items restored, playback resumes immediately.
// Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	queue, pruned, err := LoadQueue(s.snapshotPath, s.cfg.Player.Loop)
	if err != nil {
		s.logger.Warn("queue snapshot unusable, starting fresh", logging.Error(err))
	}
	if pruned > 0 {
		s.logger.Info("pruned vanished items from restored queue", logging.Int("count", pruned))
	}
	s.mu.Lock()
	s.queue = queue
	s.state = StateIdle
	s.opStopped = false
	s.restarts = 0
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(runCtx)
	return nil
}

// Stop cancels the scheduler goroutine, terminates any live player process,
// and waits for both to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	running := s.running
	s.running = false
	s.cancel = nil
	s.mu.Unlock()
	if !running {
		return
	}
	cancel()
	s.wg.Wait()
}

// Play resumes a paused session, or starts playback of the current queue
// position. A non-empty ref selects the item to play: an asset id, a
// registered path, or a file name under the video root; unqueued references
// are appended first.
func (s *Scheduler) Play(ctx context.Context, ref string) error {
	return s.deliver(ctx, s.control, request{kind: ctrlPlay, ref: ref})
}

// Pause suspends the live session without ending it.
func (s *Scheduler) Pause(ctx context.Context) error {
	return s.deliver(ctx, s.urgent, request{kind: ctrlPause})
}

// StopPlayback ends the live session and parks the scheduler in Stopped.
// Stopped sticks: new downloads do not resume playback until an explicit
// Play arrives.
func (s *Scheduler) StopPlayback(ctx context.Context) error {
	return s.deliver(ctx, s.urgent, request{kind: ctrlStop})
}

// SetVolume stores the playback volume and applies it to the live session
// when one exists.
func (s *Scheduler) SetVolume(ctx context.Context, percent int) error {
	return s.deliver(ctx, s.control, request{kind: ctrlVolume, volume: percent})
}

// SetLoop switches the rotation's loop mode.
func (s *Scheduler) SetLoop(ctx context.Context, loop bool) error {
	return s.deliver(ctx, s.control, request{kind: ctrlLoop, loop: loop})
}

// Enqueue appends a verified item to the rotation. On an idle device with
// autoplay enabled this starts playback.
func (s *Scheduler) Enqueue(ctx context.Context, item Item) error {
	return s.deliver(ctx, s.control, request{kind: ctrlEnqueue, item: item})
}

// DropAsset removes every rotation entry referencing the asset.
func (s *Scheduler) DropAsset(ctx context.Context, assetID string) error {
	return s.deliver(ctx, s.control, request{kind: ctrlDrop, assetID: assetID})
}

// State returns the scheduler state without probing the player.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status reports the current state. Position progress is sampled from the
// live session on a short deadline and omitted when unavailable.
func (s *Scheduler) Status(ctx context.Context) Status {
	s.mu.Lock()
	status := Status{
		State:        s.state,
		CurrentIndex: s.queue.CurrentIndex(),
		QueueLength:  s.queue.Len(),
		Items:        s.queue.Items(),
		Loop:         s.queue.Loop(),
		Volume:       s.volume,
		Restarts:     s.restarts,
		LastError:    s.lastErr,
	}
	if item, ok := s.queue.Current(); ok {
		status.CurrentAssetID = item.AssetID
		status.CurrentPath = item.Path
		status.CurrentTitle = displayName(item)
	}
	session := s.session
	state := s.state
	s.mu.Unlock()

	if session != nil && (state == StatePlaying || state == StatePaused) {
		probeCtx, cancel := context.WithTimeout(ctx, time.Second)
		if progress, err := session.Progress(probeCtx); err == nil {
			status.Progress = &progress
		}
		cancel()
	}
	return status
}

func (s *Scheduler) deliver(ctx context.Context, ch chan request, req request) error {
	s.mu.Lock()
	running := s.running
	done := s.done
	s.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	req.reply = make(chan error, 1)
	select {
	case ch <- req:
	case <-done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	if s.cfg.Player.AutoPlay {
		if _, ok := s.queue.Current(); ok {
			s.launchCurrent(ctx)
		}
	}

	for {
		// Stage one: urgent requests jump the line so stop and pause are
		// never waiting behind queued control traffic or exit handling.
		select {
		case req := <-s.urgent:
			req.reply <- s.handle(ctx, req)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case req := <-s.urgent:
			req.reply <- s.handle(ctx, req)
		case req := <-s.control:
			req.reply <- s.handle(ctx, req)
		case notice := <-s.exits:
			s.handleExit(ctx, notice)
		case <-s.restartC:
			s.restartC = nil
			s.restartTimer = nil
			if s.currentState() == StateRestarting {
				s.launchCurrent(ctx)
			}
		}
	}
}

func (s *Scheduler) shutdown() {
	s.clearRestart()
	s.stopSession()
	s.saveQueue()
	s.setState(StateStopped)
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		close(done)
	}
	s.logger.Info("playback scheduler stopped")
}

func (s *Scheduler) handle(ctx context.Context, req request) error {
	switch req.kind {
	case ctrlPlay:
		return s.handlePlay(ctx, req.ref)
	case ctrlPause:
		return s.handlePause(ctx)
	case ctrlStop:
		return s.handleStop(ctx)
	case ctrlVolume:
		return s.handleVolume(ctx, req.volume)
	case ctrlLoop:
		return s.handleLoop(ctx, req.loop)
	case ctrlEnqueue:
		return s.handleEnqueue(ctx, req.item)
	case ctrlDrop:
		return s.handleDrop(req.assetID)
	default:
		return fmt.Errorf("unknown control request %d", req.kind)
	}
}

func (s *Scheduler) handlePlay(ctx context.Context, ref string) error {
	if ref != "" {
		return s.playRef(ctx, ref)
	}

	switch s.currentState() {
	case StatePaused:
		if session := s.currentSession(); session != nil {
			if err := session.Pause(ctx, false); err != nil {
				return err
			}
			s.setState(StatePlaying)
			return nil
		}
	case StatePlaying, StateLoading:
		return nil
	case StateRestarting:
		// An explicit play overrides the backoff wait.
		s.clearRestart()
	}

	s.mu.Lock()
	s.opStopped = false
	if s.queue.Exhausted() {
		s.queue.Rewind()
	}
	empty := s.queue.Len() == 0
	s.mu.Unlock()
	if empty {
		return errors.New("nothing queued to play")
	}
	s.resetRestarts()
	if !s.launchCurrent(ctx) {
		return errors.New("no playable item in the queue")
	}
	return nil
}

func (s *Scheduler) playRef(ctx context.Context, ref string) error {
	path, err := s.library.Resolve(ctx, ref)
	if err != nil {
		return err
	}

	s.mu.Lock()
	index, found := s.queue.Find(ref)
	if !found {
		index, found = s.queue.Find(path)
	}
	s.mu.Unlock()
	if !found {
		item := Item{Path: path, Title: library.DeriveTitle(path)}
		if asset, lookupErr := s.library.ByID(ctx, ref); lookupErr == nil && asset != nil {
			item.AssetID = asset.ID
			item.Title = asset.Title
		}
		s.mu.Lock()
		index = s.queue.Append(item)
		s.mu.Unlock()
	}

	s.stopSession()
	s.clearRestart()
	s.resetRestarts()
	s.mu.Lock()
	s.queue.JumpTo(index)
	s.opStopped = false
	s.mu.Unlock()
	s.saveQueue()
	if !s.launchCurrent(ctx) {
		return fmt.Errorf("item %q could not be played", ref)
	}
	return nil
}

func (s *Scheduler) handlePause(ctx context.Context) error {
	switch s.currentState() {
	case StatePaused:
		return nil
	case StatePlaying:
		session := s.currentSession()
		if session == nil {
			return errors.New("nothing is playing")
		}
		if err := session.Pause(ctx, true); err != nil {
			return err
		}
		s.setState(StatePaused)
		return nil
	default:
		return errors.New("nothing is playing")
	}
}

func (s *Scheduler) handleStop(ctx context.Context) error {
	s.clearRestart()
	s.stopSession()
	s.resetRestarts()
	s.mu.Lock()
	s.opStopped = true
	s.mu.Unlock()
	s.setState(StateStopped)
	s.library.SetActive(ctx, "")
	s.saveQueue()
	return nil
}

func (s *Scheduler) handleVolume(ctx context.Context, percent int) error {
	percent = clampPercent(percent)
	s.mu.Lock()
	s.volume = percent
	session := s.session
	s.mu.Unlock()

	if session != nil {
		if err := session.SetVolume(ctx, percent); err != nil {
			return fmt.Errorf("volume stored but live apply failed: %w", err)
		}
		s.logger.Info("volume applied", logging.Int("volume", percent))
		return nil
	}
	s.logger.Info("volume stored for next start", logging.Int("volume", percent))
	return nil
}

func (s *Scheduler) handleLoop(ctx context.Context, loop bool) error {
	s.mu.Lock()
	s.queue.SetLoop(loop)
	session := s.session
	single := s.queue.Len() == 1
	s.mu.Unlock()
	s.saveQueue()

	// A single-item rotation loops inside the player process itself.
	if session != nil && single {
		if err := session.SetLoop(ctx, loop); err != nil {
			s.logger.Warn("live loop toggle failed", logging.Error(err))
		}
	}
	s.logger.Info("loop mode set", logging.Bool("loop", loop))
	return nil
}

func (s *Scheduler) handleEnqueue(ctx context.Context, item Item) error {
	if item.Path == "" {
		return errors.New("queue item requires a path")
	}
	s.mu.Lock()
	s.queue.Append(item)
	state := s.state
	stopped := s.opStopped
	s.mu.Unlock()
	s.saveQueue()
	s.logger.Info("item queued",
		logging.String(logging.FieldAssetID, item.AssetID),
		logging.String("path", item.Path),
	)

	if !s.cfg.Player.AutoPlay {
		return nil
	}
	switch state {
	case StateIdle:
		s.launchCurrent(ctx)
	case StateStopped:
		// The rotation finished earlier; fresh content resumes it. An
		// operator stop keeps the screen dark until an explicit play.
		if !stopped {
			s.launchCurrent(ctx)
		}
	}
	return nil
}

func (s *Scheduler) handleDrop(assetID string) error {
	s.mu.Lock()
	removed := s.queue.RemoveAsset(assetID)
	s.mu.Unlock()
	if removed {
		s.saveQueue()
		s.logger.Info("asset dropped from rotation", logging.String(logging.FieldAssetID, assetID))
	}
	return nil
}

// handleExit consumes one player exit notice. A notice is honored only when
// its token matches the live session; anything else is a stale duplicate
// and ignored, which keeps auto-advance idempotent.
func (s *Scheduler) handleExit(ctx context.Context, notice exitNotice) {
	s.mu.Lock()
	if notice.token != s.token || s.session == nil {
		s.mu.Unlock()
		s.logger.Debug("ignoring stale exit notice", logging.Int64("token", int64(notice.token)))
		return
	}
	s.session = nil
	item, _ := s.queue.Current()
	s.mu.Unlock()

	event := notice.event
	if event.Requested {
		// The stop path has already transitioned the state.
		return
	}
	if event.Clean {
		s.resetRestarts()
		s.advanceAfterEnd(ctx)
		return
	}
	s.handleCrash(ctx, item, event.Err)
}

func (s *Scheduler) advanceAfterEnd(ctx context.Context) {
	s.mu.Lock()
	advanced := s.queue.Advance()
	s.mu.Unlock()
	s.saveQueue()

	if advanced {
		s.launchCurrent(ctx)
		return
	}
	s.logger.Info("rotation finished")
	s.setState(StateStopped)
	s.library.SetActive(ctx, "")
}

func (s *Scheduler) handleCrash(ctx context.Context, item Item, cause error) {
	message := fmt.Sprintf("playback of %s ended abnormally", displayName(item))
	if cause != nil {
		message = fmt.Sprintf("%s: %v", message, cause)
	}
	s.report(message)
	s.mu.Lock()
	s.lastErr = message
	restarts := s.restarts
	s.mu.Unlock()
	s.logger.Warn("playback crashed",
		logging.String("path", item.Path),
		logging.Int(logging.FieldAttempt, restarts),
		logging.Error(cause),
	)

	if !s.cfg.System.EnableAutoRestart {
		s.setState(StateStopped)
		s.library.SetActive(ctx, "")
		return
	}
	if restarts >= s.cfg.System.MaxRestarts {
		s.report(fmt.Sprintf("restart limit reached for %s, playback stopped", displayName(item)))
		s.logger.Error("restart limit reached",
			logging.String("path", item.Path),
			logging.Int("limit", s.cfg.System.MaxRestarts),
		)
		s.setState(StateStopped)
		s.library.SetActive(ctx, "")
		return
	}

	s.mu.Lock()
	s.restarts++
	s.mu.Unlock()
	s.recorder.IncPlayerRestart()
	s.setState(StateRestarting)
	delay := s.cfg.RestartDelay()
	s.restartTimer = time.NewTimer(delay)
	s.restartC = s.restartTimer.C
	s.logger.Info("relaunch scheduled",
		logging.String("path", item.Path),
		logging.Duration("delay", delay),
		logging.Int(logging.FieldAttempt, restarts+1),
	)
}

// launchCurrent starts the item under the cursor, pruning entries whose
// file vanished so a missing asset never stalls the rotation. It reports
// whether a session is now live.
func (s *Scheduler) launchCurrent(ctx context.Context) bool {
	s.clearRestart()

	for remaining := s.queueLen(); remaining > 0; remaining-- {
		item, ok := s.currentItem()
		if !ok {
			if s.queueLoop() && s.queueLen() > 0 {
				s.mu.Lock()
				s.queue.Rewind()
				s.mu.Unlock()
				continue
			}
			break
		}
		if _, err := os.Stat(item.Path); err != nil {
			s.report(fmt.Sprintf("queue item %s is missing from disk, skipped", displayName(item)))
			s.logger.Warn("queue item vanished, pruned", logging.String("path", item.Path))
			s.mu.Lock()
			s.queue.RemoveAt(s.queue.CurrentIndex())
			s.mu.Unlock()
			s.saveQueue()
			continue
		}

		s.setState(StateLoading)
		opts := player.LaunchOptions{
			Volume:       s.effectiveVolume(item),
			Loop:         s.queueLoop() && s.queueLen() == 1,
			ShowControls: s.cfg.Player.ShowControls,
		}
		session, err := s.launch(ctx, item.Path, opts)
		if err != nil {
			s.handleCrash(ctx, item, err)
			return false
		}

		s.mu.Lock()
		s.token++
		token := s.token
		s.session = session
		s.mu.Unlock()
		s.wg.Add(1)
		go s.watch(ctx, token, session)

		s.setState(StatePlaying)
		s.library.SetActive(ctx, item.Path)
		s.saveQueue()
		s.warnMissingNext()
		return true
	}

	s.library.SetActive(ctx, "")
	if s.queueLen() == 0 {
		s.setState(StateIdle)
	} else {
		s.setState(StateStopped)
	}
	return false
}

func (s *Scheduler) watch(ctx context.Context, token uint64, session player.Controller) {
	defer s.wg.Done()
	select {
	case event := <-session.Done():
		select {
		case s.exits <- exitNotice{token: token, event: event}:
		case <-ctx.Done():
		}
	case <-ctx.Done():
	}
}

// warnMissingNext checks the upcoming item's file while the current one
// plays, so operators hear about a hole in the rotation before it is hit.
func (s *Scheduler) warnMissingNext() {
	if !s.cfg.Player.PreloadNext {
		return
	}
	s.mu.Lock()
	items := s.queue.Items()
	next := s.queue.CurrentIndex() + 1
	if next >= len(items) && s.queue.Loop() {
		next = 0
	}
	var upcoming *Item
	if next < len(items) && next != s.queue.CurrentIndex() {
		upcoming = &items[next]
	}
	s.mu.Unlock()

	if upcoming == nil {
		s.missingNext = ""
		return
	}
	if _, err := os.Stat(upcoming.Path); err == nil {
		s.missingNext = ""
		return
	}
	if s.missingNext == upcoming.Path {
		return
	}
	s.missingNext = upcoming.Path
	s.report(fmt.Sprintf("next item %s is missing from disk and will be skipped", displayName(*upcoming)))
	s.logger.Warn("next queue item missing", logging.String("path", upcoming.Path))
}

// stopSession tears down the live player process. It runs on its own
// deadline because teardown must finish even when the triggering context is
// already canceled. Any exit notice still in flight becomes stale.
func (s *Scheduler) stopSession() {
	s.mu.Lock()
	session := s.session
	s.session = nil
	s.token++
	s.mu.Unlock()
	if session == nil {
		return
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), sessionStopTimeout)
	defer cancel()
	if err := session.Stop(stopCtx); err != nil {
		s.logger.Warn("player stop incomplete", logging.Error(err))
	}
}

func (s *Scheduler) clearRestart() {
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	s.restartC = nil
}

func (s *Scheduler) saveQueue() {
	if err := s.queue.Save(s.snapshotPath); err != nil {
		s.logger.Warn("queue snapshot save failed", logging.Error(err))
	}
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()
	if changed {
		s.recorder.IncStateTransition(string(state))
		s.logger.Info("state changed", logging.String(logging.FieldState, string(state)))
	}
}

func (s *Scheduler) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) currentSession() player.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Scheduler) currentItem() (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Current()
}

func (s *Scheduler) queueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

func (s *Scheduler) queueLoop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Loop()
}

func (s *Scheduler) resetRestarts() {
	s.mu.Lock()
	s.restarts = 0
	s.mu.Unlock()
}

func (s *Scheduler) effectiveVolume(item Item) int {
	if item.VolumeOverride != nil {
		return clampPercent(*item.VolumeOverride)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

func clampPercent(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}

func displayName(item Item) string {
	if item.Title != "" {
		return item.Title
	}
	if item.Path != "" {
		return filepath.Base(item.Path)
	}
	return "unknown item"
}
