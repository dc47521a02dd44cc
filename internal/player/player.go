package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"kiosk/internal/config"
	"kiosk/internal/faults"
	"kiosk/internal/logging"
)

var commandContext = exec.CommandContext

const (
	quitGrace = 3 * time.Second
	termGrace = 2 * time.Second
)

// ExitEvent describes how a playback session ended.
type ExitEvent struct {
	// Clean is true when mpv reached end of file and exited zero.
	Clean bool
	// Requested is true when the exit was asked for via Stop.
	Requested bool
	Err       error
}

// LaunchOptions carries the per-item settings applied at process start.
type LaunchOptions struct {
	Volume       int
	Loop         bool
	ShowControls bool
}

// Progress is a point-in-time sample of playback position.
type Progress struct {
	PositionSec float64 `json:"positionSec"`
	DurationSec float64 `json:"durationSec"`
	Percent     float64 `json:"percent"`
}

// Controller is the subset of session behaviour the scheduler drives.
type Controller interface {
	Pause(ctx context.Context, paused bool) error
	SetVolume(ctx context.Context, percent int) error
	SetLoop(ctx context.Context, loop bool) error
	Progress(ctx context.Context) (Progress, error)
	Stop(ctx context.Context) error
	Done() <-chan ExitEvent
	MediaPath() string
}

// LaunchFunc starts playback of one item. The production implementation is
// Launcher.Launch; tests swap in a fake.
type LaunchFunc func(ctx context.Context, mediaPath string, opts LaunchOptions) (Controller, error)

// Launcher starts mpv sessions configured for unattended playback.
type Launcher struct {
	binary     string
	socketPath string
	logger     *slog.Logger
}

// NewLauncher builds a launcher from the player configuration.
func NewLauncher(cfg *config.Config, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	binary := cfg.Player.Binary
	if binary == "" {
		binary = "mpv"
	}
	return &Launcher{
		binary:     binary,
		socketPath: cfg.PlayerSocketPath(),
		logger:     logging.NewComponentLogger(logger, "player"),
	}
}

// Launch starts one mpv process for the given file. The returned session's
// Done channel delivers exactly one ExitEvent.
func (l *Launcher) Launch(ctx context.Context, mediaPath string, opts LaunchOptions) (Controller, error) {
	if mediaPath == "" {
		return nil, errors.New("media path required")
	}
	if _, err := os.Stat(mediaPath); err != nil {
		return nil, faults.Wrap(faults.ErrCorruptPayload, "player", "launch", fmt.Sprintf("media file %s", mediaPath), err)
	}

	// A stale socket from a previous run would make mpv fail to bind.
	_ = os.Remove(l.socketPath)

	osc := "no"
	if opts.ShowControls {
		osc = "yes"
	}
	args := []string{
		"--no-terminal",
		"--force-window=immediate",
		"--keep-open=no",
		"--osc=" + osc,
		fmt.Sprintf("--volume=%d", opts.Volume),
		"--input-ipc-server=" + l.socketPath,
	}
	if opts.Loop {
		args = append(args, "--loop-file=inf")
	}
	args = append(args, mediaPath)

	cmd := commandContext(ctx, l.binary, args...) //nolint:gosec
	if err := cmd.Start(); err != nil {
		return nil, faults.Wrap(faults.ErrProcessCrash, "player", "launch", fmt.Sprintf("start %s", l.binary), err)
	}

	session := &Session{
		mediaPath:  mediaPath,
		socketPath: l.socketPath,
		cmd:        cmd,
		logger:     l.logger,
		done:       make(chan ExitEvent, 1),
		exited:     make(chan struct{}),
	}
	l.logger.Info("playback process started",
		logging.String("path", mediaPath),
		logging.Int("pid", cmd.Process.Pid),
		logging.Int("volume", opts.Volume),
		logging.Bool("loop", opts.Loop),
	)

	go session.wait()
	return session, nil
}

// Session is one running mpv process plus its control socket.
type Session struct {
	mediaPath  string
	socketPath string
	cmd        *exec.Cmd
	logger     *slog.Logger

	done          chan ExitEvent
	exited        chan struct{}
	stopRequested atomic.Bool

	ipcMu sync.Mutex
	ipc   *ipcClient
}

func (s *Session) wait() {
	err := s.cmd.Wait()
	event := ExitEvent{
		Clean:     err == nil,
		Requested: s.stopRequested.Load(),
		Err:       err,
	}
	s.closeIPC()
	_ = os.Remove(s.socketPath)

	if event.Clean {
		s.logger.Debug("playback process exited cleanly", logging.String("path", s.mediaPath))
	} else if event.Requested {
		s.logger.Debug("playback process stopped on request", logging.String("path", s.mediaPath))
	} else {
		s.logger.Warn("playback process crashed",
			logging.String("path", s.mediaPath),
			logging.Error(err),
		)
	}
	s.done <- event
	close(s.exited)
}

// Done delivers the session's single exit event.
func (s *Session) Done() <-chan ExitEvent {
	return s.done
}

// MediaPath returns the file this session is playing.
func (s *Session) MediaPath() string {
	return s.mediaPath
}

// PID returns the player process id.
func (s *Session) PID() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

func (s *Session) client(ctx context.Context) (*ipcClient, error) {
	s.ipcMu.Lock()
	defer s.ipcMu.Unlock()
	if s.ipc != nil {
		return s.ipc, nil
	}
	client, err := dialIPC(ctx, s.socketPath)
	if err != nil {
		return nil, faults.Wrap(faults.ErrResourceBusy, "player", "ipc", "control socket unavailable", err)
	}
	s.ipc = client
	return client, nil
}

func (s *Session) closeIPC() {
	s.ipcMu.Lock()
	defer s.ipcMu.Unlock()
	if s.ipc != nil {
		_ = s.ipc.Close()
		s.ipc = nil
	}
}

// Pause suspends or resumes playback without ending the session.
func (s *Session) Pause(ctx context.Context, paused bool) error {
	client, err := s.client(ctx)
	if err != nil {
		return err
	}
	return client.SetProperty(ctx, "pause", paused)
}

// SetVolume applies a volume change to the running process.
func (s *Session) SetVolume(ctx context.Context, percent int) error {
	client, err := s.client(ctx)
	if err != nil {
		return err
	}
	return client.SetProperty(ctx, "volume", percent)
}

// SetLoop toggles single-file looping on the running process.
func (s *Session) SetLoop(ctx context.Context, loop bool) error {
	client, err := s.client(ctx)
	if err != nil {
		return err
	}
	value := "no"
	if loop {
		value = "inf"
	}
	return client.SetProperty(ctx, "loop-file", value)
}

// Progress samples the current position from the running process. Duration
// can be zero early in startup before mpv has probed the file.
func (s *Session) Progress(ctx context.Context) (Progress, error) {
	client, err := s.client(ctx)
	if err != nil {
		return Progress{}, err
	}
	position, err := client.GetFloat(ctx, "time-pos")
	if err != nil {
		return Progress{}, err
	}
	progress := Progress{PositionSec: position}
	if duration, err := client.GetFloat(ctx, "duration"); err == nil {
		progress.DurationSec = duration
	}
	if percent, err := client.GetFloat(ctx, "percent-pos"); err == nil {
		progress.Percent = percent
	}
	return progress, nil
}

// Stop ends the session: a polite IPC quit first, then SIGTERM, then
// SIGKILL. It returns once the process has exited; the exit event stays
// available on Done for the scheduler.
func (s *Session) Stop(ctx context.Context) error {
	s.stopRequested.Store(true)

	if _, statErr := os.Stat(s.socketPath); statErr == nil {
		if client, err := s.client(ctx); err == nil {
			_ = client.Quit(ctx)
			select {
			case <-s.exited:
				return nil
			case <-time.After(quitGrace):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-s.exited:
			return nil
		case <-time.After(termGrace):
		case <-ctx.Done():
			return ctx.Err()
		}
		_ = s.cmd.Process.Kill()
	}

	select {
	case <-s.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Controller = (*Session)(nil)
