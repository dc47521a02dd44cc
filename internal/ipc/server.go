package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strconv"
	"sync"
	"time"

	"kiosk/internal/api"
	"kiosk/internal/command"
	"kiosk/internal/daemon"
	"kiosk/internal/logging"
	"kiosk/internal/logs"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName("Kiosk", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("ipc server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the socket file manually before the next start"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.UptimeSec = int64(status.Uptime.Seconds())
	resp.BrokerConnected = status.BrokerConnected
	resp.Player = status.Player
	resp.Tasks = api.FromHealth(status.Tasks)
	resp.AssetCount = status.AssetCount
	resp.DatabasePath = status.DatabasePath
	resp.LockPath = status.LockFilePath
	resp.LogPath = s.daemon.LogPath()
	return nil
}

func (s *service) Queue(_ QueueRequest, resp *QueueResponse) error {
	resp.Queue = s.daemon.Queue(s.ctx)
	return nil
}

func (s *service) Tasks(req TasksRequest, resp *TasksResponse) error {
	if req.All {
		tasks, err := s.daemon.AllTasks(s.ctx)
		if err != nil {
			return err
		}
		resp.Tasks = api.FromTasks(tasks)
		return nil
	}
	views, err := s.daemon.Tasks(s.ctx)
	if err != nil {
		return err
	}
	resp.Tasks = api.FromTaskViews(views)
	return nil
}

func (s *service) Assets(_ AssetsRequest, resp *AssetsResponse) error {
	assets, err := s.daemon.Assets(s.ctx)
	if err != nil {
		return err
	}
	resp.Assets = api.FromAssets(assets)
	return nil
}

// Control runs local playback commands through the same handler as broker
// input, so a CLI verb and an MQTT verb cannot diverge. A play with a ref is
// the one local-only extension and goes straight to the scheduler.
func (s *service) Control(req ControlRequest, resp *ControlResponse) error {
	name, ok := command.ParseName(req.Action)
	if !ok {
		return fmt.Errorf("unknown action %q", req.Action)
	}

	if name == command.Play && req.Ref != "" {
		if err := s.daemon.Play(s.ctx, req.Ref); err != nil {
			resp.Status = string(command.AckError)
			resp.Detail = err.Error()
			return nil
		}
		resp.Status = string(command.AckOK)
		return nil
	}

	cmd := command.Command{Name: name, Volume: req.Volume, Loop: req.Loop}
	ack := s.daemon.HandleCommand(s.ctx, cmd)
	if ack == nil {
		resp.Status = string(command.AckOK)
		return nil
	}
	resp.Status = string(ack.Status)
	resp.Detail = ack.Detail
	return nil
}

func (s *service) Distribute(req DistributeRequest, resp *DistributeResponse) error {
	expireAt, err := parseExpire(req.ExpireAt)
	if err != nil {
		return err
	}
	spec := command.TaskSpec{
		ID:       req.ID,
		URI:      req.URI,
		Checksum: req.Checksum,
		DestName: req.DestName,
		Priority: req.Priority,
		ExpireAt: expireAt,
		Extract:  req.Extract,
	}
	spec, err = spec.Normalize()
	if err != nil {
		return err
	}

	task, created, err := s.daemon.Distribute(s.ctx, spec)
	if err != nil {
		return err
	}
	resp.TaskID = task.ID
	resp.Created = created
	resp.Status = string(task.Status)
	resp.FinalPath = task.FinalPath
	s.logger.Info("distribute accepted via ipc",
		logging.String(logging.FieldTaskID, task.ID),
		logging.Bool("created", created))
	return nil
}

func (s *service) RemoveAsset(req RemoveAssetRequest, resp *RemoveAssetResponse) error {
	if req.ID == "" {
		return errors.New("remove requires an asset id")
	}
	deferred, err := s.daemon.RemoveAsset(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Deferred = deferred
	s.logger.Info("asset removed via ipc",
		logging.String(logging.FieldAssetID, req.ID),
		logging.Bool("deferred", deferred))
	return nil
}

func (s *service) Report(_ ReportRequest, resp *ReportResponse) error {
	resp.Report = s.daemon.Report(s.ctx)
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	logPath := s.daemon.LogPath()
	if logPath == "" {
		resp.Offset = 0
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	options := logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, logPath, options)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			resp.Offset = result.Offset
			return nil
		}
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}

// parseExpire reads a deadline as RFC 3339 or epoch seconds.
func parseExpire(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed.UTC(), nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("expire time %q is neither RFC 3339 nor epoch seconds", value)
}
