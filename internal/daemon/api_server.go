package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"kiosk/internal/api"
	"kiosk/internal/config"
	"kiosk/internal/logging"
	"kiosk/internal/metrics"
)

// apiServer is the read-only localhost HTTP surface: status, queue, tasks,
// assets, health, and the metrics registry. Control stays on the IPC socket
// and the broker.
type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

// newAPIServer returns nil when no bind address is configured; the nil
// server's start and stop are no-ops.
func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	if cfg == nil || d == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.System.APIBind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}

	// Health stays unauthenticated so liveness probes need no secret.
	token := strings.TrimSpace(cfg.System.APIToken)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.requireToken(token, srv.handleStatus))
	mux.HandleFunc("/api/queue", srv.requireToken(token, srv.handleQueue))
	mux.HandleFunc("/api/tasks", srv.requireToken(token, srv.handleTasks))
	mux.HandleFunc("/api/assets", srv.requireToken(token, srv.handleAssets))
	mux.HandleFunc("/api/health", srv.handleHealth)
	if d.registry != nil {
		mux.Handle("/metrics", metrics.HTTPHandler(d.registry))
	}

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// addr reports the bound listen address, empty before start.
func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	payload := api.DaemonStatus{
		Running:         status.Running,
		PID:             status.PID,
		UptimeSec:       int64(status.Uptime.Seconds()),
		BrokerConnected: status.BrokerConnected,
		Player:          status.Player,
		Tasks:           api.FromHealth(status.Tasks),
		AssetCount:      status.AssetCount,
		DatabasePath:    status.DatabasePath,
		LockFilePath:    status.LockFilePath,
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Queue(r.Context()))
}

func (s *apiServer) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if all := r.URL.Query().Get("all"); all == "1" || strings.EqualFold(all, "true") {
		tasks, err := s.daemon.AllTasks(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, api.TaskListResponse{Tasks: api.FromTasks(tasks)})
		return
	}
	views, err := s.daemon.Tasks(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.TaskListResponse{Tasks: api.FromTaskViews(views)})
}

func (s *apiServer) handleAssets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	assets, err := s.daemon.Assets(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.AssetListResponse{Assets: api.FromAssets(assets)})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	health, err := s.daemon.st.Health(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.HealthResponse{Status: "ok", Tasks: api.FromHealth(health)})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api"))
	}
	return logging.NewNop()
}
