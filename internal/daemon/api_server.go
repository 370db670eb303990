package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"mediaguard/internal/config"
	"mediaguard/internal/logging"
	"mediaguard/internal/metrics"
	"mediaguard/internal/services"
	"mediaguard/internal/tiering"
	"mediaguard/internal/uploads"
)

type apiServer struct {
	bind    string
	baseURL string
	logger  *slog.Logger
	daemon  *Daemon
	records RecordReader
	files   Rehydrator

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, records RecordReader, files Rehydrator, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:    strings.TrimSpace(cfg.Paths.APIBind),
		baseURL: strings.TrimRight(cfg.API.PublicBaseURL, "/"),
		logger:  logging.NewComponentLogger(logger, "api-server"),
		daemon:  d,
		records: records,
		files:   files,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.API.Token),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware(token))
		r.Get("/status", s.handleDaemonStatus)
		r.Get("/uploads/{id}/status", s.handleUploadStatus)
		r.Get("/uploads/{filename}", s.handleUploadFile)
	})
	return r
}

// observe counts requests by matched route pattern and status code.
func (s *apiServer) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		metrics.APIRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
		s.logger.Debug("api request",
			logging.String("method", r.Method),
			logging.String("route", route),
			logging.Int("status", code),
			logging.Duration("elapsed", time.Since(start)),
			logging.String(logging.FieldCorrelationID, chimiddleware.GetReqID(r.Context())),
		)
	})
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil || s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
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

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.records.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", logging.Error(err))
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type daemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	LockFilePath string         `json:"lock_file_path"`
	DatabasePath string         `json:"database_path"`
	Counts       map[string]int `json:"counts"`
	Dependencies []dependency   `json:"dependencies"`
}

type dependency struct {
	Name      string `json:"name"`
	Command   string `json:"command"`
	Optional  bool   `json:"optional"`
	Available bool   `json:"available"`
	Detail    string `json:"detail,omitempty"`
}

func (s *apiServer) handleDaemonStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	payload := daemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		LockFilePath: status.LockFilePath,
		DatabasePath: status.DatabasePath,
		Counts:       make(map[string]int, len(status.Counts)),
		Dependencies: make([]dependency, len(status.Dependencies)),
	}
	for key, count := range status.Counts {
		payload.Counts[string(key)] = count
	}
	for i, dep := range status.Dependencies {
		payload.Dependencies[i] = dependency{
			Name:      dep.Name,
			Command:   dep.Command,
			Optional:  dep.Optional,
			Available: dep.Available,
			Detail:    dep.Detail,
		}
	}
	s.writeJSON(w, http.StatusOK, payload)
}

// handleUploadStatus serves the owner-facing status descriptor. A user_id
// query parameter restricts the lookup to that owner.
func (s *apiServer) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid upload id")
		return
	}
	var rec *uploads.Record
	if raw := strings.TrimSpace(r.URL.Query().Get("user_id")); raw != "" {
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid user id")
			return
		}
		rec, err = s.records.GetForOwner(r.Context(), id, userID)
	} else {
		rec, err = s.records.Get(r.Context(), id)
	}
	if errors.Is(err, services.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "upload not found")
		return
	}
	if err != nil {
		s.logger.Error("status lookup failed", logging.Int64(logging.FieldUploadID, id), logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "status unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, resolveStatus(rec.View(), s.baseURL))
}

// handleUploadFile streams a media file, rehydrating it from durable storage
// when the local copy was pruned.
func (s *apiServer) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	if !validFilename(name) {
		s.writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}
	path, err := s.files.Rehydrate(r.Context(), name)
	if err != nil {
		if tiering.IsNotFound(err) {
			s.writeError(w, http.StatusNotFound, "file not found")
			return
		}
		logging.WarnWithContext(s.logger, "rehydrating read failed", "rehydrate_failed",
			logging.String("filename", name),
			logging.Error(err),
			logging.String(logging.FieldImpact, "file temporarily unavailable"),
			logging.String(logging.FieldErrorHint, "check object storage connectivity"),
		)
		s.writeError(w, http.StatusServiceUnavailable, "file temporarily unavailable")
		return
	}
	f, err := os.Open(path)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "stat failed")
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func validFilename(name string) bool {
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return false
	}
	return filepath.Base(name) == name && !strings.ContainsAny(name, `/\`)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
