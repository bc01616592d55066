package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/clawbowl/clawbowl/pkg/config"
	"github.com/clawbowl/clawbowl/pkg/log"
	"github.com/clawbowl/clawbowl/pkg/manager"
	"github.com/clawbowl/clawbowl/pkg/metrics"
	"github.com/clawbowl/clawbowl/pkg/ports"
	"github.com/clawbowl/clawbowl/pkg/proxy"
	"github.com/clawbowl/clawbowl/pkg/runtime"
	"github.com/clawbowl/clawbowl/pkg/storage"
	"github.com/clawbowl/clawbowl/pkg/types"
	"github.com/clawbowl/clawbowl/pkg/warmup"
)

// Server exposes the orchestrator's HTTP surface: warmup, chat proxy,
// instance control, and device token registration.
type Server struct {
	cfg   *config.Config
	mgr   *manager.Manager
	warm  *warmup.Service
	prox  *proxy.Proxy
	store storage.Store

	router *httprouter.Router
	http   *http.Server
}

// NewServer wires the routes.
func NewServer(cfg *config.Config, mgr *manager.Manager, warm *warmup.Service, prox *proxy.Proxy, store storage.Store) *Server {
	s := &Server{
		cfg:    cfg,
		mgr:    mgr,
		warm:   warm,
		prox:   prox,
		store:  store,
		router: httprouter.New(),
	}

	s.router.HandlerFunc(http.MethodGet, "/healthz", s.handleHealthz)
	s.router.Handler(http.MethodGet, "/metrics", metrics.Handler())

	s.router.POST("/api/v2/chat/warmup", s.authenticated(s.handleWarmup))
	s.router.POST("/api/v2/chat/completions", s.authenticated(s.handleChat))
	s.router.GET("/api/v2/instance", s.authenticated(s.handleInstanceStatus))
	s.router.POST("/api/v2/instance/restart", s.authenticated(s.handleInstanceRestart))
	s.router.DELETE("/api/v2/instance", s.authenticated(s.handleInstanceDestroy))
	s.router.POST("/api/v2/notifications/device-token", s.authenticated(s.handleRegisterDeviceToken))
	s.router.DELETE("/api/v2/notifications/device-token", s.authenticated(s.handleDeleteDeviceToken))

	return s
}

// Start begins serving on the configured address. Blocks until shutdown.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:        s.cfg.ListenAddr,
		Handler:     s.instrument(s.router),
		ReadTimeout: 30 * time.Second,
		// Chat streams stay open for minutes; rely on per-request
		// contexts instead of a server-wide write deadline.
		IdleTimeout: 60 * time.Second,
	}
	log.WithComponent("api").Info().Str("addr", s.cfg.ListenAddr).Msg("API server listening")
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Handler returns the routed handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.instrument(s.router)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleWarmup(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	userID, tier := requestUser(r)
	result, err := s.warm.Warmup(r.Context(), userID, tier)
	if err != nil {
		s.writeOperationError(w, userID, err, "Warmup failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	userID, tier := requestUser(r)

	var req proxy.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	sb, err := s.mgr.EnsureRunning(r.Context(), userID, tier)
	if err != nil {
		s.writeOperationError(w, userID, err, "Ensure running failed")
		return
	}
	s.mgr.Touch(userID)

	if !req.Stream {
		out, err := s.prox.Chat(r.Context(), sb, &req)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "chat request failed")
			return
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	emit := &sseEmitter{w: w, flusher: flusher}
	if err := s.prox.ChatStream(r.Context(), sb, &req, emit); err != nil && !errors.Is(err, context.Canceled) {
		log.WithUserID(userID).Error().Err(err).Msg("Chat stream failed")
	}
}

func (s *Server) handleInstanceStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	userID, _ := requestUser(r)
	sb, err := s.mgr.Get(userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no instance")
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, sandboxStatus(sb))
}

func (s *Server) handleInstanceRestart(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	userID, tier := requestUser(r)
	sb, err := s.mgr.Restart(r.Context(), userID, tier)
	if err != nil {
		s.writeOperationError(w, userID, err, "Restart failed")
		return
	}
	writeJSON(w, http.StatusOK, sandboxStatus(sb))
}

func (s *Server) handleInstanceDestroy(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	userID, _ := requestUser(r)
	if err := s.mgr.Destroy(r.Context(), userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no instance")
			return
		}
		s.writeOperationError(w, userID, err, "Destroy failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegisterDeviceToken(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	userID, _ := requestUser(r)

	var body struct {
		Token    string `json:"token"`
		Platform string `json:"platform"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	if body.Platform == "" {
		body.Platform = "ios"
	}

	tok := &types.DeviceToken{
		UserID:    userID,
		Token:     body.Token,
		Platform:  body.Platform,
		CreatedAt: time.Now(),
	}
	if err := s.store.PutDeviceToken(tok); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to register token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeleteDeviceToken(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	userID, _ := requestUser(r)

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	if err := s.store.DeleteDeviceToken(userID, body.Token); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeOperationError maps lifecycle errors onto the documented HTTP
// statuses; raw runtime errors never reach the client.
func (s *Server) writeOperationError(w http.ResponseWriter, userID string, err error, msg string) {
	log.WithUserID(userID).Error().Err(err).Msg(msg)
	switch {
	case errors.Is(err, ports.ErrNoPortsAvailable):
		writeError(w, http.StatusServiceUnavailable, "no capacity available")
	case errors.Is(err, runtime.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "runtime unavailable")
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "no instance")
	default:
		writeError(w, http.StatusInternalServerError, "operation failed")
	}
}

func sandboxStatus(sb *types.Sandbox) map[string]interface{} {
	return map[string]interface{}{
		"user_id":        sb.UserID,
		"tier":           sb.Tier,
		"state":          sb.State,
		"port":           sb.Port,
		"container_name": sb.ContainerName,
		"created_at":     sb.CreatedAt,
		"last_active_at": sb.LastActiveAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// instrument wraps the router with request metrics.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE streaming working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
