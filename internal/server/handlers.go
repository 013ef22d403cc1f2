package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/neurogenx/neurogenx/api"
	"github.com/neurogenx/neurogenx/internal/auth"
	"github.com/neurogenx/neurogenx/internal/broadcast"
	"github.com/neurogenx/neurogenx/internal/champion"
	"github.com/neurogenx/neurogenx/internal/model"
)

// RunService is the run control surface the HTTP handlers need.
type RunService interface {
	StartRun(ctx context.Context, req model.RunRequest) (uuid.UUID, error)
	GetStatus(ctx context.Context, id uuid.UUID) (model.RunRecord, error)
	CancelRun(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, status model.RunStatus, limit int) ([]model.RunRecord, error)
	Active() int
}

// Pinger checks a backing store for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	runs                RunService
	broadcaster         *broadcast.Broadcaster
	champions           champion.Registry
	jwtMgr              *auth.JWTManager
	adminKey            *auth.AdminKey
	pinger              Pinger
	logger              *slog.Logger
	version             string
	defaultBudget       int
	maxRequestBodyBytes int64
	openapiSpec         []byte
	startedAt           time.Time
}

// NewHandlers creates a new Handlers from the server config.
func NewHandlers(cfg ServerConfig) *Handlers {
	return &Handlers{
		runs:                cfg.Runs,
		broadcaster:         cfg.Broadcaster,
		champions:           cfg.Champions,
		jwtMgr:              cfg.JWTMgr,
		adminKey:            cfg.AdminKey,
		pinger:              cfg.Pinger,
		logger:              cfg.Logger,
		version:             cfg.Version,
		defaultBudget:       cfg.DefaultTrialBudget,
		maxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		openapiSpec:         cfg.OpenAPISpec,
		startedAt:           time.Now(),
	}
}

// HandleAuthToken handles POST /auth/token by exchanging the admin API key
// for a bearer token carrying the runs:write scope.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	if h.jwtMgr == nil || h.adminKey == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "authentication is not enabled")
		return
	}

	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.APIKey == "" || !h.adminKey.Verify(req.APIKey) {
		h.logger.Warn("auth: rejected token request", "remote_addr", r.RemoteAddr)
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid api key")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken("admin", auth.ScopeRunsWrite)
	if err != nil {
		h.logger.Error("auth: issue token", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to issue token")
		return
	}
	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
}

// HandleHealth handles GET /health (no auth required).
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status:     "healthy",
		Version:    h.version,
		Uptime:     int64(time.Since(h.startedAt).Seconds()),
		ActiveRuns: h.runs.Active(),
	}
	if h.broadcaster != nil {
		resp.Observers = h.broadcaster.Len()
	}

	status := http.StatusOK
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.pinger.Ping(ctx); err != nil {
			h.logger.Warn("health: store ping failed", "error", err)
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, r, status, resp)
}

// HandleOpenAPISpec serves the embedded OpenAPI document.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "openapi spec not available")
		return
	}
	w.Header().Set("Content-Type", api.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(h.openapiSpec)
}

// parseRunID reads the {run_id} path value, writing a 400 on failure.
func parseRunID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("run_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "run_id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func isNotFound(err error) bool {
	return errors.Is(err, model.ErrRunNotFound)
}
