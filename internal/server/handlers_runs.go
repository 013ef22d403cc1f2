package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/neurogenx/neurogenx/internal/champion"
	"github.com/neurogenx/neurogenx/internal/model"
	"github.com/neurogenx/neurogenx/internal/orchestrator"
)

// createRunRequest is the body of POST /v1/runs. A missing run_budget
// takes the configured default; an explicit 0 is passed through.
type createRunRequest struct {
	DatasetID string `json:"dataset_id"`
	Target    string `json:"target"`
	RunBudget *int   `json:"run_budget,omitempty"`
}

// HandleCreateRun handles POST /v1/runs.
func (h *Handlers) HandleCreateRun(w http.ResponseWriter, r *http.Request) {
	var body createRunRequest
	if err := decodeJSON(w, r, &body, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	req := model.RunRequest{
		DatasetID:   body.DatasetID,
		Target:      body.Target,
		TrialBudget: h.defaultBudget,
	}
	if body.RunBudget != nil {
		req.TrialBudget = *body.RunBudget
	}

	id, err := h.runs.StartRun(r.Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	case errors.Is(err, orchestrator.ErrShuttingDown):
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "server is shutting down")
		return
	default:
		h.logger.Error("start run", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to start run")
		return
	}

	w.Header().Set("Location", "/v1/runs/"+id.String())
	writeJSON(w, r, http.StatusAccepted, model.CreateRunResponse{RunID: id, Status: model.RunStatusPending})
}

// HandleGetRun handles GET /v1/runs/{run_id}.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRunID(w, r)
	if !ok {
		return
	}
	rec, err := h.runs.GetStatus(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
			return
		}
		h.logger.Error("get run", "run_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to load run")
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

// HandleListRuns handles GET /v1/runs?status=&limit=, newest first. With a
// run store configured this includes runs evicted from memory.
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var status model.RunStatus
	if s := q.Get("status"); s != "" {
		status = model.RunStatus(s)
		if !status.Valid() {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown status "+strconv.Quote(s))
			return
		}
	}
	limit := 100
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	runs, err := h.runs.List(r.Context(), status, limit)
	if err != nil {
		h.logger.Error("list runs", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to list runs")
		return
	}
	writeJSON(w, r, http.StatusOK, runs)
}

// HandleCancelRun handles POST /v1/runs/{run_id}/cancel. Cancellation is
// asynchronous: 202 means the run was asked to stop.
func (h *Handlers) HandleCancelRun(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRunID(w, r)
	if !ok {
		return
	}
	err := h.runs.CancelRun(r.Context(), id)
	switch {
	case err == nil:
	case isNotFound(err):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
		return
	case errors.Is(err, orchestrator.ErrRunTerminal):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
		return
	default:
		h.logger.Error("cancel run", "run_id", id, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to cancel run")
		return
	}
	writeJSON(w, r, http.StatusAccepted, map[string]string{"run_id": id.String(), "status": "cancelling"})
}

// HandleChampion handles GET /v1/champion.
func (h *Handlers) HandleChampion(w http.ResponseWriter, r *http.Request) {
	if h.champions == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "champion registry not configured")
		return
	}
	m, err := h.champions.CurrentChampion(r.Context())
	if err != nil {
		if errors.Is(err, champion.ErrNoChampion) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no champion registered")
			return
		}
		h.logger.Error("load champion", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to load champion")
		return
	}
	writeJSON(w, r, http.StatusOK, m)
}
