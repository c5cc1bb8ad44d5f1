package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "munireports/internal/errors"
	"munireports/internal/middleware"
	"munireports/internal/services"
)

// RunRequest starts a run for every city × year combination
type RunRequest struct {
	Cities      []string `json:"cities" validate:"required,min=1,max=100,dive,city"`
	Years       []int    `json:"years" validate:"required,min=1,max=30,dive,report_year"`
	Concurrency int      `json:"concurrency" validate:"gte=0,lte=16"`
}

// RunAccepted is the response to a started run
type RunAccepted struct {
	RunID  string `json:"run_id"`
	Pairs  int    `json:"pairs"`
	Status string `json:"status"`
}

// RunsHandler exposes the run service
type RunsHandler struct {
	runs         RunManager
	validator    *middleware.Validator
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewRunsHandler creates a runs handler
func NewRunsHandler(runs RunManager, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *RunsHandler {
	if runs == nil {
		panic("runs cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RunsHandler{
		runs:         runs,
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "runs")),
	}
}

// Routes returns the runs router
func (h *RunsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.StartRun)
	r.Get("/", h.ListRuns)
	r.Route("/{runID}", func(r chi.Router) {
		r.Get("/", h.GetRun)
		r.Delete("/", h.CancelRun)
	})
	return r
}

// StartRun handles POST /api/v1/runs
func (h *RunsHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if !h.validator.DecodeAndValidate(w, r, &req) {
		return
	}

	pairs := services.Pairs(req.Cities, req.Years)
	runID, err := h.runs.Start(r.Context(), pairs, req.Concurrency)
	if err != nil {
		h.errorHandler.HandleError(w, r, translateError(err, ""))
		return
	}

	h.logger.InfoContext(r.Context(), "run started",
		slog.String("run_id", runID),
		slog.Int("pairs", len(pairs)),
		slog.Int("concurrency", req.Concurrency),
		slog.String("request_id", middleware.GetRequestID(r.Context())),
	)

	w.Header().Set("Location", "/api/v1/runs/"+runID)
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, RunAccepted{RunID: runID, Pairs: len(pairs), Status: services.StatusRunning})
}

// ListRuns handles GET /api/v1/runs
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs := h.runs.Runs()
	render.JSON(w, r, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun handles GET /api/v1/runs/{runID}
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	status, err := h.runs.Status(runID)
	if err != nil {
		h.errorHandler.HandleError(w, r, translateError(err, runID))
		return
	}
	render.JSON(w, r, status)
}

// CancelRun handles DELETE /api/v1/runs/{runID}. Cancellation is
// cooperative, so the run is still "running" when this returns.
func (h *RunsHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := h.runs.Cancel(runID); err != nil {
		h.errorHandler.HandleError(w, r, translateError(err, runID))
		return
	}

	h.logger.InfoContext(r.Context(), "run cancellation requested",
		slog.String("run_id", runID),
		slog.String("request_id", middleware.GetRequestID(r.Context())),
	)
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{
		"run_id": runID,
		"status": "cancelling",
	})
}
