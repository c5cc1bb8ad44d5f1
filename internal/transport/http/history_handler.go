package http

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"munireports/internal/config"
	apierrors "munireports/internal/errors"
	"munireports/internal/exporter"
	"munireports/internal/history"
	"munireports/internal/middleware"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// HistoryHandler serves the recorded workflows
type HistoryHandler struct {
	store        HistoryReader
	exporter     *exporter.HistoryExporter
	validator    *middleware.Validator
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewHistoryHandler creates a history handler
func NewHistoryHandler(store HistoryReader, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *HistoryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryHandler{
		store:        store,
		exporter:     exporter.NewHistoryExporter(logger),
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "history")),
	}
}

// Routes returns the history router
func (h *HistoryHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListEntries)
	r.Get("/export", h.Export)
	r.Get("/runs", h.ListRuns)
	r.Get("/runs/{runID}", h.GetRun)
	return r
}

// ListEntries handles GET /api/v1/history?city=&year=&run_id=&limit=
func (h *HistoryHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.filter(w, r, defaultHistoryLimit)
	if !ok {
		return
	}
	entries, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list history",
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.GetRequestID(r.Context())),
		)
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}

	render.JSON(w, r, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// Export handles GET /api/v1/history/export?format=csv|xlsx with the
// same filters as ListEntries, as a file download.
func (h *HistoryHandler) Export(w http.ResponseWriter, r *http.Request) {
	format, err := exporter.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("format", "format must be csv or xlsx"))
		return
	}
	filter, ok := h.filter(w, r, maxHistoryLimit)
	if !ok {
		return
	}
	entries, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	// buffer so a failed export still gets a problem response
	var buf bytes.Buffer
	if err := h.exporter.Export(&buf, format, entries); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	name := fmt.Sprintf("history-%s%s", time.Now().Format("20060102-150405"), format.Extension())
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h *HistoryHandler) filter(w http.ResponseWriter, r *http.Request, defaultLimit int) (history.Filter, bool) {
	limit, ok := h.validator.QueryInt(w, r, "limit", 1, maxHistoryLimit, defaultLimit)
	if !ok {
		return history.Filter{}, false
	}
	year, ok := h.validator.QueryInt(w, r, "year", config.MinYear, 9999, 0)
	if !ok {
		return history.Filter{}, false
	}
	q := r.URL.Query()
	return history.Filter{
		RunID: q.Get("run_id"),
		City:  config.NormalizeCityName(q.Get("city")),
		Year:  year,
		Limit: limit,
	}, true
}

// ListRuns handles GET /api/v1/history/runs?limit=
func (h *HistoryHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.validator.QueryInt(w, r, "limit", 1, maxHistoryLimit, defaultHistoryLimit)
	if !ok {
		return
	}
	runs, err := h.store.Runs(r.Context(), limit)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	if runs == nil {
		runs = []history.RunSummary{}
	}
	render.JSON(w, r, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun handles GET /api/v1/history/runs/{runID}
func (h *HistoryHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	summary, err := h.store.Run(r.Context(), runID)
	if err != nil {
		h.errorHandler.HandleError(w, r, translateError(err, runID))
		return
	}
	entries, err := h.store.List(r.Context(), history.Filter{RunID: runID})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]interface{}{
		"run":     summary,
		"entries": entries,
	})
}
