package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"munireports/internal/config"
	apierrors "munireports/internal/errors"
	"munireports/internal/files"
	"munireports/internal/middleware"
)

// OpenWorkspaceRequest names the pair whose workspace should be opened
type OpenWorkspaceRequest struct {
	City string `json:"city" validate:"required,city"`
	Year int    `json:"year" validate:"required,report_year"`
}

// WorkspaceFiles lists what a pair has on disk
type WorkspaceFiles struct {
	City      string           `json:"city"`
	Year      int              `json:"year"`
	Root      string           `json:"root"`
	Raw       []files.FileInfo `json:"raw"`
	Converted []files.FileInfo `json:"converted"`
}

// WorkspaceHandler opens and lists city-year workspaces
type WorkspaceHandler struct {
	runs         RunManager
	paths        *config.Paths
	validator    *middleware.Validator
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewWorkspaceHandler creates a workspace handler
func NewWorkspaceHandler(runs RunManager, paths *config.Paths, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *WorkspaceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkspaceHandler{
		runs:         runs,
		paths:        paths,
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "workspaces")),
	}
}

// Routes returns the workspaces router
func (h *WorkspaceHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/open", h.Open)
	r.Route("/{city}/{year}", func(r chi.Router) {
		r.Use(h.PairCtx)
		r.Get("/files", h.ListFiles)
		r.Get("/files/{name}", h.DownloadFile)
	})
	return r
}

type pairKey struct{}

type pairParams struct {
	city string
	year int
}

// PairCtx parses and validates the {city}/{year} URL parameters
func (h *WorkspaceHandler) PairCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		city := config.NormalizeCityName(chi.URLParam(r, "city"))
		if city == "" {
			h.errorHandler.HandleError(w, r, apierrors.ErrValidation("city", "city is required"))
			return
		}
		if !config.ValidCityKey(city) {
			h.errorHandler.HandleError(w, r, apierrors.ErrValidation("city", "city must be a municipality key"))
			return
		}
		year, err := strconv.Atoi(chi.URLParam(r, "year"))
		if err != nil {
			h.errorHandler.HandleError(w, r, apierrors.ErrValidation("year", "year must be a valid integer"))
			return
		}
		if err := config.ValidateYear(year); err != nil {
			h.errorHandler.HandleError(w, r, apierrors.ErrValidation("year", err.Error()))
			return
		}
		ctx := context.WithValue(r.Context(), pairKey{}, pairParams{city: city, year: year})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Open handles POST /api/v1/workspaces/open
func (h *WorkspaceHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req OpenWorkspaceRequest
	if !h.validator.DecodeAndValidate(w, r, &req) {
		return
	}

	dir, err := h.runs.OpenWorkspace(r.Context(), req.City, req.Year)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to open workspace",
			slog.String("city", req.City),
			slog.Int("year", req.Year),
			slog.String("error", err.Error()),
		)
		h.errorHandler.HandleError(w, r, workspaceError(err, req.City, req.Year))
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"city":      config.NormalizeCityName(req.City),
		"year":      req.Year,
		"workspace": dir,
		"opened":    true,
	})
}

// ListFiles handles GET /api/v1/workspaces/{city}/{year}/files
func (h *WorkspaceHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	p := pairFromContext(r)
	ws, ok := h.workspace(w, r, p)
	if !ok {
		return
	}

	raw, err := ws.RawFiles()
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	converted, err := ws.ConvertedFiles()
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, WorkspaceFiles{
		City:      p.city,
		Year:      p.year,
		Root:      ws.Root,
		Raw:       nonNil(raw),
		Converted: nonNil(converted),
	})
}

// DownloadFile handles GET /api/v1/workspaces/{city}/{year}/files/{name}.
// Only converted workbooks are served.
func (h *WorkspaceHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	p := pairFromContext(r)
	name := chi.URLParam(r, "name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") ||
		!strings.EqualFold(filepath.Ext(name), files.ExtXLSX) {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("name", "name must be a converted .xlsx file"))
		return
	}

	ws, ok := h.workspace(w, r, p)
	if !ok {
		return
	}
	path := filepath.Join(ws.Converted, name)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		h.errorHandler.HandleError(w, r, apierrors.NotFoundError(fmt.Sprintf("file %s", name)))
		return
	}

	h.logger.InfoContext(r.Context(), "serving converted file",
		slog.String("city", p.city),
		slog.Int("year", p.year),
		slog.String("file", name),
	)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}

func (h *WorkspaceHandler) workspace(w http.ResponseWriter, r *http.Request, p pairParams) (*files.Workspace, bool) {
	if h.paths == nil {
		h.errorHandler.HandleError(w, r, apierrors.WorkspaceNotFoundError(p.city, p.year))
		return nil, false
	}
	dir := h.paths.WorkspaceDir(p.city, p.year)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		h.errorHandler.HandleError(w, r, apierrors.WorkspaceNotFoundError(p.city, p.year))
		return nil, false
	}
	return files.NewWorkspace(dir, h.logger), true
}

func pairFromContext(r *http.Request) pairParams {
	p, _ := r.Context().Value(pairKey{}).(pairParams)
	return p
}

func nonNil(list []files.FileInfo) []files.FileInfo {
	if list == nil {
		return []files.FileInfo{}
	}
	return list
}
