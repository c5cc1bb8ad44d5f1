package http

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"time"
)

//go:embed web/index.html
var webFS embed.FS

// UIOptions prefills the run form
type UIOptions struct {
	Year        int
	Concurrency int
}

// UIHandler serves the single-page operator UI
type UIHandler struct {
	page   []byte
	logger *slog.Logger
}

// NewUIHandler renders the page once. A zero Year means the current year.
func NewUIHandler(opts UIOptions, logger *slog.Logger) (*UIHandler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Year == 0 {
		opts.Year = time.Now().Year()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	tmpl, err := template.ParseFS(webFS, "web/index.html")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, opts); err != nil {
		return nil, err
	}
	return &UIHandler{page: buf.Bytes(), logger: logger.With(slog.String("handler", "ui"))}, nil
}

// ServeHTTP writes the page
func (h *UIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := w.Write(h.page); err != nil {
		h.logger.DebugContext(r.Context(), "failed to write page", slog.String("error", err.Error()))
	}
}
