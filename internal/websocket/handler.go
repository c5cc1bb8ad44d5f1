package websocket

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"munireports/internal/config"
	"munireports/internal/infrastructure"
)

// Handler upgrades HTTP requests and attaches the connection to a hub
type Handler struct {
	hub            *Hub
	upgrader       websocket.Upgrader
	opts           ClientOptions
	allowedOrigins []string
	logger         *slog.Logger
}

// NewHandler returns the /ws endpoint. Same-host origins and those in
// allowedOrigins are accepted; a request without Origin is accepted too.
func NewHandler(hub *Hub, cfg config.WebSocketConfig, allowedOrigins []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	h := &Handler{
		hub:            hub,
		opts:           DefaultClientOptions(cfg),
		allowedOrigins: allowedOrigins,
		logger:         logger.With(slog.String("component", "websocket.handler")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  positive(cfg.ReadBufferSize, 1024),
		WriteBufferSize: positive(cfg.WriteBufferSize, 1024),
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	traceID := r.Header.Get("X-Request-ID")
	if traceID == "" {
		traceID = infrastructure.GetTraceID(r.Context())
	}
	if traceID == "" {
		traceID = infrastructure.GenerateTraceID()
	}
	ctx := infrastructure.WithTraceID(r.Context(), traceID)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		h.logger.WarnContext(ctx, "WebSocket upgrade failed",
			slog.String("error", err.Error()),
			slog.String("origin", r.Header.Get("Origin")))
		return
	}

	client := NewClient(h.hub, WrapConn(conn), traceID, h.opts, h.logger)
	if !client.Serve() {
		h.logger.WarnContext(ctx, "Hub stopped, connection refused")
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || strings.EqualFold(origin, allowed) {
			return true
		}
	}
	h.logger.Warn("WebSocket origin rejected", slog.String("origin", origin))
	return false
}

func positive(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
