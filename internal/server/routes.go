package server

import (
	"log/slog"
	"net/http"
)

// Config holds router options.
type Config struct {
	AllowedOrigins []string
	// Metrics is mounted at GET /metrics when non-nil.
	Metrics http.Handler
}

// DefaultConfig allows any origin and serves no metrics.
func DefaultConfig() Config {
	return Config{AllowedOrigins: []string{"*"}}
}

// NewRouter mounts the control API.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	routes := map[string]http.HandlerFunc{
		"GET /health":                           h.Health,
		"POST /queue":                           h.Enqueue,
		"GET /status":                           h.Status,
		"POST /stop":                            h.Stop,
		"GET /units":                            h.ListUnits,
		"GET /units/{id}":                       h.GetUnit,
		"GET /projects":                         h.ListProjects,
		"GET /projects/{id}/clips":              h.Clips,
		"GET /projects/{id}/clips/{clip}/frame": h.Frame,
		"POST /projects/{id}/queue":             h.QueueAll,
		"POST /projects/{id}/reset":             h.Reset,
		"POST /projects/{id}/stitch":            h.Stitch,
	}

	mux := http.NewServeMux()
	for pattern, fn := range routes {
		mux.HandleFunc(pattern, fn)
	}
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	return Chain(mux,
		WithRequestID,
		Recover(logger),
		AccessLog(logger),
		CORS(cfg.AllowedOrigins),
	)
}
