package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/traceboard/traceboard/internal/config"
	"github.com/traceboard/traceboard/internal/dataset"
	"github.com/traceboard/traceboard/internal/trace"
)

// Server serves the annotation interface assets, the read-only base
// datasets and the websocket endpoint.
type Server struct {
	config     config.ServerConfig
	store      *trace.Store
	datasets   *dataset.Registry
	hub        *Hub
	protocol   *Protocol
	mux        *http.ServeMux
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer wires the HTTP routes and the websocket protocol handler.
func NewServer(cfg config.ServerConfig, store *trace.Store, datasets *dataset.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	hub := NewHub(logger, cfg.CORS)
	s := &Server{
		config:   cfg,
		store:    store,
		datasets: datasets,
		hub:      hub,
		protocol: NewProtocol(hub, store, logger),
		mux:      http.NewServeMux(),
		logger:   logger.With("component", "api.Server"),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	// Testing interface assets
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.Handle("GET /apps/", http.StripPrefix("/apps/", http.FileServer(http.Dir(s.config.StaticDir))))

	// Base datasets
	s.mux.HandleFunc("GET /data/{file}", s.handleDataset)

	// System
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)

	// WebSocket
	s.mux.HandleFunc("GET /ws", s.protocol.HandleWebSocket)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.ServeFile(w, r, filepath.Join(s.config.StaticDir, "testing_interface.html"))
}

// handleDataset serves /data/<name>.json from the in-memory registry, never
// from disk, so a half-written file on disk cannot leak out.
func (s *Server) handleDataset(w http.ResponseWriter, r *http.Request) {
	file := r.PathValue("file")
	name := strings.TrimSuffix(file, ".json")
	if name == file {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	data, ok := s.datasets.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Dataset '%s' not found or failed to load.", name))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.store.Stats()
	writeJSON(w, map[string]interface{}{
		"tasks":   stats.Tasks,
		"traces":  stats.Traces,
		"clients": s.hub.ClientCount(),
	})
}

// Handler returns the HTTP handler, CORS-wrapped when configured.
func (s *Server) Handler() http.Handler {
	if s.config.CORS {
		return corsMiddleware(s.mux)
	}
	return s.mux
}

// Start runs the server until Shutdown or a listen error.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	s.logger.Info("listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown closes the hub and stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Hub returns the connection hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// corsMiddleware allows cross-origin access for development setups.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
