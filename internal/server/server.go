// Package server exposes the bot's status over HTTP: health and status JSON
// endpoints, recent history queries, and a WebSocket feed of settled events.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"margincall/internal/domain"
	"margincall/internal/scanner"
	"margincall/internal/server/middleware"
	"margincall/internal/server/ws"
	"margincall/internal/wallet"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port    int
	Network string
}

// Server is the headless status API for the bot.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

const defaultListLimit = 50

// NewServer creates a Server with all routes registered. hub may be nil; the
// /ws route is then not registered.
func NewServer(cfg Config, book *scanner.Book, alloc *wallet.Allocator, liquidations domain.LiquidationStore, trades domain.ArbitrageStore, hub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	startedAt := time.Now().UTC()

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		positions, candidates := book.Stats()
		writeJSON(w, http.StatusOK, map[string]any{
			"network":    cfg.Network,
			"started_at": startedAt,
			"uptime":     time.Since(startedAt).String(),
			"positions":  positions,
			"candidates": candidates,
			"wallets":    alloc.Snapshot(),
		})
	})

	mux.HandleFunc("GET /api/liquidations/recent", func(w http.ResponseWriter, r *http.Request) {
		recs, err := liquidations.ListRecent(r.Context(), listLimit(r))
		if err != nil {
			logger.ErrorContext(r.Context(), "list liquidations failed", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "failed to list liquidations")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"liquidations": recs})
	})

	mux.HandleFunc("GET /api/arbitrage/recent", func(w http.ResponseWriter, r *http.Request) {
		recs, err := trades.ListRecent(r.Context(), listLimit(r))
		if err != nil {
			logger.ErrorContext(r.Context(), "list arbitrage trades failed", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "failed to list arbitrage trades")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"trades": recs})
	})

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

func listLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			return n
		}
	}
	return defaultListLimit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
