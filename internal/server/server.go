// Package server exposes fractal regeneration over HTTP and websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chazu/sponge/internal/config"
	"github.com/chazu/sponge/pkg/presets"
	"github.com/chazu/sponge/pkg/regen"
)

// Server owns the shared regenerator and rule registry. Every connection
// competes for the same single-flight guard.
type Server struct {
	cfg      *config.Config
	regen    *regen.Regenerator
	rules    *presets.Registry
	upgrader websocket.Upgrader
	handler  http.Handler
}

// New wires the HTTP routes. rules may be nil, in which case only the
// built-in rules are served.
func New(cfg *config.Config, rg *regen.Regenerator, rules *presets.Registry) *Server {
	if rules == nil {
		rules = presets.NewRegistry()
	}
	s := &Server{
		cfg:   cfg,
		regen: rg,
		rules: rules,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return cfg.Server.OriginAllowed(r.Header.Get("Origin"))
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/rules", s.handleRules)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	s.handler = RateLimitMiddleware(cfg.RateLimit.Limit, cfg.RateLimit.Window)(mux)
	return s
}

// Handler returns the root handler including rate limiting.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.handler,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("server: listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type ruleInfo struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Range int    `json:"range"`
	Parts int    `json:"parts"`
}

func (s *Server) handleRules(w http.ResponseWriter, _ *http.Request) {
	names := s.rules.Names()
	out := make([]ruleInfo, 0, len(names))
	for _, name := range names {
		rs, err := s.rules.Get(name)
		if err != nil {
			continue
		}
		out = append(out, ruleInfo{Name: name, Kind: rs.Kind.String(), Range: rs.Range, Parts: rs.Parts})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": out})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"service":  "sponge-server",
		"busy":     s.regen.Busy(),
		"rejected": s.regen.Rejected(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: write response: %v", err)
	}
}
