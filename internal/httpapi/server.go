package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicerelay/internal/config"
	"github.com/ent0n29/voicerelay/internal/memory"
	"github.com/ent0n29/voicerelay/internal/observability"
	"github.com/ent0n29/voicerelay/internal/protocol"
	"github.com/ent0n29/voicerelay/internal/session"
)

// Relay runs the audio lifecycle of one upgraded connection.
type Relay interface {
	RunConnection(ctx context.Context, s *session.Session, inbound <-chan protocol.Inbound, conn session.Conn) error
}

// Backends names the implementations chosen at startup, reported by /readyz.
type Backends struct {
	Generation string `json:"generation_provider"`
	Normalizer string `json:"normalizer"`
	TurnStore  string `json:"turn_store"`
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	relay    Relay
	turns    memory.Store
	metrics  *observability.Metrics
	backends Backends
	upgrader websocket.Upgrader

	connMu   sync.Mutex
	conns    map[*wsConn]struct{}
	draining bool
	handlers sync.WaitGroup
}

func New(cfg config.Config, sessions *session.Manager, relay Relay, turns memory.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		relay:    relay,
		turns:    turns,
		metrics:  metrics,
		conns:    make(map[*wsConn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only connect from the page's own origin.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

// SetBackends records which implementations are serving requests.
func (s *Server) SetBackends(b Backends) {
	s.backends = b
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	// Clients connect to the root path; /ws is an explicit alias.
	r.Get("/", s.handleRoot)
	r.Get("/ws", s.handleWS)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/sessions", s.handleListSessions)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Get("/v1/sessions/{id}/turns", s.handleListTurns)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleWS(w, r)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"service":         "voicerelay",
		"websocket":       "/",
		"frame_bytes":     s.cfg.FrameSize,
		"idle_timeout_ms": s.cfg.IdleTimeout.Milliseconds(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.relay == nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "relay not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"backends": s.backends,
		"checked":  time.Now().UTC(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
