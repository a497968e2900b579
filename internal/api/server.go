// Package api serves a director session over HTTP.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/swarm-director/internal/config"
	"github.com/talgya/swarm-director/internal/director"
	"github.com/talgya/swarm-director/internal/engine"
	"github.com/talgya/swarm-director/internal/focus"
)

const (
	streamBacklog   = 50
	streamBuffer    = 256
	pingInterval    = 15 * time.Second
	writeTimeout    = 5 * time.Second
	pongTimeout     = 2 * pingInterval
	maxSpeed        = 1000
	defaultEventCap = 50
	maxEventCap     = 1000
)

// Server serves the session state over HTTP.
type Server struct {
	Sim         *engine.Simulation
	Eng         *engine.Engine
	Port        int
	AdminKey    string // Bearer token for POST endpoints. Empty = POST disabled.
	CORSOrigins []string
	MaxStreams  int

	limiter  *RateLimiter
	streams  atomic.Int32
	upgrader websocket.Upgrader
	srv      *http.Server
}

// New creates a server for a simulation and the engine driving it.
func New(sim *engine.Simulation, eng *engine.Engine, cfg config.API) *Server {
	s := &Server{
		Sim:         sim,
		Eng:         eng,
		Port:        cfg.Port,
		AdminKey:    cfg.AdminKey,
		CORSOrigins: cfg.CORSOrigins,
		MaxStreams:  cfg.MaxStreams,
		limiter:     NewRateLimiter(cfg.RatePerSec, cfg.RateBurst),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     s.originAllowed,
	}
	return s
}

// Handler returns the full route table wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/targets", s.handleTargets)
	mux.HandleFunc("GET /api/v1/agents", s.handleAgents)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/speed", s.handleSpeed)
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)

	// Admin endpoints.
	mux.HandleFunc("POST /api/v1/speed", s.admin(s.handleSpeed))
	mux.HandleFunc("POST /api/v1/stimulus", s.admin(s.handleStimulus))
	mux.HandleFunc("POST /api/v1/intervention", s.admin(s.handleIntervention))

	return s.corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "max_streams", s.MaxStreams)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the listener and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// admin requires the bearer token and applies the rate limiter.
func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc {
	return RateLimitMiddleware(s.limiter, s.adminOnly(next))
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(s.AdminKey)) == 1
}

func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no DIRECTOR_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.CORSOrigins {
		if o == origin || o == "*" {
			return true
		}
	}
	return false
}

// corsMiddleware adds CORS headers for configured frontend origins.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, struct {
		engine.Status
		Speed    float64             `json:"speed"`
		Running  bool                `json:"running"`
		LastTick director.TickReport `json:"last_tick"`
	}{
		Status:   s.Sim.Status(),
		Speed:    s.Eng.Speed(),
		Running:  s.Eng.Running(),
		LastTick: s.Sim.LastReport(),
	})
}

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Targets())
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.Sim.Agents()

	// Optional target filter.
	if t := r.URL.Query().Get("target"); t != "" {
		id, err := strconv.ParseUint(t, 10, 64)
		if err != nil {
			http.Error(w, "invalid target id", http.StatusBadRequest)
			return
		}
		filtered := agents[:0]
		for _, a := range agents {
			if a.Target == focus.TargetID(id) {
				filtered = append(filtered, a)
			}
		}
		agents = filtered
	}
	writeJSON(w, agents)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventCap
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= maxEventCap {
			limit = n
		}
	}
	events := s.Sim.RecentEvents(limit)

	// Optional kind filter.
	if kind := r.URL.Query().Get("kind"); kind != "" {
		filtered := events[:0]
		for _, e := range events {
			if string(e.Kind) == kind {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	writeJSON(w, events)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Speed *float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Speed == nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if *req.Speed < 0 || *req.Speed > maxSpeed {
			http.Error(w, fmt.Sprintf("speed must be 0-%d", maxSpeed), http.StatusBadRequest)
			return
		}
		s.Eng.SetSpeed(*req.Speed)
		slog.Info("speed changed", "speed", *req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func (s *Server) handleStimulus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Agent  focus.AgentID  `json:"agent"`
		Target focus.TargetID `json:"target"`
		Amount float64        `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	over, err := s.Sim.Stimulate(req.Agent, req.Amount, req.Target)
	if err != nil {
		http.Error(w, err.Error(), stimulusStatus(err))
		return
	}
	writeJSON(w, map[string]any{
		"agent":    req.Agent,
		"target":   req.Target,
		"override": over,
	})
}

func stimulusStatus(err error) int {
	switch {
	case errors.Is(err, focus.ErrUnregisteredAgent):
		return http.StatusNotFound
	case errors.Is(err, focus.ErrNotIrritable):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) handleIntervention(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type string `json:"type"`
		ID   uint64 `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	var err error
	switch req.Type {
	case "destroy_target":
		err = s.Sim.DestroyTarget(focus.TargetID(req.ID))
	case "kill_agent":
		err = s.Sim.KillAgent(focus.AgentID(req.ID))
	default:
		http.Error(w, "unknown intervention type (use: destroy_target, kill_agent)", http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"type": req.Type, "id": req.ID, "ok": true})
}

// handleStream upgrades to a websocket, replays recent events and then
// forwards live ones until the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	current := s.streams.Add(1)
	defer s.streams.Add(-1)
	if s.MaxStreams > 0 && int(current) > s.MaxStreams {
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}

	// Subscribe before the handshake completes so nothing published after
	// the client connects is missed. The backlog may repeat a live event.
	sub := s.Sim.Subscribe(streamBuffer)
	defer s.Sim.Unsubscribe(sub)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for _, e := range s.Sim.RecentEvents(streamBacklog) {
		if err := writeWS(conn, e); err != nil {
			return
		}
	}
	slog.Debug("stream client connected", "remote", r.RemoteAddr, "streams", current)

	// Reader: handles pongs and close frames. Clients never send data.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongTimeout))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeWS(conn, e); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-gone:
			slog.Debug("stream client disconnected", "remote", r.RemoteAddr, "dropped", sub.Dropped())
			return
		}
	}
}

func writeWS(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		slog.Debug("write response", "error", err)
	}
}
