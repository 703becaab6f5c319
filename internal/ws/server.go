package ws

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os/exec"
	"strings"

	"github.com/agent-beacon/backend/internal/session"
	"github.com/gorilla/websocket"
)

// maxEventBody caps the size of one event payload.
const maxEventBody = 1 << 20

// tmuxFocusPane switches to the tmux pane identified by target (e.g. "main:2.0" or "%3").
func tmuxFocusPane(target string) error {
	tmuxPath, err := exec.LookPath("tmux")
	if err != nil {
		return fmt.Errorf("tmux not found: %w", err)
	}
	if err := exec.Command(tmuxPath, "select-window", "-t", target).Run(); err != nil {
		return fmt.Errorf("select-window: %w", err)
	}
	if err := exec.Command(tmuxPath, "select-pane", "-t", target).Run(); err != nil {
		return fmt.Errorf("select-pane: %w", err)
	}
	return nil
}

// Ingest receives decoded events from the HTTP boundary. The coalescer
// satisfies it.
type Ingest interface {
	Enqueue(ev session.Event)
}

type Server struct {
	store          *session.Store
	ingest         Ingest
	broadcaster    *Broadcaster
	filter         *session.PrivacyFilter
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	focusPane      func(target string) error
}

func NewServer(store *session.Store, ingest Ingest, broadcaster *Broadcaster, filter *session.PrivacyFilter, allowedOrigins []string, authToken string) *Server {
	if filter == nil {
		filter = &session.PrivacyFilter{}
	}
	s := &Server{
		store:          store,
		ingest:         ingest,
		broadcaster:    broadcaster,
		filter:         filter,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      authToken,
		focusPane:      tmuxFocusPane,
	}

	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/event", s.handleEvent)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionRoutes)
}

// handleEvent is the hook ingest endpoint. Accepted events are queued
// into the coalescer and processed asynchronously; 202 only means the
// payload parsed.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	ev, err := session.DecodeEvent(body)
	if err != nil {
		log.Printf("rejected event: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.ingest.Enqueue(ev)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		log.Printf("ws client rejected: %v", err)
		conn.Close()
		return
	}
	log.Printf("WebSocket client connected: %s", r.RemoteAddr)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			log.Printf("WebSocket client disconnected: %s", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	view := s.filter.ApplyView(s.store.Snapshot())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

// handleSessionRoutes dispatches /api/sessions/{id} and
// /api/sessions/{id}/focus.
func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.SplitN(path, "/", 2)

	sessionID, err := url.PathUnescape(parts[0])
	if err != nil || sessionID == "" {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	if len(parts) == 2 {
		if parts[1] != "focus" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		s.handleFocus(w, r, sessionID)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleSessionGet(w, sessionID)
	case http.MethodDelete:
		s.handleSessionDelete(w, sessionID)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSessionGet(w http.ResponseWriter, sessionID string) {
	state, ok := s.store.Get(sessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.filter.Apply(state))
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, sessionID string) {
	if !s.store.Terminate(sessionID) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state, ok := s.store.Get(sessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	target := state.TerminalPaneID
	if target == "" {
		target = state.TerminalWindowID
	}
	if target == "" {
		http.Error(w, "session has no terminal pane", http.StatusConflict)
		return
	}

	if err := s.focusPane(target); err != nil {
		http.Error(w, fmt.Sprintf("tmux focus failed: %v", err), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Agent-Beacon-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("Server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
