// Package server exposes pipeline stores over a WebSocket, one store per
// session.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"gocompile/pkg/diag"
	"gocompile/pkg/persist"
	"gocompile/pkg/pipeline"
)

// Request is one client message.
type Request struct {
	Op       string `json:"op"` // setSource, run, runAll, get or state
	Source   string `json:"source,omitempty"`
	Stage    string `json:"stage,omitempty"`
	Artifact string `json:"artifact,omitempty"`
}

// Response answers one Request. Artifact holds JSON artifacts as they are
// and text artifacts as a JSON string.
type Response struct {
	Session     string            `json:"session"`
	State       pipeline.Stage    `json:"state"`
	Stage       string            `json:"stage,omitempty"`
	Name        string            `json:"name,omitempty"`
	Artifact    json.RawMessage   `json:"artifact,omitempty"`
	Changed     bool              `json:"changed,omitempty"`
	Diagnostics []diag.Diagnostic `json:"diagnostics,omitempty"`
	Error       string            `json:"error,omitempty"`
}

const (
	DefaultMaxSessions = 64
	DefaultIdleTimeout = 30 * time.Minute
)

// errBusy is returned when every open session has a client attached.
var errBusy = errors.New("too many open sessions")

type Server struct {
	// MaxSessions bounds the open stores. Opening one more closes the least
	// recently used session without clients; with a backend it can be
	// reopened later from its saved artifacts.
	MaxSessions int
	// IdleTimeout closes sessions that had no client for that long. Zero
	// keeps them open.
	IdleTimeout time.Duration

	opts    pipeline.Options
	backend persist.Backend // nil keeps sessions in memory only
	log     *log.Logger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	store *pipeline.Store
	conns int
	used  time.Time
}

// New returns a server whose sessions use opts. Each session stores its
// artifacts in b under its own id.
func New(opts pipeline.Options, b persist.Backend, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(os.Stderr, "[server] ", log.LstdFlags)
	}
	return &Server{
		MaxSessions: DefaultMaxSessions,
		IdleTimeout: DefaultIdleTimeout,
		opts:        opts,
		backend:     b,
		log:         logger,
		upgrader:    websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		sessions:    make(map[string]*session),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/export", s.serveExport)
	return mux
}

// acquire returns the store for id, opening it on first use, and counts
// one more client on it until release. An empty id starts a new session.
func (s *Server) acquire(ctx context.Context, id string) (*pipeline.Store, string, error) {
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		return nil, "", fmt.Errorf("invalid session id %q", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if se, ok := s.sessions[id]; ok {
		se.conns++
		se.used = now
		return se.store, id, nil
	}

	limit := s.MaxSessions
	if limit <= 0 {
		limit = DefaultMaxSessions
	}
	s.evict(now, limit)
	if len(s.sessions) >= limit {
		return nil, "", errBusy
	}
	opts := s.opts
	opts.Backend = nil
	if s.backend != nil {
		opts.Backend = persist.Prefixed{B: s.backend, Prefix: id}
	}
	st := pipeline.New(ctx, opts)
	s.sessions[id] = &session{store: st, conns: 1, used: now}
	return st, id, nil
}

func (s *Server) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if se, ok := s.sessions[id]; ok {
		se.conns--
		se.used = time.Now()
	}
}

// evict closes sessions without clients that idled past IdleTimeout, then
// the least recently used ones until a new session fits. Stores are closed
// under s.mu so a session is never reopened before its last flush.
func (s *Server) evict(now time.Time, limit int) {
	for id, se := range s.sessions {
		if se.conns == 0 && s.IdleTimeout > 0 && now.Sub(se.used) > s.IdleTimeout {
			s.closeSession(id)
		}
	}
	for len(s.sessions) >= limit {
		oldest := ""
		for id, se := range s.sessions {
			if se.conns == 0 && (oldest == "" || se.used.Before(s.sessions[oldest].used)) {
				oldest = id
			}
		}
		if oldest == "" {
			return
		}
		s.closeSession(oldest)
	}
}

func (s *Server) closeSession(id string) {
	if err := s.sessions[id].store.Close(); err != nil {
		s.log.Printf("session %s: close: %v", id, err)
	}
	delete(s.sessions, id)
}

// Close flushes and closes every session.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for id, se := range s.sessions {
		if err := se.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", id, err))
		}
		delete(s.sessions, id)
	}
	return errors.Join(errs...)
}

func sessionError(w http.ResponseWriter, err error) {
	code := http.StatusBadRequest
	if errors.Is(err, errBusy) {
		code = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), code)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	st, id, err := s.acquire(r.Context(), r.URL.Query().Get("session"))
	if err != nil {
		sessionError(w, err)
		return
	}
	defer s.release(id)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Printf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	// the first message tells the client which session it is in
	if err := conn.WriteJSON(Response{Session: id, State: st.State()}); err != nil {
		return
	}
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Printf("session %s: read: %v", id, err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var req Request
		var resp Response
		if err := json.Unmarshal(msg, &req); err != nil {
			resp = Response{State: st.State(), Error: "malformed request: " + err.Error()}
		} else {
			resp = handle(st, req)
		}
		resp.Session = id
		if err := conn.WriteJSON(resp); err != nil {
			s.log.Printf("session %s: write: %v", id, err)
			return
		}
	}
}

func (s *Server) serveExport(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session")
	if id == "" {
		http.Error(w, "missing session", http.StatusBadRequest)
		return
	}
	st, id, err := s.acquire(r.Context(), id)
	if err != nil {
		sessionError(w, err)
		return
	}
	defer s.release(id)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".zip"))
	if err := st.Export(w); err != nil {
		s.log.Printf("session %s: export: %v", id, err)
	}
}
