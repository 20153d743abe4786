// Package httpd exposes the editor engine over HTTP: a health probe, a
// read-only session snapshot API, and the WebSocket editing connection
// that carries the engine's event stream to browsers.
//
// Document paths on the wire are always relative to the served content
// root; the engine is wired with a rooted file store so the two agree.
package httpd

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/roach88/coedit/internal/editor"
)

// Server routes HTTP traffic to one editor engine.
type Server struct {
	eng   *editor.Engine
	stale time.Duration
	log   *slog.Logger
	up    websocket.Upgrader
}

// New creates a server. stale is the WebSocket read deadline, normally
// the config's staleThresholdMs: a connection silent past it is dead to
// the engine anyway. A nil logger falls back to slog.Default.
func New(eng *editor.Engine, stale time.Duration, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		eng:   eng,
		stale: stale,
		log:   log,
		up: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The editor is same-machine tooling; the dev server proxies
			// from arbitrary local ports.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.handleHealth)
	r.Methods(http.MethodGet).Path("/api/docs/{path:.*}").HandlerFunc(s.handleDoc)
	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(s.handleWS)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		s.log.Info("handled",
			"method", r.Method,
			"url", r.URL.Path,
			"status", m.Code,
			"duration", m.Duration,
		)
	})
}

type healthResponse struct {
	Status       string `json:"status"`
	Sessions     int    `json:"sessions"`
	Participants int    `json:"participants"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:       "ok",
		Sessions:     s.eng.SessionCount(),
		Participants: s.eng.ParticipantCount(),
	})
}

func (s *Server) handleDoc(w http.ResponseWriter, r *http.Request) {
	docPath, err := resolveDocPath(mux.Vars(r)["path"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "BAD_PATH", err.Error())
		return
	}

	info, err := s.eng.Snapshot(r.Context(), docPath)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	docPath, err := resolveDocPath(r.URL.Query().Get("path"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "BAD_PATH", err.Error())
		return
	}

	clientID := s.eng.NewClientID()
	info, sub, err := s.eng.Open(r.Context(), docPath, clientID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	conn, err := s.up.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the request; undo the join.
		s.log.Warn("websocket upgrade failed", "path", docPath, "error", err)
		sub.Close()
		_ = s.eng.Close(r.Context(), docPath, clientID)
		return
	}

	s.log.Info("client connected",
		"client", clientID,
		"path", docPath,
		"participants", len(info.Participants),
	)

	c := newWSClient(s, conn, sub, docPath, clientID)
	go c.writePump()
	c.readPump()
}

// resolveDocPath normalizes a wire path into a root-relative document
// key. Absolute paths and anything escaping the content root are
// rejected rather than silently rewritten.
func resolveDocPath(p string) (string, error) {
	if p == "" {
		return "", errors.New("missing document path")
	}
	clean := path.Clean(strings.TrimPrefix(p, "/"))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errors.New("document path escapes the content root")
	}
	return filepath.FromSlash(clean), nil
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// writeEngineError maps session error codes onto HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"

	var se *editor.SessionError
	if errors.As(err, &se) {
		code = string(se.Code)
		switch {
		case editor.IsFileNotFound(err), editor.IsSessionNotFound(err), editor.IsClientNotFound(err):
			status = http.StatusNotFound
		case editor.IsSaveFailed(err):
			status = http.StatusBadGateway
		}
	}
	s.writeError(w, status, code, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
