package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/camera-control/ccs/internal/auth"
	"github.com/camera-control/ccs/internal/dispatch"
	"github.com/camera-control/ccs/internal/tool"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// RegisterRoutes registers all v1 endpoints.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	apiV1 := "/api/v1"
	read := func(h http.HandlerFunc) http.HandlerFunc { return s.auth.Protect(h, auth.ScopeRead) }
	control := func(h http.HandlerFunc) http.HandlerFunc { return s.auth.Protect(h, auth.ScopeControl) }

	// Health endpoint (no auth required)
	mux.HandleFunc("GET "+apiV1+"/health", s.handleHealth)

	mux.HandleFunc("GET "+apiV1+"/tools", read(s.handleTools))
	mux.HandleFunc("GET "+apiV1+"/tools/{tool}", read(s.handleTool))
	mux.HandleFunc("GET "+apiV1+"/tools/{tool}/{attr}", read(s.handleGetAttr))
	mux.HandleFunc("POST "+apiV1+"/tools/{tool}/{attr}", control(s.handleSetAttr))
	mux.HandleFunc("POST "+apiV1+"/command", control(s.handleCommand))
	mux.HandleFunc("GET "+apiV1+"/status", read(s.handleStatus))
	mux.HandleFunc("GET "+apiV1+"/events", read(s.handleEvents))
	mux.HandleFunc("GET "+apiV1+"/ws", control(s.handleWebSocket))
}

// request builds the dispatch request for an HTTP call.
func (s *Server) request(r *http.Request) dispatch.Request {
	return dispatch.Request{
		Source: dispatch.SourceHTTP,
		User:   auth.Subject(r),
		Record: s.opts.LogCommands,
	}
}

// callContext detaches a tool call from the client connection so a
// disconnect does not abort an operation already running.
func callContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, map[string]interface{}{
		"status":     "ok",
		"uptimeSec":  time.Since(s.startTime).Seconds(),
		"systemName": s.opts.SystemName,
		"version":    s.opts.Version,
		"tools":      s.dispatcher.Registry().Len(),
	})
}

// handleTools handles GET /tools
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	reg := s.dispatcher.Registry()
	descriptions := make([]tool.Description, 0, reg.Len())
	for name := range reg.List() {
		t, err := reg.Get(name)
		if err != nil {
			writeError(w, err)
			return
		}
		descriptions = append(descriptions, t.Describe())
	}
	WriteSuccess(w, descriptions)
}

// handleTool handles GET /tools/{tool}
func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("tool")
	t, err := s.dispatcher.Registry().Get(name)
	if err != nil {
		writeError(w, err)
		return
	}
	snapshot, err := s.dispatcher.Snapshot(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{
		"description": t.Describe(),
		"attributes":  snapshot.Attributes,
		"errors":      snapshot.Errors,
	})
}

// handleGetAttr handles GET /tools/{tool}/{attr}
func (s *Server) handleGetAttr(w http.ResponseWriter, r *http.Request) {
	writeReply(w, s.dispatcher.Get(callContext(r), s.request(r), r.PathValue("tool"), r.PathValue("attr")))
}

// handleSetAttr handles POST /tools/{tool}/{attr}
func (s *Server) handleSetAttr(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value *json.RawMessage `json:"value"`
	}
	if !decodeStrict(w, r, &req) {
		return
	}
	if req.Value == nil {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "Missing required field: value", nil)
		return
	}
	var value interface{}
	if err := json.Unmarshal(*req.Value, &value); err != nil {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "Malformed value", nil)
		return
	}
	writeReply(w, s.dispatcher.Set(callContext(r), s.request(r), r.PathValue("tool"), r.PathValue("attr"), value))
}

// handleCommand handles POST /command
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string `json:"command"`
	}
	if !decodeStrict(w, r, &req) {
		return
	}
	writeReply(w, s.dispatcher.Dispatch(callContext(r), s.request(r), req.Command))
}

// handleStatus handles GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshots, err := s.dispatcher.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	WriteSuccess(w, snapshots)
}

// handleEvents handles GET /events (SSE)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		WriteError(w, http.StatusServiceUnavailable, CodeUnavailable, "Event stream not available", nil)
		return
	}

	// The stream outlives the server write timeout
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Debug("Failed to clear write deadline", zap.Error(err))
	}

	if err := s.hub.Subscribe(w, r); err != nil {
		s.logger.Warn("Event subscription ended with error", zap.Error(err))
	}
}

// decodeStrict decodes one JSON object from the body, rejecting unknown
// fields and trailing data. It writes the error response itself.
func decodeStrict(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "Malformed JSON or unknown fields", nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		WriteError(w, http.StatusBadRequest, CodeBadRequest, "Trailing data after JSON object", nil)
		return false
	}
	return true
}
