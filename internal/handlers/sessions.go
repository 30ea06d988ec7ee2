package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"beltline/internal/capability"
	"beltline/internal/logger"
	"beltline/internal/runlog"
	"beltline/internal/session"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateSessionRequest binds an actor name to a new session.
type CreateSessionRequest struct {
	Name string `json:"name"`
}

// TurnRequest carries one program to execute.
type TurnRequest struct {
	Program string `json:"program"`
}

type SessionsHandler struct {
	arena    *session.Arena
	recorder *runlog.Recorder
	logger   *slog.Logger
}

// NewSessionsHandler serves the session surface. The recorder may be
// nil to disable episode recording.
func NewSessionsHandler(arena *session.Arena, recorder *runlog.Recorder, logger *slog.Logger) *SessionsHandler {
	return &SessionsHandler{
		arena:    arena,
		recorder: recorder,
		logger:   logger,
	}
}

// ServeHTTP handles HTTP requests for session operations
// Routes:
// POST /v1/sessions                - Create a session
// GET /v1/sessions                 - List sessions
// GET /v1/sessions/{handle}        - Read one session
// DELETE /v1/sessions/{handle}     - Remove a session
// POST /v1/sessions/{handle}/turn  - Execute one program
// POST /v1/sessions/{handle}/reset - Reset the episode
func (h *SessionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/sessions"), "/")
	if rest == "" {
		switch r.Method {
		case http.MethodPost:
			h.handleCreate(w, r)
		case http.MethodGet:
			h.handleList(w)
		default:
			h.logger.Warn("Method not allowed for sessions endpoint", "method", r.Method)
			h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed. Supported methods: POST, GET")
		}
		return
	}

	parts := strings.SplitN(rest, "/", 2)
	handle, err := strconv.Atoi(parts[0])
	if err != nil {
		h.logger.Warn("Invalid session handle", "handle", parts[0], "error", err)
		h.writeError(w, http.StatusBadRequest, "Invalid session handle")
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			h.handleGet(w, handle)
		case http.MethodDelete:
			h.handleDelete(w, handle)
		default:
			h.logger.Warn("Method not allowed for session endpoint", "method", r.Method)
			h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed. Supported methods: GET, DELETE")
		}
		return
	}

	switch parts[1] {
	case "turn":
		if r.Method != http.MethodPost {
			h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed. Supported methods: POST")
			return
		}
		h.handleTurn(w, r, handle)
	case "reset":
		if r.Method != http.MethodPost {
			h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed. Supported methods: POST")
			return
		}
		h.handleReset(w, r, handle)
	default:
		h.writeError(w, http.StatusNotFound, "Unknown session operation: "+parts[1])
	}
}

func (h *SessionsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid JSON in request body", "error", err)
		h.writeError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.writeError(w, http.StatusBadRequest, "name field is required")
		return
	}

	rec, err := h.arena.Create(strings.TrimSpace(req.Name))
	if err != nil {
		if errors.Is(err, session.ErrDuplicateName) {
			h.writeError(w, http.StatusConflict, "Actor name already in use: "+req.Name)
			return
		}
		logger.WithError(h.logger, err).Error("Failed to create session")
		h.writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	h.writeJSON(w, http.StatusCreated, rec)
}

func (h *SessionsHandler) handleList(w http.ResponseWriter) {
	h.writeJSON(w, http.StatusOK, h.arena.Records())
}

func (h *SessionsHandler) handleGet(w http.ResponseWriter, handle int) {
	rec, ok := h.arena.Get(handle)
	if !ok {
		h.writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *SessionsHandler) handleDelete(w http.ResponseWriter, handle int) {
	if err := h.arena.Remove(handle); err != nil {
		h.writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionsHandler) handleTurn(w http.ResponseWriter, r *http.Request, handle int) {
	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Invalid JSON in request body", "error", err)
		h.writeError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}
	if strings.TrimSpace(req.Program) == "" {
		h.writeError(w, http.StatusBadRequest, "program field is required")
		return
	}

	start := time.Now()
	result, err := h.arena.RunTurn(r.Context(), handle, req.Program)
	if err != nil {
		if errors.Is(err, session.ErrUnknownHandle) {
			h.writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		logger.WithError(h.logger, err).Error("Failed to run turn", "handle", handle)
		h.writeError(w, http.StatusInternalServerError, "Failed to run turn")
		return
	}
	h.recordTurn(handle, req.Program, result, time.Since(start))

	h.writeJSON(w, http.StatusOK, result)
}

func (h *SessionsHandler) handleReset(w http.ResponseWriter, r *http.Request, handle int) {
	var opts capability.ResetOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Warn("Invalid JSON in request body", "error", err)
		h.writeError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return
	}

	if err := h.arena.Reset(r.Context(), handle, opts); err != nil {
		if errors.Is(err, session.ErrUnknownHandle) {
			h.writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		logger.WithError(h.logger, err).Error("Failed to reset episode", "handle", handle)
		h.writeError(w, http.StatusInternalServerError, "Failed to reset episode: "+err.Error())
		return
	}

	if h.recorder != nil {
		if err := h.recorder.NextEpisode(runlog.ResetEntry{
			ClearEntities: opts.ClearEntities,
			ResearchAll:   opts.ResearchAll,
		}); err != nil {
			h.logger.Warn("Run log rotation failed", "error", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionsHandler) recordTurn(handle int, program string, result session.TurnResult, elapsed time.Duration) {
	if h.recorder == nil {
		return
	}
	rec, ok := h.arena.Get(handle)
	if !ok {
		return
	}

	phase := ""
	if result.Error != "" {
		if p, _, found := strings.Cut(result.Error, " error: "); found {
			phase = p
		}
	}
	entry := runlog.TurnEntry{
		Program:     program,
		StdoutBytes: len(result.Stdout),
		StderrBytes: len(result.Stderr),
		ErrorPhase:  phase,
		Error:       result.Error,
		DurationMS:  elapsed.Milliseconds(),
	}
	if err := h.recorder.Turn(strconv.Itoa(handle), rec.Name, entry); err != nil {
		h.logger.Warn("Run log write failed", "error", err)
	}
}

func (h *SessionsHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *SessionsHandler) writeError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: msg}); err != nil {
		h.logger.Error("Failed to encode error response", "error", err)
	}
}
