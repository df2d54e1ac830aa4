package chatapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"RoleplayChat/internal/session"
)

const (
	// MaxRequestBodySize is the maximum size of POST request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	msgDeleted          = "Chat history deleted"
	msgHistoryFailed    = "Failed to load chat history"
	msgGenerateFailed   = "Failed to generate response"
	msgDeleteFailed     = "Failed to delete chat history"
	msgSessionsFailed   = "Failed to list sessions"
	msgStoreUnavailable = "store unavailable"
)

// HistoryResponse is the body of GET /api/chat.
type HistoryResponse struct {
	Messages []session.Turn `json:"messages"`
}

// AppendRequest is the body of POST /api/chat.
type AppendRequest struct {
	Messages  []session.Turn `json:"messages"`
	SessionID string         `json:"sessionId"`
}

// MessageResponse carries the assistant reply or a confirmation.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler serves the session API over HTTP.
type Handler struct {
	svc           *Service
	logger        *slog.Logger
	appendTimeout time.Duration
}

// NewHandler wires the HTTP handlers to svc. appendTimeout bounds POST /api/chat; zero disables it.
func NewHandler(svc *Service, logger *slog.Logger, appendTimeout time.Duration) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger, appendTimeout: appendTimeout}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/chat", h.handleHistory)
	mux.HandleFunc("POST /api/chat", h.handleAppend)
	mux.HandleFunc("DELETE /api/chat", h.handleDelete)
	mux.HandleFunc("GET /api/sessions", h.handleSessions)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

// handleHistory returns the stored messages of ?sessionId=, seeding new sessions.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")

	messages, err := h.svc.History(r.Context(), sessionID)
	if err != nil {
		if IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("chat history error", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, msgHistoryFailed)
		return
	}

	resp := HistoryResponse{Messages: make([]session.Turn, len(messages))}
	for i, msg := range messages {
		resp.Messages[i] = msg.Turn()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAppend persists a user turn and returns the generated assistant reply.
// Every failure, including a malformed body, is a generic 500.
func (h *Handler) handleAppend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.appendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.appendTimeout)
		defer cancel()
	}

	var req AppendRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBodySize))
	if err := dec.Decode(&req); err != nil {
		h.logger.Warn("malformed chat request", "error", err)
		writeError(w, http.StatusInternalServerError, msgGenerateFailed)
		return
	}

	reply, err := h.svc.AppendTurn(ctx, req.SessionID, req.Messages)
	if err != nil {
		if !IsValidation(err) {
			h.logger.Error("chat API error", "session_id", req.SessionID, "error", err)
		}
		writeError(w, http.StatusInternalServerError, msgGenerateFailed)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: reply.Content})
}

// handleDelete removes the stored messages of ?sessionId=.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")

	if _, err := h.svc.DeleteHistory(r.Context(), sessionID); err != nil {
		if IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("chat delete error", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, msgDeleteFailed)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: msgDeleted})
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.svc.Sessions(r.Context())
	if err != nil {
		h.logger.Error("session list error", "error", err)
		writeError(w, http.StatusInternalServerError, msgSessionsFailed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": summaries})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ready(r.Context()); err != nil {
		h.logger.Warn("health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, msgStoreUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// CORS allows the listed browser origins to call the API. "*" allows any origin.
func CORS(allowed []string, next http.Handler) http.Handler {
	allowAll := false
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		set[strings.TrimRight(o, "/")] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowAll || set[origin]) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
