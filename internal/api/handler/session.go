package handler

import (
	"net/http"

	"github.com/smashlab/coachchat/internal/api/middleware"
	"github.com/smashlab/coachchat/internal/api/response"
	"github.com/smashlab/coachchat/internal/domain"
	"github.com/smashlab/coachchat/internal/service"
)

// SessionHandler handles session endpoints
type SessionHandler struct {
	chatService *service.ChatService
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(chatService *service.ChatService) *SessionHandler {
	return &SessionHandler{chatService: chatService}
}

func contextType(r *http.Request) string {
	ct := r.URL.Query().Get("context_type")
	if ct == "" {
		ct = domain.DefaultContextType
	}
	return ct
}

// Get returns the current session summary. A missing or expired session is a
// 404, distinct from backend failures.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	info := h.chatService.SessionInfo(r.Context(), userID, contextType(r))
	if info == nil {
		response.NotFound(w, "session not found")
		return
	}

	response.OK(w, info)
}

// Delete removes the session and its history
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	ct := contextType(r)
	deleted := h.chatService.DeleteSession(r.Context(), userID, ct)

	response.OK(w, map[string]any{
		"deleted":      deleted,
		"user_id":      userID,
		"context_type": ct,
	})
}

// ClearMessages truncates the history but keeps the session
func (h *SessionHandler) ClearMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	ct := contextType(r)
	cleared := h.chatService.ClearHistory(r.Context(), userID, ct)

	response.OK(w, map[string]any{
		"cleared":      cleared,
		"user_id":      userID,
		"context_type": ct,
	})
}
