package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/smashlab/coachchat/internal/api/middleware"
	"github.com/smashlab/coachchat/internal/api/response"
	"github.com/smashlab/coachchat/internal/domain"
	"github.com/smashlab/coachchat/internal/llm/ollama"
	"github.com/smashlab/coachchat/internal/service"
)

var validate = validator.New()

// ChatHandler handles chat endpoints
type ChatHandler struct {
	chatService *service.ChatService
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Chat handles a non-streaming chat turn
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	req, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}

	result, err := h.chatService.Turn(r.Context(), service.TurnRequest{
		UserID:      userID,
		Message:     req.Message,
		ContextType: req.ContextType,
		SkillName:   req.SkillName,
		Context:     req.Context,
		Temperature: *req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	response.OK(w, result)
}

// ChatStream handles a streaming chat turn over Server-Sent Events. Each
// generated fragment goes out as a "message" event, followed by a terminal
// "done" event; failures after the stream has started are reported as an
// "error" event since the status line is already committed.
func (h *ChatHandler) ChatStream(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	req, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		response.InternalError(w, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	_, err := h.chatService.TurnStream(r.Context(), service.TurnRequest{
		UserID:      userID,
		Message:     req.Message,
		ContextType: req.ContextType,
		SkillName:   req.SkillName,
		Context:     req.Context,
		Temperature: *req.Temperature,
		MaxTokens:   req.MaxTokens,
	}, func(fragment string) error {
		sendEvent(w, flusher, "message", fragment)
		return nil
	})

	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("chat stream failed")
		sendEvent(w, flusher, "error", err.Error())
		return
	}

	sendEvent(w, flusher, "done", "[DONE]")
}

// sendEvent writes one SSE event with a JSON-encoded data payload.
func sendEvent(w http.ResponseWriter, flusher http.Flusher, event, data string) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}

func decodeChatRequest(w http.ResponseWriter, r *http.Request) (domain.ChatRequest, bool) {
	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return req, false
	}
	if err := validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return req, false
	}
	req.ApplyDefaults()
	return req, true
}

// writeGatewayError maps the gateway error taxonomy onto HTTP statuses.
func writeGatewayError(w http.ResponseWriter, err error) {
	var (
		connErr    *ollama.ConnectionError
		modelErr   *ollama.ModelNotFoundError
		timeoutErr *ollama.TimeoutError
		apiErr     *ollama.APIError
	)

	switch {
	case errors.As(err, &connErr):
		response.ServiceUnavailable(w, "LLM backend unreachable")
	case errors.As(err, &modelErr):
		response.ServiceUnavailable(w, modelErr.Error())
	case errors.As(err, &timeoutErr):
		response.Error(w, http.StatusGatewayTimeout, "LLM request timed out")
	case errors.As(err, &apiErr):
		response.Error(w, http.StatusBadGateway, apiErr.Error())
	default:
		response.InternalError(w, err.Error())
	}
}
