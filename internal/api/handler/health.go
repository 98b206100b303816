package handler

import (
	"net/http"

	"github.com/smashlab/coachchat/internal/api/response"
	"github.com/smashlab/coachchat/internal/service"
)

// HealthResponse is the health endpoint body
type HealthResponse struct {
	Status string   `json:"status"`
	Ollama string   `json:"ollama"`
	Redis  string   `json:"redis"`
	Skills []string `json:"skills"`
	Model  string   `json:"model"`
}

func okOrError(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// HealthCheck probes the LLM backend and session store
func HealthCheck(chatService *service.ChatService, model string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := chatService.Health(r.Context())

		body := HealthResponse{
			Status: okOrError(status.Healthy),
			Ollama: okOrError(status.Ollama),
			Redis:  okOrError(status.Redis),
			Skills: status.Skills,
			Model:  model,
		}

		code := http.StatusOK
		if !status.Healthy {
			code = http.StatusServiceUnavailable
		}
		response.JSON(w, code, body)
	}
}
