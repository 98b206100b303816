package handler

import (
	"net/http"

	"github.com/smashlab/coachchat/internal/api/response"
	"github.com/smashlab/coachchat/internal/service"
)

// SkillHandler handles skill administration endpoints
type SkillHandler struct {
	chatService *service.ChatService
}

// NewSkillHandler creates a new skill handler
func NewSkillHandler(chatService *service.ChatService) *SkillHandler {
	return &SkillHandler{chatService: chatService}
}

// List returns the available skill names
func (h *SkillHandler) List(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]any{
		"skills": h.chatService.ListSkills(),
	})
}

// Reload evicts the skill prompt cache so edited files take effect. With no
// skill_name parameter the whole cache is cleared.
func (h *SkillHandler) Reload(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("skill_name")
	h.chatService.ReloadSkill(name)

	reloaded := name
	if reloaded == "" {
		reloaded = "all"
	}

	response.OK(w, map[string]any{
		"reloaded":         reloaded,
		"available_skills": h.chatService.ListSkills(),
	})
}
