package domain

// Default tuning values applied when a chat request omits them.
const (
	DefaultContextType = "badminton"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2048
)

// ChatRequest is the request body for chat and chat-stream calls. Temperature
// is a pointer so an explicit 0 is distinguishable from the field being
// omitted.
type ChatRequest struct {
	Message     string         `json:"message" validate:"required,min=1,max=4000"`
	ContextType string         `json:"context_type" validate:"omitempty,max=64"`
	SkillName   string         `json:"skill_name" validate:"omitempty,max=64"`
	Context     map[string]any `json:"context"`
	Temperature *float64       `json:"temperature" validate:"omitempty,gte=0,lte=1"`
	MaxTokens   int            `json:"max_tokens" validate:"gte=0,lte=4096"`
}

// ApplyDefaults fills the omitted tuning fields.
func (r *ChatRequest) ApplyDefaults() {
	if r.ContextType == "" {
		r.ContextType = DefaultContextType
	}
	if r.Temperature == nil {
		t := DefaultTemperature
		r.Temperature = &t
	}
	if r.MaxTokens == 0 {
		r.MaxTokens = DefaultMaxTokens
	}
}
