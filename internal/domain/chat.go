package domain

import (
	"time"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatMessage is a single message in a conversation. Messages are immutable
// once created and append-only within a session.
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewChatMessage creates a message stamped with the current time.
func NewChatMessage(role, content string) ChatMessage {
	return ChatMessage{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// ChatSession is the durable conversation state for one (user_id, context_type)
// pair. SessionID is a display label only; the store keys sessions by
// (UserID, ContextType).
type ChatSession struct {
	SessionID   string         `json:"session_id"`
	UserID      string         `json:"user_id"`
	ContextType string         `json:"context_type"`
	SkillName   string         `json:"skill_name"`
	Messages    []ChatMessage  `json:"messages"`
	Context     map[string]any `json:"context"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// AddMessage appends a message and bumps UpdatedAt.
func (s *ChatSession) AddMessage(role, content string) {
	s.Messages = append(s.Messages, NewChatMessage(role, content))
	s.UpdatedAt = time.Now()
}

// RecentMessages returns the most recent max messages in chronological order.
// This is the window handed to the LLM as history.
func (s *ChatSession) RecentMessages(max int) []ChatMessage {
	if max <= 0 || len(s.Messages) <= max {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-max:]
}

// MergeContext shallow-merges extra into the session context; new keys win.
func (s *ChatSession) MergeContext(extra map[string]any) {
	if len(extra) == 0 {
		return
	}
	if s.Context == nil {
		s.Context = make(map[string]any, len(extra))
	}
	for k, v := range extra {
		s.Context[k] = v
	}
	s.UpdatedAt = time.Now()
}

// ContextString returns a string-valued context entry, or "" when absent or
// not a string.
func (s *ChatSession) ContextString(key string) string {
	if s.Context == nil {
		return ""
	}
	v, ok := s.Context[key].(string)
	if !ok {
		return ""
	}
	return v
}

// TokenUsage carries token counters reported by the LLM backend.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// SessionInfo is the read-only session summary exposed by the API.
type SessionInfo struct {
	SessionID    string         `json:"session_id"`
	UserID       string         `json:"user_id"`
	ContextType  string         `json:"context_type"`
	SkillName    string         `json:"skill_name"`
	MessageCount int            `json:"message_count"`
	Context      map[string]any `json:"context"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
