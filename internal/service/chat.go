package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smashlab/coachchat/internal/chart"
	"github.com/smashlab/coachchat/internal/domain"
	"github.com/smashlab/coachchat/internal/llm/ollama"
	"github.com/smashlab/coachchat/internal/skill"
	"github.com/smashlab/coachchat/internal/stats"
)

// Gateway is the LLM backend surface the chat service talks to.
type Gateway interface {
	Chat(ctx context.Context, messages []domain.ChatMessage, opts ollama.ChatOptions) (*ollama.ChatResponse, error)
	ChatStream(ctx context.Context, messages []domain.ChatMessage, opts ollama.ChatOptions, fn func(fragment string) error) (*ollama.ChatResponse, error)
	HealthCheck(ctx context.Context) bool
}

// SessionStore is the persistence surface for conversation state.
type SessionStore interface {
	Get(ctx context.Context, userID, contextType string) *domain.ChatSession
	GetOrCreate(ctx context.Context, userID, contextType, skillName string, extra map[string]any) *domain.ChatSession
	Save(ctx context.Context, session *domain.ChatSession) bool
	Delete(ctx context.Context, userID, contextType string) bool
	ClearMessages(ctx context.Context, userID, contextType string) bool
	Ping(ctx context.Context) bool
}

// SkillResolver loads and manages skill prompt files.
type SkillResolver interface {
	Load(name string) (string, bool)
	Reload(name string)
	ReloadAll()
	List() []string
}

// StatsProvider supplies formatted match statistics for prompt injection.
type StatsProvider interface {
	MatchContext(ctx context.Context, matchID, playerID string) stats.FormattedContext
}

// Prompt suffixes steering the model's treatment of statistics. Exactly one
// of the two is appended to every composed system prompt.
const (
	dataContextHeader = "\n\n---\n\n# Live match data\n\n"

	groundingSuffix = "\n\nAnswer using the match data above. Quote concrete " +
		"numbers from it and do not invent statistics that are not present."

	noFabricationSuffix = "\n\nNo live match data is available for this " +
		"conversation. Do not fabricate statistics, scores, or records; answer " +
		"from general knowledge and say so when specific data would be needed."
)

// TurnRequest is one user turn of a conversation.
type TurnRequest struct {
	UserID      string
	Message     string
	ContextType string
	SkillName   string
	Context     map[string]any
	Temperature float64
	MaxTokens   int
}

// TurnResult is the completed turn returned to the API layer.
type TurnResult struct {
	Content      string            `json:"content"`
	Charts       []chart.Chart     `json:"charts,omitempty"`
	HasCharts    bool              `json:"has_charts"`
	SessionID    string            `json:"session_id"`
	Model        string            `json:"model"`
	ElapsedMs    float64           `json:"response_time_ms"`
	Tokens       domain.TokenUsage `json:"tokens"`
	SkillName    string            `json:"skill_name"`
	MessageCount int               `json:"message_count"`
	DataSources  []string          `json:"data_sources,omitempty"`
}

// HealthStatus reports the liveness of the service's dependencies.
type HealthStatus struct {
	Ollama  bool     `json:"ollama"`
	Redis   bool     `json:"redis"`
	Skills  []string `json:"skills"`
	Healthy bool     `json:"healthy"`
}

// ChatService runs the conversational turn pipeline: skill resolution,
// session load, optional stats injection, LLM call, chart parsing, and
// persistence. Concurrent turns on the same session key are not serialized;
// the last save wins.
type ChatService struct {
	gateway      Gateway
	sessions     SessionStore
	skills       SkillResolver
	stats        StatsProvider
	statsEnabled bool
	historyMax   int
}

// NewChatService creates the chat orchestrator. statsProvider may be nil when
// the data layer is disabled.
func NewChatService(gateway Gateway, sessions SessionStore, skills SkillResolver, statsProvider StatsProvider, statsEnabled bool, historyMax int) *ChatService {
	if historyMax <= 0 {
		historyMax = 10
	}
	return &ChatService{
		gateway:      gateway,
		sessions:     sessions,
		skills:       skills,
		stats:        statsProvider,
		statsEnabled: statsEnabled && statsProvider != nil,
		historyMax:   historyMax,
	}
}

// Turn runs one non-streaming chat turn.
func (s *ChatService) Turn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	setup := s.prepareTurn(ctx, req)
	session := setup.session

	session.AddMessage(domain.RoleUser, req.Message)
	history := session.RecentMessages(s.historyMax)

	resp, err := s.gateway.Chat(ctx, history, ollama.ChatOptions{
		SystemPrompt: setup.systemPrompt,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	parsed := chart.Parse(resp.Content)

	// The raw model output goes into history, not the parsed text: the next
	// turn's context must match what the model actually produced.
	session.AddMessage(domain.RoleAssistant, resp.Content)
	s.sessions.Save(ctx, session)

	result := s.buildResult(setup, resp, parsed)

	log.Info().
		Str("user_id", req.UserID).
		Str("skill", setup.skillName).
		Int("chars", len(resp.Content)).
		Int("tokens", resp.TotalTokens).
		Dur("elapsed", resp.Elapsed).
		Msg("chat turn complete")

	return result, nil
}

// TurnStream runs one streaming chat turn, invoking fn once per generated
// fragment. Whatever text accumulated before an error or cancellation is
// still appended to the session, so the stored history matches what the user
// saw.
func (s *ChatService) TurnStream(ctx context.Context, req TurnRequest, fn func(fragment string) error) (*TurnResult, error) {
	setup := s.prepareTurn(ctx, req)
	session := setup.session

	session.AddMessage(domain.RoleUser, req.Message)
	history := session.RecentMessages(s.historyMax)

	resp, err := s.gateway.ChatStream(ctx, history, ollama.ChatOptions{
		SystemPrompt: setup.systemPrompt,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
	}, fn)

	if resp != nil && resp.Content != "" {
		session.AddMessage(domain.RoleAssistant, resp.Content)
		s.sessions.Save(ctx, session)
	}
	if err != nil {
		return nil, err
	}

	// Parsing after the fact, for observability only: fragments already went
	// out verbatim.
	parsed := chart.Parse(resp.Content)
	result := s.buildResult(setup, resp, parsed)

	log.Info().
		Str("user_id", req.UserID).
		Str("skill", setup.skillName).
		Int("chars", len(resp.Content)).
		Bool("has_charts", parsed.HasCharts).
		Msg("chat stream complete")

	return result, nil
}

// turnSetup is the assembled per-turn state shared by both pipeline variants.
type turnSetup struct {
	skillName    string
	session      *domain.ChatSession
	systemPrompt string
	dataSources  []string
}

// prepareTurn resolves the skill, loads the session, and composes the system
// prompt including the data context when available.
func (s *ChatService) prepareTurn(ctx context.Context, req TurnRequest) turnSetup {
	skillName := req.SkillName
	if skillName == "" {
		skillName = req.ContextType
	}

	session := s.sessions.GetOrCreate(ctx, req.UserID, req.ContextType, skillName, req.Context)

	prompt, ok := s.skills.Load(skillName)
	if !ok {
		log.Warn().Str("skill", skillName).Msg("skill not found, falling back to base")
		prompt, _ = s.skills.Load(skill.BaseName)
	}

	systemPrompt, sources := s.composePrompt(ctx, session, prompt)

	return turnSetup{
		skillName:    skillName,
		session:      session,
		systemPrompt: systemPrompt,
		dataSources:  sources,
	}
}

// composePrompt appends either the formatted stats context with a grounding
// suffix, or the no-fabrication suffix when stats are disabled or the session
// carries no match identifier.
func (s *ChatService) composePrompt(ctx context.Context, session *domain.ChatSession, prompt string) (string, []string) {
	matchID := session.ContextString("match_id")
	if !s.statsEnabled || matchID == "" {
		return prompt + noFabricationSuffix, nil
	}

	data := s.stats.MatchContext(ctx, matchID, session.ContextString("player_id"))
	if data.Text == "" {
		return prompt + noFabricationSuffix, nil
	}

	return prompt + dataContextHeader + data.Text + groundingSuffix, data.DataSources
}

func (s *ChatService) buildResult(setup turnSetup, resp *ollama.ChatResponse, parsed chart.ParsedResponse) *TurnResult {
	session := setup.session

	return &TurnResult{
		Content:      parsed.Text,
		Charts:       parsed.Charts,
		HasCharts:    parsed.HasCharts,
		SessionID:    session.SessionID,
		Model:        resp.Model,
		ElapsedMs:    float64(resp.Elapsed.Microseconds()) / 1000,
		Tokens: domain.TokenUsage{
			Prompt:     resp.PromptTokens,
			Completion: resp.CompletionTokens,
			Total:      resp.TotalTokens,
		},
		SkillName:    setup.skillName,
		MessageCount: len(session.Messages),
		DataSources:  setup.dataSources,
	}
}

// SessionInfo returns the stored session summary, or nil when none exists.
// The caller distinguishes this from an error: an expired session is an
// expected condition, not a failure.
func (s *ChatService) SessionInfo(ctx context.Context, userID, contextType string) *domain.SessionInfo {
	session := s.sessions.Get(ctx, userID, contextType)
	if session == nil {
		return nil
	}
	return &domain.SessionInfo{
		SessionID:    session.SessionID,
		UserID:       session.UserID,
		ContextType:  session.ContextType,
		SkillName:    session.SkillName,
		MessageCount: len(session.Messages),
		Context:      session.Context,
		CreatedAt:    session.CreatedAt,
		UpdatedAt:    session.UpdatedAt,
	}
}

// ClearHistory removes a session's messages while keeping its context.
func (s *ChatService) ClearHistory(ctx context.Context, userID, contextType string) bool {
	log.Info().Str("user_id", userID).Str("context_type", contextType).Msg("clearing chat history")
	return s.sessions.ClearMessages(ctx, userID, contextType)
}

// DeleteSession removes a session entirely.
func (s *ChatService) DeleteSession(ctx context.Context, userID, contextType string) bool {
	log.Info().Str("user_id", userID).Str("context_type", contextType).Msg("deleting session")
	return s.sessions.Delete(ctx, userID, contextType)
}

// ReloadSkill evicts one skill from the prompt cache, or all when name is
// empty.
func (s *ChatService) ReloadSkill(name string) {
	if name == "" {
		s.skills.ReloadAll()
		return
	}
	s.skills.Reload(name)
}

// ListSkills returns the available skill names.
func (s *ChatService) ListSkills() []string {
	return s.skills.List()
}

// Health probes the LLM backend and the session store.
func (s *ChatService) Health(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	ollamaOK := s.gateway.HealthCheck(ctx)
	redisOK := s.sessions.Ping(ctx)

	log.Info().Bool("ollama", ollamaOK).Bool("redis", redisOK).Msg("health check")

	return HealthStatus{
		Ollama:  ollamaOK,
		Redis:   redisOK,
		Skills:  s.skills.List(),
		Healthy: ollamaOK && redisOK,
	}
}
