package service

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/smashlab/coachchat/internal/domain"
	"github.com/smashlab/coachchat/internal/llm/ollama"
	"github.com/smashlab/coachchat/internal/stats"
)

// MockGateway mocks the Gateway interface
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Chat(ctx context.Context, messages []domain.ChatMessage, opts ollama.ChatOptions) (*ollama.ChatResponse, error) {
	args := m.Called(ctx, messages, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ollama.ChatResponse), args.Error(1)
}

func (m *MockGateway) ChatStream(ctx context.Context, messages []domain.ChatMessage, opts ollama.ChatOptions, fn func(fragment string) error) (*ollama.ChatResponse, error) {
	args := m.Called(ctx, messages, opts, fn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ollama.ChatResponse), args.Error(1)
}

func (m *MockGateway) HealthCheck(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

// MockSkillResolver mocks the SkillResolver interface
type MockSkillResolver struct {
	mock.Mock
}

func (m *MockSkillResolver) Load(name string) (string, bool) {
	args := m.Called(name)
	return args.String(0), args.Bool(1)
}

func (m *MockSkillResolver) Reload(name string) {
	m.Called(name)
}

func (m *MockSkillResolver) ReloadAll() {
	m.Called()
}

func (m *MockSkillResolver) List() []string {
	args := m.Called()
	return args.Get(0).([]string)
}

// MockStatsProvider mocks the StatsProvider interface
type MockStatsProvider struct {
	mock.Mock
}

func (m *MockStatsProvider) MatchContext(ctx context.Context, matchID, playerID string) stats.FormattedContext {
	args := m.Called(ctx, matchID, playerID)
	return args.Get(0).(stats.FormattedContext)
}

// memorySessionStore is an in-memory SessionStore used to observe exactly
// what the orchestrator persists.
type memorySessionStore struct {
	sessions map[string]*domain.ChatSession
	saves    int
}

func newMemorySessionStore() *memorySessionStore {
	return &memorySessionStore{sessions: make(map[string]*domain.ChatSession)}
}

func (s *memorySessionStore) key(userID, contextType string) string {
	return userID + ":" + contextType
}

func (s *memorySessionStore) Get(_ context.Context, userID, contextType string) *domain.ChatSession {
	return s.sessions[s.key(userID, contextType)]
}

func (s *memorySessionStore) GetOrCreate(ctx context.Context, userID, contextType, skillName string, extra map[string]any) *domain.ChatSession {
	if session := s.Get(ctx, userID, contextType); session != nil {
		session.MergeContext(extra)
		return session
	}
	session := &domain.ChatSession{
		SessionID:   userID + ":" + contextType + ":test",
		UserID:      userID,
		ContextType: contextType,
		SkillName:   skillName,
		Context:     map[string]any{},
	}
	session.MergeContext(extra)
	s.sessions[s.key(userID, contextType)] = session
	return session
}

func (s *memorySessionStore) Save(_ context.Context, session *domain.ChatSession) bool {
	s.sessions[s.key(session.UserID, session.ContextType)] = session
	s.saves++
	return true
}

func (s *memorySessionStore) Delete(_ context.Context, userID, contextType string) bool {
	key := s.key(userID, contextType)
	_, ok := s.sessions[key]
	delete(s.sessions, key)
	return ok
}

func (s *memorySessionStore) ClearMessages(_ context.Context, userID, contextType string) bool {
	session := s.Get(context.Background(), userID, contextType)
	if session == nil {
		return false
	}
	session.Messages = nil
	return true
}

func (s *memorySessionStore) Ping(_ context.Context) bool {
	return true
}
