package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/smashlab/coachchat/internal/domain"
	"github.com/smashlab/coachchat/internal/llm/ollama"
	"github.com/smashlab/coachchat/internal/skill"
	"github.com/smashlab/coachchat/internal/stats"
)

const badmintonPrompt = "You are a badminton coach."

func newSkillMock() *MockSkillResolver {
	skills := new(MockSkillResolver)
	skills.On("Load", "badminton").Return(badmintonPrompt, true).Maybe()
	return skills
}

func chatResponse(content string) *ollama.ChatResponse {
	return &ollama.ChatResponse{
		Content:          content,
		Model:            "llama3",
		Elapsed:          1500 * time.Millisecond,
		PromptTokens:     120,
		CompletionTokens: 80,
		TotalTokens:      200,
		Done:             true,
		DoneReason:       "stop",
	}
}

func TestTurn_NewSession(t *testing.T) {
	gateway := new(MockGateway)
	store := newMemorySessionStore()
	skills := newSkillMock()

	gateway.On("Chat", mock.Anything, mock.Anything, mock.MatchedBy(func(opts ollama.ChatOptions) bool {
		return strings.HasPrefix(opts.SystemPrompt, badmintonPrompt) &&
			strings.Contains(opts.SystemPrompt, noFabricationSuffix)
	})).Return(chatResponse("안녕하세요! 무엇을 도와드릴까요?"), nil)

	svc := NewChatService(gateway, store, skills, nil, false, 10)

	result, err := svc.Turn(context.Background(), TurnRequest{
		UserID:      "user123",
		Message:     "안녕",
		ContextType: "badminton",
	})

	require.NoError(t, err)
	assert.Equal(t, "안녕하세요! 무엇을 도와드릴까요?", result.Content)
	assert.Equal(t, "badminton", result.SkillName)
	assert.Equal(t, "llama3", result.Model)
	assert.Equal(t, 2, result.MessageCount)
	assert.Equal(t, 200, result.Tokens.Total)
	assert.False(t, result.HasCharts)

	saved := store.Get(context.Background(), "user123", "badminton")
	require.NotNil(t, saved)
	require.Len(t, saved.Messages, 2)
	assert.Equal(t, domain.RoleUser, saved.Messages[0].Role)
	assert.Equal(t, "안녕", saved.Messages[0].Content)
	assert.Equal(t, domain.RoleAssistant, saved.Messages[1].Role)
}

func TestTurn_SecondTurnCarriesHistory(t *testing.T) {
	gateway := new(MockGateway)
	store := newMemorySessionStore()
	skills := newSkillMock()

	gateway.On("Chat", mock.Anything, mock.Anything, mock.Anything).
		Return(chatResponse("first answer"), nil).Once()
	gateway.On("Chat", mock.Anything, mock.MatchedBy(func(messages []domain.ChatMessage) bool {
		// user, assistant, user
		return len(messages) == 3 && messages[1].Content == "first answer"
	}), mock.Anything).Return(chatResponse("second answer"), nil).Once()

	svc := NewChatService(gateway, store, skills, nil, false, 10)
	ctx := context.Background()

	_, err := svc.Turn(ctx, TurnRequest{UserID: "u1", Message: "q1", ContextType: "badminton"})
	require.NoError(t, err)

	result, err := svc.Turn(ctx, TurnRequest{UserID: "u1", Message: "q2", ContextType: "badminton"})
	require.NoError(t, err)
	assert.Equal(t, 4, result.MessageCount)

	gateway.AssertExpectations(t)
}

func TestTurn_HistoryWindowBounded(t *testing.T) {
	gateway := new(MockGateway)
	store := newMemorySessionStore()
	skills := newSkillMock()

	session := store.GetOrCreate(context.Background(), "u1", "badminton", "badminton", nil)
	for i := 0; i < 20; i++ {
		session.AddMessage(domain.RoleUser, fmt.Sprintf("old %d", i))
	}

	gateway.On("Chat", mock.Anything, mock.MatchedBy(func(messages []domain.ChatMessage) bool {
		return len(messages) == 10 && messages[9].Content == "newest"
	}), mock.Anything).Return(chatResponse("ok"), nil)

	svc := NewChatService(gateway, store, skills, nil, false, 10)

	_, err := svc.Turn(context.Background(), TurnRequest{UserID: "u1", Message: "newest", ContextType: "badminton"})
	require.NoError(t, err)
	gateway.AssertExpectations(t)
}

func TestTurn_SkillOverrideAndFallback(t *testing.T) {
	gateway := new(MockGateway)
	store := newMemorySessionStore()

	skills := new(MockSkillResolver)
	skills.On("Load", "tennis").Return("", false)
	skills.On("Load", skill.BaseName).Return("base prompt", true)

	gateway.On("Chat", mock.Anything, mock.Anything, mock.MatchedBy(func(opts ollama.ChatOptions) bool {
		return strings.HasPrefix(opts.SystemPrompt, "base prompt")
	})).Return(chatResponse("ok"), nil)

	svc := NewChatService(gateway, store, skills, nil, false, 10)

	result, err := svc.Turn(context.Background(), TurnRequest{
		UserID:      "u1",
		Message:     "hi",
		ContextType: "badminton",
		SkillName:   "tennis",
	})

	require.NoError(t, err)
	assert.Equal(t, "tennis", result.SkillName)
	skills.AssertExpectations(t)
}

func TestTurn_StatsInjectedWhenMatchPresent(t *testing.T) {
	gateway := new(MockGateway)
	store := newMemorySessionStore()
	skills := newSkillMock()

	statsMock := new(MockStatsProvider)
	statsMock.On("MatchContext", mock.Anything, "m-1", "p-1").Return(stats.FormattedContext{
		Text:        "# Match info\n- Tournament: All England",
		TokenCount:  12,
		DataSources: []string{"match_summary"},
	})

	gateway.On("Chat", mock.Anything, mock.Anything, mock.MatchedBy(func(opts ollama.ChatOptions) bool {
		return strings.Contains(opts.SystemPrompt, "All England") &&
			strings.Contains(opts.SystemPrompt, groundingSuffix) &&
			!strings.Contains(opts.SystemPrompt, noFabricationSuffix)
	})).Return(chatResponse("grounded answer"), nil)

	svc := NewChatService(gateway, store, skills, statsMock, true, 10)

	result, err := svc.Turn(context.Background(), TurnRequest{
		UserID:      "u1",
		Message:     "analyze the match",
		ContextType: "badminton",
		Context:     map[string]any{"match_id": "m-1", "player_id": "p-1"},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"match_summary"}, result.DataSources)
	gateway.AssertExpectations(t)
	statsMock.AssertExpectations(t)
}

func TestTurn_NoFabricationWithoutMatchID(t *testing.T) {
	gateway := new(MockGateway)
	store := newMemorySessionStore()
	skills := newSkillMock()

	statsMock := new(MockStatsProvider)

	gateway.On("Chat", mock.Anything, mock.Anything, mock.MatchedBy(func(opts ollama.ChatOptions) bool {
		return strings.Contains(opts.SystemPrompt, noFabricationSuffix)
	})).Return(chatResponse("generic answer"), nil)

	svc := NewChatService(gateway, store, skills, statsMock, true, 10)

	result, err := svc.Turn(context.Background(), TurnRequest{
		UserID:      "u1",
		Message:     "who is the best player?",
		ContextType: "badminton",
	})

	require.NoError(t, err)
	assert.Empty(t, result.DataSources)
	statsMock.AssertNotCalled(t, "MatchContext", mock.Anything, mock.Anything, mock.Anything)
}

func TestTurn_EmptyStatsContextFallsBack(t *testing.T) {
	gateway := new(MockGateway)
	store := newMemorySessionStore()
	skills := newSkillMock()

	statsMock := new(MockStatsProvider)
	statsMock.On("MatchContext", mock.Anything, "m-1", "").Return(stats.FormattedContext{})

	gateway.On("Chat", mock.Anything, mock.Anything, mock.MatchedBy(func(opts ollama.ChatOptions) bool {
		return strings.Contains(opts.SystemPrompt, noFabricationSuffix)
	})).Return(chatResponse("ok"), nil)

	svc := NewChatService(gateway, store, skills, statsMock, true, 10)

	_, err := svc.Turn(context.Background(), TurnRequest{
		UserID:      "u1",
		Message:     "hi",
		ContextType: "badminton",
		Context:     map[string]any{"match_id": "m-1"},
	})
	require.NoError(t, err)
	gateway.AssertExpectations(t)
}

func TestTurn_ChartsParsedOut(t *testing.T) {
	gateway := new(MockGateway)
	store := newMemorySessionStore()
	skills := newSkillMock()

	raw := "Here is the distribution.\n\n```json\n" +
		`{"charts": [{"type": "bar", "title": "Shots", "data": {"labels": ["smash"], "datasets": [{"label": "count", "data": [42]}]}}]}` +
		"\n```"
	gateway.On("Chat", mock.Anything, mock.Anything, mock.Anything).Return(chatResponse(raw), nil)

	svc := NewChatService(gateway, store, skills, nil, false, 10)

	result, err := svc.Turn(context.Background(), TurnRequest{UserID: "u1", Message: "chart please", ContextType: "badminton"})
	require.NoError(t, err)

	assert.True(t, result.HasCharts)
	require.Len(t, result.Charts, 1)
	assert.Equal(t, "Shots", result.Charts[0].Title)
	assert.Equal(t, "Here is the distribution.", result.Content)

	// History keeps the raw output, chart block included.
	saved := store.Get(context.Background(), "u1", "badminton")
	assert.Equal(t, raw, saved.Messages[1].Content)
}

func TestTurn_GatewayErrorNotPersisted(t *testing.T) {
	gateway := new(MockGateway)
	store := newMemorySessionStore()
	skills := newSkillMock()

	var modelErr *ollama.ModelNotFoundError
	gateway.On("Chat", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &ollama.ModelNotFoundError{Model: "llama3"})

	svc := NewChatService(gateway, store, skills, nil, false, 10)

	_, err := svc.Turn(context.Background(), TurnRequest{UserID: "u1", Message: "hi", ContextType: "badminton"})
	require.Error(t, err)
	assert.True(t, errors.As(err, &modelErr))
	assert.Zero(t, store.saves, "failed turns must not persist the session")
}

func TestTurnStream_PersistsFullText(t *testing.T) {
	gateway := new(MockGateway)
	store := newMemorySessionStore()
	skills := newSkillMock()

	fragments := []string{"안녕", "하세요", "!"}
	gateway.On("ChatStream", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			fn := args.Get(3).(func(string) error)
			for _, f := range fragments {
				_ = fn(f)
			}
		}).
		Return(chatResponse("안녕하세요!"), nil)

	svc := NewChatService(gateway, store, skills, nil, false, 10)

	var got strings.Builder
	result, err := svc.TurnStream(context.Background(), TurnRequest{
		UserID:      "u1",
		Message:     "인사해줘",
		ContextType: "badminton",
	}, func(fragment string) error {
		got.WriteString(fragment)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, "안녕하세요!", got.String())
	assert.Equal(t, 2, result.MessageCount)

	saved := store.Get(context.Background(), "u1", "badminton")
	require.Len(t, saved.Messages, 2)
	assert.Equal(t, "안녕하세요!", saved.Messages[1].Content)
}

func TestTurnStream_PartialTextPersistedOnError(t *testing.T) {
	gateway := new(MockGateway)
	store := newMemorySessionStore()
	skills := newSkillMock()

	gateway.On("ChatStream", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&ollama.ChatResponse{Content: "partial answ"}, errors.New("stream torn down"))

	svc := NewChatService(gateway, store, skills, nil, false, 10)

	_, err := svc.TurnStream(context.Background(), TurnRequest{
		UserID:      "u1",
		Message:     "hi",
		ContextType: "badminton",
	}, func(string) error { return nil })

	require.Error(t, err)

	// Whatever reached the user is in the stored history.
	saved := store.Get(context.Background(), "u1", "badminton")
	require.NotNil(t, saved)
	require.Len(t, saved.Messages, 2)
	assert.Equal(t, "partial answ", saved.Messages[1].Content)
	assert.Equal(t, 1, store.saves)
}

func TestSessionInfo(t *testing.T) {
	store := newMemorySessionStore()
	svc := NewChatService(new(MockGateway), store, newSkillMock(), nil, false, 10)
	ctx := context.Background()

	assert.Nil(t, svc.SessionInfo(ctx, "nobody", "badminton"))

	session := store.GetOrCreate(ctx, "u1", "badminton", "badminton", map[string]any{"match_id": "m-1"})
	session.AddMessage(domain.RoleUser, "hi")

	info := svc.SessionInfo(ctx, "u1", "badminton")
	require.NotNil(t, info)
	assert.Equal(t, 1, info.MessageCount)
	assert.Equal(t, "m-1", info.Context["match_id"])
}

func TestClearHistoryAndDelete(t *testing.T) {
	store := newMemorySessionStore()
	svc := NewChatService(new(MockGateway), store, newSkillMock(), nil, false, 10)
	ctx := context.Background()

	assert.False(t, svc.ClearHistory(ctx, "u1", "badminton"))
	assert.False(t, svc.DeleteSession(ctx, "u1", "badminton"))

	session := store.GetOrCreate(ctx, "u1", "badminton", "badminton", nil)
	session.AddMessage(domain.RoleUser, "hi")

	assert.True(t, svc.ClearHistory(ctx, "u1", "badminton"))
	assert.Empty(t, store.Get(ctx, "u1", "badminton").Messages)
	assert.True(t, svc.DeleteSession(ctx, "u1", "badminton"))
	assert.Nil(t, store.Get(ctx, "u1", "badminton"))
}

func TestReloadSkill(t *testing.T) {
	skills := new(MockSkillResolver)
	skills.On("Reload", "badminton").Once()
	skills.On("ReloadAll").Once()

	svc := NewChatService(new(MockGateway), newMemorySessionStore(), skills, nil, false, 10)

	svc.ReloadSkill("badminton")
	svc.ReloadSkill("")
	skills.AssertExpectations(t)
}

func TestHealth(t *testing.T) {
	gateway := new(MockGateway)
	gateway.On("HealthCheck", mock.Anything).Return(true)

	skills := new(MockSkillResolver)
	skills.On("List").Return([]string{"badminton"})

	svc := NewChatService(gateway, newMemorySessionStore(), skills, nil, false, 10)

	status := svc.Health(context.Background())
	assert.True(t, status.Healthy)
	assert.True(t, status.Ollama)
	assert.True(t, status.Redis)
	assert.Equal(t, []string{"badminton"}, status.Skills)
}
