package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smashlab/coachchat/internal/domain"
)

func userMessages(contents ...string) []domain.ChatMessage {
	msgs := make([]domain.ChatMessage, 0, len(contents))
	for _, c := range contents {
		msgs = append(msgs, domain.NewChatMessage(domain.RoleUser, c))
	}
	return msgs
}

func TestClient_Chat(t *testing.T) {
	var captured chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		json.NewEncoder(w).Encode(map[string]any{
			"model":             "llama3",
			"message":           map[string]string{"role": "assistant", "content": "hello there"},
			"done":              true,
			"done_reason":       "stop",
			"prompt_eval_count": 12,
			"eval_count":        8,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "llama3", 5*time.Second)
	resp, err := c.Chat(context.Background(), userMessages("hi"), ChatOptions{
		SystemPrompt: "be brief",
		Temperature:  0.7,
		MaxTokens:    256,
	})
	require.NoError(t, err)

	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, "llama3", resp.Model)
	assert.Equal(t, 12, resp.PromptTokens)
	assert.Equal(t, 8, resp.CompletionTokens)
	assert.Equal(t, 20, resp.TotalTokens)
	assert.True(t, resp.Done)

	// System prompt is prepended, never merged into the caller history.
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, domain.RoleSystem, captured.Messages[0].Role)
	assert.Equal(t, "be brief", captured.Messages[0].Content)
	assert.Equal(t, domain.RoleUser, captured.Messages[1].Role)
	assert.False(t, captured.Stream)
}

func TestClient_Chat_ModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "nope", 5*time.Second)
	_, err := c.Chat(context.Background(), userMessages("hi"), ChatOptions{})

	var notFound *ModelNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "nope", notFound.Model)
}

func TestClient_Chat_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "llama3", 5*time.Second)
	_, err := c.Chat(context.Background(), userMessages("hi"), ChatOptions{})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestClient_Chat_ConnectionError(t *testing.T) {
	// Port that nothing listens on.
	c := NewClient("http://127.0.0.1:1", "llama3", 2*time.Second)
	_, err := c.Chat(context.Background(), userMessages("hi"), ChatOptions{})

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
}

func TestClient_Chat_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "llama3", 50*time.Millisecond)
	_, err := c.Chat(context.Background(), userMessages("hi"), ChatOptions{})

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
}

func streamServer(t *testing.T, fragments []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for _, f := range fragments {
			fmt.Fprintf(w, `{"message":{"content":%q},"done":false}`+"\n", f)
			flusher.Flush()
		}
		fmt.Fprintln(w, `{"message":{"content":""},"done":true,"done_reason":"stop","prompt_eval_count":5,"eval_count":9}`)
	}))
}

func TestClient_ChatStream(t *testing.T) {
	srv := streamServer(t, []string{"안녕", "하세요", "!"})
	defer srv.Close()

	c := NewClient(srv.URL, "llama3", 5*time.Second)

	var got []string
	resp, err := c.ChatStream(context.Background(), userMessages("hi"), ChatOptions{}, func(frag string) error {
		got = append(got, frag)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"안녕", "하세요", "!"}, got)
	assert.Equal(t, "안녕하세요!", resp.Content)
	assert.True(t, resp.Done)
	assert.Equal(t, 14, resp.TotalTokens)
}

func TestClient_ChatStream_CallbackAbort(t *testing.T) {
	srv := streamServer(t, []string{"a", "b", "c"})
	defer srv.Close()

	c := NewClient(srv.URL, "llama3", 5*time.Second)

	abort := errors.New("client gone")
	calls := 0
	resp, err := c.ChatStream(context.Background(), userMessages("hi"), ChatOptions{}, func(string) error {
		calls++
		if calls == 2 {
			return abort
		}
		return nil
	})

	require.ErrorIs(t, err, abort)
	// Partial text accumulated before the abort is preserved.
	assert.Equal(t, "ab", resp.Content)
}

func TestClient_ChatStream_SkipsMalformedLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"ok"},"done":false}`)
		fmt.Fprintln(w, `not json at all`)
		fmt.Fprintln(w, `{"message":{"content":"!"},"done":true}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "llama3", 5*time.Second)
	resp, err := c.ChatStream(context.Background(), userMessages("hi"), ChatOptions{}, func(string) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, "ok!", resp.Content)
}

func TestClient_HealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "llama3", 5*time.Second)
	assert.True(t, c.HealthCheck(context.Background()))

	down := NewClient("http://127.0.0.1:1", "llama3", time.Second)
	assert.False(t, down.HealthCheck(context.Background()))
}

func TestClient_CheckModelExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]any{
				{"name": "llama3:8b"},
				{"name": "qwen2:7b"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "llama3", 5*time.Second)

	assert.True(t, c.CheckModelExists(context.Background(), "llama3:8b"), "exact match")
	assert.True(t, c.CheckModelExists(context.Background(), "llama3"), "prefix match before tag")
	assert.True(t, c.CheckModelExists(context.Background(), ""), "defaults to configured model")
	assert.False(t, c.CheckModelExists(context.Background(), "mistral"))
}
