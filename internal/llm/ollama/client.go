package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/smashlab/coachchat/internal/domain"
)

// Client talks to an Ollama server over its HTTP chat API. It supports both
// atomic and streamed completions. Chat calls do not retry internally: the
// gateway's job is accurate, fast failure signaling, and any retry policy
// belongs to the caller.
type Client struct {
	host    string
	model   string
	timeout time.Duration

	client       *http.Client
	streamClient *http.Client
}

// NewClient creates a client for the given Ollama host. The timeout applies
// to non-streaming calls only; streamed generations are open-ended.
func NewClient(host, defaultModel string, timeout time.Duration) *Client {
	if defaultModel == "" {
		defaultModel = "llama3"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		host:         strings.TrimRight(host, "/"),
		model:        defaultModel,
		timeout:      timeout,
		client:       &http.Client{Timeout: timeout},
		streamClient: &http.Client{},
	}
}

// Model returns the configured default model.
func (c *Client) Model() string {
	return c.model
}

// ChatOptions tunes a single chat call. The system prompt is prepended as a
// system-role message ahead of the supplied history; it is never merged into
// the caller's messages.
type ChatOptions struct {
	SystemPrompt string
	Model        string
	Temperature  float64
	MaxTokens    int
	Extra        map[string]any
}

// ChatResponse is a completed (or accumulated) generation with its metadata.
type ChatResponse struct {
	Content          string
	Model            string
	Elapsed          time.Duration
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Done             bool
	DoneReason       string
}

// ModelInfo describes a model reported by the server.
type ModelInfo struct {
	Name       string         `json:"name"`
	Size       int64          `json:"size"`
	Digest     string         `json:"digest"`
	ModifiedAt string         `json:"modified_at"`
	Details    map[string]any `json:"details"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []wireMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatChunk struct {
	Model   string `json:"model"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func (c *Client) buildRequest(messages []domain.ChatMessage, opts ChatOptions, stream bool) chatRequest {
	wire := make([]wireMessage, 0, len(messages)+1)
	if opts.SystemPrompt != "" {
		wire = append(wire, wireMessage{Role: domain.RoleSystem, Content: opts.SystemPrompt})
	}
	for _, m := range messages {
		wire = append(wire, wireMessage{Role: m.Role, Content: m.Content})
	}

	options := map[string]any{
		"temperature": opts.Temperature,
		"num_predict": opts.MaxTokens,
	}
	for k, v := range opts.Extra {
		options[k] = v
	}

	model := opts.Model
	if model == "" {
		model = c.model
	}

	return chatRequest{
		Model:    model,
		Messages: wire,
		Stream:   stream,
		Options:  options,
	}
}

// Chat sends a non-streaming chat request and returns the full response.
func (c *Client) Chat(ctx context.Context, messages []domain.ChatMessage, opts ChatOptions) (*ChatResponse, error) {
	reqID := shortID()
	body := c.buildRequest(messages, opts, false)
	start := time.Now()

	log.Info().
		Str("req_id", reqID).
		Str("model", body.Model).
		Int("messages", len(messages)).
		Float64("temperature", opts.Temperature).
		Msg("ollama chat request")

	resp, err := c.post(ctx, c.client, "/api/chat", body)
	if err != nil {
		return nil, c.classifyTransportErr(err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, body.Model); err != nil {
		return nil, err
	}

	var chunk chatChunk
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}

	elapsed := time.Since(start)
	out := &ChatResponse{
		Content:          chunk.Message.Content,
		Model:            chunk.Model,
		Elapsed:          elapsed,
		PromptTokens:     chunk.PromptEvalCount,
		CompletionTokens: chunk.EvalCount,
		TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
		Done:             chunk.Done,
		DoneReason:       chunk.DoneReason,
	}
	if out.Model == "" {
		out.Model = body.Model
	}

	log.Info().
		Str("req_id", reqID).
		Int("chars", len(out.Content)).
		Int("tokens", out.TotalTokens).
		Dur("elapsed", elapsed).
		Msg("ollama chat completed")

	return out, nil
}

// ChatStream sends a streaming chat request, invoking fn for every text
// fragment in order. fn returning an error aborts the stream. The returned
// response carries the concatenation of all fragments produced so far, even
// when an error interrupted the stream, so callers can persist partial output.
// Streaming has no deadline; cancel via ctx.
func (c *Client) ChatStream(ctx context.Context, messages []domain.ChatMessage, opts ChatOptions, fn func(fragment string) error) (*ChatResponse, error) {
	reqID := shortID()
	body := c.buildRequest(messages, opts, true)
	start := time.Now()

	log.Info().
		Str("req_id", reqID).
		Str("model", body.Model).
		Int("messages", len(messages)).
		Msg("ollama stream request")

	resp, err := c.post(ctx, c.streamClient, "/api/chat", body)
	if err != nil {
		if ctx.Err() != nil {
			return &ChatResponse{Model: body.Model}, ctx.Err()
		}
		return &ChatResponse{Model: body.Model}, &ConnectionError{Host: c.host, Err: err}
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, body.Model); err != nil {
		return &ChatResponse{Model: body.Model}, err
	}

	out := &ChatResponse{Model: body.Model}
	var sb strings.Builder
	chunks := 0

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			log.Warn().Str("req_id", reqID).Err(err).Msg("invalid stream line, skipped")
			continue
		}

		if chunk.Message.Content != "" {
			chunks++
			sb.WriteString(chunk.Message.Content)
			if err := fn(chunk.Message.Content); err != nil {
				out.Content = sb.String()
				out.Elapsed = time.Since(start)
				return out, err
			}
		}

		if chunk.Done {
			out.Content = sb.String()
			out.Elapsed = time.Since(start)
			out.PromptTokens = chunk.PromptEvalCount
			out.CompletionTokens = chunk.EvalCount
			out.TotalTokens = chunk.PromptEvalCount + chunk.EvalCount
			out.Done = true
			out.DoneReason = chunk.DoneReason
			if chunk.Model != "" {
				out.Model = chunk.Model
			}

			log.Info().
				Str("req_id", reqID).
				Int("chunks", chunks).
				Int("chars", len(out.Content)).
				Dur("elapsed", out.Elapsed).
				Msg("ollama stream completed")

			return out, nil
		}
	}

	out.Content = sb.String()
	out.Elapsed = time.Since(start)

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		return out, &ConnectionError{Host: c.host, Err: err}
	}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	// Stream ended without a done record; treat the accumulated text as final.
	log.Warn().Str("req_id", reqID).Msg("stream ended without done record")
	return out, nil
}

// HealthCheck probes the server's tag endpoint with a short deadline. It never
// returns an error, only false.
func (c *Client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.streamClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("host", c.host).Msg("ollama health check failed")
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

// ListModels returns the models available on the server.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.classifyTransportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(msg)}
	}

	var payload struct {
		Models []ModelInfo `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	return payload.Models, nil
}

// CheckModelExists reports whether a model is available, matching either the
// exact name or the name before its version tag (e.g. "llama3" matches
// "llama3:8b"). An empty name checks the configured default model.
func (c *Client) CheckModelExists(ctx context.Context, name string) bool {
	target := name
	if target == "" {
		target = c.model
	}
	base, _, _ := strings.Cut(target, ":")

	models, err := c.ListModels(ctx)
	if err != nil {
		log.Error().Err(err).Str("model", target).Msg("model check failed")
		return false
	}

	for _, m := range models {
		if m.Name == target || strings.HasPrefix(m.Name, base) {
			return true
		}
	}
	log.Warn().Str("model", target).Msg("model not found on server")
	return false
}

func (c *Client) post(ctx context.Context, hc *http.Client, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return hc.Do(req)
}

// checkStatus maps a non-2xx response to the gateway error taxonomy and
// consumes the body on failure.
func (c *Client) checkStatus(resp *http.Response, model string) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return &ModelNotFoundError{Model: model}
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: string(msg)}
	}
}

func (c *Client) classifyTransportErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Timeout: c.timeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TimeoutError{Timeout: c.timeout, Err: err}
	}
	return &ConnectionError{Host: c.host, Err: err}
}

func shortID() string {
	return uuid.NewString()[:8]
}
