// ABOUTME: LLM call executor used once per chat turn
// ABOUTME: OpenRouter implementation over the OpenAI-compatible chat completions API

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/2389/orchat-gateway/internal/store"
)

// DefaultBaseURL is the OpenRouter API root.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// ErrEmptyReply is returned when the provider answered without usable content.
var ErrEmptyReply = errors.New("provider returned no content")

// Executor sends a transcript to a model and returns the assistant reply.
type Executor interface {
	Complete(ctx context.Context, model string, messages []store.ContextMessage) (store.ContextMessage, error)
}

// Config holds OpenRouter client settings.
type Config struct {
	APIKey   string
	BaseURL  string
	RankURL  string // sent as HTTP-Referer
	RankName string // sent as X-Title
	Timeout  time.Duration
}

// OpenRouter is an Executor backed by OpenRouter.
type OpenRouter struct {
	client *openai.Client
	logger *slog.Logger
}

// NewOpenRouter creates an OpenRouter executor.
func NewOpenRouter(cfg Config, logger *slog.Logger) *OpenRouter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	oc.HTTPClient = &http.Client{
		Timeout: cfg.Timeout,
		Transport: &headerTransport{
			base:     http.DefaultTransport,
			referer:  cfg.RankURL,
			appTitle: cfg.RankName,
		},
	}

	return &OpenRouter{
		client: openai.NewClientWithConfig(oc),
		logger: logger.With("component", "llm"),
	}
}

// Complete runs one chat completion. A timeout, a transport error, an API error
// and an empty reply are all returned as errors.
func (o *OpenRouter) Complete(ctx context.Context, model string, messages []store.ContextMessage) (store.ContextMessage, error) {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAI(messages),
	}

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			o.logger.Warn("provider rejected completion", "model", model, "status", apiErr.HTTPStatusCode, "error", apiErr.Message)
		} else {
			o.logger.Warn("completion request failed", "model", model, "error", err)
		}
		return store.ContextMessage{}, fmt.Errorf("chat completion with %s: %w", model, err)
	}

	reply, err := replyFrom(resp)
	if err != nil {
		o.logger.Warn("empty completion", "model", model, "choices", len(resp.Choices))
		return store.ContextMessage{}, err
	}

	o.logger.Debug("completion done",
		"model", model,
		"messages", len(messages),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"duration", time.Since(start),
	)
	return reply, nil
}

// replyFrom takes the first choice's content, falling back to its refusal text.
func replyFrom(resp openai.ChatCompletionResponse) (store.ContextMessage, error) {
	if len(resp.Choices) == 0 {
		return store.ContextMessage{}, ErrEmptyReply
	}
	msg := resp.Choices[0].Message
	content := msg.Content
	if content == "" {
		content = msg.Refusal
	}
	if content == "" {
		return store.ContextMessage{}, ErrEmptyReply
	}
	return store.ContextMessage{Role: store.RoleAssistant, Content: content}, nil
}

func toOpenAI(messages []store.ContextMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return out
}

// headerTransport adds the OpenRouter ranking headers to every request.
type headerTransport struct {
	base     http.RoundTripper
	referer  string
	appTitle string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.referer == "" && t.appTitle == "" {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	if t.referer != "" {
		req.Header.Set("HTTP-Referer", t.referer)
	}
	if t.appTitle != "" {
		req.Header.Set("X-Title", t.appTitle)
	}
	return t.base.RoundTrip(req)
}
