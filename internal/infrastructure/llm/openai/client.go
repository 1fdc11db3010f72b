// Package openai adapts the OpenAI chat completions API to ports.CompletionClient.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/kirillkom/docchat/internal/core/domain"
	"github.com/kirillkom/docchat/internal/infrastructure/resilience"
)

const (
	DefaultModel   = "gpt-3.5-turbo"
	defaultTimeout = 120 * time.Second
	operationName  = "openai.chat_completion"
)

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type Client struct {
	api    *goopenai.Client
	model  string
	hasKey bool
	exec   *resilience.Executor
}

// New builds a client. A nil executor gets the default single-attempt policy.
func New(cfg Config, exec *resilience.Executor) *Client {
	apiCfg := goopenai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		apiCfg.BaseURL = base
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	apiCfg.HTTPClient = &http.Client{Timeout: timeout}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	if exec == nil {
		exec = resilience.NewExecutor(resilience.DefaultPolicy())
	}
	return &Client{
		api:    goopenai.NewClientWithConfig(apiCfg),
		model:  model,
		hasKey: strings.TrimSpace(cfg.APIKey) != "",
		exec:   exec,
	}
}

func (c *Client) Model() string { return c.model }

func (c *Client) Complete(ctx context.Context, messages []domain.ChatMessage) (domain.Completion, error) {
	if !c.hasKey {
		return domain.Completion{}, domain.WrapError(domain.ErrMissingCredential, "openai chat completion", errors.New("OPENAI_API_KEY is not set"))
	}

	req := goopenai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toAPIMessages(messages),
	}

	start := time.Now()
	resp, err := resilience.Call(ctx, c.exec, operationName, func(ctx context.Context) (goopenai.ChatCompletionResponse, error) {
		return c.api.CreateChatCompletion(ctx, req)
	}, classifyError)
	if err != nil {
		if resilience.IsCircuitOpen(err) {
			return domain.Completion{}, domain.WrapError(domain.ErrTemporary, "openai chat completion", err)
		}
		return domain.Completion{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.Completion{}, errors.New("openai chat completion: no choices returned")
	}

	slog.Debug("openai_completion_received",
		"model", resp.Model,
		"finish_reason", string(resp.Choices[0].FinishReason),
		"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
	)

	model := resp.Model
	if model == "" {
		model = c.model
	}
	return domain.Completion{
		Text:             resp.Choices[0].Message.Content,
		Model:            model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func toAPIMessages(messages []domain.ChatMessage) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := goopenai.ChatMessageRoleUser
		switch m.Role {
		case domain.RoleSystem:
			role = goopenai.ChatMessageRoleSystem
		case domain.RoleAssistant:
			role = goopenai.ChatMessageRoleAssistant
		}
		out = append(out, goopenai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}
