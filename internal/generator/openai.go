package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

// OpenAI is the go-openai chat backend.
type OpenAI struct {
	client *openai.Client
}

// NewOpenAI creates the backend. An empty baseURL uses the public endpoint.
func NewOpenAI(apiKey, baseURL string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg)}
}

// Complete implements Completer.
func (o *OpenAI) Complete(ctx context.Context, model string, temperature float32, msgs []Message) (string, Usage, error) {
	req := openai.ChatCompletionRequest{
		Model:       model,
		Temperature: temperature,
		Messages:    make([]openai.ChatCompletionMessage, len(msgs)),
	}
	for i, m := range msgs {
		req.Messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var (
			apiErr *openai.APIError
			reqErr *openai.RequestError
		)
		switch {
		case errors.As(err, &apiErr) && isPermanentStatus(apiErr.HTTPStatusCode),
			errors.As(err, &reqErr) && isPermanentStatus(reqErr.HTTPStatusCode):
			return "", Usage{}, &PermanentError{Err: fmt.Errorf("openai: %w", err)}
		}
		return "", Usage{}, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("openai: no choices returned")
	}
	slog.Debug("completion received", "backend", "openai", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// isPermanentStatus reports client errors other than rate limiting.
func isPermanentStatus(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusRequestTimeout
}
