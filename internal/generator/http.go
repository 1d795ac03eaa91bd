package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// HTTP posts OpenAI-compatible chat completion requests to a fixed URL.
type HTTP struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTP creates the backend. url is the full completion endpoint; apiKey
// may be empty.
func NewHTTP(url, apiKey string, timeout time.Duration) *HTTP {
	return &HTTP{url: url, apiKey: apiKey, client: &http.Client{Timeout: timeout}}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete implements Completer.
func (h *HTTP) Complete(ctx context.Context, model string, temperature float32, msgs []Message) (string, Usage, error) {
	body, err := json.Marshal(chatRequest{Model: model, Messages: msgs, Temperature: temperature})
	if err != nil {
		return "", Usage{}, &PermanentError{Err: fmt.Errorf("http: encode request: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, &PermanentError{Err: fmt.Errorf("http: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "apifuzz/1.0")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("http: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("http: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		if isPermanentStatus(resp.StatusCode) {
			return "", Usage{}, &PermanentError{Err: err}
		}
		return "", Usage{}, err
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", Usage{}, fmt.Errorf("http: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("http: no choices returned")
	}
	slog.Debug("completion received", "backend", "http", "finish_reason", out.Choices[0].FinishReason)
	return out.Choices[0].Message.Content, Usage{
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
	}, nil
}
