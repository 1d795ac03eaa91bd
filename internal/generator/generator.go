// Package generator talks to the language model that writes candidate
// programs.
//
// Two backends implement the same chat-completion seam: the go-openai
// client and a plain JSON-over-HTTP client for OpenAI-compatible proxies.
// Client wraps either one with request pacing, a bounded retry budget and
// extraction of the program from a fenced markdown reply.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/roach88/apifuzz/internal/config"
	"github.com/roach88/apifuzz/internal/ir"
)

// RetryBudget is the default number of attempts per completion.
const RetryBudget = 5

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt is a chat conversation plus the number of programs wanted.
type Prompt struct {
	Messages []Message
	// Samples is the number of independent completions Generate requests.
	// Zero means one.
	Samples int
}

// Generator produces candidate programs from a prompt.
type Generator interface {
	Generate(ctx context.Context, p Prompt) ([]ir.Program, error)
	GenerateSingle(ctx context.Context, p Prompt) (ir.Program, error)
}

// Usage counts tokens reported by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Completer is one chat-completion backend.
type Completer interface {
	Complete(ctx context.Context, model string, temperature float32, msgs []Message) (string, Usage, error)
}

// PermanentError marks a backend failure that retrying cannot fix, such as
// a rejected API key.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Stats are cumulative client counters.
type Stats struct {
	Requests         int64
	Failures         int64
	PromptTokens     int64
	CompletionTokens int64
}

// Client implements Generator over a Completer.
//
// Thread-safety: Generate and GenerateSingle may be called concurrently.
type Client struct {
	backend     Completer
	model       string
	temperature float32
	limiter     *rate.Limiter
	retries     int
	retryDelay  time.Duration

	requests, failures       atomic.Int64
	promptTok, completionTok atomic.Int64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetries sets the attempt budget per completion.
func WithRetries(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.retries = n
		}
	}
}

// WithRetryDelay sets the pause between attempts.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) { c.retryDelay = d }
}

// WithRequestsPerMinute paces requests; zero or less disables pacing.
func WithRequestsPerMinute(n int) ClientOption {
	return func(c *Client) {
		if n <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) ClientOption {
	return func(c *Client) { c.temperature = float32(t) }
}

// NewClient wraps backend. Defaults: RetryBudget attempts, 2s between
// attempts, no pacing.
func NewClient(backend Completer, model string, opts ...ClientOption) *Client {
	c := &Client{
		backend:     backend,
		model:       model,
		temperature: 0.9,
		limiter:     rate.NewLimiter(rate.Inf, 1),
		retries:     RetryBudget,
		retryDelay:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// New builds the Client selected by cfg. The API key is read from the
// environment variable cfg.APIKeyEnv; the openai backend requires it.
func New(cfg config.Generator) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	var backend Completer
	switch cfg.Backend {
	case "openai":
		if key == "" {
			return nil, fmt.Errorf("generator: %s is not set", cfg.APIKeyEnv)
		}
		backend = NewOpenAI(key, cfg.BaseURL)
	case "http":
		backend = NewHTTP(cfg.BaseURL, key, cfg.RequestTimeout())
	default:
		return nil, fmt.Errorf("generator: unknown backend %q", cfg.Backend)
	}
	slog.Info("generator ready", "backend", cfg.Backend, "model", cfg.Model)
	return NewClient(backend, cfg.Model,
		WithRetries(cfg.Retries),
		WithRequestsPerMinute(cfg.RequestsPerMinute),
		WithTemperature(cfg.Temperature),
	), nil
}

// GenerateSingle requests one completion and extracts its program.
func (c *Client) GenerateSingle(ctx context.Context, p Prompt) (ir.Program, error) {
	reply, err := c.complete(ctx, p.Messages)
	if err != nil {
		return ir.Program{}, err
	}
	return ir.Program{Source: ExtractCode(reply)}, nil
}

// Generate requests p.Samples completions concurrently. Completions that
// exhaust their retry budget are dropped; an error is returned only when
// none succeeded.
func (c *Client) Generate(ctx context.Context, p Prompt) ([]ir.Program, error) {
	n := max(p.Samples, 1)
	var (
		mu       sync.Mutex
		programs []ir.Program
		lastErr  error
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			prog, err := c.GenerateSingle(gctx, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				lastErr = err
				return nil
			}
			programs = append(programs, prog)
			return nil
		})
	}
	_ = g.Wait()

	if len(programs) == 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("generate: all %d samples failed: %w", n, lastErr)
	}
	if len(programs) < n {
		slog.Warn("some samples failed", "requested", n, "received", len(programs), "error", lastErr)
	}
	return programs, nil
}

// complete runs one completion under the retry budget.
func (c *Client) complete(ctx context.Context, msgs []Message) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
		c.requests.Add(1)
		reply, usage, err := c.backend.Complete(ctx, c.model, c.temperature, msgs)
		if err == nil {
			c.promptTok.Add(int64(usage.PromptTokens))
			c.completionTok.Add(int64(usage.CompletionTokens))
			return reply, nil
		}
		c.failures.Add(1)
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			return "", err
		}
		slog.Warn("completion failed", "attempt", attempt, "of", c.retries, "error", err)
		if attempt < c.retries && c.retryDelay > 0 {
			t := time.NewTimer(c.retryDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return "", ctx.Err()
			case <-t.C:
			}
		}
	}
	return "", fmt.Errorf("completion failed after %d attempts: %w", c.retries, lastErr)
}

// Stats returns the cumulative counters.
func (c *Client) Stats() Stats {
	return Stats{
		Requests:         c.requests.Load(),
		Failures:         c.failures.Load(),
		PromptTokens:     c.promptTok.Load(),
		CompletionTokens: c.completionTok.Load(),
	}
}
