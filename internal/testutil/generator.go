package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/apifuzz/internal/generator"
	"github.com/roach88/apifuzz/internal/ir"
)

// ErrScriptExhausted is returned once every scripted reply was consumed.
var ErrScriptExhausted = errors.New("fake generator: script exhausted")

// FakeGenerator replays scripted program sources.
//
// Each Generate call consumes the next batch; each GenerateSingle call
// consumes the first source of the next batch. Every prompt is recorded.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeGenerator struct {
	mu      sync.Mutex
	batches [][]string
	next    int
	prompts []generator.Prompt
	// Repeat makes the last batch replay forever instead of exhausting.
	Repeat bool
}

// NewFakeGenerator creates a generator that returns batches in order.
func NewFakeGenerator(batches ...[]string) *FakeGenerator {
	return &FakeGenerator{batches: batches}
}

// Generate implements generator.Generator.
func (g *FakeGenerator) Generate(ctx context.Context, p generator.Prompt) ([]ir.Program, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, p)
	if g.next >= len(g.batches) {
		if !g.Repeat || len(g.batches) == 0 {
			return nil, ErrScriptExhausted
		}
		g.next = len(g.batches) - 1
	}
	batch := g.batches[g.next]
	g.next++
	out := make([]ir.Program, len(batch))
	for i, src := range batch {
		out[i] = ir.Program{Source: src}
	}
	return out, nil
}

// GenerateSingle implements generator.Generator.
func (g *FakeGenerator) GenerateSingle(ctx context.Context, p generator.Prompt) (ir.Program, error) {
	progs, err := g.Generate(ctx, p)
	if err != nil {
		return ir.Program{}, err
	}
	if len(progs) == 0 {
		return ir.Program{}, ErrScriptExhausted
	}
	return progs[0], nil
}

// Prompts returns a copy of every prompt received.
func (g *FakeGenerator) Prompts() []generator.Prompt {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]generator.Prompt(nil), g.prompts...)
}

// Calls returns the number of Generate calls made.
func (g *FakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}
