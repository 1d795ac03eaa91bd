package header

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/roach88/apifuzz/internal/toolchain"
)

// Tracer produces the include trace of one header.
// *toolchain.Toolchain satisfies it.
type Tracer interface {
	IncludeTrace(ctx context.Context, headerDir, header string) (toolchain.Result, error)
}

// Result is the resolved header information for one library.
type Result struct {
	RequiredIncludes []string `json:"required_includes"`
	SystemHeaders    []string `json:"system_headers"`
	Cycles           []Cycle  `json:"cycles,omitempty"`
}

// Resolver computes and caches the header Result of one header directory.
//
// The first successful Resolve builds the forest and the Result; every later
// call returns the same values. A failed Resolve (missing directory,
// compiler not startable, cancelled context) caches nothing.
//
// Thread-safety: Resolve and Forest may be called concurrently. Callers
// never observe a partially built forest.
type Resolver struct {
	dir    string
	tracer Tracer

	mu     sync.Mutex
	done   bool
	trees  []*Node
	result Result
}

// NewResolver creates a Resolver for the headers under dir.
func NewResolver(dir string, tracer Tracer) *Resolver {
	return &Resolver{dir: dir, tracer: tracer}
}

// Dir returns the header directory.
func (r *Resolver) Dir() string {
	return r.dir
}

// Resolve returns the required includes and system headers.
func (r *Resolver) Resolve(ctx context.Context) (Result, error) {
	if err := r.load(ctx); err != nil {
		return Result{}, err
	}
	return r.result, nil
}

// Forest returns the include trees of every valid header.
// The returned trees are shared and must not be modified.
func (r *Resolver) Forest(ctx context.Context) ([]*Node, error) {
	if err := r.load(ctx); err != nil {
		return nil, err
	}
	return r.trees, nil
}

func (r *Resolver) load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return nil
	}

	trees, err := r.buildForest(ctx)
	if err != nil {
		return err
	}

	g := BuildGraph(trees)
	sel := SelectIncludes(g)
	res := Result{
		RequiredIncludes: sel.Headers,
		SystemHeaders:    SystemHeaders(trees, sel.Headers),
	}
	if sel.Fallback {
		res.Cycles = g.Cycles()
		for _, c := range res.Cycles {
			slog.Warn("header cycle", "dir", r.dir, "cycle", c.Message)
		}
		slog.Info("no independent header, using greedy cover",
			"dir", r.dir,
			"headers", g.Len(),
			"selected", len(sel.Headers))
	}

	r.trees, r.result, r.done = trees, res, true
	slog.Debug("headers resolved",
		"dir", r.dir,
		"trees", len(trees),
		"required", res.RequiredIncludes,
		"system", res.SystemHeaders)
	return nil
}

func (r *Resolver) buildForest(ctx context.Context) ([]*Node, error) {
	headers, err := ListHeaders(r.dir)
	if err != nil {
		return nil, err
	}

	var trees []*Node
	for _, h := range headers {
		tree, err := r.extract(ctx, h)
		if err != nil {
			return nil, err
		}
		if tree.Invalid() {
			continue
		}
		trees = append(trees, tree)
	}
	return trees, nil
}

// extract returns the include tree of header (relative to the header dir),
// or the invalid sentinel when the compiler rejects it.
func (r *Resolver) extract(ctx context.Context, header string) (*Node, error) {
	res, err := r.tracer.IncludeTrace(ctx, r.dir, header)
	if err != nil {
		return nil, fmt.Errorf("trace %s: %w", header, err)
	}
	if !res.Success() {
		slog.Debug("header dropped, trace failed",
			"header", header,
			"exit_code", res.ExitCode,
			"stderr", string(res.Stderr))
		return NewInvalid(), nil
	}
	return ParseTrace(res.Stderr, r.dir, header), nil
}

// ListHeaders returns the .h, .hpp and .hxx files under dir as sorted,
// slash-separated paths relative to dir.
func ListHeaders(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("header dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("header dir: %s is not a directory", dir)
	}

	var out []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if isHeaderFile(rel) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk header dir: %w", err)
	}
	return out, nil
}
