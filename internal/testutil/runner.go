package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/roach88/apifuzz/internal/toolchain"
)

// FakeRunner is a scripted toolchain.Runner.
//
// Every call is recorded. Handler decides the result; a nil Handler makes
// every tool succeed with empty output.
//
// Thread-safety: Run may be called concurrently (parallel compiles).
type FakeRunner struct {
	Handler func(ctx context.Context, cmd toolchain.Cmd) (toolchain.Result, error)

	mu    sync.Mutex
	calls []toolchain.Cmd
}

// Run implements toolchain.Runner.
func (f *FakeRunner) Run(ctx context.Context, cmd toolchain.Cmd) (toolchain.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()

	if f.Handler == nil {
		return toolchain.Result{}, nil
	}
	return f.Handler(ctx, cmd)
}

// Calls returns a copy of every recorded invocation in call order.
func (f *FakeRunner) Calls() []toolchain.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]toolchain.Cmd, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsWithArg returns recorded invocations whose first argument is arg
// (e.g. "merge" for llvm-profdata, "export" for llvm-cov).
func (f *FakeRunner) CallsWithArg(arg string) []toolchain.Cmd {
	var out []toolchain.Cmd
	for _, c := range f.Calls() {
		if len(c.Args) > 0 && c.Args[0] == arg {
			out = append(out, c)
		}
	}
	return out
}

// OutputPath returns the value following "-o" in cmd, or "".
func OutputPath(cmd toolchain.Cmd) string {
	for i, a := range cmd.Args {
		if a == "-o" && i+1 < len(cmd.Args) {
			return cmd.Args[i+1]
		}
	}
	return ""
}

// EnvValue returns the value of key in cmd.Env, or "".
func EnvValue(cmd toolchain.Cmd, key string) string {
	for _, kv := range cmd.Env {
		if strings.HasPrefix(kv, key+"=") {
			return strings.TrimPrefix(kv, key+"=")
		}
	}
	return ""
}
