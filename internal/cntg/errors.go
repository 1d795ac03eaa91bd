package cntg

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrRunTimeout is returned when a core did not finish before its deadline.
var ErrRunTimeout = errors.New("core run timed out")

// SetupError reports a missing artifact the caller must produce first,
// such as the cores directory or the merged profile.
type SetupError struct {
	What string // human-readable artifact name
	Path string
	Hint string // command that produces the artifact
	Err  error
}

func (e *SetupError) Error() string {
	msg := fmt.Sprintf("missing %s at %s", e.What, e.Path)
	if e.Hint != "" {
		msg += " (run " + e.Hint + " first)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// IsSetupError reports whether err is or wraps a *SetupError.
func IsSetupError(err error) bool {
	var se *SetupError
	return errors.As(err, &se)
}

// CompileFailure is the failed compilation of one core.
type CompileFailure struct {
	Core     int    `json:"core"`
	Dir      string `json:"dir"`
	ExitCode int    `json:"exit_code"`
	Stderr   string `json:"stderr,omitempty"`
	Err      error  `json:"-"` // set when the compiler could not be started
}

func (f *CompileFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: compiler did not start: %v", coreName(f.Core), f.Err)
	}
	return fmt.Sprintf("%s: compiler exited %d: %s", coreName(f.Core), f.ExitCode, firstLine(f.Stderr))
}

func (f *CompileFailure) Unwrap() error {
	return f.Err
}

// LinkFailure reports whether the compiler output points at the link step.
func (f CompileFailure) LinkFailure() bool {
	return IsLinkDiagnostic(f.Stderr)
}

// IsLinkDiagnostic reports whether compiler stderr comes from the linker.
func IsLinkDiagnostic(stderr string) bool {
	return strings.Contains(stderr, "undefined reference") ||
		strings.Contains(stderr, "ld returned") ||
		strings.Contains(stderr, "linker command failed") ||
		strings.Contains(stderr, "multiple definition of")
}

// CompileErrors aggregates every failed core of one CompileAll call.
type CompileErrors struct {
	Failures []CompileFailure
}

func (e *CompileErrors) Error() string {
	idx := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		idx[i] = fmt.Sprintf("core_%04d", f.Core)
	}
	return fmt.Sprintf("%d core(s) failed to compile: %s", len(e.Failures), strings.Join(idx, ", "))
}

func (e *CompileErrors) add(f CompileFailure) {
	e.Failures = append(e.Failures, f)
}

func (e *CompileErrors) sort() {
	sort.Slice(e.Failures, func(i, j int) bool { return e.Failures[i].Core < e.Failures[j].Core })
}

// AsCompileErrors extracts the *CompileErrors from err.
func AsCompileErrors(err error) (*CompileErrors, bool) {
	var ce *CompileErrors
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
