// Package toolchain wraps the external C/C++ compiler and LLVM coverage tools.
//
// Every tool invocation goes through the Runner interface: paths and
// arguments in, exit status plus stdout/stderr text out. Production code uses
// ExecRunner; tests substitute a scripted fake.
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Cmd describes one tool invocation.
type Cmd struct {
	Name string
	Args []string
	Dir  string   // working directory (empty = current)
	Env  []string // extra KEY=VALUE entries appended to the process environment
}

// String renders the command line for logs.
func (c Cmd) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result is the observable outcome of a finished tool invocation.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Success reports whether the tool exited with status 0.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Runner executes tool invocations.
//
// A non-zero exit is NOT an error: it is reported through Result.ExitCode.
// Run returns an error only when the tool could not be started or the
// context ended before the tool finished.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) (Result, error)
}

// ExecRunner runs tools as child processes via os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, cmd Cmd) (Result, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, ctxErr
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	default:
		return res, fmt.Errorf("run %s: %w", cmd.Name, err)
	}
}
