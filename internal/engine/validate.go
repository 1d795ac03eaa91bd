package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/apifuzz/internal/cntg"
	"github.com/roach88/apifuzz/internal/ir"
	"github.com/roach88/apifuzz/internal/toolchain"
)

// maxDetail bounds the diagnostic kept with a failed verdict.
const maxDetail = 4096

// Outcome is the result of validating one program.
type Outcome struct {
	Verdict  ir.Verdict
	Detail   string
	Coverage toolchain.Coverage // set for VerdictSuccess
	Elapsed  time.Duration
}

// Validator compiles and runs candidate programs one at a time.
//
// Each candidate is written under Dir, fused alone into a core (batch of
// one), compiled with coverage instrumentation and run with a deadline.
// Not safe for concurrent use: candidates share one work directory.
type Validator struct {
	measurer *cntg.Measurer
	dir      string
	now      func() time.Time
}

// NewValidator creates a validator working under dir. fuser supplies the
// entry name, headers and expected return value.
func NewValidator(tc *toolchain.Toolchain, fuser cntg.Fuser, dir string, timeout time.Duration) *Validator {
	fuser.Layout = cntg.Layout{Root: filepath.Join(dir, "work")}
	return &Validator{
		measurer: &cntg.Measurer{Toolchain: tc, Fuser: fuser, Workers: 1, Timeout: timeout},
		dir:      dir,
		now:      time.Now,
	}
}

// Measurer returns the per-program coverage measurer the validator uses.
func (v *Validator) Measurer() *cntg.Measurer {
	return v.measurer
}

// Validate classifies p. Program failures are reported through the
// verdict; the error is reserved for setup problems (the compiler could
// not be started, the work directory is unwritable) and cancellation.
func (v *Validator) Validate(ctx context.Context, p ir.Program) (Outcome, error) {
	start := v.now()
	path := filepath.Join(v.dir, "candidates", fmt.Sprintf("candidate_%06d.cc", p.ID))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Outcome{}, fmt.Errorf("validate: %w", err)
	}
	if err := os.WriteFile(path, []byte(p.Source), 0o644); err != nil {
		return Outcome{}, fmt.Errorf("validate: %w", err)
	}
	defer os.Remove(path)

	ms, err := v.measurer.Measure(ctx, []string{path})
	if err != nil {
		return Outcome{}, err
	}
	out, err := classify(ms[0])
	if err != nil {
		return Outcome{}, err
	}
	out.Elapsed = v.now().Sub(start)
	return out, nil
}

// classify maps a measurement to a verdict.
func classify(m cntg.Measurement) (Outcome, error) {
	if m.Err == nil {
		return Outcome{Verdict: ir.VerdictSuccess, Coverage: m.Coverage}, nil
	}
	var cf *cntg.CompileFailure
	switch {
	case errors.As(m.Err, &cf):
		if cf.Err != nil {
			return Outcome{}, fmt.Errorf("validate: %w", cf)
		}
		v := ir.VerdictSyntaxError
		if cf.LinkFailure() {
			v = ir.VerdictLinkError
		}
		return Outcome{Verdict: v, Detail: truncate(cf.Stderr)}, nil
	case errors.Is(m.Err, cntg.ErrRunTimeout):
		return Outcome{Verdict: ir.VerdictHang, Detail: m.Err.Error()}, nil
	default:
		return Outcome{Verdict: ir.VerdictExecutionError, Detail: truncate(m.Err.Error())}, nil
	}
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxDetail {
		return s[:maxDetail]
	}
	return s
}
