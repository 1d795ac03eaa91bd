package ir

import (
	"fmt"
	"time"
)

// Gadget describes one exported library API function from the gadget catalog.
// The scheduler treats Name as an opaque key.
type Gadget struct {
	Name      string   `json:"name" yaml:"name"`
	Signature string   `json:"signature,omitempty" yaml:"signature,omitempty"`
	Types     []string `json:"types,omitempty" yaml:"types,omitempty"`
}

// Verdict classifies the outcome of compiling and executing one program.
type Verdict int

const (
	// VerdictUnknown means the program has not been validated yet.
	VerdictUnknown Verdict = iota
	// VerdictSuccess means the program compiled, linked and ran to completion.
	VerdictSuccess
	// VerdictSyntaxError means the compiler rejected the source.
	VerdictSyntaxError
	// VerdictLinkError means compilation succeeded but linking failed.
	VerdictLinkError
	// VerdictExecutionError means the binary exited abnormally.
	VerdictExecutionError
	// VerdictHang means the binary did not finish before its deadline.
	VerdictHang
)

var verdictNames = map[Verdict]string{
	VerdictUnknown:        "unknown",
	VerdictSuccess:        "success",
	VerdictSyntaxError:    "syntax_error",
	VerdictLinkError:      "link_error",
	VerdictExecutionError: "execution_error",
	VerdictHang:           "hang",
}

// String returns the snake_case verdict name.
func (v Verdict) String() string {
	if name, ok := verdictNames[v]; ok {
		return name
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// OK reports whether the verdict is VerdictSuccess.
func (v Verdict) OK() bool {
	return v == VerdictSuccess
}

// ParseVerdict converts a verdict name back to a Verdict.
func ParseVerdict(s string) (Verdict, error) {
	for v, name := range verdictNames {
		if name == s {
			return v, nil
		}
	}
	return VerdictUnknown, fmt.Errorf("unknown verdict %q", s)
}

// Program is one generated candidate source unit.
//
// Source holds the raw text returned by the generator. Path is set once the
// program has been saved to the seed corpus. Detail carries the compiler or
// runtime diagnostic for failed verdicts.
type Program struct {
	ID      int64   `json:"id"`
	Source  string  `json:"source"`
	Verdict Verdict `json:"verdict"`
	Detail  string  `json:"detail,omitempty"`
	Path    string  `json:"path,omitempty"`
}

// SeedMeta is one row of the seed metadata table.
//
// Coverage is nil until a batch coverage recomputation back-fills it with the
// cumulative branch-coverage percentage as of the batch containing this seed.
//
// Elapsed is relative to the start of the seed's own session. FoundAt is the
// absolute discovery time when the session start is known, zero otherwise.
type SeedMeta struct {
	Path     string        `json:"path"`
	Elapsed  time.Duration `json:"elapsed"`
	FoundAt  time.Time     `json:"found_at,omitzero"`
	Coverage *float64      `json:"coverage,omitempty"`
}

// FoundBefore reports whether m was found before o. Records with a known
// FoundAt compare by it; otherwise Elapsed decides.
func (m SeedMeta) FoundBefore(o SeedMeta) bool {
	if !m.FoundAt.IsZero() && !o.FoundAt.IsZero() && !m.FoundAt.Equal(o.FoundAt) {
		return m.FoundAt.Before(o.FoundAt)
	}
	return m.Elapsed < o.Elapsed
}

// CallPair is an ordered pair of consecutive call expressions.
type CallPair struct {
	First  string `json:"first"`
	Second string `json:"second"`
}

// String formats the pair as "first -> second".
func (p CallPair) String() string {
	return p.First + " -> " + p.Second
}

// CallTriple is an ordered window of three consecutive call expressions.
type CallTriple struct {
	First  string `json:"first"`
	Second string `json:"second"`
	Third  string `json:"third"`
}

// Names returns the three participating call names in order.
func (t CallTriple) Names() [3]string {
	return [3]string{t.First, t.Second, t.Third}
}

// String formats the triple the way the .pairs files store it.
func (t CallTriple) String() string {
	return fmt.Sprintf("(%q, %q, %q)", t.First, t.Second, t.Third)
}
