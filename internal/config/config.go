// Package config loads and validates the project configuration.
//
// A configuration is a CUE or YAML file. Either form is unified with the
// embedded #Config schema, which rejects unknown fields and fills defaults,
// then decoded into Config.
package config

import (
	_ "embed"
	"fmt"
	"time"
)

//go:embed schema.cue
var schemaCUE string

// Generation modes.
const (
	ModeAPICombination = "api-combination"
	ModeFuzzDriver     = "fuzz-driver"
)

// Config is the decoded project configuration.
type Config struct {
	Target       string `json:"target"`
	HeaderDir    string `json:"header_dir"`
	OutputDir    string `json:"output_dir"`
	Entry        string `json:"entry"`
	ExpectReturn int    `json:"expect_return"`
	Mode         string `json:"mode"`
	Catalog      string `json:"catalog"`
	Database     string `json:"database"`
	Metrics      string `json:"metrics"`

	Toolchain Toolchain `json:"toolchain"`
	CNTG      CNTG      `json:"cntg"`
	Schedule  Schedule  `json:"schedule"`
	Fuzz      Fuzz      `json:"fuzz"`
	Generator Generator `json:"generator"`
}

// Toolchain names the compiler and coverage tools and the library flags.
type Toolchain struct {
	CXX      string   `json:"cxx"`
	Profdata string   `json:"profdata"`
	Cov      string   `json:"cov"`
	Includes []string `json:"includes"`
	Libs     []string `json:"libs"`
	Extra    []string `json:"extra"`
}

// CNTG configures program fusion and coverage collection.
type CNTG struct {
	BatchSize  int    `json:"batch_size"`
	Workers    int    `json:"workers"`
	RunTimeout string `json:"run_timeout"`
}

// Schedule configures the energy scheduler.
type Schedule struct {
	CombinationLen int        `json:"combination_len"`
	Exponent       float64    `json:"exponent"`
	Epsilon        float64    `json:"epsilon"`
	AlphaMin       float64    `json:"alpha_min"`
	Starvation     Starvation `json:"starvation"`
}

// Starvation parameterizes the logistic starvation override.
// MaxProb 0 disables it.
type Starvation struct {
	MaxProb   float64 `json:"max_prob"`
	Midpoint  float64 `json:"midpoint"`
	Steepness float64 `json:"steepness"`
}

// Fuzz configures the generation loop.
//
// QuietRounds only applies in api-combination mode. ConvergeRounds applies
// in both modes; api-combination stops at whichever limit is reached first.
type Fuzz struct {
	MaxRounds          int    `json:"max_rounds"`
	ProgramsPerRound   int    `json:"programs_per_round"`
	QuietRounds        int    `json:"quiet_rounds"`
	NewTripleThreshold int    `json:"new_triple_threshold"`
	ConvergeRounds     int    `json:"converge_rounds"`
	RoundSuccessTarget int    `json:"round_success_target"`
	SeedTimeout        string `json:"seed_timeout"`
}

// Generator selects and configures the program generator backend.
type Generator struct {
	Backend           string  `json:"backend"`
	Model             string  `json:"model"`
	BaseURL           string  `json:"base_url"`
	APIKeyEnv         string  `json:"api_key_env"`
	Temperature       float64 `json:"temperature"`
	RequestsPerMinute int     `json:"requests_per_minute"`
	Retries           int     `json:"retries"`
	Timeout           string  `json:"timeout"`
}

// Timeout returns the parsed per-core run deadline.
func (c CNTG) Timeout() time.Duration { return mustDuration(c.RunTimeout) }

// Deadline returns the parsed seed generation timeout; zero disables it.
func (f Fuzz) Deadline() time.Duration { return mustDuration(f.SeedTimeout) }

// RequestTimeout returns the parsed per-request timeout.
func (g Generator) RequestTimeout() time.Duration { return mustDuration(g.Timeout) }

// mustDuration parses a duration already validated by the schema.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// validate checks what the schema cannot express.
func (c *Config) validate() error {
	for field, v := range map[string]string{
		"cntg.run_timeout":  c.CNTG.RunTimeout,
		"fuzz.seed_timeout": c.Fuzz.SeedTimeout,
		"generator.timeout": c.Generator.Timeout,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return &LoadError{Code: ErrCodeInvalid, Message: fmt.Sprintf("%s: %v", field, err)}
		}
	}
	if c.Generator.Backend == "http" && c.Generator.BaseURL == "" {
		return &LoadError{Code: ErrCodeInvalid, Message: "generator.base_url is required for the http backend"}
	}
	return nil
}
