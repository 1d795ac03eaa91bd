package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"
)

// Error codes reported by Load.
const (
	ErrCodeNotFound    = "E005" // Config file not found
	ErrCodeLoadFailed  = "E004" // CUE or YAML load failed
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeInvalid     = "E201" // Value rejected by the schema
)

// LoadError represents an error that occurred while loading a configuration.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsLoadError reports whether err is or wraps a *LoadError.
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

// Load reads the configuration at path. Files ending in .yaml or .yml are
// parsed as YAML; anything else is loaded as CUE.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("config not found: %s", path)}
	}

	ctx := cuecontext.New()
	var (
		value cue.Value
		err   error
	)
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		value, err = loadYAML(ctx, path)
	default:
		value, err = loadCUE(ctx, path)
	}
	if err != nil {
		return nil, err
	}
	return decode(ctx, value)
}

// Parse decodes CUE source text. Used by tests and the init command.
func Parse(src []byte) (*Config, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(src, cue.Filename("config.cue"))
	if err := value.Err(); err != nil {
		return nil, fromCUE(ErrCodeBuildFailed, err)
	}
	return decode(ctx, value)
}

func loadCUE(ctx *cue.Context, path string) (cue.Value, error) {
	cfg := &load.Config{Dir: filepath.Dir(path)}
	instances := load.Instances([]string{filepath.Base(path)}, cfg)
	if len(instances) == 0 {
		return cue.Value{}, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return cue.Value{}, fromCUE(ErrCodeBuildFailed, err)
	}
	return value, nil
}

func loadYAML(ctx *cue.Context, path string) (cue.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, &LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cue.Value{}, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("parsing YAML: %v", err)}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	value := ctx.Encode(raw)
	if err := value.Err(); err != nil {
		return cue.Value{}, fromCUE(ErrCodeBuildFailed, err)
	}
	return value, nil
}

// decode unifies value with #Config and decodes the concrete result.
func decode(ctx *cue.Context, value cue.Value) (*Config, error) {
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fromCUE(ErrCodeBuildFailed, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fromCUE(ErrCodeInvalid, err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return nil, fromCUE(ErrCodeInvalid, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// fromCUE converts the first CUE error to a LoadError with its position.
func fromCUE(code string, err error) *LoadError {
	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return &LoadError{Code: code, Message: err.Error()}
	}
	first := list[0]
	format, args := first.Msg()
	msg := fmt.Sprintf(format, args...)
	path := first.Path()
	if len(path) > 0 && path[0] == "#Config" {
		path = path[1:]
	}
	if len(path) > 0 {
		msg = fmt.Sprintf("%s: %s", strings.Join(path, "."), msg)
	}
	return &LoadError{Code: code, Message: msg, Pos: first.Position()}
}
