package engine

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/roach88/apifuzz/internal/config"
	"github.com/roach88/apifuzz/internal/generator"
	"github.com/roach88/apifuzz/internal/ir"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// MaxExamples is the number of successful programs carried in a prompt.
const MaxExamples = 2

// PromptContext is the library description shared by every prompt.
type PromptContext struct {
	Target         string
	Entry          string
	ExpectReturn   int
	Mode           string
	SystemHeaders  []string
	LibraryHeaders []string
	APIs           []ir.Gadget
}

// Prompter renders chat prompts for a gadget combination.
//
// It keeps the most recent successful programs as examples, oldest
// dropped first. Not safe for concurrent use; the loop owns it.
type Prompter struct {
	ctx      PromptContext
	system   string
	user     *template.Template
	examples []string
}

// NewPrompter parses the templates and renders the system message once.
func NewPrompter(pc PromptContext) (*Prompter, error) {
	if pc.Mode == "" {
		pc.Mode = config.ModeAPICombination
	}
	tmpl, err := template.New("").
		Funcs(template.FuncMap{"join": strings.Join}).
		ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse prompt templates: %w", err)
	}
	var sys bytes.Buffer
	if err := tmpl.ExecuteTemplate(&sys, "system.tmpl", pc); err != nil {
		return nil, fmt.Errorf("render system prompt: %w", err)
	}
	return &Prompter{ctx: pc, system: sys.String(), user: tmpl.Lookup("user.tmpl")}, nil
}

// Build renders the conversation asking for samples programs that use
// combination.
func (p *Prompter) Build(combination []ir.Gadget, samples int) (generator.Prompt, error) {
	data := struct {
		PromptContext
		Combination []ir.Gadget
		Examples    []string
	}{p.ctx, combination, p.examples}

	var user bytes.Buffer
	if err := p.user.Execute(&user, data); err != nil {
		return generator.Prompt{}, fmt.Errorf("render user prompt: %w", err)
	}
	return generator.Prompt{
		Messages: []generator.Message{
			{Role: generator.RoleSystem, Content: p.system},
			{Role: generator.RoleUser, Content: user.String()},
		},
		Samples: samples,
	}, nil
}

// AddExample remembers a successful program for later prompts.
func (p *Prompter) AddExample(source string) {
	if len(p.examples) >= MaxExamples {
		p.examples = p.examples[1:]
	}
	p.examples = append(p.examples, strings.TrimSpace(source))
}

// Examples returns the remembered programs, oldest first.
func (p *Prompter) Examples() []string {
	return append([]string(nil), p.examples...)
}
