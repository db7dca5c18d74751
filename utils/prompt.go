package utils

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

const (
	PROMPT_ISOMETRIC     = "isometric"
	PROMPT_ANALYSIS      = "analysis"
	PROMPT_OPTIONS       = "options"
	PROMPT_VISUALIZATION = "visualization"

	TOKEN_MODEL = tokenizer.Cl100kBase
)

var (
	ErrPromptTooLong = errors.New("prompt exceeds maximum token limit")

	placeholderRegex = regexp.MustCompile(`\{\{[a-z_]+\}\}`)
)

//go:embed prompts/*.md
var defaultPrompts embed.FS

// PromptBuilder handles template-based prompt construction
type PromptBuilder struct {
	templates map[string]string
	maxTokens int
	enc       tokenizer.Codec
}

// NewPromptBuilder loads the built-in templates, replacing any that have a
// same-named .md file in overrideDir.
func NewPromptBuilder(overrideDir string, maxTokens int) (*PromptBuilder, error) {
	enc, err := tokenizer.Get(TOKEN_MODEL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tokenizer: %w", err)
	}

	pb := &PromptBuilder{
		templates: make(map[string]string),
		maxTokens: maxTokens,
		enc:       enc,
	}

	entries, err := defaultPrompts.ReadDir("prompts")
	if err != nil {
		return nil, fmt.Errorf("failed to read built-in templates: %w", err)
	}
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".md")
		data, err := defaultPrompts.ReadFile("prompts/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}
		pb.templates[name] = string(data)

		if overrideDir == "" {
			continue
		}
		override, err := os.ReadFile(filepath.Join(overrideDir, e.Name()))
		if err == nil {
			slog.Info("Prompt template overridden", "name", name)
			pb.templates[name] = string(override)
		}
	}

	return pb, nil
}

// Build fills the named template. Unknown placeholders are left blank.
func (pb *PromptBuilder) Build(name string, variables map[string]string) (string, error) {
	template, ok := pb.templates[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt template %q", name)
	}

	for key, value := range variables {
		placeholder := fmt.Sprintf("{{%s}}", key)
		template = strings.ReplaceAll(template, placeholder, value)
	}
	template = placeholderRegex.ReplaceAllString(template, "")

	return strings.TrimSpace(template), nil
}

// CheckUserPrompt bounds free text typed by users before it is spliced
// into a template.
func (pb *PromptBuilder) CheckUserPrompt(prompt string) error {
	if pb.maxTokens <= 0 || prompt == "" {
		return nil
	}
	numTokens, err := pb.CountTokens(prompt)
	if err != nil {
		return err
	}
	if numTokens > pb.maxTokens {
		slog.Warn("Token limit exceeded", "limit", pb.maxTokens, "count", numTokens)
		return fmt.Errorf("%w of %d", ErrPromptTooLong, pb.maxTokens)
	}
	return nil
}

func (pb *PromptBuilder) CountTokens(text string) (int, error) {
	n, err := pb.enc.Count(text)
	if err != nil {
		return 0, fmt.Errorf("failed to count tokens: %w", err)
	}
	return n, nil
}
