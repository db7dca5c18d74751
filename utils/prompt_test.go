package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFillsAndStripsPlaceholders(t *testing.T) {
	pb, err := NewPromptBuilder("", 50)
	require.NoError(t, err)

	prompt, err := pb.Build(PROMPT_ANALYSIS, map[string]string{
		"address":  "1 High Street",
		"postcode": "SW1A 1AA",
	})
	require.NoError(t, err)

	assert.Contains(t, prompt, "1 High Street")
	assert.Contains(t, prompt, "SW1A 1AA")
	assert.NotContains(t, prompt, "{{")
}

func TestBuildUnknownTemplate(t *testing.T) {
	pb, err := NewPromptBuilder("", 50)
	require.NoError(t, err)

	_, err = pb.Build("nope", nil)
	assert.Error(t, err)
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "isometric.md"), []byte("custom {{user_prompt}}"), 0o644))

	pb, err := NewPromptBuilder(dir, 50)
	require.NoError(t, err)

	prompt, err := pb.Build(PROMPT_ISOMETRIC, map[string]string{"user_prompt": "oak"})
	require.NoError(t, err)
	assert.Equal(t, "custom oak", prompt)
}

func TestCheckUserPrompt(t *testing.T) {
	pb, err := NewPromptBuilder("", 10)
	require.NoError(t, err)

	assert.NoError(t, pb.CheckUserPrompt(""))
	assert.NoError(t, pb.CheckUserPrompt("warm oak floors"))
	assert.ErrorIs(t, pb.CheckUserPrompt(strings.Repeat("marble terrazzo ", 40)), ErrPromptTooLong)
}
