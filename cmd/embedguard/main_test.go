package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"embedguard/internal/core"
)

func init() {
	cli.OsExiter = func(int) {}
}

func writeConfig(t *testing.T, extra ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "embedguard.yaml")
	content := `
embedding:
  dimension: 4
  base_backoff: 1ms
  max_backoff: 2ms
  max_retries: 2
` + strings.Join(extra, "") + `
logging:
  level: error
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func countingProvider(calls *atomic.Int32, fail bool) core.Provider {
	return core.ProviderFunc{ProviderName: "test", Fn: func(_ context.Context, text, _ string) ([]float32, error) {
		calls.Add(1)
		if fail {
			return nil, errors.New("down")
		}
		return []float32{float32(len(text)), 0}, nil
	}}
}

func decodeLines(t *testing.T, out string) []output {
	t.Helper()
	var lines []output
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		var o output
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &o))
		lines = append(lines, o)
	}
	return lines
}

func TestEmbedCommand(t *testing.T) {
	var calls atomic.Int32
	var stdout, stderr bytes.Buffer
	app := newCLI(strings.NewReader(""), &stdout, &stderr, countingProvider(&calls, false))

	err := app.Run([]string{"embedguard", "--config", writeConfig(t), "embed", "hello world", "hello world"})
	require.NoError(t, err)

	lines := decodeLines(t, stdout.String())
	require.Len(t, lines, 2)
	assert.Equal(t, "ok", string(lines[0].Status))
	assert.Len(t, lines[0].Vector, 4)
	assert.InDelta(t, 1.0, lines[0].Vector[0], 1e-6)
	assert.NotEmpty(t, lines[0].RequestID)
	assert.False(t, lines[0].CacheHit)
	assert.True(t, lines[1].CacheHit)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmbedCommand_NoCache(t *testing.T) {
	var calls atomic.Int32
	var stdout bytes.Buffer
	app := newCLI(strings.NewReader(""), &stdout, &bytes.Buffer{}, countingProvider(&calls, false))

	err := app.Run([]string{"embedguard", "-c", writeConfig(t), "embed", "--no-cache", "same text", "same text"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmbedCommand_Unavailable(t *testing.T) {
	var calls atomic.Int32
	var stdout bytes.Buffer
	app := newCLI(strings.NewReader(""), &stdout, &bytes.Buffer{}, countingProvider(&calls, true))

	err := app.Run([]string{"embedguard", "-c", writeConfig(t), "embed", "doomed text"})
	require.Error(t, err)

	lines := decodeLines(t, stdout.String())
	require.Len(t, lines, 1)
	assert.Equal(t, "exhausted", string(lines[0].Status))
	assert.Equal(t, 2, lines[0].Attempts)
	assert.Nil(t, lines[0].Vector)
}

func TestStreamCommand(t *testing.T) {
	var calls atomic.Int32
	var stdout bytes.Buffer
	input := "first line\n\n   \nsecond line\n"
	app := newCLI(strings.NewReader(input), &stdout, &bytes.Buffer{}, countingProvider(&calls, false))

	err := app.Run([]string{"embedguard", "-c", writeConfig(t), "stream"})
	require.NoError(t, err)

	lines := decodeLines(t, stdout.String())
	require.Len(t, lines, 2)
	assert.Equal(t, "first line", lines[0].Text)
	assert.Equal(t, "second line", lines[1].Text)
	assert.NotEqual(t, lines[0].RequestID, lines[1].RequestID)
}

func TestStreamCommand_UsesConfiguredMemo(t *testing.T) {
	var calls atomic.Int32
	var stdout bytes.Buffer
	input := "repeated line\nrepeated line\n"
	app := newCLI(strings.NewReader(input), &stdout, &bytes.Buffer{}, countingProvider(&calls, false))

	cfg := writeConfig(t, "  use_cache: false\n  memo_size: 4\n")
	err := app.Run([]string{"embedguard", "-c", cfg, "stream"})
	require.NoError(t, err)

	lines := decodeLines(t, stdout.String())
	require.Len(t, lines, 2)
	assert.False(t, lines[0].CacheHit)
	assert.True(t, lines[1].CacheHit)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmbedCommand_MemoWithOverrides(t *testing.T) {
	var calls atomic.Int32
	var stdout bytes.Buffer
	app := newCLI(strings.NewReader(""), &stdout, &bytes.Buffer{}, countingProvider(&calls, false))

	err := app.Run([]string{"embedguard", "-c", writeConfig(t), "embed", "--memo", "--no-cache", "same text", "same text"})
	require.NoError(t, err)

	lines := decodeLines(t, stdout.String())
	require.Len(t, lines, 2)
	assert.True(t, lines[1].CacheHit)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCacheClearCommand(t *testing.T) {
	var stdout bytes.Buffer
	app := newCLI(strings.NewReader(""), &stdout, &bytes.Buffer{}, countingProvider(new(atomic.Int32), false))

	err := app.Run([]string{"embedguard", "-c", writeConfig(t), "cache", "clear"})
	require.NoError(t, err)
	assert.Equal(t, "cleared embedguard:*\n", stdout.String())
}

func TestBadConfigFails(t *testing.T) {
	app := newCLI(strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{}, nil)
	err := app.Run([]string{"embedguard", "-c", filepath.Join(t.TempDir(), "missing.yaml"), "embed", "x"})
	assert.Error(t, err)
}
