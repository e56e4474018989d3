package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/config"
	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/internal/agent/telemetry"
)

func testConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestBuildEngineMapsOrchestratorLimits(t *testing.T) {
	cfg := testConfig(t, `{
		"llm": {"api_key": "k"},
		"search": {"provider": "brave", "api_key": "k"},
		"retrieval": {"fetch_pages": 2},
		"orchestrator": {"max_steps": 7, "max_revisions": 1}
	}`)

	engine, cleanup, err := buildEngine(context.Background(), cfg, telemetry.NewTelemetry(telemetry.Config{}, zap.NewNop()), zap.NewNop())
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, 7, engine.Config().MaxSteps)
	assert.Equal(t, 1, engine.Config().MaxRevisions)
	assert.Equal(t, 3, engine.Config().NoProgressThreshold)
}

func TestBuildEngineRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig(t, `{"llm": {"api_key": "k"}, "search": {"api_key": "k"}}`)
	cfg.LLM.Provider = "mystery"

	_, cleanup, err := buildEngine(context.Background(), cfg, nil, zap.NewNop())
	defer cleanup()
	assert.Error(t, err)
}

func TestNewLoggerLevels(t *testing.T) {
	logger, err := newLogger(config.GeneralConfig{LogLevel: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
	assert.True(t, logger.Core().Enabled(zap.WarnLevel))

	_, err = newLogger(config.GeneralConfig{LogLevel: "chatty"})
	assert.Error(t, err)
}

func TestTokenCommandSignsSubject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server": {"jwt_secret": "s3cret"}}`), 0o600))

	cmd := tokenCMD(&path)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"alice"})
	require.NoError(t, cmd.Execute())
	assert.Len(t, strings.Split(strings.TrimSpace(out.String()), "."), 3)
}
