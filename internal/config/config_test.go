package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validConfig = `
providers:
  local:
    type: ollama
    base_url: http://localhost:11434
models:
  assistant:
    provider: local
    model: qwen2.5:7b-instruct
    temperature: 0.3
    max_tokens: 512
    default: true
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	require.Len(t, cfg.Providers, 1)
	require.Equal(t, "ollama", cfg.Providers["local"].Type)
	require.True(t, cfg.Models["assistant"].Default)

	// defaults fill untouched sections
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, "ndjson", cfg.Server.Transport)
	require.Equal(t, "celsius", cfg.Tools.WeatherUnits)
	require.Equal(t, 4, cfg.Agent.MaxSteps)
	require.Equal(t, "http://localhost:8080", cfg.Client.DaemonAddr)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("NIMBUS_AGENT_MAX_STEPS", "7")
	t.Setenv("NIMBUS_SERVER_TRANSPORT", "connect")

	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Agent.MaxSteps)
	require.Equal(t, "connect", cfg.Server.Transport)
}

func TestValidateRejectsMissingProviders(t *testing.T) {
	_, err := Load(writeConfig(t, `
models:
  assistant:
    provider: local
    model: m
    default: true
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "provider")
}

func TestValidateRejectsUnknownProviderRef(t *testing.T) {
	_, err := Load(writeConfig(t, `
providers:
  local:
    type: ollama
models:
  assistant:
    provider: elsewhere
    model: m
    default: true
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown provider")
}

func TestValidateRequiresDefaultModel(t *testing.T) {
	_, err := Load(writeConfig(t, `
providers:
  local:
    type: ollama
models:
  assistant:
    provider: local
    model: m
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "default")
}

func TestValidateRejectsBadWeatherUnits(t *testing.T) {
	_, err := Load(writeConfig(t, validConfig+`
tools:
  weather_units: kelvin
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "weather_units")
}

func TestValidateRejectsBadTransport(t *testing.T) {
	_, err := Load(writeConfig(t, validConfig+`
server:
  transport: pigeon
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "transport")
}
