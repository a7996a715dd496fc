package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// chdir switches into dir for the rest of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	originalWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(originalWd) })
}

func TestLoad_DefaultConfig(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := LoadWith(viper.New())
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 1, cfg.Coverage.K)
	assert.Equal(t, ModeExplicit, cfg.Agents.Mode)
	assert.Equal(t, 120, cfg.LLM.Timeout)
	assert.Equal(t, 4096, cfg.LLM.MaxTokens)
	assert.Equal(t, "numpy_apis/apis.csv", cfg.Catalog.Path)
	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, 500, cfg.Pipeline.FailureBackoffMS)
	assert.True(t, filepath.IsAbs(cfg.Run.RunsDir))
	assert.NoError(t, cfg.Validate())
}

func TestLoad_CustomConfigFile(t *testing.T) {
	tempDir := t.TempDir()
	configContent := `
server:
  port: 9999
  environment: "test"

llm:
  api_base: "https://llm.example.com/v1"
  api_key: "test-key"
  model: "test-model"
  timeout: 60
  max_retries: 5

coverage:
  k: 3
  parallelism: 4
  seed: 7

pipeline:
  workers: 8
  iterations: 100
  target_coverage: 0.5

agents:
  mode: implicit
  max_rounds: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "config.yaml"), []byte(configContent), 0644))
	chdir(t, tempDir)

	cfg, err := LoadWith(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "https://llm.example.com/v1", cfg.LLM.APIBase)
	assert.Equal(t, "test-key", cfg.LLM.APIKey)
	assert.Equal(t, 5, cfg.LLM.MaxRetries)
	assert.Equal(t, 3, cfg.Coverage.K)
	assert.Equal(t, 4, cfg.Coverage.Parallelism)
	require.NotNil(t, cfg.Coverage.SeedPtr())
	assert.Equal(t, int64(7), *cfg.Coverage.SeedPtr())
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.Equal(t, 0.5, cfg.Pipeline.TargetCoverage)
	assert.Equal(t, ModeImplicit, cfg.Agents.Mode)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("COVERAGE_K", "4")
	t.Setenv("LLM_MODEL", "env-model")

	cfg, err := LoadWith(viper.New())
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Coverage.K)
	assert.Equal(t, "env-model", cfg.LLM.Model)
}

func TestLoad_InvalidYAML(t *testing.T) {
	tempDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "config.yaml"), []byte("server: [unclosed"), 0644))
	chdir(t, tempDir)

	cfg, err := LoadWith(viper.New())
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestValidate(t *testing.T) {
	valid := func(t *testing.T) *Config {
		chdir(t, t.TempDir())
		cfg, err := LoadWith(viper.New())
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero k", func(c *Config) { c.Coverage.K = 0 }, "coverage.k"},
		{"no workers", func(c *Config) { c.Pipeline.Workers = 0 }, "pipeline.workers"},
		{"negative iterations", func(c *Config) { c.Pipeline.Iterations = -1 }, "pipeline.iterations"},
		{"target above one", func(c *Config) { c.Pipeline.TargetCoverage = 1.5 }, "pipeline.target_coverage"},
		{"no shutdown timeout", func(c *Config) { c.Pipeline.ShutdownTimeout = 0 }, "pipeline.shutdown_timeout"},
		{"negative failure backoff", func(c *Config) { c.Pipeline.FailureBackoffMS = -1 }, "pipeline.failure_backoff_ms"},
		{"unknown mode", func(c *Config) { c.Agents.Mode = "clever" }, "agents.mode"},
		{"no rounds", func(c *Config) { c.Agents.MaxRounds = 0 }, "agents.max_rounds"},
		{"no llm timeout", func(c *Config) { c.LLM.Timeout = 0 }, "llm.timeout"},
		{"negative retries", func(c *Config) { c.LLM.MaxRetries = -2 }, "llm.max_retries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			var verr ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestSeedPtr_ZeroMeansUnset(t *testing.T) {
	assert.Nil(t, CoverageConfig{}.SeedPtr())
}

func TestDump_WritesAndBacksUp(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "runs")
	cfg := &Config{
		LLM:      LLMConfig{Model: "m", APIKey: "secret"},
		Coverage: CoverageConfig{K: 2},
	}

	path, err := Dump(cfg, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")

	var decoded Config
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, 2, decoded.Coverage.K)
	assert.Equal(t, "m", decoded.LLM.Model)

	_, err = Dump(cfg, dir)
	require.NoError(t, err)

	backups, err := filepath.Glob(filepath.Join(dir, "config.bak.*.yaml"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}
