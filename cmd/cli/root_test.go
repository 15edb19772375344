package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/portsweep/internal/config"
	"github.com/anstrom/portsweep/internal/errors"
	"github.com/anstrom/portsweep/internal/logging"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "portsweep.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 0, cfg.Scanning.MaxConcurrency)
	assert.Equal(t, "error", cfg.Output.Verbosity)
	assert.Equal(t, "text", cfg.Output.Format)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfigFile(t, `
scanning:
  max_concurrency: 16
  default_ports: "22,443"
output:
  verbosity: info
  format: json
`)
	v := viper.New()
	v.Set("config", path)

	cfg, err := loadConfig(v)
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Scanning.MaxConcurrency)
	assert.Equal(t, "22,443", cfg.Scanning.DefaultPorts)
	assert.Equal(t, "info", cfg.Output.Verbosity)
	assert.Equal(t, "json", cfg.Output.Format)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	v := viper.New()
	v.Set("config", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := loadConfig(v)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeConfiguration))
	assert.Equal(t, ExitConfiguration, exitCode(err))
}

func TestLoadConfig_Overrides(t *testing.T) {
	path := writeConfigFile(t, "scanning:\n  max_concurrency: 2\n")
	v := viper.New()
	v.Set("config", path)
	v.Set("scanning.max_concurrency", 8)
	v.Set("output.verbosity", "DEBUG")
	v.Set("output.summary", true)
	v.Set("api.port", 9090)
	v.Set("verbose", true)

	cfg, err := loadConfig(v)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Scanning.MaxConcurrency)
	assert.Equal(t, "debug", cfg.Output.Verbosity)
	assert.True(t, cfg.Output.Summary)
	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, logging.LevelDebug, cfg.Logging.Level)
}

func TestLoadConfig_Environment(t *testing.T) {
	t.Setenv("PORTSWEEP_SCANNING_MAX_CONCURRENCY", "32")
	t.Setenv("PORTSWEEP_OUTPUT_FORMAT", "json")

	v := viper.New()
	configureEnv(v)

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Scanning.MaxConcurrency)
	assert.Equal(t, "json", cfg.Output.Format)
}

func TestLoadConfig_InvalidOverride(t *testing.T) {
	v := viper.New()
	v.Set("output.format", "xml")

	_, err := loadConfig(v)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeConfiguration))
	assert.Contains(t, err.Error(), "output.format")
}

func TestSetVersion(t *testing.T) {
	original := rootCmd.Version
	origVersion, origCommit, origBuildTime := version, commit, buildTime
	defer func() {
		version, commit, buildTime = origVersion, origCommit, origBuildTime
		rootCmd.Version = original
	}()

	SetVersion("1.2.3", "abc123", "2026-01-01")

	assert.Equal(t, "1.2.3", version)
	assert.Equal(t, "1.2.3 (commit: abc123, built: 2026-01-01)", rootCmd.Version)
}

func TestRootCommand_Subcommands(t *testing.T) {
	for _, name := range []string{"scan", "serve"} {
		t.Run(name, func(t *testing.T) {
			cmd, _, err := rootCmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, cmd.Name())
		})
	}

	for _, flag := range []string{"config", "verbose"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestLoadConfig_DeadlineKeysIgnored(t *testing.T) {
	path := writeConfigFile(t, "scanning:\n  timeout: 10ms\n  max_concurrency: 4\n")
	t.Setenv("PORTSWEEP_SCANNING_TIMEOUT", "1ms")

	v := viper.New()
	configureEnv(v)
	v.Set("config", path)

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, config.ScanningConfig{MaxConcurrency: 4}, cfg.Scanning)
}
