package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "publications.csv", cfg.Input.Path)
	assert.Equal(t, 30, cfg.Resolve.TimeoutSecs)
	assert.Equal(t, "downloaded_pdfs", cfg.Download.OutputDir)
	assert.Equal(t, 3, cfg.Download.MaxAttempts)
	assert.Equal(t, 60, cfg.Download.TimeoutSecs)
	assert.Equal(t, int64(1000), cfg.Download.MinSizeBytes)
	assert.Equal(t, 5, cfg.Download.ForbiddenDelaySecs)
	assert.InDelta(t, 1.0, cfg.Download.RowsPerSecond, 0.001)
	assert.Equal(t, "publications.json", cfg.Catalog.Path)
	assert.Equal(t, 2022, cfg.Catalog.YearCutoff)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
input:
  path: papers.xlsx
download:
  output_dir: pdfs
  max_attempts: 5
catalog:
  year_cutoff: 2020
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "papers.xlsx", cfg.Input.Path)
	assert.Equal(t, "pdfs", cfg.Download.OutputDir)
	assert.Equal(t, 5, cfg.Download.MaxAttempts)
	assert.Equal(t, 2020, cfg.Catalog.YearCutoff)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Defaults still apply for unset values
	assert.Equal(t, 60, cfg.Download.TimeoutSecs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
download:
  output_dir: pdfs
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("PUBFETCH_DOWNLOAD_OUTPUT_DIR", "env_pdfs")
	t.Setenv("PUBFETCH_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "env_pdfs", cfg.Download.OutputDir)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("PUBFETCH_CATALOG_YEAR_CUTOFF", "2019")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2019, cfg.Catalog.YearCutoff)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("PUBFETCH_AUTH_USERNAME=alice\nPUBFETCH_AUTH_PASSWORD=secret\n"), 0600))
	t.Cleanup(func() {
		os.Unsetenv("PUBFETCH_AUTH_USERNAME")
		os.Unsetenv("PUBFETCH_AUTH_PASSWORD")
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.Auth.Username)
	assert.Equal(t, "secret", cfg.Auth.Password)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Input.Path = "publications.csv"
	cfg.Download.OutputDir = "downloaded_pdfs"
	cfg.Download.MaxAttempts = 3
	cfg.Download.MinSizeBytes = 1000
	cfg.Download.RowsPerSecond = 1
	cfg.Catalog.YearCutoff = 2022
	return cfg
}

func TestValidate_AllPresent(t *testing.T) {
	assert.NoError(t, validDefaults().Validate())
}

func TestValidate_MissingFields(t *testing.T) {
	cfg := &Config{}

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "input.path is required")
	assert.Contains(t, err.Error(), "download.output_dir is required")
}

func TestValidate_AttemptBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Download.MaxAttempts = 0
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max_attempts must be between 1 and 10")

	cfg.Download.MaxAttempts = 11
	err = cfg.Validate()
	assert.Error(t, err)

	cfg.Download.MaxAttempts = 10
	assert.NoError(t, cfg.Validate())
}

func TestValidate_AuthNeedsLoginURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Auth.Domain = "pubs.rsna.org"

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "auth.login_url is required")

	cfg.Auth.LoginURL = "https://pubs.rsna.org/action/showLogin"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_YearCutoff(t *testing.T) {
	cfg := validDefaults()
	cfg.Catalog.YearCutoff = 0

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "year_cutoff")
}
