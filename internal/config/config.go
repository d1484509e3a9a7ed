// Package config loads the application configuration from a config file,
// the environment, and an optional .env file, and owns global logger setup.
package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Input    InputConfig    `yaml:"input" mapstructure:"input"`
	Resolve  ResolveConfig  `yaml:"resolve" mapstructure:"resolve"`
	Download DownloadConfig `yaml:"download" mapstructure:"download"`
	Catalog  CatalogConfig  `yaml:"catalog" mapstructure:"catalog"`
	Auth     AuthConfig     `yaml:"auth" mapstructure:"auth"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// InputConfig locates the publication list.
type InputConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ResolveConfig configures DOI resolution.
type ResolveConfig struct {
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	// RulesPath points at an optional YAML file of extra publisher rules,
	// appended to the built-in set.
	RulesPath string `yaml:"rules_path" mapstructure:"rules_path"`
}

// DownloadConfig configures document fetching.
type DownloadConfig struct {
	OutputDir          string  `yaml:"output_dir" mapstructure:"output_dir"`
	MaxAttempts        int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	TimeoutSecs        int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MinSizeBytes       int64   `yaml:"min_size_bytes" mapstructure:"min_size_bytes"`
	ForbiddenDelaySecs int     `yaml:"forbidden_delay_secs" mapstructure:"forbidden_delay_secs"`
	RowsPerSecond      float64 `yaml:"rows_per_second" mapstructure:"rows_per_second"`
}

// CatalogConfig configures the publication catalog file.
type CatalogConfig struct {
	Path       string `yaml:"path" mapstructure:"path"`
	YearCutoff int    `yaml:"year_cutoff" mapstructure:"year_cutoff"`
}

// AuthConfig holds subscription login settings. Credentials come from the
// environment or .env, never the config file.
type AuthConfig struct {
	Domain   string `yaml:"domain" mapstructure:"domain"`
	LoginURL string `yaml:"login_url" mapstructure:"login_url"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config file, and environment.
func Load() (*Config, error) {
	// Optional .env for credentials; a missing file is not an error.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PUBFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("input.path", "publications.csv")
	v.SetDefault("resolve.timeout_secs", 30)
	v.SetDefault("download.output_dir", "downloaded_pdfs")
	v.SetDefault("download.max_attempts", 3)
	v.SetDefault("download.timeout_secs", 60)
	v.SetDefault("download.min_size_bytes", 1000)
	v.SetDefault("download.forbidden_delay_secs", 5)
	v.SetDefault("download.rows_per_second", 1)
	v.SetDefault("catalog.path", "publications.json")
	v.SetDefault("catalog.year_cutoff", 2022)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that configuration values are sane for a run. Auth
// settings are validated only when a domain is configured.
func (c *Config) Validate() error {
	var problems []string
	if c.Input.Path == "" {
		problems = append(problems, "input.path is required")
	}
	if c.Download.OutputDir == "" {
		problems = append(problems, "download.output_dir is required")
	}
	if c.Download.MaxAttempts < 1 || c.Download.MaxAttempts > 10 {
		problems = append(problems, "download.max_attempts must be between 1 and 10")
	}
	if c.Download.MinSizeBytes < 0 {
		problems = append(problems, "download.min_size_bytes must be >= 0")
	}
	if c.Download.RowsPerSecond <= 0 {
		problems = append(problems, "download.rows_per_second must be > 0")
	}
	if c.Catalog.YearCutoff < 1900 {
		problems = append(problems, "catalog.year_cutoff must be a plausible year")
	}
	if c.Auth.Domain != "" && c.Auth.LoginURL == "" {
		problems = append(problems, "auth.login_url is required when auth.domain is set")
	}
	if len(problems) > 0 {
		return eris.New("config: invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
