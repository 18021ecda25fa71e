package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Lune     LuneConfig     `yaml:"lune" mapstructure:"lune"`
	Estimate EstimateConfig `yaml:"estimate" mapstructure:"estimate"`
	Metrics  MetricsConfig  `yaml:"metrics" mapstructure:"metrics"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// LuneConfig holds Lune API settings.
type LuneConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	DashboardURL      string  `yaml:"dashboard_url" mapstructure:"dashboard_url"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// EstimateConfig configures the estimate run.
type EstimateConfig struct {
	ChunkSize    int    `yaml:"chunk_size" mapstructure:"chunk_size"`
	Concurrency  int    `yaml:"concurrency" mapstructure:"concurrency"`
	MaxAttempts  int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	RetryDelayMs int    `yaml:"retry_delay_ms" mapstructure:"retry_delay_ms"`
	RankingOrder string `yaml:"ranking_order" mapstructure:"ranking_order"`
}

// MetricsConfig configures the run metrics textfile. An empty path disables it.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config file and environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("EMISSIONS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("lune.key", "EMISSIONS_LUNE_KEY", "LUNE_API_KEY"); err != nil {
		return nil, eris.Wrap(err, "config: bind lune key")
	}

	// Defaults
	v.SetDefault("lune.base_url", "https://api.lune.co")
	v.SetDefault("lune.dashboard_url", "https://dashboard.lune.co/calculate-emissions/everyday-purchases/{id}/results")
	v.SetDefault("lune.timeout_secs", 30)
	v.SetDefault("lune.requests_per_second", 0)
	v.SetDefault("estimate.chunk_size", 10000)
	v.SetDefault("estimate.concurrency", 0)
	v.SetDefault("estimate.max_attempts", 5)
	v.SetDefault("estimate.retry_delay_ms", 500)
	v.SetDefault("estimate.ranking_order", "ascending")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings an estimate run depends on.
func (c *Config) Validate() error {
	var errs []string

	if c.Estimate.ChunkSize < 1 {
		errs = append(errs, "estimate.chunk_size must be >= 1")
	}
	if c.Estimate.Concurrency < 0 {
		errs = append(errs, "estimate.concurrency must be >= 0")
	}
	if c.Estimate.MaxAttempts < 1 {
		errs = append(errs, "estimate.max_attempts must be >= 1")
	}
	if c.Estimate.RetryDelayMs < 0 {
		errs = append(errs, "estimate.retry_delay_ms must be >= 0")
	}
	switch c.Estimate.RankingOrder {
	case "", "ascending", "descending":
	default:
		errs = append(errs, "estimate.ranking_order must be ascending or descending")
	}
	if c.Lune.TimeoutSecs < 0 {
		errs = append(errs, "lune.timeout_secs must be >= 0")
	}
	if c.Lune.RequestsPerSecond < 0 {
		errs = append(errs, "lune.requests_per_second must be >= 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Redacted returns a copy of c with secrets masked, for display.
func (c *Config) Redacted() Config {
	r := *c
	if r.Lune.Key != "" {
		r.Lune.Key = "****"
	}
	return r
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
