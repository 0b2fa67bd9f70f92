package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. ENRICHER_LOG_LEVEL.
const EnvPrefix = "ENRICHER"

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Lookup    LookupConfig    `yaml:"lookup" mapstructure:"lookup"`
	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`
	Source    SourceConfig    `yaml:"source" mapstructure:"source"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the settings store.
type StoreConfig struct {
	// Path is the SQLite file. Empty keeps everything in memory.
	Path string `yaml:"path" mapstructure:"path"`
}

// LookupConfig configures the lookup providers.
type LookupConfig struct {
	Primary string `yaml:"primary" mapstructure:"primary" validate:"oneof=primary fallback"`

	// APIKey is used when no credential has been stored yet. Usually set via
	// ENRICHER_LOOKUP_API_KEY or GEMINI_API_KEY, never written to config.yaml.
	APIKey string `yaml:"-" mapstructure:"api_key"`

	Gemini   GeminiConfig   `yaml:"gemini" mapstructure:"gemini"`
	Fallback FallbackConfig `yaml:"fallback" mapstructure:"fallback"`
}

type GeminiConfig struct {
	Model   string `yaml:"model" mapstructure:"model" validate:"required"`
	BaseURL string `yaml:"base_url,omitempty" mapstructure:"base_url" validate:"omitempty,url"`
}

type FallbackConfig struct {
	Model       string  `yaml:"model" mapstructure:"model" validate:"required"`
	Temperature float32 `yaml:"temperature" mapstructure:"temperature" validate:"gte=0,lte=2"`
}

// SchedulerConfig configures batch pacing.
type SchedulerConfig struct {
	BatchSize      int           `yaml:"batch_size" mapstructure:"batch_size" validate:"min=1,max=50"`
	PaceInterval   time.Duration `yaml:"pace_interval" mapstructure:"pace_interval" validate:"gte=0"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" validate:"gte=0"`
}

// SourceConfig configures sheet fetching.
type SourceConfig struct {
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.path", "enricher.db")
	v.SetDefault("lookup.primary", "primary")
	v.SetDefault("lookup.api_key", "")
	v.SetDefault("lookup.gemini.model", "gemini-2.5-flash")
	v.SetDefault("lookup.gemini.base_url", "")
	v.SetDefault("lookup.fallback.model", "gemini-2.0-flash")
	v.SetDefault("lookup.fallback.temperature", 0.1)
	v.SetDefault("scheduler.batch_size", 5)
	v.SetDefault("scheduler.pace_interval", "10s")
	v.SetDefault("scheduler.request_timeout", "60s")
	v.SetDefault("source.timeout", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads configuration from file and environment.
// path may be empty, in which case ./config.yaml is used when present.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if strings.TrimSpace(cfg.Lookup.APIKey) == "" {
		cfg.Lookup.APIKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return eris.Wrap(err, "config: validate")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return eris.Wrap(err, "config: validate log level")
	}
	return nil
}

// Default returns the configuration Load produces with no file or environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// WriteDefault writes the default configuration to path as YAML. It refuses to
// overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return eris.Errorf("config: %s already exists", path)
		}
	}
	b, err := yaml.Marshal(fileView(Default()))
	if err != nil {
		return eris.Wrap(err, "config: marshal defaults")
	}
	return eris.Wrap(os.WriteFile(path, b, 0o644), "config: write file")
}

// fileView renders durations as strings so the file reads back through viper.
func fileView(c *Config) map[string]any {
	return map[string]any{
		"store": map[string]any{"path": c.Store.Path},
		"lookup": map[string]any{
			"primary":  c.Lookup.Primary,
			"gemini":   map[string]any{"model": c.Lookup.Gemini.Model},
			"fallback": map[string]any{"model": c.Lookup.Fallback.Model, "temperature": c.Lookup.Fallback.Temperature},
		},
		"scheduler": map[string]any{
			"batch_size":      c.Scheduler.BatchSize,
			"pace_interval":   c.Scheduler.PaceInterval.String(),
			"request_timeout": c.Scheduler.RequestTimeout.String(),
		},
		"source": map[string]any{"timeout": c.Source.Timeout.String()},
		"log":    map[string]any{"level": c.Log.Level, "format": c.Log.Format},
	}
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
	zapCfg.OutputPaths = []string{"stderr"}

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
