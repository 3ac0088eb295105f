package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Decoder    DecoderConfig    `yaml:"decoder" mapstructure:"decoder"`
	Enrichment EnrichmentConfig `yaml:"enrichment" mapstructure:"enrichment"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// DecoderConfig selects and configures the upstream VIN decoder.
type DecoderConfig struct {
	Provider   string  `yaml:"provider" mapstructure:"provider"`
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	URL        string  `yaml:"url" mapstructure:"url"`
	Key        string  `yaml:"key" mapstructure:"key"`
	TimeoutMS  int     `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	UserAgent  string  `yaml:"user_agent" mapstructure:"user_agent"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	RateBurst  int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// Timeout returns the per-call decoder deadline.
func (c DecoderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// EnrichmentConfig configures the generative assistant used to fill gaps.
type EnrichmentConfig struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	Summary     bool    `yaml:"summary" mapstructure:"summary"`
	Provider    string  `yaml:"provider" mapstructure:"provider"`
	Model       string  `yaml:"model" mapstructure:"model"`
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutMS   int     `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
}

// Timeout returns the per-call assistant deadline.
func (c EnrichmentConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// CacheConfig configures the in-memory result cache.
type CacheConfig struct {
	TTLHours int  `yaml:"ttl_hours" mapstructure:"ttl_hours"`
	Capacity int  `yaml:"capacity" mapstructure:"capacity"`
	Coalesce bool `yaml:"coalesce" mapstructure:"coalesce"`
}

// TTL returns the cache validity window.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// StoreConfig configures the resolution log backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// CircuitConfig configures the decoder and assistant circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Supported provider and driver names.
const (
	DecoderNHTSA  = "nhtsa"
	DecoderCustom = "custom"

	StoreNone     = "none"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

var enrichmentProviders = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"gemini":    true,
}

// legacyEnv maps config keys to the variable names used by earlier
// deployments. VIN_ prefixed variables win over the legacy names.
var legacyEnv = map[string][]string{
	"decoder.provider":      {"VIN_DECODER_PROVIDER"},
	"decoder.url":           {"VIN_DECODER_URL"},
	"decoder.key":           {"VIN_DECODER_KEY"},
	"decoder.timeout_ms":    {"VIN_DECODER_TIMEOUT_MS", "HTTP_TIMEOUT_MS"},
	"enrichment.enabled":    {"VIN_ENRICHMENT_ENABLED", "AI_SUMMARY_ENABLED"},
	"enrichment.summary":    {"VIN_ENRICHMENT_SUMMARY", "AI_SUMMARY_ENABLED"},
	"enrichment.timeout_ms": {"VIN_ENRICHMENT_TIMEOUT_MS", "HTTP_TIMEOUT_MS"},
	"enrichment.api_key":    {"VIN_ENRICHMENT_API_KEY", "OPENAI_API_KEY"},
	"enrichment.model":      {"VIN_ENRICHMENT_MODEL", "OPENAI_MODEL"},
	"enrichment.base_url":   {"VIN_ENRICHMENT_BASE_URL", "OPENAI_BASE_URL"},
	"server.port":           {"VIN_SERVER_PORT", "PORT"},
}

// Load reads configuration from .env, file and environment.
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
	v.SetEnvPrefix("VIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Defaults
	v.SetDefault("decoder.provider", DecoderNHTSA)
	v.SetDefault("decoder.base_url", "https://vpic.nhtsa.dot.gov/api")
	v.SetDefault("decoder.timeout_ms", 6000)
	v.SetDefault("decoder.user_agent", "vin-resolver/1.0")
	v.SetDefault("decoder.rate_per_sec", 5)
	v.SetDefault("decoder.rate_burst", 5)
	v.SetDefault("enrichment.enabled", false)
	v.SetDefault("enrichment.summary", false)
	v.SetDefault("enrichment.provider", "openai")
	v.SetDefault("enrichment.timeout_ms", 6000)
	v.SetDefault("enrichment.max_tokens", 300)
	v.SetDefault("enrichment.temperature", 0.2)
	v.SetDefault("cache.ttl_hours", 24)
	v.SetDefault("cache.capacity", 10000)
	v.SetDefault("cache.coalesce", true)
	v.SetDefault("store.driver", StoreNone)
	v.SetDefault("store.database_url", "")
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("server.port", 3000)
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

	cfg.Decoder.Provider = strings.ToLower(strings.TrimSpace(cfg.Decoder.Provider))
	cfg.Enrichment.Provider = strings.ToLower(strings.TrimSpace(cfg.Enrichment.Provider))
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))

	return &cfg, nil
}

// Validate checks the settings the given command depends on. mode is one
// of serve, decode, history or migrate.
func (c *Config) Validate(mode string) error {
	var problems []string

	var needsDecoder, needsStore bool
	switch mode {
	case "serve", "decode":
		needsDecoder = true
	case "history", "migrate":
		needsStore = true
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if mode == "serve" && c.Server.Port <= 0 {
		problems = append(problems, "server.port must be > 0")
	}

	if needsDecoder {
		switch c.Decoder.Provider {
		case DecoderNHTSA:
		case DecoderCustom:
			if c.Decoder.URL == "" {
				problems = append(problems, "decoder.url is required for the custom decoder")
			}
		default:
			problems = append(problems, "unknown decoder.provider "+quote(c.Decoder.Provider))
		}
		if c.Decoder.TimeoutMS <= 0 {
			problems = append(problems, "decoder.timeout_ms must be positive")
		}
		if c.Cache.TTLHours <= 0 {
			problems = append(problems, "cache.ttl_hours must be positive")
		}
		if c.Enrichment.Enabled {
			if !enrichmentProviders[c.Enrichment.Provider] {
				problems = append(problems, "unknown enrichment.provider "+quote(c.Enrichment.Provider))
			}
			if c.Enrichment.APIKey == "" {
				problems = append(problems, "enrichment.api_key is required when enrichment is enabled")
			}
		}
	}

	switch c.Store.Driver {
	case StoreNone:
		if needsStore {
			problems = append(problems, "store.driver must be sqlite or postgres")
		}
	case StoreSQLite, StorePostgres:
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for "+c.Store.Driver)
		}
	default:
		problems = append(problems, "unknown store.driver "+quote(c.Store.Driver))
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
	}
	return nil
}

func quote(s string) string {
	return `"` + s + `"`
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
