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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Backend   BackendConfig   `yaml:"backend" mapstructure:"backend"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Research  ResearchConfig  `yaml:"research" mapstructure:"research"`
	Deals     DealsConfig     `yaml:"deals" mapstructure:"deals"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// BackendConfig holds the hosted backend (tables, RPC, functions) settings.
type BackendConfig struct {
	URL         string  `yaml:"url" mapstructure:"url"`
	AnonKey     string  `yaml:"anon_key" mapstructure:"anon_key"`
	AccessToken string  `yaml:"access_token" mapstructure:"access_token"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ResearchConfig configures per-item research generation.
type ResearchConfig struct {
	Model               string  `yaml:"model" mapstructure:"model"`
	MaxTokens           int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature         float64 `yaml:"temperature" mapstructure:"temperature"`
	RetryAttempts       int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	BreakerThreshold    int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int     `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// DealWeights configures the top-deals scoring pass. Operators may set any
// non-negative values.
type DealWeights struct {
	DiscountMultiplier float64  `yaml:"discount_multiplier" mapstructure:"discount_multiplier" json:"discount_multiplier"`
	RatingMultiplier   float64  `yaml:"rating_multiplier" mapstructure:"rating_multiplier" json:"rating_multiplier"`
	FeaturedBonus      float64  `yaml:"featured_bonus" mapstructure:"featured_bonus" json:"featured_bonus"`
	CoPayBonus         float64  `yaml:"co_pay_bonus" mapstructure:"co_pay_bonus" json:"co_pay_bonus"`
	BrandMultiplier    float64  `yaml:"brand_multiplier" mapstructure:"brand_multiplier" json:"brand_multiplier"`
	SponsoredBonus     float64  `yaml:"sponsored_bonus" mapstructure:"sponsored_bonus" json:"sponsored_bonus"`
	RecognizedBrands   []string `yaml:"recognized_brands" mapstructure:"recognized_brands" json:"recognized_brands"`
	ResultLimit        int      `yaml:"result_limit" mapstructure:"result_limit" json:"result_limit"`
	Enabled            bool     `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
}

// DealsConfig locates the operator-editable weights file. Weights is used
// when the file does not exist yet.
type DealsConfig struct {
	WeightsFile string      `yaml:"weights_file" mapstructure:"weights_file"`
	Weights     DealWeights `yaml:"weights" mapstructure:"weights"`
}

// BatchConfig configures the bulk research driver.
type BatchConfig struct {
	PageSize       int `yaml:"page_size" mapstructure:"page_size"`
	PageDelayMs    int `yaml:"page_delay_ms" mapstructure:"page_delay_ms"`
	EstimatedTotal int `yaml:"estimated_total" mapstructure:"estimated_total"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port                   int      `yaml:"port" mapstructure:"port"`
	JWTSecret              string   `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	CORSOrigins            []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	ExposeAdminDiagnostics bool     `yaml:"expose_admin_diagnostics" mapstructure:"expose_admin_diagnostics"`
	ShutdownTimeoutSecs    int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config file and environment.
func Load() (*Config, error) {
	// .env is optional; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MARKETPLACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without a default still need binding so env overrides reach Unmarshal.
	for _, key := range []string{
		"store.database_url",
		"backend.url", "backend.anon_key", "backend.access_token",
		"anthropic.key", "anthropic.base_url",
		"server.jwt_secret",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("backend.rate_limit", 5.0)
	v.SetDefault("backend.timeout_secs", 120)
	v.SetDefault("research.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("research.max_tokens", 1500)
	v.SetDefault("research.temperature", 0.3)
	v.SetDefault("research.retry_attempts", 2)
	v.SetDefault("research.breaker_threshold", 5)
	v.SetDefault("research.breaker_cooldown_secs", 30)
	v.SetDefault("deals.weights_file", "deal_weights.yaml")
	v.SetDefault("deals.weights.discount_multiplier", 1.0)
	v.SetDefault("deals.weights.rating_multiplier", 2.0)
	v.SetDefault("deals.weights.featured_bonus", 15.0)
	v.SetDefault("deals.weights.co_pay_bonus", 10.0)
	v.SetDefault("deals.weights.brand_multiplier", 1.5)
	v.SetDefault("deals.weights.sponsored_bonus", 5.0)
	v.SetDefault("deals.weights.recognized_brands", []string{})
	v.SetDefault("deals.weights.result_limit", 8)
	v.SetDefault("deals.weights.enabled", true)
	v.SetDefault("batch.page_size", 10)
	v.SetDefault("batch.page_delay_ms", 1000)
	v.SetDefault("batch.estimated_total", 200)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.expose_admin_diagnostics", false)
	v.SetDefault("server.shutdown_timeout_secs", 15)
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

// Validate checks that the keys a command depends on are set.
func (c *Config) Validate(command string) error {
	var missing []string
	needStore := func() {
		switch c.Store.Driver {
		case "postgres", "sqlite":
		default:
			missing = append(missing, "store.driver (postgres|sqlite)")
		}
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url")
		}
	}

	switch command {
	case "serve":
		needStore()
		if c.Server.JWTSecret == "" {
			missing = append(missing, "server.jwt_secret")
		}
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key")
		}
	case "research":
		if c.Backend.URL == "" {
			missing = append(missing, "backend.url")
		}
		if c.Backend.AccessToken == "" {
			missing = append(missing, "backend.access_token")
		}
	case "deals", "migrate", "catalog", "admin":
		needStore()
	}

	if len(missing) > 0 {
		return eris.Errorf("config: %s requires %s", command, strings.Join(missing, ", "))
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
