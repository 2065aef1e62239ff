package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/exchange-office/internal/currency"
	"github.com/eugenenazirov/exchange-office/internal/exchangerate"
)

const (
	defaultPort            = "8080"
	defaultRateLimitRPS    = 25.0
	defaultRateLimitBurst  = 50
	defaultCommissionRate  = 0.01
	defaultStoragePath     = "data/exchanges.json"
	defaultRefreshSchedule = "@every 1h"
	defaultEnvFile         = ".env"
)

var defaultCurrencies = []currency.Code{
	currency.EUR, currency.USD, currency.CHF, currency.JPY, currency.AUD, currency.CAD,
}

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > YAML config > Environment variables > Defaults
type Config struct {
	Port                 string        `yaml:"port"`
	ShutdownGracePeriod  time.Duration `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    time.Duration `yaml:"read_header_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	IdleTimeout          time.Duration `yaml:"idle_timeout"`
	EnableRequestLogging bool          `yaml:"enable_request_logging"`
	RateLimitRPS         float64       `yaml:"-"`
	RateLimitBurst       int           `yaml:"-"`
	LogLevel             string        `yaml:"log_level"`

	CommissionRate      float64         `yaml:"commission_rate"`
	ExchangeRateAPIKey  string          `yaml:"exchangerate_api_key"`
	ExchangeRateAPIURL  string          `yaml:"exchangerate_api_url"`
	ExchangeStoragePath string          `yaml:"exchange_storage_path"`
	BaseCurrency        currency.Code   `yaml:"base_currency"`
	Currencies          []currency.Code `yaml:"currencies"`
	RefreshSchedule     string          `yaml:"refresh_schedule"`
	UpstreamTimeout     time.Duration   `yaml:"upstream_timeout"`
}

// yamlConfig represents the YAML configuration file structure.
type yamlConfig struct {
	Port                 string        `yaml:"port"`
	ShutdownGracePeriod  string        `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    string        `yaml:"read_header_timeout"`
	WriteTimeout         string        `yaml:"write_timeout"`
	IdleTimeout          string        `yaml:"idle_timeout"`
	EnableRequestLogging *bool         `yaml:"enable_request_logging"`
	RateLimit            yamlRateLimit `yaml:"rate_limit"`
	LogLevel             string        `yaml:"log_level"`

	CommissionRate      *float64 `yaml:"commission_rate"`
	ExchangeRateAPIKey  string   `yaml:"exchangerate_api_key"`
	ExchangeRateAPIURL  string   `yaml:"exchangerate_api_url"`
	ExchangeStoragePath string   `yaml:"exchange_storage_path"`
	BaseCurrency        string   `yaml:"base_currency"`
	Currencies          []string `yaml:"currencies"`
	RefreshSchedule     *string  `yaml:"refresh_schedule"`
	UpstreamTimeout     string   `yaml:"upstream_timeout"`
}

// yamlRateLimit represents the rate limit section in YAML.
type yamlRateLimit struct {
	RPS   *float64 `yaml:"rps"`
	Burst *int     `yaml:"burst"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile      string
	EnvFile         string
	Port            *string
	RateLimitRPS    *float64
	RateLimitBurst  *int
	LogLevel        *string
	CommissionRate  *float64
	APIKey          *string
	StoragePath     *string
	RefreshSchedule *string
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > YAML config > Environment variables > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := Default()

	envFile := defaultEnvFile
	if overrides != nil && overrides.EnvFile != "" {
		envFile = overrides.EnvFile
	}
	if err := loadEnvFile(envFile, overrides != nil && overrides.EnvFile != ""); err != nil {
		return Config{}, err
	}

	if err := applyEnvConfig(&cfg); err != nil {
		return Config{}, err
	}

	if overrides != nil && overrides.ConfigFile != "" {
		yamlCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
		if err := applyYAMLConfig(&cfg, yamlCfg); err != nil {
			return Config{}, fmt.Errorf("apply YAML config: %w", err)
		}
	}

	if overrides != nil {
		applyCLIOverrides(&cfg, overrides)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Default returns a Config with default values.
func Default() Config {
	return Config{
		Port:                 defaultPort,
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         15 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		RateLimitRPS:         defaultRateLimitRPS,
		RateLimitBurst:       defaultRateLimitBurst,
		LogLevel:             "info",
		CommissionRate:       defaultCommissionRate,
		ExchangeRateAPIURL:   exchangerate.DefaultBaseURL,
		ExchangeStoragePath:  defaultStoragePath,
		BaseCurrency:         currency.RSD,
		Currencies:           slices.Clone(defaultCurrencies),
		RefreshSchedule:      defaultRefreshSchedule,
		UpstreamTimeout:      10 * time.Second,
	}
}

// loadEnvFile populates unset environment variables from a dotenv file.
// A missing default file is ignored; a missing explicit file is an error.
func loadEnvFile(path string, required bool) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) && !required {
		return nil
	}
	return fmt.Errorf("load env file %s: %w", path, err)
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig applies YAML configuration to the Config struct.
func applyYAMLConfig(cfg *Config, yamlCfg *yamlConfig) error {
	if yamlCfg.Port != "" {
		cfg.Port = yamlCfg.Port
	}

	durations := []struct {
		raw    string
		target *time.Duration
		name   string
	}{
		{yamlCfg.ShutdownGracePeriod, &cfg.ShutdownGracePeriod, "shutdown_grace_period"},
		{yamlCfg.ReadHeaderTimeout, &cfg.ReadHeaderTimeout, "read_header_timeout"},
		{yamlCfg.WriteTimeout, &cfg.WriteTimeout, "write_timeout"},
		{yamlCfg.IdleTimeout, &cfg.IdleTimeout, "idle_timeout"},
		{yamlCfg.UpstreamTimeout, &cfg.UpstreamTimeout, "upstream_timeout"},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.target = parsed
	}

	if yamlCfg.EnableRequestLogging != nil {
		cfg.EnableRequestLogging = *yamlCfg.EnableRequestLogging
	}
	if yamlCfg.RateLimit.RPS != nil {
		cfg.RateLimitRPS = *yamlCfg.RateLimit.RPS
	}
	if yamlCfg.RateLimit.Burst != nil {
		cfg.RateLimitBurst = *yamlCfg.RateLimit.Burst
	}

	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}

	if yamlCfg.CommissionRate != nil {
		cfg.CommissionRate = *yamlCfg.CommissionRate
	}
	if yamlCfg.ExchangeRateAPIKey != "" {
		cfg.ExchangeRateAPIKey = yamlCfg.ExchangeRateAPIKey
	}
	if yamlCfg.ExchangeRateAPIURL != "" {
		cfg.ExchangeRateAPIURL = yamlCfg.ExchangeRateAPIURL
	}
	if yamlCfg.ExchangeStoragePath != "" {
		cfg.ExchangeStoragePath = yamlCfg.ExchangeStoragePath
	}
	if yamlCfg.BaseCurrency != "" {
		base, err := currency.ParseCode(yamlCfg.BaseCurrency)
		if err != nil {
			return fmt.Errorf("base_currency: %w", err)
		}
		cfg.BaseCurrency = base
	}
	if len(yamlCfg.Currencies) > 0 {
		codes, err := currency.ParseList(strings.Join(yamlCfg.Currencies, ","))
		if err != nil {
			return fmt.Errorf("currencies: %w", err)
		}
		cfg.Currencies = codes
	}
	if yamlCfg.RefreshSchedule != nil {
		cfg.RefreshSchedule = strings.TrimSpace(*yamlCfg.RefreshSchedule)
	}

	return nil
}

// applyEnvConfig applies environment variable configuration.
func applyEnvConfig(cfg *Config) error {
	if port := env("PORT"); port != "" {
		cfg.Port = port
	}

	if rps := env("RATE_LIMIT_RPS"); rps != "" {
		if value, err := strconv.ParseFloat(rps, 64); err == nil && value >= 0 {
			cfg.RateLimitRPS = value
		}
	}

	if burst := env("RATE_LIMIT_BURST"); burst != "" {
		if value, err := strconv.Atoi(burst); err == nil && value >= 0 {
			cfg.RateLimitBurst = value
		}
	}

	if level := env("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if raw := env("COMMISSION_RATE"); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("COMMISSION_RATE: invalid number %q", raw)
		}
		cfg.CommissionRate = value
	}

	if key := env("EXCHANGERATE_API_KEY"); key != "" {
		cfg.ExchangeRateAPIKey = key
	}
	if url := env("EXCHANGERATE_API_URL"); url != "" {
		cfg.ExchangeRateAPIURL = url
	}
	if path := env("EXCHANGE_STORAGE_PATH"); path != "" {
		cfg.ExchangeStoragePath = path
	}

	if raw := env("BASE_CURRENCY"); raw != "" {
		base, err := currency.ParseCode(raw)
		if err != nil {
			return fmt.Errorf("BASE_CURRENCY: %w", err)
		}
		cfg.BaseCurrency = base
	}
	if raw := env("CURRENCIES"); raw != "" {
		codes, err := currency.ParseList(raw)
		if err != nil {
			return fmt.Errorf("CURRENCIES: %w", err)
		}
		cfg.Currencies = codes
	}

	if spec, ok := os.LookupEnv("REFRESH_SCHEDULE"); ok {
		cfg.RefreshSchedule = strings.TrimSpace(spec)
	}

	return nil
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) {
	if overrides.Port != nil && *overrides.Port != "" {
		cfg.Port = *overrides.Port
	}

	if overrides.RateLimitRPS != nil {
		cfg.RateLimitRPS = *overrides.RateLimitRPS
	}

	if overrides.RateLimitBurst != nil {
		cfg.RateLimitBurst = *overrides.RateLimitBurst
	}

	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		cfg.LogLevel = *overrides.LogLevel
	}

	if overrides.CommissionRate != nil {
		cfg.CommissionRate = *overrides.CommissionRate
	}

	if overrides.APIKey != nil && *overrides.APIKey != "" {
		cfg.ExchangeRateAPIKey = *overrides.APIKey
	}

	if overrides.StoragePath != nil && *overrides.StoragePath != "" {
		cfg.ExchangeStoragePath = *overrides.StoragePath
	}

	if overrides.RefreshSchedule != nil {
		cfg.RefreshSchedule = strings.TrimSpace(*overrides.RefreshSchedule)
	}
}

// Validate checks the final configuration.
func (c Config) Validate() error {
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0")
	}
	if c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be >= 0")
	}
	if c.CommissionRate < 0 || c.CommissionRate >= 1 {
		return fmt.Errorf("COMMISSION_RATE must be in [0, 1), got %v", c.CommissionRate)
	}
	if strings.TrimSpace(c.ExchangeStoragePath) == "" {
		return fmt.Errorf("EXCHANGE_STORAGE_PATH cannot be empty")
	}
	if c.BaseCurrency == "" {
		return fmt.Errorf("BASE_CURRENCY cannot be empty")
	}
	if len(c.Currencies) == 0 {
		return fmt.Errorf("CURRENCIES cannot be empty")
	}
	if slices.Contains(c.Currencies, c.BaseCurrency) {
		return fmt.Errorf("CURRENCIES must not contain the base currency %s", c.BaseCurrency)
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("upstream timeout must be positive")
	}
	return nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
