package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the screening service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Screening ScreeningConfig `mapstructure:"screening"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug     bool   `mapstructure:"debug"`
	LogLevel  string `mapstructure:"log_level"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains the reviewer model provider configuration
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm.model is required")
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0,2]")
	}
	return nil
}

// ScreeningConfig controls queue, pacing and session behaviour
type ScreeningConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	BatchPacing     time.Duration `mapstructure:"batch_pacing"`
	ParallelPacing  time.Duration `mapstructure:"parallel_pacing"`
	ReviewerGap     time.Duration `mapstructure:"reviewer_gap"`
	StalenessWindow time.Duration `mapstructure:"staleness_window"`
	RunTimeout      time.Duration `mapstructure:"run_timeout"`
}

func (s ScreeningConfig) Validate() error {
	if s.BatchSize <= 0 {
		return fmt.Errorf("screening.batch_size must be > 0")
	}
	if s.StalenessWindow <= 0 {
		return fmt.Errorf("screening.staleness_window must be > 0")
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a postgres connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings for scheduler locks
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns host:port, or empty when redis is not configured.
func (r RedisConfig) Addr() string {
	if strings.TrimSpace(r.Host) == "" || strings.TrimSpace(r.Port) == "" {
		return ""
	}
	return r.Host + ":" + r.Port
}

// TelemetryConfig contains metrics and tracing settings
type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("server.address", ":10020")
	viper.SetDefault("llm.base_url", "https://api.openai.com/v1")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.1)
	viper.SetDefault("llm.max_tokens", 1500)
	viper.SetDefault("llm.timeout", 60*time.Second)
	viper.SetDefault("screening.batch_size", 10)
	viper.SetDefault("screening.batch_pacing", 2*time.Second)
	viper.SetDefault("screening.parallel_pacing", 500*time.Millisecond)
	viper.SetDefault("screening.reviewer_gap", 100*time.Millisecond)
	viper.SetDefault("screening.staleness_window", 4*time.Hour)
	viper.SetDefault("screening.run_timeout", 15*time.Minute)
	viper.SetDefault("storage.postgres.sslmode", "disable")
	viper.SetDefault("storage.redis.db", 0)
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.metrics_port", 9090)
}

// overrideFromEnv picks up secrets that are commonly provided as plain env vars.
func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("REFSCREEN_JWT_SECRET"); v != "" && cfg.Server.JWTSecret == "" {
		cfg.Server.JWTSecret = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" && cfg.Storage.Postgres.URL == "" {
		cfg.Storage.Postgres.URL = v
	}
}

func validateConfig(cfg *Config) error {
	if err := cfg.LLM.Validate(); err != nil {
		return err
	}
	if err := cfg.Screening.Validate(); err != nil {
		return err
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		return err
	}
	return nil
}

// LoadConfig loads config from file, applying defaults and env overrides.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	setDefaults()

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("REFSCREEN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Defaults plus env are enough to run; only a broken file is fatal.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	overrideFromEnv(&config)

	if err := validateConfig(&config); err != nil {
		panic(err)
	}
	return &config
}
