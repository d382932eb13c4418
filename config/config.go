package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research assistant
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Session   SessionConfig   `mapstructure:"session"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
	// AuthTokens maps principal name to a bcrypt hash of its bearer token.
	// Empty map disables bearer auth.
	AuthTokens map[string]string `mapstructure:"auth_tokens"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type    string        `mapstructure:"type"` // openai, anthropic, gemini
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LLMRoutingConfig names the model used for each agent role
type LLMRoutingConfig struct {
	Orchestrator  string `mapstructure:"orchestrator"`
	Research      string `mapstructure:"research"`
	Report        string `mapstructure:"report"`
	Clarification string `mapstructure:"clarification"`
	Fallback      string `mapstructure:"fallback"`
}

// SessionConfig selects and configures the session store
type SessionConfig struct {
	Store    string         `mapstructure:"store"` // inmemory, redis, postgres
	TTL      time.Duration  `mapstructure:"ttl"`
	Sweep    SweepConfig    `mapstructure:"sweep"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// SweepConfig controls the idle-session cleanup job
type SweepConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Schedule string        `mapstructure:"schedule"` // cron expression
	MaxIdle  time.Duration `mapstructure:"max_idle"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("session.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("session.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("session.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("session.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("session.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a lib/pq connection string from the discrete fields
// unless an explicit URL is set.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	sslmode := p.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, sslmode)
}

// AgentsConfig tunes the orchestration loop
type AgentsConfig struct {
	MaxSpecialistIterations int      `mapstructure:"max_specialist_iterations"`
	DefaultDataTools        []string `mapstructure:"default_data_tools"`
}

// ToolsConfig configures the research data tools
type ToolsConfig struct {
	WebSearch WebSearchConfig `mapstructure:"web_search"`
	WebFetch  WebFetchConfig  `mapstructure:"web_fetch"`
	Docs      DocsConfig      `mapstructure:"docs"`
}

// WebSearchConfig selects a search backend
type WebSearchConfig struct {
	Provider   string `mapstructure:"provider"` // serper, brave
	APIKey     string `mapstructure:"api_key"`
	MaxResults int    `mapstructure:"max_results"`
}

// WebFetchConfig controls page extraction
type WebFetchConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxChars int           `mapstructure:"max_chars"`
}

// DocsConfig points the lookup index at a local corpus
type DocsConfig struct {
	Dir string `mapstructure:"dir"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// LoadConfig loads config from file, falling back to defaults plus
// DEEPRESEARCH_* environment variables when no file is found.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", time.Minute)
	viper.SetDefault("server.address", ":10001")
	viper.SetDefault("llm.routing.fallback", "gpt-4o-mini")
	viper.SetDefault("session.store", "inmemory")
	viper.SetDefault("session.ttl", 24*time.Hour)
	viper.SetDefault("session.sweep.schedule", "*/30 * * * *")
	viper.SetDefault("session.sweep.max_idle", 72*time.Hour)
	viper.SetDefault("agents.max_specialist_iterations", 3)
	viper.SetDefault("agents.default_data_tools", []string{"web_search", "web_extract", "docs_lookup"})
	viper.SetDefault("tools.web_search.provider", "serper")
	viper.SetDefault("tools.web_search.max_results", 8)
	viper.SetDefault("tools.web_fetch.timeout", 15*time.Second)
	viper.SetDefault("tools.web_fetch.max_chars", 20000)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("DEEPRESEARCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Telemetry.Validate(); err != nil {
		panic(err)
	}
	if config.Session.Store == "redis" {
		if err := config.Session.Redis.Validate(); err != nil {
			panic(err)
		}
	}
	if config.Session.Store == "postgres" {
		if err := config.Session.Postgres.Validate(); err != nil {
			panic(err)
		}
	}
	return &config
}
