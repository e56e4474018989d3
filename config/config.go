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

// EnvPrefix prefixes every environment override, e.g. DEEPSEARCH_LLM_API_KEY.
const EnvPrefix = "DEEPSEARCH"

// Config holds all configuration for the service
type Config struct {
	General      GeneralConfig      `mapstructure:"general"`
	Server       ServerConfig       `mapstructure:"server"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Search       SearchConfig       `mapstructure:"search"`
	Retrieval    RetrievalConfig    `mapstructure:"retrieval"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

func (g GeneralConfig) Validate() error {
	switch strings.ToLower(g.LogLevel) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("general.log_level %q must be one of debug, info, warn, error", g.LogLevel)
	}
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address     string        `mapstructure:"address"`
	JWTSecret   string        `mapstructure:"jwt_secret"`
	CORSOrigins []string      `mapstructure:"cors_origins"`
	SessionTTL  time.Duration `mapstructure:"session_ttl"`
}

func (s ServerConfig) Normalize() ServerConfig {
	s.Address = strings.TrimSpace(s.Address)
	if s.Address != "" && !strings.Contains(s.Address, ":") {
		s.Address = ":" + s.Address
	}
	if s.SessionTTL <= 0 {
		s.SessionTTL = time.Hour
	}
	return s
}

func (s ServerConfig) Validate() error {
	if s.Address == "" {
		return fmt.Errorf("server.address required")
	}
	return nil
}

// LLMConfig selects the chat-completions endpoint used as the Drafter.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

func (l LLMConfig) Validate() error {
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0, 2]")
	}
	if l.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries cannot be negative")
	}
	return nil
}

// SearchConfig contains web search settings
type SearchConfig struct {
	Provider   string        `mapstructure:"provider"`
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	MaxResults int           `mapstructure:"max_results"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

func (s SearchConfig) Validate() error {
	switch s.Provider {
	case "serper", "brave":
	default:
		return fmt.Errorf("search.provider %q must be serper or brave", s.Provider)
	}
	if s.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be > 0")
	}
	return nil
}

// RetrievalConfig tunes the per-run passage index.
type RetrievalConfig struct {
	FetchPages   int           `mapstructure:"fetch_pages"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	MaxChars     int           `mapstructure:"max_chars"`
}

func (r RetrievalConfig) Validate() error {
	if r.FetchPages < 0 {
		return fmt.Errorf("retrieval.fetch_pages cannot be negative")
	}
	return nil
}

// OrchestratorConfig bounds a single run.
type OrchestratorConfig struct {
	MaxSteps                  int `mapstructure:"max_steps"`
	NoProgressThreshold       int `mapstructure:"no_progress_threshold"`
	PlanningAttemptsThreshold int `mapstructure:"planning_attempts_threshold"`
	MaxItemAttempts           int `mapstructure:"max_item_attempts"`
	MaxRevisions              int `mapstructure:"max_revisions"`
	SearchLimit               int `mapstructure:"search_limit"`
	RetrievalTopK             int `mapstructure:"retrieval_top_k"`
}

func (o OrchestratorConfig) Validate() error {
	if o.MaxSteps <= 0 {
		return fmt.Errorf("orchestrator.max_steps must be > 0")
	}
	if o.NoProgressThreshold <= 0 {
		return fmt.Errorf("orchestrator.no_progress_threshold must be > 0")
	}
	if o.PlanningAttemptsThreshold <= 0 {
		return fmt.Errorf("orchestrator.planning_attempts_threshold must be > 0")
	}
	if o.MaxItemAttempts <= 0 {
		return fmt.Errorf("orchestrator.max_item_attempts must be > 0")
	}
	if o.MaxRevisions < 0 {
		return fmt.Errorf("orchestrator.max_revisions cannot be negative")
	}
	return nil
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig contains Redis connection settings. An empty host disables
// the search cache.
type RedisConfig struct {
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	Timeout        time.Duration `mapstructure:"timeout"`
	SearchCacheTTL time.Duration `mapstructure:"search_cache_ttl"`
}

// Enabled reports whether a Redis host is configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

func (r RedisConfig) Validate() error {
	if !r.Enabled() {
		return nil
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// RequireCredentials reports missing API keys. Commands that talk to the
// Drafter or the search provider call it after loading.
func (c *Config) RequireCredentials() error {
	var errs []error
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		errs = append(errs, fmt.Errorf("llm.api_key required (%s_LLM_API_KEY)", EnvPrefix))
	}
	if strings.TrimSpace(c.Search.APIKey) == "" {
		errs = append(errs, fmt.Errorf("search.api_key required (%s_SEARCH_API_KEY)", EnvPrefix))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")

	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173", "http://127.0.0.1:5173"})
	v.SetDefault("server.session_ttl", time.Hour)

	v.SetDefault("llm.provider", "deepseek")
	v.SetDefault("llm.base_url", "https://api.deepseek.com")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "deepseek-chat")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.timeout", 120*time.Second)
	v.SetDefault("llm.max_retries", 2)

	v.SetDefault("search.provider", "serper")
	v.SetDefault("search.api_key", "")
	v.SetDefault("search.base_url", "")
	v.SetDefault("search.max_results", 20)
	v.SetDefault("search.timeout", 15*time.Second)
	v.SetDefault("search.max_retries", 2)

	v.SetDefault("retrieval.fetch_pages", 0)
	v.SetDefault("retrieval.fetch_timeout", 15*time.Second)
	v.SetDefault("retrieval.max_chars", 20000)

	v.SetDefault("orchestrator.max_steps", 15)
	v.SetDefault("orchestrator.no_progress_threshold", 3)
	v.SetDefault("orchestrator.planning_attempts_threshold", 3)
	v.SetDefault("orchestrator.max_item_attempts", 3)
	v.SetDefault("orchestrator.max_revisions", 2)
	v.SetDefault("orchestrator.search_limit", 20)
	v.SetDefault("orchestrator.retrieval_top_k", 3)

	v.SetDefault("storage.redis.host", "")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.timeout", 5*time.Second)
	v.SetDefault("storage.redis.search_cache_ttl", 24*time.Hour)

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "deepsearch")
}

// Load reads the config file (optional when path is empty), applies
// environment overrides and validates every section.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	config.Server = config.Server.Normalize()

	for _, validate := range []func() error{
		config.General.Validate,
		config.Server.Validate,
		config.LLM.Validate,
		config.Search.Validate,
		config.Retrieval.Validate,
		config.Orchestrator.Validate,
		config.Storage.Redis.Validate,
	} {
		if err := validate(); err != nil {
			return nil, err
		}
	}
	return &config, nil
}

// LoadConfig loads config and panics on any error.
func LoadConfig(path string) *Config {
	config, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return config
}
