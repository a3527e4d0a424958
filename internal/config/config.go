package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	LogLevel     string        `yaml:"log_level"`
	LogFormat    string        `yaml:"log_format"`
	CatalogPath  string        `yaml:"catalog_path"`
	SessionTTL   time.Duration `yaml:"session_ttl"`

	Sandbox   SandboxConfig   `yaml:"sandbox"`
	LLM       LLMConfig       `yaml:"llm"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type SandboxConfig struct {
	Backend          string `yaml:"backend"` // "docker" or "process"
	Image            string `yaml:"image"`
	Interpreter      string `yaml:"interpreter"`
	DefaultTimeoutMS int    `yaml:"default_timeout_ms"`
	MaxMemoryMB      int    `yaml:"max_memory_mb"`
	NanoCPUs         int64  `yaml:"nano_cpus"`
	PidsLimit        int64  `yaml:"pids_limit"`
	MaxOutputBytes   int    `yaml:"max_output_bytes"`
	MaxConcurrent    int    `yaml:"max_concurrent"`
}

type LLMConfig struct {
	Provider       string        `yaml:"provider"` // "openai", "deepseek" or "ollama"
	OpenAIKey      string        `yaml:"openai_api_key"`
	OpenAIModel    string        `yaml:"openai_model"`
	DeepSeekKey    string        `yaml:"deepseek_api_key"`
	DeepSeekModel  string        `yaml:"deepseek_model"`
	DeepSeekURL    string        `yaml:"deepseek_base_url"`
	OLLAMAHost     string        `yaml:"ollama_host"`
	OLLAMAModel    string        `yaml:"ollama_model"`
	Temperature    float32       `yaml:"temperature"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type RateLimitConfig struct {
	Every time.Duration `yaml:"every"`
	Burst int           `yaml:"burst"`
}

func Defaults() Config {
	return Config{
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		LogLevel:     "info",
		LogFormat:    "text",
		SessionTTL:   2 * time.Hour,
		Sandbox: SandboxConfig{
			Backend:          "docker",
			Image:            "python:3.12-slim",
			Interpreter:      "python3",
			DefaultTimeoutMS: 5000,
			MaxMemoryMB:      256,
			NanoCPUs:         500_000_000,
			PidsLimit:        64,
			MaxOutputBytes:   1 << 20,
			MaxConcurrent:    4,
		},
		LLM: LLMConfig{
			Provider:       "openai",
			OpenAIModel:    "gpt-3.5-turbo",
			DeepSeekModel:  "deepseek-chat",
			DeepSeekURL:    "https://api.deepseek.com",
			OLLAMAHost:     "http://localhost:11434",
			Temperature:    0.7,
			RequestTimeout: 60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Every: 6 * time.Second,
			Burst: 10,
		},
	}
}

// LoadConfig builds the configuration from defaults, an optional YAML file,
// a .env file and the process environment, in that order.
func LoadConfig(path string) (Config, error) {
	cfg := Defaults()

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}

	if path == "" {
		path = discoverConfigFile()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func discoverConfigFile() string {
	if p := os.Getenv("PYBUDDY_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}

func applyEnv(cfg *Config) error {
	var errs []error
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setInt("PYBUDDY_PORT", &cfg.Port)
	setString("PYBUDDY_LOG_LEVEL", &cfg.LogLevel)
	setString("PYBUDDY_LOG_FORMAT", &cfg.LogFormat)
	setString("PYBUDDY_CATALOG", &cfg.CatalogPath)

	setString("PYBUDDY_SANDBOX_BACKEND", &cfg.Sandbox.Backend)
	setString("PYBUDDY_SANDBOX_IMAGE", &cfg.Sandbox.Image)
	setString("PYBUDDY_SANDBOX_INTERPRETER", &cfg.Sandbox.Interpreter)
	setInt("PYBUDDY_TIMEOUT_MS", &cfg.Sandbox.DefaultTimeoutMS)
	setInt("PYBUDDY_MAX_MEMORY_MB", &cfg.Sandbox.MaxMemoryMB)
	setInt("PYBUDDY_MAX_CONCURRENT", &cfg.Sandbox.MaxConcurrent)

	setString("PYBUDDY_LLM_PROVIDER", &cfg.LLM.Provider)
	setString("OPENAI_API_KEY", &cfg.LLM.OpenAIKey)
	setString("OPENAI_MODEL", &cfg.LLM.OpenAIModel)
	setString("DEEPSEEK_API_KEY", &cfg.LLM.DeepSeekKey)
	setString("DEEPSEEK_MODEL", &cfg.LLM.DeepSeekModel)
	setString("OLLAMA_HOST", &cfg.LLM.OLLAMAHost)
	setString("OLLAMA_MODEL", &cfg.LLM.OLLAMAModel)

	return errors.Join(errs...)
}

func (c *Config) normalize() {
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.Sandbox.Backend = strings.ToLower(strings.TrimSpace(c.Sandbox.Backend))
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
}

func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch strings.ToLower(c.Sandbox.Backend) {
	case "docker", "process":
	default:
		errs = append(errs, fmt.Errorf("unknown sandbox backend %q", c.Sandbox.Backend))
	}
	if c.Sandbox.DefaultTimeoutMS <= 0 {
		errs = append(errs, errors.New("sandbox.default_timeout_ms must be positive"))
	}
	if c.Sandbox.MaxMemoryMB <= 0 {
		errs = append(errs, errors.New("sandbox.max_memory_mb must be positive"))
	}
	if c.Sandbox.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("sandbox.max_concurrent must be positive"))
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "deepseek", "ollama":
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider %q", c.LLM.Provider))
	}
	return errors.Join(errs...)
}

// Timeout is the per-grading wall-clock limit.
func (c SandboxConfig) Timeout() time.Duration {
	return time.Duration(c.DefaultTimeoutMS) * time.Millisecond
}

// APIKey returns the configured key for a hosted provider.
func (c LLMConfig) APIKey(provider string) string {
	switch strings.ToLower(provider) {
	case "openai":
		return c.OpenAIKey
	case "deepseek":
		return c.DeepSeekKey
	}
	return ""
}

func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
