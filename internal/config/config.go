package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	LLM       LLMConfig
	Storage   StorageConfig
	Log       LogConfig
	RateLimit RateLimitConfig
	Session   SessionConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type LLMConfig struct {
	Provider     string
	Model        string
	BaseURL      string
	OpenAIAPIKey string
	GeminiAPIKey string
	Temperature  float64
	Timeout      time.Duration
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

type SessionConfig struct {
	TTL time.Duration
	Max int
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		LLM: LLMConfig{
			Temperature: 0.7,
			Timeout:     60 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RPS:   2,
			Burst: 5,
		},
		Session: SessionConfig{
			TTL: 2 * time.Hour,
			Max: 1024,
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/margin/config.json, then from a .env file in the working
// directory, then from MARGIN_* environment variables. Later sources win.
// Secrets come from the environment or the local secrets file.
func Load() (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	return loadWith(newPlatformBackend(), newFileSecrets())
}

// loadDotEnv copies variables from the given files into the environment
// without overriding variables that are already set. Missing files are skipped.
func loadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

func loadWith(b backend, secrets secretStore) (Config, error) {
	cfg := defaults()

	applyBackend(&cfg, b)
	applyEnvOverrides(&cfg)
	applySecrets(&cfg, secrets)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.LLM.Provider {
	case "", "openai", "gemini", "ollama":
	default:
		return fmt.Errorf("invalid llm.provider %q: want openai, gemini or ollama", c.LLM.Provider)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c LogConfig) SlogLevel() slog.Level {
	l, err := parseLevel(c.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log.level %q: want debug, info, warn or error", s)
	}
	return l, nil
}

// EnsureAPIToken returns the service bearer token, generating and storing
// one in the secrets file on first use.
func EnsureAPIToken(cfg *Config) (string, error) {
	return ensureAPIToken(cfg, newFileSecrets())
}

func ensureAPIToken(cfg *Config, secrets secretStore) (string, error) {
	if cfg.Server.APIToken != "" {
		return cfg.Server.APIToken, nil
	}
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	if err := secrets.Set("server.api_token", token); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	cfg.Server.APIToken = token
	return token, nil
}
