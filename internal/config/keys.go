package config

import (
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "MARGIN_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "MARGIN_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "llm.provider", typ: kString, env: "MARGIN_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.model", typ: kString, env: "MARGIN_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.base_url", typ: kString, env: "MARGIN_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.openai_api_key", typ: kString, env: "MARGIN_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OpenAIAPIKey },
	},
	{
		key: "llm.gemini_api_key", typ: kString, env: "MARGIN_GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.GeminiAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.GeminiAPIKey },
	},
	{
		key: "llm.temperature", typ: kFloat, env: "MARGIN_LLM_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.LLM.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.LLM.Temperature },
	},
	{
		key: "llm.timeout", typ: kDuration, env: "MARGIN_LLM_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.LLM.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.LLM.Timeout },
	},
	{
		key: "storage.data_dir", typ: kString, env: "MARGIN_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "MARGIN_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "ratelimit.rps", typ: kFloat, env: "MARGIN_RATELIMIT_RPS",
		apply:   func(cfg *Config, v any) { cfg.RateLimit.RPS = v.(float64) },
		extract: func(cfg Config) any { return cfg.RateLimit.RPS },
	},
	{
		key: "ratelimit.burst", typ: kInt, env: "MARGIN_RATELIMIT_BURST",
		apply:   func(cfg *Config, v any) { cfg.RateLimit.Burst = v.(int) },
		extract: func(cfg Config) any { return cfg.RateLimit.Burst },
	},
	{
		key: "session.ttl", typ: kDuration, env: "MARGIN_SESSION_TTL",
		apply:   func(cfg *Config, v any) { cfg.Session.TTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Session.TTL },
	},
	{
		key: "session.max", typ: kInt, env: "MARGIN_SESSION_MAX",
		apply:   func(cfg *Config, v any) { cfg.Session.Max = v.(int) },
		extract: func(cfg Config) any { return cfg.Session.Max },
	},
}

// parseValue converts raw into the Go type of t.
func parseValue(t keyType, raw string) (any, error) {
	switch t {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

// specFor returns the spec for key.
func specFor(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// applyBackend applies stored settings. Values that do not decode keep
// their default.
func applyBackend(cfg *Config, b backend) {
	for _, s := range specs {
		if s.secret {
			continue
		}
		v, ok, err := b.Lookup(s)
		if err != nil {
			warnf("could not read config key %v. Using default value.", err)
			continue
		}
		if ok {
			s.apply(cfg, v)
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			warnf("could not parse env var %s=%q: %v. Using default value.", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

// applySecrets fills secrets not provided by the environment from the
// secrets file.
func applySecrets(cfg *Config, secrets secretStore) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		if v, err := secrets.Get(s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}
