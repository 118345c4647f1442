package config

import "fmt"

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
	Secret bool
}

// ShowAll returns all config key/value pairs from the current config.
// Secret values are masked.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		value := fmt.Sprintf("%v", s.extract(cfg))
		if s.secret {
			value = mask(value)
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  value,
			Secret: s.secret,
		})
	}
	return result
}

func mask(v string) string {
	switch {
	case v == "":
		return "(not set)"
	case len(v) <= 8:
		return "********"
	default:
		return v[:4] + "…" + v[len(v)-2:]
	}
}

// SetKey writes a config key to the config file, or a secret to the secrets file.
func SetKey(key, value string) error {
	return setKey(newPlatformBackend(), newFileSecrets(), key, value)
}

func setKey(b backend, secrets secretStore, key, value string) error {
	s, ok := specFor(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if s.secret {
		return secrets.Set(key, value)
	}
	v, err := parseValue(s.typ, value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	cfg := defaults()
	s.apply(&cfg, v)
	if err := cfg.validate(); err != nil {
		return err
	}
	return b.Store(s, v)
}

// ValidKeys returns the list of config key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		keys = append(keys, s.key)
	}
	return keys
}
