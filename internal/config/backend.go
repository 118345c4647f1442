package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// backend persists non-secret settings. Values are read and written in the
// Go type of their key spec.
type backend interface {
	Lookup(s keySpec) (v any, ok bool, err error)
	Store(s keySpec, v any) error
	Delete(key string) error
}

// xdgDir returns the margin directory under $envVar, or under
// ~/<fallback> when the variable is unset.
func xdgDir(envVar, fallback string) string {
	dir := os.Getenv(envVar)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "margin"
		}
		dir = filepath.Join(home, fallback)
	}
	return filepath.Join(dir, "margin")
}

func defaultDataDir() string {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func configFilePath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "config.json")
}

// fileBackend keeps settings in a JSON object keyed by spec name. Durations
// are stored as strings ("90s"), numbers as JSON numbers. Secret keys found
// in the file are ignored and dropped on the next write.
type fileBackend struct {
	path string
	data map[string]json.RawMessage
}

func newPlatformBackend() backend {
	return newFileBackend(configFilePath())
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, data: make(map[string]json.RawMessage)}
	b.load()
	return b
}

func (b *fileBackend) load() {
	raw, err := os.ReadFile(b.path)
	if err != nil {
		if !os.IsNotExist(err) {
			warnf("could not read config file %s: %v. Using default values.", b.path, err)
		}
		return
	}
	if err := json.Unmarshal(raw, &b.data); err != nil {
		warnf("could not parse config file %s: %v. Using default values.", b.path, err)
		b.data = make(map[string]json.RawMessage)
		return
	}
	for key := range b.data {
		s, ok := specFor(key)
		switch {
		case !ok:
			warnf("unknown config key %q in %s", key, b.path)
		case s.secret:
			warnf("ignoring %s in %s: secrets are kept in the secrets file", key, b.path)
			delete(b.data, key)
		}
	}
}

func (b *fileBackend) Lookup(s keySpec) (any, bool, error) {
	raw, ok := b.data[s.key]
	if !ok {
		return nil, false, nil
	}
	v, err := decodeTyped(s.typ, raw)
	if err != nil {
		return nil, true, fmt.Errorf("%s: %w", s.key, err)
	}
	return v, true, nil
}

func (b *fileBackend) Store(s keySpec, v any) error {
	if s.secret {
		return fmt.Errorf("%s is a secret and cannot be stored in the config file", s.key)
	}
	if d, ok := v.(time.Duration); ok {
		v = d.String()
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", s.key, err)
	}
	b.data[s.key] = raw
	return b.save()
}

func (b *fileBackend) Delete(key string) error {
	delete(b.data, key)
	return b.save()
}

// save replaces the file atomically so a crash never leaves half a config.
func (b *fileBackend) save() error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	out, err := json.MarshalIndent(b.data, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return os.Rename(tmp.Name(), b.path)
}

// decodeTyped reads raw as the Go type of t. Hand-edited files may quote
// numbers, so a JSON string is also accepted and parsed.
func decodeTyped(t keyType, raw json.RawMessage) (any, error) {
	var s string
	quoted := json.Unmarshal(raw, &s) == nil

	switch t {
	case kString:
		if !quoted {
			return nil, fmt.Errorf("want a string, got %s", raw)
		}
		return s, nil
	case kInt:
		if quoted {
			return strconv.Atoi(s)
		}
		var n int
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("want an integer, got %s", raw)
		}
		return n, nil
	case kFloat:
		if quoted {
			return strconv.ParseFloat(s, 64)
		}
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("want a number, got %s", raw)
		}
		return f, nil
	case kBool:
		if quoted {
			return strconv.ParseBool(s)
		}
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("want true or false, got %s", raw)
		}
		return v, nil
	case kDuration:
		if quoted {
			return time.ParseDuration(s)
		}
		// A bare number is seconds.
		var secs float64
		if err := json.Unmarshal(raw, &secs); err != nil {
			return nil, fmt.Errorf("want a duration such as \"90s\", got %s", raw)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	return nil, fmt.Errorf("unsupported key type %d", t)
}

func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "[WARN] "+format+"\n", args...)
}
