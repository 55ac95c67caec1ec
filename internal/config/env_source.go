package config

import (
	"fmt"
	"os"
	"strings"
)

var envKeyReplacer = strings.NewReplacer("/", "_", "-", "_", ".", "_")

// EnvKey maps a settings reference such as "turnstile/secret-key" to the
// environment variable name TURNSTILE_SECRET_KEY.
func EnvKey(key string) string {
	return strings.ToUpper(envKeyReplacer.Replace(strings.TrimSpace(key)))
}

// EnvSource reads environment variables (including a loaded .env file).
type EnvSource struct {
	prefix string
}

// NewEnvSource returns a source that prepends prefix to every variable name.
func NewEnvSource(prefix string) *EnvSource {
	return &EnvSource{prefix: strings.ToUpper(prefix)}
}

func (e *EnvSource) Name() string {
	return "env"
}

func (e *EnvSource) Get(key string) (string, error) {
	name := e.prefix + EnvKey(key)
	if val := os.Getenv(name); val != "" {
		return val, nil
	}
	return "", fmt.Errorf("env %s: %w", name, ErrNotFound)
}

// MapSource serves values from a fixed map. Keys are matched verbatim.
type MapSource map[string]string

func (m MapSource) Name() string {
	return "map"
}

func (m MapSource) Get(key string) (string, error) {
	if val, ok := m[key]; ok && val != "" {
		return val, nil
	}
	return "", fmt.Errorf("key %s: %w", key, ErrNotFound)
}
