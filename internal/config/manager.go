// Package config resolves the values the settings file refers to by name:
// the siteverify secret, the CSRF key and similar deployment secrets.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrNotFound is returned by sources when a key has no value.
var ErrNotFound = errors.New("config value not found")

// Source describes a backend that can provide configuration values.
type Source interface {
	Get(key string) (string, error)
	Name() string
}

// Chain asks each source in order and returns the first value found. Errors
// other than ErrNotFound stop the lookup.
type Chain []Source

func (c Chain) Name() string {
	names := make([]string, len(c))
	for i, s := range c {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

func (c Chain) Get(key string) (string, error) {
	for _, s := range c {
		val, err := s.Get(key)
		if err == nil {
			return val, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("%s: %w", key, ErrNotFound)
}

// Manager proxies lookups to the source selected via CONFIG_PROVIDER.
type Manager struct {
	source Source
}

func NewManager(source Source) *Manager {
	return &Manager{source: source}
}

func (m *Manager) Get(key string) (string, error) {
	return m.source.Get(key)
}

// GetDefault returns the value if available, otherwise defaultVal.
func (m *Manager) GetDefault(key, defaultVal string) string {
	val, err := m.Get(key)
	if err != nil || val == "" {
		return defaultVal
	}
	return val
}

func (m *Manager) SourceName() string {
	return m.source.Name()
}

var (
	defaultManager *Manager
	managerOnce    sync.Once
	managerErr     error
)

// Default returns the process-wide manager, building it on first use.
func Default() (*Manager, error) {
	managerOnce.Do(func() {
		name := strings.ToLower(strings.TrimSpace(os.Getenv("CONFIG_PROVIDER")))
		source, err := newSource(name)
		if err != nil {
			managerErr = err
			return
		}
		defaultManager = NewManager(source)
	})
	return defaultManager, managerErr
}

// newSource builds the named provider. Vault lookups fall back from the
// environment so local overrides keep working.
func newSource(name string) (Source, error) {
	switch name {
	case "", "env":
		return NewEnvSource(""), nil
	case "vault":
		vs, err := NewVaultSource(VaultConfigFromEnv())
		if err != nil {
			return nil, err
		}
		return Chain{NewEnvSource(""), vs}, nil
	default:
		return nil, fmt.Errorf("unknown config provider: %s", name)
	}
}
