package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	vault "github.com/hashicorp/vault/api"
)

// VaultConfig locates the KV v2 mount holding Turnstile secrets.
type VaultConfig struct {
	Address string
	Token   string
	// Mount is the KV v2 mount path. Defaults to "secret".
	Mount string
	// Field is the key inside each secret that holds the value. Defaults to "value".
	Field   string
	Timeout time.Duration
}

// VaultConfigFromEnv reads VAULT_ADDR, VAULT_TOKEN, VAULT_PATH and VAULT_FIELD.
func VaultConfigFromEnv() VaultConfig {
	return VaultConfig{
		Address: os.Getenv("VAULT_ADDR"),
		Token:   os.Getenv("VAULT_TOKEN"),
		Mount:   os.Getenv("VAULT_PATH"),
		Field:   os.Getenv("VAULT_FIELD"),
	}
}

// VaultSource resolves secret references against a Vault KV v2 backend.
// The reference is the secret path under the mount, e.g. "turnstile/prod".
type VaultSource struct {
	kv      *vault.KVv2
	field   string
	timeout time.Duration
}

func NewVaultSource(cfg VaultConfig) (*VaultSource, error) {
	if cfg.Address == "" || cfg.Token == "" {
		return nil, errors.New("vault config requires VAULT_ADDR and VAULT_TOKEN")
	}
	if cfg.Mount == "" {
		cfg.Mount = "secret"
	}
	if cfg.Field == "" {
		cfg.Field = "value"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	client, err := vault.NewClient(&vault.Config{Address: cfg.Address, Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("vault client init error: %w", err)
	}
	client.SetToken(cfg.Token)
	return &VaultSource{
		kv:      client.KVv2(cfg.Mount),
		field:   cfg.Field,
		timeout: cfg.Timeout,
	}, nil
}

func (v *VaultSource) Name() string {
	return "vault"
}

func (v *VaultSource) Get(key string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
	defer cancel()

	secret, err := v.kv.Get(ctx, strings.Trim(key, "/"))
	if errors.Is(err, vault.ErrSecretNotFound) {
		return "", fmt.Errorf("vault secret %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("vault read %s: %w", key, err)
	}
	if val, ok := secret.Data[v.field].(string); ok && val != "" {
		return val, nil
	}
	return "", fmt.Errorf("vault secret %s has no %q field: %w", key, v.field, ErrNotFound)
}
