package policy

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Severino/cloudflare-turnstile-comply/internal/config"
)

type mapSecrets map[string]string

func (m mapSecrets) Get(key string) (string, error) {
	if v, ok := m[key]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%s: %w", key, config.ErrNotFound)
}

// outageSecrets fails with a backend error for the first failures lookups.
type outageSecrets struct {
	failures int
	value    string
	lookups  int
}

func (o *outageSecrets) Get(string) (string, error) {
	o.lookups++
	if o.lookups <= o.failures {
		return "", errors.New("connection refused")
	}
	return o.value, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func writeSettings(t *testing.T, path, body string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestStoreLoadsAndResolvesSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turnstile.json")
	writeSettings(t, path, `{
		"site_key": "1x00000000000000000000AA",
		"secret_key": "TURNSTILE_SECRET",
		"theme": "dark",
		"disable_button": true,
		"integrations": {
			"contact": {"disabled": "form-1, form-2", "submit_selector": "#send"},
			"comments": {"enabled": false}
		}
	}`, time.Now().Add(-time.Hour))

	store := NewStore(path, mapSecrets{"TURNSTILE_SECRET": "1x0000000000000000000000000000000AA"}, quietLogger())
	cfg, err := store.Current()
	require.NoError(t, err)

	assert.True(t, cfg.Configured())
	assert.Equal(t, "dark", cfg.Theme)
	assert.Equal(t, DefaultLanguage, cfg.Language)
	assert.Equal(t, DefaultFailedMessage, cfg.FailedMessage)
	assert.True(t, cfg.DisableButton)

	contact := cfg.Integration("contact")
	assert.True(t, contact.Enabled)
	assert.Equal(t, "#send", contact.SubmitSelector)
	assert.True(t, contact.Suppressed("form-2"))
	assert.False(t, contact.Suppressed("form-3"))

	assert.False(t, cfg.Integration("comments").Enabled)
	assert.True(t, cfg.Integration("unlisted").Enabled)
}

func TestStoreReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turnstile.json")
	base := time.Now().Add(-time.Hour)
	writeSettings(t, path, `{"site_key":"a","error_message":"first"}`, base)

	store := NewStore(path, nil, quietLogger())
	cfg, err := store.Current()
	require.NoError(t, err)
	assert.Equal(t, "first", cfg.FailedMessage)

	writeSettings(t, path, `{"site_key":"a","error_message":"second"}`, base.Add(time.Minute))
	cfg, err = store.Current()
	require.NoError(t, err)
	assert.Equal(t, "second", cfg.FailedMessage)
}

func TestStoreMissingSecretLeavesUnconfigured(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turnstile.json")
	writeSettings(t, path, `{"site_key":"a","secret_key":"NOPE"}`, time.Now())

	cfg, err := NewStore(path, mapSecrets{}, quietLogger()).Current()
	require.NoError(t, err)
	assert.False(t, cfg.Configured())
}

func TestStoreRetriesSecretAfterBackendFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turnstile.json")
	writeSettings(t, path, `{"site_key":"a","secret_key":"TURNSTILE_SECRET"}`, time.Now().Add(-time.Hour))
	secrets := &outageSecrets{failures: 1, value: "s3cret"}
	store := NewStore(path, secrets, quietLogger())

	_, err := store.Current()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSecretUnavailable))

	cfg, err := store.Current()
	require.NoError(t, err)
	assert.True(t, cfg.Configured())
	assert.Equal(t, "s3cret", cfg.Secret)
	assert.Equal(t, 2, secrets.lookups)
}

func TestStoreKeepsPreviousSnapshotDuringOutage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turnstile.json")
	writeSettings(t, path, `{"site_key":"a","secret_key":"TURNSTILE_SECRET"}`, time.Now().Add(-time.Hour))
	secrets := &outageSecrets{value: "s3cret"}
	store := NewStore(path, secrets, quietLogger(), WithSecretRefresh(time.Minute))
	clock := time.Now()
	store.now = func() time.Time { return clock }

	cfg, err := store.Current()
	require.NoError(t, err)
	require.True(t, cfg.Configured())

	// Refresh is due and the backend goes down.
	secrets.failures = secrets.lookups + 1
	clock = clock.Add(2 * time.Minute)
	cfg, err = store.Current()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Secret)

	// The next call retries and picks up the rotated secret.
	secrets.value = "rotated"
	cfg, err = store.Current()
	require.NoError(t, err)
	assert.Equal(t, "rotated", cfg.Secret)
	assert.Equal(t, 3, secrets.lookups)
}

func TestStoreCachesWithinRefreshInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turnstile.json")
	writeSettings(t, path, `{"site_key":"a","secret_key":"TURNSTILE_SECRET"}`, time.Now().Add(-time.Hour))
	secrets := &outageSecrets{value: "s3cret"}
	store := NewStore(path, secrets, quietLogger())

	for i := 0; i < 3; i++ {
		_, err := store.Current()
		require.NoError(t, err)
	}
	assert.Equal(t, 1, secrets.lookups)
}

func TestStoreRejectsInvalidSettings(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"theme":  `{"theme":"neon"}`,
		"json":   `{"site_key":`,
		"name":   `{"integrations":{" ":{}}}`,
		"select": `{"integrations":{"x":{"submit_selector":"` + longSelector() + `"}}}`,
	}
	for name, body := range cases {
		path := filepath.Join(dir, name+".json")
		writeSettings(t, path, body, time.Now())

		_, err := NewStore(path, nil, quietLogger()).Current()
		assert.Error(t, err, name)
	}
}

func TestStoreMissingFile(t *testing.T) {
	_, err := NewStore(filepath.Join(t.TempDir(), "absent.json"), nil, quietLogger()).Current()
	assert.Error(t, err)
}

func TestStaticProviderAndNormalize(t *testing.T) {
	cfg := Normalize(TurnstileConfig{SiteKey: " key ", Secret: "s", Theme: "LIGHT", FailedMessage: "   "})
	cfg = cfg.WithIntegration("login", Integration{Enabled: true, Disabled: "a,b"})

	got, err := Static(cfg).Current()
	require.NoError(t, err)
	assert.Equal(t, "key", got.SiteKey)
	assert.Equal(t, "light", got.Theme)
	assert.Equal(t, DefaultFailedMessage, got.FailedMessage)
	assert.True(t, got.Integration("login").Suppressed("b"))
}

func longSelector() string {
	b := make([]byte, 201)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}
