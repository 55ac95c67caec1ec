package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/Severino/cloudflare-turnstile-comply/internal/config"
)

const (
	DefaultFailedMessage = "Please verify that you are human."
	DefaultTheme         = "auto"
	DefaultLanguage      = "auto"
)

// Integration holds the settings one form integration reads.
type Integration struct {
	Enabled        bool
	Disabled       string
	SubmitSelector string
}

// Suppressed reports whether formID is on the integration's disable list.
func (i Integration) Suppressed(formID string) bool {
	return ShouldSuppress(formID, i.Disabled)
}

// TurnstileConfig is an immutable snapshot of the widget and verification
// settings. Callers receive copies; nothing reads global state after load.
type TurnstileConfig struct {
	SiteKey               string
	Secret                string
	Theme                 string
	Language              string
	FailedMessage         string
	DisableButton         bool
	Compliance            bool
	ComplianceMessageHTML string

	integrations map[string]Integration
}

// Configured reports whether both keys are present.
func (c TurnstileConfig) Configured() bool {
	return c.SiteKey != "" && c.Secret != ""
}

// Integration returns the settings for name. Unknown integrations are
// enabled with an empty disable list.
func (c TurnstileConfig) Integration(name string) Integration {
	if in, ok := c.integrations[name]; ok {
		return in
	}
	return Integration{Enabled: true}
}

// WithIntegration returns a copy of c carrying settings for name.
func (c TurnstileConfig) WithIntegration(name string, in Integration) TurnstileConfig {
	next := make(map[string]Integration, len(c.integrations)+1)
	for k, v := range c.integrations {
		next[k] = v
	}
	next[name] = in
	c.integrations = next
	return c
}

// Provider hands out the current configuration snapshot.
type Provider interface {
	Current() (TurnstileConfig, error)
}

// Static is a Provider over a fixed snapshot.
type Static TurnstileConfig

func (s Static) Current() (TurnstileConfig, error) {
	return TurnstileConfig(s), nil
}

// Normalize fills defaults for blank fields.
func Normalize(c TurnstileConfig) TurnstileConfig {
	c.SiteKey = strings.TrimSpace(c.SiteKey)
	c.Secret = strings.TrimSpace(c.Secret)
	if c.Theme = strings.ToLower(strings.TrimSpace(c.Theme)); c.Theme == "" {
		c.Theme = DefaultTheme
	}
	if c.Language = strings.TrimSpace(c.Language); c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.FailedMessage = strings.TrimSpace(c.FailedMessage); c.FailedMessage == "" {
		c.FailedMessage = DefaultFailedMessage
	}
	return c
}

type rawIntegration struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	Disabled       string `json:"disabled,omitempty"`
	SubmitSelector string `json:"submit_selector,omitempty" validate:"max=200"`
}

type rawSettings struct {
	SiteKey               string                    `json:"site_key"`
	SecretKey             string                    `json:"secret_key"`
	Theme                 string                    `json:"theme" validate:"omitempty,oneof=light dark auto"`
	Language              string                    `json:"language" validate:"omitempty,max=16"`
	ErrorMessage          string                    `json:"error_message"`
	DisableButton         bool                      `json:"disable_button"`
	Compliance            bool                      `json:"compliance"`
	ComplianceMessageHTML string                    `json:"compliance_message_html"`
	Integrations          map[string]rawIntegration `json:"integrations" validate:"dive"`
}

var validate = validator.New()

// SecretSource resolves the secret reference stored in the settings file.
// A reference with no value must be reported as config.ErrNotFound; any
// other error means the backend could not answer.
type SecretSource interface {
	Get(key string) (string, error)
}

// ErrSecretUnavailable wraps secret lookups that failed for a reason other
// than the secret not existing.
var ErrSecretUnavailable = errors.New("turnstile secret unavailable")

// DefaultSecretRefresh is how long a loaded snapshot is trusted before the
// secret is resolved again, so rotated secrets are picked up.
const DefaultSecretRefresh = 5 * time.Minute

// Store loads settings from a JSON file and reloads them when the file
// changes or the secret refresh interval elapses.
type Store struct {
	path    string
	secrets SecretSource
	log     logrus.FieldLogger
	refresh time.Duration
	now     func() time.Time

	mu       sync.Mutex
	current  *TurnstileConfig
	modTime  time.Time
	loadedAt time.Time
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithSecretRefresh sets how often the secret is re-resolved while the file
// is unchanged. Zero or less only reloads on file changes.
func WithSecretRefresh(d time.Duration) StoreOption {
	return func(s *Store) {
		s.refresh = d
	}
}

func NewStore(path string, secrets SecretSource, log logrus.FieldLogger, opts ...StoreOption) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Store{
		path:    path,
		secrets: secrets,
		log:     log,
		refresh: DefaultSecretRefresh,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Current returns the latest settings. When the secret backend fails, the
// previous snapshot keeps serving and nothing new is cached, so the next call
// retries the lookup. With no previous snapshot the failure is returned.
func (s *Store) Current() (TurnstileConfig, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return TurnstileConfig{}, fmt.Errorf("could not stat turnstile settings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && info.ModTime().Equal(s.modTime) && !s.stale() {
		return *s.current, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return TurnstileConfig{}, fmt.Errorf("could not open turnstile settings: %w", err)
	}

	cfg, err := s.parse(data)
	if errors.Is(err, ErrSecretUnavailable) && s.current != nil {
		s.log.WithError(err).Warn("serving previous turnstile settings until the secret resolves")
		return *s.current, nil
	}
	if err != nil {
		return TurnstileConfig{}, err
	}

	s.current = &cfg
	s.modTime = info.ModTime()
	s.loadedAt = s.now()
	s.log.WithFields(logrus.Fields{
		"path":       s.path,
		"configured": cfg.Configured(),
	}).Info("turnstile settings loaded")
	return cfg, nil
}

func (s *Store) stale() bool {
	return s.refresh > 0 && s.now().Sub(s.loadedAt) >= s.refresh
}

func (s *Store) parse(data []byte) (TurnstileConfig, error) {
	var raw rawSettings
	if err := json.Unmarshal(data, &raw); err != nil {
		return TurnstileConfig{}, fmt.Errorf("could not parse turnstile settings: %w", err)
	}
	if err := validate.Struct(raw); err != nil {
		return TurnstileConfig{}, fmt.Errorf("invalid turnstile settings: %w", err)
	}

	cfg := TurnstileConfig{
		SiteKey:               raw.SiteKey,
		Theme:                 raw.Theme,
		Language:              raw.Language,
		FailedMessage:         raw.ErrorMessage,
		DisableButton:         raw.DisableButton,
		Compliance:            raw.Compliance,
		ComplianceMessageHTML: raw.ComplianceMessageHTML,
		integrations:          make(map[string]Integration, len(raw.Integrations)),
	}

	if ref := strings.TrimSpace(raw.SecretKey); ref != "" && s.secrets != nil {
		secret, err := s.secrets.Get(ref)
		switch {
		case errors.Is(err, config.ErrNotFound):
			// A secret that does not exist leaves the feature unconfigured.
			s.log.WithError(err).WithField("secret_key", ref).Warn("turnstile secret not set")
		case err != nil:
			return TurnstileConfig{}, fmt.Errorf("%w: %s: %w", ErrSecretUnavailable, ref, err)
		default:
			cfg.Secret = secret
		}
	}

	for name, in := range raw.Integrations {
		if strings.TrimSpace(name) == "" {
			return TurnstileConfig{}, fmt.Errorf("turnstile integration name cannot be empty")
		}
		enabled := true
		if in.Enabled != nil {
			enabled = *in.Enabled
		}
		cfg.integrations[name] = Integration{
			Enabled:        enabled,
			Disabled:       in.Disabled,
			SubmitSelector: strings.TrimSpace(in.SubmitSelector),
		}
	}

	return Normalize(cfg), nil
}
