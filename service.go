// Package turnstile embeds Cloudflare Turnstile widgets into HTML forms and
// verifies the submitted challenge tokens against siteverify.
package turnstile

import (
	"context"
	"html/template"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Severino/cloudflare-turnstile-comply/internal/integration"
	"github.com/Severino/cloudflare-turnstile-comply/internal/policy"
	"github.com/Severino/cloudflare-turnstile-comply/internal/verifier"
	"github.com/Severino/cloudflare-turnstile-comply/internal/widget"
)

// TokenField is the form field carrying the solved challenge token.
const TokenField = widget.TokenField

type (
	VerificationResult = verifier.Result
	ErrorCode          = verifier.ErrorCode
	Outcome            = verifier.Outcome
	TurnstileConfig    = policy.TurnstileConfig
	WidgetConfig       = widget.WidgetConfig
	ConsentState       = widget.ConsentState
	Page               = widget.Page
	Adapter            = integration.Adapter
	Decision           = integration.Decision
	FormOption         = integration.FormOption
	Verifier           = verifier.Verifier
	VerifierRequest    = verifier.Request
	Renderer           = widget.Renderer
	RendererOption     = widget.Option
	Hook               = widget.Hook
	HookFuncs          = widget.HookFuncs
)

// Service ties a settings provider to the verifier and renderer. A single
// Service is shared by every request; it keeps no per-request state.
type Service struct {
	settings policy.Provider
	verifier verifier.Verifier
	renderer *widget.Renderer
	log      logrus.FieldLogger
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithVerifier replaces the siteverify client.
func WithVerifier(v Verifier) ServiceOption {
	return func(s *Service) {
		if v != nil {
			s.verifier = v
		}
	}
}

// WithEndpoint points the default siteverify client at endpoint, with an
// optional request timeout.
func WithEndpoint(endpoint string, timeout time.Duration) ServiceOption {
	return func(s *Service) {
		s.verifier = verifier.NewTurnstile(verifier.WithEndpoint(endpoint), verifier.WithTimeout(timeout))
	}
}

// WithRenderer replaces the widget renderer.
func WithRenderer(r *Renderer) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.renderer = r
		}
	}
}

// WithServiceLogger sets the logger used for verification diagnostics.
func WithServiceLogger(log logrus.FieldLogger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService builds a Service reading settings from provider on every call,
// so file-backed providers pick up edits without a restart.
func NewService(provider policy.Provider, opts ...ServiceOption) *Service {
	s := &Service{
		settings: provider,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.verifier == nil {
		s.verifier = verifier.NewTurnstile()
	}
	if s.renderer == nil {
		s.renderer = widget.NewRenderer(widget.WithLogger(s.log))
	}
	return s
}

// NewStaticService builds a Service over a fixed configuration.
func NewStaticService(cfg TurnstileConfig, opts ...ServiceOption) *Service {
	return NewService(policy.Static(policy.Normalize(cfg)), opts...)
}

// Settings returns the current configuration snapshot.
func (s *Service) Settings() (TurnstileConfig, error) {
	return s.settings.Current()
}

// VerifyToken checks token against explicit keys. Empty keys short-circuit
// with a configuration-error result and no network call.
func (s *Service) VerifyToken(ctx context.Context, token, siteKey, secret string) VerificationResult {
	res := s.verifier.Verify(ctx, verifier.Request{SiteKey: siteKey, Secret: secret, Token: token})
	s.logResult(res)
	return res
}

// Check verifies token with the configured keys.
func (s *Service) Check(ctx context.Context, token, remoteIP string) VerificationResult {
	cfg, err := s.settings.Current()
	if err != nil {
		s.log.WithError(err).Error("turnstile settings unavailable")
		return VerificationResult{Outcome: verifier.OutcomeConfigError}
	}
	res := s.verifier.Verify(ctx, verifier.Request{
		SiteKey:  cfg.SiteKey,
		Secret:   cfg.Secret,
		Token:    token,
		RemoteIP: remoteIP,
	})
	s.logResult(res)
	return res
}

// FailedMessage is the text shown to visitors whenever a check fails.
func (s *Service) FailedMessage() string {
	cfg, err := s.settings.Current()
	if err != nil || cfg.FailedMessage == "" {
		return policy.DefaultFailedMessage
	}
	return cfg.FailedMessage
}

// ErrorMessage returns the fixed diagnostic text for code.
func (s *Service) ErrorMessage(code ErrorCode) string {
	return code.Message()
}

// Widget renders cfg using the stored site key, theme, language, consent
// text and submit-lock setting. Per-call fields (action, DOM id, selector) come from cfg.
func (s *Service) Widget(page *Page, cfg WidgetConfig, consent ConsentState) template.HTML {
	settings, err := s.settings.Current()
	if err != nil {
		s.log.WithError(err).Error("turnstile settings unavailable")
	}
	cfg.SiteKey = settings.SiteKey
	cfg.Theme = widget.ParseTheme(settings.Theme)
	cfg.Language = settings.Language
	cfg.SuppressSubmitUntilSolved = settings.DisableButton
	cfg.ConsentMessage = settings.ComplianceMessageHTML
	return s.renderer.Render(page, cfg, consent)
}

// Consent derives the visitor's consent state for r.
func (s *Service) Consent(r *http.Request) ConsentState {
	cfg, err := s.settings.Current()
	if err != nil {
		return widget.ConsentNotRequired
	}
	return widget.ConsentFromRequest(r, cfg.Compliance)
}

func (s *Service) logResult(res VerificationResult) {
	entry := s.log.WithField("outcome", res.Outcome)
	switch res.Outcome {
	case verifier.OutcomeVerified:
		entry.WithField("hostname", res.Hostname).Debug("turnstile token verified")
	case verifier.OutcomeConfigError:
		entry.Debug("turnstile not configured, check skipped")
	default:
		entry.WithFields(logrus.Fields{
			"code":    res.ErrorCode,
			"message": res.Message(),
		}).Warn("turnstile check failed")
	}
}

// ShouldSuppressWidget reports whether contextID appears in the
// comma-separated suppression list. Whitespace in the list is ignored.
func ShouldSuppressWidget(contextID, suppressionList string) bool {
	return policy.ShouldSuppress(contextID, suppressionList)
}

// ErrorMessage returns the fixed diagnostic text for code.
func ErrorMessage(code ErrorCode) string {
	return code.Message()
}

var defaultRenderer = widget.NewRenderer()

// Render builds widget markup for cfg on a page of its own.
func Render(cfg WidgetConfig) template.HTML {
	return defaultRenderer.Render(widget.NewPage(), cfg, widget.ConsentNotRequired)
}

// NewPage starts the per-response asset bookkeeping for a page with several widgets.
func NewPage() *Page {
	return widget.NewPage()
}

// NewRegistry returns an empty integration registry.
func NewRegistry() *integration.Registry {
	return integration.NewRegistry()
}

// NewFormAdapter builds the generic form adapter named name on top of s.
func (s *Service) NewFormAdapter(name string, opts ...FormOption) Adapter {
	opts = append([]FormOption{integration.WithLogger(s.log)}, opts...)
	return integration.NewForm(name, s, opts...)
}

// WithFormAction sets the action a form adapter reports to siteverify.
func WithFormAction(action string) FormOption {
	return integration.WithAction(action)
}

// WithFormSubmitSelector names the submit control locked until the challenge
// is solved. Per-integration settings override it.
func WithFormSubmitSelector(selector string) FormOption {
	return integration.WithSubmitSelector(selector)
}

// NewRenderer builds a widget renderer for use with WithRenderer.
func NewRenderer(opts ...RendererOption) *Renderer {
	return widget.NewRenderer(opts...)
}

// WithRenderHooks registers render extension hooks.
func WithRenderHooks(hooks ...Hook) RendererOption {
	return widget.WithHooks(hooks...)
}

// WithConsentMessage sets the default consent text shown in compliance mode.
func WithConsentMessage(html string) RendererOption {
	return widget.WithConsentMessage(html)
}
