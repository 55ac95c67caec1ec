package widget

import (
	"bytes"
	"html/template"
	"io"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	assetScript     = "turnstile-api"
	assetConsentBox = "turnstile-consent"
)

// Renderer produces widget markup. It is safe for concurrent use; all
// per-response state lives in the Page passed to Render.
type Renderer struct {
	hooks          []Hook
	consentMessage template.HTML
	scriptURL      string
	log            logrus.FieldLogger
}

// Option customizes a Renderer.
type Option func(*Renderer)

// WithHooks registers extension hooks, called in registration order.
func WithHooks(hooks ...Hook) Option {
	return func(r *Renderer) {
		r.hooks = append(r.hooks, hooks...)
	}
}

// WithConsentMessage sets the trusted HTML shown next to the consent checkbox.
func WithConsentMessage(html string) Option {
	return func(r *Renderer) {
		r.consentMessage = template.HTML(html)
	}
}

// WithScriptURL overrides the client script location.
func WithScriptURL(u string) Option {
	return func(r *Renderer) {
		if u != "" {
			r.scriptURL = u
		}
	}
}

// WithLogger sets the logger used for template failures.
func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Renderer) {
		if log != nil {
			r.log = log
		}
	}
}

func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{
		scriptURL: ScriptURL,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render writes, in order: before-render hooks, page scripts (once per page,
// gated on consent), the widget container, the optional submit lock, after-render
// hooks and the empty-container recovery script. An empty site key still
// renders; the widget simply shows Cloudflare's configuration error.
func (r *Renderer) Render(page *Page, cfg WidgetConfig, consent ConsentState) template.HTML {
	if page == nil {
		page = NewPage()
	}
	cfg = r.normalize(cfg)

	var buf bytes.Buffer
	for _, h := range r.hooks {
		if b, ok := h.(BeforeRenderer); ok {
			b.BeforeRender(&buf, cfg)
		}
	}

	r.enqueueScripts(&buf, page, cfg, consent)
	for _, h := range r.hooks {
		if s, ok := h.(ScriptEnqueuer); ok {
			s.EnqueueScripts(&buf, page, consent)
		}
	}

	data := widgetData{
		ID:            cfg.ContainerID(),
		Callback:      cfg.Callback,
		SiteKey:       cfg.SiteKey,
		Theme:         cfg.Theme,
		Language:      cfg.Language,
		RetryInterval: retryMillis,
		Action:        cfg.Action,
	}
	if cfg.SuppressSubmitUntilSolved && cfg.SubmitSelector != "" {
		data.SubmitSelector = template.CSS(cfg.SubmitSelector)
		data.SelectorText = cfg.SubmitSelector
	}
	r.exec(&buf, widgetTmpl, data)

	for _, h := range r.hooks {
		if a, ok := h.(AfterRenderer); ok {
			a.AfterRender(&buf, cfg)
		}
	}
	r.exec(&buf, rerenderTmpl, data)

	return template.HTML(buf.String())
}

var whitespace = regexp.MustCompile(`\s+`)

// Shortcode renders the widget collapsed onto a single line, for embedding
// in content where line breaks are significant.
func (r *Renderer) Shortcode(page *Page, cfg WidgetConfig, consent ConsentState) template.HTML {
	out := r.Render(page, cfg, consent)
	return template.HTML(strings.TrimSpace(whitespace.ReplaceAllString(string(out), " ")))
}

func (r *Renderer) normalize(cfg WidgetConfig) WidgetConfig {
	cfg.Theme = ParseTheme(string(cfg.Theme))
	cfg.Language = sanitizeLanguage(cfg.Language)
	cfg.Action = sanitizeAction(cfg.Action)
	cfg.DOMID = sanitizeID(cfg.DOMID)
	if cfg.DOMID == "" {
		cfg.DOMID = "-" + uuid.NewString()
	}
	cfg.SubmitSelector = sanitizeSelector(cfg.SubmitSelector)
	cfg.Callback = sanitizeCallback(cfg.Callback)
	if cfg.SuppressSubmitUntilSolved && cfg.SubmitSelector != "" && cfg.Callback == "" {
		cfg.Callback = "cfturnstileEnable" + strings.ReplaceAll(cfg.DOMID, "-", "_")
	}
	if !cfg.SuppressSubmitUntilSolved {
		cfg.Callback = ""
	}
	return cfg
}

func (r *Renderer) enqueueScripts(w io.Writer, page *Page, cfg WidgetConfig, consent ConsentState) {
	if consent != ConsentNotRequired && page.Enqueue(assetConsentBox) {
		msg := r.consentMessage
		if cfg.ConsentMessage != "" {
			msg = template.HTML(cfg.ConsentMessage)
		}
		r.exec(w, consentTmpl, consentData{
			Granted: consent == ConsentGranted,
			Message: msg,
			Cookie:  ConsentCookie,
			Value:   ConsentGrantedValue,
			Script:  r.scriptURL,
		})
	}
	if consent.AllowsScript() && page.Enqueue(assetScript) {
		r.exec(w, scriptTmpl, r.scriptURL)
	}
}

func (r *Renderer) exec(w io.Writer, t *template.Template, data interface{}) {
	if err := t.Execute(w, data); err != nil {
		r.log.WithError(err).WithField("template", t.Name()).Error("turnstile widget template failed")
	}
}
