package integration

import (
	"context"
	"html/template"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Severino/cloudflare-turnstile-comply/internal/widget"
)

// Form is the generic adapter: render the widget into a form, verify the
// posted token, honor the integration's disable list.
type Form struct {
	name           string
	action         string
	submitSelector string
	core           Core
	log            logrus.FieldLogger
}

// FormOption customizes a Form adapter.
type FormOption func(*Form)

// WithAction sets the widget action; defaults to the adapter name.
func WithAction(action string) FormOption {
	return func(f *Form) {
		f.action = action
	}
}

// WithSubmitSelector names the submit control locked until the challenge is solved.
func WithSubmitSelector(selector string) FormOption {
	return func(f *Form) {
		f.submitSelector = selector
	}
}

// WithLogger sets the adapter logger.
func WithLogger(log logrus.FieldLogger) FormOption {
	return func(f *Form) {
		if log != nil {
			f.log = log
		}
	}
}

func NewForm(name string, core Core, opts ...FormOption) *Form {
	f := &Form{
		name:   name,
		action: name,
		core:   core,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = f.log.WithField("integration", name)
	return f
}

func (f *Form) Name() string {
	return f.name
}

// Suppressed reports whether formID is on this integration's disable list.
func (f *Form) Suppressed(formID string) bool {
	cfg, err := f.core.Settings()
	if err != nil {
		return false
	}
	return cfg.Integration(f.name).Suppressed(formID)
}

// Render returns the widget markup for formID, or nothing when the feature is
// unconfigured, the integration is disabled, or the form is suppressed.
func (f *Form) Render(page *widget.Page, r *http.Request, formID string) template.HTML {
	cfg, err := f.core.Settings()
	if err != nil {
		f.log.WithError(err).Error("turnstile settings unavailable")
		return ""
	}
	in := cfg.Integration(f.name)
	if !cfg.Configured() || !in.Enabled || in.Suppressed(formID) {
		return ""
	}

	selector := f.submitSelector
	if in.SubmitSelector != "" {
		selector = in.SubmitSelector
	}
	return f.core.Widget(page, widget.WidgetConfig{
		Action:         f.action,
		DOMID:          "-" + f.name + "-" + formID,
		SubmitSelector: selector,
	}, widget.ConsentFromRequest(r, cfg.Compliance))
}

// Verify checks the token posted with r. Skipped checks accept the submission.
func (f *Form) Verify(ctx context.Context, r *http.Request, formID string) Decision {
	cfg, err := f.core.Settings()
	if err != nil {
		f.log.WithError(err).Error("turnstile settings unavailable")
		return Decision{Accept: true, Skipped: true}
	}
	in := cfg.Integration(f.name)
	if !cfg.Configured() || !in.Enabled || in.Suppressed(formID) {
		return Decision{Accept: true, Skipped: true}
	}

	token := r.PostFormValue(widget.TokenField)
	res := f.core.Check(ctx, token, remoteHost(r))
	if res.Success {
		return Decision{Accept: true, Result: res}
	}
	if !res.Configured() {
		return Decision{Accept: true, Skipped: true, Result: res}
	}

	f.log.WithFields(logrus.Fields{
		"form":    formID,
		"code":    res.ErrorCode,
		"outcome": res.Outcome,
	}).Info("turnstile rejected submission")
	return Decision{Accept: false, Message: cfg.FailedMessage, Result: res}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
