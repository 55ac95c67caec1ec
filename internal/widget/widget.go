// Package widget builds the markup for a Turnstile challenge widget.
//
// Rendering is pure string construction: no network access, no global state.
// Per-page bookkeeping (which scripts were already emitted) lives in a Page
// value owned by the caller for the lifetime of one response.
package widget

import (
	"net/http"
	"strings"
)

const (
	// ScriptURL is the Turnstile client script. The onload callback name is
	// part of the client contract.
	ScriptURL = "https://challenges.cloudflare.com/turnstile/v0/api.js?onload=onloadTurnstileCallback"
	// TokenField is the form field the client writes the solved token to.
	TokenField = "cf-turnstile-response"
	// IDPrefix prefixes every widget container id.
	IDPrefix = "cf-turnstile"

	// ConsentCookie carries the visitor's consent in compliance mode.
	ConsentCookie = "cfturnstile_compliance"
	// ConsentGrantedValue is the cookie value that unlocks the script.
	ConsentGrantedValue = "granted"

	maxActionLen = 32
	retryMillis  = 1000
)

// Theme is the widget color scheme.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
	ThemeAuto  Theme = "auto"
)

// ParseTheme maps free text to a Theme, defaulting to auto.
func ParseTheme(s string) Theme {
	switch Theme(strings.ToLower(strings.TrimSpace(s))) {
	case ThemeLight:
		return ThemeLight
	case ThemeDark:
		return ThemeDark
	default:
		return ThemeAuto
	}
}

// ConsentState says whether the challenge script may be loaded.
type ConsentState int

const (
	// ConsentNotRequired means compliance mode is off.
	ConsentNotRequired ConsentState = iota
	// ConsentPending means compliance mode is on and the visitor has not agreed yet.
	ConsentPending
	// ConsentGranted means compliance mode is on and the visitor agreed.
	ConsentGranted
)

// AllowsScript reports whether api.js may be emitted.
func (c ConsentState) AllowsScript() bool {
	return c != ConsentPending
}

// ConsentFromRequest derives the consent state from the compliance flag and
// the consent cookie.
func ConsentFromRequest(r *http.Request, compliance bool) ConsentState {
	if !compliance {
		return ConsentNotRequired
	}
	if c, err := r.Cookie(ConsentCookie); err == nil && c.Value == ConsentGrantedValue {
		return ConsentGranted
	}
	return ConsentPending
}

// WidgetConfig describes one widget instance. Build a new value per render.
type WidgetConfig struct {
	SiteKey  string
	Theme    Theme
	Language string
	// Action identifies the form; siteverify echoes it back.
	Action string
	// DOMID is appended to IDPrefix. A random suffix is generated when empty.
	DOMID string
	// SuppressSubmitUntilSolved disables SubmitSelector until the challenge
	// callback fires.
	SuppressSubmitUntilSolved bool
	SubmitSelector            string
	// Callback names the client-side function run when the challenge is solved.
	Callback string
	// ConsentMessage replaces the renderer's consent text. It is trusted HTML
	// coming from site settings.
	ConsentMessage string
}

// ContainerID returns the sanitized element id for cfg.
func (cfg WidgetConfig) ContainerID() string {
	return IDPrefix + sanitizeID(cfg.DOMID)
}
