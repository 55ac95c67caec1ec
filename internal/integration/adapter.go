// Package integration holds the adapters that attach Turnstile to concrete
// forms. Every adapter exposes the same three capabilities (render, verify,
// suppress) on top of a shared Core, and the Core never learns which adapters
// exist.
package integration

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"sync"

	"github.com/Severino/cloudflare-turnstile-comply/internal/policy"
	"github.com/Severino/cloudflare-turnstile-comply/internal/verifier"
	"github.com/Severino/cloudflare-turnstile-comply/internal/widget"
)

// ErrDuplicateAdapter is returned when two adapters share a name.
var ErrDuplicateAdapter = errors.New("integration already registered")

// Core is what adapters need from the Turnstile service.
type Core interface {
	Settings() (policy.TurnstileConfig, error)
	Widget(page *widget.Page, cfg widget.WidgetConfig, consent widget.ConsentState) template.HTML
	Check(ctx context.Context, token, remoteIP string) verifier.Result
}

// Decision is the accept/reject verdict for one submission.
type Decision struct {
	Accept bool
	// Skipped is set when the check did not run: feature unconfigured,
	// integration disabled, or form suppressed.
	Skipped bool
	// Message is the end-user text for rejections.
	Message string
	Result  verifier.Result
}

// Adapter attaches Turnstile to one kind of form.
type Adapter interface {
	Name() string
	Render(page *widget.Page, r *http.Request, formID string) template.HTML
	Verify(ctx context.Context, r *http.Request, formID string) Decision
	Suppressed(formID string) bool
}

// Registry maps adapter names to adapters. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds a. Names must be unique.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[a.Name()]; ok {
		return fmt.Errorf("%s: %w", a.Name(), ErrDuplicateAdapter)
	}
	r.adapters[a.Name()] = a
	return nil
}

func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered adapter names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
