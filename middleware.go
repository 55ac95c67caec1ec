package turnstile

import (
	"bytes"
	"context"
	"encoding/json"
	"html/template"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Severino/cloudflare-turnstile-comply/internal/verifier"
)

const (
	verifyTimeout = 6 * time.Second
	maxJSONBody   = 1 << 20
)

// Rejection is handed to a FailureHandler. Message is the configured failed
// message; the granular code stays in Result for diagnostics.
type Rejection struct {
	Success bool               `json:"success"`
	Status  string             `json:"status"`
	Message string             `json:"message"`
	Result  VerificationResult `json:"-"`
}

type FailureHandler func(http.ResponseWriter, *http.Request, Rejection)

type middlewareConfig struct {
	failureHandler FailureHandler
	limiter        *ipLimiter
	forwardedFor   bool
	strictAction   bool
	log            logrus.FieldLogger
}

type MiddlewareOption func(*middlewareConfig)

func WithFailureHandler(handler FailureHandler) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if handler != nil {
			cfg.failureHandler = handler
		}
	}
}

// WithRateLimit limits verification attempts per client IP.
func WithRateLimit(limit rate.Limit, burst int) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.limiter = newIPLimiter(limit, burst)
	}
}

// WithForwardedFor trusts X-Forwarded-For / X-Real-IP for the client address.
// Only enable behind a proxy that overwrites these headers, and leave it off
// when a handler such as gorilla's ProxyHeaders already rewrote RemoteAddr.
func WithForwardedFor() MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.forwardedFor = true
	}
}

// WithStrictAction rejects verified tokens whose action differs from the
// middleware's action.
func WithStrictAction() MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.strictAction = true
	}
}

func WithMiddlewareLogger(log logrus.FieldLogger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if log != nil {
			cfg.log = log
		}
	}
}

// Middleware rejects requests whose Turnstile token does not verify. When the
// service has no keys configured, requests pass through unchecked.
func Middleware(svc *Service, action string, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{
		failureHandler: JSONFailureHandler(http.StatusBadRequest),
		log:            svc.log,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	log := cfg.log.WithField("action", action)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			settings, err := svc.Settings()
			if err != nil || !settings.Configured() {
				next.ServeHTTP(w, r)
				return
			}

			ip := clientIP(r, cfg.forwardedFor)
			if cfg.limiter != nil && !cfg.limiter.allow(ip) {
				log.WithField("ip", ip).Warn("turnstile verification rate limited")
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}

			token := extractToken(r)
			if token == "" {
				cfg.failureHandler(w, r, Rejection{
					Status:  "token_missing",
					Message: svc.FailedMessage(),
					Result: VerificationResult{
						Outcome:   verifier.OutcomeFailed,
						ErrorCode: verifier.ErrMissingInputResponse,
					},
				})
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), verifyTimeout)
			defer cancel()

			result := svc.Check(ctx, token, ip)
			if result.Success && cfg.strictAction && action != "" && result.Action != action {
				log.WithField("got", result.Action).Warn("turnstile action mismatch")
				cfg.failureHandler(w, r, Rejection{
					Status:  "action_mismatch",
					Message: svc.FailedMessage(),
					Result:  result,
				})
				return
			}
			if result.Success || !result.Configured() {
				next.ServeHTTP(w, r)
				return
			}
			cfg.failureHandler(w, r, Rejection{
				Status:  string(result.Outcome),
				Message: svc.FailedMessage(),
				Result:  result,
			})
		})
	}
}

func JSONFailureHandler(status int) FailureHandler {
	return func(w http.ResponseWriter, _ *http.Request, rej Rejection) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(rej)
	}
}

var failurePage = template.Must(template.New("failure").Parse(
	`<!DOCTYPE html><html><head><meta charset="utf-8"><title>Verification failed</title></head><body><p class="cf-turnstile-error">{{.Message}}</p><p><a href="javascript:history.back()">Back</a></p></body></html>`))

// HTMLFailureHandler answers with a minimal page showing the failed message.
func HTMLFailureHandler(status int) FailureHandler {
	return func(w http.ResponseWriter, _ *http.Request, rej Rejection) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_ = failurePage.Execute(w, rej)
	}
}

func extractToken(r *http.Request) string {
	if t := r.Header.Get("X-Turnstile-Token"); t != "" {
		return t
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return jsonToken(r)
	}
	if err := r.ParseForm(); err == nil {
		if t := r.FormValue(TokenField); t != "" {
			return t
		}
		if t := r.FormValue("token"); t != "" {
			return t
		}
	}
	return ""
}

// jsonToken reads the token from a JSON body and restores the body for the
// next handler.
func jsonToken(r *http.Request) string {
	if r.Body == nil {
		return ""
	}
	b, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
	if err != nil {
		return ""
	}
	r.Body = io.NopCloser(bytes.NewReader(b))

	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return ""
	}
	for _, key := range []string{TokenField, "token"} {
		if v, ok := m[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func clientIP(r *http.Request, forwarded bool) string {
	if forwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			return strings.TrimSpace(strings.Split(xff, ",")[0])
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return xri
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type ipLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// maxTrackedIPs bounds the limiter table; it is reset when full.
const maxTrackedIPs = 10000

func newIPLimiter(limit rate.Limit, burst int) *ipLimiter {
	return &ipLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[ip]
	if !ok {
		if len(l.limiters) >= maxTrackedIPs {
			l.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
