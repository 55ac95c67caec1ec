package verifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// DefaultEndpoint is Cloudflare's siteverify URL.
	DefaultEndpoint = "https://challenges.cloudflare.com/turnstile/v0/siteverify"
	// DefaultTimeout bounds a single siteverify round-trip.
	DefaultTimeout = 5 * time.Second

	maxResponseBytes = 64 << 10
)

// Turnstile calls the siteverify endpoint. It holds no per-token state, so a
// single value can be shared between goroutines.
type Turnstile struct {
	Endpoint string
	Client   *http.Client

	timeout time.Duration
}

// Option customizes a Turnstile client.
type Option func(*Turnstile)

// WithEndpoint points the client at a different siteverify URL.
func WithEndpoint(endpoint string) Option {
	return func(t *Turnstile) {
		if endpoint != "" {
			t.Endpoint = endpoint
		}
	}
}

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(client *http.Client) Option {
	return func(t *Turnstile) {
		if client != nil {
			t.Client = client
		}
	}
}

// WithTimeout sets the client timeout. A client passed with WithHTTPClient
// is copied, never modified.
func WithTimeout(timeout time.Duration) Option {
	return func(t *Turnstile) {
		if timeout > 0 {
			t.timeout = timeout
		}
	}
}

func NewTurnstile(opts ...Option) *Turnstile {
	t := &Turnstile{
		Endpoint: DefaultEndpoint,
		Client: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.timeout > 0 {
		client := *t.Client
		client.Timeout = t.timeout
		t.Client = &client
	}
	return t
}

type siteverifyResponse struct {
	Success     *bool    `json:"success"`
	ErrorCodes  []string `json:"error-codes"`
	ChallengeTS string   `json:"challenge_ts"`
	Hostname    string   `json:"hostname"`
	Action      string   `json:"action"`
	CData       string   `json:"cdata"`
}

// Verify performs exactly one siteverify round-trip. Missing keys short-circuit
// before any network activity.
func (t *Turnstile) Verify(ctx context.Context, in Request) Result {
	if in.SiteKey == "" || in.Secret == "" {
		return Result{Outcome: OutcomeConfigError}
	}

	form := url.Values{}
	form.Set("secret", in.Secret)
	form.Set("response", in.Token)
	if in.RemoteIP != "" {
		form.Set("remoteip", in.RemoteIP)
	}
	if in.IdempotencyKey != "" {
		form.Set("idempotency_key", in.IdempotencyKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return failure(ErrInternalError, OutcomeTransportError)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.Client.Do(req)
	if err != nil {
		return failure(ErrInternalError, OutcomeTransportError)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return failure(ErrInternalError, OutcomeTransportError)
	}
	return decode(body)
}

func decode(body []byte) Result {
	var raw siteverifyResponse
	if err := json.Unmarshal(body, &raw); err != nil || raw.Success == nil {
		return failure(ErrBadRequest, OutcomeProtocolError)
	}

	res := Result{
		Success:     *raw.Success,
		ErrorCodes:  raw.ErrorCodes,
		Hostname:    raw.Hostname,
		ChallengeTS: raw.ChallengeTS,
		Action:      raw.Action,
		CData:       raw.CData,
	}
	if res.Success {
		res.Outcome = OutcomeVerified
		return res
	}

	// First code wins when siteverify reports several.
	res.Outcome = OutcomeFailed
	res.ErrorCode = ErrUnknown
	if len(raw.ErrorCodes) > 0 && raw.ErrorCodes[0] != "" {
		res.ErrorCode = ErrorCode(raw.ErrorCodes[0])
	}
	return res
}

func failure(code ErrorCode, outcome Outcome) Result {
	return Result{
		Success:    false,
		Outcome:    outcome,
		ErrorCode:  code,
		ErrorCodes: []string{string(code)},
	}
}
