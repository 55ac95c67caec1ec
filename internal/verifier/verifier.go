package verifier

import "context"

// Outcome classifies how a verification call ended.
type Outcome string

const (
	// OutcomeVerified means siteverify accepted the token.
	OutcomeVerified Outcome = "verified"
	// OutcomeFailed means siteverify answered success=false.
	OutcomeFailed Outcome = "failed"
	// OutcomeConfigError means the site key or secret was empty and no call was made.
	OutcomeConfigError Outcome = "config_error"
	// OutcomeTransportError means the request never produced a response body.
	OutcomeTransportError Outcome = "transport_error"
	// OutcomeProtocolError means the response body could not be understood.
	OutcomeProtocolError Outcome = "protocol_error"
)

// Request carries the inputs of a single siteverify call. It is not reused.
type Request struct {
	SiteKey        string
	Secret         string
	Token          string
	RemoteIP       string
	IdempotencyKey string
}

// Result is the classified response of one siteverify call.
// A successful result never carries an error code.
type Result struct {
	Success    bool
	Outcome    Outcome
	ErrorCode  ErrorCode
	ErrorCodes []string

	Hostname    string
	ChallengeTS string
	Action      string
	CData       string
}

// Configured reports whether the call was attempted at all.
func (r Result) Configured() bool {
	return r.Outcome != OutcomeConfigError
}

// Message returns the fixed diagnostic message for the result's error code,
// or an empty string for verified and unconfigured results.
func (r Result) Message() string {
	if r.Success || r.Outcome == OutcomeConfigError {
		return ""
	}
	return r.ErrorCode.Message()
}

// Verifier is implemented by siteverify clients.
type Verifier interface {
	Verify(ctx context.Context, req Request) Result
}
