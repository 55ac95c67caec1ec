package verifier

// ErrorCode is an error code reported by siteverify. Codes outside the known
// set are kept verbatim and map to the fallback message.
type ErrorCode string

const (
	ErrorNone               ErrorCode = ""
	ErrMissingInputSecret   ErrorCode = "missing-input-secret"
	ErrInvalidInputSecret   ErrorCode = "invalid-input-secret"
	ErrMissingInputResponse ErrorCode = "missing-input-response"
	ErrInvalidInputResponse ErrorCode = "invalid-input-response"
	ErrBadRequest           ErrorCode = "bad-request"
	ErrTimeoutOrDuplicate   ErrorCode = "timeout-or-duplicate"
	ErrInternalError        ErrorCode = "internal-error"
	ErrUnknown              ErrorCode = "unknown"
)

const unknownMessage = "There was an error with Turnstile response. Please check your keys are correct."

var messages = map[ErrorCode]string{
	ErrMissingInputSecret:   "The secret parameter was not passed.",
	ErrInvalidInputSecret:   "The secret parameter was invalid or did not exist.",
	ErrMissingInputResponse: "The response parameter was not passed.",
	ErrInvalidInputResponse: "The response parameter is invalid or has expired.",
	ErrBadRequest:           "The request was rejected because it was malformed.",
	ErrTimeoutOrDuplicate:   "The response parameter has already been validated before.",
	ErrInternalError:        "An internal error happened while validating the response. The request can be retried.",
}

// Known reports whether the code is one of the documented siteverify codes.
func (c ErrorCode) Known() bool {
	_, ok := messages[c]
	return ok
}

// Message returns the human-readable text for the code.
func (c ErrorCode) Message() string {
	if msg, ok := messages[c]; ok {
		return msg
	}
	return unknownMessage
}

func (c ErrorCode) String() string {
	return string(c)
}
