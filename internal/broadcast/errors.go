package broadcast

import (
	"errors"
	"fmt"
	"net/http"

	kit "castbot/internal/transport"
)

// Error kinds. Callers test with errors.Is; the concrete types below carry the details.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrValidation    = errors.New("validation error")
	ErrVerification  = errors.New("verification error")
	ErrProvider      = errors.New("provider error")
)

// Provider error classifications.
const (
	ClassBadRequest  = "Bad Request"
	ClassForbidden   = "Forbidden"
	ClassRateLimited = "Rate Limited"
	ClassUnavailable = "Service Unavailable"
	ClassProvider    = "Provider Error"
	ClassUnknown     = "Unknown"
)

// ProviderError is a send failure after the retry budget was exhausted.
// Code is zero when the provider response could not be parsed.
type ProviderError struct {
	Code           int
	Classification string
	Description    string
	Attempts       int
	Err            error
}

func (e *ProviderError) Error() string {
	switch e.Classification {
	case ClassUnknown:
		return "failed to broadcast: " + e.Description
	case ClassProvider:
		return fmt.Sprintf("%s %d: %s", e.Classification, e.Code, e.Description)
	default:
		return fmt.Sprintf("%s: %s (%d: %s)", e.Classification, classHint(e.Classification), e.Code, e.Description)
	}
}

func (e *ProviderError) Unwrap() []error { return []error{ErrProvider, e.Err} }

func classHint(class string) string {
	switch class {
	case ClassBadRequest:
		return "malformed message or destination"
	case ClassForbidden:
		return "bot lacks permission to post in the channel"
	case ClassRateLimited:
		return "too many requests"
	case ClassUnavailable:
		return "provider temporarily unavailable"
	}
	return ""
}

// classify maps the last send error onto a ProviderError.
func classify(err error, attempts int) *ProviderError {
	var apiErr *kit.APIError
	if !errors.As(err, &apiErr) || apiErr.Code == 0 {
		return &ProviderError{Classification: ClassUnknown, Description: err.Error(), Attempts: attempts, Err: err}
	}
	pe := &ProviderError{Code: apiErr.Code, Description: apiErr.Description, Attempts: attempts, Err: err}
	switch apiErr.Code {
	case http.StatusBadRequest:
		pe.Classification = ClassBadRequest
	case http.StatusForbidden:
		pe.Classification = ClassForbidden
	case http.StatusTooManyRequests:
		pe.Classification = ClassRateLimited
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		pe.Classification = ClassUnavailable
	default:
		pe.Classification = ClassProvider
	}
	return pe
}

// VerificationError reports why the bot cannot reach the configured channel.
type VerificationError struct {
	Code   int
	Reason string
	Err    error
}

func (e *VerificationError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("channel verification failed: %s (%d)", e.Reason, e.Code)
	}
	return "channel verification failed: " + e.Reason
}

func (e *VerificationError) Unwrap() []error { return []error{ErrVerification, e.Err} }

func verificationError(err error) *VerificationError {
	var apiErr *kit.APIError
	if !errors.As(err, &apiErr) {
		return &VerificationError{Reason: err.Error(), Err: err}
	}
	ve := &VerificationError{Code: apiErr.Code, Err: err}
	switch apiErr.Code {
	case http.StatusBadRequest:
		ve.Reason = "channel not found or bot is not a member"
	case http.StatusForbidden:
		ve.Reason = "bot lacks admin rights in the channel"
	default:
		ve.Reason = apiErr.Description
	}
	return ve
}

// Classification returns the provider classification of err, or "" if err is
// not a ProviderError.
func Classification(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Classification
	}
	return ""
}
