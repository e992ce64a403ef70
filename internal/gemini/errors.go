package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Provider failures fall into a small taxonomy that drives credential
// failover: quota exhaustion and server faults are worth retrying on another
// key, client faults are not, and an empty result is a distinct condition
// (the call "succeeded" but returned nothing usable).

// QuotaError means the credential hit a rate or quota limit.
type QuotaError struct {
	Code    int
	Message string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exhausted (code %d): %s", e.Code, e.Message)
}

// ServerError means the provider itself failed (5xx or equivalent).
type ServerError struct {
	Code    int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("provider server error (code %d): %s", e.Code, e.Message)
}

// ClientError means the request itself was rejected: bad key, malformed
// input, safety block. Another credential will not help.
type ClientError struct {
	Code    int
	Message string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("provider rejected request (code %d): %s", e.Code, e.Message)
}

// TimeoutError means the call exceeded its deadline. Treated like a server
// fault for failover purposes.
type TimeoutError struct {
	Message string
}

func (e *TimeoutError) Error() string {
	return "provider call timed out: " + e.Message
}

// ErrEmptyResult is returned when a generation call completes without any
// image payload in the response.
var ErrEmptyResult = errors.New("provider returned no image data")

// Classify maps a raw SDK or transport error into the taxonomy. Errors
// already in the taxonomy pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var q *QuotaError
	var s *ServerError
	var c *ClientError
	var t *TimeoutError
	if errors.As(err, &q) || errors.As(err, &s) || errors.As(err, &c) || errors.As(err, &t) {
		return err
	}

	if errors.Is(err, ErrEmptyResult) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Message: err.Error()}
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429 || apiErr.Status == "RESOURCE_EXHAUSTED":
			return &QuotaError{Code: apiErr.Code, Message: apiErr.Message}
		case apiErr.Code >= 500:
			return &ServerError{Code: apiErr.Code, Message: apiErr.Message}
		default:
			return &ClientError{Code: apiErr.Code, Message: apiErr.Message}
		}
	}

	// Some transports surface quota exhaustion only in the message text.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "resource_exhausted"), strings.Contains(msg, "quota"):
		return &QuotaError{Code: 429, Message: err.Error()}
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timeout"):
		return &TimeoutError{Message: err.Error()}
	}
	return &ServerError{Code: 0, Message: err.Error()}
}

// Retryable reports whether failing over to the next credential could
// plausibly succeed.
func Retryable(err error) bool {
	switch Classify(err).(type) {
	case *QuotaError, *ServerError, *TimeoutError:
		return true
	default:
		return false
	}
}
