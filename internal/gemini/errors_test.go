package gemini

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/genai"
)

func TestClassifyAPIErrors(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		wantType  string
		retryable bool
	}{
		{"rate limit", genai.APIError{Code: 429, Message: "slow down"}, "quota", true},
		{"quota status", genai.APIError{Code: 400, Status: "RESOURCE_EXHAUSTED"}, "quota", true},
		{"server fault", genai.APIError{Code: 503, Message: "unavailable"}, "server", true},
		{"bad key", genai.APIError{Code: 401, Message: "invalid key"}, "client", false},
		{"bad request", genai.APIError{Code: 400, Message: "malformed"}, "client", false},
		{"quota in text", errors.New("googleapi: quota exceeded for project"), "quota", true},
		{"deadline", context.DeadlineExceeded, "timeout", true},
		{"timeout in text", errors.New("net/http: request timeout"), "timeout", true},
		{"opaque transport", errors.New("connection reset by peer"), "server", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.err)
			var typ string
			switch got.(type) {
			case *QuotaError:
				typ = "quota"
			case *ServerError:
				typ = "server"
			case *ClientError:
				typ = "client"
			case *TimeoutError:
				typ = "timeout"
			default:
				typ = fmt.Sprintf("%T", got)
			}
			if typ != tc.wantType {
				t.Errorf("Classify(%v)=%s, want %s", tc.err, typ, tc.wantType)
			}
			if r := Retryable(tc.err); r != tc.retryable {
				t.Errorf("Retryable(%v)=%t, want %t", tc.err, r, tc.retryable)
			}
		})
	}
}

func TestClassifyWrappedAPIError(t *testing.T) {
	err := fmt.Errorf("generate: %w", genai.APIError{Code: 429})
	if _, ok := Classify(err).(*QuotaError); !ok {
		t.Errorf("wrapped API error lost its class: %v", Classify(err))
	}
}

func TestClassifyIsStableOnTaxonomyErrors(t *testing.T) {
	in := &QuotaError{Code: 429, Message: "x"}
	if got := Classify(in); got != in {
		t.Errorf("re-classification changed the error: %v", got)
	}
}

func TestEmptyResultIsFatal(t *testing.T) {
	if Retryable(ErrEmptyResult) {
		t.Error("an empty result must not trigger credential rotation")
	}
	if got := Classify(ErrEmptyResult); !errors.Is(got, ErrEmptyResult) {
		t.Errorf("empty result must pass through, got %v", got)
	}
}

func TestWrappedEmptyResultIsFatal(t *testing.T) {
	err := fmt.Errorf("completion from gemini-2.5-flash: %w", ErrEmptyResult)
	if Retryable(err) {
		t.Error("an empty completion must not trigger credential rotation")
	}
	if got := Classify(err); !errors.Is(got, ErrEmptyResult) {
		t.Errorf("wrapped empty result must pass through, got %v", got)
	}
}

func TestNilError(t *testing.T) {
	if Classify(nil) != nil {
		t.Error("nil must classify to nil")
	}
	if Retryable(nil) {
		t.Error("nil is not retryable")
	}
}
