// Package failover rotates through an ordered credential pool, retrying
// provider calls on quota and server faults and aborting on everything else.
package failover

import (
	"context"
	"errors"
	"fmt"

	"flora/internal/config"
	"flora/internal/gemini"
	"flora/internal/logging"
)

// ErrNoCredentials means the pool is empty: no user key, no environment key,
// no fallbacks.
var ErrNoCredentials = errors.New("no API credentials configured")

// Pool is an ordered, deduplicated credential list. Order encodes trust: the
// user's own key first, then the ambient environment key, then fallbacks.
type Pool struct {
	keys []string
}

// NewPool builds a pool from the given keys in priority order, dropping
// empties and duplicates.
func NewPool(userKey, envKey string, fallbacks []string) *Pool {
	seen := make(map[string]bool)
	var keys []string
	add := func(k string) {
		if k == "" || seen[k] {
			return
		}
		seen[k] = true
		keys = append(keys, k)
	}
	add(userKey)
	add(envKey)
	for _, k := range fallbacks {
		add(k)
	}
	return &Pool{keys: keys}
}

// FromConfig assembles the pool from user configuration plus the process
// environment.
func FromConfig(cfg *config.UserConfig) *Pool {
	if cfg == nil {
		cfg = &config.UserConfig{}
	}
	return NewPool(cfg.GeminiAPIKey, config.EnvironmentAPIKey(), cfg.FallbackAPIKeys)
}

// Len returns the number of credentials.
func (p *Pool) Len() int { return len(p.keys) }

// Keys returns a copy of the credential order.
func (p *Pool) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Execute runs op with each credential in order until one succeeds. A
// retryable failure (quota, server fault, timeout) advances to the next
// credential; any other failure aborts immediately. When every credential has
// failed retryably, the last error is surfaced.
func Execute[T any](ctx context.Context, p *Pool, op func(ctx context.Context, key string) (T, error)) (T, error) {
	var zero T
	if p == nil || len(p.keys) == 0 {
		return zero, ErrNoCredentials
	}

	var lastErr error
	for i, key := range p.keys {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := op(ctx, key)
		if err == nil {
			if i > 0 {
				logging.Provider("credential %d/%d succeeded after rotation", i+1, len(p.keys))
			}
			return result, nil
		}

		classified := gemini.Classify(err)
		if !gemini.Retryable(classified) {
			logging.ProviderError("credential %d/%d failed fatally: %v", i+1, len(p.keys), classified)
			return zero, classified
		}
		logging.ProviderWarn("credential %d/%d exhausted, rotating: %v", i+1, len(p.keys), classified)
		lastErr = classified
	}

	return zero, fmt.Errorf("all %d credentials exhausted: %w", len(p.keys), lastErr)
}
