package client

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// RetryPolicy bounds the fetch layer's retry behavior
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy matches the reference behavior: 3 attempts with
// exponentially increasing delays of 1s, 2s, ...
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
	}
}

// Fetcher is a low-level HTTP call wrapper with bounded
// exponential-backoff retry on transport failures.
//
// A response whose status signals success or client error is returned
// immediately without retry; a transport error or a server error triggers
// a retry after an exponentially increasing delay. After exhausting the
// budget, the last error is raised or the last response is returned.
// No side effects beyond the network call; no caching.
type Fetcher struct {
	httpClient *http.Client
	policy     RetryPolicy
}

// NewFetcher creates a fetcher over the given HTTP client.
// A nil client falls back to a default with a sane overall timeout.
func NewFetcher(httpClient *http.Client, policy RetryPolicy) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultRetryPolicy().BaseDelay
	}
	return &Fetcher{
		httpClient: httpClient,
		policy:     policy,
	}
}

// Do performs the request produced by build, retrying per the policy.
// build runs once per attempt so request bodies are fresh on every retry.
func (f *Fetcher) Do(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 1; attempt <= f.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			// 1s, 2s, 4s, ... from the base delay
			delay := f.policy.BaseDelay << (attempt - 2)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}

		resp, err := f.httpClient.Do(req.WithContext(ctx))
		if err != nil {
			lastErr = err
			continue
		}

		// Success and client errors short-circuit; only server errors retry
		if resp.StatusCode < http.StatusInternalServerError || attempt == f.policy.MaxAttempts {
			return resp, nil
		}

		_ = resp.Body.Close()
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", f.policy.MaxAttempts, lastErr)
}
