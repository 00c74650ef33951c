package assessment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"
)

// HTTPSink posts assessments as JSON to an external endpoint.
//
// Transient failures (network errors, 5xx, 429) are retried with
// exponential backoff and jitter. 4xx responses other than 429 are not
// retried; the payload will not become acceptable by resending it.
//
// Example usage:
//
//	sink := assessment.NewHTTPSink("https://records.example.com/api/assessments",
//	    assessment.WithAuthToken(token))
//	err := sink.SaveAssessment(ctx, a)
type HTTPSink struct {
	endpoint   string
	authToken  string
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// HTTPSinkOption configures an HTTPSink.
type HTTPSinkOption func(*HTTPSink)

// WithAuthToken sets a bearer token sent with every request.
func WithAuthToken(token string) HTTPSinkOption {
	return func(s *HTTPSink) {
		s.authToken = token
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) HTTPSinkOption {
	return func(s *HTTPSink) {
		s.client = client
	}
}

// WithRetry sets the retry budget. maxRetries is the number of attempts
// after the first; baseDelay seeds the exponential backoff.
func WithRetry(maxRetries int, baseDelay time.Duration) HTTPSinkOption {
	return func(s *HTTPSink) {
		s.maxRetries = maxRetries
		s.baseDelay = baseDelay
	}
}

// NewHTTPSink creates a sink posting to the given endpoint.
func NewHTTPSink(endpoint string, opts ...HTTPSinkOption) *HTTPSink {
	s := &HTTPSink{
		endpoint:   endpoint,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 2,
		baseDelay:  250 * time.Millisecond,
		maxDelay:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveAssessment implements the Sink interface.
func (s *HTTPSink) SaveAssessment(ctx context.Context, a Assessment) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("assessment: encode payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoffDelay(attempt-1, s.baseDelay, s.maxDelay)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		retryable, err := s.post(ctx, payload)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
	}

	return fmt.Errorf("assessment: save failed after %d attempts: %w", s.maxRetries+1, lastErr)
}

// post sends one request. The bool reports whether a failure is worth
// retrying.
func (s *HTTPSink) post(ctx context.Context, payload []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("assessment: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("assessment: post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("assessment: endpoint returned %d: %s", resp.StatusCode, string(body))

	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return retryable, err
}

// backoffDelay computes min(base * 2^attempt, maxDelay) plus jitter up to
// base, so concurrent sinks do not retry in lockstep.
func backoffDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	delay := base * (1 << attempt)
	if delay > maxDelay {
		delay = maxDelay
	}
	if base > 0 {
		delay += time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter for retry timing, not security
	}
	return delay
}
