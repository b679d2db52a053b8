// Package llm implements LLM provider adapters for the agent loop.
//
// Adapters shape the conversation into each provider's wire format
// over a shared Transport. The transport is synchronous JSON over
// HTTP(S); retry policy belongs to the caller (the chat loop), never
// to the adapter or transport.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrUnsupportedScheme indicates a URL scheme outside http/https.
// This is a build or configuration defect, never an ordinary network
// failure, so it is deliberately not a *TransportError.
var ErrUnsupportedScheme = errors.New("unsupported URL scheme (want http or https)")

// TransportError wraps network-level failures (DNS, TLS, timeout,
// non-2xx status). The chat loop retries these.
type TransportError struct {
	// URL is the request target.
	URL string

	// StatusCode is set for HTTP-level failures, 0 otherwise.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport: %s returned status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport: %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry this failure.
// Client errors other than 408/429 are not retryable.
func (e *TransportError) Retryable() bool {
	if e.StatusCode == 0 {
		return true // network-level: DNS, timeout, connection reset
	}
	switch {
	case e.StatusCode == http.StatusRequestTimeout,
		e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// Transport performs synchronous JSON POST requests.
//
// Implementations must support both http:// and https:// targets.
type Transport interface {
	// PostJSON marshals body, POSTs it to url with the given headers,
	// and returns the raw response body.
	PostJSON(ctx context.Context, url string, headers map[string]string, body any) ([]byte, error)
}

// HTTPTransport is the production Transport over net/http.
//
// Thread Safety: HTTPTransport is safe for concurrent use.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates a transport with the given per-request
// timeout. A zero timeout means no transport-level timeout (the
// caller's context still applies).
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		client: &http.Client{Timeout: timeout},
	}
}

// PostJSON implements Transport.
//
// Description:
//
//	Marshals body as JSON and POSTs it. A non-2xx status is returned
//	as a *TransportError carrying the status code and response text.
//	A non-http(s) scheme fails with ErrUnsupportedScheme before any
//	network activity.
func (t *HTTPTransport) PostJSON(ctx context.Context, target string, headers map[string]string, body any) ([]byte, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, target)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{URL: target, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: target, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{
			URL:        target,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", truncate(string(data), 300)),
		}
	}

	return data, nil
}

// truncate shortens s to maxLen chars for log and error text.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
