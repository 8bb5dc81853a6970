package sink

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxErrorBodySize = 1024

// StatusError denotes an unexpected HTTP response of a sink endpoint
type StatusError struct {
	StatusCode int
	Body       string
}

// Error fulfils the error interface
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// NewHTTPClient instantiates an HTTP client for sink requests
func NewHTTPClient(timeout time.Duration, insecureSkipVerify bool) *http.Client {
	client := &http.Client{Timeout: timeout}
	if insecureSkipVerify {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true, // #nosec G402
		}
		client.Transport = transport
	}
	return client
}

// Request denotes a JSON request against a sink endpoint
type Request struct {
	Method  string
	URL     string
	Header  http.Header
	Payload interface{}

	// Accept decides if a status code denotes success (default: any 2xx)
	Accept func(code int) bool
}

// SendJSON performs a JSON request, returning a *StatusError if the response
// status is not accepted
func SendJSON(ctx context.Context, client *http.Client, r Request) ([]byte, error) {

	body, err := json.Marshal(r.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range r.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	accept := r.Accept
	if accept == nil {
		accept = IsSuccess
	}
	if !accept(resp.StatusCode) {
		if len(respBody) > maxErrorBodySize {
			respBody = respBody[:maxErrorBodySize]
		}
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       string(bytes.TrimSpace(respBody)),
		}
	}

	return respBody, nil
}

// IsSuccess accepts any 2xx status code
func IsSuccess(code int) bool {
	return code >= 200 && code < 300
}

// StatusIs accepts exactly the provided status code
func StatusIs(expected int) func(code int) bool {
	return func(code int) bool {
		return code == expected
	}
}
