package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxErrorBody caps how much of a failed response ends up in an error.
const maxErrorBody = 4 << 10

// StatusError is returned when a provider answers with a non-200 status.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Code, e.Body)
}

// endpoint is a JSON-over-HTTP provider shared by the clients that have no
// SDK: Ollama, Anthropic and CLIP.
type endpoint struct {
	provider string
	baseURL  string
	headers  http.Header
	client   *http.Client
	timeout  time.Duration
	breaker  *CircuitBreaker
}

func newEndpoint(provider, baseURL string, timeout time.Duration, headers http.Header) *endpoint {
	return &endpoint{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		headers:  headers,
		client:   &http.Client{Timeout: timeout},
		timeout:  timeout,
		breaker:  NewCircuitBreaker(provider),
	}
}

// postJSON sends in to path and decodes the reply into out.
func (e *endpoint) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", e.provider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", e.provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return e.do(req, out)
}

// get fetches path, decoding the reply into out when out is non-nil.
func (e *endpoint) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", e.provider, err)
	}
	return e.do(req, out)
}

func (e *endpoint) do(req *http.Request, out any) error {
	for key, values := range e.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", e.provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Provider: e.provider, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", e.provider, err)
	}
	return nil
}
