package tool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPTool makes HTTP requests on behalf of an LLM.
//
// Input parameters:
//   - url: target URL (required)
//   - method: "GET" or "POST" (defaults to "GET")
//   - headers: optional map of request headers
//   - body: optional request body string (POST)
//
// Output:
//   - status_code: HTTP status code
//   - headers: response headers
//   - body: response body as a string, truncated at the configured limit
type HTTPTool struct {
	client    *http.Client
	maxBody   int64
	userAgent string
}

// HTTPOption configures an HTTPTool.
type HTTPOption func(*HTTPTool)

// WithHTTPClient substitutes the underlying client. Useful for tests and for
// callers that need custom transports or proxies.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTool) { t.client = c }
}

// WithMaxResponseBytes caps how much of the response body is read. The
// default is 1 MiB; LLM context windows make larger bodies useless anyway.
func WithMaxResponseBytes(n int64) HTTPOption {
	return func(t *HTTPTool) { t.maxBody = n }
}

// NewHTTPTool creates an HTTP tool. Timeouts come from the call context.
func NewHTTPTool(opts ...HTTPOption) *HTTPTool {
	t := &HTTPTool{
		client:    &http.Client{},
		maxBody:   1 << 20,
		userAgent: "stepflow-http-tool",
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Name implements Tool.
func (t *HTTPTool) Name() string { return "http_request" }

// Call implements Tool.
func (t *HTTPTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	urlStr, ok := input["url"].(string)
	if !ok || urlStr == "" {
		return nil, fmt.Errorf("url parameter required (string)")
	}

	method := http.MethodGet
	if m, ok := input["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if method != http.MethodGet && method != http.MethodPost {
		return nil, fmt.Errorf("unsupported HTTP method: %s (supported: GET, POST)", method)
	}

	var body io.Reader
	if bodyStr, ok := input["body"].(string); ok && bodyStr != "" {
		body = bytes.NewBufferString(bodyStr)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", t.userAgent)
	if headers, ok := input["headers"].(map[string]interface{}); ok {
		for key, value := range headers {
			if s, ok := value.(string); ok {
				req.Header.Set(key, s)
			}
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	respHeaders := make(map[string]interface{}, len(resp.Header))
	for key, values := range resp.Header {
		if len(values) == 1 {
			respHeaders[key] = values[0]
		} else {
			respHeaders[key] = values
		}
	}

	return map[string]interface{}{
		"status_code": resp.StatusCode,
		"headers":     respHeaders,
		"body":        string(respBody),
	}, nil
}
