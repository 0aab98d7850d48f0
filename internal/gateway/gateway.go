package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"deepwiki-proxy/internal/config"
)

// UpstreamError is the normalized failure shape for every proxied call.
// Status carries the upstream HTTP status verbatim, except for network-level
// failures (no response at all) which surface as 503.
type UpstreamError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %d: %s", e.Status, e.Message)
}

// Unreachable wraps a transport-level failure as a 503. This distinguishes
// "upstream reachable but rejected" from "upstream unreachable".
func Unreachable(err error) *UpstreamError {
	return &UpstreamError{
		Status:  http.StatusServiceUnavailable,
		Message: fmt.Sprintf("Failed to connect to backend: %v", err),
	}
}

// Gateway builds outbound requests to the upstream analysis service. It holds
// no per-request state; the session token travels with each Forward call.
type Gateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// New constructs a gateway from process configuration. The zero-timeout
// client is intentional: streamed responses stay open far longer than any
// sensible request timeout, and cancellation flows through the context.
func New(cfg config.Config) *Gateway {
	return &Gateway{
		baseURL: strings.TrimSuffix(cfg.ServerBaseURL, "/"),
		apiKey:  cfg.FrontendAPIKey,
		client:  &http.Client{},
	}
}

// ForwardSpec describes one outbound upstream call.
type ForwardSpec struct {
	Method string
	Path   string
	Query  string
	Body   io.Reader
	// Header entries are applied after the Content-Type default and may
	// override it (e.g. Accept: text/event-stream). Credentials are applied
	// last and always win.
	Header http.Header
	// BearerToken is the per-user session token, empty when the caller is
	// unauthenticated. Absence is not an error; upstream decides.
	BearerToken string
}

// Forward issues the upstream call and returns the raw response handle. The
// body is never read or buffered here, which lets JSON and streaming callers
// share one gateway. A nil response always comes with a non-nil error.
func (g *Gateway) Forward(ctx context.Context, spec ForwardSpec) (*http.Response, error) {
	url := g.baseURL + spec.Path
	if spec.Query != "" {
		url += "?" + spec.Query
	}

	req, err := http.NewRequestWithContext(ctx, spec.Method, url, spec.Body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, values := range spec.Header {
		req.Header.Del(key)
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	// Credential injection happens last so caller-supplied headers can never
	// override it.
	if spec.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+spec.BearerToken)
	}
	if g.apiKey != "" {
		req.Header.Set("X-API-Key", g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, Unreachable(err)
	}
	return resp, nil
}

// DecodeError normalizes a non-2xx upstream response into an UpstreamError.
// It drains and closes the body. Parse order: JSON {"error": ...}, JSON
// {"detail": ...}, raw text, then a synthesized "<METHOD> failed" message.
func DecodeError(resp *http.Response) *UpstreamError {
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	msg := ""
	if readErr == nil && len(raw) > 0 {
		var body struct {
			Error  string `json:"error"`
			Detail string `json:"detail"`
		}
		if err := json.Unmarshal(raw, &body); err == nil {
			switch {
			case body.Error != "":
				msg = body.Error
			case body.Detail != "":
				msg = body.Detail
			}
		}
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
	}
	if msg == "" {
		method := "request"
		if resp.Request != nil {
			method = resp.Request.Method
		}
		msg = fmt.Sprintf("%s failed: %s", method, http.StatusText(resp.StatusCode))
	}
	return &UpstreamError{Status: resp.StatusCode, Message: msg}
}
