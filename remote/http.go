package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/margin/annotation"
	"github.com/hazyhaar/margin/safenet"
)

// DefaultEndpoint is used when the host does not override the API endpoint.
const DefaultEndpoint = "http://localhost:8085/api"

// HTTPAdapter talks to an annotation service over HTTP. The endpoint URL is
// validated at construction; responses are capped at
// safenet.MaxResponseBody.
type HTTPAdapter struct {
	endpoint string
	client   *http.Client
}

var _ Adapter = (*HTTPAdapter)(nil)

// HTTPOption customises an HTTPAdapter.
type HTTPOption func(*HTTPAdapter)

// WithTimeout sets the per-call timeout. Default: 30s.
func WithTimeout(d time.Duration) HTTPOption {
	return func(a *HTTPAdapter) { a.client.Timeout = d }
}

// WithHTTPClient replaces the underlying client entirely.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(a *HTTPAdapter) { a.client = c }
}

// NewHTTP creates an adapter for the service at endpoint. Empty endpoint
// falls back to DefaultEndpoint.
func NewHTTP(endpoint string, opts ...HTTPOption) (*HTTPAdapter, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if err := safenet.ValidateEndpoint(endpoint); err != nil {
		return nil, fmt.Errorf("remote: %w", err)
	}
	a := &HTTPAdapter{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// actionResult is the wire shape every mutating endpoint answers with.
type actionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (a *HTTPAdapter) FetchAnnotations(ctx context.Context, token string, includeAll bool) ([]annotation.Summary, error) {
	url := a.endpoint + "/annotations"
	if includeAll {
		url += "?include_all=true"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("remote: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: fetch annotations: %w", err)
	}
	defer resp.Body.Close()

	body, err := safenet.LimitedReadAll(resp.Body, safenet.MaxResponseBody)
	if err != nil {
		return nil, fmt.Errorf("remote: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("remote: %s", errorText(body, resp.StatusCode))
	}

	var out struct {
		Annotations []annotation.Summary `json:"annotations"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("remote: decode annotations: %w", err)
	}
	return out.Annotations, nil
}

func (a *HTTPAdapter) ApproveAnnotation(ctx context.Context, token, id string) error {
	return a.action(ctx, token, id, "approve", nil)
}

func (a *HTTPAdapter) RejectAnnotation(ctx context.Context, token, id, reason string) error {
	return a.action(ctx, token, id, "reject", map[string]string{"reason": reason})
}

func (a *HTTPAdapter) ReviseAnnotation(ctx context.Context, token, id, prompt string) error {
	return a.action(ctx, token, id, "revise", map[string]string{"prompt": prompt})
}

func (a *HTTPAdapter) CancelAnnotation(ctx context.Context, token, id, reason string) error {
	return a.action(ctx, token, id, "cancel", map[string]string{"reason": reason})
}

// ValidateToken asks the service who the token belongs to. Not part of the
// Adapter contract — hosts call it once at startup and hand the result to
// the controller config.
func (a *HTTPAdapter) ValidateToken(ctx context.Context, token string) (TokenValidation, error) {
	var tv TokenValidation
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/validate", nil)
	if err != nil {
		return tv, fmt.Errorf("remote: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		return tv, fmt.Errorf("remote: validate token: %w", err)
	}
	defer resp.Body.Close()

	body, err := safenet.LimitedReadAll(resp.Body, safenet.MaxResponseBody)
	if err != nil {
		return tv, fmt.Errorf("remote: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return tv, fmt.Errorf("remote: %s", errorText(body, resp.StatusCode))
	}
	if err := json.Unmarshal(body, &tv); err != nil {
		return tv, fmt.Errorf("remote: decode validation: %w", err)
	}
	return tv, nil
}

// action POSTs to /annotations/{id}/{verb} and maps the {success,error}
// response to an error value. The error text is the service's error field
// when present, so the controller can surface it verbatim.
func (a *HTTPAdapter) action(ctx context.Context, token, id, verb string, payload map[string]string) error {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return fmt.Errorf("remote: encode payload: %w", err)
		}
	}

	url := a.endpoint + "/annotations/" + id + "/" + verb
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return fmt.Errorf("remote: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s annotation: %w", verb, err)
	}
	defer resp.Body.Close()

	raw, err := safenet.LimitedReadAll(resp.Body, safenet.MaxResponseBody)
	if err != nil {
		return fmt.Errorf("remote: read response: %w", err)
	}

	var res actionResult
	if err := json.Unmarshal(raw, &res); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("remote: %s", errorText(raw, resp.StatusCode))
		}
		return fmt.Errorf("remote: decode %s response: %w", verb, err)
	}
	if !res.Success {
		if res.Error != "" {
			return fmt.Errorf("%s", res.Error)
		}
		return fmt.Errorf("remote: %s failed with status %d", verb, resp.StatusCode)
	}
	return nil
}

// errorText extracts the error field from a JSON error body, falling back
// to the raw body or the status code.
func errorText(body []byte, status int) string {
	var res actionResult
	if err := json.Unmarshal(body, &res); err == nil && res.Error != "" {
		return res.Error
	}
	if len(body) > 0 {
		return fmt.Sprintf("status %d: %s", status, strings.TrimSpace(string(body)))
	}
	return fmt.Sprintf("status %d", status)
}
