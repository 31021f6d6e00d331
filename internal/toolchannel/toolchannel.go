// Package toolchannel talks to a tool gateway that holds its own credential
// for the issue tracker, such as the tools injected into a browser session.
//
// Whether the gateway exists is probed once per process; the answer never
// changes afterwards.
package toolchannel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/florianilch/ticketbridge/internal/failure"
	"github.com/florianilch/ticketbridge/internal/fields"
)

// DefaultProbeTimeout bounds the capability probe.
const DefaultProbeTimeout = 2 * time.Second

// Option configures an HTTPChannel.
type Option func(*HTTPChannel)

// WithHTTPClient sets the client used for every gateway call.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPChannel) {
		c.httpClient = client
	}
}

// WithProbeTimeout overrides DefaultProbeTimeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *HTTPChannel) {
		c.probeTimeout = d
	}
}

// HTTPChannel calls a tool gateway over HTTP with the gateway's own bearer token.
type HTTPChannel struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	probeTimeout time.Duration

	available func() bool
}

// New creates an HTTPChannel for the gateway at baseURL. An empty baseURL
// yields a channel that is never available.
func New(baseURL, token string, opts ...Option) *HTTPChannel {
	c := &HTTPChannel{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		token:        token,
		httpClient:   http.DefaultClient,
		probeTimeout: DefaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.available = sync.OnceValue(c.probe)
	return c
}

// Available reports whether the gateway answered the capability probe.
// The probe runs on first use only.
func (c *HTTPChannel) Available(context.Context) bool {
	return c.available()
}

// probe asks the gateway for its health endpoint. The probe is not bound to
// any request context since its result is shared by the whole process.
func (c *HTTPChannel) probe() bool {
	if c.baseURL == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.probeTimeout)
	defer cancel()

	_, err := c.do(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		slog.InfoContext(ctx, "tool channel unavailable", "gateway", c.baseURL, "error", err)
		return false
	}
	slog.InfoContext(ctx, "tool channel available", "gateway", c.baseURL)
	return true
}

// GetIssue fetches the snapshot of key through the gateway.
func (c *HTTPChannel) GetIssue(ctx context.Context, key string) (fields.Snapshot, error) {
	body, err := c.do(ctx, http.MethodGet, c.issueURL(key), nil)
	if err != nil {
		return fields.Snapshot{}, fmt.Errorf("tool channel get %s: %w", key, err)
	}

	var snap fields.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return fields.Snapshot{}, fmt.Errorf("parse tool channel issue: %w", err)
	}
	if snap.Key == "" {
		snap.Key = key
	}
	return snap, nil
}

// UpdateIssue applies fieldMap to key through the gateway.
func (c *HTTPChannel) UpdateIssue(ctx context.Context, key string, fieldMap fields.FieldMap) error {
	data, err := json.Marshal(map[string]any{"fields": fieldMap})
	if err != nil {
		return fmt.Errorf("marshal tool channel update: %w", err)
	}
	if _, err := c.do(ctx, http.MethodPut, c.issueURL(key), data); err != nil {
		return fmt.Errorf("tool channel update %s: %w", key, err)
	}
	return nil
}

func (c *HTTPChannel) issueURL(key string) string {
	return c.baseURL + "/issues/" + url.PathEscape(key)
}

func (c *HTTPChannel) do(ctx context.Context, method, target string, body []byte) ([]byte, error) {
	if c.baseURL == "" {
		return nil, failure.New(failure.ClassChannelUnavailable, errors.New("tool gateway not configured"))
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, failure.New(failure.ClassTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failure.New(failure.ClassTransport, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &GatewayError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// GatewayError is a non-2xx answer from the tool gateway.
type GatewayError struct {
	StatusCode int
	Body       string
}

// Compile-time check to ensure GatewayError implements failure.Classifier
var _ failure.Classifier = (*GatewayError)(nil)

func (e *GatewayError) Error() string {
	return fmt.Sprintf("tool gateway returned %d: %s", e.StatusCode, e.Body)
}

// ProviderMessage returns the gateway's response body verbatim.
func (e *GatewayError) ProviderMessage() string { return e.Body }

// HTTPStatus returns the response status code.
func (e *GatewayError) HTTPStatus() int { return e.StatusCode }

// FailureClass implements failure.Classifier. A rejected gateway credential
// means the channel is unusable, not that the content is wrong.
func (e *GatewayError) FailureClass() failure.Class {
	if e.StatusCode == http.StatusUnauthorized {
		return failure.ClassChannelUnavailable
	}
	return failure.FromStatus(e.StatusCode)
}
