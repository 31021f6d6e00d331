package atlassian

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/florianilch/ticketbridge/internal/failure"
	"github.com/florianilch/ticketbridge/internal/fields"
)

// Client calls the Atlassian REST APIs with a caller-supplied access token.
// It never stores tokens and makes exactly one attempt per call.
type Client struct {
	APIBaseURL string
	HTTPClient *http.Client
}

// NewClient creates a Client. A nil httpClient uses http.DefaultClient, leaving
// the caller's context as the only bound on each call.
func NewClient(apiBaseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		APIBaseURL: strings.TrimSuffix(apiBaseURL, "/"),
		HTTPClient: httpClient,
	}
}

// AccessibleResources lists the sites the token is authorized for.
func (c *Client) AccessibleResources(ctx context.Context, accessToken string) ([]Resource, error) {
	body, err := c.doRequest(ctx, accessToken, http.MethodGet, c.APIBaseURL+"/oauth/token/accessible-resources", nil)
	if err != nil {
		return nil, fmt.Errorf("list accessible resources: %w", err)
	}

	var resources []Resource
	if err := json.Unmarshal(body, &resources); err != nil {
		return nil, fmt.Errorf("parse accessible resources: %w", err)
	}
	return resources, nil
}

// GetIssue fetches a single issue by key (e.g., "PROJ-123").
func (c *Client) GetIssue(ctx context.Context, accessToken, cloudID, key string) (*Issue, error) {
	apiURL := fmt.Sprintf("%s/issue/%s?fields=%s", c.restBase(cloudID), url.PathEscape(key), fields.FetchParam())

	body, err := c.doRequest(ctx, accessToken, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("get issue %s: %w", key, err)
	}

	var issue Issue
	if err := json.Unmarshal(body, &issue); err != nil {
		return nil, fmt.Errorf("parse issue response: %w", err)
	}
	return &issue, nil
}

// SearchIssues runs a JQL query and returns at most maxResults issues.
func (c *Client) SearchIssues(ctx context.Context, accessToken, cloudID, jql string, maxResults int) ([]Issue, error) {
	params := url.Values{
		"jql":        {jql},
		"maxResults": {strconv.Itoa(maxResults)},
		"fields":     {fields.FetchParam()},
	}
	apiURL := fmt.Sprintf("%s/search?%s", c.restBase(cloudID), params.Encode())

	body, err := c.doRequest(ctx, accessToken, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("search issues: %w", err)
	}

	var result SearchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}
	return result.Issues, nil
}

// UpdateIssue writes fieldMap to the issue identified by key.
func (c *Client) UpdateIssue(ctx context.Context, accessToken, cloudID, key string, fieldMap fields.FieldMap) error {
	data, err := json.Marshal(map[string]any{"fields": fieldMap})
	if err != nil {
		return fmt.Errorf("marshal update request: %w", err)
	}

	apiURL := fmt.Sprintf("%s/issue/%s", c.restBase(cloudID), url.PathEscape(key))

	if _, err := c.doRequest(ctx, accessToken, http.MethodPut, apiURL, data); err != nil {
		return fmt.Errorf("update issue %s: %w", key, err)
	}
	return nil
}

func (c *Client) restBase(cloudID string) string {
	return fmt.Sprintf("%s/ex/%s/%s/rest/api/3", c.APIBaseURL, Product, url.PathEscape(cloudID))
}

// doRequest executes a bearer-authenticated request and returns the response body.
func (c *Client) doRequest(ctx context.Context, accessToken, method, apiURL string, body []byte) ([]byte, error) {
	if accessToken == "" {
		return nil, failure.New(failure.ClassAuth, errors.New("access token not provided"))
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, failure.New(failure.ClassTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failure.New(failure.ClassTransport, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(method, resp.StatusCode, respBody)
	}

	// PUT returns 204 No Content on success
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	return respBody, nil
}

// APIError is a non-2xx answer from the REST API. Body is kept verbatim.
type APIError struct {
	Method     string
	StatusCode int
	Body       string
	Messages   []string
	Errors     map[string]string
}

// Compile-time check to ensure APIError implements failure.Classifier
var _ failure.Classifier = (*APIError)(nil)

func newAPIError(method string, status int, body []byte) *APIError {
	e := &APIError{Method: method, StatusCode: status, Body: string(body)}

	var payload struct {
		ErrorMessages []string          `json:"errorMessages"`
		Errors        map[string]string `json:"errors"`
	}
	if json.Unmarshal(body, &payload) == nil {
		e.Messages = payload.ErrorMessages
		e.Errors = payload.Errors
	}
	return e
}

func (e *APIError) Error() string {
	return fmt.Sprintf("jira API returned %d: %s", e.StatusCode, e.Body)
}

// ProviderMessage returns the response body as the provider sent it.
func (e *APIError) ProviderMessage() string {
	if e.Body == "" {
		return http.StatusText(e.StatusCode)
	}
	return e.Body
}

// HTTPStatus returns the response status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// FailureClass implements failure.Classifier.
func (e *APIError) FailureClass() failure.Class {
	return failure.FromStatus(e.StatusCode)
}
