package atlassian

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// jsonTokenTransport converts oauth2's form-encoded token requests to the JSON
// format required by Atlassian's token endpoint.
// The oauth2 package guarantees this transport only receives token endpoint requests.
type jsonTokenTransport struct {
	base http.RoundTripper
}

// Compile-time check that jsonTokenTransport implements http.RoundTripper.
var _ http.RoundTripper = (*jsonTokenTransport)(nil)

// RoundTrip rewrites the form body as a JSON object and forwards the request.
func (t *jsonTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	if req.Body == nil {
		return base.RoundTrip(req)
	}

	// The original body is consumed here and replaced on the clone.
	defer func() { _ = req.Body.Close() }()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}

	formData, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parsing form data: %w", err)
	}

	jsonData := make(map[string]string, len(formData))
	for key, values := range formData {
		jsonData[key] = values[0] // RFC 6749 parameters are single-valued
	}

	jsonBody, err := json.Marshal(jsonData)
	if err != nil {
		return nil, fmt.Errorf("marshaling JSON request: %w", err)
	}

	newReq := req.Clone(req.Context())
	newReq.Body = io.NopCloser(bytes.NewReader(jsonBody))
	newReq.ContentLength = int64(len(jsonBody))
	newReq.Header.Set("Content-Type", "application/json")

	return base.RoundTrip(newReq)
}
