package atlassian

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/florianilch/ticketbridge/internal/failure"
	"github.com/florianilch/ticketbridge/internal/tokenstore"
)

// stateBytes is the amount of randomness in a generated state token.
const stateBytes = 32

// ManagerOption configures a Manager.
type ManagerOption func(*managerConfig)

type managerConfig struct {
	baseTransport http.RoundTripper
	scopes        []string
	audience      string
}

// WithTransport sets a custom base transport for token endpoint requests.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) ManagerOption {
	return func(c *managerConfig) {
		c.baseTransport = transport
	}
}

// WithScopes overrides the requested scopes.
func WithScopes(scopes ...string) ManagerOption {
	return func(c *managerConfig) {
		c.scopes = scopes
	}
}

// Manager performs the authorization-code exchange and refresh.
type Manager struct {
	config     *oauth2.Config
	audience   string
	httpClient *http.Client
}

// NewManager creates a Manager for a confidential client.
func NewManager(clientID, clientSecret, redirectURL string, endpoint oauth2.Endpoint, opts ...ManagerOption) (*Manager, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client id cannot be empty")
	}
	if redirectURL == "" {
		return nil, fmt.Errorf("redirect url cannot be empty")
	}

	cfg := &managerConfig{
		baseTransport: http.DefaultTransport,
		scopes:        Scopes,
		audience:      Audience,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Manager{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     endpoint,
			RedirectURL:  redirectURL,
			Scopes:       cfg.scopes,
		},
		audience: cfg.audience,
		// No client timeout: the caller's context bounds every token request.
		httpClient: &http.Client{
			Transport: &jsonTokenTransport{base: cfg.baseTransport},
		},
	}, nil
}

// AuthorizationURL returns the consent URL and the state bound into it.
// A random state is generated when state is empty. The caller is responsible
// for remembering and verifying it on callback.
func (m *Manager) AuthorizationURL(state string) (string, string, error) {
	if state == "" {
		buf := make([]byte, stateBytes)
		if _, err := rand.Read(buf); err != nil {
			return "", "", fmt.Errorf("generating state: %w", err)
		}
		state = hex.EncodeToString(buf)
	}

	authURL := m.config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("audience", m.audience),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
	return authURL, state, nil
}

// Exchange trades an authorization code for a credential. Codes are single
// use, so a failed exchange is never retried. The returned credential has no
// principal; the caller assigns it before storing.
func (m *Manager) Exchange(ctx context.Context, code string) (tokenstore.Credential, error) {
	if code == "" {
		return tokenstore.Credential{}, authTokenError("exchange", "authorization code cannot be empty")
	}

	tok, err := m.config.Exchange(m.clientContext(ctx), code)
	if err != nil {
		return tokenstore.Credential{}, newTokenError("exchange", err)
	}

	return credentialFromToken("", tok, "")
}

// Refresh obtains a new access token for cred. The refresh token is rotated
// only if the provider returns a new one. On failure the caller keeps cred.
func (m *Manager) Refresh(ctx context.Context, cred tokenstore.Credential) (tokenstore.Credential, error) {
	if cred.RefreshToken == "" {
		return tokenstore.Credential{}, authTokenError("refresh", "credential has no refresh token")
	}

	// A token without access token is never valid, so Token() always refreshes.
	ts := m.config.TokenSource(m.clientContext(ctx), &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := ts.Token()
	if err != nil {
		return tokenstore.Credential{}, newTokenError("refresh", err)
	}

	return credentialFromToken(cred.PrincipalID, tok, cred.RefreshToken)
}

// clientContext injects the JSON-encoding HTTP client per oauth2's documented API.
func (m *Manager) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

func credentialFromToken(principal string, tok *oauth2.Token, previousRefresh string) (tokenstore.Credential, error) {
	if tok.AccessToken == "" {
		return tokenstore.Credential{}, authTokenError("token", "provider response missing access_token")
	}
	if tok.Expiry.IsZero() {
		return tokenstore.Credential{}, authTokenError("token", "provider response missing expires_in")
	}

	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}

	return tokenstore.Credential{
		PrincipalID:  principal,
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    tok.Expiry,
	}, nil
}

// TokenError describes a failed token endpoint call. Payload holds the raw
// provider response body when the provider answered.
type TokenError struct {
	Op         string
	StatusCode int
	Code       string
	Payload    string
	Err        error

	class failure.Class
}

// Compile-time check to ensure TokenError implements failure.Classifier
var _ failure.Classifier = (*TokenError)(nil)

// newTokenError classifies a token endpoint failure. A provider answer is an
// auth failure unless it is a server-side or throttling status; no answer at
// all is a transport failure.
func newTokenError(op string, err error) *TokenError {
	te := &TokenError{Op: op, Err: err, class: failure.ClassTransport}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		te.Code = re.ErrorCode
		te.Payload = string(re.Body)
		if re.Response != nil {
			te.StatusCode = re.Response.StatusCode
		}
		if te.StatusCode != http.StatusTooManyRequests && te.StatusCode < 500 {
			te.class = failure.ClassAuth
		}
	}
	return te
}

// authTokenError reports a credential or response that cannot be used.
func authTokenError(op, msg string) *TokenError {
	return &TokenError{Op: op, Err: errors.New(msg), class: failure.ClassAuth}
}

func (e *TokenError) Error() string {
	if e.Payload != "" {
		return fmt.Sprintf("%s: token endpoint returned %d: %s", e.Op, e.StatusCode, e.Payload)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TokenError) Unwrap() error { return e.Err }

// FailureClass implements failure.Classifier.
func (e *TokenError) FailureClass() failure.Class { return e.class }
