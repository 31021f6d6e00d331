package atlassian

import (
	"strings"

	"golang.org/x/oauth2"
)

const (
	// DefaultAuthBaseURL hosts the authorization and token endpoints.
	DefaultAuthBaseURL = "https://auth.atlassian.com"

	// DefaultAPIBaseURL hosts resource discovery and the product APIs.
	DefaultAPIBaseURL = "https://api.atlassian.com"

	// Audience is sent with every authorization request.
	Audience = "api.atlassian.com"

	// Product is the path segment addressing Jira under {apiBase}/ex/.
	Product = "jira"
)

// Scopes requested for the system principal. offline_access yields a refresh token.
var Scopes = []string{"read:jira-work", "write:jira-work", "read:jira-user", "offline_access"}

// Endpoint returns the OAuth2 endpoints below authBase.
func Endpoint(authBase string) oauth2.Endpoint {
	authBase = strings.TrimSuffix(authBase, "/")
	return oauth2.Endpoint{
		AuthURL:   authBase + "/authorize",
		TokenURL:  authBase + "/oauth/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}
