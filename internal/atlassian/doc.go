// Package atlassian provides OAuth 2.0 (3LO) credential acquisition and the
// bearer-authenticated Jira Cloud REST calls used to read and update issues.
//
// The Manager owns the authorization-code exchange and refresh. It holds
// configuration only: tokens are returned to the caller and never cached.
// Atlassian's token endpoint expects JSON-encoded bodies, so token requests
// pass through a transport that rewrites golang.org/x/oauth2's form encoding.
//
// The Client performs single-attempt REST calls with a caller-supplied access
// token against a tenant (cloud id) discovered via AccessibleResources:
//
//	resources, err := client.AccessibleResources(ctx, cred.AccessToken)
//	issue, err := client.GetIssue(ctx, cred.AccessToken, resources[0].ID, "PROJ-123")
//
// Errors carry a failure.Class so callers can tell a missing or rejected
// credential apart from a rejected request.
package atlassian
