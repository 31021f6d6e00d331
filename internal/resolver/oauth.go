package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/florianilch/ticketbridge/internal/atlassian"
	"github.com/florianilch/ticketbridge/internal/failure"
	"github.com/florianilch/ticketbridge/internal/fields"
	"github.com/florianilch/ticketbridge/internal/tokenstore"
)

// Refresher obtains a fresh credential from a refresh token.
type Refresher interface {
	Refresh(ctx context.Context, cred tokenstore.Credential) (tokenstore.Credential, error)
}

// IssueAPI is the set of bearer-authenticated remote calls the OAuth path makes.
type IssueAPI interface {
	AccessibleResources(ctx context.Context, accessToken string) ([]atlassian.Resource, error)
	GetIssue(ctx context.Context, accessToken, cloudID, key string) (*atlassian.Issue, error)
	SearchIssues(ctx context.Context, accessToken, cloudID, jql string, maxResults int) ([]atlassian.Issue, error)
	UpdateIssue(ctx context.Context, accessToken, cloudID, key string, fieldMap fields.FieldMap) error
}

// Compile-time checks against the concrete Atlassian implementations
var (
	_ Refresher = (*atlassian.Manager)(nil)
	_ IssueAPI  = (*atlassian.Client)(nil)
)

// OAuthOption configures an OAuthStrategy.
type OAuthOption func(*OAuthStrategy)

// WithTenant pins the cloud id, or selects the site by URL during discovery.
// With neither set, the first accessible site is used.
func WithTenant(cloudID, siteURL string) OAuthOption {
	return func(s *OAuthStrategy) {
		s.cloudID = cloudID
		s.siteURL = strings.TrimSuffix(siteURL, "/")
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) OAuthOption {
	return func(s *OAuthStrategy) {
		s.now = now
	}
}

// OAuthStrategy resolves with the stored credential of a fixed principal,
// refreshing it first when it has expired.
type OAuthStrategy struct {
	principal string
	store     tokenstore.CredentialStore
	tokens    Refresher
	api       IssueAPI

	cloudID string
	siteURL string
	now     func() time.Time
}

// Compile-time checks to ensure OAuthStrategy implements Strategy and Searcher
var (
	_ Strategy = (*OAuthStrategy)(nil)
	_ Searcher = (*OAuthStrategy)(nil)
)

// NewOAuthStrategy creates the OAuth path for principal.
func NewOAuthStrategy(principal string, store tokenstore.CredentialStore, tokens Refresher, api IssueAPI, opts ...OAuthOption) *OAuthStrategy {
	s := &OAuthStrategy{
		principal: principal,
		store:     store,
		tokens:    tokens,
		api:       api,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *OAuthStrategy) Name() string { return "oauth" }

func (s *OAuthStrategy) TryRead(ctx context.Context, key string) (fields.Snapshot, error) {
	token, cloudID, err := s.session(ctx)
	if err != nil {
		return fields.Snapshot{}, err
	}

	issue, err := s.api.GetIssue(ctx, token, cloudID, key)
	if err != nil {
		return fields.Snapshot{}, err
	}
	return issue.Snapshot(), nil
}

func (s *OAuthStrategy) TryWrite(ctx context.Context, req UpdateRequest) error {
	token, cloudID, err := s.session(ctx)
	if err != nil {
		return err
	}
	return s.api.UpdateIssue(ctx, token, cloudID, req.TicketKey, req.FieldMap)
}

// Search runs jql with the stored credential.
func (s *OAuthStrategy) Search(ctx context.Context, jql string, maxResults int) ([]fields.Snapshot, error) {
	token, cloudID, err := s.session(ctx)
	if err != nil {
		return nil, err
	}

	issues, err := s.api.SearchIssues(ctx, token, cloudID, jql, maxResults)
	if err != nil {
		return nil, err
	}

	snaps := make([]fields.Snapshot, 0, len(issues))
	for i := range issues {
		snaps = append(snaps, issues[i].Snapshot())
	}
	return snaps, nil
}

// session returns a live access token and the tenant to address.
func (s *OAuthStrategy) session(ctx context.Context) (string, string, error) {
	cred, err := s.credential(ctx)
	if err != nil {
		return "", "", err
	}

	cloudID, err := s.tenant(ctx, cred.AccessToken)
	if err != nil {
		return "", "", err
	}
	return cred.AccessToken, cloudID, nil
}

// credential loads the principal's credential and refreshes it when expired.
// An expired credential is never returned.
func (s *OAuthStrategy) credential(ctx context.Context) (tokenstore.Credential, error) {
	cred, err := s.store.Get(ctx, s.principal)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return tokenstore.Credential{}, failure.New(failure.ClassAuth, fmt.Errorf("no credential stored for principal %q", s.principal))
	}
	if err != nil {
		if ctx.Err() != nil {
			return tokenstore.Credential{}, err
		}
		return tokenstore.Credential{}, failure.New(failure.ClassAuth, fmt.Errorf("loading credential: %w", err))
	}

	if !cred.Expired(s.now()) {
		return cred, nil
	}

	slog.DebugContext(ctx, "credential expired, refreshing", "principal", s.principal, "expires_at", cred.ExpiresAt)

	refreshed, err := s.tokens.Refresh(ctx, cred)
	if err != nil {
		return tokenstore.Credential{}, fmt.Errorf("refreshing expired credential: %w", err)
	}
	if refreshed.Expired(s.now()) {
		return tokenstore.Credential{}, failure.New(failure.ClassAuth, errors.New("refreshed credential is already expired"))
	}
	refreshed.PrincipalID = s.principal

	// Concurrent refreshes may overwrite each other; both results are valid.
	if err := s.store.Put(ctx, refreshed); err != nil {
		level := slog.LevelWarn
		if errors.Is(err, tokenstore.ErrReadOnly) {
			level = slog.LevelDebug
		}
		slog.Log(ctx, level, "refreshed credential not persisted", "principal", s.principal, "error", err)
	}
	return refreshed, nil
}

// tenant returns the configured cloud id or discovers it from the token.
func (s *OAuthStrategy) tenant(ctx context.Context, accessToken string) (string, error) {
	if s.cloudID != "" {
		return s.cloudID, nil
	}

	// Discovery carries no ticket content, so any refusal is about the
	// credential. Only transport failures keep their class.
	resources, err := s.api.AccessibleResources(ctx, accessToken)
	if err != nil {
		if failure.Classify(err) == failure.ClassTransport {
			return "", err
		}
		return "", failure.New(failure.ClassAuth, fmt.Errorf("discovering tenant: %w", err))
	}

	for _, r := range resources {
		if s.siteURL == "" || strings.EqualFold(strings.TrimSuffix(r.URL, "/"), s.siteURL) {
			return r.ID, nil
		}
	}

	if s.siteURL != "" {
		return "", failure.New(failure.ClassAuth, fmt.Errorf("credential not authorized for site %s", s.siteURL))
	}
	return "", failure.New(failure.ClassAuth, errors.New("credential not authorized for any site"))
}
