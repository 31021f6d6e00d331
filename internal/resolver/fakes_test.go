package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/florianilch/ticketbridge/internal/atlassian"
	"github.com/florianilch/ticketbridge/internal/cache"
	"github.com/florianilch/ticketbridge/internal/fields"
	"github.com/florianilch/ticketbridge/internal/tokenstore"
)

const testPrincipal = "system"

var testNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

// memStore is an in-memory CredentialStore that counts writes.
type memStore struct {
	mu       sync.Mutex
	creds    map[string]tokenstore.Credential
	puts     int
	readOnly bool
}

func newMemStore(creds ...tokenstore.Credential) *memStore {
	s := &memStore{creds: map[string]tokenstore.Credential{}}
	for _, c := range creds {
		s.creds[c.PrincipalID] = c
	}
	return s
}

func (s *memStore) Get(_ context.Context, principal string) (tokenstore.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[principal]
	if !ok {
		return tokenstore.Credential{}, tokenstore.ErrNotFound
	}
	return c, nil
}

func (s *memStore) Put(_ context.Context, cred tokenstore.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly {
		return tokenstore.ErrReadOnly
	}
	s.puts++
	s.creds[cred.PrincipalID] = cred
	return nil
}

// fakeTokens is a Refresher returning a fixed result.
type fakeTokens struct {
	calls     int
	refreshed tokenstore.Credential
	err       error

	// onRefresh is called before returning, to observe ordering.
	onRefresh func()
}

func (f *fakeTokens) Refresh(_ context.Context, cred tokenstore.Credential) (tokenstore.Credential, error) {
	f.calls++
	if f.onRefresh != nil {
		f.onRefresh()
	}
	if f.err != nil {
		return tokenstore.Credential{}, f.err
	}
	out := f.refreshed
	out.PrincipalID = cred.PrincipalID
	if out.RefreshToken == "" {
		out.RefreshToken = cred.RefreshToken
	}
	return out, nil
}

// fakeAPI records every remote call with the token it was given.
type fakeAPI struct {
	mu        sync.Mutex
	calls     []string
	tokens    []string
	resources []atlassian.Resource
	resErr    error
	issues    map[string]*atlassian.Issue
	updateErr error
	getErr    error
	updated   map[string]fields.FieldMap
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		issues:  map[string]*atlassian.Issue{},
		updated: map[string]fields.FieldMap{},
	}
}

func (f *fakeAPI) record(call, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	f.tokens = append(f.tokens, token)
}

func (f *fakeAPI) AccessibleResources(_ context.Context, token string) ([]atlassian.Resource, error) {
	f.record("resources", token)
	if f.resErr != nil {
		return nil, f.resErr
	}
	return f.resources, nil
}

func (f *fakeAPI) GetIssue(_ context.Context, token, cloudID, key string) (*atlassian.Issue, error) {
	f.record(fmt.Sprintf("get %s/%s", cloudID, key), token)
	if f.getErr != nil {
		return nil, f.getErr
	}
	issue, ok := f.issues[key]
	if !ok {
		return nil, &atlassian.APIError{Method: "GET", StatusCode: 404, Body: `{"errorMessages":["Issue does not exist or you do not have permission to see it."]}`}
	}
	return issue, nil
}

func (f *fakeAPI) SearchIssues(_ context.Context, token, cloudID, jql string, _ int) ([]atlassian.Issue, error) {
	f.record(fmt.Sprintf("search %s %s", cloudID, jql), token)
	var out []atlassian.Issue
	for _, issue := range f.issues {
		out = append(out, *issue)
	}
	return out, nil
}

func (f *fakeAPI) UpdateIssue(_ context.Context, token, cloudID, key string, fieldMap fields.FieldMap) error {
	f.record(fmt.Sprintf("update %s/%s", cloudID, key), token)
	if f.updateErr != nil {
		return f.updateErr
	}
	f.mu.Lock()
	f.updated[key] = fieldMap.Clone()
	f.mu.Unlock()
	return nil
}

// memCache is an in-memory SnapshotCache.
type memCache struct {
	mu      sync.Mutex
	entries map[string]fields.Snapshot
}

func newMemCache(entries map[string]fields.Snapshot) *memCache {
	if entries == nil {
		entries = map[string]fields.Snapshot{}
	}
	return &memCache{entries: entries}
}

func (c *memCache) Get(_ context.Context, key string) (fields.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[key]
	if !ok {
		return fields.Snapshot{}, cache.ErrMiss
	}
	return s, nil
}

func (c *memCache) Put(_ context.Context, key string, snap fields.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = snap
	return nil
}

// fakeChannel is a ToolChannel with a fixed availability.
type fakeChannel struct {
	available bool
	probes    int
	updateErr error
	updated   map[string]fields.FieldMap
}

func (c *fakeChannel) Available(context.Context) bool {
	c.probes++
	return c.available
}

func (c *fakeChannel) GetIssue(_ context.Context, key string) (fields.Snapshot, error) {
	return fields.Snapshot{Key: key, Summary: "via tool channel"}, nil
}

func (c *fakeChannel) UpdateIssue(_ context.Context, key string, fieldMap fields.FieldMap) error {
	if c.updateErr != nil {
		return c.updateErr
	}
	if c.updated == nil {
		c.updated = map[string]fields.FieldMap{}
	}
	c.updated[key] = fieldMap
	return nil
}

var errNetwork = errors.New("dial tcp: connection refused")

func liveCredential() tokenstore.Credential {
	return tokenstore.Credential{
		PrincipalID:  testPrincipal,
		AccessToken:  "live-token",
		RefreshToken: "refresh-1",
		ExpiresAt:    testNow.Add(time.Hour),
	}
}

func expiredCredential() tokenstore.Credential {
	return tokenstore.Credential{
		PrincipalID:  testPrincipal,
		AccessToken:  "stale-token",
		RefreshToken: "refresh-1",
		ExpiresAt:    testNow,
	}
}

// serverResolver builds the server-side resolver used by most tests.
func serverResolver(store *memStore, tokens *fakeTokens, api *fakeAPI, c *memCache) *Resolver {
	oauth := NewOAuthStrategy(testPrincipal, store, tokens, api,
		WithTenant("cloud-1", ""),
		WithClock(func() time.Time { return testNow }),
	)
	return New([]Strategy{NewCacheStrategy(c), oauth}, WithSnapshotCache(c))
}
