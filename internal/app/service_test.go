package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florianilch/ticketbridge/internal/failure"
	"github.com/florianilch/ticketbridge/internal/fields"
	"github.com/florianilch/ticketbridge/internal/resolver"
	"github.com/florianilch/ticketbridge/internal/tokenstore"
)

// scriptedStrategy returns the scripted errors in order, then succeeds.
type scriptedStrategy struct {
	mu     sync.Mutex
	errs   []error
	calls  int
	writes []resolver.UpdateRequest
}

func (s *scriptedStrategy) Name() string { return "scripted" }

func (s *scriptedStrategy) next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func (s *scriptedStrategy) TryRead(_ context.Context, key string) (fields.Snapshot, error) {
	if err := s.next(); err != nil {
		return fields.Snapshot{}, err
	}
	return fields.Snapshot{Key: key, Summary: "live"}, nil
}

func (s *scriptedStrategy) TryWrite(_ context.Context, req resolver.UpdateRequest) error {
	if err := s.next(); err != nil {
		return err
	}
	s.mu.Lock()
	s.writes = append(s.writes, req)
	s.mu.Unlock()
	return nil
}

func transportErr() error {
	return failure.New(failure.ClassTransport, errors.New("connection reset"))
}

func fastRetry(attempts uint) ServiceOption {
	return WithRetry(RetryConfig{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	})
}

func newTestService(s *scriptedStrategy, opts ...ServiceOption) *Service {
	res := resolver.New([]resolver.Strategy{s}, resolver.WithExhaustion(resolver.ExhaustBridge))
	return NewService(res, fields.NewMapping("customfield_10087", map[string]string{"team": "customfield_20001"}), opts...)
}

func TestServiceRetriesTransportFailures(t *testing.T) {
	s := &scriptedStrategy{errs: []error{transportErr(), transportErr()}}
	svc := newTestService(s, fastRetry(3))

	out := svc.Read(context.Background(), "PROJ-1")

	require.Equal(t, resolver.KindSuccess, out.Kind)
	assert.Equal(t, "live", out.Snapshot.Summary)
	assert.Equal(t, 3, s.calls)
}

func TestServiceRetryGivesUpAfterMaxAttempts(t *testing.T) {
	s := &scriptedStrategy{errs: []error{transportErr(), transportErr(), transportErr(), transportErr()}}
	svc := newTestService(s, fastRetry(2))

	out := svc.Write(context.Background(), resolver.UpdateRequest{
		TicketKey: "PROJ-1",
		FieldMap:  fields.FieldMap{"summary_short": "x"},
	}, "")

	require.Equal(t, resolver.KindRequiresRemoteBridge, out.Kind)
	require.NotNil(t, out.Bridge)
	assert.Equal(t, failure.ClassTransport, out.Bridge.Cause)
	assert.Equal(t, 2, s.calls)
}

func TestServiceDoesNotRetryOtherFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind resolver.Kind
	}{
		{"rejection", failure.New(failure.ClassRejection, errors.New("field not on screen")), resolver.KindFailure},
		{"auth", failure.New(failure.ClassAuth, errors.New("no credential")), resolver.KindRequiresRemoteBridge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &scriptedStrategy{errs: []error{tt.err, tt.err, tt.err}}
			svc := newTestService(s, fastRetry(3))

			out := svc.Write(context.Background(), resolver.UpdateRequest{
				TicketKey: "PROJ-1",
				FieldMap:  fields.FieldMap{"summary_short": "x"},
			}, "")

			assert.Equal(t, tt.kind, out.Kind)
			assert.Equal(t, 1, s.calls)
		})
	}
}

func TestServiceWithoutRetryRunsOnce(t *testing.T) {
	s := &scriptedStrategy{errs: []error{transportErr()}}
	svc := newTestService(s)

	out := svc.Read(context.Background(), "PROJ-1")

	assert.Equal(t, resolver.KindFailure, out.Kind)
	assert.Equal(t, failure.ClassTransport, out.Class)
	assert.Equal(t, 1, s.calls)
}

func TestServiceWriteMapsAliases(t *testing.T) {
	s := &scriptedStrategy{}
	svc := newTestService(s)

	out := svc.Write(context.Background(), resolver.UpdateRequest{
		TicketKey: "PROJ-123",
		FieldMap:  fields.FieldMap{"summary_short": "short", "team": "core", "labels": []string{"a"}},
	}, "")

	require.True(t, out.Succeeded())
	assert.Equal(t, []string{"customfield_10087", "customfield_20001", "labels"}, out.UpdatedFieldKeys)
	require.Len(t, s.writes, 1)
	assert.Equal(t, "short", s.writes[0].FieldMap["customfield_10087"])
	assert.Equal(t, "core", s.writes[0].FieldMap["customfield_20001"])
}

type chanRecorder struct {
	touched chan string
}

func (r *chanRecorder) Touch(_ context.Context, templateID string) error {
	r.touched <- templateID
	return nil
}

func TestServiceWriteRecordsTemplateUsage(t *testing.T) {
	rec := &chanRecorder{touched: make(chan string, 1)}
	svc := newTestService(&scriptedStrategy{}, WithUsage(rec, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	out := svc.Write(ctx, resolver.UpdateRequest{TicketKey: "PROJ-1", FieldMap: fields.FieldMap{"summary_short": "x"}}, "weekly-digest")
	cancel()
	require.True(t, out.Succeeded())

	select {
	case id := <-rec.touched:
		assert.Equal(t, "weekly-digest", id)
	case <-time.After(2 * time.Second):
		t.Fatal("usage was not recorded")
	}
}

func TestServiceFailedWriteRecordsNoUsage(t *testing.T) {
	rec := &chanRecorder{touched: make(chan string, 1)}
	s := &scriptedStrategy{errs: []error{failure.New(failure.ClassRejection, errors.New("bad"))}}
	svc := newTestService(s, WithUsage(rec, time.Second))

	out := svc.Write(context.Background(), resolver.UpdateRequest{TicketKey: "PROJ-1", FieldMap: fields.FieldMap{"summary_short": "x"}}, "weekly-digest")
	require.False(t, out.Succeeded())

	select {
	case id := <-rec.touched:
		t.Fatalf("usage recorded for failed write: %s", id)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeAuthorizer struct {
	cred tokenstore.Credential
	err  error
}

func (a *fakeAuthorizer) AuthorizationURL(state string) (string, string, error) {
	return "https://auth.example.com/authorize?state=" + state, state, nil
}

func (a *fakeAuthorizer) Exchange(context.Context, string) (tokenstore.Credential, error) {
	return a.cred, a.err
}

type mapStore struct {
	creds map[string]tokenstore.Credential
}

func (m *mapStore) Get(_ context.Context, principal string) (tokenstore.Credential, error) {
	cred, ok := m.creds[principal]
	if !ok {
		return tokenstore.Credential{}, tokenstore.ErrNotFound
	}
	return cred, nil
}

func (m *mapStore) Put(_ context.Context, cred tokenstore.Credential) error {
	m.creds[cred.PrincipalID] = cred
	return nil
}

func TestCompleteAuthorizationStoresPrincipal(t *testing.T) {
	auth := &fakeAuthorizer{cred: tokenstore.Credential{
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour),
	}}
	store := &mapStore{creds: map[string]tokenstore.Credential{}}
	svc := newTestService(&scriptedStrategy{}, WithAuthorization(auth, store, "user-42"))

	require.NoError(t, svc.CompleteAuthorization(context.Background(), "code"))

	got, err := store.Get(context.Background(), "user-42")
	require.NoError(t, err)
	assert.Equal(t, "user-42", got.PrincipalID)
	assert.Equal(t, "at", got.AccessToken)
}

func TestCompleteAuthorizationFailure(t *testing.T) {
	auth := &fakeAuthorizer{err: failure.New(failure.ClassAuth, errors.New("invalid_grant"))}
	store := &mapStore{creds: map[string]tokenstore.Credential{}}
	svc := newTestService(&scriptedStrategy{}, WithAuthorization(auth, store, "user-42"))

	err := svc.CompleteAuthorization(context.Background(), "code")
	require.Error(t, err)
	assert.Equal(t, failure.ClassAuth, failure.Classify(err))
	assert.Empty(t, store.creds)
}

func TestAuthorizationDisabled(t *testing.T) {
	svc := newTestService(&scriptedStrategy{})

	_, _, err := svc.AuthorizationURL("")
	assert.ErrorIs(t, err, ErrAuthorizationDisabled)
	assert.ErrorIs(t, svc.CompleteAuthorization(context.Background(), "code"), ErrAuthorizationDisabled)
}
