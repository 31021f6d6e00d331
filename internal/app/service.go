package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/florianilch/ticketbridge/internal/failure"
	"github.com/florianilch/ticketbridge/internal/fields"
	"github.com/florianilch/ticketbridge/internal/resolver"
	"github.com/florianilch/ticketbridge/internal/tokenstore"
	"github.com/florianilch/ticketbridge/internal/usage"
)

// Authorizer runs the authorization-code flow.
type Authorizer interface {
	AuthorizationURL(state string) (string, string, error)
	Exchange(ctx context.Context, code string) (tokenstore.Credential, error)
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithAuthorization enables the authorization flow, storing credentials for principal.
func WithAuthorization(auth Authorizer, store tokenstore.CredentialStore, principal string) ServiceOption {
	return func(s *Service) {
		s.auth = auth
		s.store = store
		s.principal = principal
	}
}

// WithUsage records template use after successful writes.
func WithUsage(rec usage.Recorder, timeout time.Duration) ServiceOption {
	return func(s *Service) {
		s.usage = rec
		s.usageTimeout = timeout
	}
}

// WithRetry sets the retry policy for transport failures.
func WithRetry(cfg RetryConfig) ServiceOption {
	return func(s *Service) {
		s.retry = cfg
	}
}

// ErrAuthorizationDisabled is returned when the service has no Authorizer.
var ErrAuthorizationDisabled = errors.New("authorization flow not configured")

// Service is the entry point collaborators call. It maps fields, applies the
// retry policy and records template usage around the resolver.
type Service struct {
	resolver *resolver.Resolver
	mapping  fields.Mapping

	auth      Authorizer
	store     tokenstore.CredentialStore
	principal string

	usage        usage.Recorder
	usageTimeout time.Duration

	retry RetryConfig
}

// NewService creates a Service around res.
func NewService(res *resolver.Resolver, mapping fields.Mapping, opts ...ServiceOption) *Service {
	s := &Service{
		resolver: res,
		mapping:  mapping,
		retry:    RetryConfig{MaxAttempts: DefaultConfigRetryMaxAttempts},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AuthorizationURL returns the consent URL and the state the caller must verify.
func (s *Service) AuthorizationURL(state string) (string, string, error) {
	if s.auth == nil {
		return "", "", ErrAuthorizationDisabled
	}
	return s.auth.AuthorizationURL(state)
}

// CompleteAuthorization exchanges code and stores the credential for the
// configured principal, replacing any previous one.
func (s *Service) CompleteAuthorization(ctx context.Context, code string) error {
	if s.auth == nil || s.store == nil {
		return ErrAuthorizationDisabled
	}

	cred, err := s.auth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchanging authorization code: %w", err)
	}
	cred.PrincipalID = s.principal

	if err := s.store.Put(ctx, cred); err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}

	slog.InfoContext(ctx, "credential stored", "principal", s.principal, "expires_at", cred.ExpiresAt)
	return nil
}

// Read resolves the snapshot of key.
func (s *Service) Read(ctx context.Context, key string) resolver.Outcome {
	return s.withRetry(ctx, func() resolver.Outcome {
		return s.resolver.Read(ctx, key)
	})
}

// Write resolves req after mapping field aliases. A successful write with a
// template id records the template's use in the background.
func (s *Service) Write(ctx context.Context, req resolver.UpdateRequest, templateID string) resolver.Outcome {
	req.FieldMap = s.mapping.Resolve(req.FieldMap)

	out := s.withRetry(ctx, func() resolver.Outcome {
		return s.resolver.Write(ctx, req)
	})

	if out.Succeeded() && templateID != "" {
		usage.Go(ctx, s.usage, templateID, s.usageTimeout)
	}
	return out
}

// Search runs jql through the resolver.
func (s *Service) Search(ctx context.Context, jql string, maxResults int) ([]fields.Snapshot, error) {
	if maxResults <= 0 {
		maxResults = DefaultConfigSearchMaxResults
	}
	return s.resolver.Search(ctx, jql, maxResults)
}

// errTransient marks an outcome worth another attempt.
var errTransient = errors.New("transient resolution failure")

// withRetry repeats run while its outcome was caused by a transport failure.
// Rejections and missing credentials are never retried.
func (s *Service) withRetry(ctx context.Context, run func() resolver.Outcome) resolver.Outcome {
	if s.retry.MaxAttempts <= 1 {
		return run()
	}

	var out resolver.Outcome
	operation := func() error {
		out = run()
		if transportCause(out) {
			return errTransient
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	if s.retry.InitialInterval > 0 {
		b.InitialInterval = s.retry.InitialInterval
	}
	if s.retry.MaxInterval > 0 {
		b.MaxInterval = s.retry.MaxInterval
	}
	b.MaxElapsedTime = 0 // bounded by attempts and ctx

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.retry.MaxAttempts-1)), ctx)
	notify := func(_ error, wait time.Duration) {
		slog.InfoContext(ctx, "retrying after transport failure", "request_id", out.RequestID, "wait", wait)
	}

	// The last outcome is returned whether or not retries were exhausted.
	_ = backoff.RetryNotify(operation, policy, notify)
	return out
}

// transportCause reports whether out was produced by a transport failure.
func transportCause(out resolver.Outcome) bool {
	switch out.Kind {
	case resolver.KindRequiresRemoteBridge:
		return out.Bridge != nil && out.Bridge.Cause == failure.ClassTransport
	case resolver.KindFailure:
		return out.Class == failure.ClassTransport
	default:
		return false
	}
}
