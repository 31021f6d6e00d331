package tokenstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when no credential exists for the principal.
	ErrNotFound = errors.New("credential not found")

	// ErrReadOnly is returned by Put on backends that cannot be written.
	ErrReadOnly = errors.New("credential storage is read-only")
)

// Credential is one OAuth credential set.
type Credential struct {
	PrincipalID  string    `json:"principal_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the credential must not be used at now.
func (c Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// CredentialStore reads and writes credentials to persistent storage.
type CredentialStore interface {
	// Get returns the credential for principal, or ErrNotFound.
	Get(ctx context.Context, principal string) (Credential, error)

	// Put replaces the stored credential for cred.PrincipalID.
	Put(ctx context.Context, cred Credential) error
}
