package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLStore keeps one row per principal in the oauth_credentials table.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// Compile-time check to ensure SQLStore implements CredentialStore
var _ CredentialStore = (*SQLStore)(nil)

// NewSQLStore creates a SQLStore on a database opened with sqlitedb.Open.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("missing database")
	}
	return &SQLStore{db: db, now: time.Now}, nil
}

// Get returns the credential row for principal.
func (s *SQLStore) Get(ctx context.Context, principal string) (Credential, error) {
	var (
		cred      Credential
		expiresAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT principal_id, access_token, refresh_token, expires_at FROM oauth_credentials WHERE principal_id = ?`,
		principal,
	).Scan(&cred.PrincipalID, &cred.AccessToken, &cred.RefreshToken, &expiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("failed to get credential: %w", err)
	}

	cred.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAt)
	if err != nil {
		return Credential{}, fmt.Errorf("invalid expires_at for principal %s: %w", principal, err)
	}
	return cred, nil
}

// Put replaces all three credential columns in a single statement.
func (s *SQLStore) Put(ctx context.Context, cred Credential) error {
	if cred.PrincipalID == "" {
		return fmt.Errorf("principal id cannot be empty")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO oauth_credentials (principal_id, access_token, refresh_token, expires_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(principal_id) DO UPDATE SET
		   access_token = excluded.access_token,
		   refresh_token = excluded.refresh_token,
		   expires_at = excluded.expires_at,
		   updated_at = excluded.updated_at`,
		cred.PrincipalID,
		cred.AccessToken,
		cred.RefreshToken,
		cred.ExpiresAt.UTC().Format(time.RFC3339Nano),
		s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}
