package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// EnvStore provides read-only access to a credential stored as JSON in an
// environment variable. Refreshed credentials cannot be written back, so a
// refresh only lasts for the request that performed it.
type EnvStore struct {
	envKey string
}

// Compile-time check to ensure EnvStore implements CredentialStore
var _ CredentialStore = (*EnvStore)(nil)

// NewEnvStore creates an EnvStore for the given environment variable.
// Returns error if the variable name is empty or not set in the environment.
func NewEnvStore(envKey string) (*EnvStore, error) {
	if envKey == "" {
		return nil, fmt.Errorf("environment key cannot be empty")
	}

	if _, exists := os.LookupEnv(envKey); !exists {
		return nil, fmt.Errorf("environment variable %s not set", envKey)
	}

	return &EnvStore{
		envKey: envKey,
	}, nil
}

// Get decodes the credential from the environment variable. A credential
// naming a different principal is reported as ErrNotFound.
func (e *EnvStore) Get(ctx context.Context, principal string) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}

	raw := os.Getenv(e.envKey)
	if raw == "" {
		return Credential{}, ErrNotFound
	}

	var cred Credential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		return Credential{}, fmt.Errorf("parsing environment variable %s: %w", e.envKey, err)
	}
	if cred.PrincipalID != "" && cred.PrincipalID != principal {
		return Credential{}, ErrNotFound
	}
	if cred.AccessToken == "" {
		return Credential{}, ErrNotFound
	}
	cred.PrincipalID = principal
	return cred, nil
}

// Put is not supported for environment variables (they are read-only).
func (e *EnvStore) Put(ctx context.Context, _ Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return ErrReadOnly
}
