package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringStore provides OS-native secure credential storage.
// Uses macOS Keychain, Windows Credential Manager, or Linux Secret Service,
// with one keyring item per principal holding the JSON-encoded credential.
type KeyringStore struct {
	service string
}

// Compile-time check to ensure KeyringStore implements CredentialStore
var _ CredentialStore = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore under the given service name.
func NewKeyringStore(service string) (*KeyringStore, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}

	return &KeyringStore{
		service: service,
	}, nil
}

// Get returns the credential for principal from the system keyring.
func (k *KeyringStore) Get(ctx context.Context, principal string) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}

	secret, err := keyring.Get(k.service, principal)
	if errors.Is(err, keyring.ErrNotFound) {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, err
	}

	var cred Credential
	if err := json.Unmarshal([]byte(secret), &cred); err != nil {
		return Credential{}, fmt.Errorf("parsing keyring item for service %s, principal %s: %w", k.service, principal, err)
	}
	if cred.AccessToken == "" {
		return Credential{}, ErrNotFound
	}
	cred.PrincipalID = principal
	return cred, nil
}

// Put persists the credential to the system keyring, overwriting any existing value.
func (k *KeyringStore) Put(ctx context.Context, cred Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cred.PrincipalID == "" {
		return fmt.Errorf("principal id cannot be empty")
	}

	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshaling credential: %w", err)
	}

	return keyring.Set(k.service, cred.PrincipalID, string(data))
}
