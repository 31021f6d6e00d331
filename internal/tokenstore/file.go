package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps credentials in a JSON object keyed by principal id.
// Writes use temp file + rename for crash safety.
type FileStore struct {
	filePath string

	// mu serializes read-modify-write cycles within this process.
	mu sync.Mutex
}

// Compile-time check to ensure FileStore implements CredentialStore
var _ CredentialStore = (*FileStore)(nil)

// NewFileStore creates a FileStore for the given path, creating parent directories
// with 0700 permissions if they don't exist.
func NewFileStore(filePath string) (*FileStore, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	return &FileStore{
		filePath: filePath,
	}, nil
}

// Get returns the credential for principal. Returns ErrNotFound if the file
// or the entry doesn't exist, and an error if the file has insecure permissions.
func (f *FileStore) Get(ctx context.Context, principal string) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	creds, err := f.load()
	if err != nil {
		return Credential{}, err
	}

	cred, ok := creds[principal]
	if !ok || cred.AccessToken == "" {
		return Credential{}, ErrNotFound
	}
	cred.PrincipalID = principal
	return cred, nil
}

// Put atomically replaces the entry for cred.PrincipalID, keeping other principals.
// Sets file permissions to 0600 (owner read/write only).
func (f *FileStore) Put(ctx context.Context, cred Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cred.PrincipalID == "" {
		return fmt.Errorf("principal id cannot be empty")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	creds, err := f.load()
	if err != nil {
		return err
	}
	creds[cred.PrincipalID] = cred

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	// Create secure temp file in same directory for atomic rename
	dir := filepath.Dir(f.filePath)
	tempFile, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.Write(append(data, '\n')); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tempFile.Chmod(0600); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	return os.Rename(tempName, f.filePath)
}

// load reads all credentials. A missing file is an empty set.
func (f *FileStore) load() (map[string]Credential, error) {
	info, err := os.Stat(f.filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]Credential{}, nil
	}
	if err != nil {
		return nil, err
	}
	if info.Mode().Perm() != 0600 {
		return nil, fmt.Errorf("insecure permissions on %s: %04o (expected 0600)", f.filePath, info.Mode().Perm())
	}

	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return nil, err
	}

	creds := map[string]Credential{}
	if len(data) == 0 {
		return creds, nil
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.filePath, err)
	}
	return creds, nil
}
