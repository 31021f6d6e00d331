package tokenstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/florianilch/ticketbridge/internal/sqlitedb"
)

func testCredential(principal string) Credential {
	return Credential{
		PrincipalID:  principal,
		AccessToken:  "access-" + principal,
		RefreshToken: "refresh-" + principal,
		ExpiresAt:    time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC),
	}
}

func assertCredential(t *testing.T, got, want Credential) {
	t.Helper()
	if got.PrincipalID != want.PrincipalID {
		t.Errorf("PrincipalID = %q, want %q", got.PrincipalID, want.PrincipalID)
	}
	if got.AccessToken != want.AccessToken {
		t.Errorf("AccessToken = %q, want %q", got.AccessToken, want.AccessToken)
	}
	if got.RefreshToken != want.RefreshToken {
		t.Errorf("RefreshToken = %q, want %q", got.RefreshToken, want.RefreshToken)
	}
	if !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, want.ExpiresAt)
	}
}

// writableStores returns one instance of every writable backend.
func writableStores(t *testing.T) map[string]CredentialStore {
	t.Helper()
	dir := t.TempDir()

	file, err := NewFileStore(filepath.Join(dir, "creds", "credentials.json"))
	if err != nil {
		t.Fatalf("NewFileStore() failed: %v", err)
	}

	keyring.MockInit()
	kr, err := NewKeyringStore("ticketbridge-test")
	if err != nil {
		t.Fatalf("NewKeyringStore() failed: %v", err)
	}

	db, err := sqlitedb.Open(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("sqlitedb.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	sqlStore, err := NewSQLStore(db)
	if err != nil {
		t.Fatalf("NewSQLStore() failed: %v", err)
	}

	return map[string]CredentialStore{"file": file, "keyring": kr, "sql": sqlStore}
}

func TestStoresRoundTrip(t *testing.T) {
	for name, store := range writableStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := store.Get(ctx, "system"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get() on empty store error = %v, want ErrNotFound", err)
			}

			want := testCredential("system")
			if err := store.Put(ctx, want); err != nil {
				t.Fatalf("Put() failed: %v", err)
			}

			got, err := store.Get(ctx, "system")
			if err != nil {
				t.Fatalf("Get() failed: %v", err)
			}
			assertCredential(t, got, want)
		})
	}
}

func TestStoresReplaceFullTriple(t *testing.T) {
	for name, store := range writableStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := store.Put(ctx, testCredential("system")); err != nil {
				t.Fatalf("Put() failed: %v", err)
			}
			other := testCredential("other")
			if err := store.Put(ctx, other); err != nil {
				t.Fatalf("Put() failed: %v", err)
			}

			replacement := Credential{
				PrincipalID:  "system",
				AccessToken:  "access-2",
				RefreshToken: "refresh-2",
				ExpiresAt:    time.Date(2026, 10, 16, 13, 0, 0, 0, time.UTC),
			}
			if err := store.Put(ctx, replacement); err != nil {
				t.Fatalf("Put() failed: %v", err)
			}

			got, err := store.Get(ctx, "system")
			if err != nil {
				t.Fatalf("Get() failed: %v", err)
			}
			assertCredential(t, got, replacement)

			got, err = store.Get(ctx, "other")
			if err != nil {
				t.Fatalf("Get(other) failed: %v", err)
			}
			assertCredential(t, got, other)
		})
	}
}

func TestStoresRejectEmptyPrincipal(t *testing.T) {
	for name, store := range writableStores(t) {
		t.Run(name, func(t *testing.T) {
			cred := testCredential("")
			if err := store.Put(context.Background(), cred); err == nil {
				t.Fatal("Put() with empty principal should fail")
			}
		})
	}
}

func TestFileStorePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() failed: %v", err)
	}

	if err := store.Put(context.Background(), testCredential("system")); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() failed: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %04o, want 0600", perm)
	}

	if err := os.Chmod(path, 0644); err != nil {
		t.Fatalf("Chmod() failed: %v", err)
	}
	if _, err := store.Get(context.Background(), "system"); err == nil {
		t.Error("Get() should refuse a world-readable file")
	}
}

func TestFileStoreCanceledContext(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "credentials.json"))
	if err != nil {
		t.Fatalf("NewFileStore() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Put(ctx, testCredential("system")); !errors.Is(err, context.Canceled) {
		t.Errorf("Put() error = %v, want context.Canceled", err)
	}
	if _, err := store.Get(ctx, "system"); !errors.Is(err, context.Canceled) {
		t.Errorf("Get() error = %v, want context.Canceled", err)
	}
}

func TestEnvStore(t *testing.T) {
	t.Setenv("TICKETBRIDGE_TEST_CREDENTIAL", `{"access_token":"a","refresh_token":"r","expires_at":"2026-10-16T12:00:00Z"}`)

	store, err := NewEnvStore("TICKETBRIDGE_TEST_CREDENTIAL")
	if err != nil {
		t.Fatalf("NewEnvStore() failed: %v", err)
	}

	got, err := store.Get(context.Background(), "system")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	assertCredential(t, got, Credential{
		PrincipalID:  "system",
		AccessToken:  "a",
		RefreshToken: "r",
		ExpiresAt:    time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC),
	})

	if err := store.Put(context.Background(), got); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Put() error = %v, want ErrReadOnly", err)
	}
}

func TestEnvStoreOtherPrincipal(t *testing.T) {
	t.Setenv("TICKETBRIDGE_TEST_CREDENTIAL", `{"principal_id":"someone","access_token":"a","expires_at":"2026-10-16T12:00:00Z"}`)

	store, err := NewEnvStore("TICKETBRIDGE_TEST_CREDENTIAL")
	if err != nil {
		t.Fatalf("NewEnvStore() failed: %v", err)
	}
	if _, err := store.Get(context.Background(), "system"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestNewEnvStoreUnset(t *testing.T) {
	if _, err := NewEnvStore("TICKETBRIDGE_TEST_DEFINITELY_UNSET"); err == nil {
		t.Error("NewEnvStore() should fail for unset variable")
	}
	if _, err := NewEnvStore(""); err == nil {
		t.Error("NewEnvStore() should fail for empty key")
	}
}

func TestCredentialExpired(t *testing.T) {
	expiry := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	cred := Credential{ExpiresAt: expiry}

	tests := []struct {
		now  time.Time
		want bool
	}{
		{expiry.Add(-time.Second), false},
		{expiry, true},
		{expiry.Add(time.Second), true},
	}
	for _, tt := range tests {
		if got := cred.Expired(tt.now); got != tt.want {
			t.Errorf("Expired(%v) = %v, want %v", tt.now, got, tt.want)
		}
	}
}
