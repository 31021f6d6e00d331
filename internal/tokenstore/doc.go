// Package tokenstore provides persistent storage for OAuth credentials keyed
// by principal.
//
// Supports four storage backends with different security and deployment tradeoffs:
//   - File: Local JSON file with atomic writes and secure permissions
//   - Env: Read-only environment variable access (requires external secret management)
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//   - SQL: One row per principal in the shared SQLite database
//
// Every backend stores the credential triple as a unit: a Put either replaces
// access token, refresh token and expiry together or fails and leaves the
// previous record as it was.
package tokenstore
