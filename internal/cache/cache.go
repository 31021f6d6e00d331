// Package cache keeps snapshots of previously fetched issues on disk.
//
// The cache is never authoritative. Entries are written whenever a live fetch
// succeeds and are never invalidated, so reads may be stale.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/florianilch/ticketbridge/internal/failure"
	"github.com/florianilch/ticketbridge/internal/fields"
)

// ErrMiss is returned by Get when no snapshot exists for the key.
var ErrMiss = failure.New(failure.ClassCacheMiss, errors.New("snapshot not cached"))

// SnapshotCache is the key-value contract the resolver reads and populates.
type SnapshotCache interface {
	Get(ctx context.Context, key string) (fields.Snapshot, error)
	Put(ctx context.Context, key string, snapshot fields.Snapshot) error
}

// reloadDebounce coalesces bursts of file events into one reload.
const reloadDebounce = 200 * time.Millisecond

// FileCache holds snapshots in memory, backed by a JSON object keyed by issue key.
type FileCache struct {
	path string

	mu      sync.RWMutex
	entries map[string]fields.Snapshot
}

// Compile-time check to ensure FileCache implements SnapshotCache
var _ SnapshotCache = (*FileCache)(nil)

// Open loads the cache file at path. A missing file yields an empty cache.
func Open(path string) (*FileCache, error) {
	if path == "" {
		return nil, fmt.Errorf("cache path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	c := &FileCache{path: path, entries: map[string]fields.Snapshot{}}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns the snapshot for key, or ErrMiss.
func (c *FileCache) Get(ctx context.Context, key string) (fields.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return fields.Snapshot{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	snap, ok := c.entries[key]
	if !ok {
		return fields.Snapshot{}, ErrMiss
	}
	snap.Key = key
	return snap, nil
}

// Put replaces the snapshot for key and rewrites the file.
func (c *FileCache) Put(ctx context.Context, key string, snapshot fields.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("cache key cannot be empty")
	}
	snapshot.Key = key

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = snapshot
	return c.writeLocked()
}

// Len returns the number of cached snapshots.
func (c *FileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Reload replaces the in-memory entries with the file contents. The file is
// read under mu so a concurrent Put cannot be overwritten by an older read.
func (c *FileCache) Reload() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading cache: %w", err)
	}

	entries := map[string]fields.Snapshot{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &entries); err != nil {
			return fmt.Errorf("parsing cache %s: %w", c.path, err)
		}
	}

	c.entries = entries
	return nil
}

// writeLocked persists entries via temp file + rename. Caller holds mu.
func (c *FileCache) writeLocked() error {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(c.path), ".cache-*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.Write(append(data, '\n')); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}
	return os.Rename(tempName, c.path)
}

// Watch reloads the cache whenever the file changes on disk, until ctx is done.
// The parent directory is watched because writers replace the file by rename.
func (c *FileCache) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(c.path), err)
	}

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(c.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if err := c.Reload(); err != nil {
					slog.WarnContext(ctx, "cache reload failed", "path", c.path, "error", err)
					return
				}
				slog.DebugContext(ctx, "cache reloaded", "path", c.path, "entries", c.Len())
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "cache watcher error", "error", err)
		}
	}
}
