package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/florianilch/ticketbridge/internal/cache"
	"github.com/florianilch/ticketbridge/internal/failure"
	"github.com/florianilch/ticketbridge/internal/fields"
)

// Strategy is one resolution path. A returned error is classified with
// failure.Classify: unavailable classes let the resolver advance, anything
// else ends the resolution.
type Strategy interface {
	Name() string
	TryRead(ctx context.Context, key string) (fields.Snapshot, error)
	TryWrite(ctx context.Context, req UpdateRequest) error
}

// Searcher is implemented by strategies that can run a query.
type Searcher interface {
	Search(ctx context.Context, jql string, maxResults int) ([]fields.Snapshot, error)
}

// ReadOnlyStrategy is implemented by strategies that never accept writes.
// Write passes over them without counting them as unavailable.
type ReadOnlyStrategy interface {
	ReadOnly() bool
}

// ErrCacheReadOnly is returned by CacheStrategy.TryWrite.
var ErrCacheReadOnly = failure.New(failure.ClassChannelUnavailable, errors.New("snapshot cache does not accept writes"))

// CacheStrategy serves reads from the snapshot cache. It never writes.
type CacheStrategy struct {
	cache cache.SnapshotCache
}

// Compile-time checks to ensure CacheStrategy implements Strategy and ReadOnlyStrategy
var (
	_ Strategy         = (*CacheStrategy)(nil)
	_ ReadOnlyStrategy = (*CacheStrategy)(nil)
)

// NewCacheStrategy creates a CacheStrategy over c.
func NewCacheStrategy(c cache.SnapshotCache) *CacheStrategy {
	return &CacheStrategy{cache: c}
}

func (s *CacheStrategy) Name() string { return "cache" }

// TryRead returns the cached snapshot. A miss is reported as cache.ErrMiss;
// any other cache error is treated as a miss as well.
func (s *CacheStrategy) TryRead(ctx context.Context, key string) (fields.Snapshot, error) {
	snap, err := s.cache.Get(ctx, key)
	if err == nil {
		return snap, nil
	}
	if errors.Is(err, cache.ErrMiss) || ctx.Err() != nil {
		return fields.Snapshot{}, err
	}
	return fields.Snapshot{}, failure.New(failure.ClassCacheMiss, fmt.Errorf("reading cache: %w", err))
}

// ReadOnly implements ReadOnlyStrategy.
func (s *CacheStrategy) ReadOnly() bool { return true }

func (s *CacheStrategy) TryWrite(context.Context, UpdateRequest) error {
	return ErrCacheReadOnly
}

// ToolChannel is a credential channel owned by the host environment, such as
// tools injected into a browser session.
type ToolChannel interface {
	// Available reports whether the channel exists in this process.
	Available(ctx context.Context) bool
	GetIssue(ctx context.Context, key string) (fields.Snapshot, error)
	UpdateIssue(ctx context.Context, key string, fieldMap fields.FieldMap) error
}

// ErrNoToolChannel is returned when the tool channel is absent.
var ErrNoToolChannel = failure.New(failure.ClassChannelUnavailable, errors.New("tool channel not available"))

// ToolChannelStrategy resolves through a ToolChannel. It is the single
// strategy of the browser-side resolver.
type ToolChannelStrategy struct {
	channel ToolChannel
}

// Compile-time check to ensure ToolChannelStrategy implements Strategy
var _ Strategy = (*ToolChannelStrategy)(nil)

// NewToolChannelStrategy creates a strategy over channel. A nil channel is
// permanently unavailable.
func NewToolChannelStrategy(channel ToolChannel) *ToolChannelStrategy {
	return &ToolChannelStrategy{channel: channel}
}

func (s *ToolChannelStrategy) Name() string { return "toolchannel" }

func (s *ToolChannelStrategy) TryRead(ctx context.Context, key string) (fields.Snapshot, error) {
	if s.channel == nil || !s.channel.Available(ctx) {
		return fields.Snapshot{}, ErrNoToolChannel
	}
	return s.channel.GetIssue(ctx, key)
}

func (s *ToolChannelStrategy) TryWrite(ctx context.Context, req UpdateRequest) error {
	if s.channel == nil || !s.channel.Available(ctx) {
		return ErrNoToolChannel
	}
	return s.channel.UpdateIssue(ctx, req.TicketKey, req.FieldMap)
}
