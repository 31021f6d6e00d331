package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/florianilch/ticketbridge/internal/cache"
	"github.com/florianilch/ticketbridge/internal/failure"
	"github.com/florianilch/ticketbridge/internal/fields"
)

const instrumentationScope = "github.com/florianilch/ticketbridge/internal/resolver"

// Exhaustion decides how a write that no strategy could serve is answered.
type Exhaustion int

const (
	// ExhaustBridge answers with a RequiresRemoteBridge outcome.
	ExhaustBridge Exhaustion = iota

	// ExhaustManual answers with a Failure that requires a manual update.
	ExhaustManual
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithExhaustion sets the exhausted-write policy. Defaults to ExhaustBridge.
func WithExhaustion(e Exhaustion) Option {
	return func(r *Resolver) {
		r.exhaustion = e
	}
}

// WithMeterProvider records metrics with mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(r *Resolver) {
		r.meters = mp
	}
}

// WithSnapshotCache makes successful live reads populate c.
func WithSnapshotCache(c cache.SnapshotCache) Option {
	return func(r *Resolver) {
		r.cache = c
	}
}

// ProviderMessager is implemented by errors carrying the provider's own
// message, which is surfaced verbatim on rejection.
type ProviderMessager interface {
	ProviderMessage() string
}

// StatusCoder is implemented by errors carrying the provider's HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// Resolver evaluates its strategies in order.
type Resolver struct {
	strategies []Strategy
	exhaustion Exhaustion
	cache      cache.SnapshotCache

	tracer      trace.Tracer
	meters      metric.MeterProvider
	outcomes    metric.Int64Counter
	unavailable metric.Int64Counter
}

// New creates a Resolver over strategies, evaluated in the given order.
func New(strategies []Strategy, opts ...Option) *Resolver {
	r := &Resolver{
		strategies: strategies,
		exhaustion: ExhaustBridge,
		tracer:     otel.Tracer(instrumentationScope),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.meters == nil {
		r.meters = otel.GetMeterProvider()
	}
	meter := r.meters.Meter(instrumentationScope)
	r.outcomes, _ = meter.Int64Counter("resolver.outcomes",
		metric.WithDescription("Resolutions by operation, outcome kind and source"),
		metric.WithUnit("{resolution}"),
	)
	r.unavailable, _ = meter.Int64Counter("resolver.strategy.unavailable",
		metric.WithDescription("Strategies skipped as unavailable, by cause"),
		metric.WithUnit("{strategy}"),
	)
	return r
}

// Strategies returns the strategy names in evaluation order.
func (r *Resolver) Strategies() []string {
	names := make([]string, len(r.strategies))
	for i, s := range r.strategies {
		names[i] = s.Name()
	}
	return names
}

// Read resolves the snapshot of key.
func (r *Resolver) Read(ctx context.Context, key string) Outcome {
	ctx, span, requestID := r.begin(ctx, "resolver.read", key)
	defer span.End()

	if key == "" {
		return r.finish(ctx, span, "read", requestID, Failed(failure.ClassRejection, "ticket key cannot be empty"))
	}

	cause := failure.ClassChannelUnavailable
	for _, s := range r.strategies {
		snap, err := s.TryRead(ctx, key)
		if err == nil {
			if snap.Key == "" {
				snap.Key = key
			}
			r.populate(ctx, s, key, snap)
			return r.finish(ctx, span, "read", requestID, ReadSuccess(s.Name(), snap))
		}

		class := failure.Classify(err)
		if !class.Unavailable() {
			return r.finish(ctx, span, "read", requestID, terminal(class, err))
		}
		r.skip(ctx, span, "read", s, class, err)
		cause = class
	}

	return r.finish(ctx, span, "read", requestID, Failed(cause, NoPathReason))
}

// Write resolves req. An empty field map succeeds without touching any path.
func (r *Resolver) Write(ctx context.Context, req UpdateRequest) Outcome {
	ctx, span, requestID := r.begin(ctx, "resolver.write", req.TicketKey)
	defer span.End()
	span.SetAttributes(
		attribute.String("ticket.action", req.RequestedAction),
		attribute.Int("ticket.fields", len(req.FieldMap)),
	)

	if req.TicketKey == "" {
		return r.finish(ctx, span, "write", requestID, Failed(failure.ClassRejection, "ticket key cannot be empty"))
	}
	if len(req.FieldMap) == 0 {
		return r.finish(ctx, span, "write", requestID, WriteSuccess("", nil))
	}

	cause := failure.ClassChannelUnavailable
	for _, s := range r.strategies {
		if ro, ok := s.(ReadOnlyStrategy); ok && ro.ReadOnly() {
			continue
		}

		err := s.TryWrite(ctx, req)
		if err == nil {
			return r.finish(ctx, span, "write", requestID, WriteSuccess(s.Name(), req.FieldMap))
		}

		class := failure.Classify(err)
		if !class.Unavailable() {
			return r.finish(ctx, span, "write", requestID, terminal(class, err))
		}
		r.skip(ctx, span, "write", s, class, err)
		cause = class
	}

	if r.exhaustion == ExhaustManual {
		return r.finish(ctx, span, "write", requestID, ManualUpdate(req, cause))
	}
	return r.finish(ctx, span, "write", requestID, RequiresBridge(req, cause))
}

// Search runs jql on the first strategy that supports queries and is
// available. Results populate the snapshot cache.
func (r *Resolver) Search(ctx context.Context, jql string, maxResults int) ([]fields.Snapshot, error) {
	ctx, span := r.tracer.Start(ctx, "resolver.search")
	defer span.End()

	var errs []error
	for _, s := range r.strategies {
		searcher, ok := s.(Searcher)
		if !ok {
			continue
		}

		snaps, err := searcher.Search(ctx, jql, maxResults)
		if err == nil {
			for _, snap := range snaps {
				r.populate(ctx, s, snap.Key, snap)
			}
			span.SetAttributes(attribute.Int("search.results", len(snaps)))
			return snaps, nil
		}

		class := failure.Classify(err)
		if !class.Unavailable() {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		r.skip(ctx, span, "search", s, class, err)
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}

	err := failure.New(failure.ClassChannelUnavailable, errors.New(NoPathReason))
	if len(errs) > 0 {
		err = failure.New(failure.Classify(errs[len(errs)-1]), fmt.Errorf("%s: %w", NoPathReason, errors.Join(errs...)))
	}
	span.SetStatus(codes.Error, err.Error())
	return nil, err
}

func (r *Resolver) begin(ctx context.Context, spanName, key string) (context.Context, trace.Span, string) {
	requestID := uuid.NewString()
	ctx, span := r.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("ticket.key", key),
		attribute.String("request.id", requestID),
	))
	return ctx, span, requestID
}

// skip records an unavailable strategy. Transport failures are logged at a
// higher level so they can be told apart from missing credentials.
func (r *Resolver) skip(ctx context.Context, span trace.Span, op string, s Strategy, class failure.Class, err error) {
	level := slog.LevelInfo
	msg := "strategy unavailable"
	if class == failure.ClassTransport {
		level = slog.LevelWarn
		msg = "strategy transport failure"
	}
	slog.Log(ctx, level, msg, "op", op, "strategy", s.Name(), "cause", class.String(), "error", err)

	span.AddEvent("strategy.unavailable", trace.WithAttributes(
		attribute.String("strategy", s.Name()),
		attribute.String("cause", class.String()),
	))
	r.unavailable.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("strategy", s.Name()),
		attribute.String("cause", class.String()),
	))
}

func (r *Resolver) finish(ctx context.Context, span trace.Span, op, requestID string, out Outcome) Outcome {
	out.RequestID = requestID

	attrs := []attribute.KeyValue{
		attribute.String("op", op),
		attribute.String("kind", string(out.Kind)),
		attribute.String("source", out.Source),
	}
	r.outcomes.Add(ctx, 1, metric.WithAttributes(attrs...))
	span.SetAttributes(attrs...)

	logAttrs := []any{"op", op, "request_id", requestID, "kind", out.Kind}
	switch out.Kind {
	case KindSuccess:
		slog.InfoContext(ctx, "resolution succeeded", append(logAttrs, "source", out.Source)...)
	case KindRequiresRemoteBridge:
		slog.InfoContext(ctx, "resolution requires remote bridge", append(logAttrs, "cause", out.Bridge.Cause.String())...)
	default:
		span.SetStatus(codes.Error, out.Reason)
		slog.WarnContext(ctx, "resolution failed", append(logAttrs, "class", out.Class.String(), "reason", out.Reason)...)
	}
	return out
}

// populate stores a live read in the snapshot cache. Failures are logged only.
func (r *Resolver) populate(ctx context.Context, s Strategy, key string, snap fields.Snapshot) {
	if r.cache == nil || key == "" {
		return
	}
	if _, fromCache := s.(*CacheStrategy); fromCache {
		return
	}
	if err := r.cache.Put(ctx, key, snap); err != nil {
		slog.WarnContext(ctx, "populating cache failed", "key", key, "error", err)
	}
}

// terminal builds the failure for an error that ends resolution, keeping the
// provider's message and status when the error carries them.
func terminal(class failure.Class, err error) Outcome {
	out := Failed(class, err.Error())

	var pm ProviderMessager
	if errors.As(err, &pm) {
		if msg := pm.ProviderMessage(); msg != "" {
			out.Reason = msg
		}
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		out.ProviderStatus = sc.HTTPStatus()
	}
	return out
}
