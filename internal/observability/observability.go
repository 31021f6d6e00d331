// Package observability installs the process-wide logger and OpenTelemetry
// providers.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// DefaultServiceName identifies this process in exported telemetry.
const DefaultServiceName = "ticketbridge"

// Log exporters selectable with WithLogExporter.
const (
	LogExporterNone     = ""
	LogExporterStdout   = "stdout"
	LogExporterOTLPHTTP = "otlp-http"
	LogExporterOTLPGRPC = "otlp-grpc"
)

// Option configures Instrument.
type Option func(*options)

type options struct {
	writer         io.Writer
	serviceName    string
	logExporter    string
	otlpEndpoint   string
	traces         bool
	metrics        bool
	metricInterval time.Duration
}

// WithWriter sets the destination of locally written logs and stdout exporters.
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.writer = w
	}
}

// WithServiceName overrides DefaultServiceName.
func WithServiceName(name string) Option {
	return func(o *options) {
		o.serviceName = name
	}
}

// WithLogExporter routes logs through the OpenTelemetry log bridge.
// endpoint is only used by the OTLP exporters; empty means the SDK default.
func WithLogExporter(kind, endpoint string) Option {
	return func(o *options) {
		o.logExporter = kind
		o.otlpEndpoint = endpoint
	}
}

// WithTraces exports spans to the configured writer.
func WithTraces(enabled bool) Option {
	return func(o *options) {
		o.traces = enabled
	}
}

// WithMetrics exports metrics to the configured writer at the given interval.
func WithMetrics(enabled bool, interval time.Duration) Option {
	return func(o *options) {
		o.metrics = enabled
		o.metricInterval = interval
	}
}

// Instrument sets the default slog logger and, when enabled, the global
// tracer and meter providers. The returned function flushes and stops every
// provider that was started.
func Instrument(ctx context.Context, level slog.Level, format string, opts ...Option) (func(context.Context) error, error) {
	o := options{
		writer:         os.Stderr,
		serviceName:    DefaultServiceName,
		metricInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(&o)
	}

	res := resource.NewSchemaless(attribute.String("service.name", o.serviceName))

	var shutdownFuncs []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var errs []error
		for i := len(shutdownFuncs) - 1; i >= 0; i-- {
			errs = append(errs, shutdownFuncs[i](ctx))
		}
		return errors.Join(errs...)
	}

	handler, logShutdown, err := newLogHandler(ctx, level, format, res, o)
	if err != nil {
		return nil, err
	}
	if logShutdown != nil {
		shutdownFuncs = append(shutdownFuncs, logShutdown)
	}
	slog.SetDefault(slog.New(handler))

	if o.traces {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(o.writer))
		if err != nil {
			return nil, errors.Join(fmt.Errorf("creating trace exporter: %w", err), shutdown(ctx))
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(exporter),
		)
		otel.SetTracerProvider(tp)
		shutdownFuncs = append(shutdownFuncs, tp.Shutdown)
	}

	if o.metrics {
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(o.writer))
		if err != nil {
			return nil, errors.Join(fmt.Errorf("creating metric exporter: %w", err), shutdown(ctx))
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(o.metricInterval))),
		)
		otel.SetMeterProvider(mp)
		shutdownFuncs = append(shutdownFuncs, mp.Shutdown)
	}

	return shutdown, nil
}

// newLogHandler returns a local text or JSON handler, or the OpenTelemetry
// bridge when a log exporter is configured.
func newLogHandler(ctx context.Context, level slog.Level, format string, res *resource.Resource, o options) (slog.Handler, func(context.Context) error, error) {
	if o.logExporter == LogExporterNone {
		handlerOpts := &slog.HandlerOptions{Level: level}
		switch format {
		case "json":
			return slog.NewJSONHandler(o.writer, handlerOpts), nil, nil
		case "text", "":
			return slog.NewTextHandler(o.writer, handlerOpts), nil, nil
		default:
			return nil, nil, fmt.Errorf("unsupported log format: %s", format)
		}
	}

	exporter, err := newLogExporter(ctx, o)
	if err != nil {
		return nil, nil, err
	}

	var processor sdklog.Processor = sdklog.NewBatchProcessor(exporter)
	if o.logExporter == LogExporterStdout {
		processor = sdklog.NewSimpleProcessor(exporter)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(minsev.NewLogProcessor(processor, severity(level))),
	)
	handler := otelslog.NewHandler(o.serviceName, otelslog.WithLoggerProvider(provider))
	return handler, provider.Shutdown, nil
}

func newLogExporter(ctx context.Context, o options) (sdklog.Exporter, error) {
	switch o.logExporter {
	case LogExporterStdout:
		return stdoutlog.New(stdoutlog.WithWriter(o.writer))
	case LogExporterOTLPHTTP:
		var opts []otlploghttp.Option
		if o.otlpEndpoint != "" {
			opts = append(opts, otlploghttp.WithEndpointURL(o.otlpEndpoint))
		}
		return otlploghttp.New(ctx, opts...)
	case LogExporterOTLPGRPC:
		var opts []otlploggrpc.Option
		if o.otlpEndpoint != "" {
			opts = append(opts, otlploggrpc.WithEndpointURL(o.otlpEndpoint))
		}
		return otlploggrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported log exporter: %s", o.logExporter)
	}
}

// severity maps a slog level onto the minimum severity kept by the log processor.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
