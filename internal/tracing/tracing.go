// Package tracing installs the daemon's OpenTelemetry tracer provider.
//
// Engine code always traces through the global otel tracer, which is a no-op
// until Setup installs an SDK provider exporting spans as JSON lines.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName scopes every span the daemon emits.
const InstrumentationName = "norc/tmsd"

// Tracer returns the daemon tracer from the current global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// Provider owns an installed SDK tracer provider and its output file.
type Provider struct {
	tp       *sdktrace.TracerProvider
	previous trace.TracerProvider
	file     *os.File
}

// Setup exports spans to path (one JSON document per span) and makes the
// provider global. Shutdown flushes, closes the file and restores the
// previous global provider.
func Setup(path, serviceName string, attrs ...attribute.KeyValue) (*Provider, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure trace dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(file))
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", append([]attribute.KeyValue{semconv.ServiceName(serviceName)}, attrs...)...),
	)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("create trace resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	p := &Provider{tp: tp, previous: otel.GetTracerProvider(), file: file}
	otel.SetTracerProvider(tp)
	return p, nil
}

// Shutdown flushes pending spans and releases the trace file.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	err := p.tp.Shutdown(ctx)
	otel.SetTracerProvider(p.previous)
	return errors.Join(err, p.file.Close())
}
