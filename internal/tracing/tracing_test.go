package tracing

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestSetupExportsSpansToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "_tmsd", "traces.1.jsonl")
	provider, err := Setup(path, "tmsd", attribute.String("norc.region", "east"))
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	_, span := Tracer().Start(context.Background(), "engine.batch")
	span.SetAttributes(attribute.Int("candidates", 3))
	span.End()

	if err := provider.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read traces: %v", err)
	}
	if !strings.Contains(string(data), "engine.batch") || !strings.Contains(string(data), "norc.region") {
		t.Fatalf("expected exported span, got %s", data)
	}
}

func TestShutdownNilProvider(t *testing.T) {
	var p *Provider
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
