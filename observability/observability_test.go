package observability

import (
	"context"
	"testing"
)

func TestDefaultTracerConfig(t *testing.T) {
	cfg := DefaultTracerConfig("datagraph")
	if cfg.ServiceName != "datagraph" {
		t.Fatalf("unexpected service name %q", cfg.ServiceName)
	}
	if cfg.Endpoint == "" {
		t.Fatal("default endpoint must be set")
	}
	if cfg.SampleRate != 1.0 {
		t.Fatalf("development default samples everything, got %v", cfg.SampleRate)
	}
}

func TestStartSpanWithoutProvider(t *testing.T) {
	// without an initialized provider the no-op tracer must still work
	ctx, span := StartSpan(context.Background(), "test.span")
	if span == nil {
		t.Fatal("expected a span")
	}
	SetSpanAttribute(ctx, "k", "v")
	SetSpanError(ctx, nil)
	span.End()
}
