package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func keepGlobalProvider(t *testing.T) {
	t.Helper()
	prev := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		otel.SetTextMapPropagator(prevProp)
	})
}

func TestSetupWithoutEndpointLeavesProvider(t *testing.T) {
	keepGlobalProvider(t)
	before := otel.GetTracerProvider()

	shutdown, err := Setup(context.Background(), "commands-api", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if otel.GetTracerProvider() != before {
		t.Fatal("provider replaced without an endpoint")
	}
}

func TestSetupInstallsSDKProvider(t *testing.T) {
	keepGlobalProvider(t)

	shutdown, err := Setup(context.Background(), "command-worker", "http://127.0.0.1:4318")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		// nothing listens on the collector address, so the final export is cut short
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_ = shutdown(ctx)
	})

	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("expected the SDK provider, got %T", otel.GetTracerProvider())
	}
	_, span := otel.Tracer("test").Start(context.Background(), "span")
	if !span.SpanContext().IsValid() {
		t.Fatal("spans are not recorded")
	}
	span.End()
}
