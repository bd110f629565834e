package telemetry

import (
	"context"
	"testing"
)

func TestInitDisabledInstallsNoopTracer(t *testing.T) {
	if err := Init(context.Background(), Config{Enabled: false}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if Enabled() {
		t.Fatal("expected Enabled() to be false after an Enabled:false Init")
	}
	ctx, span := StartSpan(context.Background(), "test.span")
	defer span.End()
	if ctx == nil {
		t.Fatal("expected a non-nil context from StartSpan")
	}
}

func TestInitStdoutExporterEnablesTracer(t *testing.T) {
	if err := Init(context.Background(), Config{
		Enabled:     true,
		Exporter:    "stdout",
		ServiceName: "cortex-test",
		SampleRate:  1.0,
	}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Shutdown(context.Background())

	if !Enabled() {
		t.Fatal("expected Enabled() to be true after a stdout-exporter Init")
	}

	_, span := StartSpan(context.Background(), "test.span", AttrEntityID.String("e1"))
	SetSpanOK(span)
	span.End()
}

func TestInitUnknownExporterErrors(t *testing.T) {
	if err := Init(context.Background(), Config{Enabled: true, Exporter: "carrier-pigeon", ServiceName: "x"}); err == nil {
		t.Fatal("expected an error for an unknown exporter")
	}
}
