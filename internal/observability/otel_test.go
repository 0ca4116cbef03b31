package observability

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"resumeforge/internal/config"
)

func TestClampRatio(t *testing.T) {
	for in, want := range map[float64]float64{-1: 0, 0: 0, 0.25: 0.25, 1: 1, 3: 1} {
		if got := clampRatio(in); got != want {
			t.Errorf("clampRatio(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown := InitTracing(context.Background(), config.TracingConfig{}, "api", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
