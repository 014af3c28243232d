package observability

import (
	"context"
	"testing"

	"github.com/fairyhunter13/chat-relay/internal/config"
)

func TestSetupTracing_Disabled(t *testing.T) {
	cfg := config.Config{OTLPEndpoint: ""}
	shutdown, err := SetupTracing(cfg)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if shutdown != nil {
		_ = shutdown(context.Background())
	}
}

func TestSetupTracing_WithEndpoint(t *testing.T) {
	cfg := config.Config{
		OTLPEndpoint:    "localhost:4317",
		OTELServiceName: "test-service",
	}

	// The exporter is created lazily, so setup succeeds even without a
	// collector listening; shutdown flushes nothing in that case.
	shutdown, err := SetupTracing(cfg)
	if err == nil && shutdown != nil {
		_ = shutdown(context.Background())
	}
}
