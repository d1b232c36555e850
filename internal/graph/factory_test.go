package graph

import (
	"context"
	"testing"

	"github.com/yungbote/kg-sidecar/internal/domain"
	"github.com/yungbote/kg-sidecar/internal/platform/logger"
)

func testFactory(t *testing.T) *Factory {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewFactory(log)
}

func TestFactoryResolvesMemoryByDefault(t *testing.T) {
	factory := testFactory(t)
	ctx := context.Background()

	res := factory.Resolve(ctx, nil)
	if res.Storage != domain.StorageMemory || res.FallbackReason != "" {
		t.Fatalf("nil profile resolution: %+v", res)
	}
	if res.Repository != factory.Memory() {
		t.Fatalf("nil profile must use the shared memory repository")
	}

	res = factory.Resolve(ctx, &domain.DBConfig{Provider: "memory"})
	if res.Storage != domain.StorageMemory || res.FallbackReason != "" {
		t.Fatalf("memory profile resolution: %+v", res)
	}
}

func TestFactoryFlagsInvalidNeo4jConfig(t *testing.T) {
	factory := testFactory(t)

	res := factory.Resolve(context.Background(), &domain.DBConfig{Provider: "neo4j", URI: "bolt://x"})
	if res.Storage != domain.StorageMemory {
		t.Fatalf("incomplete neo4j profile must fall back, got %s", res.Storage)
	}
	if res.FallbackReason != FallbackConfigInvalid {
		t.Fatalf("fallback reason = %s, want %s", res.FallbackReason, FallbackConfigInvalid)
	}
}

func TestFactorySharesOneMemoryRepository(t *testing.T) {
	factory := testFactory(t)
	ctx := context.Background()

	a := factory.Resolve(ctx, nil).Repository
	b := factory.Resolve(ctx, &domain.DBConfig{Provider: "memory"}).Repository
	if a != b {
		t.Fatalf("memory resolutions must share one repository")
	}
}
