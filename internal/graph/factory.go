package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/yungbote/kg-sidecar/internal/domain"
	"github.com/yungbote/kg-sidecar/internal/platform/logger"
	"github.com/yungbote/kg-sidecar/internal/platform/neo4jdb"
)

// Factory resolves the repository serving one request's db profile. Neo4j
// repositories are cached by connection identity and health-checked per
// resolve; an unhealthy backend falls back to the shared memory repository.
type Factory struct {
	log    *logger.Logger
	memory *MemoryRepository

	mu    sync.Mutex
	cache map[string]*Neo4jRepository

	health singleflight.Group
}

func NewFactory(log *logger.Logger) *Factory {
	return &Factory{
		log:    log.With("component", "GraphFactory"),
		memory: NewMemoryRepository(),
		cache:  make(map[string]*Neo4jRepository),
	}
}

// Memory exposes the shared fallback repository.
func (f *Factory) Memory() *MemoryRepository { return f.memory }

func cacheKey(db *domain.DBConfig) string {
	database := db.Database
	if database == "" {
		database = "neo4j"
	}
	return fmt.Sprintf("%s|%s|%s", db.URI, db.Username, database)
}

func neo4jConfigValid(db *domain.DBConfig) bool {
	return db != nil &&
		strings.EqualFold(db.Provider, domain.StorageNeo4j) &&
		strings.TrimSpace(db.URI) != "" &&
		strings.TrimSpace(db.Username) != "" &&
		strings.TrimSpace(db.Password) != ""
}

func (f *Factory) neo4jRepository(db *domain.DBConfig) (*Neo4jRepository, error) {
	key := cacheKey(db)
	f.mu.Lock()
	defer f.mu.Unlock()
	if repo, ok := f.cache[key]; ok {
		return repo, nil
	}
	client, err := neo4jdb.New(neo4jdb.Config{
		URI:      db.URI,
		Username: db.Username,
		Password: db.Password,
		Database: db.Database,
	}, f.log)
	if err != nil {
		return nil, err
	}
	repo := NewNeo4jRepository(client, f.log)
	f.cache[key] = repo
	return repo, nil
}

// Resolve picks the backend for a db profile. Concurrent resolves against
// the same connection share one health check.
func (f *Factory) Resolve(ctx context.Context, db *domain.DBConfig) Resolution {
	if db == nil || !strings.EqualFold(db.Provider, domain.StorageNeo4j) {
		return Resolution{Repository: f.memory, Storage: domain.StorageMemory}
	}
	if !neo4jConfigValid(db) {
		return Resolution{
			Repository:     f.memory,
			Storage:        domain.StorageMemory,
			FallbackReason: FallbackConfigInvalid,
		}
	}

	repo, err := f.neo4jRepository(db)
	if err != nil {
		f.log.Warn("neo4j repository init failed, falling back to memory", "error", err)
		return Resolution{
			Repository:     f.memory,
			Storage:        domain.StorageMemory,
			FallbackReason: FallbackConfigInvalid,
		}
	}

	healthy, _, _ := f.health.Do(cacheKey(db), func() (any, error) {
		return repo.HealthCheck(ctx), nil
	})
	if ok, _ := healthy.(bool); !ok {
		return Resolution{
			Repository:     f.memory,
			Storage:        domain.StorageMemory,
			FallbackReason: FallbackUnavailable,
		}
	}

	return Resolution{Repository: repo, Storage: domain.StorageNeo4j}
}
