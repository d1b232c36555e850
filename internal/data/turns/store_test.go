package turns

import (
	"context"
	"os"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yungbote/kg-sidecar/internal/domain"
	"github.com/yungbote/kg-sidecar/internal/platform/logger"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if req, err := store.GetRequest(ctx, "ghost"); err != nil || req != nil {
		t.Fatalf("unknown request lookup: %v %v", req, err)
	}

	request := &domain.TurnRequest{
		ConversationID: "conv-1",
		TurnID:         "t1",
		Step:           2,
		UserMessage:    "hello",
		ChatWindow:     []domain.ChatMessage{{Role: "user", Content: "hello"}},
	}
	if err := store.SaveRequest(ctx, request); err != nil {
		t.Fatalf("save request: %v", err)
	}
	loaded, err := store.GetRequest(ctx, "t1")
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if loaded == nil || loaded.ConversationID != "conv-1" || loaded.Step != 2 {
		t.Fatalf("request round trip: %+v", loaded)
	}

	result := &domain.TurnResult{
		OK:             true,
		ConversationID: "conv-1",
		TurnID:         "t1",
		Commit:         domain.CommitInfo{Status: domain.StateCommitted, TxID: "t1:memory"},
	}
	if err := store.SaveResult(ctx, result); err != nil {
		t.Fatalf("save result: %v", err)
	}
	got, err := store.GetResult(ctx, "t1")
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if got == nil || got.Commit.Status != domain.StateCommitted || got.Commit.TxID != "t1:memory" {
		t.Fatalf("result round trip: %+v", got)
	}

	// Saving again overwrites rather than duplicating.
	result.Commit.TxID = "t1:retry"
	if err := store.SaveResult(ctx, result); err != nil {
		t.Fatalf("resave result: %v", err)
	}
	got, _ = store.GetResult(ctx, "t1")
	if got.Commit.TxID != "t1:retry" {
		t.Fatalf("resave not applied: %+v", got)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestGormStoreSqlite(t *testing.T) {
	if os.Getenv("TURNS_TEST_SQLITE") == "" {
		t.Skip("TURNS_TEST_SQLITE not set; skipping sqlite-backed store test")
	}
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	db, err := gorm.Open(sqlite.Open(t.TempDir()+"/turns.db"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	store, err := NewGormStore(db, log)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	exerciseStore(t, store)
}
