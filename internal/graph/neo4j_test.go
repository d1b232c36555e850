package graph

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/yungbote/kg-sidecar/internal/domain"
	"github.com/yungbote/kg-sidecar/internal/platform/logger"
	"github.com/yungbote/kg-sidecar/internal/platform/neo4jdb"
)

// testNeo4jRepo connects to the instance named by NEO4J_TEST_URI, or skips.
func testNeo4jRepo(t *testing.T) *Neo4jRepository {
	t.Helper()
	uri := os.Getenv("NEO4J_TEST_URI")
	if uri == "" {
		t.Skip("NEO4J_TEST_URI not set; skipping neo4j integration test")
	}

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	client, err := neo4jdb.New(neo4jdb.Config{
		URI:      uri,
		Username: os.Getenv("NEO4J_TEST_USERNAME"),
		Password: os.Getenv("NEO4J_TEST_PASSWORD"),
		Database: os.Getenv("NEO4J_TEST_DATABASE"),
	}, log)
	if err != nil {
		t.Fatalf("neo4j client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close(context.Background()) })
	return NewNeo4jRepository(client, log)
}

func TestNeo4jCommitAndQueryRoundTrip(t *testing.T) {
	repo := testNeo4jRepo(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if !repo.HealthCheck(ctx) {
		t.Fatalf("health check failed against configured instance")
	}
	if _, err := repo.ClearGraph(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}

	delta := 0.2
	receipt, err := repo.CommitMutation(ctx, &domain.Mutation{
		ConversationID: "itest-conv",
		TurnID:         "itest-t1",
		Step:           1,
		Actions: []domain.Action{{
			Action: domain.ActionEvolve, FromUUID: "char:Ilsa", ToUUID: "char:Rook",
			FromName: "Ilsa", ToName: "Rook", NewLabel: "ALLY", DeltaWeight: &delta,
			EvidenceQuote: "fought side by side",
		}},
		Entities: []domain.EntityRef{
			{UUID: "char:Ilsa", Name: "Ilsa"},
			{UUID: "char:Rook", Name: "Rook"},
		},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !receipt.Committed || receipt.Storage != domain.StorageNeo4j {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	relation, err := repo.GetRelation(ctx, "itest-conv", "char:Ilsa", "char:Rook")
	if err != nil {
		t.Fatalf("get relation: %v", err)
	}
	if relation == nil || relation.Label != "ALLY" {
		t.Fatalf("relation not persisted: %+v", relation)
	}

	events, err := repo.QueryKeyEvents(ctx, domain.KeyEventQuery{
		ConversationID:   "itest-conv",
		FocusEntityUUIDs: []string{"char:Ilsa"},
		Limit:            5,
		CurrentStep:      1,
		MaxAgeSteps:      80,
	})
	if err != nil {
		t.Fatalf("key events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("want 1 event, got %d", len(events))
	}

	report, err := repo.ClearGraph(ctx)
	if err != nil {
		t.Fatalf("final clear: %v", err)
	}
	if report.DeletedNodes == 0 {
		t.Fatalf("clear should report deleted nodes: %+v", report)
	}
}

func TestNeo4jReplaceDeletesPriorEdge(t *testing.T) {
	repo := testNeo4jRepo(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := repo.ClearGraph(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}

	delta := 0.4
	if _, err := repo.CommitMutation(ctx, &domain.Mutation{
		ConversationID: "itest-conv",
		TurnID:         "itest-t1",
		Step:           1,
		Actions: []domain.Action{{
			Action: domain.ActionEvolve, FromUUID: "char:Ilsa", ToUUID: "char:Rook",
			NewLabel: "ALLY", DeltaWeight: &delta,
		}},
	}); err != nil {
		t.Fatalf("seed commit: %v", err)
	}
	if _, err := repo.CommitMutation(ctx, &domain.Mutation{
		ConversationID: "itest-conv",
		TurnID:         "itest-t2",
		Step:           2,
		Actions: []domain.Action{{
			Action: domain.ActionReplace, FromUUID: "char:Ilsa", ToUUID: "char:Rook",
			OldLabel: "ALLY", NewLabel: "TRAITOR",
		}},
	}); err != nil {
		t.Fatalf("replace commit: %v", err)
	}

	relation, err := repo.GetRelation(ctx, "itest-conv", "char:Ilsa", "char:Rook")
	if err != nil {
		t.Fatalf("get relation: %v", err)
	}
	if relation == nil || relation.Label != "TRAITOR" {
		t.Fatalf("relation after REPLACE: %+v", relation)
	}
	if relation.Weight != domain.ReplaceBaselineWeight {
		t.Fatalf("REPLACE must reset weight to %v, got %v", domain.ReplaceBaselineWeight, relation.Weight)
	}
}
