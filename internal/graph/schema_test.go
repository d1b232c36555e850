package graph

import (
	"strings"
	"testing"
)

func TestMigrationsFrom(t *testing.T) {
	target, queries := MigrationsFrom(0)
	if target != CurrentSchemaVersion {
		t.Fatalf("target = %d, want %d", target, CurrentSchemaVersion)
	}
	if len(queries) == 0 {
		t.Fatalf("fresh database must receive the full migration plan")
	}
	if !strings.Contains(queries[0], "KGSchemaMeta") {
		t.Fatalf("v1 constraints must come first, got %q", queries[0])
	}

	_, fromOne := MigrationsFrom(1)
	if len(fromOne) >= len(queries) {
		t.Fatalf("plan from v1 must be shorter than from v0")
	}
	for _, q := range fromOne {
		if strings.Contains(q, "kg_entity_uuid") {
			t.Fatalf("already-applied v1 statement leaked into the plan: %q", q)
		}
	}

	_, fromLatest := MigrationsFrom(CurrentSchemaVersion)
	if len(fromLatest) != 0 {
		t.Fatalf("plan from the latest version must be empty, got %d statements", len(fromLatest))
	}
}

func TestMigrationVersionsAreOrdered(t *testing.T) {
	prev := 0
	for _, m := range migrations {
		if m.Version <= prev {
			t.Fatalf("migration versions must be strictly increasing, saw %d after %d", m.Version, prev)
		}
		if len(m.Queries) == 0 {
			t.Fatalf("migration v%d has no statements", m.Version)
		}
		prev = m.Version
	}
	if prev != CurrentSchemaVersion {
		t.Fatalf("last migration v%d must match CurrentSchemaVersion %d", prev, CurrentSchemaVersion)
	}
}
