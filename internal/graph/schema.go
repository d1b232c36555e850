package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/kg-sidecar/internal/platform/neo4jdb"
)

// CurrentSchemaVersion is the highest migration version this build knows.
const CurrentSchemaVersion = 3

const schemaMetaName = "kg-sidecar"

// Migration is an ordered batch of idempotent statements targeting one
// schema version. Statements must be safe to re-run: a crash mid-migration
// followed by a restart converges to the same end state.
type Migration struct {
	Version int
	Queries []string
}

var migrations = []Migration{
	{
		Version: 1,
		Queries: []string{
			"CREATE CONSTRAINT kg_schema_meta_name IF NOT EXISTS FOR (m:KGSchemaMeta) REQUIRE m.name IS UNIQUE",
			"CREATE CONSTRAINT kg_entity_uuid IF NOT EXISTS FOR (e:KGEntity) REQUIRE e.uuid IS UNIQUE",
			"CREATE CONSTRAINT kg_turn_turn_id IF NOT EXISTS FOR (t:KGTurn) REQUIRE t.turn_id IS UNIQUE",
			"CREATE CONSTRAINT kg_rel_event_id IF NOT EXISTS FOR (ev:KGRelEvent) REQUIRE ev.event_id IS UNIQUE",
			"CREATE CONSTRAINT kg_milestone_id IF NOT EXISTS FOR (m:KGMilestone) REQUIRE m.milestone_id IS UNIQUE",
		},
	},
	{
		Version: 2,
		Queries: []string{
			"CREATE INDEX kg_turn_conversation IF NOT EXISTS FOR (t:KGTurn) ON (t.conversation_id)",
			"CREATE INDEX kg_entity_name IF NOT EXISTS FOR (e:KGEntity) ON (e.name)",
			"CREATE INDEX kg_rel_conversation IF NOT EXISTS FOR ()-[r:KG_REL]-() ON (r.conversation_id)",
			"CREATE INDEX kg_rel_last_step IF NOT EXISTS FOR ()-[r:KG_REL]-() ON (r.last_step)",
			"CREATE INDEX kg_event_conversation IF NOT EXISTS FOR (ev:KGRelEvent) ON (ev.conversation_id)",
			"CREATE INDEX kg_event_turn IF NOT EXISTS FOR (ev:KGRelEvent) ON (ev.turn_id)",
			"CREATE INDEX kg_milestone_conversation IF NOT EXISTS FOR (m:KGMilestone) ON (m.conversation_id)",
		},
	},
	{
		Version: 3,
		Queries: []string{
			"CREATE CONSTRAINT kg_entity_key IF NOT EXISTS FOR (e:KGEntity) REQUIRE e.entity_key IS UNIQUE",
			"CREATE CONSTRAINT kg_event_key IF NOT EXISTS FOR (ev:KGEvent) REQUIRE ev.event_key IS UNIQUE",
			"CREATE INDEX kg_entity_id IF NOT EXISTS FOR (e:KGEntity) ON (e.id)",
			"CREATE INDEX kg_entity_bio IF NOT EXISTS FOR (e:KGEntity) ON (e.bio)",
			"CREATE INDEX kg_event_id IF NOT EXISTS FOR (ev:KGEvent) ON (ev.event_id)",
			`MATCH (e:KGEntity)
SET e.entity_key = coalesce(e.entity_key, e.uuid, e.name),
    e.id = coalesce(e.id, e.name, replace(e.uuid, 'char:', '')),
    e.bio = coalesce(e.bio, 'bio pending')`,
			`MATCH (rev:KGRelEvent)-[:FROM_ENTITY]->(fromEntity:KGEntity)
OPTIONAL MATCH (rev)-[:TO_ENTITY]->(toEntity:KGEntity)
WITH rev, fromEntity, toEntity
MERGE (ev:KGEvent {event_key: rev.event_id})
ON CREATE SET ev.created_at = datetime()
SET ev.event_id = coalesce(rev.event_name, rev.event_id),
    ev.turn_id = rev.turn_id,
    ev.conversation_id = rev.conversation_id,
    ev.action = rev.action,
    ev.evidence_quote = rev.evidence_quote,
    ev.updated_at = datetime()
MERGE (fromEntity)-[rf:INVOLVES]->(ev)
SET rf.role = coalesce(rf.role, 'subject')
FOREACH (_ IN CASE WHEN toEntity IS NULL THEN [] ELSE [1] END |
    MERGE (toEntity)-[rt:INVOLVES]->(ev)
    SET rt.role = coalesce(rt.role, 'object')
)`,
		},
	},
}

// MigrationsFrom partitions the fixed migration list by "version > applied"
// and flattens the remainder, in order. From the latest version the plan is
// empty.
func MigrationsFrom(fromVersion int) (targetVersion int, queries []string) {
	for _, m := range migrations {
		if m.Version > fromVersion {
			queries = append(queries, m.Queries...)
		}
	}
	return CurrentSchemaVersion, queries
}

// SchemaInfo reports the outcome of one EnsureSchema run.
type SchemaInfo struct {
	VersionBefore     int
	VersionAfter      int
	MigrationsApplied int
}

// EnsureSchema reads the singleton meta record, applies every pending
// migration in order, then records the highest applied version.
func EnsureSchema(ctx context.Context, client *neo4jdb.Client) (SchemaInfo, error) {
	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: client.Database})
	defer session.Close(ctx)

	before, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MERGE (m:KGSchemaMeta {name: $name})
			ON CREATE SET m.version = 0,
			              m.created_at = datetime(),
			              m.updated_at = datetime()
			RETURN m.version AS version
		`, map[string]any{"name": schemaMetaName})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		version, _ := record.Get("version")
		return version, nil
	})
	if err != nil {
		return SchemaInfo{}, fmt.Errorf("graph: read schema version: %w", err)
	}

	versionBefore := toInt(before)
	targetVersion, queries := MigrationsFrom(versionBefore)
	info := SchemaInfo{VersionBefore: versionBefore, VersionAfter: targetVersion, MigrationsApplied: len(queries)}
	if len(queries) == 0 {
		return info, nil
	}

	// Constraint/index DDL cannot share a transaction with data statements,
	// so each migration query runs in its own auto-commit transaction.
	for _, query := range queries {
		if _, err := session.Run(ctx, query, nil); err != nil {
			return info, fmt.Errorf("graph: apply migration: %w", err)
		}
	}

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, `
			MATCH (m:KGSchemaMeta {name: $name})
			SET m.version = $version,
			    m.updated_at = datetime()
		`, map[string]any{"name": schemaMetaName, "version": targetVersion})
	})
	if err != nil {
		return info, fmt.Errorf("graph: record schema version: %w", err)
	}
	return info, nil
}

func toInt(value any) int {
	switch v := value.(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
