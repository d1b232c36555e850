package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/kg-sidecar/internal/domain"
	"github.com/yungbote/kg-sidecar/internal/platform/logger"
	"github.com/yungbote/kg-sidecar/internal/platform/neo4jdb"
)

// Neo4jRepository implements the graph contract against Neo4j. Readiness
// (connectivity check + schema migration) is established lazily on first use
// and retried on the next call if it failed.
type Neo4jRepository struct {
	client *neo4jdb.Client
	log    *logger.Logger

	mu    sync.Mutex
	ready bool
}

func NewNeo4jRepository(client *neo4jdb.Client, log *logger.Logger) *Neo4jRepository {
	return &Neo4jRepository{
		client: client,
		log:    log.With("repository", "Neo4jGraph"),
	}
}

func (r *Neo4jRepository) Storage() string         { return domain.StorageNeo4j }
func (r *Neo4jRepository) StrongConsistency() bool { return true }

func (r *Neo4jRepository) ensureReady(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready {
		return nil
	}
	if err := r.client.VerifyConnectivity(ctx); err != nil {
		return err
	}
	info, err := EnsureSchema(ctx, r.client)
	if err != nil {
		return err
	}
	if info.MigrationsApplied > 0 {
		r.log.Info("graph schema migrated",
			"version_before", info.VersionBefore,
			"version_after", info.VersionAfter,
			"statements", info.MigrationsApplied)
	}
	r.ready = true
	return nil
}

func (r *Neo4jRepository) HealthCheck(ctx context.Context) bool {
	return r.ensureReady(ctx) == nil
}

func (r *Neo4jRepository) readSession(ctx context.Context) neo4j.SessionWithContext {
	return r.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: r.client.Database,
		AccessMode:   neo4j.AccessModeRead,
	})
}

func (r *Neo4jRepository) writeSession(ctx context.Context) neo4j.SessionWithContext {
	return r.client.Driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: r.client.Database})
}

func (r *Neo4jRepository) ResolveEntityCandidatesByName(ctx context.Context, name string) ([]domain.EntityCandidate, error) {
	if err := r.ensureReady(ctx); err != nil {
		return nil, err
	}
	session := r.readSession(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (e:KGEntity)
			WHERE toLower(e.name) = toLower($name)
			RETURN e.entity_key AS uuid, e.name AS name, e.bio AS bio
			LIMIT 5
		`, map[string]any{"name": truncateRunes(strings.TrimSpace(name), 80)})
		if err != nil {
			return nil, err
		}
		var candidates []domain.EntityCandidate
		for result.Next(ctx) {
			record := result.Record()
			candidates = append(candidates, domain.EntityCandidate{
				UUID: stringOf(record, "uuid"),
				Name: stringOf(record, "name"),
				Bio:  stringOf(record, "bio"),
			})
		}
		return candidates, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("graph: resolve candidates: %w", err)
	}
	candidates, _ := out.([]domain.EntityCandidate)
	return candidates, nil
}

func (r *Neo4jRepository) GetRelation(ctx context.Context, conversationID, fromUUID, toUUID string) (*domain.Relation, error) {
	if err := r.ensureReady(ctx); err != nil {
		return nil, err
	}
	session := r.readSession(ctx)
	defer session.Close(ctx)

	key := domain.RelationKey(conversationID, fromUUID, toUUID)
	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (a:KGEntity {entity_key: $from})-[r:KG_REL {key: $key}]->(b:KGEntity {entity_key: $to})
			RETURN a.entity_key AS from_uuid,
			       b.entity_key AS to_uuid,
			       r.label AS label,
			       r.weight AS weight,
			       r.last_step AS last_step
			LIMIT 1
		`, map[string]any{"from": fromUUID, "to": toUUID, "key": key})
		if err != nil {
			return nil, err
		}
		if !result.Next(ctx) {
			return nil, result.Err()
		}
		record := result.Record()
		return &domain.Relation{
			Key:            key,
			ConversationID: conversationID,
			FromUUID:       stringOf(record, "from_uuid"),
			ToUUID:         stringOf(record, "to_uuid"),
			Label:          stringOf(record, "label"),
			Weight:         floatOf(record, "weight", 0.5),
			LastStep:       intOf(record, "last_step"),
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: get relation: %w", err)
	}
	relation, _ := out.(*domain.Relation)
	return relation, nil
}

func (r *Neo4jRepository) QueryKeyEvents(ctx context.Context, q domain.KeyEventQuery) ([]domain.KeyEvent, error) {
	if err := r.ensureReady(ctx); err != nil {
		return nil, err
	}
	session := r.readSession(ctx)
	defer session.Close(ctx)

	limit := clampInt(q.Limit, 1, 20, 4)
	maxAge := q.MaxAgeSteps
	if maxAge < 1 {
		maxAge = 30
	}
	focus := make([]any, 0, len(q.FocusEntityUUIDs))
	for _, uuid := range q.FocusEntityUUIDs {
		if trimmed := strings.TrimSpace(uuid); trimmed != "" {
			focus = append(focus, trimmed)
		}
	}

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MATCH (ev:KGEvent)-[:IN_TURN]->(t:KGTurn)
			WHERE ev.conversation_id = $conversationId
			OPTIONAL MATCH (entity:KGEntity)-[inv:INVOLVES]->(ev)
			WITH ev, t, collect({
				uuid: entity.entity_key,
				id: coalesce(entity.id, entity.name, entity.entity_key),
				role: coalesce(inv.role, 'participant')
			}) AS participants
			WHERE size($focus) = 0
			   OR any(participant IN participants WHERE participant.uuid IN $focus)
			WITH ev, t, participants,
			     CASE
			        WHEN ev.action = 'REPLACE' THEN 3
			        WHEN ev.action = 'DELETE' THEN 2
			        ELSE 1
			     END AS actionPriority
			WHERE $nowStep < 0
			   OR abs($nowStep - coalesce(t.step, 0)) <= $maxAge
			RETURN ev.event_id AS event_id,
			       ev.action AS action,
			       ev.evidence_quote AS evidence_quote,
			       ev.turn_id AS turn_id,
			       t.step AS step,
			       participants AS participants
			ORDER BY actionPriority DESC, t.step DESC
			LIMIT $limit
		`, map[string]any{
			"conversationId": truncateRunes(q.ConversationID, 120),
			"focus":          focus,
			"nowStep":        q.CurrentStep,
			"maxAge":         maxAge,
			"limit":          limit,
		})
		if err != nil {
			return nil, err
		}
		var events []domain.KeyEvent
		for result.Next(ctx) {
			record := result.Record()
			step := intOf(record, "step")
			event := domain.KeyEvent{
				EventID:       stringOf(record, "event_id"),
				Action:        stringOf(record, "action"),
				EvidenceQuote: stringOf(record, "evidence_quote"),
				TurnID:        stringOf(record, "turn_id"),
				Step:          step,
				ScoreHint:     domain.EventScore(stringOf(record, "action"), step, q.CurrentStep, maxAge),
			}
			if raw, ok := record.Get("participants"); ok {
				if items, ok := raw.([]any); ok {
					for _, item := range items {
						entry, ok := item.(map[string]any)
						if !ok {
							continue
						}
						uuid, _ := entry["uuid"].(string)
						if uuid == "" {
							continue
						}
						id, _ := entry["id"].(string)
						role, _ := entry["role"].(string)
						event.Participants = append(event.Participants, domain.EventParticipant{UUID: uuid, ID: id, Role: role})
					}
				}
			}
			events = append(events, event)
		}
		return events, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("graph: query key events: %w", err)
	}
	events, _ := out.([]domain.KeyEvent)
	return events, nil
}

const upsertEntityCypher = `
	MERGE (e:KGEntity {entity_key: $entityKey})
	ON CREATE SET e.created_at = datetime()
	SET e.uuid = $entityKey,
	    e.entity_key = $entityKey,
	    e.id = $id,
	    e.name = $id,
	    e.canonical_name = $id,
	    e.bio = coalesce(e.bio, $bio),
	    e.last_seen_step = $step,
	    e.updated_at = datetime()
`

func entityParams(uuid, name, bio string, step int) map[string]any {
	displayID := domain.DisplayIDFromEntityRef(orDefault(name, uuid))
	if displayID == "" {
		displayID = truncateRunes(uuid, 120)
	}
	if strings.TrimSpace(bio) == "" {
		bio = domain.DefaultBio
	}
	return map[string]any{
		"entityKey": uuid,
		"id":        displayID,
		"bio":       truncateRunes(bio, 500),
		"step":      step,
	}
}

func (r *Neo4jRepository) CommitMutation(ctx context.Context, m *domain.Mutation) (domain.CommitReceipt, error) {
	receipt := domain.CommitReceipt{Storage: domain.StorageNeo4j}
	if err := r.ensureReady(ctx); err != nil {
		return receipt, err
	}
	session := r.writeSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (t:KGTurn {turn_id: $turnId})
			ON CREATE SET t.created_at = datetime()
			SET t.conversation_id = $conversationId,
			    t.step = $step,
			    t.updated_at = datetime()
		`, map[string]any{"turnId": m.TurnID, "conversationId": m.ConversationID, "step": m.Step}); err != nil {
			return nil, err
		}

		for _, entity := range m.Entities {
			if entity.UUID == "" {
				continue
			}
			if _, err := tx.Run(ctx, upsertEntityCypher, entityParams(entity.UUID, entity.Name, entity.Bio, m.Step)); err != nil {
				return nil, err
			}
		}

		for index, action := range m.Actions {
			if err := r.applyAction(ctx, tx, m, index, action); err != nil {
				return nil, err
			}
		}

		if m.Judge != nil {
			for _, patch := range m.Judge.BioSyncPatch {
				if patch.UUID == "" {
					continue
				}
				if _, err := tx.Run(ctx, `
					MERGE (e:KGEntity {entity_key: $uuid})
					SET e.bio = $after,
					    e.bio_before = $before,
					    e.bio_last_cause = $cause,
					    e.bio_updated_at = datetime()
				`, map[string]any{
					"uuid":   patch.UUID,
					"after":  truncateRunes(patch.After, 500),
					"before": truncateRunes(patch.Before, 500),
					"cause":  truncateRunes(patch.Cause, 500),
				}); err != nil {
					return nil, err
				}
			}
		}

		for _, item := range timelineItemsOf(m.Historian, m.TurnID) {
			if _, err := tx.Run(ctx, `
				MATCH (t:KGTurn {turn_id: $turnId})
				MERGE (m:KGMilestone {milestone_id: $milestoneId})
				ON CREATE SET m.created_at = datetime()
				SET m.turn_id = $turnId,
				    m.conversation_id = $conversationId,
				    m.content = $content
				MERGE (m)-[:IN_TURN]->(t)
			`, map[string]any{
				"turnId":         m.TurnID,
				"conversationId": m.ConversationID,
				"milestoneId":    truncateRunes(item.ID, 180),
				"content":        truncateRunes(item.Tag, 500),
			}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return receipt, fmt.Errorf("graph: commit mutation: %w", err)
	}

	receipt.Committed = true
	receipt.TxID = m.TurnID + ":neo4j"
	return receipt, nil
}

const relationMutationCypher = `
	MERGE (a:KGEntity {entity_key: $fromKey})
	ON CREATE SET a.created_at = datetime()
	SET a.uuid = $fromKey,
	    a.id = $fromId,
	    a.name = $fromId,
	    a.canonical_name = $fromId,
	    a.bio = coalesce(a.bio, $fromBio),
	    a.last_seen_step = $step,
	    a.updated_at = datetime()
	MERGE (b:KGEntity {entity_key: $toKey})
	ON CREATE SET b.created_at = datetime()
	SET b.uuid = $toKey,
	    b.id = $toId,
	    b.name = $toId,
	    b.canonical_name = $toId,
	    b.bio = coalesce(b.bio, $toBio),
	    b.last_seen_step = $step,
	    b.updated_at = datetime()
	MERGE (a)-[r:KG_REL {key: $key}]->(b)
`

func (r *Neo4jRepository) applyAction(ctx context.Context, tx neo4j.ManagedTransaction, m *domain.Mutation, index int, action domain.Action) error {
	key := domain.RelationKey(m.ConversationID, action.FromUUID, action.ToUUID)
	fromDisplay := domain.DisplayIDFromEntityRef(orDefault(action.FromName, action.FromUUID))
	toDisplay := domain.DisplayIDFromEntityRef(orDefault(action.ToName, action.ToUUID))
	eventName := strings.TrimSpace(action.EventName)
	if eventName == "" {
		eventName = domain.EventIDForAction(action.Action, action.FromName, action.ToName)
	}
	eventName = truncateRunes(eventName, 180)
	deltaWeight := 0.0
	if action.DeltaWeight != nil {
		deltaWeight = *action.DeltaWeight
	}

	params := map[string]any{
		"fromKey":        action.FromUUID,
		"toKey":          action.ToUUID,
		"fromId":         orDefault(fromDisplay, truncateRunes(action.FromUUID, 120)),
		"toId":           orDefault(toDisplay, truncateRunes(action.ToUUID, 120)),
		"fromBio":        domain.DefaultBio,
		"toBio":          domain.DefaultBio,
		"key":            key,
		"conversationId": m.ConversationID,
		"turnId":         m.TurnID,
		"step":           m.Step,
		"evidence":       truncateRunes(action.EvidenceQuote, 500),
		"deltaWeight":    deltaWeight,
		"newLabel":       truncateRunes(action.NewLabel, 120),
		"oldLabel":       truncateRunes(action.OldLabel, 120),
		"actionType":     action.Action,
		"eventName":      eventName,
		"eventKey":       truncateRunes(domain.EventKeyFor(m.TurnID, index, eventName), 240),
		"eventId":        truncateRunes(fmt.Sprintf("event:%s:%d:%s", m.TurnID, index+1, strings.TrimPrefix(eventName, "event:")), 240),
		"cause":          truncateRunes(action.Cause, 500),
	}

	// Relation mutation. REPLACE deletes the prior edge before recreating it
	// so the old weight cannot survive a label change.
	switch action.Action {
	case domain.ActionDelete:
		if _, err := tx.Run(ctx, `
			MATCH (:KGEntity {entity_key: $fromKey})-[r:KG_REL {key: $key}]->(:KGEntity {entity_key: $toKey})
			DELETE r
		`, params); err != nil {
			return err
		}
	case domain.ActionReplace:
		if _, err := tx.Run(ctx, `
			MATCH (:KGEntity {entity_key: $fromKey})-[r:KG_REL {key: $key}]->(:KGEntity {entity_key: $toKey})
			DELETE r
		`, params); err != nil {
			return err
		}
		if _, err := tx.Run(ctx, relationMutationCypher+`
			SET r.conversation_id = $conversationId,
			    r.last_turn_id = $turnId,
			    r.last_step = $step,
			    r.last_evidence_quote = $evidence,
			    r.weight = 0.5,
			    r.label = $newLabel,
			    r.status = $newLabel,
			    r.name = $newLabel,
			    r.updated_at = datetime()
		`, params); err != nil {
			return err
		}
	default:
		if _, err := tx.Run(ctx, relationMutationCypher+`
			SET r.conversation_id = $conversationId,
			    r.last_turn_id = $turnId,
			    r.last_step = $step,
			    r.last_evidence_quote = $evidence,
			    r.weight = coalesce(r.weight, 0) + $deltaWeight,
			    r.label = coalesce(r.label, 'ALLY'),
			    r.status = coalesce(r.status, r.label, 'ALLY'),
			    r.name = coalesce(r.name, r.status, r.label, 'ALLY'),
			    r.updated_at = datetime()
		`, params); err != nil {
			return err
		}
	}

	participants := actionParticipants(action)
	for _, p := range participants {
		if _, err := tx.Run(ctx, upsertEntityCypher, entityParams(p.UUID, p.Name, p.Bio, m.Step)); err != nil {
			return err
		}
	}

	// Relation-level event node, linked to the turn and both endpoints. The
	// endpoints are matched, not the KG_REL edge, so a DELETE action's event
	// does not resurrect the removed relation.
	if _, err := tx.Run(ctx, `
		MATCH (fromEntity:KGEntity {entity_key: $fromKey})
		MATCH (toEntity:KGEntity {entity_key: $toKey})
		MATCH (t:KGTurn {turn_id: $turnId})
		MERGE (ev:KGRelEvent {event_id: $eventId})
		ON CREATE SET ev.created_at = datetime()
		SET ev.turn_id = $turnId,
		    ev.conversation_id = $conversationId,
		    ev.event_name = $eventName,
		    ev.action = $actionType,
		    ev.old_label = CASE WHEN $oldLabel = '' THEN null ELSE $oldLabel END,
		    ev.new_label = CASE WHEN $newLabel = '' THEN null ELSE $newLabel END,
		    ev.delta_weight = $deltaWeight,
		    ev.evidence_quote = $evidence,
		    ev.cause = CASE WHEN $cause = '' THEN null ELSE $cause END
		MERGE (ev)-[:IN_TURN]->(t)
		MERGE (ev)-[:FROM_ENTITY]->(fromEntity)
		MERGE (ev)-[:TO_ENTITY]->(toEntity)
	`, params); err != nil {
		return err
	}

	// Keyed event node used by key-event retrieval.
	if _, err := tx.Run(ctx, `
		MATCH (t:KGTurn {turn_id: $turnId})
		MERGE (ev:KGEvent {event_key: $eventKey})
		ON CREATE SET ev.created_at = datetime()
		SET ev.event_id = $eventName,
		    ev.id = $eventName,
		    ev.name = $eventName,
		    ev.turn_id = $turnId,
		    ev.conversation_id = $conversationId,
		    ev.action = $actionType,
		    ev.evidence_quote = $evidence,
		    ev.updated_at = datetime()
		MERGE (ev)-[:IN_TURN]->(t)
	`, params); err != nil {
		return err
	}

	for _, p := range participants {
		if _, err := tx.Run(ctx, `
			MATCH (e:KGEntity {entity_key: $entityKey})
			MATCH (ev:KGEvent {event_key: $eventKey})
			MERGE (e)-[r:INVOLVES]->(ev)
			SET r.role = $role
		`, map[string]any{
			"entityKey": p.UUID,
			"eventKey":  params["eventKey"],
			"role":      truncateRunes(p.Role, 40),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *Neo4jRepository) ClearGraph(ctx context.Context) (domain.ClearReport, error) {
	report := domain.ClearReport{Storage: domain.StorageNeo4j}
	if err := r.ensureReady(ctx); err != nil {
		return report, err
	}
	session := r.writeSession(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// Relationship count is taken before DETACH DELETE removes them.
		relResult, err := tx.Run(ctx, `
			MATCH (n)-[r]-()
			WHERE n:KGEntity OR n:KGTurn OR n:KGRelEvent OR n:KGEvent OR n:KGMilestone
			RETURN count(DISTINCT r) AS deleted_relationships
		`, nil)
		if err != nil {
			return nil, err
		}
		relRecord, err := relResult.Single(ctx)
		if err != nil {
			return nil, err
		}

		nodeResult, err := tx.Run(ctx, `
			MATCH (n)
			WHERE n:KGEntity OR n:KGTurn OR n:KGRelEvent OR n:KGEvent OR n:KGMilestone
			WITH collect(n) AS nodes, count(n) AS deleted_nodes
			FOREACH (node IN nodes | DETACH DELETE node)
			RETURN deleted_nodes
		`, nil)
		if err != nil {
			return nil, err
		}
		nodeRecord, err := nodeResult.Single(ctx)
		if err != nil {
			return nil, err
		}

		rels, _ := relRecord.Get("deleted_relationships")
		nodes, _ := nodeRecord.Get("deleted_nodes")
		return [2]int{toInt(nodes), toInt(rels)}, nil
	})
	if err != nil {
		return report, fmt.Errorf("graph: clear: %w", err)
	}

	counts := out.([2]int)
	report.OK = true
	report.DeletedNodes = counts[0]
	report.DeletedRelationships = counts[1]
	return report, nil
}

func stringOf(record *neo4j.Record, key string) string {
	value, ok := record.Get(key)
	if !ok || value == nil {
		return ""
	}
	s, _ := value.(string)
	return s
}

func floatOf(record *neo4j.Record, key string, fallback float64) float64 {
	value, ok := record.Get(key)
	if !ok || value == nil {
		return fallback
	}
	switch v := value.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return fallback
	}
}

func intOf(record *neo4j.Record, key string) int {
	value, ok := record.Get(key)
	if !ok || value == nil {
		return 0
	}
	return toInt(value)
}
