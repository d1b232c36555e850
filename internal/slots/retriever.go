package slots

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/kg-sidecar/internal/domain"
	"github.com/yungbote/kg-sidecar/internal/graph"
	"github.com/yungbote/kg-sidecar/internal/model"
	"github.com/yungbote/kg-sidecar/internal/platform/openrouter"
)

// genericEntityNames are pronouns and role words that must never become
// graph nodes.
var genericEntityNames = map[string]bool{
	"user": true, "assistant": true, "system": true, "ai": true, "bot": true,
	"you": true, "me": true, "i": true, "we": true, "they": true, "their": true,
	"he": true, "she": true, "it": true, "myself": true, "narrator": true,
}

func sanitizeEntityName(name string) string {
	return truncate(strings.TrimSpace(name), 80)
}

func isGenericEntityName(name string) bool {
	key := strings.ToLower(sanitizeEntityName(name))
	if key == "" {
		return true
	}
	return genericEntityNames[key]
}

func toFocusEntity(name string) (domain.FocusEntity, bool) {
	normalized := sanitizeEntityName(name)
	uuid := domain.EntityUUIDForName(normalized)
	if normalized == "" || uuid == "" || isGenericEntityName(normalized) {
		return domain.FocusEntity{}, false
	}
	return domain.FocusEntity{Name: normalized, UUID: uuid}, true
}

func appendUniqueEntity(target []domain.FocusEntity, name string) []domain.FocusEntity {
	entity, ok := toFocusEntity(name)
	if !ok {
		return target
	}
	for _, existing := range target {
		if strings.EqualFold(existing.Name, entity.Name) {
			return target
		}
	}
	return append(target, entity)
}

type retrieverPayload struct {
	FocusEntities []struct {
		Name string `json:"name"`
	} `json:"focus_entities"`
	RelationHints  []domain.RelationHint `json:"relation_hints"`
	RetrievalNotes string                `json:"retrieval_notes"`
}

// RetrieveEntities identifies this turn's focus characters, their identity
// candidates, the current stored relation, and recent key events.
func RetrieveEntities(ctx context.Context, rt *Runtime, req *domain.TurnRequest, repo graph.Repository) (*domain.RetrieverOutput, error) {
	cfg := &req.Config
	route, stageErr := rt.requireStrictRoute(model.SlotRetriever, cfg)
	if stageErr != nil {
		return nil, stageErr
	}

	window := tailWindow(req.ChatWindow, contextWindow(cfg))
	systemPrompt := buildSlotSystemPrompt("Retriever", strings.Join([]string{
		"Identify this turn's key character entities and emit focus_entities plus relation_hints.",
		"focus_entities must be character names only, never action phrases, relation phrases, or event descriptions.",
		"If no character can be confirmed, return empty arrays and explain why in retrieval_notes.",
	}, "\n"))
	userPrompt := strings.Join([]string{
		"Input context (JSON):",
		compactJSON(map[string]any{
			"user_message": req.UserMessage,
			"chat_window":  window,
		}, 32000),
		"Output JSON schema:",
		`{"focus_entities":[{"name":"character"}],"relation_hints":[{"from_name":"A","to_name":"B","label":"ALLY|TRAITOR|ENEMY|MENTOR","confidence":0.0}],"retrieval_notes":"..."}`,
	}, "\n")

	var payload retrieverPayload
	if err := rt.Client.GenerateJSON(ctx, openrouter.Request{
		Model:        route.Model,
		SystemPrompt: systemPrompt,
		UserMessage:  userPrompt,
		Temperature:  route.Temperature,
		MaxTokens:    1200,
		Timeout:      slotTimeout(cfg, model.SlotRetriever, 22000*msec),
	}, &payload); err != nil {
		return nil, llmCallError(model.SlotRetriever, err)
	}

	relationHints := payload.RelationHints
	if len(relationHints) > 4 {
		relationHints = relationHints[:4]
	}

	var modelFocus []domain.FocusEntity
	for _, item := range payload.FocusEntities {
		if len(modelFocus) >= 6 {
			break
		}
		modelFocus = appendUniqueEntity(modelFocus, item.Name)
	}
	if len(modelFocus) == 0 {
		return nil, domain.NewStageError(model.SlotRetriever, "RETRIEVER_LLM_EMPTY",
			"retriever produced no focus entities; turn rejected", true)
	}

	merged := modelFocus
	for _, hint := range relationHints {
		merged = appendUniqueEntity(merged, hint.FromName)
		merged = appendUniqueEntity(merged, hint.ToName)
	}
	if len(merged) > 2 {
		merged = merged[:2]
	}
	focusEntities := merged

	candidates := make([]domain.CandidateSet, len(focusEntities))
	var currentRelation *domain.Relation

	// Candidate resolution and the current-relation lookup are independent
	// graph reads; fan them out.
	group, groupCtx := errgroup.WithContext(ctx)
	for i, entity := range focusEntities {
		group.Go(func() error {
			uuids := resolveCandidateUUIDs(groupCtx, repo, entity)
			candidates[i] = domain.CandidateSet{Name: entity.Name, UUIDs: uuids}
			return nil
		})
	}
	if len(focusEntities) >= 2 {
		group.Go(func() error {
			relation, err := repo.GetRelation(groupCtx, req.ConversationID, focusEntities[0].UUID, focusEntities[1].UUID)
			if err == nil {
				currentRelation = relation
			}
			return nil
		})
	}
	_ = group.Wait()

	if req.Debug.ForceIdentityConflict && len(candidates) > 0 {
		first := focusEntities[0]
		candidates[0] = domain.CandidateSet{Name: first.Name, UUIDs: []string{first.UUID, first.UUID + ":alias"}}
	}

	var relationHint *domain.RelationHint
	if len(relationHints) > 0 {
		relationHint = &relationHints[0]
	}
	currentRelations := fallbackRelations(focusEntities, relationHint)
	if currentRelation != nil {
		label := currentRelation.Label
		if label == "" && relationHint != nil {
			label = relationHint.Label
		}
		if label == "" {
			label = "ALLY"
		}
		currentRelations = []domain.RelationView{{
			FromUUID: orFallback(currentRelation.FromUUID, focusEntities[0].UUID),
			ToUUID:   orFallback(currentRelation.ToUUID, focusEntities[1].UUID),
			FromName: focusEntities[0].Name,
			ToName:   focusEntities[1].Name,
			Label:    label,
			Weight:   currentRelation.Weight,
			LastStep: currentRelation.LastStep,
		}}
	}

	keyEvents := queryKeyEvents(ctx, repo, req, focusEntities)

	return &domain.RetrieverOutput{
		FocusEntities:       focusEntities,
		Candidates:          candidates,
		CurrentRelations:    currentRelations,
		RelationHints:       relationHints,
		KeyEvents:           keyEvents,
		EventRetrievalNotes: fmt.Sprintf("Retrieved %d key events from graph.", len(keyEvents)),
		RetrievalNotes: orFallback(strings.TrimSpace(payload.RetrievalNotes),
			fmt.Sprintf("Retrieved %d focus entities for message.", len(focusEntities))),
	}, nil
}

func resolveCandidateUUIDs(ctx context.Context, repo graph.Repository, entity domain.FocusEntity) []string {
	fromGraph, err := repo.ResolveEntityCandidatesByName(ctx, entity.Name)
	if err != nil {
		return []string{entity.UUID}
	}
	var uuids []string
	for _, candidate := range fromGraph {
		if strings.TrimSpace(candidate.UUID) != "" {
			uuids = append(uuids, candidate.UUID)
		}
	}
	if len(uuids) == 0 {
		return []string{entity.UUID}
	}
	return uuids
}

func fallbackRelations(focus []domain.FocusEntity, hint *domain.RelationHint) []domain.RelationView {
	if len(focus) < 2 {
		return []domain.RelationView{}
	}
	label := "ALLY"
	if hint != nil && hint.Label != "" {
		label = hint.Label
	}
	return []domain.RelationView{{
		FromUUID: focus[0].UUID,
		ToUUID:   focus[1].UUID,
		FromName: focus[0].Name,
		ToName:   focus[1].Name,
		Label:    label,
		Weight:   0.5,
		LastStep: 0,
	}}
}

func queryKeyEvents(ctx context.Context, repo graph.Repository, req *domain.TurnRequest, focus []domain.FocusEntity) []domain.KeyEvent {
	if req.ConversationID == "" || len(focus) == 0 {
		return nil
	}
	uuids := make([]string, 0, len(focus))
	for _, entity := range focus {
		if entity.UUID != "" {
			uuids = append(uuids, entity.UUID)
		}
	}
	if len(uuids) == 0 {
		return nil
	}

	cfg := &req.Config
	maxAge := cfg.KeyEventMaxAgeSteps
	if maxAge <= 0 {
		maxAge = cfg.ContextWindowMessages
	}
	if maxAge <= 0 {
		maxAge = 80
	}
	limit := cfg.KeyEventLimit
	if limit <= 0 {
		limit = 4
	}
	if limit > 12 {
		limit = 12
	}

	events, err := repo.QueryKeyEvents(ctx, domain.KeyEventQuery{
		ConversationID:   req.ConversationID,
		FocusEntityUUIDs: uuids,
		Limit:            limit,
		CurrentStep:      req.Step,
		MaxAgeSteps:      maxAge,
	})
	if err != nil {
		return nil
	}
	return events
}

func orFallback(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
