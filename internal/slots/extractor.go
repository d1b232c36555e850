package slots

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/yungbote/kg-sidecar/internal/domain"
	"github.com/yungbote/kg-sidecar/internal/model"
	"github.com/yungbote/kg-sidecar/internal/platform/openrouter"
)

var (
	betrayalPattern = regexp.MustCompile(`(?i)betray|traitor|backstab|turncoat`)
	hostilePattern  = regexp.MustCompile(`(?i)enemy|hostile|nemesis|sworn foe`)
	mentorPattern   = regexp.MustCompile(`(?i)mentor|teacher|guide|apprentice`)
	allyPattern     = regexp.MustCompile(`(?i)trust|support|ally|friend`)
)

func inferLabelFromMessage(message, fallbackLabel string) string {
	switch {
	case betrayalPattern.MatchString(message):
		return "TRAITOR"
	case hostilePattern.MatchString(message):
		return "ENEMY"
	case mentorPattern.MatchString(message):
		return "MENTOR"
	case allyPattern.MatchString(message):
		return "ALLY"
	default:
		return fallbackLabel
	}
}

// buildGuidanceActions derives rule-based actions from the stored relation
// and the decay policy. They are handed to the model as guidance, not used
// verbatim.
func buildGuidanceActions(retrieverOut *domain.RetrieverOutput, userMessage string, step int, threshold, decayBase float64) []domain.Action {
	if len(retrieverOut.CurrentRelations) == 0 {
		return nil
	}
	relation := retrieverOut.CurrentRelations[0]

	decayedWeight := domain.ComputeDecayedWeight(relation.Weight, step-relation.LastStep, decayBase)
	inferredLabel := inferLabelFromMessage(userMessage, relation.Label)
	decision := domain.DecideAction(relation.Label, inferredLabel, decayedWeight, threshold)

	confidence := 0.7
	if inferredLabel != relation.Label {
		confidence = 0.9
	}
	var deltaWeight *float64
	if decision.Action == domain.ActionEvolve {
		delta := domain.ClampActionDelta(confidence * 0.18)
		deltaWeight = &delta
	}

	fromName := orFallback(relation.FromName, relation.FromUUID)
	toName := orFallback(relation.ToName, relation.ToUUID)
	cause := fmt.Sprintf("decayedWeight=%.4f", decayedWeight)
	if decision.Action == domain.ActionReplace {
		cause = fmt.Sprintf("%s -> %s", relation.Label, inferredLabel)
	}

	return []domain.Action{{
		Action:        decision.Action,
		FromUUID:      relation.FromUUID,
		ToUUID:        relation.ToUUID,
		FromName:      fromName,
		ToName:        toName,
		OldLabel:      decision.OldLabel,
		NewLabel:      decision.NewLabel,
		DeltaWeight:   deltaWeight,
		EvidenceQuote: safeEvidence(userMessage),
		Reasoning:     safeReasoning(fmt.Sprintf("Rule-based with decayedWeight=%.4f", decayedWeight)),
		Cause:         cause,
		EventName:     domain.EventIDForAction(decision.Action, fromName, toName),
	}}
}

func buildGuidanceAudit(actions []domain.Action) domain.GlobalAudit {
	audit := domain.GlobalAudit{
		StorageCompare: []domain.StorageCompareItem{},
		BioRewrites:    []domain.BioPatch{},
	}
	for _, action := range actions {
		note := "No direct contradiction detected."
		if action.Action == domain.ActionReplace {
			note = fmt.Sprintf("Relation changed from %s to %s",
				orFallback(action.OldLabel, "N/A"), orFallback(action.NewLabel, "N/A"))
		}
		audit.StorageCompare = append(audit.StorageCompare, domain.StorageCompareItem{
			RelationKey: action.FromUUID + "->" + action.ToUUID,
			Action:      action.Action,
			Note:        note,
		})
		if action.Action == domain.ActionReplace {
			audit.BioRewrites = append(audit.BioRewrites, domain.BioPatch{
				UUID:   action.FromUUID,
				Before: "relation stance: " + orFallback(action.OldLabel, "UNKNOWN"),
				After:  "relation stance: " + orFallback(action.NewLabel, "UNKNOWN"),
				Cause:  orFallback(action.Cause, action.EvidenceQuote),
			})
		}
	}
	return audit
}

func normalizeModelAction(action domain.Action) (domain.Action, bool) {
	action.Action = strings.ToUpper(strings.TrimSpace(action.Action))
	switch action.Action {
	case domain.ActionEvolve, domain.ActionReplace, domain.ActionDelete:
	default:
		return action, false
	}
	action.FromUUID = strings.TrimSpace(action.FromUUID)
	action.ToUUID = strings.TrimSpace(action.ToUUID)
	if action.FromUUID == "" || action.ToUUID == "" {
		return action, false
	}
	action.FromName = strings.TrimSpace(action.FromName)
	action.ToName = strings.TrimSpace(action.ToName)
	action.OldLabel = strings.TrimSpace(action.OldLabel)
	action.NewLabel = strings.TrimSpace(action.NewLabel)
	action.EvidenceQuote = safeEvidence(action.EvidenceQuote)
	action.Reasoning = safeReasoning(action.Reasoning)
	action.Cause = truncate(action.Cause, 300)
	if strings.TrimSpace(action.EventName) == "" {
		action.EventName = domain.EventIDForAction(action.Action, action.FromName, action.ToName)
	} else {
		action.EventName = truncate(strings.TrimSpace(action.EventName), 120)
	}
	return action, true
}

// ExtractActions runs the three-action audit (EVOLVE/REPLACE/DELETE).
func ExtractActions(ctx context.Context, rt *Runtime, req *domain.TurnRequest, retrieverOut *domain.RetrieverOutput) (*domain.ExtractorOutput, error) {
	cfg := &req.Config
	route, stageErr := rt.requireStrictRoute(model.SlotExtractor, cfg)
	if stageErr != nil {
		return nil, stageErr
	}

	threshold := cfg.DeleteThreshold
	if threshold <= 0 {
		threshold = domain.DefaultDeleteThreshold
	}
	decayBase := cfg.DecayBase
	if decayBase <= 0 || decayBase >= 1 {
		decayBase = domain.DefaultDecayBase
	}

	guidanceActions := buildGuidanceActions(retrieverOut, req.UserMessage, req.Step, threshold, decayBase)
	guidanceAudit := buildGuidanceAudit(guidanceActions)

	systemPrompt := buildSlotSystemPrompt("Extractor",
		"You run the three-action audit (EVOLVE/REPLACE/DELETE). Emit actions plus global_audit grounded in the supplied evidence; the output must never be an empty object.")
	userPrompt := strings.Join([]string{
		"Input context (JSON):",
		compactJSON(map[string]any{
			"user_message":          req.UserMessage,
			"chat_window":           tailWindow(req.ChatWindow, contextWindow(cfg)),
			"step":                  req.Step,
			"threshold":             threshold,
			"decay_base":            decayBase,
			"current_relations":     retrieverOut.CurrentRelations,
			"relation_hints":        retrieverOut.RelationHints,
			"focus_entities":        retrieverOut.FocusEntities,
			"guidance_actions":      guidanceActions,
			"guidance_global_audit": guidanceAudit,
		}, 42000),
		"Strictly output this JSON schema:",
		`{"actions":[{"action":"EVOLVE|REPLACE|DELETE","from_uuid":"...","to_uuid":"...","from_name":"...","to_name":"...","old_label":"...","new_label":"...","delta_weight":0.1,"evidence_quote":"...","reasoning":"...","cause":"...","event_name":"event:..."}],"global_audit":{"storage_compare":[{"relation_key":"A->B","action":"EVOLVE|REPLACE|DELETE","conflict_with_bio":false,"note":"..."}],"bio_rewrites":[{"uuid":"char:...","before":"...","after":"...","cause":"..."}]}}`,
	}, "\n")

	var payload domain.ExtractorOutput
	if err := rt.Client.GenerateJSON(ctx, openrouter.Request{
		Model:        route.Model,
		SystemPrompt: systemPrompt,
		UserMessage:  userPrompt,
		Temperature:  route.Temperature,
		MaxTokens:    1800,
		Timeout:      slotTimeout(cfg, model.SlotExtractor, 22000*msec),
	}, &payload); err != nil {
		return nil, llmCallError(model.SlotExtractor, err)
	}

	invalid := func(msg string) *domain.StageError {
		return domain.NewStageError(model.SlotExtractor, "EXTRACTOR_LLM_INVALID", msg, true)
	}
	if payload.Actions == nil {
		return nil, invalid("extractor output has no actions list")
	}
	normalized := make([]domain.Action, 0, len(payload.Actions))
	for _, raw := range payload.Actions {
		if action, ok := normalizeModelAction(raw); ok {
			normalized = append(normalized, action)
		}
	}
	if len(payload.Actions) > 0 && len(normalized) == 0 {
		return nil, invalid("extractor actions were all malformed")
	}
	if payload.GlobalAudit.StorageCompare == nil || payload.GlobalAudit.BioRewrites == nil {
		return nil, invalid("extractor output is missing global_audit lists")
	}

	return &domain.ExtractorOutput{
		Actions:     normalized,
		GlobalAudit: payload.GlobalAudit,
	}, nil
}
