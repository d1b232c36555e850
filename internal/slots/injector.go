package slots

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/kg-sidecar/internal/domain"
	"github.com/yungbote/kg-sidecar/internal/model"
	"github.com/yungbote/kg-sidecar/internal/platform/openrouter"
)

func evidenceBudget(cfg *domain.PipelineConfig) int {
	base := 1200
	if cfg.ContextWindowMessages > 0 {
		base = cfg.ContextWindowMessages * 30
	}
	if base < 400 {
		return 400
	}
	if base > 2400 {
		return 2400
	}
	return base
}

// buildEventEvidenceContext summarizes the retrieved key events within a
// character budget so the packet stays prompt-sized.
func buildEventEvidenceContext(keyEvents []domain.KeyEvent, budgetChars int) string {
	if len(keyEvents) == 0 {
		return "Key event evidence: none"
	}

	peopleSeen := map[string]bool{}
	eventSeen := map[string]bool{}
	var people, eventIDs []string
	for _, event := range keyEvents {
		if event.EventID != "" && !eventSeen[event.EventID] {
			eventSeen[event.EventID] = true
			eventIDs = append(eventIDs, event.EventID)
		}
		for _, p := range event.Participants {
			if p.UUID != "" && !peopleSeen[p.UUID] {
				peopleSeen[p.UUID] = true
				people = append(people, p.UUID)
			}
		}
	}
	if len(people) > 8 {
		people = people[:8]
	}
	if len(eventIDs) > 8 {
		eventIDs = eventIDs[:8]
	}
	summaryOr := func(items []string) string {
		if len(items) == 0 {
			return "none"
		}
		return strings.Join(items, ", ")
	}

	lines := []string{
		"Key event evidence:",
		"- character entities: " + summaryOr(people),
		"- event entities: " + summaryOr(eventIDs),
	}
	used := len(strings.Join(lines, "\n"))
	for _, event := range keyEvents {
		var participants []string
		for _, p := range event.Participants {
			if p.UUID == "" {
				continue
			}
			participants = append(participants, p.UUID)
			if len(participants) == 4 {
				break
			}
		}
		line := fmt.Sprintf("- [%s] event=%s @turn %s | characters=%s | evidence=%s",
			orFallback(event.Action, domain.ActionEvolve),
			event.EventID,
			event.TurnID,
			orFallback(strings.Join(participants, ", "), "unknown"),
			strings.TrimSpace(event.EvidenceQuote))
		if used+len(line)+1 > budgetChars {
			break
		}
		lines = append(lines, line)
		used += len(line) + 1
	}
	return strings.Join(lines, "\n")
}

// InjectMemory turns the retrieved graph context into a mixed-perspective
// injection packet.
func InjectMemory(ctx context.Context, rt *Runtime, req *domain.TurnRequest, retrieverOut *domain.RetrieverOutput) (*domain.InjectorOutput, error) {
	cfg := &req.Config
	route, stageErr := rt.requireStrictRoute(model.SlotInjector, cfg)
	if stageErr != nil {
		return nil, stageErr
	}

	evidenceContext := buildEventEvidenceContext(retrieverOut.KeyEvents, evidenceBudget(cfg))
	systemPrompt := buildSlotSystemPrompt("Injector",
		"Convert the input context into a mixed-perspective memory packet. Emit exactly the JSON fields second_person_psychology/third_person_relations/neutral_background/event_evidence_context.")
	userPrompt := strings.Join([]string{
		"Context (JSON):",
		compactJSON(map[string]any{
			"focus_entities":         retrieverOut.FocusEntities,
			"current_relations":      retrieverOut.CurrentRelations,
			"relation_hints":         retrieverOut.RelationHints,
			"key_events":             retrieverOut.KeyEvents,
			"event_retrieval_notes":  retrieverOut.EventRetrievalNotes,
			"event_evidence_context": evidenceContext,
			"user_message":           req.UserMessage,
			"chat_window":            tailWindow(req.ChatWindow, contextWindow(cfg)),
		}, 32000),
		"Output only this JSON schema:",
		`{"second_person_psychology":"...","third_person_relations":"...","neutral_background":"...","event_evidence_context":"..."}`,
	}, "\n")

	var packet domain.InjectionPacket
	if err := rt.Client.GenerateJSON(ctx, openrouter.Request{
		Model:        route.Model,
		SystemPrompt: systemPrompt,
		UserMessage:  userPrompt,
		Temperature:  route.Temperature,
		MaxTokens:    1200,
		Timeout:      slotTimeout(cfg, model.SlotInjector, 18000*msec),
	}, &packet); err != nil {
		return nil, llmCallError(model.SlotInjector, err)
	}

	packet.SecondPersonPsychology = strings.TrimSpace(packet.SecondPersonPsychology)
	packet.ThirdPersonRelations = strings.TrimSpace(packet.ThirdPersonRelations)
	packet.NeutralBackground = strings.TrimSpace(packet.NeutralBackground)
	packet.EventEvidenceContext = strings.TrimSpace(packet.EventEvidenceContext)
	if packet.EventEvidenceContext == "" {
		packet.EventEvidenceContext = evidenceContext
	}

	out := &domain.InjectorOutput{InjectionPacket: packet}
	if err := out.Validate(); err != nil {
		return nil, domain.WrapStageError(model.SlotInjector, "INJECTOR_LLM_INVALID", true, err)
	}
	if raw, err := json.Marshal(packet); err == nil {
		out.TokenEstimate = len(raw)
	}
	return out, nil
}
