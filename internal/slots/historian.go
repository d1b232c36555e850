package slots

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/kg-sidecar/internal/domain"
	"github.com/yungbote/kg-sidecar/internal/model"
	"github.com/yungbote/kg-sidecar/internal/platform/openrouter"
)

func fallbackMilestoneText(action domain.Action) string {
	switch action.Action {
	case domain.ActionReplace:
		return fmt.Sprintf("%s %s -> %s", domain.MilestoneMarker,
			orFallback(action.OldLabel, "former relation"),
			orFallback(action.NewLabel, "new relation"))
	case domain.ActionDelete:
		return domain.MilestoneMarker + " relation thread ended"
	default:
		return domain.MilestoneMarker + " relation thread keeps evolving"
	}
}

func milestoneNameFor(turnID string, index int, content string) string {
	return fmt.Sprintf("%s:%s", domain.MilestoneIDFor(turnID, index), truncate(strings.TrimSpace(content), 180))
}

func historianFallback(actions []domain.Action, turnID string) *domain.HistorianOutput {
	milestones := make([]string, 0, len(actions))
	for _, action := range actions {
		milestones = append(milestones, fallbackMilestoneText(action))
	}
	return toHistorianOutput(turnID, milestones)
}

func toHistorianOutput(turnID string, milestones []string) *domain.HistorianOutput {
	items := make([]domain.TimelineItem, 0, len(milestones))
	for i, tag := range milestones {
		items = append(items, domain.TimelineItem{ID: milestoneNameFor(turnID, i, tag), Tag: tag})
	}
	return &domain.HistorianOutput{TurnID: turnID, Milestones: milestones, TimelineItems: items}
}

// BuildMilestones summarizes the turn's actions into story milestones. The
// historian degrades to deterministic fallback text when no LLM is routed,
// but a slot timeout still fails the turn so the caller can retry.
func BuildMilestones(ctx context.Context, rt *Runtime, req *domain.TurnRequest, extractorOut *domain.ExtractorOutput) (*domain.HistorianOutput, error) {
	cfg := &req.Config
	fallback := historianFallback(extractorOut.Actions, req.TurnID)
	route := model.SelectModelForSlot(model.SlotHistorian, cfg.Models)

	if route.Provider != model.ProviderOpenRouter || !rt.HasClient() || len(extractorOut.Actions) == 0 {
		return fallback, nil
	}

	systemPrompt := buildSlotSystemPrompt("Historian",
		fmt.Sprintf("Summarize the action list into story milestones. Every milestone must start with %s, stay concise, and follow chronological order.", domain.MilestoneMarker))
	userPrompt := strings.Join([]string{
		"Input context (JSON):",
		compactJSON(map[string]any{
			"turn_id":      req.TurnID,
			"actions":      extractorOut.Actions,
			"global_audit": extractorOut.GlobalAudit,
		}, 5000),
		"Output only this JSON schema:",
		fmt.Sprintf(`{"milestones":["%s ...","%s ..."]}`, domain.MilestoneMarker, domain.MilestoneMarker),
	}, "\n")

	var payload struct {
		Milestones []string `json:"milestones"`
	}
	if err := rt.Client.GenerateJSON(ctx, openrouter.Request{
		Model:        route.Model,
		SystemPrompt: systemPrompt,
		UserMessage:  userPrompt,
		Temperature:  route.Temperature,
		MaxTokens:    600,
		Timeout:      slotTimeout(cfg, model.SlotHistorian, 10000*msec),
	}, &payload); err != nil {
		if openrouter.IsTimeout(err) {
			return nil, domain.WrapStageError(model.SlotHistorian, domain.CodeOpenRouterTimeout, true, err)
		}
		rt.Log.Warn("historian slot falling back to builtin milestones", "error", err)
		return fallback, nil
	}

	var milestones []string
	for _, item := range payload.Milestones {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			milestones = append(milestones, trimmed)
		}
	}
	if len(milestones) == 0 {
		return fallback, nil
	}
	return toHistorianOutput(req.TurnID, milestones), nil
}
