package slots

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/kg-sidecar/internal/domain"
	"github.com/yungbote/kg-sidecar/internal/model"
	"github.com/yungbote/kg-sidecar/internal/platform/openrouter"
)

func actorSystemPrompt(injectorOut *domain.InjectorOutput) string {
	var packet domain.InjectionPacket
	if injectorOut != nil {
		packet = injectorOut.InjectionPacket
	}
	return strings.Join([]string{
		"You are the in-story character assistant. Reply to the user while keeping the narrative coherent.",
		"[Second Person Psychology]",
		packet.SecondPersonPsychology,
		"[Third Person Relations]",
		packet.ThirdPersonRelations,
		"[Neutral Background]",
		packet.NeutralBackground,
	}, "\n")
}

// GenerateAssistantReply produces the in-story reply. The actor is the one
// lenient slot: any provider problem degrades to a deterministic builtin
// reply instead of failing the turn.
func GenerateAssistantReply(ctx context.Context, rt *Runtime, req *domain.TurnRequest, injectorOut *domain.InjectorOutput) string {
	cfg := &req.Config
	route := model.SelectModelForSlot(model.SlotActor, cfg.Models)

	if route.Provider == model.ProviderOpenRouter && rt.HasClient() {
		reply, err := rt.Client.GenerateReply(ctx, openrouter.Request{
			Model:        route.Model,
			SystemPrompt: actorSystemPrompt(injectorOut),
			UserMessage:  req.UserMessage,
			Temperature:  route.Temperature,
			MaxTokens:    400,
			Timeout:      slotTimeout(cfg, model.SlotActor, 12000*msec),
		})
		if err == nil {
			return reply
		}
		rt.Log.Warn("actor slot falling back to builtin reply", "error", err)
	}

	summary := ""
	if injectorOut != nil {
		summary = injectorOut.InjectionPacket.ThirdPersonRelations
	}
	return fmt.Sprintf("Received your message: %s\n(graph context) %s\n(model route) %s/%s",
		req.UserMessage, summary, route.Provider, route.Model)
}
