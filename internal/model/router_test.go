package model

import (
	"testing"

	"github.com/yungbote/kg-sidecar/internal/domain"
)

func TestSelectModelForSlotDefaults(t *testing.T) {
	route := SelectModelForSlot(SlotJudge, nil)
	if route.Provider != ProviderOpenRouter {
		t.Fatalf("default provider = %s, want openrouter", route.Provider)
	}
	if route.Model != "openrouter/auto" {
		t.Fatalf("default model = %s", route.Model)
	}
	if route.Temperature != 0.1 {
		t.Fatalf("judge temperature = %v, want 0.1", route.Temperature)
	}

	// Unknown slot names route like the actor.
	route = SelectModelForSlot("narrator", nil)
	if route.Temperature != 0.7 {
		t.Fatalf("unknown slot should use actor defaults, got %v", route.Temperature)
	}
}

func TestSelectModelForSlotOverrides(t *testing.T) {
	temp := 0.55
	models := map[string]domain.SlotOverride{
		SlotActor: {Model: "anthropic/claude-sonnet", Temperature: &temp},
	}
	route := SelectModelForSlot(SlotActor, models)
	if route.Model != "anthropic/claude-sonnet" || route.Temperature != 0.55 {
		t.Fatalf("override not applied: %+v", route)
	}

	// Legacy local aliases collapse to the auto route.
	models = map[string]domain.SlotOverride{
		SlotRetriever: {Model: "kg-retriever-v2"},
	}
	route = SelectModelForSlot(SlotRetriever, models)
	if route.Model != "openrouter/auto" {
		t.Fatalf("kg- alias should collapse to auto, got %s", route.Model)
	}
}

func TestValidateOverrides(t *testing.T) {
	err := ValidateOverrides(map[string]domain.SlotOverride{
		SlotActor: {Provider: "llamafarm"},
	})
	if err == nil {
		t.Fatalf("unknown provider must be rejected")
	}
	if err.Code != domain.CodeInvalidRequest {
		t.Fatalf("code = %s, want INVALID_REQUEST", err.Code)
	}

	if err := ValidateOverrides(map[string]domain.SlotOverride{
		SlotActor: {Provider: "builtin"},
		SlotJudge: {Provider: ""},
	}); err != nil {
		t.Fatalf("valid providers rejected: %v", err)
	}
}

func TestBuildRouteAudit(t *testing.T) {
	audit := BuildRouteAudit(nil, false)
	if len(audit) != len(Slots) {
		t.Fatalf("audit should cover every slot, got %d", len(audit))
	}
	for slot, entry := range audit {
		if entry.Status != "blocked" || entry.WarningCode != "OPENROUTER_RUNTIME_UNAVAILABLE" {
			t.Fatalf("slot %s should be blocked without a client: %+v", slot, entry)
		}
	}

	audit = BuildRouteAudit(nil, true)
	for slot, entry := range audit {
		if entry.Status != "ok" {
			t.Fatalf("slot %s should be ok with a client: %+v", slot, entry)
		}
	}
}
