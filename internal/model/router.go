// Package model resolves which provider/model/temperature each pipeline slot
// runs with, merging per-request overrides over fixed slot defaults.
package model

import (
	"fmt"
	"strings"

	"github.com/yungbote/kg-sidecar/internal/domain"
)

// Provider is a closed enum. Unknown providers are a configuration error
// caught when the request is validated, never at call time.
type Provider string

const (
	ProviderOpenRouter Provider = "openrouter"
	ProviderBuiltin    Provider = "builtin"
)

func ParseProvider(raw string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(raw))) {
	case ProviderOpenRouter:
		return ProviderOpenRouter, nil
	case ProviderBuiltin:
		return ProviderBuiltin, nil
	default:
		return "", fmt.Errorf("unknown model provider %q", raw)
	}
}

// Pipeline slots, in execution order.
const (
	SlotRetriever = "retriever"
	SlotInjector  = "injector"
	SlotActor     = "actor"
	SlotExtractor = "extractor"
	SlotJudge     = "judge"
	SlotHistorian = "historian"
)

// Slots lists every slot in execution order.
var Slots = []string{SlotRetriever, SlotInjector, SlotActor, SlotExtractor, SlotJudge, SlotHistorian}

const autoModel = "openrouter/auto"

// Route is the resolved model assignment for one slot.
type Route struct {
	Provider    Provider
	Model       string
	Temperature float64
}

var slotDefaults = map[string]Route{
	SlotRetriever: {Provider: ProviderOpenRouter, Model: autoModel, Temperature: 0.2},
	SlotInjector:  {Provider: ProviderOpenRouter, Model: autoModel, Temperature: 0.2},
	SlotActor:     {Provider: ProviderOpenRouter, Model: autoModel, Temperature: 0.7},
	SlotExtractor: {Provider: ProviderOpenRouter, Model: autoModel, Temperature: 0.2},
	SlotJudge:     {Provider: ProviderOpenRouter, Model: autoModel, Temperature: 0.1},
	SlotHistorian: {Provider: ProviderOpenRouter, Model: autoModel, Temperature: 0.3},
}

func normalizeSlot(slot string) string {
	s := strings.ToLower(strings.TrimSpace(slot))
	if _, ok := slotDefaults[s]; ok {
		return s
	}
	return SlotActor
}

// ValidateOverrides rejects requests naming a provider outside the enum.
func ValidateOverrides(models map[string]domain.SlotOverride) *domain.StageError {
	for slot, override := range models {
		if strings.TrimSpace(override.Provider) == "" {
			continue
		}
		if _, err := ParseProvider(override.Provider); err != nil {
			return domain.NewStageError("validate", domain.CodeInvalidRequest,
				fmt.Sprintf("slot %s: %v", slot, err), false)
		}
	}
	return nil
}

// SelectModelForSlot merges a request override over the slot default. Model
// names left over from legacy "kg-" local aliases collapse to the auto route.
func SelectModelForSlot(slot string, models map[string]domain.SlotOverride) Route {
	target := normalizeSlot(slot)
	route := slotDefaults[target]

	override, ok := models[target]
	if !ok {
		return route
	}
	if p, err := ParseProvider(override.Provider); err == nil && override.Provider != "" {
		route.Provider = p
	}
	if m := strings.TrimSpace(override.Model); m != "" {
		route.Model = m
	}
	if route.Provider == ProviderOpenRouter &&
		(route.Model == "" || strings.HasPrefix(strings.ToLower(route.Model), "kg-")) {
		route.Model = autoModel
	}
	if override.Temperature != nil {
		route.Temperature = *override.Temperature
	}
	return route
}

// RoutesForRequest resolves every slot at once for the turn result.
func RoutesForRequest(models map[string]domain.SlotOverride) map[string]domain.SlotModel {
	out := make(map[string]domain.SlotModel, len(Slots))
	for _, slot := range Slots {
		route := SelectModelForSlot(slot, models)
		out[slot] = domain.SlotModel{
			Provider:    string(route.Provider),
			Model:       route.Model,
			Temperature: route.Temperature,
		}
	}
	return out
}

// BuildRouteAudit reports per-slot routing status. A slot configured for
// OpenRouter with no API client available is marked blocked rather than
// silently rerouted.
func BuildRouteAudit(models map[string]domain.SlotOverride, runtimeHasClient bool) map[string]domain.RouteAudit {
	out := make(map[string]domain.RouteAudit, len(Slots))
	for _, slot := range Slots {
		route := SelectModelForSlot(slot, models)
		audit := domain.RouteAudit{
			ConfiguredProvider: string(route.Provider),
			ConfiguredModel:    route.Model,
			EffectiveProvider:  string(route.Provider),
			EffectiveModel:     route.Model,
			Status:             "ok",
		}
		if route.Provider == ProviderOpenRouter && !runtimeHasClient {
			audit.Status = "blocked"
			audit.WarningCode = "OPENROUTER_RUNTIME_UNAVAILABLE"
		}
		out[slot] = audit
	}
	return out
}
