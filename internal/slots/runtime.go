// Package slots implements the six pipeline stages. Retriever, injector,
// extractor, and judge run in strict mode: they hard-fail without an LLM
// runtime. Actor and historian degrade to deterministic fallbacks.
package slots

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/kg-sidecar/internal/domain"
	"github.com/yungbote/kg-sidecar/internal/model"
	"github.com/yungbote/kg-sidecar/internal/platform/logger"
	"github.com/yungbote/kg-sidecar/internal/platform/openrouter"
)

const msec = time.Millisecond

// Runtime carries what every slot needs. Client is nil when no OpenRouter
// key is configured.
type Runtime struct {
	Client openrouter.Client
	Log    *logger.Logger
}

func (rt *Runtime) HasClient() bool { return rt != nil && rt.Client != nil }

// requireStrictRoute enforces a slot's strict-mode preconditions and returns
// the resolved route.
func (rt *Runtime) requireStrictRoute(slot string, cfg *domain.PipelineConfig) (model.Route, *domain.StageError) {
	route := model.SelectModelForSlot(slot, cfg.Models)
	upper := strings.ToUpper(slot)
	if route.Provider != model.ProviderOpenRouter {
		return route, domain.NewStageError(slot, upper+"_STRICT_OPENROUTER_REQUIRED",
			fmt.Sprintf("%s slot is in strict mode and requires the openrouter provider", slot), false)
	}
	if !rt.HasClient() {
		return route, domain.NewStageError(slot, upper+"_LLM_REQUIRED",
			fmt.Sprintf("%s slot requires an LLM runtime and refuses a local fallback", slot), false)
	}
	return route, nil
}

// llmCallError maps a failed slot call to its reason code: timeouts get the
// shared OPENROUTER_TIMEOUT code, everything else the per-slot failure code.
func llmCallError(slot string, err error) *domain.StageError {
	code := strings.ToUpper(slot) + "_LLM_FAILED"
	if openrouter.IsTimeout(err) {
		code = domain.CodeOpenRouterTimeout
	}
	return domain.WrapStageError(slot, code, true, err)
}

func slotTimeout(cfg *domain.PipelineConfig, slot string, fallback time.Duration) time.Duration {
	if ms, ok := cfg.SlotTimeoutsMs[slot]; ok && ms > 0 {
		return boundedTimeout(ms)
	}
	if cfg.TimeoutMs > 0 {
		return boundedTimeout(cfg.TimeoutMs)
	}
	return fallback
}

func boundedTimeout(ms int) time.Duration {
	if ms < 1000 {
		ms = 1000
	}
	return time.Duration(ms) * time.Millisecond
}

func contextWindow(cfg *domain.PipelineConfig) int {
	if cfg.ContextWindowMessages > 0 {
		return cfg.ContextWindowMessages
	}
	return 80
}

func tailWindow(window []domain.ChatMessage, n int) []domain.ChatMessage {
	if len(window) <= n {
		return window
	}
	return window[len(window)-n:]
}

func buildSlotSystemPrompt(slotName, instructions string) string {
	return strings.Join([]string{
		fmt.Sprintf("You are the %s slot of a knowledge-graph pipeline.", slotName),
		"Output must be stable, machine-readable, and free of hallucinated facts.",
		instructions,
	}, "\n")
}

// compactJSON renders a prompt payload, truncated to keep slot prompts
// within budget.
func compactJSON(value any, maxChars int) string {
	raw, err := json.Marshal(value)
	if err != nil {
		return "{}"
	}
	text := string(raw)
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars] + "..."
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func safeEvidence(text string) string  { return truncate(text, 200) }
func safeReasoning(text string) string { return truncate(text, 300) }
