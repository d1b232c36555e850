package slots

import (
	"context"
	"strings"

	"github.com/yungbote/kg-sidecar/internal/domain"
	"github.com/yungbote/kg-sidecar/internal/model"
	"github.com/yungbote/kg-sidecar/internal/platform/openrouter"
)

// detectConflictCandidates pre-flags names whose lookup returned more than
// one uuid; the model receives them as guidance.
func detectConflictCandidates(candidates []domain.CandidateSet) []domain.IdentityConflict {
	var out []domain.IdentityConflict
	for _, candidate := range candidates {
		if len(candidate.UUIDs) > 1 {
			out = append(out, domain.IdentityConflict{
				Name:   candidate.Name,
				UUIDs:  candidate.UUIDs,
				Reason: "MULTI_UUID_CANDIDATE",
			})
		}
	}
	return out
}

func guidanceBioSync(actions []domain.Action, audit domain.GlobalAudit) []domain.BioPatch {
	if len(audit.BioRewrites) > 0 {
		var out []domain.BioPatch
		for _, item := range audit.BioRewrites {
			uuid := strings.TrimSpace(item.UUID)
			after := truncate(item.After, 500)
			if uuid == "" || after == "" {
				continue
			}
			out = append(out, domain.BioPatch{
				UUID:   uuid,
				Before: truncate(item.Before, 500),
				After:  after,
				Cause:  truncate(item.Cause, 500),
			})
		}
		return out
	}

	var out []domain.BioPatch
	for _, action := range actions {
		if action.Action != domain.ActionReplace {
			continue
		}
		out = append(out, domain.BioPatch{
			UUID:   action.FromUUID,
			Before: "relation stance: " + orFallback(action.OldLabel, "UNKNOWN"),
			After:  "relation stance: " + orFallback(action.NewLabel, "UNKNOWN"),
			Cause:  truncate(action.Action+"@"+action.EvidenceQuote, 500),
		})
	}
	return out
}

func normalizeJudgeOutput(payload *domain.JudgeOutput) *domain.JudgeOutput {
	if payload.IdentityConflicts == nil || payload.BioSyncPatch == nil {
		return nil
	}

	conflicts := make([]domain.IdentityConflict, 0, len(payload.IdentityConflicts))
	for _, item := range payload.IdentityConflicts {
		name := strings.TrimSpace(item.Name)
		var uuids []string
		for _, uuid := range item.UUIDs {
			if trimmed := strings.TrimSpace(uuid); trimmed != "" {
				uuids = append(uuids, trimmed)
			}
		}
		if name == "" || len(uuids) < 2 {
			continue
		}
		conflicts = append(conflicts, domain.IdentityConflict{
			Name:   name,
			UUIDs:  uuids,
			Reason: orFallback(strings.TrimSpace(item.Reason), "MODEL_FLAGGED"),
		})
	}

	patches := make([]domain.BioPatch, 0, len(payload.BioSyncPatch))
	for _, item := range payload.BioSyncPatch {
		uuid := strings.TrimSpace(item.UUID)
		after := truncate(item.After, 500)
		if uuid == "" || after == "" {
			continue
		}
		patches = append(patches, domain.BioPatch{
			UUID:   uuid,
			Before: truncate(item.Before, 500),
			After:  after,
			Cause:  truncate(item.Cause, 500),
		})
	}

	allow := len(conflicts) == 0
	if payload.AllowCommit != nil {
		allow = *payload.AllowCommit && len(conflicts) == 0
	}
	return &domain.JudgeOutput{
		IdentityConflicts: conflicts,
		AllowCommit:       &allow,
		BioSyncPatch:      patches,
	}
}

// JudgeMutations runs the identity-alignment and bio-sync audit. Any
// same-name contamination must surface as identity_conflicts and block the
// commit.
func JudgeMutations(ctx context.Context, rt *Runtime, req *domain.TurnRequest, retrieverOut *domain.RetrieverOutput, extractorOut *domain.ExtractorOutput) (*domain.JudgeOutput, error) {
	cfg := &req.Config
	route, stageErr := rt.requireStrictRoute(model.SlotJudge, cfg)
	if stageErr != nil {
		return nil, stageErr
	}

	detected := detectConflictCandidates(retrieverOut.Candidates)
	guidance := guidanceBioSync(extractorOut.Actions, extractorOut.GlobalAudit)

	systemPrompt := buildSlotSystemPrompt("Judge",
		"Run identity alignment and the bio sync audit. If two uuids share one display name, you must emit identity_conflicts and block the commit.")
	userPrompt := strings.Join([]string{
		"Input context (JSON):",
		compactJSON(map[string]any{
			"candidates":                   retrieverOut.Candidates,
			"actions":                      extractorOut.Actions,
			"global_audit":                 extractorOut.GlobalAudit,
			"chat_window":                  tailWindow(req.ChatWindow, contextWindow(cfg)),
			"detected_conflict_candidates": detected,
			"guidance_bio_sync_patch":      guidance,
		}, 36000),
		"Output only this JSON schema:",
		`{"identity_conflicts":[{"name":"...","uuids":["...","..."],"reason":"..."}],"allowCommit":true,"bio_sync_patch":[{"uuid":"char:...","before":"...","after":"...","cause":"..."}]}`,
	}, "\n")

	var payload domain.JudgeOutput
	if err := rt.Client.GenerateJSON(ctx, openrouter.Request{
		Model:        route.Model,
		SystemPrompt: systemPrompt,
		UserMessage:  userPrompt,
		Temperature:  route.Temperature,
		MaxTokens:    1400,
		Timeout:      slotTimeout(cfg, model.SlotJudge, 20000*msec),
	}, &payload); err != nil {
		return nil, llmCallError(model.SlotJudge, err)
	}

	normalized := normalizeJudgeOutput(&payload)
	if normalized == nil {
		return nil, domain.NewStageError(model.SlotJudge, "JUDGE_LLM_INVALID",
			"judge output is invalid or incomplete", true)
	}

	if req.Debug.ForceIdentityConflict && len(normalized.IdentityConflicts) == 0 && len(retrieverOut.Candidates) > 0 {
		first := retrieverOut.Candidates[0]
		uuids := first.UUIDs
		if len(uuids) < 2 {
			base := "unknown_a"
			if len(uuids) == 1 {
				base = uuids[0]
			}
			uuids = []string{base, "unknown_b"}
		}
		normalized.IdentityConflicts = append(normalized.IdentityConflicts, domain.IdentityConflict{
			Name:   first.Name,
			UUIDs:  uuids,
			Reason: "DEBUG_FORCED",
		})
		blocked := false
		normalized.AllowCommit = &blocked
	}
	return normalized, nil
}
