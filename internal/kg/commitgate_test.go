package kg

import (
	"testing"

	"github.com/yungbote/kg-sidecar/internal/domain"
)

func boolPtr(v bool) *bool { return &v }

func gateFixtures() (*domain.ExtractorOutput, *domain.JudgeOutput, *domain.HistorianOutput) {
	extractor := &domain.ExtractorOutput{
		Actions: []domain.Action{{
			Action: domain.ActionEvolve, FromUUID: "char:A", ToUUID: "char:B",
		}},
		GlobalAudit: domain.GlobalAudit{
			StorageCompare: []domain.StorageCompareItem{},
			BioRewrites:    []domain.BioPatch{},
		},
	}
	judge := &domain.JudgeOutput{
		IdentityConflicts: []domain.IdentityConflict{},
		AllowCommit:       boolPtr(true),
		BioSyncPatch:      []domain.BioPatch{},
	}
	historian := &domain.HistorianOutput{
		TurnID:     "t1",
		Milestones: []string{domain.MilestoneMarker + " first meeting"},
	}
	return extractor, judge, historian
}

func TestCanCommitAllowsValidTurn(t *testing.T) {
	extractor, judge, historian := gateFixtures()
	if !CanCommit(extractor, judge, historian) {
		t.Fatalf("valid outputs must pass the gate")
	}
	// The historian is optional.
	if !CanCommit(extractor, judge, nil) {
		t.Fatalf("absent historian output must not block")
	}
}

func TestCanCommitBlocksIdentityConflicts(t *testing.T) {
	extractor, judge, historian := gateFixtures()
	judge.IdentityConflicts = []domain.IdentityConflict{
		{Name: "Aria", UUIDs: []string{"char:Aria", "char:Aria:alias"}, Reason: "MULTI_UUID_CANDIDATE"},
	}
	if CanCommit(extractor, judge, historian) {
		t.Fatalf("identity conflicts must always block")
	}
}

func TestCanCommitBlocksExplicitDenial(t *testing.T) {
	extractor, judge, historian := gateFixtures()
	judge.AllowCommit = boolPtr(false)
	if CanCommit(extractor, judge, historian) {
		t.Fatalf("explicit allowCommit=false must block")
	}

	// An absent allowCommit with no conflicts is allowed.
	judge.AllowCommit = nil
	if !CanCommit(extractor, judge, historian) {
		t.Fatalf("absent allowCommit with no conflicts must pass")
	}
}

func TestCanCommitBlocksInvalidOutputs(t *testing.T) {
	extractor, judge, historian := gateFixtures()

	if CanCommit(nil, judge, historian) {
		t.Fatalf("missing extractor output must block")
	}
	if CanCommit(&domain.ExtractorOutput{}, judge, historian) {
		t.Fatalf("extractor output without actions list must block")
	}
	if CanCommit(extractor, &domain.JudgeOutput{}, historian) {
		t.Fatalf("judge output without lists must block")
	}
	if CanCommit(extractor, judge, &domain.HistorianOutput{TurnID: "t1"}) {
		t.Fatalf("historian output without milestones must block")
	}
}
