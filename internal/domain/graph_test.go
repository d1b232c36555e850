package domain

import "testing"

func TestRelationKey(t *testing.T) {
	got := RelationKey("conv-1", "char:A", "char:B")
	if got != "conv-1:char:A->char:B" {
		t.Fatalf("relation key = %q", got)
	}
}

func TestActionPriority(t *testing.T) {
	if ActionPriority(ActionReplace) != 3 || ActionPriority(ActionDelete) != 2 || ActionPriority(ActionEvolve) != 1 {
		t.Fatalf("priority order must be REPLACE > DELETE > EVOLVE")
	}
	if ActionPriority("SOMETHING_ELSE") != 1 {
		t.Fatalf("unknown actions rank lowest")
	}
}

func TestEventScore(t *testing.T) {
	// Priority dominates: an old REPLACE outranks a fresh EVOLVE.
	oldReplace := EventScore(ActionReplace, 0, 80, 80)
	freshEvolve := EventScore(ActionEvolve, 80, 80, 80)
	if oldReplace <= freshEvolve {
		t.Fatalf("old REPLACE (%v) must outrank fresh EVOLVE (%v)", oldReplace, freshEvolve)
	}

	// Within one priority band, recency decides.
	fresh := EventScore(ActionEvolve, 79, 80, 80)
	stale := EventScore(ActionEvolve, 10, 80, 80)
	if fresh <= stale {
		t.Fatalf("fresher event must score higher: %v vs %v", fresh, stale)
	}

	// CurrentStep < 0 disables recency entirely.
	if EventScore(ActionDelete, 5, -1, 80) != 4 {
		t.Fatalf("recency must be disabled when current step is negative")
	}
}

func TestStageOutputValidation(t *testing.T) {
	var extractor *ExtractorOutput
	if extractor.Validate() == nil {
		t.Fatalf("nil extractor output must be invalid")
	}
	if (&ExtractorOutput{}).Validate() == nil {
		t.Fatalf("missing actions list must be invalid")
	}
	ok := &ExtractorOutput{Actions: []Action{}, GlobalAudit: GlobalAudit{}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("empty actions list is a valid answer: %v", err)
	}
	bad := &ExtractorOutput{Actions: []Action{{Action: "MUTATE", FromUUID: "a", ToUUID: "b"}}}
	if bad.Validate() == nil {
		t.Fatalf("unknown action type must be invalid")
	}

	var judge *JudgeOutput
	if judge.Validate() == nil {
		t.Fatalf("nil judge output must be invalid")
	}
	if (&JudgeOutput{IdentityConflicts: []IdentityConflict{}}).Validate() == nil {
		t.Fatalf("judge output without bio_sync_patch must be invalid")
	}
	if err := (&JudgeOutput{IdentityConflicts: []IdentityConflict{}, BioSyncPatch: []BioPatch{}}).Validate(); err != nil {
		t.Fatalf("complete judge output rejected: %v", err)
	}

	// A missing historian output is allowed; a present one needs milestones.
	var historian *HistorianOutput
	if historian.Validate() != nil {
		t.Fatalf("absent historian output is valid")
	}
	if (&HistorianOutput{TurnID: "t1"}).Validate() == nil {
		t.Fatalf("historian output without milestones must be invalid")
	}
}
