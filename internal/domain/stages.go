package domain

import "fmt"

// Stage outputs are tagged types rather than free-form maps so the commit
// gate and the orchestrator can validate them without shape sniffing. A nil
// slice means the stage never produced the field; an empty slice is a valid,
// deliberately empty answer.

type FocusEntity struct {
	Name string `json:"name"`
	UUID string `json:"uuid"`
}

// CandidateSet lists every known uuid a display name resolved to. More than
// one uuid is the raw material for an identity conflict.
type CandidateSet struct {
	Name  string   `json:"name"`
	UUIDs []string `json:"uuids"`
}

type RelationHint struct {
	FromName   string  `json:"from_name"`
	ToName     string  `json:"to_name"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// RelationView is the retriever's denormalized view of a stored relation,
// carrying display names alongside the uuids.
type RelationView struct {
	FromUUID string  `json:"from_uuid"`
	ToUUID   string  `json:"to_uuid"`
	FromName string  `json:"from_name"`
	ToName   string  `json:"to_name"`
	Label    string  `json:"label"`
	Weight   float64 `json:"weight"`
	LastStep int     `json:"last_step"`
}

type KeyEvent struct {
	EventID       string             `json:"event_id"`
	Action        string             `json:"action"`
	EvidenceQuote string             `json:"evidence_quote"`
	Participants  []EventParticipant `json:"participants"`
	TurnID        string             `json:"turn_id"`
	Step          int                `json:"step"`
	ScoreHint     float64            `json:"score_hint"`
}

type RetrieverOutput struct {
	FocusEntities       []FocusEntity  `json:"focus_entities"`
	Candidates          []CandidateSet `json:"candidates"`
	CurrentRelations    []RelationView `json:"current_relations"`
	RelationHints       []RelationHint `json:"relation_hints"`
	KeyEvents           []KeyEvent     `json:"key_events"`
	EventRetrievalNotes string         `json:"event_retrieval_notes"`
	RetrievalNotes      string         `json:"retrieval_notes"`
}

func (o *RetrieverOutput) Validate() error {
	if o == nil {
		return fmt.Errorf("retriever output missing")
	}
	if len(o.FocusEntities) == 0 {
		return fmt.Errorf("retriever output has no focus entities")
	}
	for _, e := range o.FocusEntities {
		if e.Name == "" || e.UUID == "" {
			return fmt.Errorf("focus entity requires name and uuid")
		}
	}
	return nil
}

// InjectionPacket is the mixed-perspective memory block handed back to the
// caller for prompt augmentation.
type InjectionPacket struct {
	SecondPersonPsychology string `json:"second_person_psychology"`
	ThirdPersonRelations   string `json:"third_person_relations"`
	NeutralBackground      string `json:"neutral_background"`
	EventEvidenceContext   string `json:"event_evidence_context"`
}

type InjectorOutput struct {
	InjectionPacket InjectionPacket `json:"injection_packet"`
	TokenEstimate   int             `json:"token_estimate"`
}

func (o *InjectorOutput) Validate() error {
	if o == nil {
		return fmt.Errorf("injector output missing")
	}
	p := o.InjectionPacket
	if p.SecondPersonPsychology == "" || p.ThirdPersonRelations == "" || p.NeutralBackground == "" {
		return fmt.Errorf("injection packet requires psychology, relations, and background sections")
	}
	return nil
}

type ActionParticipant struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
	Bio  string `json:"bio,omitempty"`
	Role string `json:"role"`
}

// Action is one relation mutation proposed by the extractor. DeltaWeight is
// a pointer because it only applies to EVOLVE.
type Action struct {
	Action        string              `json:"action"`
	FromUUID      string              `json:"from_uuid"`
	ToUUID        string              `json:"to_uuid"`
	FromName      string              `json:"from_name"`
	ToName        string              `json:"to_name"`
	OldLabel      string              `json:"old_label,omitempty"`
	NewLabel      string              `json:"new_label,omitempty"`
	DeltaWeight   *float64            `json:"delta_weight"`
	EvidenceQuote string              `json:"evidence_quote"`
	Reasoning     string              `json:"reasoning"`
	Cause         string              `json:"cause"`
	EventName     string              `json:"event_name"`
	Participants  []ActionParticipant `json:"participants,omitempty"`
}

type StorageCompareItem struct {
	RelationKey     string `json:"relation_key"`
	Action          string `json:"action"`
	ConflictWithBio bool   `json:"conflict_with_bio"`
	Note            string `json:"note"`
}

type BioPatch struct {
	UUID   string `json:"uuid"`
	Before string `json:"before"`
	After  string `json:"after"`
	Cause  string `json:"cause"`
}

type GlobalAudit struct {
	StorageCompare []StorageCompareItem `json:"storage_compare"`
	BioRewrites    []BioPatch           `json:"bio_rewrites"`
}

type ExtractorOutput struct {
	Actions     []Action    `json:"actions"`
	GlobalAudit GlobalAudit `json:"global_audit"`
}

func (o *ExtractorOutput) Validate() error {
	if o == nil {
		return fmt.Errorf("extractor output missing")
	}
	if o.Actions == nil {
		return fmt.Errorf("extractor output requires an actions list")
	}
	for i, action := range o.Actions {
		switch action.Action {
		case ActionEvolve, ActionReplace, ActionDelete:
		default:
			return fmt.Errorf("action %d has unknown type %q", i, action.Action)
		}
		if action.FromUUID == "" || action.ToUUID == "" {
			return fmt.Errorf("action %d requires from_uuid and to_uuid", i)
		}
	}
	return nil
}

type IdentityConflict struct {
	Name   string   `json:"name"`
	UUIDs  []string `json:"uuids"`
	Reason string   `json:"reason"`
}

// JudgeOutput carries the identity audit. AllowCommit is a pointer so an
// absent field defaults to "allowed when there are no conflicts" while an
// explicit false always blocks.
type JudgeOutput struct {
	IdentityConflicts []IdentityConflict `json:"identity_conflicts"`
	AllowCommit       *bool              `json:"allowCommit"`
	BioSyncPatch      []BioPatch         `json:"bio_sync_patch"`
}

func (o *JudgeOutput) Validate() error {
	if o == nil {
		return fmt.Errorf("judge output missing")
	}
	if o.IdentityConflicts == nil {
		return fmt.Errorf("judge output requires an identity_conflicts list")
	}
	if o.BioSyncPatch == nil {
		return fmt.Errorf("judge output requires a bio_sync_patch list")
	}
	return nil
}

type TimelineItem struct {
	ID  string `json:"id"`
	Tag string `json:"tag"`
}

type HistorianOutput struct {
	TurnID        string         `json:"turn_id"`
	Milestones    []string       `json:"milestones"`
	TimelineItems []TimelineItem `json:"timeline_items"`
}

func (o *HistorianOutput) Validate() error {
	if o == nil {
		return nil
	}
	if o.Milestones == nil {
		return fmt.Errorf("historian output requires a milestones list")
	}
	return nil
}
