package domain

import "fmt"

// Relation mutation actions, in priority order for key-event scoring.
const (
	ActionEvolve  = "EVOLVE"
	ActionReplace = "REPLACE"
	ActionDelete  = "DELETE"
)

const (
	// DefaultBio seeds a newly discovered entity until a bio patch lands.
	DefaultBio = "bio pending"

	// MilestoneMarker prefixes every milestone summary line.
	MilestoneMarker = "[story-milestone]"
)

// Entity is a character node. UUID doubles as the stable entity key so
// repeated mentions of one normalized name converge to one node.
type Entity struct {
	UUID         string `json:"uuid"`
	EntityKey    string `json:"entity_key"`
	DisplayID    string `json:"id"`
	Name         string `json:"name"`
	Bio          string `json:"bio"`
	UpdatedAt    string `json:"updated_at"`
	LastSeenStep int    `json:"last_seen_step"`
	BioBefore    string `json:"bio_before,omitempty"`
	BioLastCause string `json:"bio_last_cause,omitempty"`
	BioUpdatedAt string `json:"bio_updated_at,omitempty"`
}

// Relation is a directed edge keyed by (conversation, from, to). At most one
// relation exists per key.
type Relation struct {
	Key               string  `json:"key"`
	ConversationID    string  `json:"conversation_id"`
	FromUUID          string  `json:"from_uuid"`
	ToUUID            string  `json:"to_uuid"`
	Label             string  `json:"label"`
	Weight            float64 `json:"weight"`
	LastStep          int     `json:"last_step"`
	LastTurnID        string  `json:"last_turn_id"`
	LastEvidenceQuote string  `json:"last_evidence_quote"`
}

type EventParticipant struct {
	UUID string `json:"uuid"`
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Event is the immutable record of one applied action. EventKey embeds the
// turn id and the 1-based action index so recurring event names never
// collide across turns.
type Event struct {
	EventKey       string             `json:"event_key"`
	EventID        string             `json:"event_id"`
	TurnID         string             `json:"turn_id"`
	ConversationID string             `json:"conversation_id"`
	Step           int                `json:"step"`
	Action         string             `json:"action"`
	OldLabel       string             `json:"old_label,omitempty"`
	NewLabel       string             `json:"new_label,omitempty"`
	DeltaWeight    *float64           `json:"delta_weight"`
	EvidenceQuote  string             `json:"evidence_quote"`
	FromUUID       string             `json:"from_uuid"`
	ToUUID         string             `json:"to_uuid"`
	Cause          string             `json:"cause,omitempty"`
	JudgeResult    string             `json:"judge_result"`
	Participants   []EventParticipant `json:"participants"`
}

type Milestone struct {
	MilestoneID    string `json:"milestone_id"`
	TurnID         string `json:"turn_id"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// EntityRef is the minimal entity projection carried inside a mutation.
type EntityRef struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
	Bio  string `json:"bio,omitempty"`
}

// Mutation is the full write set of one committed turn. It is applied
// atomically: either every action, entity upsert, event, and milestone
// lands, or none do.
type Mutation struct {
	ConversationID string
	TurnID         string
	Step           int
	Actions        []Action
	Judge          *JudgeOutput
	Historian      *HistorianOutput
	Entities       []EntityRef
}

type CommitReceipt struct {
	Committed bool   `json:"committed"`
	TxID      string `json:"tx_id,omitempty"`
	Storage   string `json:"storage"`
}

type ClearReport struct {
	OK                   bool   `json:"ok"`
	Storage              string `json:"storage"`
	DeletedNodes         int    `json:"deleted_nodes"`
	DeletedRelationships int    `json:"deleted_relationships"`
}

type EntityCandidate struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
	Bio  string `json:"bio"`
}

// KeyEventQuery selects recent high-priority events for a conversation.
// CurrentStep < 0 disables recency scoring and the age filter.
type KeyEventQuery struct {
	ConversationID   string
	FocusEntityUUIDs []string
	Limit            int
	CurrentStep      int
	MaxAgeSteps      int
}

// RelationKey builds the canonical edge key.
func RelationKey(conversationID, fromUUID, toUUID string) string {
	return fmt.Sprintf("%s:%s->%s", conversationID, fromUUID, toUUID)
}

// ActionPriority ranks actions for key-event scoring: destructive changes
// outrank incremental ones.
func ActionPriority(action string) int {
	switch action {
	case ActionReplace:
		return 3
	case ActionDelete:
		return 2
	default:
		return 1
	}
}

// EventScore is the retrieval score for one event: priority dominates,
// recency breaks ties within a priority band.
func EventScore(action string, eventStep, currentStep, maxAgeSteps int) float64 {
	priority := float64(ActionPriority(action))
	if currentStep < 0 || maxAgeSteps <= 0 {
		return priority * 2
	}
	age := currentStep - eventStep
	if age < 0 {
		age = -age
	}
	if age > maxAgeSteps {
		age = maxAgeSteps
	}
	recency := float64(maxAgeSteps-age) / float64(maxAgeSteps)
	return priority*2 + recency
}
