package domain

// ChatMessage is one entry of the caller-supplied chat window.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DBConfig is the per-request graph database profile. Provider "memory" (or
// an absent profile) selects the in-memory backend; "neo4j" selects the
// persistent backend and requires uri/username/password.
type DBConfig struct {
	Provider string `json:"provider"`
	URI      string `json:"uri"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// SlotOverride is a caller-supplied model route for one pipeline slot.
type SlotOverride struct {
	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature"`
}

type PipelineConfig struct {
	Models                map[string]SlotOverride `json:"models,omitempty"`
	DB                    *DBConfig               `json:"db,omitempty"`
	StrongConsistency     bool                    `json:"strong_consistency,omitempty"`
	DisableActorSlot      bool                    `json:"disable_actor_slot,omitempty"`
	DecayBase             float64                 `json:"decay_base,omitempty"`
	DeleteThreshold       float64                 `json:"delete_threshold,omitempty"`
	ContextWindowMessages int                     `json:"context_window_messages,omitempty"`
	KeyEventLimit         int                     `json:"key_event_limit,omitempty"`
	KeyEventMaxAgeSteps   int                     `json:"key_event_max_age_steps,omitempty"`
	SlotTimeoutsMs        map[string]int          `json:"slot_timeouts_ms,omitempty"`
	TimeoutMs             int                     `json:"timeout_ms,omitempty"`
}

type DebugFlags struct {
	ForceIdentityConflict bool `json:"force_identity_conflict,omitempty"`
}

// TurnRequest is the body of POST /turn/commit.
type TurnRequest struct {
	ConversationID string         `json:"conversation_id"`
	TurnID         string         `json:"turn_id"`
	Step           int            `json:"step"`
	UserMessage    string         `json:"user_message"`
	ChatWindow     []ChatMessage  `json:"chat_window"`
	Config         PipelineConfig `json:"config"`
	Debug          DebugFlags     `json:"debug,omitempty"`
}

// Commit lifecycle states, in expected order. COMMITTED and ROLLED_BACK are
// the only terminal states.
const (
	StateReceived     = "RECEIVED"
	StateRetrieving   = "RETRIEVING"
	StateInjecting    = "INJECTING"
	StateActing       = "ACTING"
	StateExtracting   = "EXTRACTING"
	StateJudging      = "JUDGING"
	StateHistorianing = "HISTORIANING"
	StatePrepared     = "PREPARED"
	StateCommitting   = "COMMITTING"
	StateCommitted    = "COMMITTED"
	StateRolledBack   = "ROLLED_BACK"
)

// CommitInfo describes how a turn terminated.
type CommitInfo struct {
	Status         string `json:"status"`
	TxID           string `json:"tx_id,omitempty"`
	AppliedActions int    `json:"applied_actions,omitempty"`
	Storage        string `json:"storage,omitempty"`
	FailedStage    string `json:"failed_stage,omitempty"`
	ReasonCode     string `json:"reason_code,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

type GraphDelta struct {
	Evolve  int `json:"evolve"`
	Replace int `json:"replace"`
	Delete  int `json:"delete"`
}

type AuditSummary struct {
	BioSyncUpdatedEntities int `json:"bio_sync_updated_entities"`
	IdentityConflicts      int `json:"identity_conflicts"`
	StorageCompareItems    int `json:"storage_compare_items"`
}

type StorageResolution struct {
	Storage        string `json:"storage"`
	FallbackReason string `json:"fallback_reason,omitempty"`
}

type RouteAudit struct {
	ConfiguredProvider string `json:"configured_provider"`
	ConfiguredModel    string `json:"configured_model"`
	EffectiveProvider  string `json:"effective_provider"`
	EffectiveModel     string `json:"effective_model"`
	Status             string `json:"status"`
	WarningCode        string `json:"warning_code,omitempty"`
}

type SlotModel struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
}

// TurnResult is the terminal outcome of one commit attempt. It is what the
// idempotency store caches and what every turn endpoint returns.
type TurnResult struct {
	OK              bool                  `json:"ok"`
	ConversationID  string                `json:"conversation_id,omitempty"`
	TurnID          string                `json:"turn_id,omitempty"`
	AssistantReply  string                `json:"assistant_reply,omitempty"`
	InjectionPacket *InjectionPacket      `json:"injection_packet,omitempty"`
	Commit          CommitInfo            `json:"commit"`
	GraphDelta      *GraphDelta           `json:"graph_delta,omitempty"`
	Milestones      []string              `json:"milestones,omitempty"`
	TimelineItems   []TimelineItem        `json:"timeline_items,omitempty"`
	AuditSummary    *AuditSummary         `json:"audit_summary,omitempty"`
	GlobalAudit     *GlobalAudit          `json:"global_audit,omitempty"`
	ModelRoutes     map[string]SlotModel  `json:"model_routes,omitempty"`
	ModelRouteAudit map[string]RouteAudit `json:"model_route_audit,omitempty"`
	Storage         *StorageResolution    `json:"storage_resolution,omitempty"`
	PipelineTimeline []string             `json:"pipeline_timeline,omitempty"`
	Retryable       bool                  `json:"retryable"`
}

// Terminal reports whether the result's commit status is one of the two
// terminal states. The idempotency store only trusts terminal results.
func (r *TurnResult) Terminal() bool {
	if r == nil {
		return false
	}
	return r.Commit.Status == StateCommitted || r.Commit.Status == StateRolledBack
}
