// Package kg wires the turn pipeline together: validation, the conversation
// lock, idempotency, the six slots, the commit gate, and the graph write.
package kg

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/kg-sidecar/internal/data/turns"
	"github.com/yungbote/kg-sidecar/internal/domain"
	"github.com/yungbote/kg-sidecar/internal/graph"
	"github.com/yungbote/kg-sidecar/internal/model"
	"github.com/yungbote/kg-sidecar/internal/platform/logger"
	"github.com/yungbote/kg-sidecar/internal/slots"
)

var tracer = otel.Tracer("kg-sidecar/turn")

// tracedStage opens a span for one pipeline stage.
func tracedStage(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "kg.stage."+name)
}

// RepositoryResolver picks the graph backend for a request's db profile.
type RepositoryResolver interface {
	Resolve(ctx context.Context, db *domain.DBConfig) graph.Resolution
}

type CommitOptions struct {
	ForceRetry bool
}

// ClearOutcome reports a graph wipe.
type ClearOutcome struct {
	OK                   bool   `json:"ok"`
	Storage              string `json:"storage"`
	DeletedNodes         int    `json:"deleted_nodes"`
	DeletedRelationships int    `json:"deleted_relationships"`
	ReasonCode           string `json:"reason_code,omitempty"`
	Reason               string `json:"reason,omitempty"`
}

// Orchestrator owns one conversation-serialized commit pipeline. It holds no
// global state; every collaborator is injected.
type Orchestrator struct {
	log      *logger.Logger
	runtime  *slots.Runtime
	resolver RepositoryResolver
	lock     ConversationLock
	idem     *IdempotencyStore
	store    turns.Store

	mu     sync.RWMutex
	status map[string]*domain.TurnResult
}

func NewOrchestrator(log *logger.Logger, rt *slots.Runtime, resolver RepositoryResolver, lock ConversationLock, store turns.Store) *Orchestrator {
	if lock == nil {
		lock = NewMemoryLock()
	}
	if store == nil {
		store = turns.NewMemoryStore()
	}
	return &Orchestrator{
		log:      log.With("component", "TurnOrchestrator"),
		runtime:  rt,
		resolver: resolver,
		lock:     lock,
		idem:     NewIdempotencyStore(),
		store:    store,
		status:   make(map[string]*domain.TurnResult),
	}
}

// GetTurnStatus returns the last known result for a turn, or nil when the
// turn was never seen.
func (o *Orchestrator) GetTurnStatus(ctx context.Context, turnID string) *domain.TurnResult {
	o.mu.RLock()
	result, ok := o.status[turnID]
	o.mu.RUnlock()
	if ok {
		return result
	}
	stored, err := o.store.GetResult(ctx, turnID)
	if err != nil {
		o.log.Warn("turn status lookup failed", "turn_id", turnID, "error", err)
		return nil
	}
	return stored
}

// RetryTurn replays a stored request, bypassing the idempotency cache.
func (o *Orchestrator) RetryTurn(ctx context.Context, turnID string) *domain.TurnResult {
	request, err := o.store.GetRequest(ctx, turnID)
	if err != nil {
		o.log.Warn("turn request lookup failed", "turn_id", turnID, "error", err)
	}
	if request == nil {
		return &domain.TurnResult{
			Commit: domain.CommitInfo{
				Status:      domain.StateRolledBack,
				FailedStage: "retry",
				ReasonCode:  domain.CodeTurnNotFound,
				Reason:      "No stored request for turn id.",
			},
		}
	}
	return o.CommitTurn(ctx, request, CommitOptions{ForceRetry: true})
}

// ClearDatabase wipes the resolved graph backend. When a neo4j profile was
// requested but the backend fell back, the wipe is refused instead of
// silently clearing the memory graph.
func (o *Orchestrator) ClearDatabase(ctx context.Context, db *domain.DBConfig) ClearOutcome {
	resolution := o.resolver.Resolve(ctx, db)
	if db != nil && strings.EqualFold(db.Provider, domain.StorageNeo4j) && resolution.Storage != domain.StorageNeo4j {
		reason := resolution.FallbackReason
		if reason == "" {
			reason = graph.FallbackUnavailable
		}
		return ClearOutcome{
			Storage:    resolution.Storage,
			ReasonCode: reason,
			Reason:     "Neo4j repository is unavailable for clear operation.",
		}
	}

	report, err := resolution.Repository.ClearGraph(ctx)
	if err != nil {
		return ClearOutcome{
			Storage:    resolution.Storage,
			ReasonCode: strings.ToUpper(resolution.Storage) + "_CLEAR_FAILED",
			Reason:     err.Error(),
		}
	}
	return ClearOutcome{
		OK:                   true,
		Storage:              resolution.Storage,
		DeletedNodes:         report.DeletedNodes,
		DeletedRelationships: report.DeletedRelationships,
	}
}

// CommitTurn runs one full turn. The result is always terminal: COMMITTED
// when the graph write landed, ROLLED_BACK for every other outcome.
func (o *Orchestrator) CommitTurn(ctx context.Context, req *domain.TurnRequest, opts CommitOptions) *domain.TurnResult {
	stageErr := domain.ValidateTurnCommitRequest(req)
	if stageErr == nil && req != nil {
		stageErr = model.ValidateOverrides(req.Config.Models)
	}
	if stageErr != nil {
		return o.rejectInvalid(req, stageErr)
	}

	key := IdempotencyKey(req.ConversationID, req.TurnID)
	if !opts.ForceRetry {
		if cached := o.idem.Get(key); cached != nil {
			return cached
		}
	}

	if !o.lock.Acquire(req.ConversationID) {
		return &domain.TurnResult{
			ConversationID: req.ConversationID,
			TurnID:         req.TurnID,
			Commit: domain.CommitInfo{
				Status:      domain.StateRolledBack,
				FailedStage: "lock",
				ReasonCode:  domain.CodeInProgress,
				Reason:      "Another turn is processing this conversation.",
			},
			Retryable: true,
		}
	}
	defer o.lock.Release(req.ConversationID)

	if err := o.store.SaveRequest(ctx, req); err != nil {
		o.log.Warn("turn request persistence failed", "turn_id", req.TurnID, "error", err)
	}

	machine := RunTurnStateMachine(func(transition func(string)) (*domain.TurnResult, error) {
		return o.runPipeline(ctx, req, transition)
	})

	var result *domain.TurnResult
	if machine.OK {
		result = machine.Output
		result.OK = true
		result.PipelineTimeline = machine.Timeline
	} else {
		result = &domain.TurnResult{
			ConversationID: req.ConversationID,
			TurnID:         req.TurnID,
			Commit: domain.CommitInfo{
				Status:      domain.StateRolledBack,
				FailedStage: machine.Err.Stage,
				ReasonCode:  machine.Err.Code,
				Reason:      machine.Err.Message,
			},
			Retryable:        machine.Err.Retryable,
			PipelineTimeline: machine.Timeline,
		}
	}

	o.recordResult(ctx, key, result)
	return result
}

func (o *Orchestrator) runPipeline(ctx context.Context, req *domain.TurnRequest, transition func(string)) (*domain.TurnResult, error) {
	cfg := &req.Config
	routes := model.RoutesForRequest(cfg.Models)
	routeAudit := model.BuildRouteAudit(cfg.Models, o.runtime.HasClient())

	resolution := o.resolver.Resolve(ctx, cfg.DB)
	repo := resolution.Repository
	requiresStrongNeo4j := cfg.StrongConsistency &&
		cfg.DB != nil && strings.EqualFold(cfg.DB.Provider, domain.StorageNeo4j)
	if requiresStrongNeo4j && !repo.StrongConsistency() {
		return nil, domain.NewStageError("repository", domain.CodeBackendUnavailable,
			fmt.Sprintf("Neo4j unavailable under strong consistency mode (%s).",
				orUnavailable(resolution.FallbackReason)), true)
	}

	transition(domain.StateRetrieving)
	stageCtx, span := tracedStage(ctx, model.SlotRetriever)
	retrieverOut, err := slots.RetrieveEntities(stageCtx, o.runtime, req, repo)
	span.End()
	if err != nil {
		return nil, err
	}

	transition(domain.StateInjecting)
	stageCtx, span = tracedStage(ctx, model.SlotInjector)
	injectorOut, err := slots.InjectMemory(stageCtx, o.runtime, req, retrieverOut)
	span.End()
	if err != nil {
		return nil, err
	}

	transition(domain.StateActing)
	assistantReply := ""
	if !cfg.DisableActorSlot {
		stageCtx, span = tracedStage(ctx, model.SlotActor)
		assistantReply = slots.GenerateAssistantReply(stageCtx, o.runtime, req, injectorOut)
		span.End()
	}

	transition(domain.StateExtracting)
	stageCtx, span = tracedStage(ctx, model.SlotExtractor)
	extractorOut, err := slots.ExtractActions(stageCtx, o.runtime, req, retrieverOut)
	span.End()
	if err != nil {
		return nil, err
	}

	transition(domain.StateJudging)
	stageCtx, span = tracedStage(ctx, model.SlotJudge)
	judgeOut, err := slots.JudgeMutations(stageCtx, o.runtime, req, retrieverOut, extractorOut)
	span.End()
	if err != nil {
		return nil, err
	}

	transition(domain.StateHistorianing)
	stageCtx, span = tracedStage(ctx, model.SlotHistorian)
	historianOut, err := slots.BuildMilestones(stageCtx, o.runtime, req, extractorOut)
	span.End()
	if err != nil {
		return nil, err
	}

	if !CanCommit(extractorOut, judgeOut, historianOut) {
		code := domain.CodeInvalidStageOutput
		if len(judgeOut.IdentityConflicts) > 0 {
			code = domain.CodeIdentityConflict
		}
		return nil, domain.NewStageError("judge", code, "Commit gate blocked this turn.", false)
	}

	transition(domain.StatePrepared)
	transition(domain.StateCommitting)

	commitCtx, commitSpan := tracedStage(ctx, "commit")
	defer commitSpan.End()
	receipt, err := repo.CommitMutation(commitCtx, &domain.Mutation{
		ConversationID: req.ConversationID,
		TurnID:         req.TurnID,
		Step:           req.Step,
		Actions:        extractorOut.Actions,
		Judge:          judgeOut,
		Historian:      historianOut,
		Entities:       entityRefs(retrieverOut.FocusEntities),
	})
	if err != nil || !receipt.Committed {
		code := strings.ToUpper(resolution.Storage) + "_TX_FAILED"
		return nil, domain.WrapStageError("commit", code, true,
			fmt.Errorf("failed to commit transaction: %w", orErr(err)))
	}

	delta := domain.GraphDelta{}
	for _, action := range extractorOut.Actions {
		switch action.Action {
		case domain.ActionEvolve:
			delta.Evolve++
		case domain.ActionReplace:
			delta.Replace++
		case domain.ActionDelete:
			delta.Delete++
		}
	}

	return &domain.TurnResult{
		ConversationID:  req.ConversationID,
		TurnID:          req.TurnID,
		AssistantReply:  assistantReply,
		InjectionPacket: &injectorOut.InjectionPacket,
		Commit: domain.CommitInfo{
			Status:         domain.StateCommitted,
			TxID:           orFallback(receipt.TxID, req.TurnID+":tx"),
			AppliedActions: len(extractorOut.Actions),
			Storage:        orFallback(receipt.Storage, domain.StorageMemory),
		},
		GraphDelta:    &delta,
		Milestones:    historianOut.Milestones,
		TimelineItems: historianOut.TimelineItems,
		AuditSummary: &domain.AuditSummary{
			BioSyncUpdatedEntities: len(judgeOut.BioSyncPatch),
			IdentityConflicts:      len(judgeOut.IdentityConflicts),
			StorageCompareItems:    len(extractorOut.GlobalAudit.StorageCompare),
		},
		GlobalAudit:     &extractorOut.GlobalAudit,
		ModelRoutes:     routes,
		ModelRouteAudit: routeAudit,
		Storage: &domain.StorageResolution{
			Storage:        resolution.Storage,
			FallbackReason: resolution.FallbackReason,
		},
	}, nil
}

func (o *Orchestrator) rejectInvalid(req *domain.TurnRequest, stageErr *domain.StageError) *domain.TurnResult {
	result := &domain.TurnResult{
		Commit: domain.CommitInfo{
			Status:      domain.StateRolledBack,
			FailedStage: "validate",
			ReasonCode:  stageErr.Code,
			Reason:      stageErr.Message,
		},
	}
	turnID := "unknown"
	if req != nil {
		result.ConversationID = req.ConversationID
		result.TurnID = req.TurnID
		if req.TurnID != "" {
			turnID = req.TurnID
		}
	}
	o.mu.Lock()
	o.status[turnID] = result
	o.mu.Unlock()
	return result
}

func (o *Orchestrator) recordResult(ctx context.Context, key string, result *domain.TurnResult) {
	o.mu.Lock()
	o.status[result.TurnID] = result
	o.mu.Unlock()
	o.idem.Put(key, result)
	if err := o.store.SaveResult(ctx, result); err != nil {
		o.log.Warn("turn result persistence failed", "turn_id", result.TurnID, "error", err)
	}
}

func entityRefs(focus []domain.FocusEntity) []domain.EntityRef {
	out := make([]domain.EntityRef, 0, len(focus))
	for _, entity := range focus {
		out = append(out, domain.EntityRef{UUID: entity.UUID, Name: entity.Name})
	}
	return out
}

func orFallback(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func orUnavailable(reason string) string {
	if reason == "" {
		return graph.FallbackUnavailable
	}
	return reason
}

func orErr(err error) error {
	if err == nil {
		return fmt.Errorf("transaction was not committed")
	}
	return err
}
