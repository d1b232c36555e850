package graph

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/kg-sidecar/internal/domain"
)

type eventLink struct {
	LinkKey    string
	EventKey   string
	EventID    string
	EntityUUID string
	EntityID   string
	Role       string
}

// snapshot is one immutable version of the graph. Commits build a draft copy
// and swap it in only when the whole mutation succeeded, so readers never
// observe a half-applied turn.
type snapshot struct {
	entities   map[string]*domain.Entity
	relations  map[string]*domain.Relation
	events     []domain.Event
	eventLinks []eventLink
	milestones []domain.Milestone
}

func newSnapshot() *snapshot {
	return &snapshot{
		entities:  make(map[string]*domain.Entity),
		relations: make(map[string]*domain.Relation),
	}
}

func (s *snapshot) clone() *snapshot {
	out := &snapshot{
		entities:   make(map[string]*domain.Entity, len(s.entities)),
		relations:  make(map[string]*domain.Relation, len(s.relations)),
		events:     make([]domain.Event, len(s.events)),
		eventLinks: make([]eventLink, len(s.eventLinks)),
		milestones: make([]domain.Milestone, len(s.milestones)),
	}
	for uuid, entity := range s.entities {
		copied := *entity
		out.entities[uuid] = &copied
	}
	for key, relation := range s.relations {
		copied := *relation
		out.relations[key] = &copied
	}
	copy(out.events, s.events)
	copy(out.eventLinks, s.eventLinks)
	copy(out.milestones, s.milestones)
	return out
}

// MemoryRepository is the default backend and the automatic fallback when no
// durable store is reachable.
type MemoryRepository struct {
	mu    sync.RWMutex
	state *snapshot
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{state: newSnapshot()}
}

func (r *MemoryRepository) Storage() string                  { return domain.StorageMemory }
func (r *MemoryRepository) StrongConsistency() bool          { return false }
func (r *MemoryRepository) HealthCheck(context.Context) bool { return true }

func (r *MemoryRepository) ResolveEntityCandidatesByName(_ context.Context, name string) ([]domain.EntityCandidate, error) {
	target := strings.ToLower(strings.TrimSpace(name))
	if target == "" {
		return nil, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.EntityCandidate
	for _, entity := range r.state.entities {
		if strings.ToLower(strings.TrimSpace(entity.Name)) == target {
			out = append(out, domain.EntityCandidate{UUID: entity.UUID, Name: entity.Name, Bio: entity.Bio})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out, nil
}

func (r *MemoryRepository) GetRelation(_ context.Context, conversationID, fromUUID, toUUID string) (*domain.Relation, error) {
	key := domain.RelationKey(conversationID, fromUUID, toUUID)

	r.mu.RLock()
	defer r.mu.RUnlock()
	relation, ok := r.state.relations[key]
	if !ok {
		return nil, nil
	}
	copied := *relation
	return &copied, nil
}

func ensureEntity(draft *snapshot, uuid, name, bio string, step int) {
	if uuid == "" {
		return
	}
	existing := draft.entities[uuid]
	displayID := domain.DisplayIDFromEntityRef(name)
	if displayID == "" && existing != nil {
		displayID = existing.DisplayID
	}
	if displayID == "" {
		displayID = domain.DisplayIDFromEntityRef(uuid)
	}

	// An existing non-empty bio survives unless a bio patch rewrites it
	// explicitly.
	keptBio := bio
	if existing != nil && existing.Bio != "" {
		keptBio = existing.Bio
	}
	if keptBio == "" {
		keptBio = domain.DefaultBio
	}

	entity := &domain.Entity{
		UUID:         uuid,
		EntityKey:    uuid,
		DisplayID:    displayID,
		Name:         displayID,
		Bio:          truncateRunes(keptBio, 500),
		UpdatedAt:    time.Now().UTC().Format(time.RFC3339),
		LastSeenStep: step,
	}
	if existing != nil {
		entity.BioBefore = existing.BioBefore
		entity.BioLastCause = existing.BioLastCause
		entity.BioUpdatedAt = existing.BioUpdatedAt
	}
	draft.entities[uuid] = entity
}

func actionParticipants(action domain.Action) []domain.ActionParticipant {
	base := []domain.ActionParticipant{
		{UUID: action.FromUUID, Name: orDefault(action.FromName, action.FromUUID), Role: "subject"},
		{UUID: action.ToUUID, Name: orDefault(action.ToName, action.ToUUID), Role: "object"},
	}
	base = append(base, action.Participants...)

	seen := make(map[string]bool, len(base))
	var out []domain.ActionParticipant
	for _, p := range base {
		uuid := strings.TrimSpace(p.UUID)
		if uuid == "" || seen[uuid] {
			continue
		}
		seen[uuid] = true
		role := strings.TrimSpace(p.Role)
		if role == "" {
			role = "participant"
		}
		out = append(out, domain.ActionParticipant{
			UUID: uuid,
			Name: strings.TrimSpace(orDefault(p.Name, uuid)),
			Bio:  strings.TrimSpace(p.Bio),
			Role: role,
		})
	}
	return out
}

func (r *MemoryRepository) CommitMutation(_ context.Context, m *domain.Mutation) (domain.CommitReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	draft := r.state.clone()

	for _, entity := range m.Entities {
		ensureEntity(draft, entity.UUID, orDefault(entity.Name, entity.UUID), entity.Bio, m.Step)
	}

	judgeResult := "ALLOW"
	if m.Judge != nil && len(m.Judge.IdentityConflicts) > 0 {
		judgeResult = "BLOCK"
	}

	for index, action := range m.Actions {
		key := domain.RelationKey(m.ConversationID, action.FromUUID, action.ToUUID)
		existing := draft.relations[key]

		ensureEntity(draft, action.FromUUID, orDefault(action.FromName, action.FromUUID), "", m.Step)
		ensureEntity(draft, action.ToUUID, orDefault(action.ToName, action.ToUUID), "", m.Step)

		label := action.NewLabel
		if action.Action != domain.ActionReplace {
			switch {
			case existing != nil && existing.Label != "":
				label = existing.Label
			case action.NewLabel != "":
				label = action.NewLabel
			case action.OldLabel != "":
				label = action.OldLabel
			}
		}
		if label == "" {
			label = "ALLY"
		}

		switch action.Action {
		case domain.ActionEvolve:
			weight := 0.0
			if existing != nil {
				weight = existing.Weight
			}
			if action.DeltaWeight != nil {
				weight += *action.DeltaWeight
			}
			draft.relations[key] = &domain.Relation{
				Key:               key,
				ConversationID:    m.ConversationID,
				FromUUID:          action.FromUUID,
				ToUUID:            action.ToUUID,
				Label:             label,
				Weight:            weight,
				LastStep:          m.Step,
				LastTurnID:        m.TurnID,
				LastEvidenceQuote: action.EvidenceQuote,
			}
		case domain.ActionReplace:
			// The prior edge is removed first so weight history never
			// leaks across a label change.
			delete(draft.relations, key)
			draft.relations[key] = &domain.Relation{
				Key:               key,
				ConversationID:    m.ConversationID,
				FromUUID:          action.FromUUID,
				ToUUID:            action.ToUUID,
				Label:             label,
				Weight:            domain.ReplaceBaselineWeight,
				LastStep:          m.Step,
				LastTurnID:        m.TurnID,
				LastEvidenceQuote: action.EvidenceQuote,
			}
		case domain.ActionDelete:
			delete(draft.relations, key)
		}

		eventID := strings.TrimSpace(action.EventName)
		if eventID == "" {
			eventID = domain.EventIDForAction(action.Action, action.FromName, action.ToName)
		}
		eventKey := domain.EventKeyFor(m.TurnID, index, eventID)

		participants := actionParticipants(action)
		eventParticipants := make([]domain.EventParticipant, 0, len(participants))
		for _, p := range participants {
			ensureEntity(draft, p.UUID, p.Name, p.Bio, m.Step)
			eventParticipants = append(eventParticipants, domain.EventParticipant{
				UUID: p.UUID,
				ID:   domain.DisplayIDFromEntityRef(orDefault(p.Name, p.UUID)),
				Role: p.Role,
			})
		}

		draft.events = append(draft.events, domain.Event{
			EventKey:       eventKey,
			EventID:        eventID,
			TurnID:         m.TurnID,
			ConversationID: m.ConversationID,
			Step:           m.Step,
			Action:         action.Action,
			OldLabel:       action.OldLabel,
			NewLabel:       action.NewLabel,
			DeltaWeight:    action.DeltaWeight,
			EvidenceQuote:  action.EvidenceQuote,
			FromUUID:       action.FromUUID,
			ToUUID:         action.ToUUID,
			Cause:          action.Cause,
			JudgeResult:    judgeResult,
			Participants:   eventParticipants,
		})

		for _, p := range eventParticipants {
			linkKey := eventKey + "|" + p.UUID
			if hasLink(draft.eventLinks, linkKey) {
				continue
			}
			draft.eventLinks = append(draft.eventLinks, eventLink{
				LinkKey:    linkKey,
				EventKey:   eventKey,
				EventID:    eventID,
				EntityUUID: p.UUID,
				EntityID:   p.ID,
				Role:       p.Role,
			})
		}
	}

	if m.Judge != nil {
		for _, patch := range m.Judge.BioSyncPatch {
			if patch.UUID == "" {
				continue
			}
			ensureEntity(draft, patch.UUID, patch.UUID, "", m.Step)
			entity := draft.entities[patch.UUID]
			entity.Bio = truncateRunes(patch.After, 500)
			entity.BioBefore = truncateRunes(patch.Before, 500)
			entity.BioLastCause = truncateRunes(patch.Cause, 500)
			entity.BioUpdatedAt = time.Now().UTC().Format(time.RFC3339)
		}
	}

	for _, item := range timelineItemsOf(m.Historian, m.TurnID) {
		draft.milestones = append(draft.milestones, domain.Milestone{
			MilestoneID:    item.ID,
			TurnID:         m.TurnID,
			ConversationID: m.ConversationID,
			Content:        item.Tag,
		})
	}

	r.state = draft
	return domain.CommitReceipt{
		Committed: true,
		TxID:      m.TurnID + ":memory",
		Storage:   domain.StorageMemory,
	}, nil
}

func (r *MemoryRepository) ClearGraph(context.Context) (domain.ClearReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	report := domain.ClearReport{
		OK:                   true,
		Storage:              domain.StorageMemory,
		DeletedNodes:         len(r.state.entities) + len(r.state.events) + len(r.state.milestones),
		DeletedRelationships: len(r.state.relations) + len(r.state.eventLinks),
	}
	r.state = newSnapshot()
	return report, nil
}

func (r *MemoryRepository) QueryKeyEvents(_ context.Context, q domain.KeyEventQuery) ([]domain.KeyEvent, error) {
	limit := clampInt(q.Limit, 1, 20, 4)
	maxAge := q.MaxAgeSteps
	if maxAge < 1 {
		maxAge = 30
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.KeyEvent
	for _, event := range r.state.events {
		if event.ConversationID != q.ConversationID {
			continue
		}
		if len(q.FocusEntityUUIDs) > 0 && !involvesAny(event.Participants, q.FocusEntityUUIDs) {
			continue
		}
		if q.CurrentStep >= 0 {
			age := q.CurrentStep - event.Step
			if age < 0 {
				age = -age
			}
			if age > maxAge {
				continue
			}
		}
		participants := make([]domain.EventParticipant, len(event.Participants))
		copy(participants, event.Participants)
		out = append(out, domain.KeyEvent{
			EventID:       event.EventID,
			Action:        event.Action,
			EvidenceQuote: event.EvidenceQuote,
			Participants:  participants,
			TurnID:        event.TurnID,
			Step:          event.Step,
			ScoreHint:     domain.EventScore(event.Action, event.Step, q.CurrentStep, maxAge),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ScoreHint != out[j].ScoreHint {
			return out[i].ScoreHint > out[j].ScoreHint
		}
		return out[i].Step > out[j].Step
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func timelineItemsOf(h *domain.HistorianOutput, turnID string) []domain.TimelineItem {
	if h == nil {
		return nil
	}
	if h.TimelineItems != nil {
		return h.TimelineItems
	}
	out := make([]domain.TimelineItem, 0, len(h.Milestones))
	for i, tag := range h.Milestones {
		out = append(out, domain.TimelineItem{ID: domain.MilestoneIDFor(turnID, i), Tag: tag})
	}
	return out
}

func hasLink(links []eventLink, linkKey string) bool {
	for _, link := range links {
		if link.LinkKey == linkKey {
			return true
		}
	}
	return false
}

func involvesAny(participants []domain.EventParticipant, focus []string) bool {
	for _, p := range participants {
		for _, uuid := range focus {
			if p.UUID == uuid {
				return true
			}
		}
	}
	return false
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func clampInt(v, min, max, fallback int) int {
	if v == 0 {
		return fallback
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
