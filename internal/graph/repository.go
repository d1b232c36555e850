// Package graph stores the per-conversation knowledge graph behind one
// repository contract with two interchangeable backends: an in-memory
// copy-on-write store and Neo4j.
package graph

import (
	"context"

	"github.com/yungbote/kg-sidecar/internal/domain"
)

// Repository is the single graph contract. CommitMutation is the only
// mutating turn-path call and must be atomic: either the whole turn's write
// set lands or none of it does.
type Repository interface {
	// Storage names the backend ("memory" or "neo4j").
	Storage() string

	// StrongConsistency reports whether this backend satisfies a caller's
	// strong-consistency requirement. Adding a new durable backend means
	// setting this capability, not growing a provider-name comparison.
	StrongConsistency() bool

	HealthCheck(ctx context.Context) bool

	// ResolveEntityCandidatesByName finds entities whose display name
	// matches case-insensitively. More than one hit signals an identity
	// conflict.
	ResolveEntityCandidatesByName(ctx context.Context, name string) ([]domain.EntityCandidate, error)

	GetRelation(ctx context.Context, conversationID, fromUUID, toUUID string) (*domain.Relation, error)

	// QueryKeyEvents returns events ordered by action priority then
	// recency; ties break toward the larger step.
	QueryKeyEvents(ctx context.Context, q domain.KeyEventQuery) ([]domain.KeyEvent, error)

	CommitMutation(ctx context.Context, m *domain.Mutation) (domain.CommitReceipt, error)

	// ClearGraph destroys every entity, relation, event, and milestone the
	// backend holds. Not scoped to a conversation.
	ClearGraph(ctx context.Context) (domain.ClearReport, error)
}

// Storage fallback reasons reported by the factory.
const (
	FallbackNotConfigured = "NOT_CONFIGURED"
	FallbackConfigInvalid = "CONFIG_INVALID"
	FallbackUnavailable   = "UNAVAILABLE"
)

// Resolution is the factory's answer: which repository serves this request
// and why, if it is not the one the caller asked for.
type Resolution struct {
	Repository     Repository
	Storage        string
	FallbackReason string
}
