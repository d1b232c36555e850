package domain

import "strings"

// Graph storage providers accepted in a db profile.
const (
	StorageMemory = "memory"
	StorageNeo4j  = "neo4j"
)

// ValidateTurnCommitRequest checks the request shape before any lock is
// taken. A nil return means the request is structurally valid; otherwise the
// StageError is non-retryable INVALID_REQUEST.
func ValidateTurnCommitRequest(req *TurnRequest) *StageError {
	invalid := func(msg string) *StageError {
		return NewStageError("validate", CodeInvalidRequest, msg, false)
	}

	if req == nil {
		return invalid("request body is required")
	}
	if strings.TrimSpace(req.ConversationID) == "" {
		return invalid("conversation_id is required")
	}
	if strings.TrimSpace(req.TurnID) == "" {
		return invalid("turn_id is required")
	}
	if req.Step < 0 {
		return invalid("step must be a non-negative integer")
	}
	if req.ChatWindow == nil {
		return invalid("chat_window must be an array")
	}

	db := req.Config.DB
	if db == nil {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(db.Provider)) {
	case "", StorageMemory:
		return nil
	case StorageNeo4j:
		if strings.TrimSpace(db.URI) == "" ||
			strings.TrimSpace(db.Username) == "" ||
			strings.TrimSpace(db.Password) == "" {
			return invalid("neo4j db config requires uri, username, and password")
		}
		return nil
	default:
		return invalid("config.db.provider must be memory or neo4j")
	}
}
