package domain

import "testing"

func validRequest() *TurnRequest {
	return &TurnRequest{
		ConversationID: "conv-1",
		TurnID:         "turn-1",
		Step:           3,
		UserMessage:    "hello",
		ChatWindow:     []ChatMessage{},
	}
}

func TestValidateTurnCommitRequest(t *testing.T) {
	if err := ValidateTurnCommitRequest(validRequest()); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*TurnRequest)
	}{
		{"missing conversation", func(r *TurnRequest) { r.ConversationID = " " }},
		{"missing turn", func(r *TurnRequest) { r.TurnID = "" }},
		{"negative step", func(r *TurnRequest) { r.Step = -1 }},
		{"nil chat window", func(r *TurnRequest) { r.ChatWindow = nil }},
		{"unknown provider", func(r *TurnRequest) {
			r.Config.DB = &DBConfig{Provider: "dynamo"}
		}},
		{"neo4j missing credentials", func(r *TurnRequest) {
			r.Config.DB = &DBConfig{Provider: "neo4j", URI: "bolt://x"}
		}},
	}
	for _, tc := range cases {
		req := validRequest()
		tc.mutate(req)
		err := ValidateTurnCommitRequest(req)
		if err == nil {
			t.Fatalf("%s: expected rejection", tc.name)
		}
		if err.Code != CodeInvalidRequest {
			t.Fatalf("%s: code = %s, want INVALID_REQUEST", tc.name, err.Code)
		}
		if err.Retryable {
			t.Fatalf("%s: validation errors must not be retryable", tc.name)
		}
	}

	if err := ValidateTurnCommitRequest(nil); err == nil {
		t.Fatalf("nil request must be rejected")
	}

	// Memory profile and a fully-specified neo4j profile are both fine.
	req := validRequest()
	req.Config.DB = &DBConfig{Provider: "memory"}
	if err := ValidateTurnCommitRequest(req); err != nil {
		t.Fatalf("memory profile rejected: %v", err)
	}
	req.Config.DB = &DBConfig{Provider: "neo4j", URI: "bolt://x", Username: "neo4j", Password: "pw"}
	if err := ValidateTurnCommitRequest(req); err != nil {
		t.Fatalf("complete neo4j profile rejected: %v", err)
	}
}

func TestTurnResultTerminal(t *testing.T) {
	var nilResult *TurnResult
	if nilResult.Terminal() {
		t.Fatalf("nil result is not terminal")
	}
	if (&TurnResult{Commit: CommitInfo{Status: StateCommitting}}).Terminal() {
		t.Fatalf("COMMITTING is not terminal")
	}
	if !(&TurnResult{Commit: CommitInfo{Status: StateCommitted}}).Terminal() {
		t.Fatalf("COMMITTED is terminal")
	}
	if !(&TurnResult{Commit: CommitInfo{Status: StateRolledBack}}).Terminal() {
		t.Fatalf("ROLLED_BACK is terminal")
	}
}
