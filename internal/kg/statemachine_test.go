package kg

import (
	"errors"
	"reflect"
	"testing"

	"github.com/yungbote/kg-sidecar/internal/domain"
)

func TestStateMachineHappyPath(t *testing.T) {
	result := RunTurnStateMachine(func(transition func(string)) (*domain.TurnResult, error) {
		transition(domain.StateRetrieving)
		transition(domain.StateInjecting)
		return &domain.TurnResult{TurnID: "t1"}, nil
	})

	if !result.OK {
		t.Fatalf("expected ok result: %+v", result.Err)
	}
	want := []string{domain.StateReceived, domain.StateRetrieving, domain.StateInjecting, domain.StateCommitted}
	if !reflect.DeepEqual(result.Timeline, want) {
		t.Fatalf("timeline = %v, want %v", result.Timeline, want)
	}
	if result.State != domain.StateCommitted {
		t.Fatalf("final state = %s, want COMMITTED", result.State)
	}
}

func TestStateMachineRollbackOnStageError(t *testing.T) {
	result := RunTurnStateMachine(func(transition func(string)) (*domain.TurnResult, error) {
		transition(domain.StateRetrieving)
		return nil, domain.NewStageError("retriever", "RETRIEVER_LLM_EMPTY", "no entities", true)
	})

	if result.OK {
		t.Fatalf("expected failure")
	}
	if result.State != domain.StateRolledBack {
		t.Fatalf("final state = %s, want ROLLED_BACK", result.State)
	}
	last := result.Timeline[len(result.Timeline)-1]
	if last != domain.StateRolledBack {
		t.Fatalf("timeline must end in ROLLED_BACK, got %v", result.Timeline)
	}
	if result.Err.Code != "RETRIEVER_LLM_EMPTY" || !result.Err.Retryable {
		t.Fatalf("stage error not preserved: %+v", result.Err)
	}
}

func TestStateMachineWrapsUnknownErrors(t *testing.T) {
	result := RunTurnStateMachine(func(func(string)) (*domain.TurnResult, error) {
		return nil, errors.New("boom")
	})

	if result.OK {
		t.Fatalf("expected failure")
	}
	if result.Err.Code != "INTERNAL" || !result.Err.Retryable {
		t.Fatalf("unknown errors must wrap as retryable INTERNAL: %+v", result.Err)
	}
}
