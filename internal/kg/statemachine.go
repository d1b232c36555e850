package kg

import "github.com/yungbote/kg-sidecar/internal/domain"

// MachineResult is the outcome of one state machine run: the final state,
// the ordered transition timeline, and either the executor's output or the
// error that rolled the turn back.
type MachineResult struct {
	OK       bool
	State    string
	Timeline []string
	Output   *domain.TurnResult
	Err      *domain.StageError
}

// RunTurnStateMachine drives the commit lifecycle. The executor reports
// progress through the transition callback; a successful run always ends in
// COMMITTED and a failed one in ROLLED_BACK, regardless of where the
// executor stopped.
func RunTurnStateMachine(executor func(transition func(state string)) (*domain.TurnResult, error)) MachineResult {
	state := domain.StateReceived
	timeline := []string{domain.StateReceived}

	transition := func(next string) {
		state = next
		timeline = append(timeline, next)
	}

	output, err := executor(transition)
	if err != nil {
		if state != domain.StateRolledBack {
			transition(domain.StateRolledBack)
		}
		return MachineResult{State: state, Timeline: timeline, Err: domain.AsStageError("pipeline", err)}
	}

	if state != domain.StateCommitted {
		transition(domain.StateCommitted)
	}
	return MachineResult{OK: true, State: state, Timeline: timeline, Output: output}
}
