package kg

import "github.com/yungbote/kg-sidecar/internal/domain"

// CanCommit is the single pure gate every turn passes before the write
// transaction. A turn commits only when all stage outputs are structurally
// valid, no identity conflict is open, and the judge did not explicitly
// block it.
func CanCommit(extractorOut *domain.ExtractorOutput, judgeOut *domain.JudgeOutput, historianOut *domain.HistorianOutput) bool {
	if extractorOut == nil || extractorOut.Validate() != nil {
		return false
	}
	if judgeOut == nil || judgeOut.Validate() != nil {
		return false
	}
	if historianOut != nil && historianOut.Validate() != nil {
		return false
	}
	if len(judgeOut.IdentityConflicts) > 0 {
		return false
	}
	if judgeOut.AllowCommit != nil && !*judgeOut.AllowCommit {
		return false
	}
	return true
}
