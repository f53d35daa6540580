package workflow

import "strings"

// DecisionInput is the part of a decision the resolver looks at.
type DecisionInput struct {
	ApproverID string
	Verdict    Verdict
}

// Resolve computes an assignment's status from its approver ids and the
// recorded decisions.
//
// A finalized assignment stays finalized. No approvers means draft. A single
// rejection wins over any number of approvals, unanimous approval means
// approved, and anything else is still in review. Decisions from principals
// outside approverIDs are ignored. When an approver has several decisions the
// last one in the slice counts.
func Resolve(current Status, approverIDs []string, decisions []DecisionInput) Status {
	if current == StatusFinalized {
		return StatusFinalized
	}
	if len(approverIDs) == 0 {
		return StatusDraft
	}

	latest := make(map[string]Verdict, len(decisions))
	for _, d := range decisions {
		latest[d.ApproverID] = d.Verdict
	}

	approved := 0
	for _, id := range approverIDs {
		switch latest[id] {
		case VerdictRejected:
			return StatusRejected
		case VerdictApproved:
			approved++
		}
	}
	if approved == len(approverIDs) {
		return StatusApproved
	}
	return StatusInReview
}

// ValidateDecision checks a verdict and its comment before it is recorded.
// Pending cannot be recorded explicitly, and a rejection needs a reason.
func ValidateDecision(v Verdict, comment string) (field, message string, ok bool) {
	switch v {
	case VerdictApproved:
		return "", "", true
	case VerdictRejected:
		if strings.TrimSpace(comment) == "" {
			return "comment", "a comment is required when rejecting", false
		}
		return "", "", true
	case VerdictPending:
		return "decision", "pending cannot be recorded as a decision", false
	default:
		return "decision", "decision must be approved or rejected", false
	}
}
