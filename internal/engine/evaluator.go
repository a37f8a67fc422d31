package engine

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// NoMatchReason is the synthetic reason attached when no clause in
// the snapshot matched. The engine never approves by omission: the
// no-match default is MANUAL_REVIEW.
const NoMatchReason = "No applicable rule matched"

// Evaluate runs the priority-ordered evaluation algorithm over an
// immutable snapshot and context.
//
// Rules are scanned in snapshot order (ascending priority). Within a
// rule, clauses run in declared order. A matched REJECT clause
// terminates evaluation immediately: a compliance rejection is an
// absolute veto no later rule can override. Matched APPROVE and
// MANUAL_REVIEW clauses are recorded as candidates and scanning
// continues, both because a later rule may still reject and because
// lower-priority score modifiers must still accumulate. After a full
// scan, MANUAL_REVIEW dominates APPROVE.
//
// Scoring: a rule's base is added once, when its first clause
// matches; each modifier whose own condition holds is added at the
// same time. Rules never reached because of an early REJECT
// contribute nothing.
//
// The function is pure: same snapshot + same context gives an
// identical result on every call.
func Evaluate(snap *Snapshot, ec *Context) *domain.EvaluationResult {
	result := &domain.EvaluationResult{
		Outcome:        domain.OutcomeManualReview,
		Reasons:        []string{},
		MatchedRuleIDs: []string{},
	}

	var sawApprove, sawManual bool

	for _, rule := range snap.Rules {
		scored := false
		for _, clause := range rule.Clauses {
			if !Matches(clause.Condition, ec) {
				continue
			}

			result.Reasons = append(result.Reasons, clause.Reason)
			result.MatchedRuleIDs = append(result.MatchedRuleIDs, rule.ID)

			if clause.Outcome == domain.OutcomeReject {
				result.Outcome = domain.OutcomeReject
				return result
			}

			switch clause.Outcome {
			case domain.OutcomeApprove:
				sawApprove = true
			case domain.OutcomeManualReview:
				sawManual = true
			}

			if !scored {
				scored = true
				result.Score += rule.ScoreBase
				for _, mod := range rule.Modifiers {
					if Matches(mod.Condition, ec) {
						result.Score += mod.Delta
					}
				}
			}
		}
	}

	switch {
	case sawManual:
		result.Outcome = domain.OutcomeManualReview
	case sawApprove:
		result.Outcome = domain.OutcomeApprove
	default:
		result.Outcome = domain.OutcomeManualReview
		result.Reasons = append(result.Reasons, NoMatchReason)
	}

	return result
}
