package domain

import (
	"time"
)

// EvaluationResult is the immutable outcome of evaluating one
// application against one rule snapshot. Reasons are ordered by the
// rule/clause that produced them; duplicates are allowed and
// meaningful. A fresh result is created per evaluation call and owned
// by the caller.
type EvaluationResult struct {
	Outcome        Outcome  `json:"outcome"`
	Score          int      `json:"score"`
	Reasons        []string `json:"reasons"`
	MatchedRuleIDs []string `json:"matchedRuleIds"`
}

// Decision is a recorded EvaluationResult: the audit artifact that
// ties an application to the exact rule versions that decided it.
type Decision struct {
	ID            string `json:"id"`
	ApplicationID string `json:"applicationId"`

	Outcome        Outcome  `json:"outcome"`
	Score          int      `json:"score"`
	Reasons        []string `json:"reasons"`
	MatchedRuleIDs []string `json:"matchedRuleIds"`

	// RuleSetVersionIDs lists every rule version in the snapshot the
	// evaluation ran against, whether or not it matched. Re-running
	// those exact versions against the stored application reproduces
	// the decision bit for bit.
	RuleSetVersionIDs []string `json:"ruleSetVersionIds"`

	CreatedAt time.Time `json:"createdAt"`
	TraceID   string    `json:"traceId,omitempty"`
	ProcessMs int64     `json:"processMs,omitempty"`
}

// NewDecision packages an evaluation result for recording.
func NewDecision(id, applicationID string, res *EvaluationResult, snapshotVersionIDs []string) *Decision {
	return &Decision{
		ID:                id,
		ApplicationID:     applicationID,
		Outcome:           res.Outcome,
		Score:             res.Score,
		Reasons:           res.Reasons,
		MatchedRuleIDs:    res.MatchedRuleIDs,
		RuleSetVersionIDs: snapshotVersionIDs,
		CreatedAt:         time.Now().UTC(),
	}
}
