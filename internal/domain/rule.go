package domain

import (
	"time"
)

// Outcome is the directive a clause issues when its condition matches.
type Outcome string

const (
	OutcomeApprove      Outcome = "APPROVE"
	OutcomeReject       Outcome = "REJECT"
	OutcomeManualReview Outcome = "MANUAL_REVIEW"
)

// Valid reports whether o is one of the three known directives.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeApprove, OutcomeReject, OutcomeManualReview:
		return true
	}
	return false
}

// RuleDefinition is the textual source of one underwriting rule.
// This is the wire format rule authors submit; it is compiled into an
// executable form before it is ever evaluated.
type RuleDefinition struct {
	Name     string             `json:"name"`
	Priority int                `json:"priority"`
	Clauses  []ClauseDefinition `json:"clauses"`
	Score    ScoreDefinition    `json:"score"`
}

// ClauseDefinition is one condition -> outcome -> reason unit.
type ClauseDefinition struct {
	If     string `json:"if"`
	Then   string `json:"then"`
	Reason string `json:"reason"`
}

// ScoreDefinition is the additive scoring model attached to a rule.
// Base is added once per rule the first time any clause matches; each
// modifier whose condition holds adds its delta on top.
type ScoreDefinition struct {
	Base      int             `json:"base"`
	Modifiers []ScoreModifier `json:"modifiers,omitempty"`
}

// ScoreModifier adds a delta to the score when its condition holds.
type ScoreModifier struct {
	If  string `json:"if"`
	Add int    `json:"add"`
}

// RuleVersion is one persisted, immutable version of a rule.
//
// All versions of "the same" rule share a LogicalID; at most one of
// them is active at any time. Versions are never edited after
// activation - editing a rule means appending a new version and
// deactivating the previous one in the same transaction, so historical
// decisions keep referential integrity to the exact version that
// produced them.
type RuleVersion struct {
	ID        string `json:"id"`
	LogicalID string `json:"logicalId"`
	Version   int    `json:"version"`

	Name     string `json:"name"`
	Priority int    `json:"priority"`

	// Definition is the full rule source this version was compiled from.
	Definition RuleDefinition `json:"definition"`

	Active bool `json:"active"`

	// Audit fields
	CreatedAt    time.Time `json:"createdAt"`
	CreatedBy    string    `json:"createdBy"`
	ChangeReason string    `json:"changeReason,omitempty"`
}
