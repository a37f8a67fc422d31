package engine

import (
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ValidationReport is the result of a dry-run compile of a rule
// definition. Malformed input is expected traffic here, never a
// panic: errors block persistence, warnings do not.
type ValidationReport struct {
	Valid    bool           `json:"valid"`
	Errors   []CompileError `json:"errors"`
	Warnings []string       `json:"warnings"`
}

// ValidateDefinition compiles a rule definition without persisting
// anything and reports every error and warning found. When the
// definition compiles, a smoke evaluation runs against a synthetic
// context to exercise the full evaluation path.
func ValidateDefinition(data []byte) *ValidationReport {
	report := &ValidationReport{
		Errors:   []CompileError{},
		Warnings: []string{},
	}

	def, errs := ParseDefinition(data)
	if len(errs) > 0 {
		report.Errors = errs
		return report
	}

	compiled, errs := CompileDefinition(def)
	if len(errs) > 0 {
		report.Errors = errs
		return report
	}

	report.Valid = true
	report.Warnings = append(report.Warnings, staticWarnings(compiled)...)

	// Smoke evaluation: a single-rule snapshot against a synthetic
	// application proves the compiled form evaluates end to end.
	snap := &Snapshot{Rules: []*CompiledRule{compiled}, VersionIDs: []string{"dry-run"}}
	Evaluate(snap, smokeContext())

	return report
}

// staticWarnings flags suspicious but legal constructs.
func staticWarnings(rule *CompiledRule) []string {
	var warnings []string

	sawApprove := false
	reasonSeen := make(map[string]bool)
	reasonWarned := make(map[string]bool)

	for i, cl := range rule.Clauses {
		if v, constant := foldConst(cl.Condition); constant {
			if v {
				warnings = append(warnings, fmt.Sprintf("clauses[%d]: condition is always true", i))
			} else {
				warnings = append(warnings, fmt.Sprintf("clauses[%d]: condition is always false and can never fire", i))
			}
		}
		if cl.Outcome == domain.OutcomeApprove {
			sawApprove = true
		}
		if cl.Outcome == domain.OutcomeReject && sawApprove {
			warnings = append(warnings, fmt.Sprintf("clauses[%d]: REJECT clause follows an APPROVE clause in the same rule; check clause order", i))
		}
		if reasonSeen[cl.Reason] && !reasonWarned[cl.Reason] {
			reasonWarned[cl.Reason] = true
			warnings = append(warnings, fmt.Sprintf("reason %q is used by more than one clause", cl.Reason))
		}
		reasonSeen[cl.Reason] = true
	}

	for i, mod := range rule.Modifiers {
		if v, constant := foldConst(mod.Condition); constant {
			if v {
				warnings = append(warnings, fmt.Sprintf("score.modifiers[%d]: condition is always true; fold the delta into the base", i))
			} else {
				warnings = append(warnings, fmt.Sprintf("score.modifiers[%d]: condition is always false and the delta can never apply", i))
			}
		}
	}

	return warnings
}

// smokeContext builds a representative application for dry runs.
func smokeContext() *Context {
	score := int64(680)
	return NewContext(&domain.LoanApplication{
		ID:              "dry-run",
		Amount:          25000,
		TermMonths:      36,
		ProductType:     "PERSONAL",
		CreditScore:     &score,
		IncomeMonthly:   5000,
		DebtToIncome:    30,
		ExistingLoans:   1,
		PriorDefaults:   0,
		HasCollateral:   false,
		ApplicantAge:    35,
		EmploymentType:  "FULL_TIME",
		ResidencyStatus: "CITIZEN",
		CreatedAt:       time.Now().UTC(),
	})
}
