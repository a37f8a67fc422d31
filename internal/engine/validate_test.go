package engine

import (
	"strings"
	"testing"
)

func TestValidateWellFormedDefinition(t *testing.T) {
	report := ValidateDefinition([]byte(`{
		"name": "Credit gate",
		"priority": 10,
		"clauses": [
			{"if": "CreditScore < 600", "then": "REJECT", "reason": "Low credit"}
		],
		"score": {"base": 100, "modifiers": [
			{"if": "HasCollateral == true", "add": 50}
		]}
	}`))

	if !report.Valid {
		t.Fatalf("expected valid, got errors: %v", report.Errors)
	}
	if len(report.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", report.Warnings)
	}
}

func TestValidateMalformedJSON(t *testing.T) {
	report := ValidateDefinition([]byte(`{"name": "broken"`))
	if report.Valid {
		t.Fatal("expected invalid report for malformed JSON")
	}
	if len(report.Errors) == 0 {
		t.Fatal("expected at least one error")
	}
}

func TestValidateUnknownDocumentKey(t *testing.T) {
	report := ValidateDefinition([]byte(`{
		"name": "Typo",
		"clausez": [{"if": "Amount > 1", "then": "APPROVE", "reason": "ok"}]
	}`))
	if report.Valid {
		t.Fatal("expected misspelled key to be rejected")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	report := ValidateDefinition([]byte(`{
		"name": "",
		"clauses": [
			{"if": "Frobnicate > 1", "then": "APPROVE", "reason": "ok"},
			{"if": "Amount > 1", "then": "SHRED", "reason": ""}
		]
	}`))

	if report.Valid {
		t.Fatal("expected invalid report")
	}
	// Missing name, unknown field, bad outcome, missing reason.
	if len(report.Errors) != 4 {
		t.Errorf("expected 4 errors, got %d: %v", len(report.Errors), report.Errors)
	}
}

func TestValidateWarnsOnEmptyBetweenRange(t *testing.T) {
	report := ValidateDefinition([]byte(`{
		"name": "Inverted band",
		"clauses": [
			{"if": "Amount BETWEEN 5000 AND 1000", "then": "APPROVE", "reason": "never"}
		]
	}`))

	if !report.Valid {
		t.Fatalf("inverted range is legal, expected valid: %v", report.Errors)
	}
	if !hasWarning(report.Warnings, "always false") {
		t.Errorf("expected always-false warning, got %v", report.Warnings)
	}
}

func TestValidateWarnsOnRejectAfterApprove(t *testing.T) {
	report := ValidateDefinition([]byte(`{
		"name": "Suspicious order",
		"clauses": [
			{"if": "CreditScore >= 700", "then": "APPROVE", "reason": "Prime"},
			{"if": "PriorDefaults > 0", "then": "REJECT", "reason": "Defaults"}
		]
	}`))

	if !report.Valid {
		t.Fatalf("expected valid: %v", report.Errors)
	}
	if !hasWarning(report.Warnings, "REJECT clause follows an APPROVE") {
		t.Errorf("expected clause-order warning, got %v", report.Warnings)
	}
}

func TestValidateWarnsOnDuplicateReasons(t *testing.T) {
	report := ValidateDefinition([]byte(`{
		"name": "Duplicate reasons",
		"clauses": [
			{"if": "Amount > 100", "then": "APPROVE", "reason": "Looks fine"},
			{"if": "Amount > 200", "then": "APPROVE", "reason": "Looks fine"},
			{"if": "Amount > 300", "then": "APPROVE", "reason": "Looks fine"}
		]
	}`))

	if !report.Valid {
		t.Fatalf("expected valid: %v", report.Errors)
	}

	count := 0
	for _, w := range report.Warnings {
		if strings.Contains(w, "more than one clause") {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one duplicate-reason warning, got %v", report.Warnings)
	}
}

func hasWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}
