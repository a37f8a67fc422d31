package engine

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func mustSnapshot(t *testing.T, versions ...*domain.RuleVersion) *Snapshot {
	t.Helper()
	snap, err := CompileSnapshot(versions)
	if err != nil {
		t.Fatalf("failed to compile snapshot: %v", err)
	}
	return snap
}

func version(t *testing.T, id string, priority int, def string) *domain.RuleVersion {
	t.Helper()
	var d domain.RuleDefinition
	if err := json.Unmarshal([]byte(def), &d); err != nil {
		t.Fatalf("bad definition JSON: %v", err)
	}
	d.Priority = priority
	return &domain.RuleVersion{
		ID:         id,
		LogicalID:  "logical-" + id,
		Version:    1,
		Name:       d.Name,
		Priority:   priority,
		Definition: d,
		Active:     true,
		CreatedAt:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func testApplication() *domain.LoanApplication {
	score := int64(700)
	return &domain.LoanApplication{
		ID:              "app-001",
		Amount:          20000,
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
	}
}

const creditGateRule = `{
	"name": "Credit gate",
	"clauses": [
		{"if": "CreditScore < 600", "then": "REJECT", "reason": "Low credit"}
	]
}`

const highAmountRule = `{
	"name": "High amount review",
	"clauses": [
		{"if": "Amount > 50000", "then": "MANUAL_REVIEW", "reason": "High amount"}
	],
	"score": {"base": 500}
}`

func TestEvaluateRejectShortCircuits(t *testing.T) {
	snap := mustSnapshot(t,
		version(t, "r1", 10, creditGateRule),
		version(t, "r2", 20, highAmountRule),
	)

	app := testApplication()
	low := int64(580)
	app.CreditScore = &low
	app.Amount = 60000

	result := Evaluate(snap, NewContext(app))

	if result.Outcome != domain.OutcomeReject {
		t.Errorf("expected REJECT, got %s", result.Outcome)
	}
	// The rejecting rule carries no scoring and later rules never run.
	if result.Score != 0 {
		t.Errorf("expected score 0 after early reject, got %d", result.Score)
	}
	if !reflect.DeepEqual(result.Reasons, []string{"Low credit"}) {
		t.Errorf("expected [Low credit], got %v", result.Reasons)
	}
	if !reflect.DeepEqual(result.MatchedRuleIDs, []string{"r1"}) {
		t.Errorf("expected matched [r1], got %v", result.MatchedRuleIDs)
	}
}

func TestEvaluateManualReviewWithScore(t *testing.T) {
	snap := mustSnapshot(t,
		version(t, "r1", 10, creditGateRule),
		version(t, "r2", 20, highAmountRule),
	)

	app := testApplication()
	app.Amount = 60000

	result := Evaluate(snap, NewContext(app))

	if result.Outcome != domain.OutcomeManualReview {
		t.Errorf("expected MANUAL_REVIEW, got %s", result.Outcome)
	}
	if result.Score != 500 {
		t.Errorf("expected score 500, got %d", result.Score)
	}
	if !reflect.DeepEqual(result.Reasons, []string{"High amount"}) {
		t.Errorf("expected [High amount], got %v", result.Reasons)
	}
}

func TestEvaluateNoMatchDefaultsToManualReview(t *testing.T) {
	snap := mustSnapshot(t, version(t, "r1", 10, creditGateRule))

	result := Evaluate(snap, NewContext(testApplication()))

	if result.Outcome != domain.OutcomeManualReview {
		t.Errorf("expected MANUAL_REVIEW on no match, got %s", result.Outcome)
	}
	if !reflect.DeepEqual(result.Reasons, []string{NoMatchReason}) {
		t.Errorf("expected [%s], got %v", NoMatchReason, result.Reasons)
	}
	if len(result.MatchedRuleIDs) != 0 {
		t.Errorf("expected no matched rules, got %v", result.MatchedRuleIDs)
	}
}

func TestEvaluateEmptySnapshot(t *testing.T) {
	snap := mustSnapshot(t)

	result := Evaluate(snap, NewContext(testApplication()))

	if result.Outcome != domain.OutcomeManualReview {
		t.Errorf("expected MANUAL_REVIEW with no rules, got %s", result.Outcome)
	}
}

func TestEvaluateManualReviewDominatesApprove(t *testing.T) {
	approve := `{
		"name": "Prime approval",
		"clauses": [
			{"if": "CreditScore >= 650", "then": "APPROVE", "reason": "Prime credit"}
		]
	}`
	review := `{
		"name": "Thin income",
		"clauses": [
			{"if": "IncomeMonthly < 6000", "then": "MANUAL_REVIEW", "reason": "Low income"}
		]
	}`

	snap := mustSnapshot(t,
		version(t, "r1", 10, approve),
		version(t, "r2", 20, review),
	)

	result := Evaluate(snap, NewContext(testApplication()))

	if result.Outcome != domain.OutcomeManualReview {
		t.Errorf("expected MANUAL_REVIEW to dominate APPROVE, got %s", result.Outcome)
	}
	if !reflect.DeepEqual(result.Reasons, []string{"Prime credit", "Low income"}) {
		t.Errorf("unexpected reasons: %v", result.Reasons)
	}
}

func TestEvaluateScoreBaseAddedOncePerRule(t *testing.T) {
	multi := `{
		"name": "Two matching clauses",
		"clauses": [
			{"if": "Amount > 100", "then": "APPROVE", "reason": "First"},
			{"if": "Amount > 200", "then": "APPROVE", "reason": "Second"}
		],
		"score": {"base": 100, "modifiers": [
			{"if": "HasCollateral == true", "add": 50},
			{"if": "PriorDefaults == 0", "add": 25}
		]}
	}`

	snap := mustSnapshot(t, version(t, "r1", 10, multi))

	app := testApplication()
	result := Evaluate(snap, NewContext(app))

	// Base counts once despite two matching clauses. Only the
	// PriorDefaults modifier holds (no collateral).
	if result.Score != 125 {
		t.Errorf("expected score 125, got %d", result.Score)
	}
	if len(result.Reasons) != 2 {
		t.Errorf("expected both clause reasons, got %v", result.Reasons)
	}
	// The rule id appears once per matching clause.
	if !reflect.DeepEqual(result.MatchedRuleIDs, []string{"r1", "r1"}) {
		t.Errorf("expected matched [r1 r1], got %v", result.MatchedRuleIDs)
	}
}

func TestEvaluatePriorityOrder(t *testing.T) {
	first := `{
		"name": "First",
		"clauses": [{"if": "Amount > 0", "then": "APPROVE", "reason": "first"}]
	}`
	second := `{
		"name": "Second",
		"clauses": [{"if": "Amount > 0", "then": "APPROVE", "reason": "second"}]
	}`

	// Registered out of order; snapshot sorts by ascending priority.
	snap := mustSnapshot(t,
		version(t, "r2", 20, second),
		version(t, "r1", 10, first),
	)

	result := Evaluate(snap, NewContext(testApplication()))

	if !reflect.DeepEqual(result.Reasons, []string{"first", "second"}) {
		t.Errorf("expected priority order [first second], got %v", result.Reasons)
	}
	if !reflect.DeepEqual(snap.VersionIDs, []string{"r1", "r2"}) {
		t.Errorf("expected snapshot ids [r1 r2], got %v", snap.VersionIDs)
	}
}

func TestEvaluatePriorityTieBreaksOnCreatedAtThenID(t *testing.T) {
	def := `{
		"name": "Tied",
		"clauses": [{"if": "Amount > 0", "then": "APPROVE", "reason": "ok"}]
	}`

	a := version(t, "aaa", 10, def)
	b := version(t, "bbb", 10, def)
	c := version(t, "ccc", 10, def)
	b.CreatedAt = a.CreatedAt.Add(-time.Hour) // oldest wins the tie

	snap := mustSnapshot(t, a, b, c)

	if !reflect.DeepEqual(snap.VersionIDs, []string{"bbb", "aaa", "ccc"}) {
		t.Errorf("expected [bbb aaa ccc], got %v", snap.VersionIDs)
	}
}

func TestEvaluateMissingCreditScoreFailsClosed(t *testing.T) {
	snap := mustSnapshot(t, version(t, "r1", 10, creditGateRule))

	app := testApplication()
	app.CreditScore = nil

	result := Evaluate(snap, NewContext(app))

	// The condition is unknown, not true: no reject fires.
	if result.Outcome != domain.OutcomeManualReview {
		t.Errorf("expected MANUAL_REVIEW for missing score, got %s", result.Outcome)
	}
	if !reflect.DeepEqual(result.Reasons, []string{NoMatchReason}) {
		t.Errorf("expected no-match reason, got %v", result.Reasons)
	}
}

func TestEvaluateUnknownDoesNotSatisfyThroughNot(t *testing.T) {
	notRule := `{
		"name": "Score present",
		"clauses": [
			{"if": "NOT CreditScore < 600", "then": "APPROVE", "reason": "Score acceptable"}
		]
	}`

	snap := mustSnapshot(t, version(t, "r1", 10, notRule))

	app := testApplication()
	app.CreditScore = nil

	result := Evaluate(snap, NewContext(app))

	// NOT unknown is still unknown; the clause must not fire.
	if result.Outcome != domain.OutcomeManualReview {
		t.Errorf("expected MANUAL_REVIEW, got %s", result.Outcome)
	}
}

func TestEvaluateUnknownShortCircuits(t *testing.T) {
	// OR with a true right arm recovers from an unknown left arm;
	// AND with a false arm stays false.
	orRule := `{
		"name": "Or recovery",
		"clauses": [
			{"if": "CreditScore > 800 OR Amount < 50000", "then": "APPROVE", "reason": "ok"}
		]
	}`

	snap := mustSnapshot(t, version(t, "r1", 10, orRule))

	app := testApplication()
	app.CreditScore = nil

	result := Evaluate(snap, NewContext(app))
	if result.Outcome != domain.OutcomeApprove {
		t.Errorf("expected APPROVE via OR short-circuit, got %s", result.Outcome)
	}
}

func TestEvaluateBetweenInclusive(t *testing.T) {
	betweenRule := `{
		"name": "Band",
		"clauses": [
			{"if": "Amount BETWEEN 1000 AND 5000", "then": "APPROVE", "reason": "In band"}
		]
	}`

	snap := mustSnapshot(t, version(t, "r1", 10, betweenRule))

	for _, tc := range []struct {
		amount int64
		match  bool
	}{
		{999, false},
		{1000, true},
		{3000, true},
		{5000, true},
		{5001, false},
	} {
		app := testApplication()
		app.Amount = tc.amount
		result := Evaluate(snap, NewContext(app))
		matched := result.Outcome == domain.OutcomeApprove
		if matched != tc.match {
			t.Errorf("amount %d: expected match=%v, got outcome %s", tc.amount, tc.match, result.Outcome)
		}
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	snap := mustSnapshot(t,
		version(t, "r1", 10, creditGateRule),
		version(t, "r2", 20, highAmountRule),
	)

	app := testApplication()
	app.Amount = 60000
	ec := NewContext(app)

	first := Evaluate(snap, ec)
	for i := 0; i < 50; i++ {
		next := Evaluate(snap, ec)
		if !reflect.DeepEqual(first, next) {
			t.Fatalf("run %d differs: %+v vs %+v", i, first, next)
		}
	}
}

func TestCompileDefinitionAggregatesErrors(t *testing.T) {
	def := &domain.RuleDefinition{
		Name: "Broken",
		Clauses: []domain.ClauseDefinition{
			{If: "NoSuchField > 1", Then: "APPROVE", Reason: "ok"},
			{If: "Amount > 1", Then: "MAYBE", Reason: "ok"},
		},
		Score: domain.ScoreDefinition{
			Modifiers: []domain.ScoreModifier{{If: "Amount >", Add: 5}},
		},
	}

	_, errs := CompileDefinition(def)
	if len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(errs), errs)
	}

	paths := map[string]bool{}
	for _, e := range errs {
		paths[e.Path] = true
	}
	for _, want := range []string{"clauses[0].if", "clauses[1].then", "score.modifiers[0].if"} {
		if !paths[want] {
			t.Errorf("expected an error at %s, got paths %v", want, paths)
		}
	}
}

func TestCompileSnapshotRejectsDoubleActive(t *testing.T) {
	a := version(t, "v1", 10, creditGateRule)
	b := version(t, "v2", 10, creditGateRule)
	b.LogicalID = a.LogicalID

	_, err := CompileSnapshot([]*domain.RuleVersion{a, b})
	if err == nil {
		t.Fatal("expected configuration error for double-active logical rule")
	}
	if _, ok := err.(*ConfigurationError); !ok {
		t.Errorf("expected *ConfigurationError, got %T", err)
	}
}

func TestCompileSnapshotRejectsBrokenStoredVersion(t *testing.T) {
	v := version(t, "v1", 10, creditGateRule)
	v.Definition.Clauses[0].If = "CreditScore <" // corrupted in storage

	_, err := CompileSnapshot([]*domain.RuleVersion{v})
	if err == nil {
		t.Fatal("expected configuration error for broken stored version")
	}
	if _, ok := err.(*ConfigurationError); !ok {
		t.Errorf("expected *ConfigurationError, got %T", err)
	}
}
