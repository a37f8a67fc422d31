package engine

import (
	"strings"
	"testing"
)

func TestCompileSimpleComparison(t *testing.T) {
	cond, err := CompileCondition("CreditScore < 600")
	if err != nil {
		t.Fatalf("failed to compile: %v", err)
	}

	cmp, ok := cond.(*Comparison)
	if !ok {
		t.Fatalf("expected *Comparison, got %T", cond)
	}
	if cmp.Field.Name != "CreditScore" {
		t.Errorf("expected field CreditScore, got %s", cmp.Field.Name)
	}
	if cmp.Op != OpLT {
		t.Errorf("expected OpLT, got %v", cmp.Op)
	}
	if cmp.Lit.Num != 600 {
		t.Errorf("expected literal 600, got %d", cmp.Lit.Num)
	}
}

func TestCompilePrecedence(t *testing.T) {
	// NOT binds tighter than AND, AND tighter than OR.
	cond, err := CompileCondition("Amount > 100 OR NOT HasCollateral == true AND PriorDefaults > 0")
	if err != nil {
		t.Fatalf("failed to compile: %v", err)
	}

	or, ok := cond.(*Or)
	if !ok {
		t.Fatalf("expected OR at the root, got %T", cond)
	}
	if _, ok := or.Left.(*Comparison); !ok {
		t.Errorf("expected comparison on left of OR, got %T", or.Left)
	}
	and, ok := or.Right.(*And)
	if !ok {
		t.Fatalf("expected AND on right of OR, got %T", or.Right)
	}
	if _, ok := and.Left.(*Not); !ok {
		t.Errorf("expected NOT on left of AND, got %T", and.Left)
	}
}

func TestCompileParenthesesOverridePrecedence(t *testing.T) {
	cond, err := CompileCondition("(Amount > 100 OR HasCollateral == true) AND PriorDefaults == 0")
	if err != nil {
		t.Fatalf("failed to compile: %v", err)
	}

	and, ok := cond.(*And)
	if !ok {
		t.Fatalf("expected AND at the root, got %T", cond)
	}
	if _, ok := and.Left.(*Or); !ok {
		t.Errorf("expected parenthesized OR on left of AND, got %T", and.Left)
	}
}

func TestCompileBetween(t *testing.T) {
	cond, err := CompileCondition("Amount BETWEEN 1000 AND 5000")
	if err != nil {
		t.Fatalf("failed to compile: %v", err)
	}

	b, ok := cond.(*Between)
	if !ok {
		t.Fatalf("expected *Between, got %T", cond)
	}
	if b.Lo != 1000 || b.Hi != 5000 {
		t.Errorf("expected bounds [1000, 5000], got [%d, %d]", b.Lo, b.Hi)
	}
}

func TestCompileCaseInsensitiveKeywords(t *testing.T) {
	if _, err := CompileCondition("Amount > 100 and PriorDefaults == 0"); err != nil {
		t.Errorf("lowercase 'and' should compile: %v", err)
	}
	if _, err := CompileCondition("Amount between 100 and 200"); err != nil {
		t.Errorf("lowercase 'between' should compile: %v", err)
	}
}

func TestCompileUnknownField(t *testing.T) {
	_, err := CompileCondition("LoanToValue > 80")
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if !strings.Contains(err.Message, "unknown field") {
		t.Errorf("expected unknown field message, got %q", err.Message)
	}
	if err.Pos != 1 {
		t.Errorf("expected position 1, got %d", err.Pos)
	}
}

func TestCompileTypeErrors(t *testing.T) {
	cases := []struct {
		expr string
		want string
	}{
		{"Amount == 'PERSONAL'", "string literal not allowed"},
		{"ProductType > 'AUTO'", "requires a numeric field"},
		{"ProductType BETWEEN 1 AND 2", "BETWEEN requires a numeric field"},
		{"HasCollateral == 1", "numeric literal not allowed"},
		{"Amount == true", "boolean literal not allowed"},
	}

	for _, tc := range cases {
		_, err := CompileCondition(tc.expr)
		if err == nil {
			t.Errorf("%s: expected error", tc.expr)
			continue
		}
		if !strings.Contains(err.Message, tc.want) {
			t.Errorf("%s: expected %q in error, got %q", tc.expr, tc.want, err.Message)
		}
	}
}

func TestCompileEnumMembership(t *testing.T) {
	if _, err := CompileCondition("ProductType == 'MORTGAGE'"); err != nil {
		t.Errorf("valid enum value should compile: %v", err)
	}

	_, err := CompileCondition("ProductType == 'MORGAGE'")
	if err == nil {
		t.Fatal("expected error for misspelled enum value")
	}
	if !strings.Contains(err.Message, "not a valid value") {
		t.Errorf("expected enum membership message, got %q", err.Message)
	}
}

func TestCompileSyntaxErrors(t *testing.T) {
	cases := []struct {
		expr string
		want string
	}{
		{"", "empty condition"},
		{"   ", "empty condition"},
		{"Amount = 100", "comparison operator is '=='"},
		{"Amount ! 100", "negation operator is NOT"},
		{"ProductType == 'PERSONAL", "unterminated string literal"},
		{"Amount >", "expected literal"},
		{"(Amount > 100", "expected ')'"},
		{"Amount > 100 PriorDefaults == 0", "unexpected identifier after expression"},
		{"Amount BETWEEN 100 200", "expected AND between BETWEEN bounds"},
		{"AND Amount > 100", "expected field name or '('"},
		{"Amount > 99999999999999999999", "overflows"},
	}

	for _, tc := range cases {
		_, err := CompileCondition(tc.expr)
		if err == nil {
			t.Errorf("%q: expected error", tc.expr)
			continue
		}
		if !strings.Contains(err.Message, tc.want) {
			t.Errorf("%q: expected %q in error, got %q", tc.expr, tc.want, err.Message)
		}
	}
}

func TestCompileErrorPositions(t *testing.T) {
	_, err := CompileCondition("Amount > 100 AND Score < 600")
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	// "Score" starts at byte 18, 1-based.
	if err.Pos != 18 {
		t.Errorf("expected position 18, got %d", err.Pos)
	}
}

func TestCompileNegativeNumbers(t *testing.T) {
	cond, err := CompileCondition("Amount > -1")
	if err != nil {
		t.Fatalf("failed to compile: %v", err)
	}
	cmp := cond.(*Comparison)
	if cmp.Lit.Num != -1 {
		t.Errorf("expected literal -1, got %d", cmp.Lit.Num)
	}
}

func TestLookupField(t *testing.T) {
	f, ok := LookupField("DebtToIncome")
	if !ok {
		t.Fatal("expected DebtToIncome in vocabulary")
	}
	if f.Kind != KindNumber {
		t.Errorf("expected numeric kind, got %v", f.Kind)
	}

	if _, ok := LookupField("debtToIncome"); ok {
		t.Error("field names are case-sensitive; lowercase lookup should miss")
	}

	names := FieldNames()
	if len(names) != 12 {
		t.Errorf("expected 12 vocabulary fields, got %d", len(names))
	}
}
