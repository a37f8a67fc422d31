// Package engine implements the decision rule engine: a fixed field
// vocabulary, a compiler from the textual rule language to a typed
// AST, and a deterministic priority-ordered evaluator.
package engine

import (
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Kind is the type of a field or literal value.
type Kind int

const (
	KindNumber Kind = iota
	KindString
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "boolean"
	default:
		return "unknown"
	}
}

// Value is a typed field or literal value.
type Value struct {
	Kind Kind
	Num  int64
	Str  string
	Bool bool
}

// Field describes one entry in the vocabulary: the attributes a
// condition may reference. The vocabulary is fixed at build time;
// unknown names fail compilation, never evaluation.
type Field struct {
	Name string
	Kind Kind

	// Enum lists the admissible literals for string fields. A string
	// literal outside the enum is a compile error, so a typo in a rule
	// can never silently never-match.
	Enum []string

	extract func(app *domain.LoanApplication) (Value, bool)
}

// Enum values for string fields.
var (
	employmentTypes = []string{"FULL_TIME", "PART_TIME", "SELF_EMPLOYED", "CONTRACT", "RETIRED", "UNEMPLOYED"}
	productTypes    = []string{"PERSONAL", "AUTO", "MORTGAGE", "BUSINESS"}
	residencyTypes  = []string{"CITIZEN", "PERMANENT_RESIDENT", "VISA", "OTHER"}
)

func numValue(n int64) (Value, bool)  { return Value{Kind: KindNumber, Num: n}, true }
func strValue(s string) (Value, bool) { return Value{Kind: KindString, Str: s}, true }
func boolValue(b bool) (Value, bool)  { return Value{Kind: KindBool, Bool: b}, true }

// vocabulary is the full set of fields conditions may reference.
var vocabulary = []Field{
	{Name: "Amount", Kind: KindNumber, extract: func(a *domain.LoanApplication) (Value, bool) {
		return numValue(a.Amount)
	}},
	{Name: "TermMonths", Kind: KindNumber, extract: func(a *domain.LoanApplication) (Value, bool) {
		return numValue(a.TermMonths)
	}},
	{Name: "ProductType", Kind: KindString, Enum: productTypes, extract: func(a *domain.LoanApplication) (Value, bool) {
		return strValue(a.ProductType)
	}},
	{Name: "CreditScore", Kind: KindNumber, extract: func(a *domain.LoanApplication) (Value, bool) {
		if a.CreditScore == nil {
			return Value{}, false
		}
		return numValue(*a.CreditScore)
	}},
	{Name: "IncomeMonthly", Kind: KindNumber, extract: func(a *domain.LoanApplication) (Value, bool) {
		return numValue(a.IncomeMonthly)
	}},
	{Name: "DebtToIncome", Kind: KindNumber, extract: func(a *domain.LoanApplication) (Value, bool) {
		return numValue(a.DebtToIncome)
	}},
	{Name: "ExistingLoans", Kind: KindNumber, extract: func(a *domain.LoanApplication) (Value, bool) {
		return numValue(a.ExistingLoans)
	}},
	{Name: "PriorDefaults", Kind: KindNumber, extract: func(a *domain.LoanApplication) (Value, bool) {
		return numValue(a.PriorDefaults)
	}},
	{Name: "HasCollateral", Kind: KindBool, extract: func(a *domain.LoanApplication) (Value, bool) {
		return boolValue(a.HasCollateral)
	}},
	{Name: "ApplicantAge", Kind: KindNumber, extract: func(a *domain.LoanApplication) (Value, bool) {
		return numValue(a.ApplicantAge)
	}},
	{Name: "EmploymentType", Kind: KindString, Enum: employmentTypes, extract: func(a *domain.LoanApplication) (Value, bool) {
		return strValue(a.EmploymentType)
	}},
	{Name: "ResidencyStatus", Kind: KindString, Enum: residencyTypes, extract: func(a *domain.LoanApplication) (Value, bool) {
		return strValue(a.ResidencyStatus)
	}},
}

var fieldIndex = func() map[string]*Field {
	m := make(map[string]*Field, len(vocabulary))
	for i := range vocabulary {
		m[vocabulary[i].Name] = &vocabulary[i]
	}
	return m
}()

// LookupField resolves a field name against the vocabulary.
func LookupField(name string) (*Field, bool) {
	f, ok := fieldIndex[name]
	return f, ok
}

// FieldNames returns the vocabulary names in sorted order.
func FieldNames() []string {
	names := make([]string, 0, len(vocabulary))
	for i := range vocabulary {
		names = append(names, vocabulary[i].Name)
	}
	sort.Strings(names)
	return names
}

// Context is the read-only snapshot of field values for one
// application, built once per evaluation and never mutated.
type Context struct {
	values map[string]Value
}

// NewContext extracts every vocabulary field from the application.
// Fields the application cannot supply (e.g. a missing credit score)
// are simply absent; conditions over them fail closed.
func NewContext(app *domain.LoanApplication) *Context {
	values := make(map[string]Value, len(vocabulary))
	for i := range vocabulary {
		f := &vocabulary[i]
		if v, ok := f.extract(app); ok {
			values[f.Name] = v
		}
	}
	return &Context{values: values}
}

// Resolve returns the typed value of a field, or ok=false when the
// application has no value for it.
func (c *Context) Resolve(name string) (Value, bool) {
	v, ok := c.values[name]
	return v, ok
}
