package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CompiledRule is the executable form of one rule version.
type CompiledRule struct {
	ID        string
	LogicalID string
	Version   int
	Name      string
	Priority  int
	CreatedAt time.Time

	Clauses   []CompiledClause
	ScoreBase int
	Modifiers []CompiledModifier
}

// CompiledClause carries a compiled condition plus the directive and
// reason from the definition, unchanged.
type CompiledClause struct {
	Condition Condition
	Outcome   domain.Outcome
	Reason    string
}

// CompiledModifier adds Delta to the score when its condition holds.
type CompiledModifier struct {
	Condition Condition
	Delta     int
}

// ParseDefinition decodes a rule definition document. Unknown JSON
// keys are rejected so a misspelled "clauses" cannot silently produce
// an empty rule.
func ParseDefinition(data []byte) (*domain.RuleDefinition, []CompileError) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var def domain.RuleDefinition
	if err := dec.Decode(&def); err != nil {
		return nil, []CompileError{{Message: fmt.Sprintf("invalid rule document: %v", err)}}
	}
	return &def, nil
}

// CompileDefinition compiles a rule definition into executable form.
// Every clause and modifier is checked even after the first failure,
// so the caller gets the complete error report in one pass.
func CompileDefinition(def *domain.RuleDefinition) (*CompiledRule, []CompileError) {
	var errs []CompileError

	if def.Name == "" {
		errs = append(errs, CompileError{Path: "name", Message: "rule name is required"})
	}
	if len(def.Clauses) == 0 {
		errs = append(errs, CompileError{Path: "clauses", Message: "rule must have at least one clause"})
	}

	compiled := &CompiledRule{
		Name:      def.Name,
		Priority:  def.Priority,
		ScoreBase: def.Score.Base,
	}

	for i, cl := range def.Clauses {
		cond, cerr := CompileCondition(cl.If)
		if cerr != nil {
			e := *cerr
			e.Path = fmt.Sprintf("clauses[%d].if", i)
			errs = append(errs, e)
		}
		outcome := domain.Outcome(cl.Then)
		if !outcome.Valid() {
			errs = append(errs, CompileError{
				Path:    fmt.Sprintf("clauses[%d].then", i),
				Message: fmt.Sprintf("outcome must be REJECT, APPROVE or MANUAL_REVIEW, got %q", cl.Then),
			})
		}
		if cl.Reason == "" {
			errs = append(errs, CompileError{
				Path:    fmt.Sprintf("clauses[%d].reason", i),
				Message: "clause reason is required",
			})
		}
		if cond != nil {
			compiled.Clauses = append(compiled.Clauses, CompiledClause{
				Condition: cond,
				Outcome:   outcome,
				Reason:    cl.Reason,
			})
		}
	}

	for i, m := range def.Score.Modifiers {
		cond, cerr := CompileCondition(m.If)
		if cerr != nil {
			e := *cerr
			e.Path = fmt.Sprintf("score.modifiers[%d].if", i)
			errs = append(errs, e)
			continue
		}
		compiled.Modifiers = append(compiled.Modifiers, CompiledModifier{
			Condition: cond,
			Delta:     m.Add,
		})
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return compiled, nil
}

// CompileVersion compiles a stored rule version, carrying its
// identity and ordering metadata onto the compiled form.
func CompileVersion(v *domain.RuleVersion) (*CompiledRule, []CompileError) {
	compiled, errs := CompileDefinition(&v.Definition)
	if len(errs) > 0 {
		return nil, errs
	}
	compiled.ID = v.ID
	compiled.LogicalID = v.LogicalID
	compiled.Version = v.Version
	compiled.CreatedAt = v.CreatedAt
	return compiled, nil
}

// ConfigurationError signals an inconsistent rule store (for example
// two active versions of one logical rule). Evaluation requests fail
// rather than guessing which version is authoritative.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "rule store configuration error: " + e.Reason
}

// Snapshot is an ordered, immutable collection of compiled active
// rules. Snapshots are taken by the caller before evaluation; the
// evaluator never re-reads rules mid-flight, so a concurrent rule
// activation cannot change an evaluation already running.
type Snapshot struct {
	Rules []*CompiledRule

	// VersionIDs lists every rule version in the snapshot, in
	// evaluation order, for decision audit records.
	VersionIDs []string
}

// CompileSnapshot compiles a set of active rule versions into an
// evaluation snapshot. Rules are ordered by ascending priority;
// ties break on creation time then id, so iteration order is fully
// deterministic. A logical rule with more than one active version, or
// a stored version that no longer compiles, is a *ConfigurationError.
func CompileSnapshot(versions []*domain.RuleVersion) (*Snapshot, error) {
	seen := make(map[string]string, len(versions))
	rules := make([]*CompiledRule, 0, len(versions))

	for _, v := range versions {
		if prev, ok := seen[v.LogicalID]; ok {
			return nil, &ConfigurationError{
				Reason: fmt.Sprintf("logical rule %s has two active versions (%s and %s)", v.LogicalID, prev, v.ID),
			}
		}
		seen[v.LogicalID] = v.ID

		compiled, errs := CompileVersion(v)
		if len(errs) > 0 {
			return nil, &ConfigurationError{
				Reason: fmt.Sprintf("stored rule version %s does not compile: %v", v.ID, errs[0]),
			}
		}
		rules = append(rules, compiled)
	}

	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.Before(rules[j].CreatedAt)
		}
		return rules[i].ID < rules[j].ID
	})

	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID
	}

	return &Snapshot{Rules: rules, VersionIDs: ids}, nil
}
