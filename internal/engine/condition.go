package engine

// Condition is the compiled form of a boolean expression: an
// immutable tagged variant over exactly five node types. The
// evaluator switches exhaustively over this closed set, so a rule
// that compiles can never hit an unknown construct at runtime.
type Condition interface {
	isCondition()
}

// CompareOp is a comparison operator.
type CompareOp int

const (
	OpLT CompareOp = iota
	OpLE
	OpGT
	OpGE
	OpEQ
	OpNE
)

func (op CompareOp) String() string {
	switch op {
	case OpLT:
		return "<"
	case OpLE:
		return "<="
	case OpGT:
		return ">"
	case OpGE:
		return ">="
	case OpEQ:
		return "=="
	case OpNE:
		return "!="
	default:
		return "?"
	}
}

// Comparison is field <op> literal.
type Comparison struct {
	Field *Field
	Op    CompareOp
	Lit   Value
}

// Between is field BETWEEN lo AND hi, inclusive on both ends.
type Between struct {
	Field *Field
	Lo    int64
	Hi    int64
}

// And is the conjunction of two conditions.
type And struct {
	Left  Condition
	Right Condition
}

// Or is the disjunction of two conditions.
type Or struct {
	Left  Condition
	Right Condition
}

// Not negates a condition.
type Not struct {
	Inner Condition
}

func (*Comparison) isCondition() {}
func (*Between) isCondition()    {}
func (*And) isCondition()        {}
func (*Or) isCondition()         {}
func (*Not) isCondition()        {}

// tri is a three-valued boolean. triUnknown marks a condition that
// touched a field the application has no value for; it never
// satisfies a clause, even through NOT, so a missing value always
// fails closed.
type tri int8

const (
	triFalse tri = iota
	triTrue
	triUnknown
)

func boolTri(b bool) tri {
	if b {
		return triTrue
	}
	return triFalse
}

// Matches evaluates a condition against a context. Pure; no I/O.
func Matches(c Condition, ec *Context) bool {
	return evalCondition(c, ec) == triTrue
}

func evalCondition(c Condition, ec *Context) tri {
	switch n := c.(type) {
	case *Comparison:
		v, ok := ec.Resolve(n.Field.Name)
		if !ok {
			return triUnknown
		}
		return boolTri(compare(v, n.Op, n.Lit))
	case *Between:
		v, ok := ec.Resolve(n.Field.Name)
		if !ok {
			return triUnknown
		}
		return boolTri(v.Num >= n.Lo && v.Num <= n.Hi)
	case *And:
		// Short-circuit left to right.
		l := evalCondition(n.Left, ec)
		if l == triFalse {
			return triFalse
		}
		r := evalCondition(n.Right, ec)
		if r == triFalse {
			return triFalse
		}
		if l == triUnknown || r == triUnknown {
			return triUnknown
		}
		return triTrue
	case *Or:
		l := evalCondition(n.Left, ec)
		if l == triTrue {
			return triTrue
		}
		r := evalCondition(n.Right, ec)
		if r == triTrue {
			return triTrue
		}
		if l == triUnknown || r == triUnknown {
			return triUnknown
		}
		return triFalse
	case *Not:
		switch evalCondition(n.Inner, ec) {
		case triTrue:
			return triFalse
		case triFalse:
			return triTrue
		default:
			return triUnknown
		}
	default:
		// Unreachable: the variant set is closed.
		return triFalse
	}
}

func compare(v Value, op CompareOp, lit Value) bool {
	switch v.Kind {
	case KindNumber:
		switch op {
		case OpLT:
			return v.Num < lit.Num
		case OpLE:
			return v.Num <= lit.Num
		case OpGT:
			return v.Num > lit.Num
		case OpGE:
			return v.Num >= lit.Num
		case OpEQ:
			return v.Num == lit.Num
		case OpNE:
			return v.Num != lit.Num
		}
	case KindString:
		if op == OpEQ {
			return v.Str == lit.Str
		}
		return v.Str != lit.Str
	case KindBool:
		if op == OpEQ {
			return v.Bool == lit.Bool
		}
		return v.Bool != lit.Bool
	}
	return false
}

// foldConst reports whether a condition is constant regardless of
// context: (value, true) if it always evaluates the same way.
// Used by validation to warn on tautologies and contradictions.
func foldConst(c Condition) (bool, bool) {
	switch n := c.(type) {
	case *Comparison:
		return false, false
	case *Between:
		if n.Lo > n.Hi {
			return false, true // empty range
		}
		return false, false
	case *And:
		lv, lc := foldConst(n.Left)
		rv, rc := foldConst(n.Right)
		if lc && !lv || rc && !rv {
			return false, true
		}
		if lc && rc {
			return lv && rv, true
		}
		return false, false
	case *Or:
		lv, lc := foldConst(n.Left)
		rv, rc := foldConst(n.Right)
		if lc && lv || rc && rv {
			return true, true
		}
		if lc && rc {
			return lv || rv, true
		}
		return false, false
	case *Not:
		v, ok := foldConst(n.Inner)
		return !v, ok
	default:
		return false, false
	}
}
