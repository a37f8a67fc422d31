package engine

import (
	"fmt"
	"strings"
)

// CompileCondition parses and type-checks a textual boolean
// expression against the field vocabulary. It returns the compiled
// AST, or the error that stopped the parse. Field existence and
// literal/field type compatibility are checked here, at compile time,
// so a bad rule is rejected before it can ever silently no-op or
// fail mid-evaluation.
func CompileCondition(expr string) (Condition, *CompileError) {
	if strings.TrimSpace(expr) == "" {
		return nil, &CompileError{Message: "empty condition"}
	}
	tokens, lerr := lex(expr)
	if lerr != nil {
		return nil, lerr
	}
	p := &parser{tokens: tokens}
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().typ != tokEOF {
		t := p.peek()
		return nil, &CompileError{Pos: t.pos, Message: fmt.Sprintf("unexpected %s after expression", t.typ)}
	}
	return cond, nil
}

// parser is a recursive-descent parser over the closed grammar:
//
//	or      := and { OR and }
//	and     := not { AND not }
//	not     := NOT not | primary
//	primary := '(' or ')' | field compOp literal | field BETWEEN num AND num
//
// Precedence NOT > AND > OR follows from the descent order.
type parser struct {
	tokens []token
	idx    int
}

func (p *parser) peek() token {
	return p.tokens[p.idx]
}

func (p *parser) next() token {
	t := p.tokens[p.idx]
	if p.idx < len(p.tokens)-1 {
		p.idx++
	}
	return t
}

func (p *parser) parseOr() (Condition, *CompileError) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().typ == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Condition, *CompileError) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().typ == tokAnd {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &And{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Condition, *CompileError) {
	if p.peek().typ == tokNot {
		p.next()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Not{Inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Condition, *CompileError) {
	t := p.next()
	switch t.typ {
	case tokLParen:
		cond, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.typ != tokRParen {
			return nil, &CompileError{Pos: closing.pos, Message: "expected ')'"}
		}
		return cond, nil
	case tokIdent:
		field, ok := LookupField(t.text)
		if !ok {
			return nil, &CompileError{Pos: t.pos, Message: fmt.Sprintf("unknown field %q", t.text)}
		}
		return p.parseFieldTest(field, t)
	default:
		return nil, &CompileError{Pos: t.pos, Message: fmt.Sprintf("expected field name or '(', got %s", t.typ)}
	}
}

func (p *parser) parseFieldTest(field *Field, ident token) (Condition, *CompileError) {
	t := p.next()
	switch t.typ {
	case tokBetween:
		if field.Kind != KindNumber {
			return nil, &CompileError{Pos: t.pos, Message: fmt.Sprintf("BETWEEN requires a numeric field; %s is %s", field.Name, field.Kind)}
		}
		lo := p.next()
		if lo.typ != tokNumber {
			return nil, &CompileError{Pos: lo.pos, Message: fmt.Sprintf("expected numeric lower bound, got %s", lo.typ)}
		}
		if sep := p.next(); sep.typ != tokAnd {
			return nil, &CompileError{Pos: sep.pos, Message: "expected AND between BETWEEN bounds"}
		}
		hi := p.next()
		if hi.typ != tokNumber {
			return nil, &CompileError{Pos: hi.pos, Message: fmt.Sprintf("expected numeric upper bound, got %s", hi.typ)}
		}
		return &Between{Field: field, Lo: lo.num, Hi: hi.num}, nil
	case tokLT, tokLE, tokGT, tokGE, tokEQ, tokNE:
		op := tokenOp(t.typ)
		if field.Kind != KindNumber && op != OpEQ && op != OpNE {
			return nil, &CompileError{Pos: t.pos, Message: fmt.Sprintf("operator %s requires a numeric field; %s is %s", op, field.Name, field.Kind)}
		}
		lit := p.next()
		val, err := literalValue(field, lit)
		if err != nil {
			return nil, err
		}
		return &Comparison{Field: field, Op: op, Lit: val}, nil
	default:
		return nil, &CompileError{Pos: t.pos, Message: fmt.Sprintf("expected comparison operator or BETWEEN after %s", ident.text)}
	}
}

func tokenOp(t tokenType) CompareOp {
	switch t {
	case tokLT:
		return OpLT
	case tokLE:
		return OpLE
	case tokGT:
		return OpGT
	case tokGE:
		return OpGE
	case tokEQ:
		return OpEQ
	default:
		return OpNE
	}
}

// literalValue type-checks a literal token against the field it is
// compared to.
func literalValue(field *Field, t token) (Value, *CompileError) {
	switch t.typ {
	case tokNumber:
		if field.Kind != KindNumber {
			return Value{}, &CompileError{Pos: t.pos, Message: fmt.Sprintf("field %s is %s, numeric literal not allowed", field.Name, field.Kind)}
		}
		return Value{Kind: KindNumber, Num: t.num}, nil
	case tokString:
		if field.Kind != KindString {
			return Value{}, &CompileError{Pos: t.pos, Message: fmt.Sprintf("field %s is %s, string literal not allowed", field.Name, field.Kind)}
		}
		if len(field.Enum) > 0 && !contains(field.Enum, t.text) {
			return Value{}, &CompileError{Pos: t.pos, Message: fmt.Sprintf("%q is not a valid value for %s (one of %s)", t.text, field.Name, strings.Join(field.Enum, ", "))}
		}
		return Value{Kind: KindString, Str: t.text}, nil
	case tokTrue, tokFalse:
		if field.Kind != KindBool {
			return Value{}, &CompileError{Pos: t.pos, Message: fmt.Sprintf("field %s is %s, boolean literal not allowed", field.Name, field.Kind)}
		}
		return Value{Kind: KindBool, Bool: t.typ == tokTrue}, nil
	default:
		return Value{}, &CompileError{Pos: t.pos, Message: fmt.Sprintf("expected literal, got %s", t.typ)}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
