package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// CompileError is one positioned error from compiling a rule
// definition. Pos is a 1-based byte offset into the expression text;
// zero means the error is not tied to a position. Path locates the
// offending part of the definition document, e.g. "clauses[1].if".
type CompileError struct {
	Path    string `json:"path,omitempty"`
	Pos     int    `json:"pos,omitempty"`
	Message string `json:"message"`
}

func (e CompileError) Error() string {
	var b strings.Builder
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	if e.Pos > 0 {
		fmt.Fprintf(&b, "at offset %d: ", e.Pos)
	}
	b.WriteString(e.Message)
	return b.String()
}

type tokenType int

const (
	tokEOF tokenType = iota
	tokIdent
	tokNumber
	tokString
	tokTrue
	tokFalse
	tokAnd
	tokOr
	tokNot
	tokBetween
	tokLT
	tokLE
	tokGT
	tokGE
	tokEQ
	tokNE
	tokLParen
	tokRParen
)

func (t tokenType) String() string {
	switch t {
	case tokEOF:
		return "end of expression"
	case tokIdent:
		return "identifier"
	case tokNumber:
		return "number"
	case tokString:
		return "string"
	case tokTrue, tokFalse:
		return "boolean"
	case tokAnd:
		return "AND"
	case tokOr:
		return "OR"
	case tokNot:
		return "NOT"
	case tokBetween:
		return "BETWEEN"
	case tokLT:
		return "<"
	case tokLE:
		return "<="
	case tokGT:
		return ">"
	case tokGE:
		return ">="
	case tokEQ:
		return "=="
	case tokNE:
		return "!="
	case tokLParen:
		return "("
	case tokRParen:
		return ")"
	default:
		return "token"
	}
}

type token struct {
	typ  tokenType
	text string
	num  int64 // parsed value for tokNumber
	pos  int   // 1-based byte offset of the first character
}

// keywords are matched case-insensitively so "and" and "AND" both work.
var keywords = map[string]tokenType{
	"AND":     tokAnd,
	"OR":      tokOr,
	"NOT":     tokNot,
	"BETWEEN": tokBetween,
	"TRUE":    tokTrue,
	"FALSE":   tokFalse,
}

// lex splits a condition expression into tokens. It stops at the
// first lexical error; the parser surfaces it with its position.
func lex(input string) ([]token, *CompileError) {
	var tokens []token
	i := 0
	n := len(input)
	for i < n {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			tokens = append(tokens, token{typ: tokLParen, text: "(", pos: i + 1})
			i++
		case c == ')':
			tokens = append(tokens, token{typ: tokRParen, text: ")", pos: i + 1})
			i++
		case c == '<':
			if i+1 < n && input[i+1] == '=' {
				tokens = append(tokens, token{typ: tokLE, text: "<=", pos: i + 1})
				i += 2
			} else {
				tokens = append(tokens, token{typ: tokLT, text: "<", pos: i + 1})
				i++
			}
		case c == '>':
			if i+1 < n && input[i+1] == '=' {
				tokens = append(tokens, token{typ: tokGE, text: ">=", pos: i + 1})
				i += 2
			} else {
				tokens = append(tokens, token{typ: tokGT, text: ">", pos: i + 1})
				i++
			}
		case c == '=':
			if i+1 < n && input[i+1] == '=' {
				tokens = append(tokens, token{typ: tokEQ, text: "==", pos: i + 1})
				i += 2
			} else {
				return nil, &CompileError{Pos: i + 1, Message: "unexpected '='; comparison operator is '=='"}
			}
		case c == '!':
			if i+1 < n && input[i+1] == '=' {
				tokens = append(tokens, token{typ: tokNE, text: "!=", pos: i + 1})
				i += 2
			} else {
				return nil, &CompileError{Pos: i + 1, Message: "unexpected '!'; negation operator is NOT"}
			}
		case c == '\'' || c == '"':
			quote := c
			start := i
			i++
			for i < n && input[i] != quote {
				i++
			}
			if i >= n {
				return nil, &CompileError{Pos: start + 1, Message: "unterminated string literal"}
			}
			tokens = append(tokens, token{typ: tokString, text: input[start+1 : i], pos: start + 1})
			i++
		case c >= '0' && c <= '9' || c == '-':
			start := i
			if c == '-' {
				i++
				if i >= n || input[i] < '0' || input[i] > '9' {
					return nil, &CompileError{Pos: start + 1, Message: "unexpected '-'"}
				}
			}
			for i < n && input[i] >= '0' && input[i] <= '9' {
				i++
			}
			text := input[start:i]
			num, err := strconv.ParseInt(text, 10, 64)
			if err != nil {
				return nil, &CompileError{Pos: start + 1, Message: fmt.Sprintf("numeric literal %q overflows", text)}
			}
			tokens = append(tokens, token{typ: tokNumber, text: text, num: num, pos: start + 1})
		case isIdentStart(c):
			start := i
			for i < n && isIdentPart(input[i]) {
				i++
			}
			text := input[start:i]
			if typ, ok := keywords[strings.ToUpper(text)]; ok {
				tokens = append(tokens, token{typ: typ, text: text, pos: start + 1})
			} else {
				tokens = append(tokens, token{typ: tokIdent, text: text, pos: start + 1})
			}
		default:
			return nil, &CompileError{Pos: i + 1, Message: fmt.Sprintf("unexpected character %q", string(c))}
		}
	}
	tokens = append(tokens, token{typ: tokEOF, pos: n + 1})
	return tokens, nil
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}
