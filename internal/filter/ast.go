// Package filter parses predicate strings into an expression tree,
// evaluates them against metadata rows and estimates their selectivity
// for overfetch planning.
package filter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/edgevec/edgevec/internal/meta"
)

// ErrInvalidFilter reports a predicate string that failed to parse.
var ErrInvalidFilter = errors.New("filter: invalid expression")

// Expr is a parsed predicate. Matches implements the missing-key
// semantics of the engine: a comparison on an absent key is false, with
// no three-valued logic.
type Expr interface {
	Matches(row map[string]meta.Value) bool
	// Selectivity estimates the fraction of rows the predicate passes,
	// clamped to [0.01, 0.99]. It is a heuristic; the engine owns no
	// statistics.
	Selectivity() float64
	String() string
}

func clampSelectivity(p float64) float64 {
	if p < 0.01 {
		return 0.01
	}
	if p > 0.99 {
		return 0.99
	}
	return p
}

// CompareOp is a scalar comparison operator.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpLike
)

func (op CompareOp) String() string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpLike:
		return "LIKE"
	default:
		return "?"
	}
}

// Literal is a typed constant from the predicate text.
type Literal struct {
	kind    literalKind
	str     string
	num     float64
	isInt   bool
	boolean bool
}

type literalKind int

const (
	litString literalKind = iota
	litNumber
	litBool
)

// StringLit constructs a string literal.
func StringLit(s string) Literal { return Literal{kind: litString, str: s} }

// NumberLit constructs a numeric literal; isInt records whether the
// source text was integral.
func NumberLit(f float64, isInt bool) Literal {
	return Literal{kind: litNumber, num: f, isInt: isInt}
}

// BoolLit constructs a boolean literal.
func BoolLit(b bool) Literal { return Literal{kind: litBool, boolean: b} }

func (l Literal) String() string {
	switch l.kind {
	case litString:
		return strconv.Quote(l.str)
	case litNumber:
		if l.isInt {
			return strconv.FormatInt(int64(l.num), 10)
		}
		return strconv.FormatFloat(l.num, 'g', -1, 64)
	case litBool:
		return strconv.FormatBool(l.boolean)
	}
	return "?"
}

// equalsValue applies the cross-type equality rules: numbers promote
// integer to float, strings and booleans compare within their own type,
// everything else is false.
func (l Literal) equalsValue(v meta.Value) bool {
	switch l.kind {
	case litString:
		s, ok := v.AsString()
		return ok && s == l.str
	case litNumber:
		n, ok := v.Numeric()
		return ok && n == l.num
	case litBool:
		b, ok := v.AsBoolean()
		return ok && b == l.boolean
	}
	return false
}

// Compare is `ident op literal`.
type Compare struct {
	Key string
	Op  CompareOp
	Lit Literal
}

func (c *Compare) Matches(row map[string]meta.Value) bool {
	v, ok := row[c.Key]
	if !ok {
		return false
	}
	switch c.Op {
	case OpEq:
		return c.Lit.equalsValue(v)
	case OpNe:
		// Mismatched types are "not equal" only when the key exists
		// with a comparable type; a type clash is simply false.
		switch c.Lit.kind {
		case litString:
			s, ok := v.AsString()
			return ok && s != c.Lit.str
		case litNumber:
			n, ok := v.Numeric()
			return ok && n != c.Lit.num
		case litBool:
			b, ok := v.AsBoolean()
			return ok && b != c.Lit.boolean
		}
		return false
	case OpLt, OpLe, OpGt, OpGe:
		return c.matchOrdered(v)
	case OpLike:
		s, ok := v.AsString()
		return ok && c.Lit.kind == litString && likeMatch(c.Lit.str, s)
	}
	return false
}

func (c *Compare) matchOrdered(v meta.Value) bool {
	if c.Lit.kind == litNumber {
		n, ok := v.Numeric()
		if !ok {
			return false
		}
		switch c.Op {
		case OpLt:
			return n < c.Lit.num
		case OpLe:
			return n <= c.Lit.num
		case OpGt:
			return n > c.Lit.num
		case OpGe:
			return n >= c.Lit.num
		}
	}
	if c.Lit.kind == litString {
		s, ok := v.AsString()
		if !ok {
			return false
		}
		switch c.Op {
		case OpLt:
			return s < c.Lit.str
		case OpLe:
			return s <= c.Lit.str
		case OpGt:
			return s > c.Lit.str
		case OpGe:
			return s >= c.Lit.str
		}
	}
	return false
}

func (c *Compare) Selectivity() float64 {
	switch c.Op {
	case OpEq:
		return 0.1
	case OpNe:
		return clampSelectivity(1 - 0.1)
	case OpLike:
		return 0.3
	default:
		return 0.3
	}
}

func (c *Compare) String() string {
	return fmt.Sprintf("%s %s %s", c.Key, c.Op, c.Lit)
}

// likeMatch evaluates a LIKE pattern where % matches zero or more
// characters. Matching is case-sensitive.
func likeMatch(pattern, s string) bool {
	parts := strings.Split(pattern, "%")
	if len(parts) == 1 {
		return s == pattern
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	last := parts[len(parts)-1]
	for _, part := range parts[1 : len(parts)-1] {
		if part == "" {
			continue
		}
		i := strings.Index(s, part)
		if i < 0 {
			return false
		}
		s = s[i+len(part):]
	}
	return strings.HasSuffix(s, last)
}

// In is `ident IN (literal, ...)`.
type In struct {
	Key  string
	Lits []Literal
}

func (e *In) Matches(row map[string]meta.Value) bool {
	v, ok := row[e.Key]
	if !ok {
		return false
	}
	for _, l := range e.Lits {
		if l.equalsValue(v) {
			return true
		}
	}
	return false
}

func (e *In) Selectivity() float64 {
	p := 0.1 * float64(len(e.Lits))
	if p > 0.5 {
		p = 0.5
	}
	return clampSelectivity(p)
}

func (e *In) String() string {
	parts := make([]string, len(e.Lits))
	for i, l := range e.Lits {
		parts[i] = l.String()
	}
	return fmt.Sprintf("%s IN (%s)", e.Key, strings.Join(parts, ", "))
}

// Contains is `ident CONTAINS string`; the key must hold a string array.
type Contains struct {
	Key    string
	Needle string
}

func (e *Contains) Matches(row map[string]meta.Value) bool {
	v, ok := row[e.Key]
	if !ok {
		return false
	}
	arr, ok := v.AsStringArray()
	if !ok {
		return false
	}
	for _, s := range arr {
		if s == e.Needle {
			return true
		}
	}
	return false
}

func (e *Contains) Selectivity() float64 { return 0.3 }

func (e *Contains) String() string {
	return fmt.Sprintf("%s CONTAINS %s", e.Key, strconv.Quote(e.Needle))
}

// And is the conjunction of its terms.
type And struct {
	Terms []Expr
}

func (e *And) Matches(row map[string]meta.Value) bool {
	for _, t := range e.Terms {
		if !t.Matches(row) {
			return false
		}
	}
	return true
}

func (e *And) Selectivity() float64 {
	p := 1.0
	for _, t := range e.Terms {
		p *= t.Selectivity()
	}
	return clampSelectivity(p)
}

func (e *And) String() string {
	parts := make([]string, len(e.Terms))
	for i, t := range e.Terms {
		parts[i] = t.String()
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

// Or is the disjunction of its terms.
type Or struct {
	Terms []Expr
}

func (e *Or) Matches(row map[string]meta.Value) bool {
	for _, t := range e.Terms {
		if t.Matches(row) {
			return true
		}
	}
	return false
}

func (e *Or) Selectivity() float64 {
	p := 0.0
	for _, t := range e.Terms {
		q := t.Selectivity()
		p = p + q - p*q
	}
	return clampSelectivity(p)
}

func (e *Or) String() string {
	parts := make([]string, len(e.Terms))
	for i, t := range e.Terms {
		parts[i] = t.String()
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// Not negates its inner expression.
type Not struct {
	Inner Expr
}

func (e *Not) Matches(row map[string]meta.Value) bool {
	return !e.Inner.Matches(row)
}

func (e *Not) Selectivity() float64 {
	return clampSelectivity(1 - e.Inner.Selectivity())
}

func (e *Not) String() string {
	return "NOT " + e.Inner.String()
}
