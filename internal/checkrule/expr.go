// Package checkrule evaluates the procedure tier: which documents a claim for
// a given procedure must carry.
//
// Grammar of a procedure expression:
//
//	expr  = list
//	list  = term *( "," term )
//	term  = id / "[" list "]" / "(" list ")"
//	id    = "CH" 2*DIGIT       ; case-insensitive
//
// Square brackets need every member, parentheses need at least one, and the
// top-level list needs every member.
package checkrule

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalidExpression means a procedure expression does not satisfy the grammar
var ErrInvalidExpression = errors.New("invalid check rule expression")

// Expr is a parsed procedure expression
type Expr interface {
	// Eval reports whether the expression holds; ids absent from submitted count as false
	Eval(submitted map[string]bool) bool

	appendIDs(ids []string) []string
	String() string
}

type idExpr string

func (e idExpr) Eval(submitted map[string]bool) bool { return submitted[string(e)] }
func (e idExpr) appendIDs(ids []string) []string { return append(ids, string(e)) }
func (e idExpr) String() string { return string(e) }

type groupExpr struct {
	all     bool
	members []Expr
}

func (g groupExpr) Eval(submitted map[string]bool) bool {
	for _, m := range g.members {
		if m.Eval(submitted) != g.all {
			return !g.all
		}
	}
	return g.all
}

func (g groupExpr) appendIDs(ids []string) []string {
	for _, m := range g.members {
		ids = m.appendIDs(ids)
	}
	return ids
}

func (g groupExpr) String() string {
	parts := make([]string, len(g.members))
	for i, m := range g.members {
		parts[i] = m.String()
	}
	if g.all {
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// IDs returns the check rule ids of expr in order of first appearance
func IDs(expr Expr) []string {
	if expr == nil {
		return nil
	}
	seen := make(map[string]bool)
	var ids []string
	for _, id := range expr.appendIDs(nil) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// Parse parses a procedure expression. A blank expression yields a nil Expr.
func Parse(s string) (Expr, error) {
	p := &parser{src: s}
	p.skipSpace()
	if p.done() {
		return nil, nil
	}

	members, err := p.list()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, p.errorf("unexpected %q", p.src[p.pos])
	}
	if len(members) == 1 {
		return members[0], nil
	}
	return groupExpr{all: true, members: members}, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) list() ([]Expr, error) {
	var members []Expr
	for {
		term, err := p.term()
		if err != nil {
			return nil, err
		}
		members = append(members, term)

		p.skipSpace()
		if p.done() || p.src[p.pos] != ',' {
			return members, nil
		}
		p.pos++
	}
}

func (p *parser) term() (Expr, error) {
	p.skipSpace()
	if p.done() {
		return nil, p.errorf("expression ends early")
	}

	switch open := p.src[p.pos]; open {
	case '[', '(':
		closer := byte(']')
		if open == '(' {
			closer = ')'
		}
		p.pos++
		p.skipSpace()
		if !p.done() && (p.src[p.pos] == ']' || p.src[p.pos] == ')') {
			return nil, p.errorf("empty group")
		}
		members, err := p.list()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.done() || p.src[p.pos] != closer {
			return nil, p.errorf("expected %q", closer)
		}
		p.pos++
		return groupExpr{all: open == '[', members: members}, nil
	default:
		return p.id()
	}
}

func (p *parser) id() (Expr, error) {
	start := p.pos
	for !p.done() && (unicode.IsLetter(rune(p.src[p.pos])) || unicode.IsDigit(rune(p.src[p.pos]))) {
		p.pos++
	}
	word := strings.ToUpper(p.src[start:p.pos])
	if !validID(word) {
		if word == "" {
			return nil, p.errorf("unexpected %q", p.src[p.pos])
		}
		return nil, fmt.Errorf("%w: %q is not a check rule id", ErrInvalidExpression, word)
	}
	return idExpr(word), nil
}

func validID(word string) bool {
	if len(word) < 4 || !strings.HasPrefix(word, "CH") {
		return false
	}
	for _, r := range word[2:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (p *parser) skipSpace() {
	for !p.done() && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *parser) done() bool { return p.pos >= len(p.src) }

func (p *parser) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s at offset %d", ErrInvalidExpression, fmt.Sprintf(format, args...), p.pos)
}

