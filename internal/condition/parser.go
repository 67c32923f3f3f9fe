// Package condition implements the boolean expression grammar joining named
// conditions: single-letter identifiers combined with "and"/"or", evaluated
// left-to-right with explicit parentheses as the only grouping.
package condition

import (
	"fmt"
	"strings"
	"unicode"
)

// Node is a parsed expression tree node
type Node interface {
	// Eval evaluates the node against a truth assignment for identifiers.
	// Unknown identifiers evaluate to false (fail-closed).
	Eval(truth func(id string) bool) bool
}

// Ident is a reference to a named condition
type Ident struct {
	Name string
}

func (n *Ident) Eval(truth func(id string) bool) bool {
	return truth(n.Name)
}

// BoolOp is a binary and/or combination
type BoolOp struct {
	Op    string // "and" | "or"
	Left  Node
	Right Node
}

func (n *BoolOp) Eval(truth func(id string) bool) bool {
	left := n.Left.Eval(truth)
	right := n.Right.Eval(truth)
	if n.Op == "and" {
		return left && right
	}
	return left || right
}

type token struct {
	kind string // "ident", "op", "lparen", "rparen"
	text string
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0
	runes := []rune(expr)
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{kind: "lparen", text: "("})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: "rparen", text: ")"})
			i++
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			word := string(runes[start:i])
			switch strings.ToLower(word) {
			case "and", "or":
				tokens = append(tokens, token{kind: "op", text: strings.ToLower(word)})
			default:
				tokens = append(tokens, token{kind: "ident", text: word})
			}
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", r, i)
		}
	}
	return tokens, nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() *token {
	if p.pos >= len(p.tokens) {
		return nil
	}
	return &p.tokens[p.pos]
}

func (p *parser) next() *token {
	t := p.peek()
	if t != nil {
		p.pos++
	}
	return t
}

// parseExpr parses a left-associative chain: primary (op primary)*.
// "and" and "or" bind equally; only parentheses group.
func (p *parser) parseExpr() (Node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t == nil || t.kind != "op" {
			return left, nil
		}
		p.next()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = &BoolOp{Op: t.text, Left: left, Right: right}
	}
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.next()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	switch t.kind {
	case "ident":
		return &Ident{Name: t.text}, nil
	case "lparen":
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		closing := p.next()
		if closing == nil || closing.kind != "rparen" {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return inner, nil
	default:
		return nil, fmt.Errorf("unexpected token %q", t.text)
	}
}

// Parse parses an expression like "A and (B or C)" into an evaluable tree
func Parse(expr string) (Node, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty expression")
	}
	p := &parser{tokens: tokens}
	node, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, fmt.Errorf("trailing tokens after expression")
	}
	return node, nil
}

// Identifiers returns the distinct identifier names referenced by the tree
func Identifiers(node Node) []string {
	seen := make(map[string]struct{})
	var out []string
	var walk func(Node)
	walk = func(n Node) {
		switch v := n.(type) {
		case *Ident:
			if _, ok := seen[v.Name]; !ok {
				seen[v.Name] = struct{}{}
				out = append(out, v.Name)
			}
		case *BoolOp:
			walk(v.Left)
			walk(v.Right)
		}
	}
	walk(node)
	return out
}
