// Package formula evaluates the small arithmetic language used by payroll
// templates: decimal numbers, {placeholders}, unary +/-, + - * / and parentheses.
// Nothing else is accepted.
package formula

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrUnsafeExpression    = errors.New("unsafe expression")
	ErrMalformedExpression = errors.New("malformed expression")
	ErrArithmetic          = errors.New("arithmetic error")
)

const maxDepth = 64

// Evaluate parses expression, substitutes bindings for {name} placeholders and
// returns the result. Callers in the payroll engine treat any error as a zero
// amount.
func Evaluate(expression string, bindings map[string]decimal.Decimal) (decimal.Decimal, error) {
	tokens, err := tokenize(expression, bindings)
	if err != nil {
		return decimal.Zero, err
	}
	p := &parser{tokens: tokens}
	root, err := p.parseExpr(0)
	if err != nil {
		return decimal.Zero, err
	}
	if !p.done() {
		return decimal.Zero, fmt.Errorf("%w: unexpected %s at offset %d", ErrMalformedExpression, p.peek().text, p.peek().pos)
	}
	return root.eval()
}

type node interface {
	eval() (decimal.Decimal, error)
}

type numberNode struct {
	value decimal.Decimal
}

func (n numberNode) eval() (decimal.Decimal, error) {
	return n.value, nil
}

type unaryNode struct {
	op      byte
	operand node
}

func (n unaryNode) eval() (decimal.Decimal, error) {
	v, err := n.operand.eval()
	if err != nil {
		return decimal.Zero, err
	}
	if n.op == '-' {
		return v.Neg(), nil
	}
	return v, nil
}

type binaryNode struct {
	op          byte
	left, right node
}

func (n binaryNode) eval() (decimal.Decimal, error) {
	l, err := n.left.eval()
	if err != nil {
		return decimal.Zero, err
	}
	r, err := n.right.eval()
	if err != nil {
		return decimal.Zero, err
	}
	switch n.op {
	case '+':
		return l.Add(r), nil
	case '-':
		return l.Sub(r), nil
	case '*':
		return l.Mul(r), nil
	case '/':
		if r.IsZero() {
			return decimal.Zero, fmt.Errorf("%w: division by zero", ErrArithmetic)
		}
		return l.Div(r), nil
	}
	return decimal.Zero, fmt.Errorf("%w: unknown operator %q", ErrMalformedExpression, n.op)
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) done() bool {
	return p.pos >= len(p.tokens)
}

func (p *parser) peek() token {
	if p.done() {
		return token{kind: tokenEOF, text: "end of input"}
	}
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.peek()
	p.pos++
	return t
}

// expr := term (('+' | '-') term)*
func (p *parser) parseExpr(depth int) (node, error) {
	left, err := p.parseTerm(depth)
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokenOperator || (t.op != '+' && t.op != '-') {
			return left, nil
		}
		p.next()
		right, err := p.parseTerm(depth)
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: t.op, left: left, right: right}
	}
}

// term := factor (('*' | '/') factor)*
func (p *parser) parseTerm(depth int) (node, error) {
	left, err := p.parseFactor(depth)
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokenOperator || (t.op != '*' && t.op != '/') {
			return left, nil
		}
		p.next()
		right, err := p.parseFactor(depth)
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: t.op, left: left, right: right}
	}
}

// factor := ('+' | '-') factor | number | '(' expr ')'
func (p *parser) parseFactor(depth int) (node, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrMalformedExpression, maxDepth)
	}
	t := p.next()
	switch t.kind {
	case tokenNumber:
		return numberNode{value: t.value}, nil
	case tokenOperator:
		if t.op == '+' || t.op == '-' {
			operand, err := p.parseFactor(depth + 1)
			if err != nil {
				return nil, err
			}
			return unaryNode{op: t.op, operand: operand}, nil
		}
	case tokenLParen:
		inner, err := p.parseExpr(depth + 1)
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokenRParen {
			return nil, fmt.Errorf("%w: expected ) at offset %d", ErrMalformedExpression, closing.pos)
		}
		return inner, nil
	}
	return nil, fmt.Errorf("%w: unexpected %s at offset %d", ErrMalformedExpression, t.text, t.pos)
}
