package formula

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenNumber
	tokenOperator
	tokenLParen
	tokenRParen
)

type token struct {
	kind  tokenKind
	op    byte
	value decimal.Decimal
	text  string
	pos   int
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// tokenize splits the expression and resolves placeholders. The only
// characters allowed outside a placeholder are digits, '.', operators,
// parentheses and whitespace.
func tokenize(expr string, bindings map[string]decimal.Decimal) ([]token, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrMalformedExpression)
	}

	var tokens []token
	for i := 0; i < len(expr); {
		c := expr[i]
		switch {
		case isSpace(c):
			i++
		case isDigit(c) || c == '.':
			start := i
			for i < len(expr) && (isDigit(expr[i]) || expr[i] == '.') {
				i++
			}
			text := expr[start:i]
			value, err := decimal.NewFromString(text)
			if err != nil || strings.Count(text, ".") > 1 {
				return nil, fmt.Errorf("%w: invalid number %q at offset %d", ErrMalformedExpression, text, start)
			}
			tokens = append(tokens, token{kind: tokenNumber, value: value, text: text, pos: start})
		case c == '+' || c == '-' || c == '*' || c == '/':
			tokens = append(tokens, token{kind: tokenOperator, op: c, text: string(c), pos: i})
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokenLParen, text: "(", pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokenRParen, text: ")", pos: i})
			i++
		case c == '{':
			end := strings.IndexByte(expr[i:], '}')
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated placeholder at offset %d", ErrUnsafeExpression, i)
			}
			name := strings.TrimSpace(expr[i+1 : i+end])
			value, ok := bindings[name]
			if !ok {
				return nil, fmt.Errorf("%w: unknown placeholder {%s}", ErrUnsafeExpression, name)
			}
			tokens = append(tokens, token{kind: tokenNumber, value: value, text: "{" + name + "}", pos: i})
			i += end + 1
		default:
			return nil, fmt.Errorf("%w: character %q at offset %d", ErrUnsafeExpression, c, i)
		}
	}
	return tokens, nil
}
