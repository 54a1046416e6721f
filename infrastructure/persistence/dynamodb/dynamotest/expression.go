package dynamotest

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// The evaluator understands the subset of the expression grammar produced by
// feature/dynamodb/expression: comparisons, BETWEEN, IN, AND, OR, NOT, attribute_exists,
// attribute_not_exists, begins_with, contains and size. Paths are top-level attribute names.

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokName
	tokValue
	tokIdent
	tokLParen
	tokRParen
	tokComma
	tokCompare
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(src string) ([]token, error) {
	var out []token
	rs := []rune(src)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			out = append(out, token{tokLParen, "("})
			i++
		case r == ')':
			out = append(out, token{tokRParen, ")"})
			i++
		case r == ',':
			out = append(out, token{tokComma, ","})
			i++
		case r == '=':
			out = append(out, token{tokCompare, "="})
			i++
		case r == '<' || r == '>':
			op := string(r)
			if i+1 < len(rs) && (rs[i+1] == '=' || (r == '<' && rs[i+1] == '>')) {
				op += string(rs[i+1])
				i++
			}
			out = append(out, token{tokCompare, op})
			i++
		case r == '#' || r == ':' || isIdentRune(r):
			start := i
			i++
			for i < len(rs) && isIdentRune(rs[i]) {
				i++
			}
			text := string(rs[start:i])
			kind := tokIdent
			switch r {
			case '#':
				kind = tokName
			case ':':
				kind = tokValue
			}
			out = append(out, token{kind, text})
		default:
			return nil, fmt.Errorf("unexpected character %q at %d", r, i)
		}
	}
	return append(out, token{kind: tokEOF}), nil
}

func isIdentRune(r rune) bool {
	return r == '_' || r == '.' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// env resolves placeholders against one item.
type env struct {
	item   map[string]types.AttributeValue
	names  map[string]string
	values map[string]types.AttributeValue
}

type parser struct {
	toks []token
	pos  int
	env  env
}

// evaluate reports whether the condition holds for item. An empty condition always holds.
func evaluate(cond string, item map[string]types.AttributeValue, names map[string]string,
	values map[string]types.AttributeValue) (bool, error) {
	if strings.TrimSpace(cond) == "" {
		return true, nil
	}
	toks, err := tokenize(cond)
	if err != nil {
		return false, err
	}
	p := &parser{toks: toks, env: env{item: item, names: names, values: values}}
	ok, err := p.or()
	if err != nil {
		return false, err
	}
	if p.peek().kind != tokEOF {
		return false, fmt.Errorf("unexpected %q after condition", p.peek().text)
	}
	return ok, nil
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind, what string) error {
	if t := p.next(); t.kind != kind {
		return fmt.Errorf("expected %s, got %q", what, t.text)
	}
	return nil
}

func (p *parser) keyword(word string) bool {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, word) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) or() (bool, error) {
	left, err := p.and()
	if err != nil {
		return false, err
	}
	for p.keyword("OR") {
		right, err := p.and()
		if err != nil {
			return false, err
		}
		left = left || right
	}
	return left, nil
}

func (p *parser) and() (bool, error) {
	left, err := p.not()
	if err != nil {
		return false, err
	}
	for p.keyword("AND") {
		right, err := p.not()
		if err != nil {
			return false, err
		}
		left = left && right
	}
	return left, nil
}

func (p *parser) not() (bool, error) {
	if p.keyword("NOT") {
		v, err := p.not()
		return !v, err
	}
	return p.primary()
}

func (p *parser) primary() (bool, error) {
	t := p.peek()
	if t.kind == tokLParen {
		p.next()
		v, err := p.or()
		if err != nil {
			return false, err
		}
		return v, p.expect(tokRParen, "')'")
	}
	if t.kind == tokIdent && !strings.EqualFold(t.text, "size") {
		return p.function()
	}

	left, err := p.operand()
	if err != nil {
		return false, err
	}
	switch {
	case p.peek().kind == tokCompare:
		op := p.next().text
		right, err := p.operand()
		if err != nil {
			return false, err
		}
		return compareOp(left, op, right), nil
	case p.keyword("BETWEEN"):
		lo, err := p.operand()
		if err != nil {
			return false, err
		}
		if !p.keyword("AND") {
			return false, fmt.Errorf("expected AND in BETWEEN")
		}
		hi, err := p.operand()
		if err != nil {
			return false, err
		}
		return compareOp(left, ">=", lo) && compareOp(left, "<=", hi), nil
	case p.keyword("IN"):
		if err := p.expect(tokLParen, "'('"); err != nil {
			return false, err
		}
		found := false
		for {
			candidate, err := p.operand()
			if err != nil {
				return false, err
			}
			found = found || compareOp(left, "=", candidate)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
		return found, p.expect(tokRParen, "')'")
	}
	return false, fmt.Errorf("expected comparison, got %q", p.peek().text)
}

func (p *parser) function() (bool, error) {
	name := strings.ToLower(p.next().text)
	if err := p.expect(tokLParen, "'('"); err != nil {
		return false, err
	}
	var args []types.AttributeValue
	for p.peek().kind != tokRParen {
		arg, err := p.operand()
		if err != nil {
			return false, err
		}
		args = append(args, arg)
		if p.peek().kind == tokComma {
			p.next()
		}
	}
	p.next()

	arity := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s takes %d arguments", name, n)
		}
		return nil
	}
	switch name {
	case "attribute_exists":
		if err := arity(1); err != nil {
			return false, err
		}
		return args[0] != nil, nil
	case "attribute_not_exists":
		if err := arity(1); err != nil {
			return false, err
		}
		return args[0] == nil, nil
	case "begins_with":
		if err := arity(2); err != nil {
			return false, err
		}
		s, ok1 := args[0].(*types.AttributeValueMemberS)
		prefix, ok2 := args[1].(*types.AttributeValueMemberS)
		return ok1 && ok2 && strings.HasPrefix(s.Value, prefix.Value), nil
	case "contains":
		if err := arity(2); err != nil {
			return false, err
		}
		s, ok1 := args[0].(*types.AttributeValueMemberS)
		sub, ok2 := args[1].(*types.AttributeValueMemberS)
		return ok1 && ok2 && strings.Contains(s.Value, sub.Value), nil
	}
	return false, fmt.Errorf("unsupported function %s", name)
}

// operand returns the resolved value, nil for a missing attribute.
func (p *parser) operand() (types.AttributeValue, error) {
	t := p.next()
	switch t.kind {
	case tokName:
		attr, ok := p.env.names[t.text]
		if !ok {
			return nil, fmt.Errorf("undefined name placeholder %s", t.text)
		}
		return p.env.item[attr], nil
	case tokValue:
		v, ok := p.env.values[t.text]
		if !ok {
			return nil, fmt.Errorf("undefined value placeholder %s", t.text)
		}
		return v, nil
	case tokIdent:
		if strings.EqualFold(t.text, "size") {
			if err := p.expect(tokLParen, "'('"); err != nil {
				return nil, err
			}
			v, err := p.operand()
			if err != nil {
				return nil, err
			}
			if err := p.expect(tokRParen, "')'"); err != nil {
				return nil, err
			}
			return sizeOf(v), nil
		}
		return p.env.item[t.text], nil
	}
	return nil, fmt.Errorf("expected operand, got %q", t.text)
}

func sizeOf(v types.AttributeValue) types.AttributeValue {
	n := 0
	switch tv := v.(type) {
	case *types.AttributeValueMemberS:
		n = len(tv.Value)
	case *types.AttributeValueMemberB:
		n = len(tv.Value)
	case *types.AttributeValueMemberL:
		n = len(tv.Value)
	case *types.AttributeValueMemberM:
		n = len(tv.Value)
	case nil:
		return nil
	}
	return &types.AttributeValueMemberN{Value: strconv.Itoa(n)}
}

// compareOp compares two values of the same type. Missing or mismatched values never match.
func compareOp(a types.AttributeValue, op string, b types.AttributeValue) bool {
	c, ok := compareValues(a, b)
	if !ok {
		return op == "<>" && a != nil && b != nil
	}
	switch op {
	case "=":
		return c == 0
	case "<>":
		return c != 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}

func compareValues(a, b types.AttributeValue) (int, bool) {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, false
		}
		return strings.Compare(av.Value, bv.Value), true
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 0, false
		}
		x, err1 := strconv.ParseFloat(av.Value, 64)
		y, err2 := strconv.ParseFloat(bv.Value, 64)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok || av.Value != bv.Value {
			return 1, ok
		}
		return 0, true
	case *types.AttributeValueMemberB:
		bv, ok := b.(*types.AttributeValueMemberB)
		if !ok {
			return 0, false
		}
		return bytes.Compare(av.Value, bv.Value), true
	}
	return 0, false
}
