package rule

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Condition expressions are small boolean formulas over market and position
// fields, e.g. "price < previous_close * 0.98". They are parsed once and
// evaluated with no side effects, so the same inputs always produce the same
// outcome.

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp // < <= > >= == != + - * /
	tokLParen
	tokRParen
	tokAnd
	tokOr
	tokNot
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	src string
	pos int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && unicode.IsSpace(rune(l.src[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.src[l.pos]

	switch {
	case c == '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case c == '+' || c == '-' || c == '*' || c == '/':
		l.pos++
		return token{kind: tokOp, text: string(c), pos: start}, nil
	case c == '<' || c == '>':
		l.pos++
		if l.pos < len(l.src) && l.src[l.pos] == '=' {
			l.pos++
		}
		return token{kind: tokOp, text: l.src[start:l.pos], pos: start}, nil
	case c == '=' || c == '!':
		l.pos++
		if l.pos < len(l.src) && l.src[l.pos] == '=' {
			l.pos++
			return token{kind: tokOp, text: l.src[start:l.pos], pos: start}, nil
		}
		if c == '!' {
			return token{kind: tokNot, text: "!", pos: start}, nil
		}
		return token{}, fmt.Errorf("rule: unexpected %q at %d", string(c), start)
	case c == '&':
		l.pos++
		if l.pos < len(l.src) && l.src[l.pos] == '&' {
			l.pos++
			return token{kind: tokAnd, text: "&&", pos: start}, nil
		}
		return token{}, fmt.Errorf("rule: unexpected %q at %d", "&", start)
	case c == '|':
		l.pos++
		if l.pos < len(l.src) && l.src[l.pos] == '|' {
			l.pos++
			return token{kind: tokOr, text: "||", pos: start}, nil
		}
		return token{}, fmt.Errorf("rule: unexpected %q at %d", "|", start)
	case unicode.IsDigit(rune(c)) || c == '.':
		for l.pos < len(l.src) && (unicode.IsDigit(rune(l.src[l.pos])) || l.src[l.pos] == '.') {
			l.pos++
		}
		return token{kind: tokNumber, text: l.src[start:l.pos], pos: start}, nil
	case unicode.IsLetter(rune(c)) || c == '_':
		for l.pos < len(l.src) && (unicode.IsLetter(rune(l.src[l.pos])) || unicode.IsDigit(rune(l.src[l.pos])) || l.src[l.pos] == '_') {
			l.pos++
		}
		word := l.src[start:l.pos]
		switch strings.ToLower(word) {
		case "and":
			return token{kind: tokAnd, text: word, pos: start}, nil
		case "or":
			return token{kind: tokOr, text: word, pos: start}, nil
		case "not":
			return token{kind: tokNot, text: word, pos: start}, nil
		}
		return token{kind: tokIdent, text: word, pos: start}, nil
	}
	return token{}, fmt.Errorf("rule: unexpected %q at %d", string(c), start)
}

// node is one compiled expression node.
type node interface {
	eval(env *Env) (value, error)
}

type valueKind int

const (
	valNumber valueKind = iota
	valBool
)

type value struct {
	kind valueKind
	num  decimal.Decimal
	b    bool
}

func numberValue(d decimal.Decimal) value { return value{kind: valNumber, num: d} }
func boolValue(b bool) value              { return value{kind: valBool, b: b} }

func (v value) asBool() (bool, error) {
	if v.kind != valBool {
		return false, fmt.Errorf("rule: expression yields a number where a condition is required")
	}
	return v.b, nil
}

func (v value) asNumber() (decimal.Decimal, error) {
	if v.kind != valNumber {
		return decimal.Decimal{}, fmt.Errorf("rule: expression yields a condition where a number is required")
	}
	return v.num, nil
}

type literalNode struct{ v decimal.Decimal }

func (n literalNode) eval(*Env) (value, error) { return numberValue(n.v), nil }

type fieldNode struct{ name string }

func (n fieldNode) eval(env *Env) (value, error) {
	d, ok := env.field(n.name)
	if !ok {
		return value{}, fmt.Errorf("rule: unknown field %q", n.name)
	}
	return numberValue(d), nil
}

type arithNode struct {
	op          string
	left, right node
}

func (n arithNode) eval(env *Env) (value, error) {
	lv, err := n.left.eval(env)
	if err != nil {
		return value{}, err
	}
	rv, err := n.right.eval(env)
	if err != nil {
		return value{}, err
	}
	l, err := lv.asNumber()
	if err != nil {
		return value{}, err
	}
	r, err := rv.asNumber()
	if err != nil {
		return value{}, err
	}
	switch n.op {
	case "+":
		return numberValue(l.Add(r)), nil
	case "-":
		return numberValue(l.Sub(r)), nil
	case "*":
		return numberValue(l.Mul(r)), nil
	case "/":
		if r.IsZero() {
			return value{}, fmt.Errorf("rule: division by zero")
		}
		return numberValue(l.Div(r)), nil
	}
	return value{}, fmt.Errorf("rule: unknown operator %q", n.op)
}

type compareNode struct {
	op          string
	left, right node
}

func (n compareNode) eval(env *Env) (value, error) {
	lv, err := n.left.eval(env)
	if err != nil {
		return value{}, err
	}
	rv, err := n.right.eval(env)
	if err != nil {
		return value{}, err
	}
	l, err := lv.asNumber()
	if err != nil {
		return value{}, err
	}
	r, err := rv.asNumber()
	if err != nil {
		return value{}, err
	}
	cmp := l.Cmp(r)
	switch n.op {
	case "<":
		return boolValue(cmp < 0), nil
	case "<=":
		return boolValue(cmp <= 0), nil
	case ">":
		return boolValue(cmp > 0), nil
	case ">=":
		return boolValue(cmp >= 0), nil
	case "==":
		return boolValue(cmp == 0), nil
	case "!=":
		return boolValue(cmp != 0), nil
	}
	return value{}, fmt.Errorf("rule: unknown comparison %q", n.op)
}

type logicNode struct {
	op          string // "and", "or"
	left, right node
}

func (n logicNode) eval(env *Env) (value, error) {
	lv, err := n.left.eval(env)
	if err != nil {
		return value{}, err
	}
	l, err := lv.asBool()
	if err != nil {
		return value{}, err
	}
	// Short circuit.
	if n.op == "and" && !l {
		return boolValue(false), nil
	}
	if n.op == "or" && l {
		return boolValue(true), nil
	}
	rv, err := n.right.eval(env)
	if err != nil {
		return value{}, err
	}
	r, err := rv.asBool()
	if err != nil {
		return value{}, err
	}
	return boolValue(r), nil
}

type notNode struct{ inner node }

func (n notNode) eval(env *Env) (value, error) {
	v, err := n.inner.eval(env)
	if err != nil {
		return value{}, err
	}
	b, err := v.asBool()
	if err != nil {
		return value{}, err
	}
	return boolValue(!b), nil
}

type negNode struct{ inner node }

func (n negNode) eval(env *Env) (value, error) {
	v, err := n.inner.eval(env)
	if err != nil {
		return value{}, err
	}
	d, err := v.asNumber()
	if err != nil {
		return value{}, err
	}
	return numberValue(d.Neg()), nil
}

type parser struct {
	lex *lexer
	cur token
}

func newParser(src string) (*parser, error) {
	p := &parser{lex: &lexer{src: src}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = tok
	return nil
}

// parseExpr compiles a condition expression. Grammar, loosest-binding first:
// or-expr, and-expr, not, comparison, additive, multiplicative, unary, primary.
func parseExpr(src string) (node, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("rule: empty condition")
	}
	p, err := newParser(src)
	if err != nil {
		return nil, err
	}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokEOF {
		return nil, fmt.Errorf("rule: unexpected %q at %d", p.cur.text, p.cur.pos)
	}
	return n, nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = logicNode{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokAnd {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = logicNode{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.cur.kind == tokNot {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notNode{inner: inner}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if p.cur.kind == tokOp {
		switch p.cur.text {
		case "<", "<=", ">", ">=", "==", "!=":
			op := p.cur.text
			if err := p.advance(); err != nil {
				return nil, err
			}
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return compareNode{op: op, left: left, right: right}, nil
		}
	}
	return left, nil
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokOp && (p.cur.text == "+" || p.cur.text == "-") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = arithNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.kind == tokOp && (p.cur.text == "*" || p.cur.text == "/") {
		op := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = arithNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.cur.kind == tokOp && p.cur.text == "-" {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return negNode{inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	switch p.cur.kind {
	case tokNumber:
		d, err := decimal.NewFromString(p.cur.text)
		if err != nil {
			return nil, fmt.Errorf("rule: bad number %q at %d", p.cur.text, p.cur.pos)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return literalNode{v: d}, nil
	case tokIdent:
		name := strings.ToLower(p.cur.text)
		if err := p.advance(); err != nil {
			return nil, err
		}
		return fieldNode{name: name}, nil
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.cur.kind != tokRParen {
			return nil, fmt.Errorf("rule: missing ) at %d", p.cur.pos)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return nil, fmt.Errorf("rule: unexpected %q at %d", p.cur.text, p.cur.pos)
}
