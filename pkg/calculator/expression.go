package calculator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/openrules/openrules/pkg/engine"
)

// Expression is a compiled calculator expression such as
// "#price * #quantity" or "if(#score > 80, 'high', 'low')".
type Expression struct {
	text string
	root exprNode
}

type exprCacheKey struct {
	text    string
	version string
}

// astCache memoizes compiled expressions by (text, version) for the
// process lifetime. A config version bump invalidates the entry.
var astCache sync.Map

// CompileExpression parses an expression, reusing a cached AST when the
// same (text, version) pair was compiled before.
func CompileExpression(text, version string) (*Expression, error) {
	key := exprCacheKey{text: text, version: version}
	if cached, ok := astCache.Load(key); ok {
		return cached.(*Expression), nil
	}

	p := &exprParser{lexer: newLexer(text)}
	root, err := p.parse()
	if err != nil {
		return nil, engine.NewPermanentError("invalid calculator expression", err).
			WithCode(engine.ErrCodeCalculator).
			WithDetail("expression", text)
	}

	expr := &Expression{text: text, root: root}
	astCache.Store(key, expr)
	return expr, nil
}

// ClearExpressionCache drops all memoized ASTs.
func ClearExpressionCache() {
	astCache.Range(func(k, _ interface{}) bool {
		astCache.Delete(k)
		return true
	})
}

// Text returns the source text of the expression.
func (e *Expression) Text() string { return e.text }

// Fields returns the distinct field names the expression references, in
// first-appearance order.
func (e *Expression) Fields() []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(n exprNode)
	walk = func(n exprNode) {
		switch node := n.(type) {
		case *fieldRef:
			if !seen[node.name] {
				seen[node.name] = true
				out = append(out, node.name)
			}
		case *binaryExpr:
			walk(node.lhs)
			walk(node.rhs)
		case *unaryExpr:
			walk(node.operand)
		case *callExpr:
			for _, arg := range node.args {
				walk(arg)
			}
		}
	}
	walk(e.root)
	return out
}

// Evaluate computes the expression over the given field values.
func (e *Expression) Evaluate(fieldValues map[string]interface{}) (interface{}, error) {
	return e.root.eval(fieldValues)
}

// ---- AST ----

type exprNode interface {
	eval(values map[string]interface{}) (interface{}, error)
}

type numberLit struct{ value float64 }
type stringLit struct{ value string }
type boolLit struct{ value bool }
type nullLit struct{}

type fieldRef struct{ name string }

type binaryExpr struct {
	op       string
	lhs, rhs exprNode
}

type unaryExpr struct {
	op      string
	operand exprNode
}

type callExpr struct {
	fn   string
	args []exprNode
}

func (n *numberLit) eval(map[string]interface{}) (interface{}, error) { return n.value, nil }
func (n *stringLit) eval(map[string]interface{}) (interface{}, error) { return n.value, nil }
func (n *boolLit) eval(map[string]interface{}) (interface{}, error)   { return n.value, nil }
func (n *nullLit) eval(map[string]interface{}) (interface{}, error)   { return nil, nil }

func (n *fieldRef) eval(values map[string]interface{}) (interface{}, error) {
	value, ok := values[n.name]
	if !ok {
		return nil, fmt.Errorf("expression references unresolved field %q", n.name)
	}
	return value, nil
}

func (n *binaryExpr) eval(values map[string]interface{}) (interface{}, error) {
	// and/or evaluate lazily.
	switch n.op {
	case "and":
		lhs, err := truthyOperand(n.lhs, values)
		if err != nil || !lhs {
			return false, err
		}
		return truthyOperandValue(n.rhs, values)
	case "or":
		lhs, err := truthyOperand(n.lhs, values)
		if err != nil {
			return nil, err
		}
		if lhs {
			return true, nil
		}
		return truthyOperandValue(n.rhs, values)
	}

	lhs, err := n.lhs.eval(values)
	if err != nil {
		return nil, err
	}
	rhs, err := n.rhs.eval(values)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "+":
		// + concatenates when either operand is a string.
		if ls, ok := lhs.(string); ok {
			return ls + stringify(rhs), nil
		}
		if rs, ok := rhs.(string); ok {
			return stringify(lhs) + rs, nil
		}
		return arith(n.op, lhs, rhs)
	case "-", "*", "/", "%":
		return arith(n.op, lhs, rhs)
	case "==", "!=", "<", "<=", ">", ">=":
		return compare(n.op, lhs, rhs)
	}
	return nil, fmt.Errorf("unknown operator %q", n.op)
}

func (n *unaryExpr) eval(values map[string]interface{}) (interface{}, error) {
	operand, err := n.operand.eval(values)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "-":
		f, err := operandNumber(operand)
		if err != nil {
			return nil, err
		}
		return -f, nil
	case "not":
		return !truthy(operand), nil
	}
	return nil, fmt.Errorf("unknown unary operator %q", n.op)
}

func (n *callExpr) eval(values map[string]interface{}) (interface{}, error) {
	switch n.fn {
	case "if":
		if len(n.args) != 3 {
			return nil, fmt.Errorf("if takes 3 arguments, got %d", len(n.args))
		}
		cond, err := n.args[0].eval(values)
		if err != nil {
			return nil, err
		}
		if truthy(cond) {
			return n.args[1].eval(values)
		}
		return n.args[2].eval(values)

	case "coalesce":
		if len(n.args) < 2 {
			return nil, fmt.Errorf("coalesce takes at least 2 arguments")
		}
		for _, arg := range n.args {
			value, err := arg.eval(values)
			if err != nil {
				return nil, err
			}
			if value != nil {
				return value, nil
			}
		}
		return nil, nil

	case "len":
		if len(n.args) != 1 {
			return nil, fmt.Errorf("len takes 1 argument, got %d", len(n.args))
		}
		value, err := n.args[0].eval(values)
		if err != nil {
			return nil, err
		}
		switch v := value.(type) {
		case string:
			return float64(len(v)), nil
		case []interface{}:
			return float64(len(v)), nil
		case map[string]interface{}:
			return float64(len(v)), nil
		}
		return nil, fmt.Errorf("len of %T is undefined", value)

	case "concat":
		var b strings.Builder
		for _, arg := range n.args {
			value, err := arg.eval(values)
			if err != nil {
				return nil, err
			}
			b.WriteString(stringify(value))
		}
		return b.String(), nil
	}
	return nil, fmt.Errorf("unknown function %q", n.fn)
}

func truthyOperand(n exprNode, values map[string]interface{}) (bool, error) {
	value, err := n.eval(values)
	if err != nil {
		return false, err
	}
	return truthy(value), nil
}

func truthyOperandValue(n exprNode, values map[string]interface{}) (interface{}, error) {
	b, err := truthyOperand(n, values)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func truthy(v interface{}) bool {
	switch value := v.(type) {
	case nil:
		return false
	case bool:
		return value
	case float64:
		return value != 0
	case string:
		return value != ""
	}
	return true
}

func stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	if f, ok := v.(float64); ok && f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return fmt.Sprintf("%v", v)
}

func operandNumber(v interface{}) (float64, error) {
	switch value := v.(type) {
	case float64:
		return value, nil
	case float32:
		return float64(value), nil
	case int:
		return float64(value), nil
	case int64:
		return float64(value), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", value)
		}
		return f, nil
	case bool:
		if value {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("cannot use %T as a number", v)
}

func arith(op string, lhs, rhs interface{}) (interface{}, error) {
	l, err := operandNumber(lhs)
	if err != nil {
		return nil, err
	}
	r, err := operandNumber(rhs)
	if err != nil {
		return nil, err
	}
	switch op {
	case "+":
		return l + r, nil
	case "-":
		return l - r, nil
	case "*":
		return l * r, nil
	case "/":
		if r == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return l / r, nil
	case "%":
		if r == 0 {
			return nil, fmt.Errorf("modulo by zero")
		}
		return math.Mod(l, r), nil
	}
	return nil, fmt.Errorf("unknown arithmetic operator %q", op)
}

func compare(op string, lhs, rhs interface{}) (interface{}, error) {
	if op == "==" || op == "!=" {
		eq := equalValues(lhs, rhs)
		if op == "!=" {
			return !eq, nil
		}
		return eq, nil
	}

	var cmp int
	ln, lerr := operandNumber(lhs)
	rn, rerr := operandNumber(rhs)
	switch {
	case lerr == nil && rerr == nil:
		switch {
		case ln < rn:
			cmp = -1
		case ln > rn:
			cmp = 1
		}
	default:
		ls, lok := lhs.(string)
		rs, rok := rhs.(string)
		if !lok || !rok {
			return nil, fmt.Errorf("cannot compare %T with %T", lhs, rhs)
		}
		cmp = strings.Compare(ls, rs)
	}

	switch op {
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	}
	return nil, fmt.Errorf("unknown comparison %q", op)
}

func equalValues(lhs, rhs interface{}) bool {
	if lhs == nil || rhs == nil {
		return lhs == nil && rhs == nil
	}
	if ln, err := operandNumber(lhs); err == nil {
		if rn, err := operandNumber(rhs); err == nil {
			return ln == rn
		}
	}
	return fmt.Sprintf("%v", lhs) == fmt.Sprintf("%v", rhs)
}

// ---- Lexer ----

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokField
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	src    string
	pos    int
	tokens []token
}

func newLexer(src string) *lexer { return &lexer{src: src} }

func (lx *lexer) lex() error {
	for lx.pos < len(lx.src) {
		ch := lx.src[lx.pos]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			lx.pos++
		case ch == '(':
			lx.emit(tokLParen, "(")
		case ch == ')':
			lx.emit(tokRParen, ")")
		case ch == ',':
			lx.emit(tokComma, ",")
		case ch == '#':
			if err := lx.lexField(); err != nil {
				return err
			}
		case ch == '\'' || ch == '"':
			if err := lx.lexString(ch); err != nil {
				return err
			}
		case ch >= '0' && ch <= '9':
			lx.lexNumber()
		case isIdentStart(rune(ch)):
			lx.lexIdent()
		default:
			if err := lx.lexOperator(); err != nil {
				return err
			}
		}
	}
	lx.tokens = append(lx.tokens, token{kind: tokEOF, pos: lx.pos})
	return nil
}

func (lx *lexer) emit(kind tokenKind, text string) {
	lx.tokens = append(lx.tokens, token{kind: kind, text: text, pos: lx.pos})
	lx.pos += len(text)
}

func (lx *lexer) lexField() error {
	start := lx.pos
	lx.pos++ // '#'
	for lx.pos < len(lx.src) && isIdentPart(rune(lx.src[lx.pos])) {
		lx.pos++
	}
	name := lx.src[start+1 : lx.pos]
	if name == "" {
		return fmt.Errorf("position %d: '#' must be followed by a field name", start)
	}
	lx.tokens = append(lx.tokens, token{kind: tokField, text: name, pos: start})
	return nil
}

func (lx *lexer) lexString(quote byte) error {
	start := lx.pos
	lx.pos++
	for lx.pos < len(lx.src) && lx.src[lx.pos] != quote {
		lx.pos++
	}
	if lx.pos >= len(lx.src) {
		return fmt.Errorf("position %d: unterminated string", start)
	}
	lx.tokens = append(lx.tokens, token{kind: tokString, text: lx.src[start+1 : lx.pos], pos: start})
	lx.pos++
	return nil
}

func (lx *lexer) lexNumber() {
	start := lx.pos
	for lx.pos < len(lx.src) && (lx.src[lx.pos] >= '0' && lx.src[lx.pos] <= '9' || lx.src[lx.pos] == '.') {
		lx.pos++
	}
	lx.tokens = append(lx.tokens, token{kind: tokNumber, text: lx.src[start:lx.pos], pos: start})
}

func (lx *lexer) lexIdent() {
	start := lx.pos
	for lx.pos < len(lx.src) && isIdentPart(rune(lx.src[lx.pos])) {
		lx.pos++
	}
	lx.tokens = append(lx.tokens, token{kind: tokIdent, text: lx.src[start:lx.pos], pos: start})
}

func (lx *lexer) lexOperator() error {
	two := ""
	if lx.pos+1 < len(lx.src) {
		two = lx.src[lx.pos : lx.pos+2]
	}
	switch two {
	case "==", "!=", "<=", ">=":
		lx.emit(tokOp, two)
		return nil
	}
	one := string(lx.src[lx.pos])
	switch one {
	case "+", "-", "*", "/", "%", "<", ">":
		lx.emit(tokOp, one)
		return nil
	case "=":
		// Accept a single '=' as equality.
		lx.tokens = append(lx.tokens, token{kind: tokOp, text: "==", pos: lx.pos})
		lx.pos++
		return nil
	}
	return fmt.Errorf("position %d: unexpected character %q", lx.pos, one)
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || r == '.' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// ---- Pratt parser ----

type exprParser struct {
	lexer *lexer
	pos   int
}

func (p *exprParser) parse() (exprNode, error) {
	if err := p.lexer.lex(); err != nil {
		return nil, err
	}
	node, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("position %d: unexpected %q", tok.pos, tok.text)
	}
	return node, nil
}

func (p *exprParser) peek() token { return p.lexer.tokens[p.pos] }
func (p *exprParser) next() token {
	tok := p.lexer.tokens[p.pos]
	p.pos++
	return tok
}

// bindingPower returns the left binding power of an infix token, 0 for
// non-infix tokens.
func bindingPower(tok token) int {
	if tok.kind == tokIdent {
		switch tok.text {
		case "or":
			return 10
		case "and":
			return 20
		}
		return 0
	}
	if tok.kind != tokOp {
		return 0
	}
	switch tok.text {
	case "==", "!=", "<", "<=", ">", ">=":
		return 30
	case "+", "-":
		return 40
	case "*", "/", "%":
		return 50
	}
	return 0
}

func (p *exprParser) parseExpr(minBP int) (exprNode, error) {
	lhs, err := p.parsePrefix()
	if err != nil {
		return nil, err
	}

	for {
		tok := p.peek()
		bp := bindingPower(tok)
		if bp == 0 || bp <= minBP {
			break
		}
		p.next()
		rhs, err := p.parseExpr(bp)
		if err != nil {
			return nil, err
		}
		lhs = &binaryExpr{op: tok.text, lhs: lhs, rhs: rhs}
	}
	return lhs, nil
}

func (p *exprParser) parsePrefix() (exprNode, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("position %d: invalid number %q", tok.pos, tok.text)
		}
		return &numberLit{value: f}, nil

	case tokString:
		return &stringLit{value: tok.text}, nil

	case tokField:
		return &fieldRef{name: tok.text}, nil

	case tokLParen:
		inner, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, fmt.Errorf("position %d: expected \")\"", closing.pos)
		}
		return inner, nil

	case tokOp:
		if tok.text == "-" {
			operand, err := p.parseExpr(60)
			if err != nil {
				return nil, err
			}
			return &unaryExpr{op: "-", operand: operand}, nil
		}

	case tokIdent:
		switch tok.text {
		case "true":
			return &boolLit{value: true}, nil
		case "false":
			return &boolLit{value: false}, nil
		case "null":
			return &nullLit{}, nil
		case "not":
			operand, err := p.parseExpr(25)
			if err != nil {
				return nil, err
			}
			return &unaryExpr{op: "not", operand: operand}, nil
		}
		if p.peek().kind == tokLParen {
			return p.parseCall(tok.text)
		}
		return nil, fmt.Errorf("position %d: bare identifier %q; field references use '#'", tok.pos, tok.text)
	}
	return nil, fmt.Errorf("position %d: unexpected %q", tok.pos, tok.text)
}

func (p *exprParser) parseCall(fn string) (exprNode, error) {
	p.next() // '('
	call := &callExpr{fn: fn}
	if p.peek().kind == tokRParen {
		p.next()
		return call, nil
	}
	for {
		arg, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		call.args = append(call.args, arg)
		tok := p.next()
		if tok.kind == tokRParen {
			return call, nil
		}
		if tok.kind != tokComma {
			return nil, fmt.Errorf("position %d: expected \",\" or \")\"", tok.pos)
		}
	}
}
