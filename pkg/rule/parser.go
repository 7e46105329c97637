package rule

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Parser limits.
const (
	DefaultMaxDepth  = 32
	DefaultMaxLeaves = 1000
)

// ParseError reports a rejected rule document.
type ParseError struct {
	// Path locates the offending node, e.g. "rules[1].rules[0]".
	Path string

	// Message describes the rejection.
	Message string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("rule parse error: %s", e.Message)
	}
	return fmt.Sprintf("rule parse error at %s: %s", e.Path, e.Message)
}

// ParserOptions bound the accepted rule shape.
type ParserOptions struct {
	// MaxDepth is the maximum tree depth (groups and leaves both count).
	MaxDepth int

	// MaxLeaves is the maximum number of leaf conditions.
	MaxLeaves int
}

// DefaultParserOptions returns the default bounds.
func DefaultParserOptions() ParserOptions {
	return ParserOptions{MaxDepth: DefaultMaxDepth, MaxLeaves: DefaultMaxLeaves}
}

// Parser parses rules from their canonical JSON form. It never evaluates.
type Parser struct {
	opts ParserOptions
}

// NewParser creates a parser with the given options; zero option fields
// fall back to defaults.
func NewParser(opts ParserOptions) *Parser {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.MaxLeaves <= 0 {
		opts.MaxLeaves = DefaultMaxLeaves
	}
	return &Parser{opts: opts}
}

// Parse parses the canonical JSON form into an immutable rule tree.
func (p *Parser) Parse(data []byte) (*Rule, error) {
	var raw rawNode
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if !raw.isGroup() {
		return nil, &ParseError{Message: "top-level rule must be a group with a combinator"}
	}
	if len(raw.Rules) == 0 {
		return nil, &ParseError{Message: "top-level group has no rules"}
	}

	leaves := 0
	root, err := p.buildGroup(&raw, "", 1, &leaves)
	if err != nil {
		return nil, err
	}
	return &Rule{root: root}, nil
}

// Parse parses a rule with default parser options.
func Parse(data []byte) (*Rule, error) {
	return NewParser(DefaultParserOptions()).Parse(data)
}

// rawNode is the permissive wire shape of both node kinds.
type rawNode struct {
	Combinator *string               `json:"combinator"`
	Rules      []jsoniter.RawMessage `json:"rules"`
	Field      *string               `json:"field"`
	Operator   string                `json:"operator"`
	Value      interface{}           `json:"value"`
}

func (r *rawNode) isGroup() bool {
	return r.Combinator != nil
}

func (p *Parser) buildGroup(raw *rawNode, path string, depth int, leaves *int) (*Group, error) {
	if depth > p.opts.MaxDepth {
		return nil, &ParseError{Path: path, Message: fmt.Sprintf("rule tree deeper than %d", p.opts.MaxDepth)}
	}

	var combinator Combinator
	switch Combinator(*raw.Combinator) {
	case CombinatorAnd:
		combinator = CombinatorAnd
	case CombinatorOr:
		combinator = CombinatorOr
	default:
		return nil, &ParseError{Path: path, Message: fmt.Sprintf("unknown combinator %q", *raw.Combinator)}
	}

	group := &Group{Combinator: combinator, Rules: make([]Node, 0, len(raw.Rules))}
	for i, childData := range raw.Rules {
		childPath := fmt.Sprintf("%srules[%d]", dotted(path), i)

		var child rawNode
		if err := json.Unmarshal(childData, &child); err != nil {
			return nil, &ParseError{Path: childPath, Message: fmt.Sprintf("invalid node: %v", err)}
		}

		if child.isGroup() {
			sub, err := p.buildGroup(&child, childPath, depth+1, leaves)
			if err != nil {
				return nil, err
			}
			group.Rules = append(group.Rules, sub)
			continue
		}

		cond, err := p.buildCondition(&child, childPath, depth+1, leaves)
		if err != nil {
			return nil, err
		}
		group.Rules = append(group.Rules, cond)
	}
	return group, nil
}

func (p *Parser) buildCondition(raw *rawNode, path string, depth int, leaves *int) (*Condition, error) {
	if depth > p.opts.MaxDepth {
		return nil, &ParseError{Path: path, Message: fmt.Sprintf("rule tree deeper than %d", p.opts.MaxDepth)}
	}
	if raw.Field == nil {
		return nil, &ParseError{Path: path, Message: "node is neither a group nor a condition"}
	}
	if *raw.Field == "" {
		return nil, &ParseError{Path: path, Message: "condition has an empty field name"}
	}
	op := Operator(raw.Operator)
	if !KnownOperator(op) {
		return nil, &ParseError{Path: path, Message: fmt.Sprintf("unknown operator %q", raw.Operator)}
	}

	*leaves++
	if *leaves > p.opts.MaxLeaves {
		return nil, &ParseError{Path: path, Message: fmt.Sprintf("rule has more than %d conditions", p.opts.MaxLeaves)}
	}

	return &Condition{Field: *raw.Field, Operator: op, Value: raw.Value}, nil
}

func dotted(path string) string {
	if path == "" {
		return ""
	}
	return path + "."
}

// Serialize renders the rule back to its canonical JSON form. The output
// round-trips: Parse(Serialize(r)) is structurally equal to r.
func Serialize(r *Rule) ([]byte, error) {
	if r == nil || r.root == nil {
		return nil, &ParseError{Message: "nil rule"}
	}
	var buf bytes.Buffer
	if err := writeNode(&buf, r.root); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeNode(buf *bytes.Buffer, n Node) error {
	switch node := n.(type) {
	case *Group:
		fmt.Fprintf(buf, `{"combinator":%q,"rules":[`, node.Combinator)
		for i, child := range node.Rules {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeNode(buf, child); err != nil {
				return err
			}
		}
		buf.WriteString("]}")
		return nil
	case *Condition:
		value, err := json.Marshal(node.Value)
		if err != nil {
			return err
		}
		fmt.Fprintf(buf, `{"field":%q,"operator":%q,"value":%s`, node.Field, node.Operator, value)
		buf.WriteByte('}')
		return nil
	}
	return fmt.Errorf("unknown node type %T", n)
}

// CanonicalHash returns a stable hash of the rule's canonical JSON form,
// suitable as a cache key for parsed rules.
func CanonicalHash(r *Rule) (string, error) {
	data, err := Serialize(r)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
