package mapper

import (
	"fmt"
	"strconv"
	"strings"
)

type accessKind int

const (
	accessNone accessKind = iota
	accessIndex
	accessFilter
	accessWildcard
)

// bracketOp is one "[...]" suffix on a segment.
type bracketOp struct {
	kind   accessKind
	index  int
	key    string
	value  string
	source string
}

// segment is one step of a path expression: an optional property name
// followed by zero or more bracket operations.
type segment struct {
	name     string
	brackets []bracketOp
	source   string
}

// parsePath splits an expression into segments. Segments are separated
// by dots outside brackets; a segment may also start with a bracket
// ("orders[0][1]" chains two index reads on one segment).
func parsePath(expr string) ([]segment, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, newError(expr, expr, KindInvalidExpr, "empty expression", "provide a non-empty path such as \"user.email\"")
	}

	var segments []segment
	rest := expr
	consumed := ""
	for rest != "" {
		end := segmentEnd(rest)
		raw := rest[:end]
		if raw == "" {
			return nil, newError(expr, consumed, KindInvalidExpr, "empty path segment", "remove the stray dot")
		}

		seg, err := parseSegment(expr, consumed, raw)
		if err != nil {
			return nil, err
		}
		if seg.name == "" && len(seg.brackets) > 0 && len(segments) == 0 {
			return nil, newError(expr, raw, KindInvalidExpr, "expression may not start with an index", "name the list before indexing it")
		}
		segments = append(segments, seg)

		consumed += raw
		rest = rest[end:]
		if strings.HasPrefix(rest, ".") {
			consumed += "."
			rest = rest[1:]
			if rest == "" {
				return nil, newError(expr, consumed, KindInvalidExpr, "expression ends with a dot", "remove the trailing dot")
			}
		}
	}
	return segments, nil
}

// segmentEnd finds the offset of the dot that terminates the current
// segment, honoring bracket nesting.
func segmentEnd(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
		case '.':
			if depth == 0 {
				return i
			}
		}
	}
	return len(s)
}

func parseSegment(expr, prefix, raw string) (segment, error) {
	seg := segment{source: raw}

	body := raw
	if i := strings.IndexByte(body, '['); i >= 0 {
		seg.name = body[:i]
		body = body[i:]
	} else {
		seg.name = body
		body = ""
	}

	if strings.ContainsAny(seg.name, "]=") {
		return seg, newError(expr, prefix+raw, KindInvalidExpr,
			fmt.Sprintf("malformed segment %q", raw), "check bracket placement")
	}

	for body != "" {
		if body[0] != '[' {
			return seg, newError(expr, prefix+raw, KindInvalidExpr,
				fmt.Sprintf("unexpected %q after bracket", string(body[0])), "separate segments with a dot")
		}
		close := strings.IndexByte(body, ']')
		if close < 0 {
			return seg, newError(expr, prefix+raw, KindInvalidExpr, "unterminated bracket", "add the closing \"]\"")
		}
		inner := body[1:close]
		op, err := parseBracket(expr, prefix+raw, inner)
		if err != nil {
			return seg, err
		}
		seg.brackets = append(seg.brackets, op)
		body = body[close+1:]
	}
	return seg, nil
}

func parseBracket(expr, failing, inner string) (bracketOp, error) {
	op := bracketOp{source: "[" + inner + "]"}
	inner = strings.TrimSpace(inner)

	switch {
	case inner == "*":
		op.kind = accessWildcard
	case strings.Contains(inner, "="):
		parts := strings.SplitN(inner, "=", 2)
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			return op, newError(expr, failing, KindInvalidExpr, "filter with empty key", "use [key=value]")
		}
		// Quoted literals compare by their unquoted form.
		value = strings.Trim(value, `"'`)
		op.kind = accessFilter
		op.key = key
		op.value = value
	default:
		n, err := strconv.Atoi(inner)
		if err != nil || n < 0 {
			return op, newError(expr, failing, KindInvalidExpr,
				fmt.Sprintf("invalid index %q", inner), "use a non-negative integer, [key=value] or [*]")
		}
		op.kind = accessIndex
		op.index = n
	}
	return op, nil
}
