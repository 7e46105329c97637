package mapper

import (
	"fmt"
)

// Extract applies a path expression to a response object and returns
// the selected value. Extraction is total over the grammar: any
// well-formed path either returns a value or fails with a MappingError
// whose FailingPath identifies the step that broke.
func Extract(root interface{}, expr string) (interface{}, error) {
	segments, err := parsePath(expr)
	if err != nil {
		return nil, err
	}

	w := walker{expr: expr}
	return w.walk(root, segments)
}

type walker struct {
	expr string
	path string
}

func (w *walker) walk(current interface{}, segments []segment) (interface{}, error) {
	for si, seg := range segments {
		w.extend(seg.source)

		if seg.name != "" {
			next, err := w.readProperty(current, seg.name)
			if err != nil {
				return nil, err
			}
			current = next
		}

		for bi, op := range seg.brackets {
			switch op.kind {
			case accessIndex:
				list, ok := asList(current)
				if !ok {
					return nil, w.fail(KindIndexOutOfBounds,
						fmt.Sprintf("%s is not a list", describe(current)),
						"index into a list value")
				}
				if op.index >= len(list) {
					return nil, w.fail(KindIndexOutOfBounds,
						fmt.Sprintf("index %d out of range for list of %d", op.index, len(list)),
						fmt.Sprintf("use an index below %d", len(list)))
				}
				current = list[op.index]

			case accessFilter:
				next, err := w.filter(current, op)
				if err != nil {
					return nil, err
				}
				current = next

			case accessWildcard:
				list, ok := asList(current)
				if !ok {
					return nil, w.fail(KindIndexOutOfBounds,
						fmt.Sprintf("%s is not a list", describe(current)),
						"apply [*] to a list value")
				}
				// The remainder of the path maps over each element.
				rest := remainder(seg, bi, segments, si)
				if len(rest) == 0 {
					return list, nil
				}
				out := make([]interface{}, 0, len(list))
				for _, item := range list {
					sub := walker{expr: w.expr, path: w.path}
					value, err := sub.walk(item, rest)
					if err != nil {
						return nil, err
					}
					out = append(out, value)
				}
				return out, nil
			}
		}
	}
	return current, nil
}

// remainder builds the path left after a wildcard: the trailing
// brackets of the current segment plus all following segments.
func remainder(seg segment, bi int, segments []segment, si int) []segment {
	var rest []segment
	if trailing := seg.brackets[bi+1:]; len(trailing) > 0 {
		rest = append(rest, segment{brackets: trailing, source: seg.source})
	}
	return append(rest, segments[si+1:]...)
}

func (w *walker) readProperty(current interface{}, name string) (interface{}, error) {
	value, found, err := property(current, name)
	switch {
	case err == errNilContainer:
		return nil, w.fail(KindNullValue,
			fmt.Sprintf("cannot read %q of null", name),
			"guard the upstream value or fix the response shape")
	case err == errMapKeyMissing:
		return nil, w.fail(KindMapKeyMissing,
			fmt.Sprintf("key %q not present", name),
			"check the response for the expected key")
	case err != nil:
		return nil, w.fail(KindPropertyNotFound, err.Error(), "")
	case !found:
		return nil, w.fail(KindPropertyNotFound,
			fmt.Sprintf("no property %q on %s", name, describe(current)),
			"check the property name against the response type")
	}
	return value, nil
}

func (w *walker) filter(current interface{}, op bracketOp) (interface{}, error) {
	list, ok := asList(current)
	if !ok {
		return nil, w.fail(KindNoMatchInFilter,
			fmt.Sprintf("%s is not a list", describe(current)),
			"apply filters to list values")
	}
	for _, item := range list {
		value, found, err := property(item, op.key)
		if err != nil || !found {
			continue
		}
		if fmt.Sprintf("%v", value) == op.value {
			return item, nil
		}
	}
	return nil, w.fail(KindNoMatchInFilter,
		fmt.Sprintf("no element with %s=%s", op.key, op.value),
		"check the filter key and literal against the response data")
}

func (w *walker) extend(source string) {
	if w.path == "" {
		w.path = source
		return
	}
	if len(source) > 0 && source[0] == '[' {
		w.path += source
		return
	}
	w.path += "." + source
}

func (w *walker) fail(kind ErrorKind, msg, suggestion string) error {
	return newError(w.expr, w.path, kind, msg, suggestion)
}

func describe(v interface{}) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%T", v)
}
