package normalize

import (
	"strings"

	"github.com/sha1n/ddbj-search/internal/xmlrecord"
)

// AbbrKey is the short-name slot of a unified {abbr, content} object.
const AbbrKey = "abbr"

type shape int

const (
	// contentObjects turns every item into an object carrying its text under "content".
	contentObjects shape = iota
	// abbrObjects is contentObjects plus an "abbr" slot a bare string also fills.
	abbrObjects
	// collection only wraps a lone object into a list and is subject to the item cap.
	collection
)

// fieldRule names a field whose source shape varies between records.
type fieldRule struct {
	path  []string
	shape shape
}

func rule(s shape, path ...string) fieldRule {
	return fieldRule{path: path, shape: s}
}

// unifyObjects rewrites every rule's field into a list of objects and caps
// collections at limit items. It returns the number of truncated lists.
func unifyObjects(props map[string]any, rules []fieldRule, limit int) int {
	truncated := 0
	for _, r := range rules {
		updateAt(props, r.path, func(v any) any {
			list := asList(v)
			switch r.shape {
			case contentObjects:
				list = objects(list, false)
			case abbrObjects:
				list = objects(list, true)
			case collection:
				if limit > 0 && len(list) > limit {
					list = list[:limit]
					truncated++
				}
			}
			return list
		})
	}
	return truncated
}

// updateAt replaces the value at path with fn(value). Lists met on the way
// are traversed element by element; missing keys leave the tree unchanged.
func updateAt(node any, path []string, fn func(any) any) any {
	if len(path) == 0 {
		return fn(node)
	}
	switch n := node.(type) {
	case map[string]any:
		if v, ok := n[path[0]]; ok {
			n[path[0]] = updateAt(v, path[1:], fn)
		}
		return n
	case []any:
		for i := range n {
			n[i] = updateAt(n[i], path, fn)
		}
		return n
	default:
		return node
	}
}

func asList(v any) []any {
	switch t := v.(type) {
	case nil:
		return []any{}
	case []any:
		return t
	default:
		return []any{t}
	}
}

func objects(list []any, withAbbr bool) []any {
	out := make([]any, 0, len(list))
	for _, item := range list {
		switch t := item.(type) {
		case string:
			obj := map[string]any{xmlrecord.ContentKey: t}
			if withAbbr {
				obj[AbbrKey] = t
			}
			out = append(out, obj)
		case map[string]any:
			if withAbbr {
				if _, ok := t[AbbrKey]; !ok {
					t[AbbrKey] = nil
				}
			}
			if _, ok := t[xmlrecord.ContentKey]; !ok {
				t[xmlrecord.ContentKey] = nil
			}
			out = append(out, t)
		case nil:
		default:
			out = append(out, t)
		}
	}
	return out
}

// get walks path through maps, taking the first element of any list met.
func get(node any, path ...string) any {
	for _, key := range path {
		node = first(node)
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node = m[key]
	}
	return node
}

func first(node any) any {
	if l, ok := node.([]any); ok {
		if len(l) == 0 {
			return nil
		}
		return l[0]
	}
	return node
}

// text returns the string at path: a plain string, or the content slot of an object.
func text(node any, path ...string) string {
	switch v := first(get(node, path...)).(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		if s, ok := v[xmlrecord.ContentKey].(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// firstText returns the first non-empty text among the candidate paths.
func firstText(node any, paths ...[]string) string {
	for _, p := range paths {
		if s := text(node, p...); s != "" {
			return s
		}
	}
	return ""
}

// joinedText joins every string found at path, one per line.
func joinedText(node any, path ...string) string {
	var parts []string
	for _, item := range asList(get(node, path...)) {
		var s string
		switch v := item.(type) {
		case string:
			s = v
		case map[string]any:
			s, _ = v[xmlrecord.ContentKey].(string)
		}
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

func p(keys ...string) []string {
	return keys
}
