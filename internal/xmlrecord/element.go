package xmlrecord

import "strings"

// Attr is one attribute of an element, by local name.
type Attr struct {
	Name  string
	Value string
}

// Element is a generic XML subtree. Namespace prefixes are dropped.
type Element struct {
	Name     string
	Attrs    []Attr
	Children []*Element
	Text     string
}

// Attr returns the value of the named attribute, or "".
func (e *Element) Attr(name string) string {
	for _, a := range e.Attrs {
		if a.Name == name {
			return a.Value
		}
	}
	return ""
}

// Child returns the first direct child with the given name, or nil.
func (e *Element) Child(name string) *Element {
	for _, c := range e.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ContentKey holds element text in the map form when the element also has
// attributes or children.
const ContentKey = "content"

// Value converts the subtree into plain maps, slices and strings.
//
// Attributes become keys, repeated children become a []any in document
// order, an element with only text becomes a string, and an empty element
// becomes nil. Text next to attributes or children is kept under ContentKey.
func (e *Element) Value() any {
	text := strings.TrimSpace(e.Text)
	if len(e.Attrs) == 0 && len(e.Children) == 0 {
		if text == "" {
			return nil
		}
		return text
	}

	m := make(map[string]any, len(e.Attrs)+len(e.Children)+1)
	for _, a := range e.Attrs {
		m[a.Name] = a.Value
	}
	for _, c := range e.Children {
		v := c.Value()
		existing, ok := m[c.Name]
		if !ok {
			m[c.Name] = v
			continue
		}
		// Element values are never slices, so a slice here was built by an earlier sibling.
		if list, isList := existing.([]any); isList {
			m[c.Name] = append(list, v)
			continue
		}
		m[c.Name] = []any{existing, v}
	}
	if text != "" {
		m[ContentKey] = text
	}
	return m
}

// Map returns the record as a single-key map {Name: Value()}.
func (e *Element) Map() map[string]any {
	return map[string]any{e.Name: e.Value()}
}
