package bulkfile

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"iter"
)

// MaxLineSize bounds one JSON line; documents with large properties trees can be big.
const MaxLineSize = 64 * 1024 * 1024

// Entry is one document read from a bulk-pair or plain line-delimited file.
type Entry struct {
	// ID is the document key. Empty means the entry carries no usable key.
	ID   string
	Body json.RawMessage
	Line int

	// Delete marks an entry read from a delete action; it has no body.
	Delete bool

	// Problem explains why ID is empty.
	Problem string
}

// ReadEntries yields the documents of r. Both formats are accepted, even
// mixed: an action header followed by its body, a delete header on its own,
// or a bare body keyed by its "identifier" field. Entries without a key are yielded with Problem set.
func ReadEntries(r io.Reader) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 1<<20), MaxLineSize)
		lineNo := 0

		next := func() ([]byte, bool) {
			for scanner.Scan() {
				lineNo++
				line := bytes.TrimSpace(scanner.Bytes())
				if len(line) > 0 {
					return line, true
				}
			}
			return nil, false
		}

		for {
			line, ok := next()
			if !ok {
				break
			}

			entry := Entry{Line: lineNo}
			var probe map[string]json.RawMessage
			if err := json.Unmarshal(line, &probe); err != nil {
				entry.Problem = "invalid JSON"
				if !yield(entry, nil) {
					return
				}
				continue
			}

			if header, isHeader := parseHeader(probe); isHeader {
				entry.ID = header.ID()
				if header.Delete != nil {
					entry.Delete = true
					if entry.ID == "" {
						entry.Problem = "action header without _id"
					}
					if !yield(entry, nil) {
						return
					}
					continue
				}
				body, ok := next()
				if !ok {
					entry.ID = ""
					entry.Problem = "action header without body"
					yield(entry, nil)
					return
				}
				entry.Body = append(json.RawMessage(nil), body...)
				if entry.ID == "" {
					entry.Problem = "action header without _id"
				}
				if !yield(entry, nil) {
					return
				}
				continue
			}

			var id string
			if raw, ok := probe["identifier"]; ok {
				_ = json.Unmarshal(raw, &id)
			}
			entry.ID = id
			entry.Body = append(json.RawMessage(nil), line...)
			if id == "" {
				entry.Problem = "missing identifier"
			}
			if !yield(entry, nil) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			yield(Entry{}, fmt.Errorf("read line %d: %w", lineNo+1, err))
		}
	}
}

func parseHeader(probe map[string]json.RawMessage) (Header, bool) {
	if len(probe) != 1 {
		return Header{}, false
	}
	for name, raw := range probe {
		var a Action
		if err := json.Unmarshal(raw, &a); err != nil {
			return Header{}, false
		}
		switch name {
		case "index":
			return Header{Index: &a}, true
		case "delete":
			return Header{Delete: &a}, true
		}
	}
	return Header{}, false
}
