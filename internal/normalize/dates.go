package normalize

import (
	"strings"
	"time"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02",
	"2006/01/02",
}

// normalizeDate converts a source date to RFC 3339 in UTC.
// Unparseable values are passed through unchanged; blanks become nil.
func normalizeDate(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			out := t.UTC().Format(time.RFC3339)
			return &out
		}
	}
	return &s
}

// firstDate returns the first non-blank candidate, normalized.
func firstDate(candidates ...string) *string {
	for _, c := range candidates {
		if d := normalizeDate(c); d != nil {
			return d
		}
	}
	return nil
}
