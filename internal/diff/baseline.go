package diff

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// generationLayouts are the accepted names of dated generation directories.
var generationLayouts = []string{"20060102", "2006-01-02"}

// GenerationDate parses a dated directory name.
func GenerationDate(name string) (time.Time, bool) {
	for _, layout := range generationLayouts {
		if t, err := time.Parse(layout, name); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ResolveBaseline returns the newest dated sibling of curr that is older
// than curr, or "" when curr is not dated or has no older sibling.
func ResolveBaseline(curr string) (string, error) {
	curr = filepath.Clean(curr)
	currDate, ok := GenerationDate(filepath.Base(curr))
	if !ok {
		return "", nil
	}

	parent := filepath.Dir(curr)
	entries, err := os.ReadDir(parent)
	if err != nil {
		return "", fmt.Errorf("failed to list generations in %s: %w", parent, err)
	}

	type generation struct {
		name string
		date time.Time
	}
	var older []generation
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		date, ok := GenerationDate(entry.Name())
		if !ok || !date.Before(currDate) {
			continue
		}
		older = append(older, generation{entry.Name(), date})
	}
	if len(older) == 0 {
		return "", nil
	}

	sort.Slice(older, func(i, j int) bool {
		if older[i].date.Equal(older[j].date) {
			return older[i].name > older[j].name
		}
		return older[i].date.After(older[j].date)
	})
	return filepath.Join(parent, older[0].name), nil
}
