package bulkfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// ManifestVersion is the current schema version
	ManifestVersion = 1

	// ManifestFilename is the manifest written next to the output files
	ManifestFilename = "manifest.json"
)

// Manifest records one conversion run into an output directory.
type Manifest struct {
	Version    int                  `json:"version"`
	RunID      string               `json:"run_id"`
	Category   string               `json:"category"`
	Index      string               `json:"index"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at,omitzero"`
	Files      map[string]FileStats `json:"files"`
	mu         sync.RWMutex         `json:"-"`
}

// FileStats records the outcome of converting one input file.
type FileStats struct {
	Source         string         `json:"source"`
	Records        int            `json:"records"`
	Written        int            `json:"written"`
	Duplicates     int            `json:"duplicates"`
	Skipped        map[string]int `json:"skipped,omitempty"`
	Truncated      int            `json:"truncated"`
	XrefsTruncated int            `json:"xrefs_truncated"`
	XrefFailures   int            `json:"xref_failures"`
	Recovered      int            `json:"recovered"`
	Error          string         `json:"error,omitempty"`
}

// NewManifest starts a manifest for a new run with a fresh run id.
func NewManifest(category, index string) *Manifest {
	return &Manifest{
		Version:   ManifestVersion,
		RunID:     uuid.NewString(),
		Category:  category,
		Index:     index,
		StartedAt: time.Now().UTC(),
		Files:     make(map[string]FileStats),
	}
}

// LoadManifest reads a manifest from disk.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.Files == nil {
		m.Files = make(map[string]FileStats)
	}
	return &m, nil
}

// Save writes the manifest atomically via a temporary file and rename.
func (m *Manifest) Save(path string) error {
	m.mu.RLock()
	data, err := json.MarshalIndent(m, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename manifest file: %w", err)
	}
	return nil
}

// SetFile records the stats of one output file. Safe for concurrent use.
func (m *Manifest) SetFile(name string, stats FileStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Files[name] = stats
}

// File returns the stats recorded for an output file.
func (m *Manifest) File(name string) (FileStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.Files[name]
	return s, ok
}

// FileNames returns the recorded output files in sorted order.
func (m *Manifest) FileNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.Files))
	for name := range m.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Failed returns the files whose conversion ended in an error.
func (m *Manifest) Failed() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]string)
	for name, s := range m.Files {
		if s.Error != "" {
			result[name] = s.Error
		}
	}
	return result
}

// Totals sums the per-file counts.
func (m *Manifest) Totals() FileStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := FileStats{Skipped: make(map[string]int)}
	for _, s := range m.Files {
		total.Records += s.Records
		total.Written += s.Written
		total.Duplicates += s.Duplicates
		total.Truncated += s.Truncated
		total.XrefsTruncated += s.XrefsTruncated
		total.XrefFailures += s.XrefFailures
		total.Recovered += s.Recovered
		for reason, n := range s.Skipped {
			total.Skipped[reason] += n
		}
	}
	return total
}

// Finish stamps the end of the run.
func (m *Manifest) Finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FinishedAt = time.Now().UTC()
}
