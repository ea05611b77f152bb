package bulkfile

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sha1n/ddbj-search/internal/domain"
)

// DefaultBatchSize is the number of documents buffered before a flush.
const DefaultBatchSize = 10000

// Extension is the suffix of bulk-pair output files.
const Extension = ".jsonl"

// Action addresses one document in an index.
type Action struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

// Header is the action line preceding a body in a bulk-pair file.
type Header struct {
	Index  *Action `json:"index,omitempty"`
	Delete *Action `json:"delete,omitempty"`
}

// ID returns the document id of whichever action is set.
func (h Header) ID() string {
	switch {
	case h.Index != nil:
		return h.Index.ID
	case h.Delete != nil:
		return h.Delete.ID
	}
	return ""
}

// WriterStats counts what a Writer emitted.
type WriterStats struct {
	Written    int
	Duplicates int
	Batches    int
}

// Writer appends documents to a bulk-pair file in batches.
// Identifiers are unique within a batch; a repeated identifier replaces the
// earlier document of the same batch. Output goes to a temporary file that
// Close renames into place, so readers never see a partial file.
type Writer struct {
	path      string
	tmpPath   string
	index     string
	batchSize int

	file *os.File
	buf  *bufio.Writer
	enc  *json.Encoder

	pending []*domain.Document
	pos     map[string]int
	stats   WriterStats
}

// Create opens a writer for path. Documents are addressed to index.
func Create(path, index string, batchSize int) (*Writer, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", tmpPath, err)
	}

	buf := bufio.NewWriterSize(f, 1<<20)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)

	return &Writer{
		path:      path,
		tmpPath:   tmpPath,
		index:     index,
		batchSize: batchSize,
		file:      f,
		buf:       buf,
		enc:       enc,
		pos:       make(map[string]int),
	}, nil
}

// Path returns the final output path.
func (w *Writer) Path() string {
	return w.path
}

// Add buffers doc and flushes once the batch is full.
func (w *Writer) Add(doc *domain.Document) error {
	if doc == nil || doc.Identifier == "" {
		return fmt.Errorf("document without identifier")
	}

	if i, ok := w.pos[doc.Identifier]; ok {
		w.pending[i] = doc
		w.stats.Duplicates++
		return nil
	}
	w.pos[doc.Identifier] = len(w.pending)
	w.pending = append(w.pending, doc)

	if len(w.pending) >= w.batchSize {
		return w.Flush()
	}
	return nil
}

// Flush writes the buffered batch.
func (w *Writer) Flush() error {
	if len(w.pending) == 0 {
		return nil
	}

	for _, doc := range w.pending {
		if err := w.enc.Encode(Header{Index: &Action{Index: w.index, ID: doc.Identifier}}); err != nil {
			return fmt.Errorf("write header for %s: %w", doc.Identifier, err)
		}
		body := *doc
		body.Identifier = ""
		if err := w.enc.Encode(&body); err != nil {
			return fmt.Errorf("write body for %s: %w", doc.Identifier, err)
		}
	}

	w.stats.Written += len(w.pending)
	w.stats.Batches++
	w.pending = w.pending[:0]
	clear(w.pos)
	return nil
}

// Close flushes, syncs and moves the output into place.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		w.Abort()
		return err
	}
	if err := w.buf.Flush(); err != nil {
		w.Abort()
		return fmt.Errorf("flush %s: %w", w.tmpPath, err)
	}
	if err := w.file.Sync(); err != nil {
		w.Abort()
		return fmt.Errorf("sync %s: %w", w.tmpPath, err)
	}
	if err := w.file.Close(); err != nil {
		_ = os.Remove(w.tmpPath)
		return fmt.Errorf("close %s: %w", w.tmpPath, err)
	}
	if err := os.Rename(w.tmpPath, w.path); err != nil {
		_ = os.Remove(w.tmpPath)
		return fmt.Errorf("rename %s: %w", w.path, err)
	}
	return nil
}

// Abort discards the output.
func (w *Writer) Abort() {
	_ = w.file.Close()
	_ = os.Remove(w.tmpPath)
}

// Stats returns the counts so far.
func (w *Writer) Stats() WriterStats {
	return w.stats
}

// OutputName maps an input file name to its output file name,
// dropping compression and XML extensions.
func OutputName(input string) string {
	base := filepath.Base(input)
	base = strings.TrimSuffix(base, ".gz")
	base = strings.TrimSuffix(base, ".xml")
	return base + Extension
}
