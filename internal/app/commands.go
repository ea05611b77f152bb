package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sha1n/ddbj-search/internal/bulkfile"
	"github.com/sha1n/ddbj-search/internal/bulksync"
	"github.com/sha1n/ddbj-search/internal/config"
	"github.com/sha1n/ddbj-search/internal/convert"
	"github.com/sha1n/ddbj-search/internal/diff"
	"github.com/sha1n/ddbj-search/internal/domain"
	"github.com/sha1n/ddbj-search/internal/relstore"
	"github.com/sha1n/ddbj-search/internal/searchindex"
	"github.com/sha1n/ddbj-search/internal/xref"
)

// ErrPartialFailure is returned when a sync or delete finished with failed documents.
var ErrPartialFailure = errors.New("some documents could not be applied")

// XML inputs accepted by convert.
var xmlPatterns = []string{"*.xml", "*.xml.gz"}

// collectInputs returns the sorted, de-duplicated union of the files in dir
// matching patterns and the explicitly named files.
func collectInputs(dir string, files []string, patterns ...string) ([]string, error) {
	if dir == "" && len(files) == 0 {
		return nil, errors.New("one of --dir or --file is required")
	}

	var inputs []string
	if dir != "" {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("input directory: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", dir)
		}
		for _, p := range patterns {
			matches, err := filepath.Glob(filepath.Join(dir, p))
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, matches...)
		}
		if len(inputs) == 0 {
			return nil, fmt.Errorf("no files matching %s in %s", strings.Join(patterns, ", "), dir)
		}
	}
	inputs = append(inputs, files...)

	slices.Sort(inputs)
	return slices.Compact(inputs), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func relationOptions(s *config.Settings) relstore.Options {
	return relstore.Options{Driver: s.Relations.Driver, DSN: s.Relations.DSN}
}

// ConvertOptions selects the inputs and output of a conversion.
type ConvertOptions struct {
	Category string
	Index    string
	Dir      string
	Files    []string
	OutDir   string
}

// ConvertSummary is printed after a conversion.
type ConvertSummary struct {
	RunID    string             `json:"run_id"`
	Manifest string             `json:"manifest"`
	Totals   bulkfile.FileStats `json:"totals"`
	Failed   map[string]string  `json:"failed,omitempty"`
}

// RunConvert converts XML exports into bulk files.
func RunConvert(ctx context.Context, s *config.Settings, o ConvertOptions, w io.Writer) error {
	category, err := domain.ParseCategory(o.Category)
	if err != nil {
		return err
	}
	if o.OutDir == "" {
		return errors.New("--out is required")
	}
	inputs, err := collectInputs(o.Dir, o.Files, xmlPatterns...)
	if err != nil {
		return err
	}

	manifest, runErr := convert.Run(ctx, convert.Options{
		Category:           category,
		Index:              o.Index,
		OutDir:             o.OutDir,
		Workers:            s.Workers,
		BatchSize:          s.Convert.BatchSize,
		MaxCollectionItems: s.Convert.MaxCollectionItems,
		Recover:            s.Convert.Recover,
		Center:             strings.ToUpper(s.Convert.Center),
		Relations:          relationOptions(s),
		RowLimit:           s.Relations.RowLimit,
		LockTimeout:        s.Relations.LockTimeout,
		Logger:             slog.Default(),
	}, inputs)
	if manifest != nil {
		summary := ConvertSummary{
			RunID:    manifest.RunID,
			Manifest: filepath.Join(o.OutDir, bulkfile.ManifestFilename),
			Totals:   manifest.Totals(),
			Failed:   manifest.Failed(),
		}
		if err := writeJSON(w, summary); err != nil {
			return err
		}
	}
	return runErr
}

// DiffOptions names the generations to compare.
type DiffOptions struct {
	Prev    string
	Curr    string
	Pattern string
}

func changedFiles(ctx context.Context, s *config.Settings, o DiffOptions) (diff.Result, error) {
	if o.Curr == "" {
		return diff.Result{}, errors.New("--curr is required")
	}
	pattern := o.Pattern
	if pattern == "" {
		pattern = diff.DefaultPattern
	}
	engine, err := diff.New(pattern, diff.WithWorkers(s.Workers), diff.WithLogger(slog.Default()))
	if err != nil {
		return diff.Result{}, err
	}
	return engine.Changed(ctx, o.Prev, o.Curr)
}

// RunDiff prints the files of the current generation that need syncing, one per line.
func RunDiff(ctx context.Context, s *config.Settings, o DiffOptions, w io.Writer) error {
	res, err := changedFiles(ctx, s, o)
	if err != nil {
		return err
	}
	for _, f := range res.Files {
		if _, err := fmt.Fprintln(w, f); err != nil {
			return err
		}
	}
	slog.Info("Diff complete", "baseline", res.Baseline, "full_mode", res.FullMode,
		"changed", len(res.Files), "skipped", len(res.Skipped))
	return nil
}

// SyncOptions selects the bulk files pushed into an index. With Curr set the
// files are the changes since the previous generation.
type SyncOptions struct {
	Index   string
	Dir     string
	Files   []string
	Prev    string
	Curr    string
	Pattern string
}

func newSyncEngine(s *config.Settings, client bulksync.Client) *bulksync.Engine {
	maxRetries := s.Index.MaxRetries
	if maxRetries == 0 {
		// the engine reads zero as "use the default"
		maxRetries = -1
	}
	return bulksync.NewEngine(client, bulksync.Options{
		MaxRetries:      maxRetries,
		MaxErrors:       s.Index.MaxErrors,
		RequestTimeout:  s.Index.RequestTimeout,
		RefreshInterval: s.Index.RefreshInterval,
		Logger:          slog.Default(),
	})
}

func reportResult(w io.Writer, res *bulksync.Result, err error) error {
	if res != nil {
		if werr := writeJSON(w, res); werr != nil {
			return errors.Join(err, werr)
		}
	}
	if err != nil {
		return err
	}
	if res != nil && res.ErrorCount > 0 {
		return fmt.Errorf("%w: %d of %d", ErrPartialFailure, res.ErrorCount, res.TotalDocs)
	}
	return nil
}

// RunSync pushes bulk files into an existing index.
func RunSync(ctx context.Context, s *config.Settings, o SyncOptions, w io.Writer) error {
	if o.Index == "" {
		return errors.New("--index is required")
	}

	var files []string
	if o.Curr != "" {
		changed, err := changedFiles(ctx, s, DiffOptions{Prev: o.Prev, Curr: o.Curr, Pattern: o.Pattern})
		if err != nil {
			return err
		}
		if len(changed.Files) == 0 {
			if err := requireIndex(ctx, s, o.Index); err != nil {
				return err
			}
			slog.Info("No changed files, nothing to sync", "curr", o.Curr, "baseline", changed.Baseline)
			return writeJSON(w, &bulksync.Result{Index: o.Index})
		}
		files = changed.Files
	} else {
		var err error
		if files, err = collectInputs(o.Dir, o.Files, diff.DefaultPattern); err != nil {
			return err
		}
	}

	client := searchindex.NewClient(s.Index.BaseDir)
	defer func() { _ = client.Close() }()

	res, err := newSyncEngine(s, client).Sync(ctx, o.Index, files, s.Index.BatchSize)
	return reportResult(w, res, err)
}

// DeleteOptions names the documents to remove.
type DeleteOptions struct {
	Index string
	IDs   []string
	File  string
}

// readIDs reads one identifier per line, skipping blanks and '#' comments.
func readIDs(r io.Reader) ([]string, error) {
	var ids []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	return ids, scanner.Err()
}

// RunDelete removes documents from an index after approval.
func RunDelete(ctx context.Context, s *config.Settings, o DeleteOptions, approver Approver, w io.Writer) error {
	if o.Index == "" {
		return errors.New("--index is required")
	}

	ids := slices.Clone(o.IDs)
	if o.File != "" {
		f, err := os.Open(o.File)
		if err != nil {
			return err
		}
		fromFile, err := readIDs(f)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", o.File, err)
		}
		ids = append(ids, fromFile...)
	}
	if len(ids) == 0 {
		return errors.New("no identifiers to delete")
	}

	if err := confirm(ctx, approver, fmt.Sprintf("delete %d documents from", len(ids)), o.Index); err != nil {
		return err
	}

	client := searchindex.NewClient(s.Index.BaseDir)
	defer func() { _ = client.Close() }()

	res, err := newSyncEngine(s, client).Delete(ctx, o.Index, ids, s.Index.BatchSize)
	return reportResult(w, res, err)
}

// requireIndex fails with bulksync.ErrIndexMissing when name is absent.
func requireIndex(ctx context.Context, s *config.Settings, name string) error {
	client := searchindex.NewClient(s.Index.BaseDir)
	defer func() { _ = client.Close() }()

	exists, err := client.IndexExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to check index %s: %w", name, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", bulksync.ErrIndexMissing, name)
	}
	return nil
}

// RunIndexCreate creates an index with the document mapping.
func RunIndexCreate(ctx context.Context, s *config.Settings, name string, w io.Writer) error {
	client := searchindex.NewClient(s.Index.BaseDir)
	defer func() { _ = client.Close() }()

	if err := client.Create(ctx, name); err != nil {
		return err
	}
	if err := client.PutSettings(ctx, name, searchindex.Settings{RefreshInterval: s.Index.RefreshInterval}); err != nil {
		return err
	}
	slog.Info("Index created", "index", name, "base_dir", s.Index.BaseDir)
	_, err := fmt.Fprintln(w, name)
	return err
}

// RunIndexDrop deletes an index after approval.
func RunIndexDrop(ctx context.Context, s *config.Settings, name string, approver Approver) error {
	client := searchindex.NewClient(s.Index.BaseDir)
	defer func() { _ = client.Close() }()

	exists, err := client.IndexExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", searchindex.ErrIndexNotFound, name)
	}
	if err := confirm(ctx, approver, "drop index", name); err != nil {
		return err
	}
	if err := client.Drop(ctx, name); err != nil {
		return err
	}
	slog.Info("Index dropped", "index", name)
	return nil
}

// RunIndexList prints every index with its document count.
func RunIndexList(ctx context.Context, s *config.Settings, w io.Writer) error {
	client := searchindex.NewClient(s.Index.BaseDir)
	defer func() { _ = client.Close() }()

	names, err := client.Indexes()
	if err != nil {
		return err
	}
	for _, name := range names {
		count, err := client.Count(ctx, name)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s\t%d\n", name, count); err != nil {
			return err
		}
	}
	return nil
}

// ImportOptions selects the table rebuilt by RunRelationsImport.
type ImportOptions struct {
	// Table names a relation table; ignored when Dates is set.
	Table string
	Dates bool
	File  string
}

// RunRelationsImport rebuilds one relation table under the exclusive store lock.
func RunRelationsImport(ctx context.Context, s *config.Settings, o ImportOptions, w io.Writer) error {
	opts := relationOptions(s)
	if opts.DSN == "" {
		return errors.New("--relations-dsn is required")
	}
	if !o.Dates && !relstore.IsRelationTable(o.Table) {
		return fmt.Errorf("%w: %q", relstore.ErrUnknownTable, o.Table)
	}

	var in io.Reader = os.Stdin
	if o.File != "" && o.File != "-" {
		f, err := os.Open(o.File)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	if path := relstore.LockPath(opts); path != "" {
		lock := relstore.NewLock(path)
		if err := lock.Acquire(ctx, relstore.Exclusive, s.Relations.LockTimeout); err != nil {
			return err
		}
		defer func() { _ = lock.Release() }()
	}

	store, err := relstore.Open(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var stats relstore.ImportStats
	if o.Dates {
		stats, err = store.ImportDates(ctx, in)
	} else {
		stats, err = store.ImportRelations(ctx, o.Table, in)
	}
	if err != nil {
		return err
	}
	slog.Info("Relation table rebuilt", "table", stats.Table, "rows", stats.Rows, "invalid", stats.Invalid)
	return writeJSON(w, stats)
}

// XrefReport describes one accession.
type XrefReport struct {
	Accession  string        `json:"accession"`
	Classified bool          `json:"classified"`
	Type       string        `json:"type,omitempty"`
	URL        string        `json:"url,omitempty"`
	DbXrefs    []domain.Xref `json:"dbXrefs,omitempty"`
	Truncated  []string      `json:"truncated,omitempty"`
}

// RunXref classifies id and, with a category and a relation store, resolves its cross-references.
func RunXref(ctx context.Context, s *config.Settings, id, categoryName string, w io.Writer) error {
	report := XrefReport{Accession: id}
	if x, ok := xref.Classify(id); ok {
		report.Classified = true
		report.Type = x.Type
		report.URL = x.URL
	}

	if categoryName != "" {
		category, err := domain.ParseCategory(categoryName)
		if err != nil {
			return err
		}
		opts := relationOptions(s)
		if opts.DSN == "" {
			return errors.New("--relations-dsn is required to resolve cross-references")
		}
		opts.ReadOnly = true

		if path := relstore.LockPath(opts); path != "" {
			lock := relstore.NewLock(path)
			if err := lock.Acquire(ctx, relstore.Shared, s.Relations.LockTimeout); err != nil {
				return err
			}
			defer func() { _ = lock.Release() }()
		}
		store, err := relstore.Open(ctx, opts)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		res, err := xref.NewResolver(store, s.Relations.RowLimit).Resolve(ctx, id, category)
		if err != nil {
			return err
		}
		report.DbXrefs = res.Xrefs
		report.Truncated = res.Truncated
	}
	return writeJSON(w, report)
}

// RunConfigShow prints the resolved settings with secrets masked.
func RunConfigShow(s *config.Settings, w io.Writer) error {
	return config.WriteYAML(s, w)
}
