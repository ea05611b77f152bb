// Package convert turns XML exports into bulk files with a fixed pool of workers.
package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sha1n/ddbj-search/internal/bulkfile"
	"github.com/sha1n/ddbj-search/internal/domain"
	"github.com/sha1n/ddbj-search/internal/normalize"
	"github.com/sha1n/ddbj-search/internal/relstore"
	"github.com/sha1n/ddbj-search/internal/xmlrecord"
	"github.com/sha1n/ddbj-search/internal/xref"
)

// DefaultWorkers is used when Options.Workers is not positive.
const DefaultWorkers = 4

// ErrFilesFailed is returned when at least one input could not be converted.
var ErrFilesFailed = errors.New("conversion failed for some files")

// Options configures a conversion run.
type Options struct {
	Category domain.Category

	// Index names the target index in action headers; defaults to the category.
	Index string

	OutDir             string
	Workers            int
	BatchSize          int
	MaxCollectionItems int
	Recover            bool
	Center             string

	// Relations is the relation store; an empty DSN disables cross-references.
	Relations   relstore.Options
	RowLimit    int
	LockTimeout time.Duration

	Logger *slog.Logger
}

// Run converts inputs into OutDir and writes the manifest there. Per-file
// failures are recorded in the manifest and reported as ErrFilesFailed.
func Run(ctx context.Context, opts Options, inputs []string) (*bulkfile.Manifest, error) {
	if opts.Category == "" {
		return nil, errors.New("category is required")
	}
	if opts.OutDir == "" {
		return nil, errors.New("output directory is required")
	}
	if opts.Index == "" {
		opts.Index = opts.Category.String()
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	outputs := make(map[string]string, len(inputs))
	for _, in := range inputs {
		name := bulkfile.OutputName(in)
		if other, ok := outputs[name]; ok {
			return nil, fmt.Errorf("inputs %s and %s both map to %s", other, in, name)
		}
		outputs[name] = in
	}

	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	if opts.Relations.DSN != "" {
		if path := relstore.LockPath(opts.Relations); path != "" {
			lock := relstore.NewLock(path)
			if err := lock.Acquire(ctx, relstore.Shared, opts.LockTimeout); err != nil {
				return nil, err
			}
			defer func() { _ = lock.Release() }()
		}
	}

	manifest := bulkfile.NewManifest(opts.Category.String(), opts.Index)
	opts.Logger.InfoContext(ctx, "Starting conversion",
		"run_id", manifest.RunID, "category", opts.Category, "files", len(inputs), "workers", opts.Workers)

	jobs := make(chan string, opts.Workers)
	var wg sync.WaitGroup
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runWorker(ctx, id, opts, jobs, manifest)
		}(i)
	}

feed:
	for _, in := range inputs {
		select {
		case jobs <- in:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	manifest.Finish()
	if err := manifest.Save(filepath.Join(opts.OutDir, bulkfile.ManifestFilename)); err != nil {
		return manifest, err
	}

	totals := manifest.Totals()
	opts.Logger.InfoContext(ctx, "Conversion complete",
		"run_id", manifest.RunID, "records", totals.Records, "written", totals.Written,
		"recovered", totals.Recovered, "xref_failures", totals.XrefFailures)

	if err := ctx.Err(); err != nil {
		return manifest, err
	}
	if failed := manifest.Failed(); len(failed) > 0 {
		return manifest, fmt.Errorf("%w: %d of %d", ErrFilesFailed, len(failed), len(inputs))
	}
	return manifest, nil
}

// runWorker drains jobs with its own store handle and pipeline.
func runWorker(ctx context.Context, id int, opts Options, jobs <-chan string, manifest *bulkfile.Manifest) {
	logger := opts.Logger.With("worker", id)

	var (
		store   *relstore.Store
		openErr error
	)
	if opts.Relations.DSN != "" {
		storeOpts := opts.Relations
		storeOpts.ReadOnly = true
		store, openErr = relstore.Open(ctx, storeOpts)
		if openErr != nil {
			logger.ErrorContext(ctx, "Failed to open relation store", "error", openErr)
		} else {
			defer func() { _ = store.Close() }()
		}
	}

	nc := normalize.Context{
		Category:           opts.Category,
		Center:             opts.Center,
		MaxCollectionItems: opts.MaxCollectionItems,
		Logger:             logger,
	}
	if store != nil {
		nc.Resolver = xref.NewResolver(store, opts.RowLimit)
		nc.Dates = store
	}
	w := &worker{
		opts:       opts,
		normalizer: normalize.New(nc),
		extractor:  xmlrecord.New(opts.Category.RecordTag(), xmlrecord.WithRecover(opts.Recover), xmlrecord.WithLogger(logger)),
		logger:     logger,
	}

	for path := range jobs {
		name := bulkfile.OutputName(path)
		if openErr != nil {
			manifest.SetFile(name, bulkfile.FileStats{Source: path, Error: openErr.Error()})
			continue
		}
		stats := w.convertFile(ctx, path, filepath.Join(opts.OutDir, name))
		manifest.SetFile(name, stats)
	}
}

type worker struct {
	opts       Options
	normalizer *normalize.Normalizer
	extractor  *xmlrecord.Extractor
	logger     *slog.Logger
}

// convertFile runs one input through extraction, normalization and writing.
// The output file only appears when the whole input was read.
func (w *worker) convertFile(ctx context.Context, in, out string) bulkfile.FileStats {
	stats := bulkfile.FileStats{Source: in, Skipped: map[string]int{}}
	fail := func(err error) bulkfile.FileStats {
		w.logger.ErrorContext(ctx, "Failed to convert file", "file", in, "error", err)
		stats.Error = err.Error()
		return stats
	}

	r, err := xmlrecord.Open(in)
	if err != nil {
		return fail(err)
	}
	defer func() { _ = r.Close() }()

	writer, err := bulkfile.Create(out, w.opts.Index, w.opts.BatchSize)
	if err != nil {
		return fail(err)
	}

	for rec, err := range w.extractor.Records(ctx, r) {
		if err != nil {
			writer.Abort()
			return fail(err)
		}
		stats.Records++

		res := w.normalizer.Normalize(ctx, rec)
		if res.Recovered {
			stats.Recovered++
		}
		stats.Truncated += res.Truncated
		if res.XrefsTruncated {
			stats.XrefsTruncated++
		}
		if res.XrefFailed {
			stats.XrefFailures++
		}
		if res.Skipped() {
			stats.Skipped[string(res.Skip)]++
			continue
		}
		if err := writer.Add(res.Doc); err != nil {
			writer.Abort()
			return fail(err)
		}
	}

	if err := writer.Close(); err != nil {
		return fail(err)
	}
	ws := writer.Stats()
	stats.Written = ws.Written
	stats.Duplicates = ws.Duplicates

	w.logger.InfoContext(ctx, "Converted file",
		"file", in, "output", out, "records", stats.Records, "written", stats.Written,
		"skipped", len(stats.Skipped), "recovered", stats.Recovered)
	return stats
}
