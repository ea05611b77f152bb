// Package diff finds the output files that changed between two generation runs.
package diff

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultPattern selects bulk files.
const DefaultPattern = "*.jsonl"

// Fingerprint identifies the content of one file.
type Fingerprint struct {
	Name string
	Size int64
	Hash string
}

// Result lists the files of curr that need syncing.
type Result struct {
	// Files holds paths under curr, sorted by name.
	Files []string

	// Skipped holds files that could not be read.
	Skipped []string

	// FullMode is set when every matching file was selected because no
	// usable baseline exists or prev equals curr.
	FullMode bool

	// Baseline is the directory compared against, empty in full mode.
	Baseline string
}

// Engine compares generation directories.
type Engine struct {
	pattern string
	workers int
	logger  *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds concurrent hashing.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an engine matching file names against pattern.
func New(pattern string, opts ...Option) (*Engine, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if _, err := filepath.Match(pattern, "probe"); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	e := &Engine{pattern: pattern, workers: 4, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Changed returns the files in curr that are new or differ from the
// same-named file in prev. When prev is empty or missing the baseline is
// resolved from the dated siblings of curr; without one every file is selected.
func (e *Engine) Changed(ctx context.Context, prev, curr string) (Result, error) {
	names, err := e.match(curr)
	if err != nil {
		return Result{}, err
	}

	if prev != "" && samePath(prev, curr) {
		return fullMode(curr, names), nil
	}
	if prev != "" {
		if info, statErr := os.Stat(prev); statErr != nil || !info.IsDir() {
			e.logger.WarnContext(ctx, "previous generation not found, resolving baseline", "prev", prev)
			prev = ""
		}
	}
	if prev == "" {
		prev, err = ResolveBaseline(curr)
		if err != nil {
			return Result{}, err
		}
	}

	if prev == "" {
		e.logger.WarnContext(ctx, "no baseline, selecting all files", "current", curr)
		return fullMode(curr, names), nil
	}

	return e.compare(ctx, prev, curr, names)
}

func fullMode(curr string, names []string) Result {
	res := Result{FullMode: true}
	for _, name := range names {
		res.Files = append(res.Files, filepath.Join(curr, name))
	}
	return res
}

// compare fingerprints the files that exist on both sides with equal size.
func (e *Engine) compare(ctx context.Context, prev, curr string, names []string) (Result, error) {
	res := Result{Baseline: prev}

	var (
		mu      sync.Mutex
		changed = make(map[string]bool)
		skipped = make(map[string]bool)
	)
	mark := func(set map[string]bool, name string) {
		mu.Lock()
		set[name] = true
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for _, name := range names {
		currPath := filepath.Join(curr, name)
		prevPath := filepath.Join(prev, name)

		currInfo, err := os.Stat(currPath)
		if err != nil {
			e.logger.WarnContext(ctx, "skipping unreadable file", "file", currPath, "error", err)
			mark(skipped, currPath)
			continue
		}
		prevInfo, err := os.Stat(prevPath)
		if os.IsNotExist(err) {
			mark(changed, name)
			continue
		}
		if err != nil || currInfo.Size() != prevInfo.Size() {
			if err != nil {
				mark(skipped, prevPath)
			}
			mark(changed, name)
			continue
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			currFP, err := FingerprintFile(currPath)
			if err != nil {
				e.logger.WarnContext(gctx, "skipping unreadable file", "file", currPath, "error", err)
				mark(skipped, currPath)
				return nil
			}
			prevFP, err := FingerprintFile(prevPath)
			if err != nil {
				e.logger.WarnContext(gctx, "baseline file unreadable, treating as changed", "file", prevPath, "error", err)
				mark(skipped, prevPath)
				mark(changed, name)
				return nil
			}
			if currFP.Hash != prevFP.Hash {
				mark(changed, name)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	for _, name := range names {
		if changed[name] {
			res.Files = append(res.Files, filepath.Join(curr, name))
		}
	}
	for path := range skipped {
		res.Skipped = append(res.Skipped, path)
	}
	sort.Strings(res.Skipped)

	e.logger.InfoContext(ctx, "diff complete",
		"baseline", prev, "current", curr,
		"candidates", len(names), "changed", len(res.Files), "skipped", len(res.Skipped))
	return res, nil
}

// match returns the sorted names of regular files in dir matching the pattern.
func (e *Engine) match(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if ok, _ := filepath.Match(e.pattern, entry.Name()); ok {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// FingerprintFile computes the fingerprint of the file at path.
func FingerprintFile(path string) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fingerprint{}, err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{Name: filepath.Base(path), Size: n, Hash: hex.EncodeToString(h.Sum(nil))}, nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
