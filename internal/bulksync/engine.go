// Package bulksync pushes bulk files into a search index in sequential batches.
package bulksync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/sha1n/ddbj-search/internal/bulkfile"
	"github.com/sha1n/ddbj-search/internal/retry"
	"github.com/sha1n/ddbj-search/internal/searchindex"
)

// Defaults.
const (
	DefaultBatchSize       = 5000
	DefaultMaxRetries      = 3
	DefaultMaxErrors       = 100
	DefaultRequestTimeout  = 600 * time.Second
	DefaultRefreshInterval = "1s"

	// refreshDisabled suspends refreshes while a sync is running.
	refreshDisabled = "-1"
)

// ErrIndexMissing is returned by Sync when the target index does not exist.
var ErrIndexMissing = errors.New("index does not exist")

// Client is the part of the search index used for synchronization.
type Client interface {
	IndexExists(ctx context.Context, name string) (bool, error)
	PutSettings(ctx context.Context, name string, s searchindex.Settings) error
	Refresh(ctx context.Context, name string) error
	Bulk(ctx context.Context, name string, ops []searchindex.Op) ([]searchindex.ItemResult, error)
}

// ItemError describes one document that could not be applied.
type ItemError struct {
	ID     string `json:"id,omitempty"`
	File   string `json:"file,omitempty"`
	Status int    `json:"status,omitempty"`
	Reason string `json:"reason"`
}

// Result accumulates the outcome of a Sync or Delete.
type Result struct {
	Index        string      `json:"index"`
	TotalDocs    int         `json:"total_docs"`
	SuccessCount int         `json:"success_count"`
	ErrorCount   int         `json:"error_count"`
	Skipped      int         `json:"skipped"`
	NotFound     int         `json:"not_found"`
	Errors       []ItemError `json:"errors,omitempty"`
}

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	MaxRetries      int
	MaxErrors       int
	RequestTimeout  time.Duration
	RefreshInterval string
	Backoff         retry.Strategy
	Logger          *slog.Logger
}

// Engine synchronizes bulk files into an index.
type Engine struct {
	client          Client
	maxRetries      int
	maxErrors       int
	requestTimeout  time.Duration
	refreshInterval string
	backoff         retry.Strategy
	executor        *retry.Executor
	logger          *slog.Logger
}

// NewEngine creates an engine over client.
func NewEngine(client Client, opts Options) *Engine {
	e := &Engine{
		client:          client,
		maxRetries:      opts.MaxRetries,
		maxErrors:       opts.MaxErrors,
		requestTimeout:  opts.RequestTimeout,
		refreshInterval: opts.RefreshInterval,
		backoff:         opts.Backoff,
		logger:          opts.Logger,
	}
	if e.maxRetries < 0 {
		e.maxRetries = 0
	} else if e.maxRetries == 0 {
		e.maxRetries = DefaultMaxRetries
	}
	if e.maxErrors <= 0 {
		e.maxErrors = DefaultMaxErrors
	}
	if e.requestTimeout <= 0 {
		e.requestTimeout = DefaultRequestTimeout
	}
	if e.refreshInterval == "" {
		e.refreshInterval = DefaultRefreshInterval
	}
	if e.backoff == nil {
		e.backoff = retry.NewBackoff(e.maxRetries)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.executor = retry.NewExecutor(retry.NewIndexClassifier(), e.backoff).
		WithOnRetry(func(attempt int, err error, delay time.Duration) {
			e.logger.Warn("bulk request failed, retrying", "attempt", attempt+1, "delay", delay, "error", err)
		})
	return e
}

// Sync indexes every entry of files into index. Refreshes are suspended for
// the duration and restored afterwards, also when Sync fails.
func (e *Engine) Sync(ctx context.Context, index string, files []string, batchSize int) (res *Result, err error) {
	exists, err := e.client.IndexExists(ctx, index)
	if err != nil {
		return nil, fmt.Errorf("failed to check index %s: %w", index, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrIndexMissing, index)
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	if err := e.client.PutSettings(ctx, index, searchindex.Settings{RefreshInterval: refreshDisabled}); err != nil {
		return nil, fmt.Errorf("failed to disable refresh: %w", err)
	}
	defer func() {
		restoreCtx := context.WithoutCancel(ctx)
		restoreErr := e.client.PutSettings(restoreCtx, index, searchindex.Settings{RefreshInterval: e.refreshInterval})
		if restoreErr == nil {
			restoreErr = e.client.Refresh(restoreCtx, index)
		}
		if restoreErr != nil {
			e.logger.Error("failed to restore refresh interval", "index", index, "error", restoreErr)
			err = errors.Join(err, fmt.Errorf("failed to restore refresh interval: %w", restoreErr))
		}
	}()

	res = &Result{Index: index}
	for _, path := range files {
		if err := e.syncFile(ctx, index, path, batchSize, res); err != nil {
			return res, err
		}
	}

	e.logger.InfoContext(ctx, "sync complete",
		"index", index, "files", len(files), "total", res.TotalDocs,
		"success", res.SuccessCount, "errors", res.ErrorCount, "skipped", res.Skipped)
	return res, nil
}

// syncFile streams one file in batches. Only cancellation is returned.
func (e *Engine) syncFile(ctx context.Context, index, path string, batchSize int, res *Result) error {
	f, err := os.Open(path)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to open bulk file", "file", path, "error", err)
		e.recordError(res, ItemError{File: path, Reason: err.Error()})
		return nil
	}
	defer func() { _ = f.Close() }()

	before := *res
	batch := make([]searchindex.Op, 0, batchSize)
	for entry, err := range bulkfile.ReadEntries(f) {
		if err != nil {
			e.logger.ErrorContext(ctx, "failed to read bulk file", "file", path, "error", err)
			e.recordError(res, ItemError{File: path, Reason: err.Error()})
			break
		}
		if entry.ID == "" {
			e.logger.DebugContext(ctx, "skipping entry", "file", path, "line", entry.Line, "reason", entry.Problem)
			res.Skipped++
			continue
		}

		res.TotalDocs++
		op := searchindex.Op{Type: searchindex.OpIndex, ID: entry.ID, Body: entry.Body}
		if entry.Delete {
			op = searchindex.Op{Type: searchindex.OpDelete, ID: entry.ID}
		}
		batch = append(batch, op)
		if len(batch) >= batchSize {
			if err := e.send(ctx, index, path, batch, res); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := e.send(ctx, index, path, batch, res); err != nil {
			return err
		}
	}

	e.logger.InfoContext(ctx, "synced file", "file", path,
		"documents", res.TotalDocs-before.TotalDocs,
		"errors", res.ErrorCount-before.ErrorCount,
		"skipped", res.Skipped-before.Skipped)
	return nil
}

// Delete removes ids from index. A missing index yields an empty result.
func (e *Engine) Delete(ctx context.Context, index string, ids []string, batchSize int) (*Result, error) {
	res := &Result{Index: index}

	exists, err := e.client.IndexExists(ctx, index)
	if err != nil {
		return nil, fmt.Errorf("failed to check index %s: %w", index, err)
	}
	if !exists {
		e.logger.WarnContext(ctx, "index does not exist, nothing to delete", "index", index)
		return res, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	batch := make([]searchindex.Op, 0, batchSize)
	for _, id := range ids {
		if id == "" {
			res.Skipped++
			continue
		}
		res.TotalDocs++
		batch = append(batch, searchindex.Op{Type: searchindex.OpDelete, ID: id})
		if len(batch) >= batchSize {
			if err := e.send(ctx, index, "", batch, res); err != nil {
				return res, err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := e.send(ctx, index, "", batch, res); err != nil {
			return res, err
		}
	}

	if res.TotalDocs > 0 {
		if err := e.client.Refresh(ctx, index); err != nil {
			return res, fmt.Errorf("failed to refresh %s: %w", index, err)
		}
	}
	e.logger.InfoContext(ctx, "delete complete",
		"index", index, "total", res.TotalDocs, "deleted", res.SuccessCount,
		"not_found", res.NotFound, "errors", res.ErrorCount)
	return res, nil
}

// send applies one batch. Transient request failures are retried by the
// executor; retryable item failures are resent up to maxRetries times.
// Only cancellation of ctx is returned.
func (e *Engine) send(ctx context.Context, index, file string, ops []searchindex.Op, res *Result) error {
	pending := ops
	for attempt := 0; ; attempt++ {
		var results []searchindex.ItemResult
		err := e.executor.Execute(ctx, func(ctx context.Context) error {
			reqCtx, cancel := context.WithTimeout(ctx, e.requestTimeout)
			defer cancel()

			var bulkErr error
			results, bulkErr = e.client.Bulk(reqCtx, index, pending)
			return bulkErr
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			e.logger.ErrorContext(ctx, "bulk request failed", "index", index, "file", file, "documents", len(pending), "error", err)
			for _, op := range pending {
				e.recordError(res, ItemError{ID: op.ID, File: file, Reason: err.Error()})
			}
			return nil
		}

		var again []searchindex.Op
		for i, item := range results {
			switch {
			case !item.Failed():
				res.SuccessCount++
			case item.Type == searchindex.OpDelete && item.Status == http.StatusNotFound:
				res.NotFound++
			case retryableStatus(item.Status) && attempt < e.maxRetries:
				again = append(again, pending[i])
			default:
				e.recordError(res, ItemError{ID: item.ID, File: file, Status: item.Status, Reason: item.Error})
			}
		}
		if len(again) == 0 {
			return nil
		}

		delay := e.backoff.NextDelay(attempt)
		e.logger.WarnContext(ctx, "retrying failed items", "index", index, "items", len(again), "attempt", attempt+1, "delay", delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		pending = again
	}
}

// recordError counts a failure and keeps at most maxErrors details.
func (e *Engine) recordError(res *Result, item ItemError) {
	res.ErrorCount++
	if len(res.Errors) < e.maxErrors {
		res.Errors = append(res.Errors, item)
	}
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
