package searchindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
)

const (
	// IndexSuffix is the suffix for index directories.
	IndexSuffix = ".bleve"

	// DefaultRefreshInterval is reported for indexes that never had one set.
	DefaultRefreshInterval = "1s"

	keyRefreshInterval = "refresh_interval"
	keyLastRefresh     = "last_refresh"
)

var (
	// ErrIndexNotFound is returned for operations on an index that does not exist.
	ErrIndexNotFound = errors.New("index not found")

	// ErrIndexExists is returned by Create when the index is already present.
	ErrIndexExists = errors.New("index already exists")

	// ErrInvalidName is returned for index names outside [a-z0-9._-].
	ErrInvalidName = errors.New("invalid index name")
)

var validName = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// OpType is a bulk action.
type OpType string

const (
	OpIndex  OpType = "index"
	OpDelete OpType = "delete"
)

// Op is one bulk action. Body is ignored for deletes.
type Op struct {
	Type OpType
	ID   string
	Body json.RawMessage
}

// ItemResult reports the outcome of one Op using HTTP-style status codes.
type ItemResult struct {
	ID     string
	Type   OpType
	Status int
	Error  string
}

// Failed reports whether the item was not applied.
func (r ItemResult) Failed() bool {
	return r.Status >= http.StatusMultipleChoices
}

// Settings are the mutable per-index settings.
type Settings struct {
	RefreshInterval string `json:"refresh_interval"`
}

// Client manages named Bleve indexes under a base directory.
// Indexes are opened lazily and kept open until Drop or Close.
type Client struct {
	baseDir string

	mu   sync.Mutex
	open map[string]bleve.Index
}

// NewClient creates a client rooted at baseDir.
func NewClient(baseDir string) *Client {
	return &Client{
		baseDir: baseDir,
		open:    make(map[string]bleve.Index),
	}
}

// indexPath returns the path to the named index.
func (c *Client) indexPath(name string) string {
	return filepath.Join(c.baseDir, "indexes", name+IndexSuffix)
}

// IndexExists checks if the named index is present on disk.
func (c *Client) IndexExists(_ context.Context, name string) (bool, error) {
	if !validName.MatchString(name) {
		return false, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	_, err := os.Stat(c.indexPath(name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Create creates an empty index with the document mapping.
func (c *Client) Create(ctx context.Context, name string) error {
	exists, err := c.IndexExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrIndexExists, name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.indexPath(name)), 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}
	index, err := bleve.New(c.indexPath(name), CreateIndexMapping())
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	index.SetName(name)
	c.open[name] = index
	return nil
}

// Drop closes and removes the named index.
func (c *Client) Drop(ctx context.Context, name string) error {
	exists, err := c.IndexExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if index, ok := c.open[name]; ok {
		_ = index.Close()
		delete(c.open, name)
	}
	return os.RemoveAll(c.indexPath(name))
}

// index returns the open handle for name, opening it if needed.
func (c *Client) index(name string) (bleve.Index, error) {
	if !validName.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if index, ok := c.open[name]; ok {
		return index, nil
	}
	path := c.indexPath(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	index, err := bleve.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	index.SetName(name)
	c.open[name] = index
	return index, nil
}

// PutSettings stores the index settings.
func (c *Client) PutSettings(_ context.Context, name string, s Settings) error {
	index, err := c.index(name)
	if err != nil {
		return err
	}
	if s.RefreshInterval == "" {
		return nil
	}
	return index.SetInternal([]byte(keyRefreshInterval), []byte(s.RefreshInterval))
}

// GetSettings returns the stored settings, with defaults filled in.
func (c *Client) GetSettings(_ context.Context, name string) (Settings, error) {
	index, err := c.index(name)
	if err != nil {
		return Settings{}, err
	}
	raw, err := index.GetInternal([]byte(keyRefreshInterval))
	if err != nil {
		return Settings{}, err
	}
	s := Settings{RefreshInterval: DefaultRefreshInterval}
	if len(raw) > 0 {
		s.RefreshInterval = string(raw)
	}
	return s, nil
}

// Refresh makes pending writes visible. Bleve batches are searchable once
// committed, so this only records the refresh time.
func (c *Client) Refresh(_ context.Context, name string) error {
	index, err := c.index(name)
	if err != nil {
		return err
	}
	return index.SetInternal([]byte(keyLastRefresh), []byte(time.Now().UTC().Format(time.RFC3339Nano)))
}

// LastRefresh returns the time of the last Refresh, or zero.
func (c *Client) LastRefresh(_ context.Context, name string) (time.Time, error) {
	index, err := c.index(name)
	if err != nil {
		return time.Time{}, err
	}
	raw, err := index.GetInternal([]byte(keyLastRefresh))
	if err != nil || len(raw) == 0 {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, string(raw))
}

// Bulk applies ops as one batch and reports a result per op, in order.
// Deleting an absent document yields 404; an unparsable body yields 400.
// The returned error covers the batch as a whole.
func (c *Client) Bulk(ctx context.Context, name string, ops []Op) ([]ItemResult, error) {
	index, err := c.index(name)
	if err != nil {
		return nil, err
	}

	existing, err := c.existingIDs(index, ops)
	if err != nil {
		return nil, err
	}

	results := make([]ItemResult, len(ops))
	batch := index.NewBatch()
	for i, op := range ops {
		results[i] = ItemResult{ID: op.ID, Type: op.Type, Status: http.StatusOK}
		if op.ID == "" {
			results[i].Status = http.StatusBadRequest
			results[i].Error = "missing document id"
			continue
		}

		switch op.Type {
		case OpIndex:
			doc, err := sourceDocument(op.ID, op.Body)
			if err != nil {
				results[i].Status = http.StatusBadRequest
				results[i].Error = err.Error()
				continue
			}
			if !existing[op.ID] {
				results[i].Status = http.StatusCreated
			}
			if err := batch.Index(op.ID, doc); err != nil {
				results[i].Status = http.StatusBadRequest
				results[i].Error = err.Error()
			}
		case OpDelete:
			if !existing[op.ID] {
				results[i].Status = http.StatusNotFound
				results[i].Error = "document not found"
				continue
			}
			batch.Delete(op.ID)
		default:
			results[i].Status = http.StatusBadRequest
			results[i].Error = fmt.Sprintf("unknown action %q", op.Type)
		}
	}

	if batch.Size() == 0 {
		return results, nil
	}

	done := make(chan error, 1)
	go func() {
		done <- index.Batch(batch)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("bulk request: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("bulk request: %w", err)
		}
	}
	return results, nil
}

// existingIDs returns which op ids are already in the index.
func (c *Client) existingIDs(index bleve.Index, ops []Op) (map[string]bool, error) {
	ids := make([]string, 0, len(ops))
	for _, op := range ops {
		if op.ID != "" {
			ids = append(ids, op.ID)
		}
	}
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	req := bleve.NewSearchRequestOptions(bleve.NewDocIDQuery(ids), len(ids), 0, false)
	res, err := index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to look up documents: %w", err)
	}
	for _, hit := range res.Hits {
		found[hit.ID] = true
	}
	return found, nil
}

// sourceDocument decodes body and attaches the identifier and raw source.
func sourceDocument(id string, body json.RawMessage) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("invalid document body: %w", err)
	}
	if doc == nil {
		return nil, errors.New("document body is not an object")
	}
	doc["identifier"] = id
	source, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	doc[FieldSource] = string(source)
	return doc, nil
}

// Get returns the stored source of one document.
func (c *Client) Get(_ context.Context, name, id string) (json.RawMessage, bool, error) {
	index, err := c.index(name)
	if err != nil {
		return nil, false, err
	}
	req := bleve.NewSearchRequestOptions(bleve.NewDocIDQuery([]string{id}), 1, 0, false)
	req.Fields = []string{FieldSource}
	res, err := index.Search(req)
	if err != nil {
		return nil, false, err
	}
	if len(res.Hits) == 0 {
		return nil, false, nil
	}
	source, _ := res.Hits[0].Fields[FieldSource].(string)
	return json.RawMessage(source), true, nil
}

// Count returns the number of documents in the index.
func (c *Client) Count(_ context.Context, name string) (uint64, error) {
	index, err := c.index(name)
	if err != nil {
		return 0, err
	}
	return index.DocCount()
}

// Indexes lists the indexes present on disk.
func (c *Client) Indexes() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(c.baseDir, "indexes"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && strings.HasSuffix(e.Name(), IndexSuffix) {
			names = append(names, strings.TrimSuffix(e.Name(), IndexSuffix))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Close closes every open index.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for name, index := range c.open {
		if err := index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(c.open, name)
	}
	return errors.Join(errs...)
}
