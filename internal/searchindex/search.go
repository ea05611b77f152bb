package searchindex

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/sha1n/ddbj-search/internal/domain"
)

// Query defines search parameters.
type Query struct {
	Text string

	// Type filters by document type, e.g. "biosample".
	Type string

	// Organism filters by taxonomy identifier.
	Organism string

	Size int
	From int
}

// Hit is one matching document.
type Hit struct {
	ID       string
	Index    string
	Score    float64
	Type     string
	Title    string
	Organism string
	Snippets []string
}

// Result holds one page of hits.
type Result struct {
	Total uint64
	Hits  []Hit
}

// Search runs q across the named indexes.
func (c *Client) Search(_ context.Context, names []string, q Query) (*Result, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, errors.New("query cannot be empty")
	}
	if len(names) == 0 {
		return &Result{}, nil
	}

	indexes := make([]bleve.Index, 0, len(names))
	for _, name := range names {
		index, err := c.index(name)
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, index)
	}
	alias := bleve.NewIndexAlias(indexes...)

	size := q.Size
	if size <= 0 {
		size = 10
	}
	req := bleve.NewSearchRequestOptions(buildQuery(q), size, q.From, false)
	req.Fields = []string{domain.FieldType, domain.FieldTitle, domain.FieldOrganismName}
	req.Highlight = bleve.NewHighlight()
	req.Highlight.AddField(domain.FieldTitle)
	req.Highlight.AddField(domain.FieldDescription)

	res, err := alias.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	out := &Result{Total: res.Total, Hits: make([]Hit, 0, len(res.Hits))}
	for _, h := range res.Hits {
		hit := Hit{ID: h.ID, Index: h.Index, Score: h.Score}
		hit.Type, _ = h.Fields[domain.FieldType].(string)
		hit.Title, _ = h.Fields[domain.FieldTitle].(string)
		hit.Organism, _ = h.Fields[domain.FieldOrganismName].(string)
		for _, fragments := range h.Fragments {
			hit.Snippets = append(hit.Snippets, fragments...)
		}
		out.Hits = append(out.Hits, hit)
	}
	return out, nil
}

// buildQuery matches text against the identifier, descriptive fields and
// cross-reference identifiers, then applies the filters.
func buildQuery(q Query) query.Query {
	text := strings.TrimSpace(q.Text)

	byID := bleve.NewDocIDQuery([]string{text})
	byID.SetBoost(10)

	title := bleve.NewMatchQuery(text)
	title.SetField(domain.FieldTitle)
	title.SetBoost(3)

	description := bleve.NewMatchQuery(text)
	description.SetField(domain.FieldDescription)

	organism := bleve.NewMatchQuery(text)
	organism.SetField(domain.FieldOrganismName)

	xref := bleve.NewTermQuery(text)
	xref.SetField(domain.FieldXrefID)

	search := bleve.NewDisjunctionQuery(byID, title, description, organism, xref)

	if q.Type == "" && q.Organism == "" {
		return search
	}

	must := []query.Query{search}
	if q.Type != "" {
		t := bleve.NewTermQuery(q.Type)
		t.SetField(domain.FieldType)
		must = append(must, t)
	}
	if q.Organism != "" {
		o := bleve.NewTermQuery(q.Organism)
		o.SetField(domain.FieldOrganismID)
		must = append(must, o)
	}
	return bleve.NewConjunctionQuery(must...)
}
