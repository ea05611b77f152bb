package normalize

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sha1n/ddbj-search/internal/domain"
	"github.com/sha1n/ddbj-search/internal/relstore"
	"github.com/sha1n/ddbj-search/internal/xmlrecord"
	"github.com/sha1n/ddbj-search/internal/xref"
)

// DefaultMaxCollectionItems caps every listed sub-collection of a document.
const DefaultMaxCollectionItems = 256

// Centers accepted by the center filter.
const (
	CenterDDBJ = "DDBJ"
	CenterNCBI = "NCBI"
	CenterEBI  = "EBI"
)

// SkipReason says why a record produced no document.
type SkipReason string

const (
	SkipMissingIdentifier SkipReason = "missing-identifier"
	SkipCenterMismatch    SkipReason = "center-mismatch"
)

// Resolver expands an accession into its cross-references.
type Resolver interface {
	Resolve(ctx context.Context, id string, category domain.Category) (xref.Resolution, error)
}

// DateStore supplies dates for accessions whose XML does not carry them.
type DateStore interface {
	LookupDates(ctx context.Context, accession string) (relstore.Dates, bool, error)
}

// Context carries everything a normalizer needs; there is no package state.
type Context struct {
	Category domain.Category

	// Center keeps only records submitted through this center when set.
	Center string

	// Resolver and Dates are optional.
	Resolver Resolver
	Dates    DateStore

	MaxCollectionItems int
	Logger             *slog.Logger
}

// Result is the outcome of normalizing one record.
type Result struct {
	Doc  *domain.Document
	Skip SkipReason

	// Truncated counts sub-collections cut to the item cap.
	Truncated int

	// XrefsTruncated reports that a relation table hit its row cap.
	XrefsTruncated bool

	// XrefFailed reports that cross-reference resolution failed and dbXrefs was left empty.
	XrefFailed bool

	// Recovered is carried over from the extracted record.
	Recovered bool
}

// Skipped reports whether the record produced no document.
func (r Result) Skipped() bool {
	return r.Skip != ""
}

// Normalizer converts extracted records of one category into documents.
type Normalizer struct {
	nc Context
}

// New creates a Normalizer.
func New(nc Context) *Normalizer {
	if nc.MaxCollectionItems <= 0 {
		nc.MaxCollectionItems = DefaultMaxCollectionItems
	}
	if nc.Logger == nil {
		nc.Logger = slog.Default()
	}
	return &Normalizer{nc: nc}
}

// fields is what a kind extracts from the unified properties.
type fields struct {
	identifier  string
	center      string
	title       string
	description string
	organism    *domain.Organism
	created     string
	modified    string
	published   string
	status      string
}

// Normalize converts one record. Record-level problems are reported in the
// Result and never returned as errors.
func (n *Normalizer) Normalize(ctx context.Context, rec xmlrecord.Record) Result {
	res := Result{Recovered: rec.Recovered}
	category := n.nc.Category

	props, ok := rec.Element.Value().(map[string]any)
	if !ok {
		props = make(map[string]any)
	}

	res.Truncated = unifyObjects(props, rulesFor(category, rec.Element.Name), n.nc.MaxCollectionItems)
	f := extract(category, props)

	if f.identifier == "" {
		n.nc.Logger.Debug("Skipped record", "category", category, "reason", SkipMissingIdentifier)
		res.Skip = SkipMissingIdentifier
		return res
	}
	if n.nc.Center != "" && !strings.EqualFold(n.nc.Center, f.center) {
		n.nc.Logger.Debug("Skipped record", "category", category, "identifier", f.identifier,
			"reason", SkipCenterMismatch, "center", f.center)
		res.Skip = SkipCenterMismatch
		return res
	}
	if res.Truncated > 0 {
		n.nc.Logger.Debug("Truncated collections", "identifier", f.identifier, "count", res.Truncated)
	}

	doc := &domain.Document{
		Identifier:  f.identifier,
		Type:        string(category),
		Organism:    f.organism,
		Title:       f.title,
		Description: f.description,
		Status:      f.status,
		Visibility:  domain.VisibilityUnrestricted,
		Properties:  props,
		DbXrefs:     []domain.Xref{},
	}
	if doc.Status == "" {
		doc.Status = domain.StatusPublic
	}
	if category.IsJGA() {
		doc.Visibility = domain.VisibilityControlled
	}

	n.applyDates(ctx, doc, f)

	if n.nc.Resolver != nil && !category.IsSRA() {
		resolution, err := n.nc.Resolver.Resolve(ctx, f.identifier, category)
		if err != nil {
			n.nc.Logger.Warn("Cross-reference resolution failed", "identifier", f.identifier, "error", err)
			res.XrefFailed = true
		} else {
			if len(resolution.Xrefs) > 0 {
				doc.DbXrefs = resolution.Xrefs
			}
			if len(resolution.Truncated) > 0 {
				n.nc.Logger.Debug("Relation rows capped", "identifier", f.identifier, "tables", resolution.Truncated)
				doc.DbXrefsTruncated = true
				res.XrefsTruncated = true
			}
		}
	}

	res.Doc = doc
	return res
}

func (n *Normalizer) applyDates(ctx context.Context, doc *domain.Document, f fields) {
	var stored relstore.Dates
	if n.nc.Dates != nil && (f.created == "" || f.modified == "" || f.published == "") {
		d, found, err := n.nc.Dates.LookupDates(ctx, f.identifier)
		if err != nil {
			n.nc.Logger.Warn("Date lookup failed", "identifier", f.identifier, "error", err)
		} else if found {
			stored = d
		}
	}

	doc.DateCreated = firstDate(f.created, stored.Created)
	doc.DateModified = firstDate(f.modified, stored.Modified)
	doc.DatePublished = firstDate(f.published, stored.Published)
}

func extract(category domain.Category, props map[string]any) fields {
	switch {
	case category == domain.CategoryBioProject:
		return bioProject(props)
	case category == domain.CategoryBioSample:
		return bioSample(props)
	case category.IsSRA():
		return sra(props)
	case category.IsJGA():
		return jga(props)
	}
	return fields{identifier: text(props, "accession")}
}

func rulesFor(category domain.Category, tag string) []fieldRule {
	switch {
	case category == domain.CategoryBioProject:
		return bioProjectRules
	case category == domain.CategoryBioSample:
		return bioSampleRules
	case category.IsSRA(), category.IsJGA():
		return archiveRules(tag)
	}
	return nil
}
