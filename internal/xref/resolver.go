package xref

import (
	"context"
	"fmt"
	"sort"

	"github.com/sha1n/ddbj-search/internal/domain"
	"github.com/sha1n/ddbj-search/internal/relstore"
)

// DefaultRowLimit caps the rows read from one relation table for one accession.
const DefaultRowLimit = 10000

// RelationStore is the read side of the relation tables.
type RelationStore interface {
	Lookup(ctx context.Context, table, id string, limit int) ([]relstore.Edge, error)
}

// tables lists the relation tables consulted per category.
// Sequence-archive kinds are absent: their links are attached by a later enrichment pass.
var tables = map[domain.Category][]string{
	domain.CategoryBioProject: {
		relstore.TableBioProjectBioSample,
		relstore.TableBioProjectUmbrella,
		relstore.TableBioProjectSRAStudy,
		relstore.TableBioProjectGEA,
		relstore.TableBioProjectMetaboBank,
		relstore.TableBioProjectAssembly,
	},
	domain.CategoryBioSample: {
		relstore.TableBioProjectBioSample,
		relstore.TableBioSampleSRASample,
		relstore.TableBioSampleSRAExperiment,
		relstore.TableBioSampleGEA,
		relstore.TableBioSampleMetaboBank,
		relstore.TableBioSampleAssembly,
	},
	domain.CategoryJGAStudy: {
		relstore.TableJGAStudyDataset,
		relstore.TableJGAStudyHumanDBs,
	},
	domain.CategoryJGADataset: {
		relstore.TableJGAStudyDataset,
		relstore.TableJGADatasetPolicy,
	},
	domain.CategoryJGAPolicy: {
		relstore.TableJGADatasetPolicy,
		relstore.TableJGAPolicyDAC,
	},
	domain.CategoryJGADAC: {
		relstore.TableJGAPolicyDAC,
	},
}

// TablesFor returns the relation tables consulted for category.
func TablesFor(category domain.Category) []string {
	return tables[category]
}

// Resolution is the outcome of resolving one accession.
type Resolution struct {
	Xrefs []domain.Xref

	// Truncated lists the tables whose row cap was reached.
	Truncated []string
}

// Resolver expands an accession into its typed cross-references.
type Resolver struct {
	store    RelationStore
	rowLimit int
}

// NewResolver creates a resolver over store. A non-positive rowLimit selects DefaultRowLimit.
func NewResolver(store RelationStore, rowLimit int) *Resolver {
	if rowLimit <= 0 {
		rowLimit = DefaultRowLimit
	}
	return &Resolver{store: store, rowLimit: rowLimit}
}

// Resolve returns the deduplicated, classified accessions related to id,
// sorted by type then identifier. Categories without relation tables yield
// an empty result. A store failure aborts the whole resolution.
func (r *Resolver) Resolve(ctx context.Context, id string, category domain.Category) (Resolution, error) {
	var res Resolution
	names := tables[category]
	if len(names) == 0 || r.store == nil {
		return res, nil
	}

	related := make(map[string]struct{})
	for _, table := range names {
		edges, err := r.store.Lookup(ctx, table, id, r.rowLimit+1)
		if err != nil {
			return Resolution{}, fmt.Errorf("resolve %s: %w", id, err)
		}
		if len(edges) > r.rowLimit {
			edges = edges[:r.rowLimit]
			res.Truncated = append(res.Truncated, table)
		}
		for _, e := range edges {
			other := e.ID1
			if e.ID1 == id {
				other = e.ID0
			}
			if usable(other) && other != id {
				related[other] = struct{}{}
			}
		}
	}

	for other := range related {
		if x, ok := Classify(other); ok {
			res.Xrefs = append(res.Xrefs, x)
		}
	}
	sort.Slice(res.Xrefs, func(i, j int) bool {
		a, b := res.Xrefs[i], res.Xrefs[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Identifier < b.Identifier
	})
	return res, nil
}

func usable(v string) bool {
	return v != "" && v != "-"
}
