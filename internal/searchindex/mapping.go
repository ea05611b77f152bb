package searchindex

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/sha1n/ddbj-search/internal/domain"
)

// FieldSource holds the original document body. It is stored, not indexed.
const FieldSource = "source"

func keywordField() *mapping.FieldMapping {
	f := bleve.NewTextFieldMapping()
	f.Analyzer = keyword.Name
	f.Store = true
	return f
}

func textField() *mapping.FieldMapping {
	f := bleve.NewTextFieldMapping()
	f.Analyzer = standard.Name
	f.Store = true
	f.IncludeTermVectors = true
	return f
}

// CreateIndexMapping creates the Bleve index mapping for metadata documents.
// Properties are kept only inside the stored source.
func CreateIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	docMapping.AddFieldMappingsAt(domain.FieldType, keywordField())
	docMapping.AddFieldMappingsAt(domain.FieldStatus, keywordField())
	docMapping.AddFieldMappingsAt(domain.FieldVisibility, keywordField())
	docMapping.AddFieldMappingsAt(domain.FieldTitle, textField())
	docMapping.AddFieldMappingsAt(domain.FieldDescription, textField())

	published := bleve.NewDateTimeFieldMapping()
	published.Store = true
	docMapping.AddFieldMappingsAt(domain.FieldDatePublished, published)

	organism := bleve.NewDocumentMapping()
	organism.AddFieldMappingsAt("name", textField())
	organism.AddFieldMappingsAt("identifier", keywordField())
	docMapping.AddSubDocumentMapping("organism", organism)

	xrefs := bleve.NewDocumentMapping()
	xrefs.AddFieldMappingsAt("identifier", keywordField())
	xrefs.AddFieldMappingsAt("type", keywordField())
	url := bleve.NewTextFieldMapping()
	url.Index = false
	url.Store = true
	xrefs.AddFieldMappingsAt("url", url)
	docMapping.AddSubDocumentMapping("dbXrefs", xrefs)

	docMapping.AddSubDocumentMapping(domain.FieldProperties, bleve.NewDocumentDisabledMapping())

	source := bleve.NewTextFieldMapping()
	source.Index = false
	source.Store = true
	source.IncludeInAll = false
	docMapping.AddFieldMappingsAt(FieldSource, source)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name

	return indexMapping
}
