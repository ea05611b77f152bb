package domain

// Document is one normalized metadata record.
// It is the unit written to bulk files and stored in the search index.
type Document struct {
	// Identifier is the primary accession and the index key.
	// It is omitted from bulk bodies, where the action header carries it.
	// Example: "PRJDB1234", "SAMN00000001", "JGAS000001"
	Identifier string `json:"identifier,omitempty"`

	// Type is the entity kind, one of the Category values.
	Type string `json:"type"`

	// Organism is the source organism, when the record declares one.
	Organism *Organism `json:"organism"`

	Title       string `json:"title"`
	Description string `json:"description"`

	// Date fields hold RFC 3339 strings or null.
	DateCreated   *string `json:"dateCreated"`
	DateModified  *string `json:"dateModified"`
	DatePublished *string `json:"datePublished"`

	// Status is the record visibility state; "public" when the source is silent.
	Status string `json:"status"`

	// Visibility is the access class: unrestricted-access or controlled-access.
	Visibility string `json:"visibility"`

	// Properties preserves the full source metadata tree after shape unification.
	// It is stored but not meant to be queried field by field.
	Properties map[string]any `json:"properties"`

	// DbXrefs is a point-in-time snapshot of the related accessions.
	DbXrefs []Xref `json:"dbXrefs"`

	// DbXrefsTruncated reports that at least one relation table hit the row cap.
	DbXrefsTruncated bool `json:"dbXrefsTruncated,omitempty"`
}

// Organism identifies a taxon.
type Organism struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
}

// Xref is a typed link to a related accession.
type Xref struct {
	Identifier string `json:"identifier"`
	Type       string `json:"type"`
	URL        string `json:"url"`
}

// Status and visibility values.
const (
	StatusPublic = "public"

	VisibilityUnrestricted = "unrestricted-access"
	VisibilityControlled   = "controlled-access"
)

// Index field name constants for consistent references in mappings and queries.
const (
	FieldType          = "type"
	FieldTitle         = "title"
	FieldDescription   = "description"
	FieldOrganismName  = "organism.name"
	FieldOrganismID    = "organism.identifier"
	FieldStatus        = "status"
	FieldVisibility    = "visibility"
	FieldDatePublished = "datePublished"
	FieldXrefID        = "dbXrefs.identifier"
	FieldXrefType      = "dbXrefs.type"
	FieldProperties    = "properties"
)
