package normalize

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/sha1n/ddbj-search/internal/domain"
	"github.com/sha1n/ddbj-search/internal/relstore"
	"github.com/sha1n/ddbj-search/internal/xmlrecord"
	"github.com/sha1n/ddbj-search/internal/xref"
)

func parseRecord(t *testing.T, tag, xml string) xmlrecord.Record {
	t.Helper()
	for rec, err := range xmlrecord.New(tag).Records(context.Background(), strings.NewReader(xml)) {
		if err != nil {
			t.Fatalf("Failed to parse record: %v", err)
		}
		return rec
	}
	t.Fatalf("No %s record in input", tag)
	return xmlrecord.Record{}
}

type stubResolver struct {
	res   xref.Resolution
	err   error
	calls int
}

func (s *stubResolver) Resolve(_ context.Context, _ string, _ domain.Category) (xref.Resolution, error) {
	s.calls++
	return s.res, s.err
}

type stubDates map[string]relstore.Dates

func (s stubDates) LookupDates(_ context.Context, accession string) (relstore.Dates, bool, error) {
	d, ok := s[accession]
	return d, ok, nil
}

const bioProjectXML = `<PackageSet><Package><Project>
  <Project>
    <ProjectID><ArchiveID accession="PRJDB1234" archive="DDBJ" id="1"/></ProjectID>
    <ProjectDescr>
      <Name>short</Name>
      <Title>A rice project</Title>
      <Description>Sequencing rice</Description>
      <Grant GrantId="G1"><Agency>NIH</Agency></Grant>
      <Grant GrantId="G2"><Agency abbr="JSPS">Japan Society for the Promotion of Science</Agency></Grant>
      <LocusTagPrefix biosample_id="SAMD1">ABC</LocusTagPrefix>
      <ProjectReleaseDate>2015-03-01T00:00:00+09:00</ProjectReleaseDate>
    </ProjectDescr>
    <ProjectType><ProjectTypeSubmission><Target><Organism taxID="4530"><OrganismName>Oryza sativa</OrganismName></Organism></Target></ProjectTypeSubmission></ProjectType>
  </Project>
  <Submission submitted="2014-07-07" last_update="2016-01-01T10:00:00Z">
    <Description><Organization role="owner"><Name>National Institute of Genetics</Name></Organization></Description>
  </Submission>
</Project></Package></PackageSet>`

func TestNormalize_BioProject(t *testing.T) {
	resolver := &stubResolver{res: xref.Resolution{Xrefs: []domain.Xref{{Identifier: "SAMD1", Type: "biosample", URL: "u"}}}}
	n := New(Context{Category: domain.CategoryBioProject, Resolver: resolver})

	res := n.Normalize(context.Background(), parseRecord(t, "Package", bioProjectXML))
	if res.Skipped() {
		t.Fatalf("Unexpected skip: %s", res.Skip)
	}
	doc := res.Doc

	if doc.Identifier != "PRJDB1234" {
		t.Errorf("Identifier = %q, want %q", doc.Identifier, "PRJDB1234")
	}
	if doc.Type != "bioproject" {
		t.Errorf("Type = %q, want %q", doc.Type, "bioproject")
	}
	if doc.Title != "A rice project" {
		t.Errorf("Title = %q, want %q", doc.Title, "A rice project")
	}
	if doc.Description != "Sequencing rice" {
		t.Errorf("Description = %q, want %q", doc.Description, "Sequencing rice")
	}
	if doc.Organism == nil || doc.Organism.Identifier != "4530" || doc.Organism.Name != "Oryza sativa" {
		t.Errorf("Organism = %+v, want 4530/Oryza sativa", doc.Organism)
	}
	if doc.Status != domain.StatusPublic {
		t.Errorf("Status = %q, want %q", doc.Status, domain.StatusPublic)
	}
	if doc.Visibility != domain.VisibilityUnrestricted {
		t.Errorf("Visibility = %q, want %q", doc.Visibility, domain.VisibilityUnrestricted)
	}
	assertDate(t, "DateCreated", doc.DateCreated, "2014-07-07T00:00:00Z")
	assertDate(t, "DateModified", doc.DateModified, "2016-01-01T10:00:00Z")
	assertDate(t, "DatePublished", doc.DatePublished, "2015-02-28T15:00:00Z")

	if len(doc.DbXrefs) != 1 || doc.DbXrefs[0].Identifier != "SAMD1" {
		t.Errorf("DbXrefs = %+v, want [SAMD1]", doc.DbXrefs)
	}

	grants := get(doc.Properties, "Project", "Project", "ProjectDescr", "Grant").([]any)
	wantAgencies := []any{
		[]any{map[string]any{"abbr": "NIH", "content": "NIH"}},
		[]any{map[string]any{"abbr": "JSPS", "content": "Japan Society for the Promotion of Science"}},
	}
	for i, g := range grants {
		got := g.(map[string]any)["Agency"]
		if !reflect.DeepEqual(got, wantAgencies[i]) {
			t.Errorf("Grant[%d].Agency = %#v, want %#v", i, got, wantAgencies[i])
		}
	}

	orgName := get(doc.Properties, "Project", "Submission", "Description", "Organization", "Name")
	wantOrg := []any{map[string]any{"abbr": "National Institute of Genetics", "content": "National Institute of Genetics"}}
	if !reflect.DeepEqual(orgName, wantOrg) {
		t.Errorf("Organization.Name = %#v, want %#v", orgName, wantOrg)
	}

	prefix := get(doc.Properties, "Project", "Project", "ProjectDescr", "LocusTagPrefix")
	wantPrefix := []any{map[string]any{"biosample_id": "SAMD1", "content": "ABC"}}
	if !reflect.DeepEqual(prefix, wantPrefix) {
		t.Errorf("LocusTagPrefix = %#v, want %#v", prefix, wantPrefix)
	}
}

func TestNormalize_BioProjectArchiveFallback(t *testing.T) {
	xml := `<Package><Project><Project><ProjectID><ArchiveID accession="PRJNA9"/></ProjectID></Project></Project></Package>`

	res := New(Context{Category: domain.CategoryBioProject, Center: "DDBJ"}).
		Normalize(context.Background(), parseRecord(t, "Package", xml))
	if res.Skip != SkipCenterMismatch {
		t.Errorf("Skip = %q, want %q", res.Skip, SkipCenterMismatch)
	}

	res = New(Context{Category: domain.CategoryBioProject, Center: "ncbi"}).
		Normalize(context.Background(), parseRecord(t, "Package", xml))
	if res.Skipped() {
		t.Errorf("Unexpected skip %q for matching center", res.Skip)
	}
	if res.Doc.DateCreated != nil {
		t.Errorf("DateCreated = %q, want nil for a record without Submission", *res.Doc.DateCreated)
	}
}

func TestNormalize_BioSample(t *testing.T) {
	xml := `<BioSample accession="SAMD00000001" submission_date="2014-07-07T00:00:00Z" publication_date="2014-08-01">
  <Ids><Id db="BioSample" is_primary="1">SAMD00000001</Id><Id db="SRA">DRS000001</Id></Ids>
  <Description>
    <SampleName>sample one</SampleName>
    <Organism taxonomy_id="9606" taxonomy_name="Homo sapiens"/>
    <Comment><Paragraph>first</Paragraph><Paragraph>second</Paragraph></Comment>
  </Description>
  <Owner><Name abbr="DDBJ">DNA Data Bank of Japan</Name></Owner>
  <Models><Model>Generic</Model></Models>
  <Status status="live"/>
</BioSample>`

	res := New(Context{Category: domain.CategoryBioSample}).
		Normalize(context.Background(), parseRecord(t, "BioSample", xml))
	if res.Skipped() {
		t.Fatalf("Unexpected skip: %s", res.Skip)
	}
	doc := res.Doc

	if doc.Title != "sample one" {
		t.Errorf("Title = %q, want fallback %q", doc.Title, "sample one")
	}
	if doc.Description != "first\nsecond" {
		t.Errorf("Description = %q, want %q", doc.Description, "first\nsecond")
	}
	if doc.Organism == nil || doc.Organism.Name != "Homo sapiens" {
		t.Errorf("Organism = %+v, want Homo sapiens", doc.Organism)
	}
	if doc.Status != domain.StatusPublic {
		t.Errorf("Status = %q, want %q", doc.Status, domain.StatusPublic)
	}
	if doc.DbXrefs == nil {
		t.Error("Expected empty non-nil DbXrefs without a resolver")
	}

	models := get(doc.Properties, "Models", "Model")
	if !reflect.DeepEqual(models, []any{map[string]any{"content": "Generic"}}) {
		t.Errorf("Models.Model = %#v, want [{content: Generic}]", models)
	}
	owner := get(doc.Properties, "Owner", "Name")
	if !reflect.DeepEqual(owner, []any{map[string]any{"abbr": "DDBJ", "content": "DNA Data Bank of Japan"}}) {
		t.Errorf("Owner.Name = %#v", owner)
	}
}

func TestNormalize_BioSampleIdentifierFallback(t *testing.T) {
	xml := `<BioSample><Ids><Id db="SRA">DRS1</Id><Id db="BioSample">SAMD00000042</Id></Ids></BioSample>`

	res := New(Context{Category: domain.CategoryBioSample}).
		Normalize(context.Background(), parseRecord(t, "BioSample", xml))
	if res.Skipped() || res.Doc.Identifier != "SAMD00000042" {
		t.Errorf("Identifier = %+v, skip %q; want SAMD00000042", res.Doc, res.Skip)
	}
}

func TestNormalize_MissingIdentifier(t *testing.T) {
	resolver := &stubResolver{}
	res := New(Context{Category: domain.CategoryBioSample, Resolver: resolver}).
		Normalize(context.Background(), parseRecord(t, "BioSample", `<BioSample><Description><Title>x</Title></Description></BioSample>`))

	if res.Skip != SkipMissingIdentifier {
		t.Errorf("Skip = %q, want %q", res.Skip, SkipMissingIdentifier)
	}
	if res.Doc != nil {
		t.Error("Expected no document for a skipped record")
	}
	if resolver.calls != 0 {
		t.Errorf("Resolver called %d times for a skipped record", resolver.calls)
	}
}

func TestNormalize_CollectionCap(t *testing.T) {
	var b strings.Builder
	b.WriteString(`<Package><Project><Project><ProjectID><ArchiveID accession="PRJDB1"/></ProjectID><ProjectDescr>`)
	for i := range 300 {
		fmt.Fprintf(&b, `<Publication id="%d"/>`, i)
	}
	b.WriteString(`</ProjectDescr></Project></Project></Package>`)

	res := New(Context{Category: domain.CategoryBioProject}).
		Normalize(context.Background(), parseRecord(t, "Package", b.String()))
	if res.Truncated != 1 {
		t.Errorf("Truncated = %d, want 1", res.Truncated)
	}
	pubs := get(res.Doc.Properties, "Project", "Project", "ProjectDescr", "Publication").([]any)
	if len(pubs) != DefaultMaxCollectionItems {
		t.Errorf("len(Publication) = %d, want %d", len(pubs), DefaultMaxCollectionItems)
	}
}

func TestNormalize_ResolverFailure(t *testing.T) {
	resolver := &stubResolver{err: errors.New("database is locked")}

	res := New(Context{Category: domain.CategoryBioSample, Resolver: resolver}).
		Normalize(context.Background(), parseRecord(t, "BioSample", `<BioSample accession="SAMD1"/>`))
	if !res.XrefFailed {
		t.Error("Expected XrefFailed")
	}
	if res.Doc == nil || res.Doc.DbXrefs == nil || len(res.Doc.DbXrefs) != 0 {
		t.Errorf("Expected empty DbXrefs, got %+v", res.Doc)
	}
}

func TestNormalize_SRADefersXrefs(t *testing.T) {
	resolver := &stubResolver{res: xref.Resolution{Xrefs: []domain.Xref{{Identifier: "X"}}}}
	xml := `<RUN accession="DRR000001"><IDENTIFIERS><PRIMARY_ID>DRR000001</PRIMARY_ID><SUBMITTER_ID namespace="lab">run1</SUBMITTER_ID></IDENTIFIERS><TITLE>a run</TITLE></RUN>`

	res := New(Context{Category: domain.CategorySRARun, Resolver: resolver, Center: "DDBJ"}).
		Normalize(context.Background(), parseRecord(t, "RUN", xml))
	if res.Skipped() {
		t.Fatalf("Unexpected skip: %s", res.Skip)
	}
	if resolver.calls != 0 {
		t.Errorf("Resolver called %d times for a sequence-archive record", resolver.calls)
	}
	if len(res.Doc.DbXrefs) != 0 {
		t.Errorf("DbXrefs = %+v, want empty", res.Doc.DbXrefs)
	}
	if res.Doc.Title != "a run" {
		t.Errorf("Title = %q, want %q", res.Doc.Title, "a run")
	}
	sub := get(res.Doc.Properties, "IDENTIFIERS", "SUBMITTER_ID")
	if !reflect.DeepEqual(sub, []any{map[string]any{"namespace": "lab", "content": "run1"}}) {
		t.Errorf("SUBMITTER_ID = %#v", sub)
	}
}

func TestNormalize_JGA(t *testing.T) {
	dates := stubDates{"JGAS000001": {Created: "2014-07-07 12:00:00", Published: "2014-08-01"}}
	xml := `<STUDY accession="JGAS000001"><DESCRIPTOR><STUDY_TITLE>Cohort</STUDY_TITLE><STUDY_ABSTRACT>abstract</STUDY_ABSTRACT></DESCRIPTOR></STUDY>`

	res := New(Context{Category: domain.CategoryJGAStudy, Dates: dates}).
		Normalize(context.Background(), parseRecord(t, "STUDY", xml))
	if res.Skipped() {
		t.Fatalf("Unexpected skip: %s", res.Skip)
	}
	doc := res.Doc

	if doc.Visibility != domain.VisibilityControlled {
		t.Errorf("Visibility = %q, want %q", doc.Visibility, domain.VisibilityControlled)
	}
	if doc.Title != "Cohort" || doc.Description != "abstract" {
		t.Errorf("Title/Description = %q/%q", doc.Title, doc.Description)
	}
	if doc.Organism == nil || doc.Organism.Identifier != "9606" {
		t.Errorf("Organism = %+v, want 9606", doc.Organism)
	}
	assertDate(t, "DateCreated", doc.DateCreated, "2014-07-07T12:00:00Z")
	assertDate(t, "DatePublished", doc.DatePublished, "2014-08-01T00:00:00Z")
	if doc.DateModified != nil {
		t.Errorf("DateModified = %q, want nil", *doc.DateModified)
	}
}

func TestNormalize_XrefsTruncated(t *testing.T) {
	resolver := &stubResolver{res: xref.Resolution{Truncated: []string{relstore.TableBioProjectBioSample}}}

	res := New(Context{Category: domain.CategoryBioProject, Resolver: resolver}).
		Normalize(context.Background(), parseRecord(t, "Package",
			`<Package><Project><Project><ProjectID><ArchiveID accession="PRJDB1"/></ProjectID></Project></Project></Package>`))
	if !res.XrefsTruncated || !res.Doc.DbXrefsTruncated {
		t.Errorf("Expected truncation to be reported, got %+v", res)
	}
}

func TestNormalize_RecoveredPropagates(t *testing.T) {
	rec := parseRecord(t, "BioSample", `<BioSample accession="SAMD1"/>`)
	rec.Recovered = true

	res := New(Context{Category: domain.CategoryBioSample}).Normalize(context.Background(), rec)
	if !res.Recovered {
		t.Error("Expected Recovered to carry over")
	}
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2014-07-07", "2014-07-07T00:00:00Z"},
		{"2014-07-07T01:02:03Z", "2014-07-07T01:02:03Z"},
		{"2014-07-07T09:00:00+09:00", "2014-07-07T00:00:00Z"},
		{"2014-07-07T01:02:03.123", "2014-07-07T01:02:03Z"},
		{"not a date", "not a date"},
	}
	for _, tt := range tests {
		got := normalizeDate(tt.in)
		if got == nil || *got != tt.want {
			t.Errorf("normalizeDate(%q) = %v, want %q", tt.in, got, tt.want)
		}
	}
	for _, blank := range []string{"", "  ", "-"} {
		if got := normalizeDate(blank); got != nil {
			t.Errorf("normalizeDate(%q) = %q, want nil", blank, *got)
		}
	}
}

func TestUpdateAt_TraversesLists(t *testing.T) {
	props := map[string]any{
		"A": []any{
			map[string]any{"B": "x"},
			map[string]any{"B": []any{"y", map[string]any{"content": "z"}}},
			map[string]any{"C": "untouched"},
		},
	}

	unifyObjects(props, []fieldRule{rule(contentObjects, "A", "B")}, 0)

	want := map[string]any{
		"A": []any{
			map[string]any{"B": []any{map[string]any{"content": "x"}}},
			map[string]any{"B": []any{map[string]any{"content": "y"}, map[string]any{"content": "z"}}},
			map[string]any{"C": "untouched"},
		},
	}
	if !reflect.DeepEqual(props, want) {
		t.Errorf("props = %#v\nwant %#v", props, want)
	}
}

func nest(leaf any, path ...string) map[string]any {
	node := map[string]any{path[len(path)-1]: leaf}
	for i := len(path) - 2; i >= 0; i-- {
		node = map[string]any{path[i]: node}
	}
	return node
}

func TestUnifyObjects_BareStringMatchesAttributedForm(t *testing.T) {
	tests := []struct {
		name       string
		path       []string
		attributed map[string]any
	}{
		{
			name:       "Agency",
			path:       []string{"Project", "Project", "ProjectDescr", "Grant", "Agency"},
			attributed: map[string]any{AbbrKey: "NIH", xmlrecord.ContentKey: "NIH"},
		},
		{
			name:       "Organization/Name",
			path:       []string{"Project", "Submission", "Description", "Organization", "Name"},
			attributed: map[string]any{AbbrKey: "NIH", xmlrecord.ContentKey: "NIH"},
		},
		{
			name:       "LocusTagPrefix",
			path:       []string{"Project", "Project", "ProjectDescr", "LocusTagPrefix"},
			attributed: map[string]any{xmlrecord.ContentKey: "NIH"},
		},
		{
			name:       "LocalID",
			path:       []string{"Project", "Project", "ProjectID", "LocalID"},
			attributed: map[string]any{xmlrecord.ContentKey: "NIH"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bare := nest("NIH", tt.path...)
			attributed := nest(tt.attributed, tt.path...)

			unifyObjects(bare, bioProjectRules, 0)
			unifyObjects(attributed, bioProjectRules, 0)

			got := get(bare, tt.path...)
			want := get(attributed, tt.path...)
			if got == nil {
				t.Fatalf("Expected %s to be present after unification", tt.name)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("bare form = %#v, attributed form = %#v", got, want)
			}
			if !reflect.DeepEqual(bare, attributed) {
				t.Errorf("records differ:\nbare       %#v\nattributed %#v", bare, attributed)
			}
		})
	}
}

func assertDate(t *testing.T, name string, got *string, want string) {
	t.Helper()
	if got == nil {
		t.Errorf("%s = nil, want %q", name, want)
		return
	}
	if *got != want {
		t.Errorf("%s = %q, want %q", name, *got, want)
	}
}
