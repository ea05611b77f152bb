package normalize

import (
	"strings"

	"github.com/sha1n/ddbj-search/internal/domain"
)

var bioProjectRules = []fieldRule{
	rule(collection, "Project", "Project", "ProjectDescr", "Grant"),
	rule(collection, "Project", "Project", "ProjectDescr", "Publication"),
	rule(collection, "Project", "Project", "ProjectDescr", "ExternalLink"),
	rule(collection, "Project", "Submission", "Description", "Organization"),
	rule(abbrObjects, "Project", "Project", "ProjectDescr", "Grant", "Agency"),
	rule(abbrObjects, "Project", "Submission", "Description", "Organization", "Name"),
	rule(contentObjects, "Project", "Project", "ProjectDescr", "LocusTagPrefix"),
	rule(collection, "Project", "Project", "ProjectDescr", "LocusTagPrefix"),
	rule(contentObjects, "Project", "Project", "ProjectID", "LocalID"),
	rule(collection, "Project", "Project", "ProjectID", "LocalID"),
}

var bioSampleRules = []fieldRule{
	rule(contentObjects, "Ids", "Id"),
	rule(collection, "Ids", "Id"),
	rule(collection, "Attributes", "Attribute"),
	rule(collection, "Links", "Link"),
	rule(contentObjects, "Models", "Model"),
	rule(abbrObjects, "Owner", "Name"),
}

// archiveRules covers the sequence and controlled-access archives, whose
// link and attribute containers are named after the record element.
func archiveRules(tag string) []fieldRule {
	return []fieldRule{
		rule(contentObjects, "IDENTIFIERS", "SECONDARY_ID"),
		rule(contentObjects, "IDENTIFIERS", "SUBMITTER_ID"),
		rule(contentObjects, "IDENTIFIERS", "EXTERNAL_ID"),
		rule(collection, tag+"_LINKS", tag+"_LINK"),
		rule(collection, tag+"_ATTRIBUTES", tag+"_ATTRIBUTE"),
		rule(collection, "CONTACTS", "CONTACT"),
		rule(collection, "DATA_REFS", "DATA_REF"),
		rule(collection, "ANALYSIS_REFS", "ANALYSIS_REF"),
	}
}

func bioProject(props map[string]any) fields {
	root := get(props, "Project")
	id := text(root, "Project", "ProjectID", "ArchiveID", "accession")

	center := text(root, "Project", "ProjectID", "ArchiveID", "archive")
	if center == "" {
		center = centerFromPrefix(id, "PRJ")
	}

	org := get(root, "Project", "ProjectType", "ProjectTypeSubmission", "Target", "Organism")
	if org == nil {
		org = get(root, "Project", "ProjectType", "ProjectTypeTopAdmin", "Organism")
	}

	return fields{
		identifier: id,
		center:     strings.ToUpper(center),
		title: firstText(root,
			p("Project", "ProjectDescr", "Title"),
			p("Project", "ProjectDescr", "Name")),
		description: text(root, "Project", "ProjectDescr", "Description"),
		organism:    organism(text(org, "taxID"), text(org, "OrganismName")),
		created:     text(root, "Submission", "submitted"),
		modified:    text(root, "Submission", "last_update"),
		published:   text(root, "Project", "ProjectDescr", "ProjectReleaseDate"),
	}
}

func bioSample(props map[string]any) fields {
	id := text(props, "accession")
	if id == "" {
		for _, item := range asList(get(props, "Ids", "Id")) {
			if m, ok := item.(map[string]any); ok && m["db"] == "BioSample" {
				id, _ = m["content"].(string)
				break
			}
		}
	}

	org := get(props, "Description", "Organism")
	name := text(org, "taxonomy_name")
	if name == "" {
		name = text(org, "OrganismName")
	}

	return fields{
		identifier: strings.TrimSpace(id),
		center:     centerFromPrefix(id, "SAM"),
		title: firstText(props,
			p("Description", "Title"),
			p("Description", "SampleName")),
		description: joinedText(props, "Description", "Comment", "Paragraph"),
		organism:    organism(text(org, "taxonomy_id"), name),
		created:     text(props, "submission_date"),
		modified:    text(props, "last_update"),
		published:   text(props, "publication_date"),
		status:      bioSampleStatus(text(props, "Status", "status")),
	}
}

func bioSampleStatus(s string) string {
	if s == "live" {
		return domain.StatusPublic
	}
	return s
}

func sra(props map[string]any) fields {
	id := archiveIdentifier(props)
	center := ""
	if id != "" {
		center = centerFromLetter(id[0])
	}

	return fields{
		identifier: id,
		center:     center,
		title: firstText(props,
			p("TITLE"),
			p("DESCRIPTOR", "STUDY_TITLE"),
			p("title")),
		description: firstText(props,
			p("DESCRIPTION"),
			p("DESCRIPTOR", "STUDY_ABSTRACT"),
			p("DESCRIPTOR", "STUDY_DESCRIPTION"),
			p("DESIGN", "DESIGN_DESCRIPTION")),
		organism: organism(
			text(props, "SAMPLE_NAME", "TAXON_ID"),
			text(props, "SAMPLE_NAME", "SCIENTIFIC_NAME")),
	}
}

// The controlled-access archive only holds human data.
var jgaOrganism = domain.Organism{Identifier: "9606", Name: "Homo sapiens"}

func jga(props map[string]any) fields {
	org := jgaOrganism
	return fields{
		identifier: archiveIdentifier(props),
		center:     CenterDDBJ,
		title: firstText(props,
			p("DESCRIPTOR", "STUDY_TITLE"),
			p("TITLE")),
		description: firstText(props,
			p("DESCRIPTOR", "STUDY_ABSTRACT"),
			p("DESCRIPTION"),
			p("POLICY_TEXT")),
		organism: &org,
	}
}

func archiveIdentifier(props map[string]any) string {
	return firstText(props,
		p("accession"),
		p("IDENTIFIERS", "PRIMARY_ID"))
}

func organism(taxID, name string) *domain.Organism {
	if taxID == "" && name == "" {
		return nil
	}
	return &domain.Organism{Identifier: taxID, Name: name}
}

// centerFromPrefix reads the submitting center from the letter after prefix,
// as in PRJDB1 or SAMN2.
func centerFromPrefix(id, prefix string) string {
	if !strings.HasPrefix(id, prefix) || len(id) <= len(prefix) {
		return ""
	}
	return centerFromLetter(id[len(prefix)])
}

func centerFromLetter(c byte) string {
	switch c {
	case 'D':
		return CenterDDBJ
	case 'S', 'N':
		return CenterNCBI
	case 'E':
		return CenterEBI
	}
	return ""
}
