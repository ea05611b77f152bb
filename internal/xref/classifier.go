package xref

import (
	"regexp"
	"strings"

	"github.com/sha1n/ddbj-search/internal/domain"
)

// Accession types that have no convertible category of their own.
const (
	TypeGEA           = "gea"
	TypeMetaboBank    = "metabobank"
	TypeINSDCAssembly = "insdc-assembly"
	TypeINSDCMaster   = "insdc-master"
	TypeGEO           = "geo"
	TypeHumanDBs      = "humandbs"
)

const searchEntryBase = "https://ddbj.nig.ac.jp/search/entry/"

type rule struct {
	typ     string
	pattern *regexp.Regexp
	url     func(id string) string
}

func entryURL(typ string) func(string) string {
	return func(id string) string {
		return searchEntryBase + typ + "/" + id
	}
}

func prefixURL(prefix string) func(string) string {
	return func(id string) string {
		return prefix + id
	}
}

func category(c domain.Category) string {
	return string(c)
}

// rules is evaluated in order and the first match wins.
// Specific prefixes must stay ahead of broad ones; the sequence-archive
// rules share one shape and differ only in the third letter.
var rules = []rule{
	{category(domain.CategoryJGAStudy), regexp.MustCompile(`^JGAS\d+$`), entryURL(category(domain.CategoryJGAStudy))},
	{category(domain.CategoryJGADataset), regexp.MustCompile(`^JGAD\d+$`), entryURL(category(domain.CategoryJGADataset))},
	{category(domain.CategoryJGAPolicy), regexp.MustCompile(`^JGAP\d+$`), entryURL(category(domain.CategoryJGAPolicy))},
	{category(domain.CategoryJGADAC), regexp.MustCompile(`^JGAC\d+$`), entryURL(category(domain.CategoryJGADAC))},
	{category(domain.CategoryBioProject), regexp.MustCompile(`^PRJ[A-Z]*\d+$`), entryURL(category(domain.CategoryBioProject))},
	{category(domain.CategoryBioSample), regexp.MustCompile(`^SAM[A-Z]*\d+$`), entryURL(category(domain.CategoryBioSample))},
	{category(domain.CategorySRASubmission), regexp.MustCompile(`^[DES]RA\d+$`), entryURL(category(domain.CategorySRASubmission))},
	{category(domain.CategorySRAStudy), regexp.MustCompile(`^[DES]RP\d+$`), entryURL(category(domain.CategorySRAStudy))},
	{category(domain.CategorySRAExperiment), regexp.MustCompile(`^[DES]RX\d+$`), entryURL(category(domain.CategorySRAExperiment))},
	{category(domain.CategorySRARun), regexp.MustCompile(`^[DES]RR\d+$`), entryURL(category(domain.CategorySRARun))},
	{category(domain.CategorySRASample), regexp.MustCompile(`^[DES]RS\d+$`), entryURL(category(domain.CategorySRASample))},
	{category(domain.CategorySRAAnalysis), regexp.MustCompile(`^[DES]RZ\d+$`), entryURL(category(domain.CategorySRAAnalysis))},
	{TypeGEA, regexp.MustCompile(`^E-GEAD-\d+$`), prefixURL("https://ddbj.nig.ac.jp/public/ddbj_database/gea/experiment/")},
	{TypeMetaboBank, regexp.MustCompile(`^MTBKS\d+$`), prefixURL("https://mb2.ddbj.nig.ac.jp/study/")},
	{TypeINSDCAssembly, regexp.MustCompile(`^GC[AF]_\d{9}(\.\d+)?$`), prefixURL("https://www.ncbi.nlm.nih.gov/datasets/genome/")},
	{TypeINSDCMaster, regexp.MustCompile(`^([A-Z]0{5}|[A-Z]{2}0{6}|[A-Z]{4,6}0{8,10}|[A-J][A-Z]{2}0{5})$`), prefixURL("https://getentry.ddbj.nig.ac.jp/getentry/na/")},
	{TypeGEO, regexp.MustCompile(`^GSE\d+$`), prefixURL("https://www.ncbi.nlm.nih.gov/geo/query/acc.cgi?acc=")},
	{TypeHumanDBs, regexp.MustCompile(`^hum\d+(\.v\d+)?$`), prefixURL("https://humandbs.dbcls.jp/")},
}

// Classify maps an accession to its type and canonical URL.
// It returns false for strings that match no rule; that is never an error.
func Classify(id string) (domain.Xref, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Xref{}, false
	}

	for _, r := range rules {
		if r.pattern.MatchString(id) {
			return domain.Xref{
				Identifier: id,
				Type:       r.typ,
				URL:        r.url(id),
			}, true
		}
	}
	return domain.Xref{}, false
}

// TypeOf returns the accession type of id, or "" when unclassifiable.
func TypeOf(id string) string {
	x, ok := Classify(id)
	if !ok {
		return ""
	}
	return x.Type
}
