package domain

import "fmt"

// Category names an entity kind. It selects the normalization rules for a
// record and the relation tables consulted for its cross-references.
type Category string

// Known categories.
const (
	CategoryBioProject    Category = "bioproject"
	CategoryBioSample     Category = "biosample"
	CategorySRASubmission Category = "sra-submission"
	CategorySRAStudy      Category = "sra-study"
	CategorySRAExperiment Category = "sra-experiment"
	CategorySRARun        Category = "sra-run"
	CategorySRASample     Category = "sra-sample"
	CategorySRAAnalysis   Category = "sra-analysis"
	CategoryJGAStudy      Category = "jga-study"
	CategoryJGADataset    Category = "jga-dataset"
	CategoryJGAPolicy     Category = "jga-policy"
	CategoryJGADAC        Category = "jga-dac"
)

// Categories lists every convertible category in a stable order.
var Categories = []Category{
	CategoryBioProject,
	CategoryBioSample,
	CategorySRASubmission,
	CategorySRAStudy,
	CategorySRAExperiment,
	CategorySRARun,
	CategorySRASample,
	CategorySRAAnalysis,
	CategoryJGAStudy,
	CategoryJGADataset,
	CategoryJGAPolicy,
	CategoryJGADAC,
}

// recordTags maps each category to the XML element that delimits one record.
var recordTags = map[Category]string{
	CategoryBioProject:    "Package",
	CategoryBioSample:     "BioSample",
	CategorySRASubmission: "SUBMISSION",
	CategorySRAStudy:      "STUDY",
	CategorySRAExperiment: "EXPERIMENT",
	CategorySRARun:        "RUN",
	CategorySRASample:     "SAMPLE",
	CategorySRAAnalysis:   "ANALYSIS",
	CategoryJGAStudy:      "STUDY",
	CategoryJGADataset:    "DATASET",
	CategoryJGAPolicy:     "POLICY",
	CategoryJGADAC:        "DAC",
}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if _, ok := recordTags[c]; !ok {
		return "", fmt.Errorf("unknown category: %q", s)
	}
	return c, nil
}

// RecordTag returns the XML element name that delimits one record of c.
func (c Category) RecordTag() string {
	return recordTags[c]
}

// IsSRA reports whether c is one of the sequence-archive kinds.
func (c Category) IsSRA() bool {
	switch c {
	case CategorySRASubmission, CategorySRAStudy, CategorySRAExperiment,
		CategorySRARun, CategorySRASample, CategorySRAAnalysis:
		return true
	}
	return false
}

// IsJGA reports whether c is one of the controlled-access archive kinds.
func (c Category) IsJGA() bool {
	switch c {
	case CategoryJGAStudy, CategoryJGADataset, CategoryJGAPolicy, CategoryJGADAC:
		return true
	}
	return false
}

func (c Category) String() string {
	return string(c)
}
