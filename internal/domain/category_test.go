package domain

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseCategory(t *testing.T) {
	for _, c := range Categories {
		got, err := ParseCategory(string(c))
		if err != nil {
			t.Errorf("ParseCategory(%q) failed: %v", c, err)
		}
		if got != c {
			t.Errorf("ParseCategory(%q) = %q", c, got)
		}
		if c.RecordTag() == "" {
			t.Errorf("RecordTag for %q is empty", c)
		}
	}

	if _, err := ParseCategory("genbank"); err == nil {
		t.Error("Expected error for unknown category")
	}
}

func TestCategory_Families(t *testing.T) {
	tests := []struct {
		category Category
		sra      bool
		jga      bool
	}{
		{CategoryBioProject, false, false},
		{CategoryBioSample, false, false},
		{CategorySRARun, true, false},
		{CategorySRAAnalysis, true, false},
		{CategoryJGAStudy, false, true},
		{CategoryJGADAC, false, true},
	}

	for _, tt := range tests {
		if got := tt.category.IsSRA(); got != tt.sra {
			t.Errorf("%s.IsSRA() = %v, want %v", tt.category, got, tt.sra)
		}
		if got := tt.category.IsJGA(); got != tt.jga {
			t.Errorf("%s.IsJGA() = %v, want %v", tt.category, got, tt.jga)
		}
	}
}

func TestDocument_IdentifierOmittedWhenEmpty(t *testing.T) {
	doc := Document{Type: "biosample", Status: StatusPublic}

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Failed to marshal Document: %v", err)
	}
	if strings.Contains(string(data), `"identifier"`) {
		t.Errorf("Expected no identifier key, got %s", data)
	}
	if !strings.Contains(string(data), `"dateCreated":null`) {
		t.Errorf("Expected null dateCreated, got %s", data)
	}
}
