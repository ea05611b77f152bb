package bulkfile

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sha1n/ddbj-search/internal/domain"
)

func doc(id, title string) *domain.Document {
	return &domain.Document{
		Identifier: id,
		Type:       "bioproject",
		Title:      title,
		Status:     domain.StatusPublic,
		DbXrefs:    []domain.Xref{},
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()

	var lines []string
	s := bufio.NewScanner(f)
	for s.Scan() {
		lines = append(lines, s.Text())
	}
	return lines
}

func TestWriter_BulkPairFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "bioproject.jsonl")

	w, err := Create(path, "bioproject", 2)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	for _, d := range []*domain.Document{doc("PRJDB1", "one"), doc("PRJDB2", "two"), doc("PRJDB3", "three")} {
		if err := w.Add(d); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected no final file before Close")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != 6 {
		t.Fatalf("Expected 6 lines, got %d", len(lines))
	}
	if lines[0] != `{"index":{"_index":"bioproject","_id":"PRJDB1"}}` {
		t.Errorf("header = %s", lines[0])
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &body); err != nil {
		t.Fatalf("Invalid body JSON: %v", err)
	}
	if _, ok := body["identifier"]; ok {
		t.Error("Expected identifier to be removed from body")
	}
	if body["title"] != "one" {
		t.Errorf("title = %v, want one", body["title"])
	}

	stats := w.Stats()
	if stats.Written != 3 || stats.Batches != 2 {
		t.Errorf("Stats = %+v, want 3 written in 2 batches", stats)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("Expected temp file to be gone after Close")
	}
}

func TestWriter_DuplicateWithinBatchReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dup.jsonl")

	w, err := Create(path, "biosample", 10)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_ = w.Add(doc("SAMD1", "old"))
	_ = w.Add(doc("SAMD2", "other"))
	_ = w.Add(doc("SAMD1", "new"))
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	var ids, titles []string
	for e, err := range ReadEntries(strings.NewReader(strings.Join(readLines(t, path), "\n"))) {
		if err != nil {
			t.Fatalf("ReadEntries failed: %v", err)
		}
		var body map[string]any
		_ = json.Unmarshal(e.Body, &body)
		ids = append(ids, e.ID)
		titles = append(titles, body["title"].(string))
	}

	if strings.Join(ids, ",") != "SAMD1,SAMD2" {
		t.Errorf("ids = %v, want [SAMD1 SAMD2]", ids)
	}
	if titles[0] != "new" {
		t.Errorf("title of SAMD1 = %q, want %q", titles[0], "new")
	}
	if w.Stats().Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", w.Stats().Duplicates)
	}
}

func TestWriter_RejectsMissingIdentifier(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), "x.jsonl"), "x", 1)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer w.Abort()

	if err := w.Add(doc("", "no id")); err == nil {
		t.Error("Expected error for document without identifier")
	}
}

func TestReadEntries_Formats(t *testing.T) {
	input := strings.Join([]string{
		`{"index":{"_index":"i","_id":"A1"}}`,
		`{"title":"a"}`,
		``,
		`{"identifier":"A2","title":"b"}`,
		`{"title":"no id"}`,
		`not json`,
		`{"index":{"_index":"i"}}`,
		`{"title":"c"}`,
	}, "\n")

	var got []Entry
	for e, err := range ReadEntries(strings.NewReader(input)) {
		if err != nil {
			t.Fatalf("ReadEntries failed: %v", err)
		}
		got = append(got, e)
	}

	if len(got) != 5 {
		t.Fatalf("Expected 5 entries, got %d: %+v", len(got), got)
	}
	wantIDs := []string{"A1", "A2", "", "", ""}
	for i, e := range got {
		if e.ID != wantIDs[i] {
			t.Errorf("entry %d ID = %q, want %q", i, e.ID, wantIDs[i])
		}
		if (e.ID == "") != (e.Problem != "") {
			t.Errorf("entry %d: ID %q with Problem %q", i, e.ID, e.Problem)
		}
	}
	if string(got[0].Body) != `{"title":"a"}` {
		t.Errorf("entry 0 body = %s", got[0].Body)
	}
	if got[1].Line != 4 {
		t.Errorf("entry 1 Line = %d, want 4", got[1].Line)
	}
}

func TestReadEntries_TrailingHeader(t *testing.T) {
	var got []Entry
	for e, err := range ReadEntries(strings.NewReader(`{"index":{"_index":"i","_id":"A1"}}`)) {
		if err != nil {
			t.Fatalf("ReadEntries failed: %v", err)
		}
		got = append(got, e)
	}
	if len(got) != 1 || got[0].ID != "" || got[0].Problem == "" {
		t.Errorf("entries = %+v, want one keyless entry", got)
	}
}

func TestReadEntries_DeleteHeader(t *testing.T) {
	input := strings.Join([]string{
		`{"delete":{"_index":"i","_id":"D1"}}`,
		`{"index":{"_index":"i","_id":"A1"}}`,
		`{"title":"a"}`,
		`{"delete":{"_index":"i"}}`,
		`{"delete":{"_index":"i","_id":"D2"}}`,
	}, "\n")

	var got []Entry
	for e, err := range ReadEntries(strings.NewReader(input)) {
		if err != nil {
			t.Fatalf("ReadEntries failed: %v", err)
		}
		got = append(got, e)
	}

	if len(got) != 4 {
		t.Fatalf("Expected 4 entries, got %d: %+v", len(got), got)
	}
	wantIDs := []string{"D1", "A1", "", "D2"}
	wantDelete := []bool{true, false, true, true}
	for i, e := range got {
		if e.ID != wantIDs[i] {
			t.Errorf("entry %d ID = %q, want %q", i, e.ID, wantIDs[i])
		}
		if e.Delete != wantDelete[i] {
			t.Errorf("entry %d Delete = %v, want %v", i, e.Delete, wantDelete[i])
		}
	}
	if got[0].Body != nil {
		t.Errorf("Expected delete entry without body, got %s", got[0].Body)
	}
	if string(got[1].Body) != `{"title":"a"}` {
		t.Errorf("entry 1 body = %s", got[1].Body)
	}
	if got[2].Problem == "" {
		t.Error("Expected a problem for a delete header without _id")
	}
}

func TestOutputName(t *testing.T) {
	tests := map[string]string{
		"/data/ddbj_core_bioproject.xml": "ddbj_core_bioproject.jsonl",
		"biosample_set.xml.gz":           "biosample_set.jsonl",
		"jga-study":                      "jga-study.jsonl",
	}
	for in, want := range tests {
		if got := OutputName(in); got != want {
			t.Errorf("OutputName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestManifest_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestFilename)

	m := NewManifest("biosample", "biosample")
	if m.RunID == "" {
		t.Error("Expected a run id")
	}
	m.SetFile("a.jsonl", FileStats{Source: "a.xml", Records: 3, Written: 2, Skipped: map[string]int{"missing-identifier": 1}})
	m.SetFile("b.jsonl", FileStats{Source: "b.xml", Error: "boom"})
	m.Finish()

	if err := m.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}

	if loaded.RunID != m.RunID {
		t.Errorf("RunID = %q, want %q", loaded.RunID, m.RunID)
	}
	if got := loaded.FileNames(); strings.Join(got, ",") != "a.jsonl,b.jsonl" {
		t.Errorf("FileNames = %v", got)
	}
	if failed := loaded.Failed(); failed["b.jsonl"] != "boom" || len(failed) != 1 {
		t.Errorf("Failed = %v", failed)
	}
	totals := loaded.Totals()
	if totals.Records != 3 || totals.Skipped["missing-identifier"] != 1 {
		t.Errorf("Totals = %+v", totals)
	}
	if _, ok := loaded.File("a.jsonl"); !ok {
		t.Error("Expected a.jsonl to be recorded")
	}
}
