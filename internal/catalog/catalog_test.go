package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func mustDefault(t *testing.T) *Catalog {
	t.Helper()
	c, err := Default()
	if err != nil {
		t.Fatalf("Default() failed: %v", err)
	}
	return c
}

func TestCountryByText(t *testing.T) {
	c := mustDefault(t)
	tests := []struct {
		text   string
		wantID int
		wantOK bool
	}{
		{"Guatemala", 90, true},
		{"  guatemala ", 90, true},
		{"el proyecto está en costa rica", 50, true},
		{"PANAMÁ", 172, true},
		{"panama", 172, true},
		{"otro", 171, true},
		{"Diferente", 171, true},
		{"otro país", 0, false},
		{"Mexico", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		e, ok := c.CountryByText(tt.text)
		if ok != tt.wantOK || e.ID != tt.wantID {
			t.Errorf("CountryByText(%q) = %d,%v want %d,%v", tt.text, e.ID, ok, tt.wantID, tt.wantOK)
		}
	}
}

func TestCountryBySelection(t *testing.T) {
	c := mustDefault(t)
	if e, ok := c.CountryBySelection("country_90"); !ok || e.Title != "Guatemala" {
		t.Errorf("country_90 = %+v %v", e, ok)
	}
	if e, ok := c.CountryBySelection(OtherCountrySelectionID); !ok || !c.IsOther(e) || e.ID != 171 {
		t.Errorf("country_other = %+v %v", e, ok)
	}
	for _, bad := range []string{"country_1", "segment_1", "country_x", ""} {
		if _, ok := c.CountryBySelection(bad); ok {
			t.Errorf("CountryBySelection(%q) should fail", bad)
		}
	}
}

func TestTextAndSelectionAgree(t *testing.T) {
	c := mustDefault(t)
	byText, _ := c.CountryByText("Guatemala")
	bySel, _ := c.CountryBySelection("country_90")
	if byText.ID != bySel.ID {
		t.Errorf("text %d != selection %d", byText.ID, bySel.ID)
	}
}

func TestSegmentByTextLongestFirst(t *testing.T) {
	c := mustDefault(t)
	tests := []struct {
		text   string
		wantID int
	}{
		{"Residencial", 1},
		{"comercial", 2},
		{"C&I", 2},
		{"Almacenamiento Comercial", 7},
		{"almacenamiento c&i", 7},
		{"Almacenamiento UT", 6},
		{"utility", 3},
		{"miscelaneo", 4},
	}
	for _, tt := range tests {
		e, ok := c.SegmentByText(tt.text)
		if !ok || e.ID != tt.wantID {
			t.Errorf("SegmentByText(%q) = %d,%v want %d", tt.text, e.ID, ok, tt.wantID)
		}
	}
	if _, ok := c.SegmentByText("agricola"); ok {
		t.Error("unknown segment should not match")
	}
}

func TestSegmentBySelection(t *testing.T) {
	c := mustDefault(t)
	if e, ok := c.SegmentBySelection("segment_6"); !ok || e.Title != "Almacenamiento (UT)" {
		t.Errorf("segment_6 = %+v %v", e, ok)
	}
	if _, ok := c.SegmentBySelection("segment_5"); ok {
		t.Error("segment_5 does not exist")
	}
}

func TestRows(t *testing.T) {
	c := mustDefault(t)
	rows := c.CountryRows()
	if len(rows) != 9 || rows[0].ID != "country_90" || rows[8].ID != OtherCountrySelectionID {
		t.Errorf("unexpected country rows: %+v", rows)
	}
	if segs := c.SegmentRows(); len(segs) != 6 || segs[5].ID != "segment_7" {
		t.Errorf("unexpected segment rows: %+v", segs)
	}
	if names := c.CountryNames(); names[len(names)-1] != "Otro" {
		t.Errorf("other should be last: %v", names)
	}
}

func TestLoadOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	data := []byte(`
countries:
  - id: 1
    title: Chile
other_country:
  id: 99
  title: Otro
segments:
  - id: 1
    title: Residencial
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if e, ok := c.CountryByText("chile"); !ok || e.ID != 1 {
		t.Errorf("override not applied: %+v", e)
	}
	if e, ok := c.CountryByText("otro"); !ok || e.ID != 99 {
		t.Errorf("other title should be a synonym: %+v", e)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	if _, err := Parse([]byte(`countries: []`)); !errors.Is(err, ErrEmptyCatalog) {
		t.Errorf("expected ErrEmptyCatalog, got %v", err)
	}
	dup := []byte(`
countries:
  - {id: 1, title: A}
  - {id: 1, title: B}
other_country: {id: 2, title: Otro}
segments:
  - {id: 1, title: S}
`)
	if _, err := Parse(dup); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
