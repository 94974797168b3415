// Package catalog holds the country and market-segment choices offered by the
// ticket wizard and resolves list selections and free text against them.
package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	_ "embed"

	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/TicketPipe/internal/models"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Selection id prefixes.
const (
	CountryPrefix = "country_"
	SegmentPrefix = "segment_"
	// OtherCountrySelectionID selects the "other" country row.
	OtherCountrySelectionID = CountryPrefix + "other"
)

var (
	ErrEmptyCatalog = errors.New("catalog must define countries and segments")
	ErrDuplicateID  = errors.New("duplicate catalog id")
)

// Entry is one selectable catalog item.
type Entry struct {
	ID          int      `yaml:"id" json:"id"`
	Title       string   `yaml:"title" json:"title"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Aliases     []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
}

type alias struct {
	text  string
	entry Entry
}

// Catalog is an immutable set of countries and segments.
type Catalog struct {
	Countries    []Entry `yaml:"countries"`
	OtherCountry Entry   `yaml:"other_country"`
	Segments     []Entry `yaml:"segments"`

	countryAliases []alias
	segmentAliases []alias
	otherSynonyms  map[string]bool
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog file; an empty path yields the embedded default.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog %s: %w", path, err)
	}
	slog.Info("catalog.Load: loaded catalog override", "path", path, "countries", len(c.Countries), "segments", len(c.Segments))
	return c, nil
}

// Parse decodes and indexes a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(c.Countries) == 0 || len(c.Segments) == 0 || c.OtherCountry.ID == 0 {
		return nil, ErrEmptyCatalog
	}
	if err := checkUnique(append(append([]Entry{}, c.Countries...), c.OtherCountry)); err != nil {
		return nil, fmt.Errorf("countries: %w", err)
	}
	if err := checkUnique(c.Segments); err != nil {
		return nil, fmt.Errorf("segments: %w", err)
	}
	c.countryAliases = buildAliases(c.Countries)
	c.segmentAliases = buildAliases(c.Segments)
	c.otherSynonyms = map[string]bool{strings.ToLower(c.OtherCountry.Title): true}
	for _, a := range c.OtherCountry.Aliases {
		c.otherSynonyms[strings.ToLower(strings.TrimSpace(a))] = true
	}
	return &c, nil
}

func checkUnique(entries []Entry) error {
	seen := make(map[int]bool, len(entries))
	for _, e := range entries {
		if seen[e.ID] {
			return fmt.Errorf("%w: %d", ErrDuplicateID, e.ID)
		}
		seen[e.ID] = true
	}
	return nil
}

// buildAliases indexes titles and aliases, longest first, so that a more
// specific phrase wins over a shorter one it contains.
func buildAliases(entries []Entry) []alias {
	var out []alias
	for _, e := range entries {
		out = append(out, alias{text: strings.ToLower(e.Title), entry: e})
		for _, a := range e.Aliases {
			out = append(out, alias{text: strings.ToLower(strings.TrimSpace(a)), entry: e})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return len([]rune(out[i].text)) > len([]rune(out[j].text))
	})
	return out
}

func matchText(aliases []alias, text string) (Entry, bool) {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return Entry{}, false
	}
	for _, a := range aliases {
		if a.text != "" && strings.Contains(needle, a.text) {
			return a.entry, true
		}
	}
	return Entry{}, false
}

func parseSelection(prefix, selectionID string) (int, bool) {
	rest, ok := strings.CutPrefix(selectionID, prefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return id, true
}

// IsOther reports whether e is the "other" country sentinel.
func (c *Catalog) IsOther(e Entry) bool {
	return e.ID == c.OtherCountry.ID
}

// CountryByID returns the country (or the "other" sentinel) with the given id.
func (c *Catalog) CountryByID(id int) (Entry, bool) {
	if id == c.OtherCountry.ID {
		return c.OtherCountry, true
	}
	for _, e := range c.Countries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// CountryBySelection resolves a list selection id such as "country_90".
func (c *Catalog) CountryBySelection(selectionID string) (Entry, bool) {
	if selectionID == OtherCountrySelectionID {
		return c.OtherCountry, true
	}
	id, ok := parseSelection(CountryPrefix, selectionID)
	if !ok {
		return Entry{}, false
	}
	return c.CountryByID(id)
}

// CountryByText resolves free text. "Other" synonyms must match exactly;
// country names match as case-insensitive substrings.
func (c *Catalog) CountryByText(text string) (Entry, bool) {
	if c.otherSynonyms[strings.ToLower(strings.TrimSpace(text))] {
		return c.OtherCountry, true
	}
	return matchText(c.countryAliases, text)
}

// SegmentByID returns the segment with the given id.
func (c *Catalog) SegmentByID(id int) (Entry, bool) {
	for _, e := range c.Segments {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// SegmentBySelection resolves a list selection id such as "segment_1".
func (c *Catalog) SegmentBySelection(selectionID string) (Entry, bool) {
	id, ok := parseSelection(SegmentPrefix, selectionID)
	if !ok {
		return Entry{}, false
	}
	return c.SegmentByID(id)
}

// SegmentByText resolves free text against segment titles and aliases.
func (c *Catalog) SegmentByText(text string) (Entry, bool) {
	return matchText(c.segmentAliases, text)
}

// CountryRows returns the list rows for the country prompt, "other" last.
func (c *Catalog) CountryRows() []models.ListRow {
	rows := make([]models.ListRow, 0, len(c.Countries)+1)
	for _, e := range c.Countries {
		rows = append(rows, models.ListRow{ID: CountryPrefix + strconv.Itoa(e.ID), Title: e.Title, Description: e.Description})
	}
	rows = append(rows, models.ListRow{ID: OtherCountrySelectionID, Title: c.OtherCountry.Title, Description: c.OtherCountry.Description})
	return rows
}

// SegmentRows returns the list rows for the segment prompt.
func (c *Catalog) SegmentRows() []models.ListRow {
	rows := make([]models.ListRow, 0, len(c.Segments))
	for _, e := range c.Segments {
		rows = append(rows, models.ListRow{ID: SegmentPrefix + strconv.Itoa(e.ID), Title: e.Title, Description: e.Description})
	}
	return rows
}

// CountryNames lists country titles followed by the "other" title.
func (c *Catalog) CountryNames() []string {
	names := make([]string, 0, len(c.Countries)+1)
	for _, e := range c.Countries {
		names = append(names, e.Title)
	}
	return append(names, c.OtherCountry.Title)
}

// SegmentNames lists segment titles.
func (c *Catalog) SegmentNames() []string {
	names := make([]string, 0, len(c.Segments))
	for _, e := range c.Segments {
		names = append(names, e.Title)
	}
	return names
}
