// Package taxonomy holds versioned, immutable CET category sets.
package taxonomy

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NoneCategoryID is the reserved pseudo-category for awards with no CET signal.
const NoneCategoryID = "none"

// Status of a category within its taxonomy version
type Status string

const (
	StatusActive  Status = "active"
	StatusRetired Status = "retired"
)

var (
	ErrInvalidTaxonomy  = errors.New("invalid taxonomy")
	ErrCategoryNotFound = errors.New("category not found")
)

//go:embed default.yaml
var defaultTaxonomy []byte

// Category is a single CET area
type Category struct {
	ID            string     `json:"id" yaml:"id"`
	Name          string     `json:"name" yaml:"name"`
	Definition    string     `json:"definition" yaml:"definition"`
	Parent        string     `json:"parent,omitempty" yaml:"parent,omitempty"`
	Keywords      []string   `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Version       string     `json:"version" yaml:"version,omitempty"`
	EffectiveDate time.Time  `json:"effective_date" yaml:"effective_date,omitempty"`
	RetiredDate   *time.Time `json:"retired_date,omitempty" yaml:"retired_date,omitempty"`
	Status        Status     `json:"status" yaml:"status,omitempty"`
}

// Taxonomy is an ordered category set for one version. It is never mutated
// after construction; accessors hand out copies.
type Taxonomy struct {
	version    string
	categories []Category
	index      map[string]int
}

type taxonomyFile struct {
	Version       string     `yaml:"version"`
	EffectiveDate time.Time  `yaml:"effective_date"`
	Categories    []Category `yaml:"categories"`
}

// New validates categories and builds a taxonomy for the given version
func New(version string, categories []Category) (*Taxonomy, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		return nil, fmt.Errorf("%w: version is required", ErrInvalidTaxonomy)
	}
	if len(categories) == 0 {
		return nil, fmt.Errorf("%w: no categories", ErrInvalidTaxonomy)
	}

	t := &Taxonomy{
		version:    version,
		categories: make([]Category, 0, len(categories)),
		index:      make(map[string]int, len(categories)),
	}

	for _, c := range categories {
		c = cloneCategory(c)
		c.ID = strings.TrimSpace(c.ID)
		if c.ID == "" {
			return nil, fmt.Errorf("%w: category with empty id", ErrInvalidTaxonomy)
		}
		if _, dup := t.index[c.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate category id %q", ErrInvalidTaxonomy, c.ID)
		}
		if c.Version == "" {
			c.Version = version
		} else if c.Version != version {
			return nil, fmt.Errorf("%w: category %q has version %q, taxonomy is %q", ErrInvalidTaxonomy, c.ID, c.Version, version)
		}
		if c.Status == "" {
			c.Status = StatusActive
		}
		if c.Status != StatusActive && c.Status != StatusRetired {
			return nil, fmt.Errorf("%w: category %q has unknown status %q", ErrInvalidTaxonomy, c.ID, c.Status)
		}
		if c.Name == "" {
			c.Name = c.ID
		}
		t.index[c.ID] = len(t.categories)
		t.categories = append(t.categories, c)
	}

	for _, c := range t.categories {
		if c.Parent == "" {
			continue
		}
		if c.Parent == c.ID {
			return nil, fmt.Errorf("%w: category %q is its own parent", ErrInvalidTaxonomy, c.ID)
		}
		if _, ok := t.index[c.Parent]; !ok {
			return nil, fmt.Errorf("%w: category %q references unknown parent %q", ErrInvalidTaxonomy, c.ID, c.Parent)
		}
	}

	none, ok := t.index[NoneCategoryID]
	if !ok {
		return nil, fmt.Errorf("%w: reserved category %q is missing", ErrInvalidTaxonomy, NoneCategoryID)
	}
	if t.categories[none].Status != StatusActive {
		return nil, fmt.Errorf("%w: reserved category %q must be active", ErrInvalidTaxonomy, NoneCategoryID)
	}

	return t, nil
}

// Parse decodes a YAML taxonomy document
func Parse(data []byte) (*Taxonomy, error) {
	var f taxonomyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode taxonomy: %w", err)
	}
	for i := range f.Categories {
		if f.Categories[i].EffectiveDate.IsZero() {
			f.Categories[i].EffectiveDate = f.EffectiveDate
		}
	}
	return New(f.Version, f.Categories)
}

// Load reads a YAML taxonomy file. An empty path yields the embedded default.
func Load(path string) (*Taxonomy, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy file: %w", err)
	}
	return Parse(data)
}

// Default returns the embedded CET taxonomy
func Default() (*Taxonomy, error) {
	return Parse(defaultTaxonomy)
}

// Version returns the taxonomy version tag
func (t *Taxonomy) Version() string { return t.version }

// Len returns the number of categories, retired included
func (t *Taxonomy) Len() int { return len(t.categories) }

// Categories returns a copy of all categories in taxonomy order
func (t *Taxonomy) Categories() []Category {
	out := make([]Category, len(t.categories))
	for i, c := range t.categories {
		out[i] = cloneCategory(c)
	}
	return out
}

// Active returns active categories in taxonomy order
func (t *Taxonomy) Active() []Category {
	out := make([]Category, 0, len(t.categories))
	for _, c := range t.categories {
		if c.Status == StatusActive {
			out = append(out, cloneCategory(c))
		}
	}
	return out
}

// IDs returns active category ids in taxonomy order
func (t *Taxonomy) IDs() []string {
	ids := make([]string, 0, len(t.categories))
	for _, c := range t.categories {
		if c.Status == StatusActive {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// Category looks up a category by id
func (t *Taxonomy) Category(id string) (Category, error) {
	i, ok := t.index[id]
	if !ok {
		return Category{}, fmt.Errorf("%w: %q", ErrCategoryNotFound, id)
	}
	return cloneCategory(t.categories[i]), nil
}

// Has reports whether id is an active category
func (t *Taxonomy) Has(id string) bool {
	i, ok := t.index[id]
	return ok && t.categories[i].Status == StatusActive
}

// Name returns the display name for id, or id itself when unknown
func (t *Taxonomy) Name(id string) string {
	if i, ok := t.index[id]; ok {
		return t.categories[i].Name
	}
	return id
}

// Order returns the taxonomy position of id; unknown ids sort last
func (t *Taxonomy) Order(id string) int {
	if i, ok := t.index[id]; ok {
		return i
	}
	return len(t.categories)
}

// Children returns the ids whose parent is id, sorted
func (t *Taxonomy) Children(id string) []string {
	var out []string
	for _, c := range t.categories {
		if c.Parent == id {
			out = append(out, c.ID)
		}
	}
	sort.Strings(out)
	return out
}

func cloneCategory(c Category) Category {
	if c.Keywords != nil {
		c.Keywords = append([]string(nil), c.Keywords...)
	}
	if c.RetiredDate != nil {
		d := *c.RetiredDate
		c.RetiredDate = &d
	}
	return c
}
