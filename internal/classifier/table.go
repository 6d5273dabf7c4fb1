package classifier

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed categories.yaml
var defaultTableYAML []byte

var ErrEmptyTable = errors.New("category table has no categories")

type Category struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Keywords    []string `yaml:"keywords" json:"keywords"`
}

type tableFile struct {
	Categories []Category `yaml:"categories"`
}

// Table is an immutable, ordered set of categories. Table order breaks ties.
type Table struct {
	categories []Category
	index      map[string]int
}

var defaultTable = mustParse(defaultTableYAML)

func mustParse(data []byte) *Table {
	t, err := ParseTable(data)
	if err != nil {
		panic(fmt.Sprintf("built-in category table: %v", err))
	}
	return t
}

// Default returns the built-in eleven-category table.
func Default() *Table { return defaultTable }

// NewTable validates and copies categories. Keywords are lowercased and
// de-duplicated per category.
func NewTable(categories []Category) (*Table, error) {
	if len(categories) == 0 {
		return nil, ErrEmptyTable
	}
	t := &Table{index: make(map[string]int, len(categories))}
	for _, c := range categories {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("category without a name")
		}
		if _, dup := t.index[name]; dup {
			return nil, fmt.Errorf("category %q defined twice", name)
		}

		seen := make(map[string]bool, len(c.Keywords))
		var keywords []string
		for _, kw := range c.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" || seen[kw] {
				continue
			}
			seen[kw] = true
			keywords = append(keywords, kw)
		}
		if len(keywords) == 0 {
			return nil, fmt.Errorf("category %q has no keywords", name)
		}

		t.index[name] = len(t.categories)
		t.categories = append(t.categories, Category{
			Name:        name,
			Description: strings.TrimSpace(c.Description),
			Keywords:    keywords,
		})
	}
	return t, nil
}

func ParseTable(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse category table: %w", err)
	}
	return NewTable(f.Categories)
}

func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read category table: %w", err)
	}
	return ParseTable(data)
}

// LoadTableDir merges every .yaml/.yml file in dir, in directory order.
func LoadTableDir(dir string) (*Table, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read category directory: %w", err)
	}

	var all []Category
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(entry.Name(), ".yaml") && !strings.HasSuffix(entry.Name(), ".yml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", entry.Name(), err)
		}
		var f tableFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", entry.Name(), err)
		}
		all = append(all, f.Categories...)
	}
	return NewTable(all)
}

// Categories returns a copy of the categories in table order.
func (t *Table) Categories() []Category {
	out := make([]Category, len(t.categories))
	for i, c := range t.categories {
		c.Keywords = append([]string(nil), c.Keywords...)
		out[i] = c
	}
	return out
}

func (t *Table) Names() []string {
	names := make([]string, len(t.categories))
	for i, c := range t.categories {
		names[i] = c.Name
	}
	return names
}

func (t *Table) Description(name string) string {
	if i, ok := t.index[name]; ok {
		return t.categories[i].Description
	}
	return ""
}

func (t *Table) Len() int { return len(t.categories) }
