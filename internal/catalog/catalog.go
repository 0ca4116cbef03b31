// Package catalog manages the set of HTML resume templates users pick from.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// ManifestFile 是模板目录中可选的元数据文件。
const ManifestFile = "templates.yaml"

// CategoryAll disables category filtering.
const CategoryAll = "all"

// Template is one catalog entry. ID is the file stem.
type Template struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	Category        string   `json:"category,omitempty"`
	Filename        string   `json:"filename"`
	Tags            []string `json:"tags,omitempty"`
	PreviewImageURL string   `json:"preview_image_url,omitempty"`
	Markup          string   `json:"-"`
}

type manifestEntry struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Category    string   `yaml:"category"`
	Tags        []string `yaml:"tags"`
}

type manifest struct {
	Templates map[string]manifestEntry `yaml:"templates"`
}

// DisplayName derives a name from a file stem: "modern_minimal" -> "Modern Minimal".
func DisplayName(stem string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(stem, "_", " "))
}

// LoadDir reads every *.html file in dir, merging metadata from templates.yaml when present.
// Entries are sorted by ID.
func LoadDir(dir string) ([]Template, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.html"))
	if err != nil {
		return nil, fmt.Errorf("glob templates: %w", err)
	}

	var meta manifest
	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("parse %s: %w", ManifestFile, err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read %s: %w", ManifestFile, err)
	}

	out := make([]Template, 0, len(paths))
	for _, p := range paths {
		markup, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", p, err)
		}
		filename := filepath.Base(p)
		id := strings.TrimSuffix(filename, filepath.Ext(filename))

		t := Template{
			ID:       id,
			Name:     DisplayName(id),
			Filename: filename,
			Markup:   string(markup),
		}
		if m, ok := meta.Templates[id]; ok {
			if strings.TrimSpace(m.Name) != "" {
				t.Name = strings.TrimSpace(m.Name)
			}
			t.Description = strings.TrimSpace(m.Description)
			t.Category = strings.ToLower(strings.TrimSpace(m.Category))
			t.Tags = m.Tags
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// fold lower-cases and strips diacritics so "resume" matches "Résumé".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(out)
}

// Filter keeps templates whose name, description or tags contain query (case and accent
// insensitive) and whose category equals category. An empty query matches everything, and an
// empty or "all" category disables the category filter.
func Filter(templates []Template, query, category string) []Template {
	q := fold(strings.TrimSpace(query))
	cat := strings.ToLower(strings.TrimSpace(category))
	if cat == CategoryAll {
		cat = ""
	}

	out := make([]Template, 0, len(templates))
	for _, t := range templates {
		if cat != "" && strings.ToLower(t.Category) != cat {
			continue
		}
		if q != "" && !matches(t, q) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func matches(t Template, q string) bool {
	if strings.Contains(fold(t.Name), q) || strings.Contains(fold(t.Description), q) {
		return true
	}
	for _, tag := range t.Tags {
		if strings.Contains(fold(tag), q) {
			return true
		}
	}
	return false
}

// Categories returns the distinct non-empty categories, sorted.
func Categories(templates []Template) []string {
	seen := make(map[string]struct{})
	for _, t := range templates {
		if t.Category != "" {
			seen[t.Category] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
