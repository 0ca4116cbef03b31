package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"

	"resumeforge/internal/config"
	"resumeforge/internal/database"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDisplayName(t *testing.T) {
	cases := map[string]string{
		"modern_minimal":  "Modern Minimal",
		"classic":         "Classic",
		"two_column_DARK": "Two Column Dark",
	}
	for in, want := range cases {
		if got := DisplayName(in); got != want {
			t.Errorf("DisplayName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "modern_minimal.html", "<html>modern</html>")
	writeFile(t, dir, "classic.html", "<html>classic</html>")
	writeFile(t, dir, "notes.txt", "ignored")
	writeFile(t, dir, ManifestFile, `
templates:
  classic:
    name: Classic Serif
    description: Traditional single column layout
    category: Professional
    tags: [ats, serif]
`)

	got, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 templates, got %d", len(got))
	}

	classic, modern := got[0], got[1]
	if classic.ID != "classic" || classic.Name != "Classic Serif" || classic.Category != "professional" {
		t.Fatalf("manifest not applied: %+v", classic)
	}
	if len(classic.Tags) != 2 {
		t.Fatalf("expected tags from manifest, got %v", classic.Tags)
	}
	if modern.ID != "modern_minimal" || modern.Name != "Modern Minimal" || modern.Filename != "modern_minimal.html" {
		t.Fatalf("unexpected defaults: %+v", modern)
	}
	if modern.Markup != "<html>modern</html>" {
		t.Fatalf("markup not loaded: %q", modern.Markup)
	}
}

func TestLoadDirBadManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ManifestFile, "templates: [unclosed")
	if _, err := LoadDir(dir); err == nil {
		t.Fatal("expected manifest parse error")
	}
}

func sample() []Template {
	return []Template{
		{ID: "modern_minimal", Name: "Modern Minimal", Category: "modern", Tags: []string{"clean"}},
		{ID: "classic", Name: "Classic", Description: "Traditional résumé", Category: "professional"},
		{ID: "creative", Name: "Creative Splash", Category: "creative", Tags: []string{"Colour"}},
	}
}

func ids(ts []Template) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.ID)
	}
	return out
}

func TestFilter(t *testing.T) {
	cases := []struct {
		name     string
		query    string
		category string
		want     []string
	}{
		{"no filter", "", "", []string{"modern_minimal", "classic", "creative"}},
		{"all category", "", "ALL", []string{"modern_minimal", "classic", "creative"}},
		{"name", "MINIMAL", "", []string{"modern_minimal"}},
		{"accent insensitive description", "resume", "", []string{"classic"}},
		{"tag", "colour", "", []string{"creative"}},
		{"category", "", "professional", []string{"classic"}},
		{"query and category", "modern", "creative", []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ids(Filter(sample(), tc.query, tc.category))
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestCategories(t *testing.T) {
	got := Categories(sample())
	want := []string{"creative", "modern", "professional"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), config.DatabaseConfig{LogLevel: "silent"})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewStore(db)
}

func TestStoreSyncKeepsPreview(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	tpl := Template{ID: "classic", Name: "Classic", Filename: "classic.html", Markup: "<html>v1</html>", Tags: []string{"ats"}}
	if err := store.Sync(ctx, []Template{tpl}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := store.SetPreviewImage(ctx, "classic", "thumbnails/classic.jpg"); err != nil {
		t.Fatalf("set preview: %v", err)
	}

	tpl.Markup = "<html>v2</html>"
	tpl.Name = "Classic Serif"
	if err := store.Sync(ctx, []Template{tpl}); err != nil {
		t.Fatalf("resync: %v", err)
	}

	got, err := store.Get(ctx, "classic")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Markup != "<html>v2</html>" || got.Name != "Classic Serif" {
		t.Fatalf("sync did not update row: %+v", got)
	}
	if got.PreviewImageURL != "thumbnails/classic.jpg" {
		t.Fatalf("sync must keep preview url, got %q", got.PreviewImageURL)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "ats" {
		t.Fatalf("tags not round-tripped: %v", got.Tags)
	}

	byName, err := store.GetByFilename(ctx, "classic.html")
	if err != nil || byName.ID != "classic" {
		t.Fatalf("get by filename: %+v %v", byName, err)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Markup != "" {
		t.Fatalf("list should omit markup: %+v", list)
	}
}

func TestStoreNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.SetPreviewImage(context.Background(), "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
