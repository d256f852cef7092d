package vault

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

type staticFavorites struct {
	paths []string
}

func (f *staticFavorites) ListFavoritePaths(context.Context, int) ([]string, error) {
	return f.paths, nil
}

func newTestCatalog(t *testing.T, favorites ...string) (*Engine, *Catalog) {
	t.Helper()
	e := newTestEngine(t)
	return e, NewCatalog(e, &staticFavorites{paths: favorites})
}

func TestListPagination(t *testing.T) {
	e, c := newTestCatalog(t)
	for i := 0; i < 73; i++ {
		writeString(t, e, fmt.Sprintf("files/doc%03d.txt", i), "x")
	}

	page1, err := c.List(context.Background(), "files", 1, ListOptions{Page: 1})
	if err != nil {
		t.Fatalf("List page 1: %v", err)
	}
	if page1.TotalItems != 73 {
		t.Errorf("TotalItems = %d, want 73", page1.TotalItems)
	}
	if page1.TotalPages != 2 {
		t.Errorf("TotalPages = %d, want 2", page1.TotalPages)
	}
	if len(page1.Items) != 50 {
		t.Errorf("page 1 has %d items, want 50", len(page1.Items))
	}

	page2, err := c.List(context.Background(), "files", 1, ListOptions{Page: 2})
	if err != nil {
		t.Fatalf("List page 2: %v", err)
	}
	if len(page2.Items) != 23 {
		t.Errorf("page 2 has %d items, want 23", len(page2.Items))
	}

	// Out-of-range pages are empty, not errors
	page3, err := c.List(context.Background(), "files", 1, ListOptions{Page: 3})
	if err != nil {
		t.Fatalf("List page 3: %v", err)
	}
	if len(page3.Items) != 0 {
		t.Errorf("page 3 has %d items, want 0", len(page3.Items))
	}
	if page3.TotalItems != 73 {
		t.Errorf("page 3 TotalItems = %d, want 73", page3.TotalItems)
	}
}

func TestListSearch(t *testing.T) {
	e, c := newTestCatalog(t)
	writeString(t, e, "Meeting Notes.md", "x")
	writeString(t, e, "budget.xlsx", "x")
	writeString(t, e, "notes-2026.txt", "x")

	page, err := c.List(context.Background(), "", 1, ListOptions{Search: "NOTES"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("got %d items, want 2 (case-insensitive substring)", len(page.Items))
	}
}

func TestListSortByNameLocaleAware(t *testing.T) {
	e, c := newTestCatalog(t)
	for _, name := range []string{"b.txt", "A.txt", "a.txt"} {
		writeString(t, e, name, "x")
	}

	page, err := c.List(context.Background(), "", 1, ListOptions{SortBy: SortByName, SortOrder: SortAsc})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var names []string
	for _, item := range page.Items {
		names = append(names, item.Name)
	}
	// Case-insensitive collation groups the two "a" names before "b";
	// ASCII byte order would put "A.txt" first and "a.txt" last.
	if strings.ToLower(names[0]) != "a.txt" || strings.ToLower(names[1]) != "a.txt" || names[2] != "b.txt" {
		t.Errorf("order = %v, want the a-names before b.txt", names)
	}
}

func TestListSortBySizeDesc(t *testing.T) {
	e, c := newTestCatalog(t)
	writeString(t, e, "small.txt", "1")
	writeString(t, e, "large.txt", strings.Repeat("x", 100))
	writeString(t, e, "medium.txt", strings.Repeat("x", 10))

	page, err := c.List(context.Background(), "", 1, ListOptions{SortBy: SortBySize, SortOrder: SortDesc})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Items[0].Name != "large.txt" || page.Items[2].Name != "small.txt" {
		t.Errorf("order = %v, want large first, small last", page.Items)
	}
}

func TestListFavoriteFolder(t *testing.T) {
	e, c := newTestCatalog(t, "keep/real.txt", "gone/missing.txt")
	writeString(t, e, "keep/real.txt", "x")
	// gone/missing.txt is never created

	page, err := c.List(context.Background(), FavoriteFolder, 1, ListOptions{})
	if err != nil {
		t.Fatalf("List .favorite: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("got %d favorites, want 1 (missing target skipped)", len(page.Items))
	}
	if page.Items[0].Path != "keep/real.txt" {
		t.Errorf("favorite path = %q", page.Items[0].Path)
	}
	if !page.Items[0].IsFavorite {
		t.Error("favorite item not flagged as favorite")
	}
}

func TestListDecoratesFavorites(t *testing.T) {
	e, c := newTestCatalog(t, "docs/pinned.txt")
	writeString(t, e, "docs/pinned.txt", "x")
	writeString(t, e, "docs/plain.txt", "x")

	page, err := c.List(context.Background(), "docs", 1, ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, item := range page.Items {
		want := item.Path == "docs/pinned.txt"
		if item.IsFavorite != want {
			t.Errorf("item %s IsFavorite = %v, want %v", item.Path, item.IsFavorite, want)
		}
	}
}

func TestListHidesReservedRoots(t *testing.T) {
	e, c := newTestCatalog(t)
	writeString(t, e, "visible.txt", "x")
	writeString(t, e, "visible.txt", "y") // creates a version snapshot
	if _, err := e.Delete("visible.txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	writeString(t, e, "other.txt", "x")

	page, err := c.List(context.Background(), "", 1, ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, item := range page.Items {
		if item.Name == TrashDir || item.Name == VersionsDir {
			t.Errorf("reserved entry %q leaked into the listing", item.Name)
		}
	}
	if len(page.Items) != 1 {
		t.Errorf("got %d items, want 1", len(page.Items))
	}
}
