package vault

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/containerd/errdefs"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// FavoriteFolder is the virtual folder name that lists the acting user's
// favorites instead of a directory.
const FavoriteFolder = ".favorite"

// Sort fields accepted by List.
const (
	SortByName       = "name"
	SortBySize       = "size"
	SortByModifiedAt = "modifiedAt"
	SortByCreatedAt  = "createdAt"

	SortAsc  = "asc"
	SortDesc = "desc"
)

const defaultPageSize = 50

// ListOptions control filtering, ordering and pagination of a listing.
type ListOptions struct {
	Search    string
	SortBy    string
	SortOrder string
	Page      int
	PageSize  int
}

// Page is one page of a listing.
type Page struct {
	Items      []StorageItem `json:"items"`
	Page       int           `json:"page"`
	PageSize   int           `json:"pageSize"`
	TotalItems int           `json:"totalItems"`
	TotalPages int           `json:"totalPages"`
}

// FavoriteLister is the slice of the metadata store the catalog needs.
type FavoriteLister interface {
	ListFavoritePaths(ctx context.Context, userID int) ([]string, error)
}

// Catalog lists folders with favorite decoration, search, sorting and
// pagination.
type Catalog struct {
	engine    *Engine
	favorites FavoriteLister
}

// NewCatalog creates a catalog over the engine and favorites source.
func NewCatalog(engine *Engine, favorites FavoriteLister) *Catalog {
	return &Catalog{engine: engine, favorites: favorites}
}

// List returns one page of the folder at folderPath for the given user.
// The virtual folder ".favorite" lists the user's favorites, skipping
// any whose target no longer exists. Sorting by name is locale-aware
// (English collation, case-insensitive); out-of-range pages return an
// empty item set.
func (c *Catalog) List(ctx context.Context, folderPath string, userID int, opts ListOptions) (*Page, error) {
	favoritePaths, err := c.favorites.ListFavoritePaths(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	favoriteSet := make(map[string]struct{}, len(favoritePaths))
	for _, p := range favoritePaths {
		favoriteSet[p] = struct{}{}
	}

	var items []StorageItem
	if strings.Trim(folderPath, "/") == FavoriteFolder {
		items = c.listFavorites(favoritePaths)
	} else {
		items, err = c.listFolder(folderPath, favoriteSet)
		if err != nil {
			return nil, err
		}
	}

	if opts.Search != "" {
		needle := strings.ToLower(opts.Search)
		filtered := items[:0]
		for _, item := range items {
			if strings.Contains(strings.ToLower(item.Name), needle) {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}

	sortItems(items, opts.SortBy, opts.SortOrder)
	return paginate(items, opts.Page, opts.PageSize), nil
}

// listFavorites resolves each favorite path individually. Favorites are
// not cascaded when their target is deleted, so missing targets are
// skipped with a warning instead of failing the listing.
func (c *Catalog) listFavorites(paths []string) []StorageItem {
	items := make([]StorageItem, 0, len(paths))
	for _, p := range paths {
		item, err := c.engine.Stat(p)
		if err != nil {
			warnSkippedFavorite(p, err)
			continue
		}
		item.IsFavorite = true
		items = append(items, item)
	}
	return items
}

// listFolder reads one directory and stats each entry. The per-entry
// stat keeps the cost bounded by directory fan-out, not tree size.
func (c *Catalog) listFolder(folderPath string, favoriteSet map[string]struct{}) ([]StorageItem, error) {
	abs, rel, err := c.engine.resolve(folderPath)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("folder %s: %w", rel, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("read folder %s: %w", rel, err)
	}

	items := make([]StorageItem, 0, len(entries))
	for _, entry := range entries {
		if rel == "" && reservedRoot(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Entry vanished between readdir and stat; skip it.
			continue
		}
		itemRel := entry.Name()
		if rel != "" {
			itemRel = rel + "/" + entry.Name()
		}
		item := itemFromInfo(itemRel, info)
		_, item.IsFavorite = favoriteSet[item.Path]
		items = append(items, item)
	}
	return items, nil
}

func sortItems(items []StorageItem, sortBy, sortOrder string) {
	desc := sortOrder == SortDesc

	var less func(a, b StorageItem) bool
	switch sortBy {
	case SortBySize:
		less = func(a, b StorageItem) bool { return a.Size < b.Size }
	case SortByModifiedAt:
		less = func(a, b StorageItem) bool { return a.ModifiedAt.Before(b.ModifiedAt) }
	case SortByCreatedAt:
		less = func(a, b StorageItem) bool { return a.CreatedAt.Before(b.CreatedAt) }
	default: // SortByName
		coll := collate.New(language.English, collate.IgnoreCase)
		less = func(a, b StorageItem) bool { return coll.CompareString(a.Name, b.Name) < 0 }
	}

	sort.SliceStable(items, func(i, j int) bool {
		if desc {
			return less(items[j], items[i])
		}
		return less(items[i], items[j])
	})
}

func paginate(items []StorageItem, page, pageSize int) *Page {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}

	total := len(items)
	totalPages := (total + pageSize - 1) / pageSize

	start := (page - 1) * pageSize
	end := start + pageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	pageItems := items[start:end]
	if pageItems == nil {
		pageItems = []StorageItem{}
	}
	return &Page{
		Items:      pageItems,
		Page:       page,
		PageSize:   pageSize,
		TotalItems: total,
		TotalPages: totalPages,
	}
}
