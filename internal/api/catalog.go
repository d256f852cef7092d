package api

import (
	"net/http"
	"strconv"

	"github.com/sitevault/sitevault/internal/auth"
	"github.com/sitevault/sitevault/internal/vault"
)

// handleListItems serves one page of a folder listing. Query parameters:
// path, search, sortBy, sortOrder, page, pageSize.
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		s.sendError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	q := r.URL.Query()
	opts := vault.ListOptions{
		Search:    q.Get("search"),
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
		Page:      queryInt(q.Get("page"), 1),
		PageSize:  queryInt(q.Get("pageSize"), 0),
	}

	page, err := s.catalog.List(r.Context(), q.Get("path"), claims.UserID, opts)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, page)
}

// handleListVersions returns the retained snapshots for a file, newest
// first.
func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	itemPath := r.URL.Query().Get("itemPath")
	if itemPath == "" {
		s.sendError(w, http.StatusBadRequest, "itemPath is required")
		return
	}
	versions, err := s.engine.ListVersions(itemPath)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
