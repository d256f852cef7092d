package api

import (
	"net/http"
	"strconv"
)

// handleAddFavorite marks a path as a favorite for the calling user.
// The target must exist; adding an existing favorite is a no-op.
func (s *Server) handleAddFavorite(w http.ResponseWriter, r *http.Request) {
	claims := s.requireWrite(w, r)
	if claims == nil {
		return
	}
	var req struct {
		ItemPath string `json:"itemPath"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	item, err := s.engine.Stat(req.ItemPath)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	if err := s.meta.AddFavorite(r.Context(), claims.UserID, item.Path); err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"path": item.Path})
}

// handleRemoveFavorite removes a favorite. The target file may already
// be gone; favorites are not cascaded, so removal works on the recorded
// path alone.
func (s *Server) handleRemoveFavorite(w http.ResponseWriter, r *http.Request) {
	claims := s.requireWrite(w, r)
	if claims == nil {
		return
	}
	itemPath := r.URL.Query().Get("itemPath")
	if itemPath == "" {
		var req struct {
			ItemPath string `json:"itemPath"`
		}
		if !s.decodeBody(w, r, &req) {
			return
		}
		itemPath = req.ItemPath
	}
	if err := s.meta.RemoveFavorite(r.Context(), claims.UserID, itemPath); err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"path": itemPath})
}

// handleActivity returns recent audit records. Admin only.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if claims := s.requireAdmin(w, r); claims == nil {
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	entries, err := s.meta.ListActivity(r.Context(), limit)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"activity": entries})
}
