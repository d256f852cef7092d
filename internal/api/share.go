package api

import (
	"net/http"
	"time"

	"github.com/sitevault/sitevault/internal/auth"
	"github.com/sitevault/sitevault/internal/sharing"
)

type shareLinkResponse struct {
	ShareLink string     `json:"shareLink"`
	Paths     []string   `json:"paths"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	Protected bool       `json:"protected"`
}

// handleCreateShare issues a share token for one or more paths. The
// singular filePath field and the paths list are both accepted; expiresIn
// is in hours and zero produces a link that is already expired.
func (s *Server) handleCreateShare(w http.ResponseWriter, r *http.Request) {
	claims := s.requireWrite(w, r)
	if claims == nil {
		return
	}
	var req struct {
		FilePath  string   `json:"filePath"`
		Paths     []string `json:"paths"`
		ExpiresIn int      `json:"expiresIn"`
		Password  string   `json:"password"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	paths := req.Paths
	if req.FilePath != "" {
		paths = append(paths, req.FilePath)
	}

	link, err := s.shares.Create(r.Context(), sharing.CreateOptions{
		Paths:          paths,
		OwnerID:        claims.UserID,
		Password:       req.Password,
		ExpiresInHours: req.ExpiresIn,
	})
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, shareLinkResponse{
		ShareLink: link.Token,
		Paths:     link.Paths,
		ExpiresAt: link.ExpiresAt,
		CreatedAt: link.CreatedAt,
		Protected: link.PasswordHash != "",
	})
}

func (s *Server) handleListShares(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		s.sendError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	links, err := s.shares.ListByOwner(r.Context(), claims.UserID)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	out := make([]shareLinkResponse, 0, len(links))
	for _, link := range links {
		out = append(out, shareLinkResponse{
			ShareLink: link.Token,
			Paths:     link.Paths,
			ExpiresAt: link.ExpiresAt,
			CreatedAt: link.CreatedAt,
			Protected: link.PasswordHash != "",
		})
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"shareLinks": out})
}

func (s *Server) handleRevokeShare(w http.ResponseWriter, r *http.Request) {
	claims := s.requireWrite(w, r)
	if claims == nil {
		return
	}
	token := r.PathValue("token")
	if err := s.shares.Revoke(r.Context(), token, claims.UserID, claims.IsAdmin()); err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"revoked": token})
}

// handleSharedDownload serves a shared file without authentication.
// Unknown tokens are 404, expired or revoked ones 410, a path outside
// the link's set 403. Links covering one path need no path parameter.
func (s *Server) handleSharedDownload(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	q := r.URL.Query()

	rel, err := s.shares.Resolve(r.Context(), token, q.Get("path"), q.Get("password"))
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.serveFile(w, r, rel, true)
}
