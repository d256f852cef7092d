// Package api provides the HTTP server and handlers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sitevault/sitevault/internal/auth"
	"github.com/sitevault/sitevault/internal/chunks"
	"github.com/sitevault/sitevault/internal/logging"
	"github.com/sitevault/sitevault/internal/metadata"
	"github.com/sitevault/sitevault/internal/metrics"
	"github.com/sitevault/sitevault/internal/sharing"
	"github.com/sitevault/sitevault/internal/vault"
)

// Server is the HTTP server.
type Server struct {
	engine        *vault.Engine
	catalog       *vault.Catalog
	cache         *vault.Cache
	assembler     *chunks.Assembler
	shares        *sharing.Registry
	meta          metadata.Store
	auth          *auth.Auth
	maxUploadSize int64
}

// NewServer creates a new server.
func NewServer(
	engine *vault.Engine,
	catalog *vault.Catalog,
	cache *vault.Cache,
	assembler *chunks.Assembler,
	shares *sharing.Registry,
	meta metadata.Store,
	authHandler *auth.Auth,
	maxUploadSize int64,
) *Server {
	return &Server{
		engine:        engine,
		catalog:       catalog,
		cache:         cache,
		assembler:     assembler,
		shares:        shares,
		meta:          meta,
		auth:          authHandler,
		maxUploadSize: maxUploadSize,
	}
}

// Handler returns the HTTP handler with auth, logging and metrics
// middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /storage/shared/{token}", s.handleSharedDownload)

	// Protected endpoints
	protected := http.NewServeMux()

	// Catalog
	protected.HandleFunc("GET /storage/items", s.handleListItems)
	protected.HandleFunc("GET /storage/versions", s.handleListVersions)

	// Content
	protected.HandleFunc("POST /storage/folder", s.handleCreateFolder)
	protected.HandleFunc("POST /storage/upload", s.handleUpload)
	protected.HandleFunc("PUT /storage/rename", s.handleRename)
	protected.HandleFunc("PUT /storage/move", s.handleMove)
	protected.HandleFunc("DELETE /storage/delete", s.handleDelete)
	protected.HandleFunc("GET /storage/download", s.handleDownload)
	protected.HandleFunc("GET /storage/preview", s.handlePreview)

	// Chunked uploads
	protected.HandleFunc("POST /storage/upload-chunk", s.handleUploadChunk)
	protected.HandleFunc("POST /storage/upload-chunk/complete", s.handleChunkComplete)
	protected.HandleFunc("GET /storage/upload-chunk/{uploadId}", s.handleChunkStatus)
	protected.HandleFunc("DELETE /storage/upload-chunk/{uploadId}", s.handleChunkAbort)

	// Trash
	protected.HandleFunc("GET /storage/trash/items", s.handleTrashList)
	protected.HandleFunc("PUT /storage/trash/restore", s.handleTrashRestore)
	protected.HandleFunc("DELETE /storage/trash/delete", s.handleTrashPurge)
	protected.HandleFunc("DELETE /storage/trash", s.handleTrashEmpty)

	// Share links
	protected.HandleFunc("POST /storage/share", s.handleCreateShare)
	protected.HandleFunc("GET /storage/share", s.handleListShares)
	protected.HandleFunc("DELETE /storage/share/{token}", s.handleRevokeShare)

	// Favorites
	protected.HandleFunc("POST /storage/favorite", s.handleAddFavorite)
	protected.HandleFunc("DELETE /storage/favorite", s.handleRemoveFavorite)

	// Activity log (admin)
	protected.HandleFunc("GET /storage/activity", s.handleActivity)

	mux.Handle("/storage/", s.auth.Middleware(protected))

	return metrics.Middleware(logging.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireWrite rejects guests on mutating endpoints. It writes the
// response itself and returns nil when the caller must bail out.
func (s *Server) requireWrite(w http.ResponseWriter, r *http.Request) *auth.Claims {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		s.sendError(w, http.StatusUnauthorized, "authentication required")
		return nil
	}
	if !claims.CanWrite() {
		s.sendError(w, http.StatusForbidden, "write access denied")
		return nil
	}
	return claims
}

// requireAdmin rejects everyone but admins.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) *auth.Claims {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		s.sendError(w, http.StatusUnauthorized, "authentication required")
		return nil
	}
	if !claims.IsAdmin() {
		s.sendError(w, http.StatusForbidden, "admin access required")
		return nil
	}
	return claims
}

// recordActivity writes a best-effort audit record. Failures are logged
// and never fail the request that triggered them.
func (s *Server) recordActivity(ctx context.Context, claims *auth.Claims, action, path, detail string) {
	if claims == nil {
		return
	}
	err := s.meta.RecordActivity(ctx, &metadata.ActivityEntry{
		ID:        uuid.NewString(),
		UserID:    claims.UserID,
		Username:  claims.Username,
		Action:    action,
		Path:      path,
		Detail:    detail,
		CreatedAt: time.Now(),
	})
	if err != nil {
		logging.Warn("failed to record activity",
			zap.String("action", action), zap.Error(err))
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}

// sendStorageError classifies a storage error into a status code. The
// error text is passed through for client errors; server errors get a
// generic body so internal detail never leaks.
func (s *Server) sendStorageError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errdefs.IsInvalidArgument(err):
		s.sendError(w, http.StatusBadRequest, err.Error())
	case errdefs.IsNotFound(err):
		s.sendError(w, http.StatusNotFound, err.Error())
	case errdefs.IsPermissionDenied(err):
		s.sendError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, sharing.ErrExpired):
		s.sendError(w, http.StatusGone, "share link expired")
	default:
		logging.Error("storage operation failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeBody decodes a JSON request body into dst; it writes the 400
// itself and reports whether decoding succeeded.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
