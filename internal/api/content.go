package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"

	"github.com/sitevault/sitevault/internal/metrics"
	"github.com/sitevault/sitevault/internal/vault"
)

// Files at or below this size are served through the download cache;
// anything larger streams straight from disk.
const cacheableFileSize = 32 << 20

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	claims := s.requireWrite(w, r)
	if claims == nil {
		return
	}
	var req struct {
		FolderName string `json:"folderName"`
		ParentPath string `json:"parentPath"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	rel, err := s.engine.CreateFolder(req.ParentPath, req.FolderName)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.recordActivity(r.Context(), claims, "created", rel, "folder")
	s.sendJSON(w, http.StatusCreated, map[string]string{"path": rel})
}

// handleUpload accepts a multipart form with one or more "files" parts
// and an optional "folderPath" field. Each file goes through the
// versioned write path, so overwriting an existing name snapshots it.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	claims := s.requireWrite(w, r)
	if claims == nil {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	folderPath := r.FormValue("folderPath")
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		s.sendError(w, http.StatusBadRequest, "no files in request")
		return
	}

	results := make([]vault.WriteResult, 0, len(files))
	for _, fh := range files {
		result, err := s.saveUploadedFile(folderPath, fh)
		if err != nil {
			metrics.RecordContentUpload(0, false)
			s.sendStorageError(w, r, err)
			return
		}
		metrics.RecordContentUpload(result.Size, true)
		s.invalidateCached(result.Path)
		s.recordActivity(r.Context(), claims, "created", result.Path, "upload")
		results = append(results, result)
	}
	s.sendJSON(w, http.StatusCreated, map[string]any{"files": results})
}

func (s *Server) saveUploadedFile(folderPath string, fh *multipart.FileHeader) (vault.WriteResult, error) {
	f, err := fh.Open()
	if err != nil {
		return vault.WriteResult{}, fmt.Errorf("open uploaded file: %w", err)
	}
	defer f.Close()
	return s.engine.WriteFile(path.Join(folderPath, fh.Filename), f)
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	claims := s.requireWrite(w, r)
	if claims == nil {
		return
	}
	var req struct {
		OldPath string `json:"oldPath"`
		NewName string `json:"newName"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	rel, err := s.engine.Rename(req.OldPath, req.NewName)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.invalidateCached(req.OldPath)
	s.recordActivity(r.Context(), claims, "renamed", rel, "from "+path.Base(req.OldPath))
	s.sendJSON(w, http.StatusOK, map[string]string{"path": rel})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	claims := s.requireWrite(w, r)
	if claims == nil {
		return
	}
	var req struct {
		SourcePath      string `json:"sourcePath"`
		DestinationPath string `json:"destinationPath"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	rel, err := s.engine.Move(req.SourcePath, req.DestinationPath)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.invalidateCached(req.SourcePath)
	s.recordActivity(r.Context(), claims, "moved", rel, "")
	s.sendJSON(w, http.StatusOK, map[string]string{"path": rel})
}

// handleDelete soft-deletes an item. Deleting a path that already sits
// in the trash purges it permanently instead.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
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
	trashed, err := s.engine.Delete(itemPath)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.invalidateCached(itemPath)
	action := "purged"
	if trashed {
		action = "deleted"
	}
	s.recordActivity(r.Context(), claims, action, itemPath, "")
	s.sendJSON(w, http.StatusOK, map[string]any{"trashed": trashed})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.serveFile(w, r, r.URL.Query().Get("path"), true)
}

// handlePreview serves a file inline, restricted to MIME classes a
// browser can render directly.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	filePath := r.URL.Query().Get("path")
	if filePath == "" {
		s.sendError(w, http.StatusBadRequest, "path is required")
		return
	}
	mimeType := vault.MimeType(path.Base(filePath))
	if !previewable(mimeType) {
		s.sendError(w, http.StatusBadRequest, "preview not supported for this file type")
		return
	}
	s.serveFile(w, r, filePath, false)
}

func previewable(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/") ||
		strings.HasPrefix(mimeType, "text/") ||
		strings.HasPrefix(mimeType, "application/pdf")
}

// serveFile sends file content, going through the download cache for
// small files. Cached entries may lag a concurrent overwrite by up to
// the cache TTL.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, filePath string, attachment bool) {
	if filePath == "" {
		s.sendError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, _, err := s.engine.ResolvePath(filePath)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}

	if data, ok := s.cache.Get(abs); ok {
		s.writeContent(w, filePath, data, attachment)
		metrics.RecordContentDownload(int64(len(data)), true)
		return
	}

	f, item, err := s.engine.Open(filePath)
	if err != nil {
		metrics.RecordContentDownload(0, false)
		s.sendStorageError(w, r, err)
		return
	}
	defer f.Close()

	if item.Size <= cacheableFileSize {
		data, err := io.ReadAll(f)
		if err != nil {
			metrics.RecordContentDownload(0, false)
			s.sendStorageError(w, r, err)
			return
		}
		s.cache.Put(abs, data)
		s.writeContent(w, filePath, data, attachment)
		metrics.RecordContentDownload(int64(len(data)), true)
		return
	}

	setContentHeaders(w, filePath, item.Size, attachment)
	n, err := io.Copy(w, f)
	metrics.RecordContentDownload(n, err == nil)
}

func (s *Server) writeContent(w http.ResponseWriter, filePath string, data []byte, attachment bool) {
	setContentHeaders(w, filePath, int64(len(data)), attachment)
	w.Write(data)
}

func setContentHeaders(w http.ResponseWriter, filePath string, size int64, attachment bool) {
	name := path.Base(filePath)
	w.Header().Set("Content-Type", vault.MimeType(name))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
	if attachment {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	} else {
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	}
}

// invalidateCached drops the cache entry for a path after an in-process
// mutation. Resolution failures are ignored; the entry would expire by
// TTL anyway.
func (s *Server) invalidateCached(filePath string) {
	abs, _, err := s.engine.ResolvePath(filePath)
	if err != nil {
		return
	}
	s.cache.Invalidate(abs)
}

func (s *Server) handleTrashList(w http.ResponseWriter, r *http.Request) {
	items, err := s.engine.TrashList(r.URL.Query().Get("search"))
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleTrashRestore(w http.ResponseWriter, r *http.Request) {
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
	if err := s.engine.Restore(req.ItemPath); err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.recordActivity(r.Context(), claims, "restored", req.ItemPath, "")
	s.sendJSON(w, http.StatusOK, map[string]string{"path": req.ItemPath})
}

func (s *Server) handleTrashPurge(w http.ResponseWriter, r *http.Request) {
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
	if err := s.engine.Purge(itemPath); err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.recordActivity(r.Context(), claims, "purged", itemPath, "")
	s.sendJSON(w, http.StatusOK, map[string]string{"path": itemPath})
}

// handleTrashEmpty purges everything in the trash. Admin only.
func (s *Server) handleTrashEmpty(w http.ResponseWriter, r *http.Request) {
	claims := s.requireAdmin(w, r)
	if claims == nil {
		return
	}
	count, err := s.engine.EmptyTrash()
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.recordActivity(r.Context(), claims, "purged", vault.TrashDir, fmt.Sprintf("%d items", count))
	s.sendJSON(w, http.StatusOK, map[string]int{"purged": count})
}
