package api

import (
	"net/http"
	"strconv"

	"github.com/sitevault/sitevault/internal/chunks"
)

// handleUploadChunk accepts one chunk of a chunked upload. The chunk
// bytes are the request body; uploadId, fileName, destinationPath,
// chunkIndex and totalChunks arrive as query parameters.
func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	claims := s.requireWrite(w, r)
	if claims == nil {
		return
	}

	q := r.URL.Query()
	chunkIndex, err := strconv.Atoi(q.Get("chunkIndex"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "chunkIndex must be an integer")
		return
	}
	totalChunks, err := strconv.Atoi(q.Get("totalChunks"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "totalChunks must be an integer")
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	status, err := s.assembler.SaveChunk(r.Context(), chunks.ChunkRequest{
		UploadID:    q.Get("uploadId"),
		FileName:    q.Get("fileName"),
		DestPath:    q.Get("destinationPath"),
		ChunkIndex:  chunkIndex,
		TotalChunks: totalChunks,
		UserID:      claims.UserID,
		Content:     body,
	})
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, status)
}

// handleChunkComplete assembles a finished upload into its destination
// through the versioned write path.
func (s *Server) handleChunkComplete(w http.ResponseWriter, r *http.Request) {
	claims := s.requireWrite(w, r)
	if claims == nil {
		return
	}
	var req struct {
		UploadID string `json:"uploadId"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	if !s.ownsUpload(w, r, req.UploadID) {
		return
	}

	result, err := s.assembler.Complete(r.Context(), req.UploadID)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.invalidateCached(result.Path)
	s.recordActivity(r.Context(), claims, "created", result.Path, "chunked upload")
	s.sendJSON(w, http.StatusCreated, result)
}

func (s *Server) handleChunkStatus(w http.ResponseWriter, r *http.Request) {
	uploadID := r.PathValue("uploadId")
	if !s.ownsUpload(w, r, uploadID) {
		return
	}
	status, err := s.assembler.Status(r.Context(), uploadID)
	if err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, status)
}

func (s *Server) handleChunkAbort(w http.ResponseWriter, r *http.Request) {
	claims := s.requireWrite(w, r)
	if claims == nil {
		return
	}
	uploadID := r.PathValue("uploadId")
	if !s.ownsUpload(w, r, uploadID) {
		return
	}
	if err := s.assembler.Abort(r.Context(), uploadID); err != nil {
		s.sendStorageError(w, r, err)
		return
	}
	s.recordActivity(r.Context(), claims, "deleted", uploadID, "upload aborted")
	s.sendJSON(w, http.StatusOK, map[string]string{"uploadId": uploadID})
}

// ownsUpload verifies that the session exists and belongs to the caller
// (admins may act on any upload). It writes the response itself and
// reports whether the caller may proceed.
func (s *Server) ownsUpload(w http.ResponseWriter, r *http.Request, uploadID string) bool {
	claims := s.requireWrite(w, r)
	if claims == nil {
		return false
	}
	sess, err := s.assembler.Session(r.Context(), uploadID)
	if err != nil {
		s.sendStorageError(w, r, err)
		return false
	}
	if sess.UserID != claims.UserID && !claims.IsAdmin() {
		s.sendError(w, http.StatusForbidden, "upload belongs to another user")
		return false
	}
	return true
}
