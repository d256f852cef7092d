// Package chunks receives ordered byte ranges of a large upload and
// reassembles them into a final object through the storage engine's
// versioned write path.
package chunks

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"time"

	"github.com/containerd/errdefs"
	"go.uber.org/zap"

	"github.com/sitevault/sitevault/internal/logging"
	"github.com/sitevault/sitevault/internal/metadata"
	"github.com/sitevault/sitevault/internal/metrics"
	"github.com/sitevault/sitevault/internal/vault"
)

const (
	defaultExpiry   = 24 * time.Hour
	cleanupInterval = 15 * time.Minute
)

// uploadIDPattern constrains client-chosen upload IDs so they can double
// as temp directory names.
var uploadIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// MissingChunkError reports a gap found during assembly. It matches
// errdefs.IsInvalidArgument.
type MissingChunkError struct {
	UploadID string
	Index    int
}

func (e *MissingChunkError) Error() string {
	return fmt.Sprintf("upload %s: missing chunk %d", e.UploadID, e.Index)
}

func (e *MissingChunkError) Unwrap() error { return errdefs.ErrInvalidArgument }

// SessionStore is the slice of the metadata store the assembler needs.
type SessionStore interface {
	CreateChunkSession(ctx context.Context, s *metadata.ChunkSession) error
	MarkChunkReceived(ctx context.Context, uploadID string, index int) error
	GetChunkSession(ctx context.Context, uploadID string) (*metadata.ChunkSession, error)
	DeleteChunkSession(ctx context.Context, uploadID string) error
	ExpiredChunkSessions(ctx context.Context, now time.Time) ([]string, error)
}

// Sink is where assembled uploads land.
type Sink interface {
	WriteFile(destPath string, content io.Reader) (vault.WriteResult, error)
}

// Assembler persists chunks under a per-upload temp directory and
// assembles them strictly by index, so out-of-order network delivery is
// tolerated as long as every index eventually arrives.
type Assembler struct {
	tempDir string
	store   SessionStore
	sink    Sink
	expiry  time.Duration
}

// New creates an assembler writing chunk files under tempDir.
func New(tempDir string, store SessionStore, sink Sink, expiry time.Duration) (*Assembler, error) {
	if expiry <= 0 {
		expiry = defaultExpiry
	}
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk temp dir: %w", err)
	}
	return &Assembler{tempDir: tempDir, store: store, sink: sink, expiry: expiry}, nil
}

// ChunkRequest carries one chunk of an upload.
type ChunkRequest struct {
	UploadID    string
	FileName    string
	DestPath    string // destination folder, relative to the storage root
	ChunkIndex  int
	TotalChunks int
	UserID      int
	Content     io.Reader
}

// Status reports upload progress.
type Status struct {
	UploadID    string `json:"uploadId"`
	TotalChunks int    `json:"totalChunks"`
	Received    []int  `json:"received"`
	Complete    bool   `json:"complete"`
}

func (a *Assembler) uploadDir(uploadID string) string {
	return filepath.Join(a.tempDir, uploadID)
}

func chunkFile(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("chunk_%06d", index))
}

// SaveChunk persists one chunk and records its index against the
// session. Re-sending an index overwrites the chunk file and leaves the
// received set unchanged, so retries are idempotent.
func (a *Assembler) SaveChunk(ctx context.Context, req ChunkRequest) (*Status, error) {
	if !uploadIDPattern.MatchString(req.UploadID) {
		return nil, fmt.Errorf("invalid upload id: %w", errdefs.ErrInvalidArgument)
	}
	if req.TotalChunks < 1 {
		return nil, fmt.Errorf("totalChunks must be positive: %w", errdefs.ErrInvalidArgument)
	}
	if req.ChunkIndex < 0 || req.ChunkIndex >= req.TotalChunks {
		return nil, fmt.Errorf("chunk index %d out of range [0,%d): %w",
			req.ChunkIndex, req.TotalChunks, errdefs.ErrInvalidArgument)
	}
	if err := vault.ValidateName(req.FileName); err != nil {
		return nil, err
	}

	now := time.Now()
	if err := a.store.CreateChunkSession(ctx, &metadata.ChunkSession{
		UploadID:    req.UploadID,
		UserID:      req.UserID,
		FileName:    req.FileName,
		DestPath:    req.DestPath,
		TotalChunks: req.TotalChunks,
		CreatedAt:   now,
		ExpiresAt:   now.Add(a.expiry),
	}); err != nil {
		return nil, err
	}

	dir := a.uploadDir(req.UploadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	// Write to temp file then rename, so a re-sent chunk replaces the
	// old bytes atomically.
	tmp, err := os.CreateTemp(dir, ".chunk-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create chunk temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, req.Content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("write chunk %d: %w", req.ChunkIndex, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("close chunk temp: %w", err)
	}
	if err := os.Rename(tmpName, chunkFile(dir, req.ChunkIndex)); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("store chunk %d: %w", req.ChunkIndex, err)
	}

	if err := a.store.MarkChunkReceived(ctx, req.UploadID, req.ChunkIndex); err != nil {
		return nil, err
	}
	metrics.RecordChunkReceived()

	return a.Status(ctx, req.UploadID)
}

// Session returns the session record for an upload.
func (a *Assembler) Session(ctx context.Context, uploadID string) (*metadata.ChunkSession, error) {
	return a.store.GetChunkSession(ctx, uploadID)
}

// Status returns progress for an upload.
func (a *Assembler) Status(ctx context.Context, uploadID string) (*Status, error) {
	sess, err := a.store.GetChunkSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	received := sess.Received
	if received == nil {
		received = []int{}
	}
	return &Status{
		UploadID:    uploadID,
		TotalChunks: sess.TotalChunks,
		Received:    received,
		Complete:    sess.ReceivedCount() == sess.TotalChunks,
	}, nil
}

// Complete assembles the upload: every index 0..totalChunks-1 must have
// a chunk file, whose bytes are appended in index order to a staging
// file that then moves into place through the sink's versioned write. A
// missing index fails with MissingChunkError before any final file is
// produced; the chunks are kept so completion can be retried once the
// gap is filled.
func (a *Assembler) Complete(ctx context.Context, uploadID string) (vault.WriteResult, error) {
	sess, err := a.store.GetChunkSession(ctx, uploadID)
	if err != nil {
		metrics.RecordChunkAssembly(false)
		return vault.WriteResult{}, err
	}

	if sess.ReceivedCount() != sess.TotalChunks {
		metrics.RecordChunkAssembly(false)
		return vault.WriteResult{}, fmt.Errorf("incomplete upload: received %d/%d chunks: %w",
			sess.ReceivedCount(), sess.TotalChunks, errdefs.ErrInvalidArgument)
	}

	dir := a.uploadDir(uploadID)
	staging, err := os.CreateTemp(a.tempDir, ".assembly-*.tmp")
	if err != nil {
		metrics.RecordChunkAssembly(false)
		return vault.WriteResult{}, fmt.Errorf("create staging file: %w", err)
	}
	stagingName := staging.Name()
	defer os.Remove(stagingName)

	for i := 0; i < sess.TotalChunks; i++ {
		chunk, err := os.Open(chunkFile(dir, i))
		if err != nil {
			staging.Close()
			if os.IsNotExist(err) {
				metrics.RecordChunkAssembly(false)
				return vault.WriteResult{}, &MissingChunkError{UploadID: uploadID, Index: i}
			}
			metrics.RecordChunkAssembly(false)
			return vault.WriteResult{}, fmt.Errorf("open chunk %d: %w", i, err)
		}
		_, err = io.Copy(staging, chunk)
		chunk.Close()
		if err != nil {
			staging.Close()
			metrics.RecordChunkAssembly(false)
			return vault.WriteResult{}, fmt.Errorf("append chunk %d: %w", i, err)
		}
	}

	if _, err := staging.Seek(0, io.SeekStart); err != nil {
		staging.Close()
		metrics.RecordChunkAssembly(false)
		return vault.WriteResult{}, fmt.Errorf("rewind staging file: %w", err)
	}

	dest := path.Join(sess.DestPath, sess.FileName)
	result, err := a.sink.WriteFile(dest, staging)
	staging.Close()
	if err != nil {
		metrics.RecordChunkAssembly(false)
		return vault.WriteResult{}, err
	}

	// Final file is in place; chunk files and the session are spent.
	if err := os.RemoveAll(dir); err != nil {
		logging.Warn("failed to remove upload temp dir",
			zap.String("upload_id", uploadID), zap.Error(err))
	}
	if err := a.store.DeleteChunkSession(ctx, uploadID); err != nil {
		logging.Warn("failed to delete chunk session",
			zap.String("upload_id", uploadID), zap.Error(err))
	}

	metrics.RecordChunkAssembly(true)
	logging.Info("chunked upload assembled",
		zap.String("upload_id", uploadID),
		zap.String("path", result.Path),
		zap.Int64("size", result.Size),
		zap.Int("chunks", sess.TotalChunks))
	return result, nil
}

// Abort discards an upload's chunks and session.
func (a *Assembler) Abort(ctx context.Context, uploadID string) error {
	if !uploadIDPattern.MatchString(uploadID) {
		return fmt.Errorf("invalid upload id: %w", errdefs.ErrInvalidArgument)
	}
	if _, err := a.store.GetChunkSession(ctx, uploadID); err != nil {
		return err
	}
	if err := os.RemoveAll(a.uploadDir(uploadID)); err != nil {
		return fmt.Errorf("remove upload dir: %w", err)
	}
	return a.store.DeleteChunkSession(ctx, uploadID)
}

// StartCleanup starts the background goroutine that discards expired
// upload sessions and their chunk files.
func (a *Assembler) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.cleanupExpired(ctx)
			}
		}
	}()
}

func (a *Assembler) cleanupExpired(ctx context.Context) {
	ids, err := a.store.ExpiredChunkSessions(ctx, time.Now())
	if err != nil {
		logging.Warn("chunk session cleanup query failed", zap.Error(err))
		return
	}
	for _, id := range ids {
		if err := os.RemoveAll(a.uploadDir(id)); err != nil {
			logging.Warn("failed to remove expired upload dir",
				zap.String("upload_id", id), zap.Error(err))
		}
		if err := a.store.DeleteChunkSession(ctx, id); err != nil {
			logging.Warn("failed to delete expired chunk session",
				zap.String("upload_id", id), zap.Error(err))
			continue
		}
		logging.Info("cleaned up expired chunked upload", zap.String("upload_id", id))
	}
}
