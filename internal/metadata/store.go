// Package metadata defines the records the storage engine keeps outside
// the filesystem: favorites, share tokens, chunk-upload sessions and the
// activity log. The filesystem remains the source of truth for file
// bytes; this store owns everything that cannot be derived from a stat.
package metadata

import (
	"context"
	"time"
)

// ShareLink is an opaque credential granting scoped, time-limited,
// unauthenticated read access to one or more paths.
type ShareLink struct {
	Token        string
	Paths        []string
	OwnerID      int
	PasswordHash string
	ExpiresAt    *time.Time
	Revoked      bool
	CreatedAt    time.Time
}

// ChunkSession tracks one in-progress chunked upload. Received indices
// are kept as a set so re-sending a chunk is idempotent.
type ChunkSession struct {
	UploadID    string
	UserID      int
	FileName    string
	DestPath    string
	TotalChunks int
	Received    []int // sorted chunk indices recorded so far
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// ReceivedCount returns the number of distinct chunks recorded.
func (s *ChunkSession) ReceivedCount() int { return len(s.Received) }

// ActivityEntry is a best-effort audit record of a storage mutation.
type ActivityEntry struct {
	ID        string    `json:"id"`
	UserID    int       `json:"userId"`
	Username  string    `json:"username"`
	Action    string    `json:"action"` // created, deleted, restored, purged, renamed, moved
	Path      string    `json:"path"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store is the metadata persistence contract. The postgres implementation
// backs production; the memory implementation backs tests and dev mode.
//
// Absent records are reported with errors matching errdefs.IsNotFound.
type Store interface {
	// Favorites
	AddFavorite(ctx context.Context, userID int, path string) error
	RemoveFavorite(ctx context.Context, userID int, path string) error
	ListFavoritePaths(ctx context.Context, userID int) ([]string, error)

	// Share links
	CreateShareLink(ctx context.Context, link *ShareLink) error
	GetShareLink(ctx context.Context, token string) (*ShareLink, error)
	RevokeShareLink(ctx context.Context, token string) error
	ListShareLinksByOwner(ctx context.Context, ownerID int) ([]*ShareLink, error)
	CountActiveShareLinks(ctx context.Context) (int64, error)

	// Chunk upload sessions
	CreateChunkSession(ctx context.Context, s *ChunkSession) error
	MarkChunkReceived(ctx context.Context, uploadID string, index int) error
	GetChunkSession(ctx context.Context, uploadID string) (*ChunkSession, error)
	DeleteChunkSession(ctx context.Context, uploadID string) error
	ExpiredChunkSessions(ctx context.Context, now time.Time) ([]string, error)

	// Activity log
	RecordActivity(ctx context.Context, e *ActivityEntry) error
	ListActivity(ctx context.Context, limit int) ([]ActivityEntry, error)

	Close() error
}
