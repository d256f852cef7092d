// Package postgres provides the PostgreSQL-backed metadata store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/containerd/errdefs"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/sitevault/sitevault/internal/logging"
	"github.com/sitevault/sitevault/internal/metadata"
	"github.com/sitevault/sitevault/internal/metrics"
)

// Store is a PostgreSQL metadata store.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL metadata store.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for use by other packages.
func (s *Store) DB() *sql.DB {
	return s.db
}

// UpdateConnectionMetrics updates the database connection metrics.
func (s *Store) UpdateConnectionMetrics() {
	stats := s.db.Stats()
	metrics.SetDBConnectionsOpen(stats.OpenConnections)
}

// Migrate runs SQL migration files.
func (s *Store) Migrate(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}

	for _, f := range files {
		logging.Info("running migration", zap.String("file", filepath.Base(f)))
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}

	return nil
}

// ─── Favorites ──────────────────────────────────────────────────────────────

// AddFavorite upserts a favorite; repeated adds are a no-op.
func (s *Store) AddFavorite(ctx context.Context, userID int, path string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO favorites (user_id, path) VALUES ($1, $2)
		 ON CONFLICT (user_id, path) DO NOTHING`,
		userID, path)
	if err != nil {
		return fmt.Errorf("add favorite: %w", err)
	}
	return nil
}

// RemoveFavorite deletes a favorite; absent rows are a no-op.
func (s *Store) RemoveFavorite(ctx context.Context, userID int, path string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM favorites WHERE user_id = $1 AND path = $2`,
		userID, path)
	if err != nil {
		return fmt.Errorf("remove favorite: %w", err)
	}
	return nil
}

// ListFavoritePaths returns the user's favorite paths, sorted.
func (s *Store) ListFavoritePaths(ctx context.Context, userID int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path FROM favorites WHERE user_id = $1 ORDER BY path`, userID)
	if err != nil {
		return nil, fmt.Errorf("list favorite paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan favorite path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// ─── Share links ────────────────────────────────────────────────────────────

func (s *Store) CreateShareLink(ctx context.Context, link *metadata.ShareLink) error {
	var passwordHash sql.NullString
	if link.PasswordHash != "" {
		passwordHash = sql.NullString{String: link.PasswordHash, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO share_links (token, paths, owner_id, password_hash, expires_at, revoked, created_at)
		 VALUES ($1, $2, $3, $4, $5, FALSE, $6)`,
		link.Token, pq.Array(link.Paths), link.OwnerID, passwordHash, link.ExpiresAt, link.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert share link: %w", err)
	}
	return nil
}

func (s *Store) GetShareLink(ctx context.Context, token string) (*metadata.ShareLink, error) {
	var link metadata.ShareLink
	var expiresAt sql.NullTime
	var passwordHash sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT token, paths, owner_id, password_hash, expires_at, revoked, created_at
		 FROM share_links WHERE token = $1`, token).
		Scan(&link.Token, pq.Array(&link.Paths), &link.OwnerID, &passwordHash,
			&expiresAt, &link.Revoked, &link.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("share link: %w", errdefs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query share link: %w", err)
	}

	if expiresAt.Valid {
		link.ExpiresAt = &expiresAt.Time
	}
	if passwordHash.Valid {
		link.PasswordHash = passwordHash.String
	}
	return &link, nil
}

func (s *Store) RevokeShareLink(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE share_links SET revoked = TRUE WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("revoke share link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("share link: %w", errdefs.ErrNotFound)
	}
	return nil
}

func (s *Store) ListShareLinksByOwner(ctx context.Context, ownerID int) ([]*metadata.ShareLink, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT token, paths, owner_id, password_hash, expires_at, revoked, created_at
		 FROM share_links
		 WHERE owner_id = $1 AND revoked = FALSE
		 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list share links: %w", err)
	}
	defer rows.Close()

	var links []*metadata.ShareLink
	for rows.Next() {
		var link metadata.ShareLink
		var expiresAt sql.NullTime
		var passwordHash sql.NullString
		if err := rows.Scan(&link.Token, pq.Array(&link.Paths), &link.OwnerID,
			&passwordHash, &expiresAt, &link.Revoked, &link.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan share link: %w", err)
		}
		if expiresAt.Valid {
			link.ExpiresAt = &expiresAt.Time
		}
		if passwordHash.Valid {
			link.PasswordHash = passwordHash.String
		}
		links = append(links, &link)
	}
	return links, rows.Err()
}

func (s *Store) CountActiveShareLinks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM share_links
		 WHERE revoked = FALSE AND (expires_at IS NULL OR expires_at > NOW())`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count share links: %w", err)
	}
	return count, nil
}

// ─── Chunk upload sessions ──────────────────────────────────────────────────

// CreateChunkSession records a session if none exists for the upload ID.
func (s *Store) CreateChunkSession(ctx context.Context, sess *metadata.ChunkSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chunk_sessions (upload_id, user_id, file_name, dest_path, total_chunks, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (upload_id) DO NOTHING`,
		sess.UploadID, sess.UserID, sess.FileName, sess.DestPath, sess.TotalChunks,
		sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create chunk session: %w", err)
	}
	return nil
}

// MarkChunkReceived records a chunk index; re-sends are idempotent.
func (s *Store) MarkChunkReceived(ctx context.Context, uploadID string, index int) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chunk_received (upload_id, chunk_index, received_at)
		 SELECT $1, $2, NOW() WHERE EXISTS (SELECT 1 FROM chunk_sessions WHERE upload_id = $1)
		 ON CONFLICT (upload_id, chunk_index) DO UPDATE SET received_at = NOW()`,
		uploadID, index)
	if err != nil {
		return fmt.Errorf("mark chunk received: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("chunk session: %w", errdefs.ErrNotFound)
	}
	return nil
}

func (s *Store) GetChunkSession(ctx context.Context, uploadID string) (*metadata.ChunkSession, error) {
	var sess metadata.ChunkSession
	err := s.db.QueryRowContext(ctx,
		`SELECT upload_id, user_id, file_name, dest_path, total_chunks, created_at, expires_at
		 FROM chunk_sessions WHERE upload_id = $1`, uploadID).
		Scan(&sess.UploadID, &sess.UserID, &sess.FileName, &sess.DestPath,
			&sess.TotalChunks, &sess.CreatedAt, &sess.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chunk session: %w", errdefs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query chunk session: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_index FROM chunk_received WHERE upload_id = $1 ORDER BY chunk_index`,
		uploadID)
	if err != nil {
		return nil, fmt.Errorf("query received chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, fmt.Errorf("scan chunk index: %w", err)
		}
		sess.Received = append(sess.Received, idx)
	}
	return &sess, rows.Err()
}

func (s *Store) DeleteChunkSession(ctx context.Context, uploadID string) error {
	// chunk_received rows cascade
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM chunk_sessions WHERE upload_id = $1`, uploadID)
	if err != nil {
		return fmt.Errorf("delete chunk session: %w", err)
	}
	return nil
}

func (s *Store) ExpiredChunkSessions(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT upload_id FROM chunk_sessions WHERE expires_at < $1`, now)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan upload id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ─── Activity log ───────────────────────────────────────────────────────────

func (s *Store) RecordActivity(ctx context.Context, e *metadata.ActivityEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity_log (id, user_id, username, action, path, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.UserID, e.Username, e.Action, e.Path, e.Detail, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

func (s *Store) ListActivity(ctx context.Context, limit int) ([]metadata.ActivityEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, username, action, path, COALESCE(detail, ''), created_at
		 FROM activity_log ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	var entries []metadata.ActivityEntry
	for rows.Next() {
		var e metadata.ActivityEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Username, &e.Action, &e.Path, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
