// Package memory provides an in-memory metadata store. It backs unit
// tests and the METADATA_BACKEND=memory dev mode; nothing survives a
// restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/containerd/errdefs"

	"github.com/sitevault/sitevault/internal/metadata"
)

type favoriteKey struct {
	userID int
	path   string
}

// Store is a mutex-guarded in-memory metadata store.
type Store struct {
	mu        sync.RWMutex
	favorites map[favoriteKey]struct{}
	shares    map[string]*metadata.ShareLink
	sessions  map[string]*sessionState
	activity  []metadata.ActivityEntry
}

type sessionState struct {
	session  metadata.ChunkSession
	received map[int]struct{}
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		favorites: make(map[favoriteKey]struct{}),
		shares:    make(map[string]*metadata.ShareLink),
		sessions:  make(map[string]*sessionState),
	}
}

// ─── Favorites ──────────────────────────────────────────────────────────────

func (s *Store) AddFavorite(_ context.Context, userID int, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.favorites[favoriteKey{userID, path}] = struct{}{}
	return nil
}

func (s *Store) RemoveFavorite(_ context.Context, userID int, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.favorites, favoriteKey{userID, path})
	return nil
}

func (s *Store) ListFavoritePaths(_ context.Context, userID int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var paths []string
	for k := range s.favorites {
		if k.userID == userID {
			paths = append(paths, k.path)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// ─── Share links ────────────────────────────────────────────────────────────

func (s *Store) CreateShareLink(_ context.Context, link *metadata.ShareLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shares[link.Token]; ok {
		return fmt.Errorf("share link %s already exists", link.Token)
	}
	cp := *link
	cp.Paths = append([]string(nil), link.Paths...)
	s.shares[link.Token] = &cp
	return nil
}

func (s *Store) GetShareLink(_ context.Context, token string) (*metadata.ShareLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.shares[token]
	if !ok {
		return nil, fmt.Errorf("share link: %w", errdefs.ErrNotFound)
	}
	cp := *link
	cp.Paths = append([]string(nil), link.Paths...)
	return &cp, nil
}

func (s *Store) RevokeShareLink(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.shares[token]
	if !ok {
		return fmt.Errorf("share link: %w", errdefs.ErrNotFound)
	}
	link.Revoked = true
	return nil
}

func (s *Store) ListShareLinksByOwner(_ context.Context, ownerID int) ([]*metadata.ShareLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var links []*metadata.ShareLink
	for _, link := range s.shares {
		if link.OwnerID != ownerID || link.Revoked {
			continue
		}
		cp := *link
		cp.Paths = append([]string(nil), link.Paths...)
		links = append(links, &cp)
	}
	sort.Slice(links, func(i, j int) bool { return links[i].CreatedAt.After(links[j].CreatedAt) })
	return links, nil
}

func (s *Store) CountActiveShareLinks(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	var count int64
	for _, link := range s.shares {
		if link.Revoked {
			continue
		}
		if link.ExpiresAt != nil && now.After(*link.ExpiresAt) {
			continue
		}
		count++
	}
	return count, nil
}

// ─── Chunk sessions ─────────────────────────────────────────────────────────

func (s *Store) CreateChunkSession(_ context.Context, sess *metadata.ChunkSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.UploadID]; ok {
		return nil // first-chunk races are benign; keep the existing session
	}
	s.sessions[sess.UploadID] = &sessionState{
		session:  *sess,
		received: make(map[int]struct{}),
	}
	return nil
}

func (s *Store) MarkChunkReceived(_ context.Context, uploadID string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[uploadID]
	if !ok {
		return fmt.Errorf("chunk session: %w", errdefs.ErrNotFound)
	}
	st.received[index] = struct{}{}
	return nil
}

func (s *Store) GetChunkSession(_ context.Context, uploadID string) (*metadata.ChunkSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[uploadID]
	if !ok {
		return nil, fmt.Errorf("chunk session: %w", errdefs.ErrNotFound)
	}
	cp := st.session
	cp.Received = make([]int, 0, len(st.received))
	for idx := range st.received {
		cp.Received = append(cp.Received, idx)
	}
	sort.Ints(cp.Received)
	return &cp, nil
}

func (s *Store) DeleteChunkSession(_ context.Context, uploadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, uploadID)
	return nil
}

func (s *Store) ExpiredChunkSessions(_ context.Context, now time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, st := range s.sessions {
		if now.After(st.session.ExpiresAt) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// ─── Activity log ───────────────────────────────────────────────────────────

func (s *Store) RecordActivity(_ context.Context, e *metadata.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = append(s.activity, *e)
	return nil
}

func (s *Store) ListActivity(_ context.Context, limit int) ([]metadata.ActivityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.activity)
	if limit > 0 && limit < n {
		n = limit
	}
	entries := make([]metadata.ActivityEntry, 0, n)
	for i := len(s.activity) - 1; i >= 0 && len(entries) < n; i-- {
		entries = append(entries, s.activity[i])
	}
	return entries, nil
}

func (s *Store) Close() error { return nil }
