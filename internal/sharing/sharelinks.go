// Package sharing manages opaque share tokens that grant
// unauthenticated download access to a fixed set of paths.
package sharing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/containerd/errdefs"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/sitevault/sitevault/internal/logging"
	"github.com/sitevault/sitevault/internal/metadata"
	"github.com/sitevault/sitevault/internal/metrics"
	"github.com/sitevault/sitevault/internal/vault"
)

// ErrExpired marks a share link that exists but no longer grants
// access, either because its expiry passed or it was revoked. The API
// layer maps it to 410 Gone.
var ErrExpired = errors.New("share link expired")

// LinkStore is the slice of the metadata store the registry needs.
type LinkStore interface {
	CreateShareLink(ctx context.Context, link *metadata.ShareLink) error
	GetShareLink(ctx context.Context, token string) (*metadata.ShareLink, error)
	RevokeShareLink(ctx context.Context, token string) error
	ListShareLinksByOwner(ctx context.Context, ownerID int) ([]*metadata.ShareLink, error)
	CountActiveShareLinks(ctx context.Context) (int64, error)
}

// PathStater checks that a path exists under the storage root. The
// vault engine satisfies it.
type PathStater interface {
	Stat(path string) (vault.StorageItem, error)
}

// Registry issues and resolves share links.
type Registry struct {
	store LinkStore
	fs    PathStater
	now   func() time.Time
}

// NewRegistry creates a registry backed by store, statting shared
// paths through fs.
func NewRegistry(store LinkStore, fs PathStater) *Registry {
	return &Registry{store: store, fs: fs, now: time.Now}
}

// CreateOptions configures a new share link.
type CreateOptions struct {
	Paths          []string
	OwnerID        int
	Password       string // empty means no password
	ExpiresInHours int    // 0 yields a link that is already expired
}

// Create validates that every path exists, mints a token and stores
// the link. An expiry of zero hours is honored literally: the link is
// created in an expired state and resolving it fails with ErrExpired.
func (r *Registry) Create(ctx context.Context, opts CreateOptions) (*metadata.ShareLink, error) {
	if len(opts.Paths) == 0 {
		return nil, fmt.Errorf("share link needs at least one path: %w", errdefs.ErrInvalidArgument)
	}
	if opts.ExpiresInHours < 0 {
		return nil, fmt.Errorf("expiresIn must not be negative: %w", errdefs.ErrInvalidArgument)
	}
	normalized := make([]string, 0, len(opts.Paths))
	for _, p := range opts.Paths {
		rel, err := vault.NormalizeRel(p)
		if err != nil {
			return nil, err
		}
		if _, err := r.fs.Stat(rel); err != nil {
			return nil, err
		}
		normalized = append(normalized, rel)
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}

	link := &metadata.ShareLink{
		Token:     token,
		Paths:     normalized,
		OwnerID:   opts.OwnerID,
		CreatedAt: r.now(),
	}
	expires := r.now().Add(time.Duration(opts.ExpiresInHours) * time.Hour)
	link.ExpiresAt = &expires

	if opts.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash share password: %w", err)
		}
		link.PasswordHash = string(hash)
	}

	if err := r.store.CreateShareLink(ctx, link); err != nil {
		return nil, err
	}
	r.updateActiveGauge(ctx)
	logging.Info("share link created",
		zap.Int("owner_id", opts.OwnerID),
		zap.Int("paths", len(normalized)),
		zap.Int("expires_in_hours", opts.ExpiresInHours))
	return link, nil
}

// Resolve checks that token grants access to relPath. Unknown tokens
// are NotFound, expired or revoked ones ErrExpired, a path outside the
// link's set PermissionDenied, and a wrong password PermissionDenied.
// An empty relPath selects the link's only path when it covers exactly
// one. On success the normalized path is returned.
func (r *Registry) Resolve(ctx context.Context, token, relPath, password string) (string, error) {
	link, err := r.store.GetShareLink(ctx, token)
	if err != nil {
		return "", err
	}
	if link.Revoked {
		return "", ErrExpired
	}
	if link.ExpiresAt != nil && !r.now().Before(*link.ExpiresAt) {
		return "", ErrExpired
	}
	if link.PasswordHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(link.PasswordHash), []byte(password)); err != nil {
			return "", fmt.Errorf("share password mismatch: %w", errdefs.ErrPermissionDenied)
		}
	}

	if relPath == "" {
		if len(link.Paths) != 1 {
			return "", fmt.Errorf("path required for multi-path share link: %w", errdefs.ErrInvalidArgument)
		}
		metrics.RecordShareDownload()
		return link.Paths[0], nil
	}

	rel, err := vault.NormalizeRel(relPath)
	if err != nil {
		return "", err
	}
	for _, p := range link.Paths {
		if p == rel {
			metrics.RecordShareDownload()
			return rel, nil
		}
	}
	return "", fmt.Errorf("path not covered by share link: %w", errdefs.ErrPermissionDenied)
}

// Revoke marks a link as revoked. Only the owner may revoke it unless
// isAdmin is set. Resolving a revoked token behaves exactly like an
// expired one.
func (r *Registry) Revoke(ctx context.Context, token string, ownerID int, isAdmin bool) error {
	link, err := r.store.GetShareLink(ctx, token)
	if err != nil {
		return err
	}
	if link.OwnerID != ownerID && !isAdmin {
		return fmt.Errorf("share link belongs to another user: %w", errdefs.ErrPermissionDenied)
	}
	if err := r.store.RevokeShareLink(ctx, token); err != nil {
		return err
	}
	r.updateActiveGauge(ctx)
	return nil
}

// ListByOwner returns the owner's links, newest first. Revoked links
// drop out of the listing; expired ones stay until revoked.
func (r *Registry) ListByOwner(ctx context.Context, ownerID int) ([]*metadata.ShareLink, error) {
	return r.store.ListShareLinksByOwner(ctx, ownerID)
}

func (r *Registry) updateActiveGauge(ctx context.Context) {
	count, err := r.store.CountActiveShareLinks(ctx)
	if err != nil {
		logging.Warn("failed to count active share links", zap.Error(err))
		return
	}
	metrics.SetShareLinksActive(count)
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate share token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
