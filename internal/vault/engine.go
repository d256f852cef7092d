// Package vault implements the hierarchical file-storage engine: path
// validation, listing, soft delete to a trash subtree, automatic
// versioning on overwrite, and the related restore/purge operations. All
// content lives under a single local storage root; every operation
// resolves its path through the guard in paths.go before touching the
// filesystem.
package vault

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"go.uber.org/zap"

	"github.com/sitevault/sitevault/internal/logging"
	"github.com/sitevault/sitevault/internal/metrics"
)

// Engine operates on the storage root. It is safe for concurrent use in
// the sense that every method is a self-contained sequence of filesystem
// calls; conflicting operations on the same path race at the filesystem
// and last rename wins (no cross-request locking).
type Engine struct {
	root string
}

// NewEngine creates an engine over root, creating the directory and the
// reserved trash/versions subtrees if needed.
func NewEngine(root string) (*Engine, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	for _, dir := range []string{abs, filepath.Join(abs, TrashDir), filepath.Join(abs, VersionsDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Engine{root: abs}, nil
}

// Root returns the absolute storage root.
func (e *Engine) Root() string { return e.root }

// resolve validates userPath against the engine root.
func (e *Engine) resolve(userPath string) (abs, rel string, err error) {
	return Resolve(e.root, userPath)
}

// Stat returns the item at userPath.
func (e *Engine) Stat(userPath string) (StorageItem, error) {
	abs, rel, err := e.resolve(userPath)
	if err != nil {
		return StorageItem{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return StorageItem{}, fmt.Errorf("%s: %w", rel, errdefs.ErrNotFound)
		}
		return StorageItem{}, fmt.Errorf("stat %s: %w", rel, err)
	}
	return itemFromInfo(rel, info), nil
}

// Open opens the file at userPath for reading and returns its item.
func (e *Engine) Open(userPath string) (io.ReadCloser, StorageItem, error) {
	abs, rel, err := e.resolve(userPath)
	if err != nil {
		return nil, StorageItem{}, err
	}
	f, err := os.Open(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, StorageItem{}, fmt.Errorf("%s: %w", rel, errdefs.ErrNotFound)
		}
		return nil, StorageItem{}, fmt.Errorf("open %s: %w", rel, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, StorageItem{}, fmt.Errorf("stat %s: %w", rel, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, StorageItem{}, fmt.Errorf("%s is a folder: %w", rel, errdefs.ErrInvalidArgument)
	}
	return f, itemFromInfo(rel, info), nil
}

// ResolvePath exposes guarded resolution for collaborators (cache keys,
// share-link validation) without handing out raw filesystem access.
func (e *Engine) ResolvePath(userPath string) (abs string, rel string, err error) {
	return e.resolve(userPath)
}

// CreateFolder creates a folder under parentPath and returns its
// relative path.
func (e *Engine) CreateFolder(parentPath, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	parentAbs, parentRel, err := e.resolve(parentPath)
	if err != nil {
		return "", err
	}
	if inReserved(path.Join(parentRel, name)) {
		return "", fmt.Errorf("cannot create folder under %s: %w", parentRel, errdefs.ErrInvalidArgument)
	}
	abs := filepath.Join(parentAbs, name)
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("create folder: %w", err)
	}
	return path.Join(parentRel, name), nil
}

// WriteResult reports the outcome of a versioned write.
type WriteResult struct {
	Path      string // relative path of the written file
	Size      int64
	Versioned bool // a prior file at this path was snapshotted
}

// WriteFile writes content to destPath, snapshotting any existing file at
// that path into the versions area first. The write itself is atomic
// (temp file then rename); the version move happens before the new
// content is written, so a failure there leaves the original untouched.
func (e *Engine) WriteFile(destPath string, content io.Reader) (WriteResult, error) {
	abs, rel, err := e.resolve(destPath)
	if err != nil {
		return WriteResult{}, err
	}
	if inReserved(rel) {
		return WriteResult{}, fmt.Errorf("cannot write into %s: %w", path.Dir(rel), errdefs.ErrInvalidArgument)
	}
	if err := ValidateName(path.Base(rel)); err != nil {
		return WriteResult{}, err
	}

	versioned := false
	if info, statErr := os.Stat(abs); statErr == nil {
		if info.IsDir() {
			return WriteResult{}, fmt.Errorf("%s is a folder: %w", rel, errdefs.ErrInvalidArgument)
		}
		if err := e.snapshotVersion(abs, rel); err != nil {
			return WriteResult{}, err
		}
		versioned = true
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return WriteResult{}, fmt.Errorf("create parent dirs: %w", err)
	}

	// Write to temp file then rename for atomicity
	tmp, err := os.CreateTemp(filepath.Dir(abs), ".sitevault-*.tmp")
	if err != nil {
		return WriteResult{}, fmt.Errorf("create temp for %s: %w", rel, err)
	}
	tmpName := tmp.Name()

	size, err := io.Copy(tmp, content)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return WriteResult{}, fmt.Errorf("write %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return WriteResult{}, fmt.Errorf("close temp for %s: %w", rel, err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		os.Remove(tmpName)
		return WriteResult{}, fmt.Errorf("rename temp to %s: %w", rel, err)
	}

	return WriteResult{Path: rel, Size: size, Versioned: versioned}, nil
}

// snapshotVersion moves the existing file at abs/rel into the versions
// area as <name>.<unixnano>. Versions are append-only; the engine never
// mutates or deletes them.
func (e *Engine) snapshotVersion(abs, rel string) error {
	dir := filepath.Join(e.root, VersionsDir, filepath.FromSlash(path.Dir(rel)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create version dir: %w", err)
	}
	name := fmt.Sprintf("%s.%d", path.Base(rel), time.Now().UnixNano())
	if err := os.Rename(abs, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("snapshot version of %s: %w", rel, err)
	}
	metrics.RecordVersionCreated()
	return nil
}

// Version describes one retained snapshot of a file.
type Version struct {
	Name      string    `json:"name"` // snapshot file name, <base>.<unixnano>
	Path      string    `json:"path"` // relative path under the storage root
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListVersions returns the snapshots retained for the file at userPath,
// newest first. Snapshot names carry a fixed-width nanosecond timestamp
// after the base name, which keeps sibling names like "report.txt" and
// "report.txt.bak" from matching each other's versions.
func (e *Engine) ListVersions(userPath string) ([]Version, error) {
	_, rel, err := e.resolve(userPath)
	if err != nil {
		return nil, err
	}
	base := path.Base(rel)
	dir := filepath.Join(e.root, VersionsDir, filepath.FromSlash(path.Dir(rel)))

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Version{}, nil
		}
		return nil, fmt.Errorf("read version dir: %w", err)
	}

	snapshotRe := regexp.MustCompile("^" + regexp.QuoteMeta(base) + `\.(\d{16,19})$`)

	var versions []Version
	for _, entry := range entries {
		m := snapshotRe.FindStringSubmatch(entry.Name())
		if m == nil || entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		nanos, _ := strconv.ParseInt(m[1], 10, 64)
		versions = append(versions, Version{
			Name:      entry.Name(),
			Path:      path.Join(VersionsDir, path.Dir(rel), entry.Name()),
			Size:      info.Size(),
			CreatedAt: time.Unix(0, nanos),
		})
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].CreatedAt.After(versions[j].CreatedAt) })
	return versions, nil
}

// Delete soft-deletes the item at userPath by moving it to the trash
// subtree at its original relative path. Deleting something already in
// the trash routes to a permanent purge instead of nesting trash paths.
// Returns true when the item was trashed, false when it was purged.
func (e *Engine) Delete(userPath string) (bool, error) {
	abs, rel, err := e.resolve(userPath)
	if err != nil {
		return false, err
	}
	if rel == "" || reservedRoot(rel) {
		return false, fmt.Errorf("cannot delete %q: %w", rel, errdefs.ErrInvalidArgument)
	}

	if inTrash(rel) {
		original := strings.TrimPrefix(rel, TrashDir+"/")
		if err := e.Purge(original); err != nil {
			return false, err
		}
		return false, nil
	}

	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return false, fmt.Errorf("%s: %w", rel, errdefs.ErrNotFound)
		}
		return false, fmt.Errorf("stat %s: %w", rel, err)
	}

	trashAbs := filepath.Join(e.root, TrashDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(trashAbs), 0o755); err != nil {
		return false, fmt.Errorf("create trash dirs: %w", err)
	}
	// A repeat delete of the same path replaces the older trash entry.
	if _, err := os.Stat(trashAbs); err == nil {
		if err := os.RemoveAll(trashAbs); err != nil {
			return false, fmt.Errorf("replace trash entry: %w", err)
		}
	}
	if err := os.Rename(abs, trashAbs); err != nil {
		return false, fmt.Errorf("move %s to trash: %w", rel, err)
	}
	metrics.RecordTrashOperation("delete")
	return true, nil
}

// Restore moves a trashed item back to its original path, recreating
// parent directories as needed.
func (e *Engine) Restore(userPath string) error {
	abs, rel, err := e.resolve(userPath)
	if err != nil {
		return err
	}
	if rel == "" || reservedRoot(rel) {
		return fmt.Errorf("cannot restore %q: %w", rel, errdefs.ErrInvalidArgument)
	}
	trashAbs := filepath.Join(e.root, TrashDir, filepath.FromSlash(rel))
	if _, err := os.Stat(trashAbs); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("trash entry %s: %w", rel, errdefs.ErrNotFound)
		}
		return fmt.Errorf("stat trash entry %s: %w", rel, err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("recreate parent dirs: %w", err)
	}
	if err := os.Rename(trashAbs, abs); err != nil {
		return fmt.Errorf("restore %s: %w", rel, err)
	}
	metrics.RecordTrashOperation("restore")
	return nil
}

// Purge permanently removes a trashed item. Irreversible.
func (e *Engine) Purge(userPath string) error {
	_, rel, err := e.resolve(userPath)
	if err != nil {
		return err
	}
	if rel == "" || reservedRoot(rel) {
		return fmt.Errorf("cannot purge %q: %w", rel, errdefs.ErrInvalidArgument)
	}
	trashAbs := filepath.Join(e.root, TrashDir, filepath.FromSlash(rel))
	info, err := os.Stat(trashAbs)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("trash entry %s: %w", rel, errdefs.ErrNotFound)
		}
		return fmt.Errorf("stat trash entry %s: %w", rel, err)
	}
	if info.IsDir() {
		err = os.RemoveAll(trashAbs)
	} else {
		err = os.Remove(trashAbs)
	}
	if err != nil {
		return fmt.Errorf("purge %s: %w", rel, err)
	}
	metrics.RecordTrashOperation("purge")
	return nil
}

// EmptyTrash permanently removes every trashed item and returns the
// number of top-level entries removed.
func (e *Engine) EmptyTrash() (int, error) {
	trashRoot := filepath.Join(e.root, TrashDir)
	entries, err := os.ReadDir(trashRoot)
	if err != nil {
		return 0, fmt.Errorf("read trash: %w", err)
	}
	count := 0
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(trashRoot, entry.Name())); err != nil {
			return count, fmt.Errorf("empty trash: %w", err)
		}
		count++
	}
	metrics.RecordTrashOperation("purge")
	return count, nil
}

// TrashList walks the trash subtree and returns its items keyed by their
// original relative path, optionally filtered by a case-insensitive name
// substring.
func (e *Engine) TrashList(search string) ([]StorageItem, error) {
	trashRoot := filepath.Join(e.root, TrashDir)
	needle := strings.ToLower(search)

	var items []StorageItem
	err := filepath.WalkDir(trashRoot, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == trashRoot {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel := filepath.ToSlash(strings.TrimPrefix(p, trashRoot+string(filepath.Separator)))
		item := itemFromInfo(rel, info)
		if needle != "" && !strings.Contains(strings.ToLower(item.Name), needle) {
			return nil
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk trash: %w", err)
	}
	if items == nil {
		items = []StorageItem{}
	}
	return items, nil
}

// Rename gives the item at oldPath a new name in place.
func (e *Engine) Rename(oldPath, newName string) (string, error) {
	if err := ValidateName(newName); err != nil {
		return "", err
	}
	oldAbs, oldRel, err := e.resolve(oldPath)
	if err != nil {
		return "", err
	}
	if inReserved(oldRel) {
		return "", fmt.Errorf("cannot rename a reserved path: %w", errdefs.ErrInvalidArgument)
	}
	newRel := path.Join(path.Dir(oldRel), newName)
	newAbs, _, err := e.resolve(newRel)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(oldAbs); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s: %w", oldRel, errdefs.ErrNotFound)
		}
		return "", fmt.Errorf("stat %s: %w", oldRel, err)
	}
	if _, err := os.Stat(newAbs); err == nil {
		return "", fmt.Errorf("destination %s already exists: %w", newRel, errdefs.ErrInvalidArgument)
	}
	if err := os.Rename(oldAbs, newAbs); err != nil {
		return "", fmt.Errorf("rename %s: %w", oldRel, err)
	}
	return newRel, nil
}

// Move relocates the item at sourcePath into destFolder, keeping its
// base name. The destination folder is created if absent.
func (e *Engine) Move(sourcePath, destFolder string) (string, error) {
	srcAbs, srcRel, err := e.resolve(sourcePath)
	if err != nil {
		return "", err
	}
	destDirAbs, destDirRel, err := e.resolve(destFolder)
	if err != nil {
		return "", err
	}
	if inReserved(srcRel) || inReserved(destDirRel) {
		return "", fmt.Errorf("cannot move across reserved paths: %w", errdefs.ErrInvalidArgument)
	}
	if _, err := os.Stat(srcAbs); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s: %w", srcRel, errdefs.ErrNotFound)
		}
		return "", fmt.Errorf("stat %s: %w", srcRel, err)
	}
	if err := os.MkdirAll(destDirAbs, 0o755); err != nil {
		return "", fmt.Errorf("create destination: %w", err)
	}
	newRel := path.Join(destDirRel, path.Base(srcRel))
	newAbs := filepath.Join(destDirAbs, path.Base(srcRel))
	if newAbs == srcAbs {
		return newRel, nil
	}
	if _, err := os.Stat(newAbs); err == nil {
		return "", fmt.Errorf("destination %s already exists: %w", newRel, errdefs.ErrInvalidArgument)
	}
	if err := os.Rename(srcAbs, newAbs); err != nil {
		return "", fmt.Errorf("move %s: %w", srcRel, err)
	}
	return newRel, nil
}

// warnSkippedFavorite logs a favorite whose target no longer exists.
// Listing tolerates these; favorites are not cascaded on delete.
func warnSkippedFavorite(path string, err error) {
	logging.Warn("skipping favorite with missing target",
		zap.String("path", path), zap.Error(err))
}
