package vault

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/containerd/errdefs"
)

// Reserved subtrees under the storage root. Soft-deleted items live at
// their original relative path under TrashDir; version snapshots under
// VersionsDir.
const (
	TrashDir    = ".trash"
	VersionsDir = ".versions"
)

// ErrInvalidPath reports a path that is malformed or escapes the storage
// root. It matches errdefs.IsInvalidArgument.
var ErrInvalidPath = fmt.Errorf("invalid path: %w", errdefs.ErrInvalidArgument)

// validName rejects path separators and characters reserved on common
// filesystems. Applied to new file and folder names.
var validName = regexp.MustCompile(`^[^<>:"/\\|?*]+$`)

// NormalizeRel normalizes an untrusted client path into a clean,
// root-relative slash-separated path. Leading separators are stripped and
// "."/".." segments are collapsed before any containment decision, so
// encoded or mixed-separator traversal cannot survive normalization. A
// path that still ascends after collapsing is rejected, never clamped.
func NormalizeRel(userPath string) (string, error) {
	if strings.ContainsRune(userPath, 0) {
		return "", ErrInvalidPath
	}
	p := strings.ReplaceAll(userPath, "\\", "/")
	p = strings.TrimLeft(p, "/")

	rel := path.Clean(p)
	if rel == "." {
		return "", nil
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", ErrInvalidPath
	}
	return rel, nil
}

// Resolve validates a user-supplied path against root and returns the
// absolute filesystem path together with the normalized relative path.
// The containment check runs on the resolved absolute path, after
// normalization, never by substring matching on the raw input.
func Resolve(root, userPath string) (abs string, rel string, err error) {
	rel, err = NormalizeRel(userPath)
	if err != nil {
		return "", "", err
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", "", fmt.Errorf("resolve root: %w", err)
	}

	abs = filepath.Join(rootAbs, filepath.FromSlash(rel))
	if abs != rootAbs && !strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
		return "", "", ErrInvalidPath
	}
	return abs, rel, nil
}

// ValidateName reports whether name is acceptable as a single new file or
// folder name.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || !validName.MatchString(name) {
		return fmt.Errorf("invalid name %q: %w", name, errdefs.ErrInvalidArgument)
	}
	return nil
}

// inTrash reports whether a normalized relative path addresses the trash
// subtree.
func inTrash(rel string) bool {
	return rel == TrashDir || strings.HasPrefix(rel, TrashDir+"/")
}

// reservedRoot reports whether a root-level entry name belongs to the
// engine rather than the user's tree.
func reservedRoot(name string) bool {
	return name == TrashDir || name == VersionsDir
}

// inReserved reports whether a normalized relative path addresses the
// trash or versions subtree. Writes may not target either; the engine
// manages their contents itself.
func inReserved(rel string) bool {
	return inTrash(rel) || rel == VersionsDir || strings.HasPrefix(rel, VersionsDir+"/")
}
