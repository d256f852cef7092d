package vault

import (
	"io/fs"
	"mime"
	"path"
	"time"
)

// StorageItem describes one file or folder. It is derived from the
// filesystem at query time and never persisted; the favorite flag is
// joined in from the metadata store by the catalog.
type StorageItem struct {
	Name       string    `json:"name"`
	Path       string    `json:"relativePath"`
	IsFile     bool      `json:"isFile"`
	IsFolder   bool      `json:"isFolder"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modifiedAt"`
	CreatedAt  time.Time `json:"createdAt"`
	MimeType   string    `json:"mimeType,omitempty"`
	IsFavorite bool      `json:"isFavorite"`
}

// itemFromInfo builds a StorageItem for the entry at the given relative
// path. Creation time is not portably available from a stat, so it
// mirrors the modification time.
func itemFromInfo(rel string, info fs.FileInfo) StorageItem {
	item := StorageItem{
		Name:       info.Name(),
		Path:       rel,
		IsFolder:   info.IsDir(),
		IsFile:     !info.IsDir(),
		ModifiedAt: info.ModTime(),
		CreatedAt:  info.ModTime(),
	}
	if item.IsFile {
		item.Size = info.Size()
		item.MimeType = MimeType(info.Name())
	}
	return item
}

// MimeType returns the MIME type for a file name, defaulting to
// application/octet-stream.
func MimeType(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
