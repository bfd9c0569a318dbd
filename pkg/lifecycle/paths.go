package lifecycle

import (
	"path"
	"strconv"
	"strings"

	"github.com/marmos91/pagefs/pkg/storage"
)

// Metadata keys the engine owns.
const (
	MetaContentLength = "Content-Length"
	MetaContentHash   = "Content-Hash"
	MetaCreationDate  = "Creation-Date"
	MetaLastModified  = "Last-Modified"
	MetaDeleteMarker  = "Delete-Marker"
	MetaRenameMarker  = "Rename-Marker"
)

// TombstoneSuffix marks the reserved names delete-tombstones live under.
const TombstoneSuffix = "$deleting"

// CanonicalPath normalizes p into the unique record key: slash separated,
// rooted, cleaned and lower-cased.
func CanonicalPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", newError(ErrInvalidPath, p, "empty path")
	}
	if strings.ContainsRune(p, 0) {
		return "", newError(ErrInvalidPath, p, "path contains NUL")
	}

	c := path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	if c == "/" {
		return "", newError(ErrInvalidPath, p, "path names the root")
	}
	return strings.ToLower(c), nil
}

// canonicalWritable is CanonicalPath plus rejection of reserved names.
func canonicalWritable(p string) (string, error) {
	c, err := CanonicalPath(p)
	if err != nil {
		return "", err
	}
	if strings.Contains(c, TombstoneSuffix) {
		return "", newError(ErrInvalidPath, p, "path uses reserved suffix %q", TombstoneSuffix)
	}
	return c, nil
}

// tombstoneName returns the attempt'th candidate tombstone name for p.
func tombstoneName(p string, attempt int) string {
	if attempt == 0 {
		return p + TombstoneSuffix
	}
	return p + TombstoneSuffix + "-" + strconv.Itoa(attempt)
}

// IsTombstone reports whether rec marks removed or moved content.
func IsTombstone(rec *storage.FileRecord) bool {
	return rec != nil && rec.Metadata[MetaDeleteMarker] == "true"
}

// IsRenameTombstone reports whether rec marks a path renamed away.
func IsRenameTombstone(rec *storage.FileRecord) bool {
	return IsTombstone(rec) && rec.Metadata.Has(MetaRenameMarker)
}

// sameContent reports whether a tombstone holds the same file as rec.
func sameContent(tombstone, rec *storage.FileRecord) bool {
	h1, h2 := tombstone.Metadata[MetaContentHash], rec.Metadata[MetaContentHash]
	if h1 == "" || h1 != h2 {
		return false
	}
	if (tombstone.DeclaredSize == nil) != (rec.DeclaredSize == nil) {
		return false
	}
	return tombstone.DeclaredSize == nil || *tombstone.DeclaredSize == *rec.DeclaredSize
}
