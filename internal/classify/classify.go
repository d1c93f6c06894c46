// Package classify derives display names, extensions and parent paths from
// listed entries and tells files from folders.
package classify

import (
	"strings"

	"github.com/TheMichaelB/stowage/internal/models"
)

// BaseName returns the entry name without its final extension. Names without
// a dot are returned unchanged; only the last dot segment is removed.
func BaseName(e models.Entry) string {
	name := e.EntryName()
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return name
	}
	return name[:i]
}

// Extension returns the text after the final dot of a file name. Folders and
// names without a dot have no extension.
func Extension(kind models.EntryKind, e models.Entry) string {
	if kind == models.KindFolder {
		return ""
	}
	name := e.EntryName()
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return ""
	}
	return name[i+1:]
}

// ParentSegments returns the folder names leading to e. Root-level entries
// yield [""] so that joining the result with "/" always has an element.
func ParentSegments(e models.Entry) []string {
	split := strings.Split(e.EntryPath(), "/")
	if len(split) <= 1 {
		return []string{""}
	}
	return split[:len(split)-1]
}

// ParentDir joins ParentSegments back into a directory key.
func ParentDir(e models.Entry) string {
	segments := ParentSegments(e)
	if len(segments) == 1 && segments[0] == "" {
		return ""
	}
	return strings.Join(segments, "/") + "/"
}

// IsPlaceholder reports whether obj is the backend's empty-folder marker.
func IsPlaceholder(obj models.StorageEntry) bool {
	return obj.Name == models.PlaceholderName
}

// IsFile reports whether obj is a real object.
func IsFile(obj models.StorageEntry) bool {
	return obj.Metadata != nil && !IsPlaceholder(obj)
}

// IsFolder reports whether obj is a prefix marker.
func IsFolder(obj models.StorageEntry) bool {
	return obj.Metadata == nil && !IsPlaceholder(obj)
}

// RenameTarget computes the name and full path e gets when renamed to
// newName. Files keep their extension.
func RenameTarget(e models.Entry, newName string) (name, path string) {
	name = newName
	if ext := Extension(e.Kind(), e); ext != "" {
		name = newName + "." + ext
	}
	return name, ParentDir(e) + name
}

// IsImage reports whether f can be previewed as an image.
func IsImage(f models.FileEntry) bool {
	return strings.HasPrefix(f.Metadata.MimeType, "image/")
}
