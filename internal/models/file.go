package models

import "time"

// PlaceholderName is the object the backend writes to keep an otherwise empty
// prefix alive. It is never shown as a file or folder.
const PlaceholderName = ".emptyFolderPlaceholder"

// EntryKind tags the two listing variants.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindFolder
)

func (k EntryKind) String() string {
	if k == KindFolder {
		return "FOLDER"
	}
	return "FILE"
}

// Metadata is present only on real objects.
type Metadata struct {
	Size         int64  `json:"size"`
	MimeType     string `json:"mimetype"`
	CacheControl string `json:"cacheControl,omitempty"`
}

// StorageEntry is a raw item of a prefix listing as sent by the backend.
// Metadata is nil for prefix markers.
type StorageEntry struct {
	ID             string    `json:"id,omitempty"`
	Name           string    `json:"name"`
	BucketID       string    `json:"bucket_id,omitempty"`
	OwnerID        string    `json:"owner,omitempty"`
	Metadata       *Metadata `json:"metadata"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// Entry is implemented by FileEntry and FolderEntry.
type Entry interface {
	Kind() EntryKind
	EntryName() string
	EntryPath() string
}

// FileEntry is a listed object with metadata.
type FileEntry struct {
	Name           string    `json:"name"`
	Path           string    `json:"path"`
	BucketID       string    `json:"bucket_id,omitempty"`
	OwnerID        string    `json:"owner,omitempty"`
	Metadata       Metadata  `json:"metadata"`
	SignedURL      string    `json:"signed_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

func (f FileEntry) Kind() EntryKind   { return KindFile }
func (f FileEntry) EntryName() string { return f.Name }
func (f FileEntry) EntryPath() string { return f.Path }

// FolderEntry is an inferred prefix. It has no identity of its own.
type FolderEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

func (f FolderEntry) Kind() EntryKind   { return KindFolder }
func (f FolderEntry) EntryName() string { return f.Name }
func (f FolderEntry) EntryPath() string { return f.Path }

// Listing is the content of one directory.
type Listing struct {
	Files   []FileEntry   `json:"files"`
	Folders []FolderEntry `json:"folders"`
}

// UploadResult is the backend confirmation of an upload.
type UploadResult struct {
	Key string `json:"Key"`
}

// DeletedObject describes an object the backend actually removed.
// Name holds the full object path.
type DeletedObject struct {
	Name string `json:"name"`
}

// SignedURL is one entry of a batch signing response.
type SignedURL struct {
	Path  string `json:"path"`
	URL   string `json:"signedURL"`
	Error string `json:"error,omitempty"`
}

// Bucket is the per-user namespace.
type Bucket struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Owner     string    `json:"owner,omitempty"`
	Public    bool      `json:"public"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
