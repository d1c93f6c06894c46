package models

import "time"

// SearchResult is one row returned by the search RPC.
type SearchResult struct {
	ID             string    `json:"id"`
	BucketID       string    `json:"bucket_id"`
	Name           string    `json:"name"`
	Type           string    `json:"type"`
	OwnerID        string    `json:"owner"`
	Metadata       Metadata  `json:"metadata"`
	Path           string    `json:"path"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// IsFolder reports whether the result names a folder.
func (r SearchResult) IsFolder() bool {
	return r.Type == KindFolder.String()
}
