package models

import "time"

// maxRecentPaths bounds BrowseState.Recent.
const maxRecentPaths = 10

// BrowseState is the persisted navigation position of a user.
type BrowseState struct {
	UserID    string    `json:"user_id"`
	Path      string    `json:"path"`
	Recent    []string  `json:"recent,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewBrowseState creates a state positioned at the root.
func NewBrowseState(userID string) *BrowseState {
	return &BrowseState{
		UserID: userID,
		Recent: []string{},
	}
}

// Visit moves the state to path and records it as most recent.
func (s *BrowseState) Visit(path string) {
	s.Path = path
	s.UpdatedAt = time.Now().UTC()

	recent := make([]string, 0, len(s.Recent)+1)
	recent = append(recent, path)
	for _, p := range s.Recent {
		if p != path {
			recent = append(recent, p)
		}
	}
	if len(recent) > maxRecentPaths {
		recent = recent[:maxRecentPaths]
	}
	s.Recent = recent
}
