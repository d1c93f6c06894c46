package models

import "time"

// Credentials for the password grant and sign-up.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// User is the identity attached to a session.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session stores authentication details.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// IsExpired checks if the access token has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// UserID returns the id of the signed-in user. It doubles as the bucket id.
func (s *Session) UserID() string {
	if s == nil {
		return ""
	}
	return s.User.ID
}

// IsAuthenticated reports whether s holds a usable token.
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.AccessToken != "" && !s.IsExpired()
}
