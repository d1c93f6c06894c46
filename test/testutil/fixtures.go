package testutil

import (
	"bytes"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/TheMichaelB/stowage/internal/events"
	"github.com/TheMichaelB/stowage/internal/models"
)

// TestUserID is the user id used by fixtures. It doubles as the bucket.
const TestUserID = "0b6f4a8e-6d3c-4f6b-9a41-5f0f3c2d1e7a"

// JWTSecret signs the tokens issued by the fake backend.
const JWTSecret = "stowage-test-secret"

// NewTestLogger creates a logger for testing.
func NewTestLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

// SampleFiles are uploaded by tests that need a populated bucket.
var SampleFiles = map[string]string{
	"notes.txt":               "Remember the milk",
	"Images/cover.png":        "\x89PNG fake image",
	"Images/Work/diagram.png": "\x89PNG another image",
	"Docs/report.pdf":         "%PDF-1.4 report",
	"Docs/v1.2/changelog.md":  "# Changes",
}

// SampleListing is the listing of "docs/" used by reconciler and service
// tests.
func SampleListing() models.Listing {
	ts := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	file := func(name, mime string, size int64) models.FileEntry {
		return models.FileEntry{
			Name:           name,
			Path:           "docs/" + name,
			BucketID:       TestUserID,
			OwnerID:        TestUserID,
			Metadata:       models.Metadata{Size: size, MimeType: mime},
			CreatedAt:      ts,
			UpdatedAt:      ts,
			LastAccessedAt: ts,
		}
	}

	return models.Listing{
		Files: []models.FileEntry{
			file("report.pdf", "application/pdf", 2048),
			file("x.png", "image/png", 512),
			file("y.png", "image/png", 768),
		},
		Folders: []models.FolderEntry{
			{Name: "archive", Path: "docs/archive"},
		},
	}
}

// AccessToken issues a signed access token for userID that expires after
// ttl. A negative ttl yields an expired token.
func AccessToken(userID, email string, ttl time.Duration) string {
	claims := jwt.MapClaims{
		"sub":   userID,
		"email": email,
		"role":  "authenticated",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(ttl).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(JWTSecret))
	if err != nil {
		panic(err)
	}
	return token
}

// SessionResponse is the body the auth API returns on sign-in.
func SessionResponse(userID, email string, ttl time.Duration) map[string]interface{} {
	return map[string]interface{}{
		"access_token":  AccessToken(userID, email, ttl),
		"token_type":    "bearer",
		"expires_in":    int(ttl.Seconds()),
		"refresh_token": "refresh-" + userID,
		"user": map[string]interface{}{
			"id":    userID,
			"email": email,
		},
	}
}
