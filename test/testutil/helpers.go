package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/stowage/internal/config"
	"github.com/TheMichaelB/stowage/internal/gateway"
	"github.com/TheMichaelB/stowage/internal/models"
)

// LogEntry represents a captured log entry for testing
type LogEntry struct {
	Level   string                 `json:"level"`
	Message string                 `json:"msg"`
	Time    time.Time              `json:"time"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

// TestServer is a fake backend speaking the auth, storage and search APIs.
// Objects live in a gateway.Memory.
type TestServer struct {
	*httptest.Server
	Store *gateway.Memory

	mu       sync.RWMutex
	users    map[string]testUser // by email
	refresh  map[string]string   // refresh token -> email
	tokenTTL time.Duration
}

type testUser struct {
	id       string
	password string
}

// NewTestServer creates a fake backend.
func NewTestServer() *TestServer {
	ts := &TestServer{
		users:    make(map[string]testUser),
		refresh:  make(map[string]string),
		tokenTTL: time.Hour,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", ts.handleToken)
	mux.HandleFunc("/auth/v1/signup", ts.handleSignUp)
	mux.HandleFunc("/auth/v1/logout", ts.handleLogout)
	mux.HandleFunc("/storage/v1/", ts.handleStorage)
	mux.HandleFunc("/rest/v1/rpc/search", ts.handleSearch)

	ts.Server = httptest.NewServer(mux)
	ts.Store = gateway.NewMemory(ts.URL)
	return ts
}

// AddUser registers a user and returns its id.
func (ts *TestServer) AddUser(email, password string) string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	id := uuid.NewString()
	ts.users[email] = testUser{id: id, password: password}
	return id
}

// SetTokenTTL changes the lifetime of issued access tokens.
func (ts *TestServer) SetTokenTTL(ttl time.Duration) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.tokenTTL = ttl
}

func (ts *TestServer) issue(w http.ResponseWriter, email string) {
	ts.mu.Lock()
	u := ts.users[email]
	ttl := ts.tokenTTL
	resp := SessionResponse(u.id, email, ttl)
	refresh := uuid.NewString()
	resp["refresh_token"] = refresh
	ts.refresh[refresh] = email
	ts.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (ts *TestServer) handleToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email        string `json:"email"`
		Password     string `json:"password"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r.Body, &body); err != nil {
		authError(w, "invalid_request", "could not parse request body")
		return
	}

	switch r.URL.Query().Get("grant_type") {
	case "password":
		ts.mu.RLock()
		u, ok := ts.users[body.Email]
		ts.mu.RUnlock()
		if !ok || u.password != body.Password {
			authError(w, "invalid_grant", "Invalid login credentials")
			return
		}
		ts.issue(w, body.Email)
	case "refresh_token":
		ts.mu.Lock()
		email, ok := ts.refresh[body.RefreshToken]
		delete(ts.refresh, body.RefreshToken)
		ts.mu.Unlock()
		if !ok {
			authError(w, "invalid_grant", "Invalid Refresh Token: Refresh Token Not Found")
			return
		}
		ts.issue(w, email)
	default:
		authError(w, "unsupported_grant_type", "unsupported grant type")
	}
}

func (ts *TestServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body models.Credentials
	if err := decodeJSON(r.Body, &body); err != nil || body.Email == "" {
		authError(w, "invalid_request", "email required")
		return
	}

	ts.mu.RLock()
	_, exists := ts.users[body.Email]
	ts.mu.RUnlock()
	if exists {
		authError(w, "user_already_exists", "User already registered")
		return
	}

	ts.AddUser(body.Email, body.Password)
	ts.issue(w, body.Email)
}

func (ts *TestServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	if ts.userID(r) == "" {
		authError(w, "bad_jwt", "invalid JWT")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// userID returns the subject of the bearer token, or "" for anonymous and
// invalid tokens.
func (ts *TestServer) userID(r *http.Request) string {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	token, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) {
		return []byte(JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return ""
	}
	sub, _ := token.Claims.GetSubject()
	return sub
}

func (ts *TestServer) handleStorage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rest := strings.TrimPrefix(r.URL.Path, "/storage/v1/")

	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(rest, "bucket/"):
		b, err := ts.Store.GetBucket(ctx, strings.TrimPrefix(rest, "bucket/"))
		respond(w, b, err)

	case r.Method == http.MethodPost && rest == "bucket":
		var body struct {
			ID     string `json:"id"`
			Public bool   `json:"public"`
		}
		_ = decodeJSON(r.Body, &body)
		_, err := ts.Store.CreateBucket(ctx, body.ID, body.Public)
		respond(w, map[string]string{"name": body.ID}, err)

	case r.Method == http.MethodPost && strings.HasPrefix(rest, "object/list/"):
		var body struct {
			Prefix string `json:"prefix"`
			gateway.ListOptions
		}
		_ = decodeJSON(r.Body, &body)
		entries, err := ts.Store.List(ctx, strings.TrimPrefix(rest, "object/list/"), body.Prefix, body.ListOptions)
		respond(w, entries, err)

	case r.Method == http.MethodPost && rest == "object/move":
		var body map[string]string
		_ = decodeJSON(r.Body, &body)
		msg, err := ts.Store.Move(ctx, body["bucketId"], body["sourceKey"], body["destinationKey"])
		respond(w, map[string]string{"message": msg}, err)

	case r.Method == http.MethodPost && strings.HasPrefix(rest, "object/sign/"):
		var body struct {
			ExpiresIn int64    `json:"expiresIn"`
			Paths     []string `json:"paths"`
		}
		_ = decodeJSON(r.Body, &body)
		bucket, key := splitKey(strings.TrimPrefix(rest, "object/sign/"))
		ttl := time.Duration(body.ExpiresIn) * time.Second
		if key == "" {
			urls, err := ts.Store.SignedURLs(ctx, bucket, body.Paths, ttl)
			respond(w, urls, err)
			return
		}
		u, err := ts.Store.SignedURL(ctx, bucket, key, ttl)
		respond(w, map[string]string{"signedURL": strings.TrimPrefix(u, ts.URL+"/storage/v1")}, err)

	case r.Method == http.MethodGet && strings.HasPrefix(rest, "object/authenticated/"):
		bucket, key := splitKey(strings.TrimPrefix(rest, "object/authenticated/"))
		body, err := ts.Store.Download(ctx, bucket, key)
		if err != nil {
			respond(w, nil, err)
			return
		}
		defer body.Close()
		_, _ = io.Copy(w, body)

	case r.Method == http.MethodDelete && strings.HasPrefix(rest, "object/"):
		var body struct {
			Prefixes []string `json:"prefixes"`
		}
		_ = decodeJSON(r.Body, &body)
		deleted, err := ts.Store.Delete(ctx, strings.TrimPrefix(rest, "object/"), body.Prefixes)
		respond(w, deleted, err)

	case r.Method == http.MethodPost && strings.HasPrefix(rest, "object/"):
		if r.Header.Get("x-upsert") != "false" {
			storageError(w, "400", "invalid_request", "upsert is not supported")
			return
		}
		bucket, key := splitKey(strings.TrimPrefix(rest, "object/"))
		result, err := ts.Store.Upload(ctx, bucket, key, r.Body, r.Header.Get("Content-Type"))
		respond(w, result, err)

	default:
		storageError(w, "404", "not_found", "route not found")
	}
}

func (ts *TestServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Keyword string `json:"keyword"`
		LimitBy int    `json:"limit_by"`
	}
	_ = decodeJSON(r.Body, &body)

	userID := ts.userID(r)
	if userID == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	results, err := ts.Store.Search(r.Context(), userID, body.Keyword, body.LimitBy)
	if err != nil || len(results) == 0 {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func splitKey(s string) (bucket, key string) {
	bucket, key, _ = strings.Cut(s, "/")
	return bucket, key
}

// respond writes v, or err in the storage API error format. Like the real
// storage API the HTTP status is 400 with the meaningful code in the body.
func respond(w http.ResponseWriter, v interface{}, err error) {
	var (
		nf *models.NotFoundError
		ce *models.ConflictError
		ik *models.InvalidKeyError
	)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, v)
	case errors.As(err, &nf):
		storageError(w, "404", "not_found", "The resource was not found")
	case errors.As(err, &ce):
		storageError(w, "409", "Duplicate", "The resource already exists")
	case errors.As(err, &ik):
		storageError(w, "400", "InvalidKey", err.Error())
	default:
		storageError(w, "500", "internal", err.Error())
	}
}

func storageError(w http.ResponseWriter, status, code, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"statusCode": status,
		"error":      code,
		"message":    message,
	})
}

func authError(w http.ResponseWriter, code, description string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// TestHelpers provides common test helper functions.
type TestHelpers struct {
	t       *testing.T
	tempDir string
}

// NewTestHelpers creates test helpers.
func NewTestHelpers(t *testing.T) *TestHelpers {
	return &TestHelpers{
		t:       t,
		tempDir: t.TempDir(),
	}
}

// TempDir returns the temporary directory for this test.
func (h *TestHelpers) TempDir() string {
	return h.tempDir
}

// CreateTempFile creates a temporary file with content.
func (h *TestHelpers) CreateTempFile(name, content string) string {
	path := filepath.Join(h.tempDir, name)

	err := os.MkdirAll(filepath.Dir(path), 0755)
	require.NoError(h.t, err)

	err = os.WriteFile(path, []byte(content), 0644)
	require.NoError(h.t, err)

	return path
}

// AssertFileContent checks file content matches expected.
func (h *TestHelpers) AssertFileContent(path, expectedContent string) {
	content, err := os.ReadFile(path)
	require.NoError(h.t, err)
	assert.Equal(h.t, expectedContent, string(content))
}

// AssertFileNotExists checks that a file does not exist.
func (h *TestHelpers) AssertFileNotExists(path string) {
	_, err := os.Stat(path)
	assert.True(h.t, os.IsNotExist(err), "File should not exist: %s", path)
}

// TestContext creates a test context with reasonable timeout.
func TestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// TestConfigWithDir creates a configuration rooted at dataDir that talks
// to baseURL.
func TestConfigWithDir(dataDir, baseURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.API.BaseURL = baseURL
	cfg.API.AnonKey = "anon-test-key"
	cfg.API.Timeout = 5 * time.Second
	cfg.API.MaxRetries = 0
	cfg.Storage.DataDir = dataDir
	cfg.Storage.StateDir = filepath.Join(dataDir, "state")
	cfg.Storage.DownloadDir = filepath.Join(dataDir, "downloads")
	cfg.Log = config.LogConfig{
		Level:  "debug",
		Format: "json",
	}
	return cfg
}

// LogOutput captures log output for testing.
type LogOutput struct {
	mu      sync.RWMutex
	entries []LogEntry
}

// NewLogOutput creates a new log output capturer.
func NewLogOutput() *LogOutput {
	return &LogOutput{}
}

// Write implements io.Writer to capture log output.
func (lo *LogOutput) Write(p []byte) (n int, err error) {
	var entry LogEntry
	if err := json.Unmarshal(p, &entry); err == nil {
		lo.mu.Lock()
		lo.entries = append(lo.entries, entry)
		lo.mu.Unlock()
	}
	return len(p), nil
}

// Entries returns captured log entries.
func (lo *LogOutput) Entries() []LogEntry {
	lo.mu.RLock()
	defer lo.mu.RUnlock()

	entries := make([]LogEntry, len(lo.entries))
	copy(entries, lo.entries)
	return entries
}

// HasMessage checks if any log entry contains the message.
func (lo *LogOutput) HasMessage(message string) bool {
	lo.mu.RLock()
	defer lo.mu.RUnlock()

	for _, entry := range lo.entries {
		if strings.Contains(entry.Message, message) {
			return true
		}
	}
	return false
}

func decodeJSON(r io.Reader, v interface{}) error {
	return json.NewDecoder(r).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
