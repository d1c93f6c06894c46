//go:build integration
// +build integration

package integration_test

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/stowage/internal/client"
	"github.com/TheMichaelB/stowage/internal/models"
	"github.com/TheMichaelB/stowage/internal/paths"
	"github.com/TheMichaelB/stowage/internal/services/files"
	"github.com/TheMichaelB/stowage/test/testutil"
)

func signedIn(t *testing.T, server *testutil.TestServer, email string) (*client.Client, *files.Service) {
	t.Helper()

	helpers := testutil.NewTestHelpers(t)
	cfg := testutil.TestConfigWithDir(helpers.TempDir(), server.URL)
	cfg.Storage.StateBackend = "sqlite"

	c, err := client.New(context.Background(), cfg, testutil.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, err = c.Auth.SignIn(ctx, email, "secret")
	require.NoError(t, err)

	svc, err := c.Files(ctx)
	require.NoError(t, err)
	_, err = svc.EnsureBucket(ctx)
	require.NoError(t, err)

	return c, svc
}

// populate uploads SampleFiles, one batch per directory.
func populate(t *testing.T, ctx context.Context, svc *files.Service) {
	t.Helper()

	byDir := make(map[string][]files.UploadItem)
	for key, content := range testutil.SampleFiles {
		dir := paths.Parent(key)
		byDir[dir] = append(byDir[dir], files.UploadItem{
			Name:        path.Base(key),
			Body:        strings.NewReader(content),
			Size:        int64(len(content)),
			ContentType: "application/octet-stream",
		})
	}

	for dir, items := range byDir {
		_, err := svc.Navigate(ctx, dir)
		require.NoError(t, err)
		report, err := svc.Upload(ctx, items)
		require.NoError(t, err, "upload to %q", dir)
		assert.Equal(t, len(items), report.Confirmed)
	}
}

// walk lists every directory reachable from the root and returns all file
// keys.
func walk(t *testing.T, ctx context.Context, svc *files.Service) []string {
	t.Helper()

	var keys []string
	queue := []string{""}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		st, err := svc.Navigate(ctx, dir)
		require.NoError(t, err)
		for _, f := range st.Files {
			keys = append(keys, f.Path)
		}
		for _, f := range st.Folders {
			queue = append(queue, f.Path+"/")
		}
	}

	sort.Strings(keys)
	return keys
}

func TestBrowseIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	server := testutil.NewTestServer()
	defer server.Close()
	server.AddUser("user@example.com", "secret")

	_, svc := signedIn(t, server, "user@example.com")

	ctx, cancel := testutil.TestContext()
	defer cancel()

	populate(t, ctx, svc)

	var want []string
	for key := range testutil.SampleFiles {
		want = append(want, key)
	}
	sort.Strings(want)
	assert.Equal(t, want, walk(t, ctx, svc))

	// A dotted folder name survives as long as the key ends in "/".
	st, err := svc.Navigate(ctx, "Docs/v1.2/")
	require.NoError(t, err)
	require.Len(t, st.Files, 1)
	assert.Equal(t, "changelog.md", st.Files[0].Name)

	// Every file downloads with its uploaded content.
	helpers := testutil.NewTestHelpers(t)
	for _, key := range want {
		local, err := svc.Download(ctx, key, nil)
		require.NoError(t, err, key)
		helpers.AssertFileContent(local, testutil.SampleFiles[key])
	}
}

func TestUsersAreIsolated(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	server := testutil.NewTestServer()
	defer server.Close()
	alice := server.AddUser("alice@example.com", "secret")
	bob := server.AddUser("bob@example.com", "secret")

	_, aliceFiles := signedIn(t, server, "alice@example.com")
	_, bobFiles := signedIn(t, server, "bob@example.com")
	assert.Equal(t, alice, aliceFiles.Bucket())
	assert.Equal(t, bob, bobFiles.Bucket())

	ctx, cancel := testutil.TestContext()
	defer cancel()

	populate(t, ctx, aliceFiles)

	assert.Len(t, walk(t, ctx, aliceFiles), len(testutil.SampleFiles))
	assert.Empty(t, walk(t, ctx, bobFiles))
}

func TestSessionRefreshDuringBrowse(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	server := testutil.NewTestServer()
	defer server.Close()
	server.AddUser("user@example.com", "secret")

	// Tokens close to expiry are refreshed before every service lookup.
	server.SetTokenTTL(time.Minute)

	c, svc := signedIn(t, server, "user@example.com")

	ctx, cancel := testutil.TestContext()
	defer cancel()

	before, err := c.Auth.Session()
	require.NoError(t, err)

	again, err := c.Files(ctx)
	require.NoError(t, err)
	assert.Same(t, svc, again)

	after, err := c.Auth.Session()
	require.NoError(t, err)
	assert.NotEqual(t, before.RefreshToken, after.RefreshToken)
	assert.Equal(t, before.UserID(), after.UserID())
}

func TestDownloadConflictRename(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	server := testutil.NewTestServer()
	defer server.Close()
	server.AddUser("user@example.com", "secret")

	c, svc := signedIn(t, server, "user@example.com")

	ctx, cancel := testutil.TestContext()
	defer cancel()

	populate(t, ctx, svc)

	dest := t.TempDir()
	store, err := c.DownloadStore(dest)
	require.NoError(t, err)

	first, err := svc.Download(ctx, "notes.txt", store)
	require.NoError(t, err)
	second, err := svc.Download(ctx, "notes.txt", store)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dest, "notes.txt"), first)
	assert.Equal(t, filepath.Join(dest, "notes (1).txt"), second)

	data, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, testutil.SampleFiles["notes.txt"], string(data))

	_, err = svc.Download(ctx, "missing.txt", store)
	assert.True(t, models.IsNotFound(err))
}
