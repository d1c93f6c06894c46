package reconcile_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/stowage/internal/models"
	"github.com/TheMichaelB/stowage/internal/reconcile"
)

func listing() models.Listing {
	return models.Listing{
		Files: []models.FileEntry{
			{Name: "notes.txt", Path: "docs/notes.txt", Metadata: models.Metadata{Size: 1, MimeType: "text/plain"}},
			{Name: "report.pdf", Path: "docs/report.pdf", Metadata: models.Metadata{Size: 2, MimeType: "application/pdf"}},
			{Name: "x.png", Path: "docs/x.png", Metadata: models.Metadata{Size: 3, MimeType: "image/png"}},
			{Name: "y.png", Path: "docs/y.png", Metadata: models.Metadata{Size: 4, MimeType: "image/png"}},
		},
		Folders: []models.FolderEntry{
			{Name: "old", Path: "docs/old"},
		},
	}
}

func TestApplyUploadPartial(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	submitted := []reconcile.Submission{
		{Name: "a.png", Size: 10, MimeType: "image/png"},
		{Name: "b.png", Size: 20, MimeType: "image/png"},
		{Name: "c.png", Size: 30, MimeType: "image/png"},
	}
	confirmed := []models.UploadResult{
		{Key: "user-1/docs/c.png"},
		{Key: "user-1/docs/a.png"},
	}
	uc := reconcile.UploadContext{
		BucketID:  "user-1",
		OwnerID:   "user-1",
		Now:       now,
		PublicURL: func(path string) string { return "public/" + path },
	}

	before := listing()
	out, report := reconcile.ApplyUpload(before, "docs/", submitted, confirmed, uc)

	require.Len(t, out.Files, 6)
	assert.Equal(t, "a.png", out.Files[0].Name)
	assert.Equal(t, "c.png", out.Files[1].Name)
	assert.Equal(t, before.Files, out.Files[2:], "existing files follow unchanged")
	assert.Equal(t, before.Folders, out.Folders)

	a := out.Files[0]
	assert.Equal(t, "docs/a.png", a.Path)
	assert.Equal(t, int64(10), a.Metadata.Size)
	assert.Equal(t, "image/png", a.Metadata.MimeType)
	assert.Equal(t, "user-1", a.BucketID)
	assert.Equal(t, "public/docs/a.png", a.SignedURL)
	assert.Equal(t, now, a.UpdatedAt)

	assert.Equal(t, 3, report.Requested)
	assert.Equal(t, 2, report.Confirmed)
	assert.Equal(t, []string{"b.png"}, report.Missing)
	assert.Equal(t, "2 / 3 were uploaded", report.Message)

	var pf *models.PartialFailure
	require.ErrorAs(t, report.Err(), &pf)
	assert.Equal(t, []string{"b.png"}, pf.Failed)

	assert.Len(t, before.Files, 4, "input listing is not modified")
}

func TestApplyUploadAll(t *testing.T) {
	submitted := []reconcile.Submission{{Name: "a.png"}}
	confirmed := []models.UploadResult{{Key: "user-1/a.png"}}

	out, report := reconcile.ApplyUpload(models.Listing{}, "", submitted, confirmed, reconcile.UploadContext{})
	require.Len(t, out.Files, 1)
	assert.Equal(t, "a.png", out.Files[0].Path)
	assert.Equal(t, "All files were uploaded", report.Message)
	assert.NoError(t, report.Err())
}

func TestApplyUploadNothingConfirmed(t *testing.T) {
	submitted := []reconcile.Submission{{Name: "a.png"}, {Name: "b.png"}}

	out, report := reconcile.ApplyUpload(listing(), "docs/", submitted, nil, reconcile.UploadContext{})
	assert.Equal(t, listing().Files, out.Files)
	assert.Equal(t, "0 / 2 were uploaded", report.Message)
	assert.Error(t, report.Err())
}

func TestApplyUploadDuplicateNames(t *testing.T) {
	submitted := []reconcile.Submission{{Name: "a.png"}, {Name: "a.png"}}
	confirmed := []models.UploadResult{{Key: "user-1/a.png"}}

	out, report := reconcile.ApplyUpload(models.Listing{}, "", submitted, confirmed, reconcile.UploadContext{})
	assert.Len(t, out.Files, 1)
	assert.Equal(t, 1, report.Confirmed)
	assert.Equal(t, []string{"a.png"}, report.Missing)
	assert.Error(t, report.Err())
}

func TestApplyRenameInPlace(t *testing.T) {
	before := listing()
	out := reconcile.ApplyRename(before, "docs/report.pdf", "summary.pdf", "docs/summary.pdf")

	require.Len(t, out.Files, len(before.Files))
	for i := range before.Files {
		if i == 1 {
			continue
		}
		assert.Equal(t, before.Files[i], out.Files[i], "sibling %d is untouched", i)
	}

	renamed := out.Files[1]
	assert.Equal(t, "summary.pdf", renamed.Name)
	assert.Equal(t, "docs/summary.pdf", renamed.Path)
	assert.Equal(t, before.Files[1].Metadata, renamed.Metadata)

	assert.Equal(t, "report.pdf", before.Files[1].Name, "input listing is not modified")
}

func TestApplyRenameFolder(t *testing.T) {
	out := reconcile.ApplyRename(listing(), "docs/old", "new", "docs/new")
	assert.Equal(t, []models.FolderEntry{{Name: "new", Path: "docs/new"}}, out.Folders)
	assert.Equal(t, listing().Files, out.Files)
}

func TestApplyRenameNoMatch(t *testing.T) {
	out := reconcile.ApplyRename(listing(), "docs/missing.pdf", "x.pdf", "docs/x.pdf")
	assert.Equal(t, listing(), out)
}

func TestApplyDeletePartial(t *testing.T) {
	before := listing()
	out, report := reconcile.ApplyDelete(before,
		[]string{"docs/x.png", "docs/y.png"},
		[]models.DeletedObject{{Name: "docs/x.png"}},
	)

	require.Len(t, out.Files, 3)
	assert.Equal(t, "notes.txt", out.Files[0].Name)
	assert.Equal(t, "report.pdf", out.Files[1].Name)
	assert.Equal(t, "y.png", out.Files[2].Name)

	assert.Equal(t, []string{"docs/x.png"}, report.Deleted)
	assert.Equal(t, []string{"docs/y.png"}, report.Failed)

	var pf *models.PartialFailure
	require.ErrorAs(t, report.Err(), &pf)
	assert.Equal(t, "delete", pf.Op)
	assert.Equal(t, 2, pf.Requested)
	assert.Equal(t, 1, pf.Confirmed)
}

func TestApplyDeleteAll(t *testing.T) {
	out, report := reconcile.ApplyDelete(listing(),
		[]string{"docs/notes.txt"},
		[]models.DeletedObject{{Name: "docs/notes.txt"}},
	)
	assert.Len(t, out.Files, 3)
	assert.NoError(t, report.Err())
}

func TestReduce(t *testing.T) {
	l := listing()

	l = reconcile.Reduce(l, reconcile.Uploaded{
		Dir:       "docs/",
		Submitted: []reconcile.Submission{{Name: "new.png"}},
		Confirmed: []models.UploadResult{{Key: "user-1/docs/new.png"}},
	})
	assert.Equal(t, "new.png", l.Files[0].Name)

	l = reconcile.Reduce(l, reconcile.Renamed{OldPath: "docs/new.png", NewName: "newer.png", NewPath: "docs/newer.png"})
	assert.Equal(t, "docs/newer.png", l.Files[0].Path)

	l = reconcile.Reduce(l, reconcile.Deleted{
		Requested: []string{"docs/newer.png"},
		Confirmed: []models.DeletedObject{{Name: "docs/newer.png"}},
	})
	assert.Equal(t, listing().Files, l.Files)
}
