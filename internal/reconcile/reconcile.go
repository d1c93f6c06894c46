// Package reconcile applies confirmed mutations to a directory listing
// without listing it again. All functions are pure: the input listing is
// never modified and untouched entries keep their order.
package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/TheMichaelB/stowage/internal/models"
)

// Submission is a file handed to an upload.
type Submission struct {
	Name     string
	Size     int64
	MimeType string
}

// UploadContext fills the fields of new entries the backend does not echo.
type UploadContext struct {
	BucketID  string
	OwnerID   string
	Now       time.Time
	PublicURL func(path string) string
}

// UploadReport compares what was submitted with what was confirmed.
type UploadReport struct {
	Requested int
	Confirmed int
	Missing   []string
	Message   string
}

// Err returns a PartialFailure when some uploads were not confirmed.
func (r UploadReport) Err() error {
	if len(r.Missing) == 0 {
		return nil
	}
	return &models.PartialFailure{
		Op:        "upload",
		Requested: r.Requested,
		Confirmed: r.Confirmed,
		Failed:    r.Missing,
	}
}

// ApplyUpload prepends an entry for every submission whose name the backend
// confirmed, in submission order. Each confirmation accounts for exactly one
// submission, so a name submitted twice needs two. Unconfirmed submissions
// are left out and listed in the report.
func ApplyUpload(l models.Listing, dir string, submitted []Submission, confirmed []models.UploadResult, uc UploadContext) (models.Listing, UploadReport) {
	pending := make(map[string]int, len(confirmed))
	for _, c := range confirmed {
		pending[keyName(c.Key)]++
	}

	var added []models.FileEntry
	var missing []string
	for _, s := range submitted {
		if pending[s.Name] == 0 {
			missing = append(missing, s.Name)
			continue
		}
		pending[s.Name]--

		path := dir + s.Name
		f := models.FileEntry{
			Name:     s.Name,
			Path:     path,
			BucketID: uc.BucketID,
			OwnerID:  uc.OwnerID,
			Metadata: models.Metadata{
				Size:     s.Size,
				MimeType: s.MimeType,
			},
			CreatedAt:      uc.Now,
			UpdatedAt:      uc.Now,
			LastAccessedAt: uc.Now,
		}
		if uc.PublicURL != nil {
			f.SignedURL = uc.PublicURL(path)
		}
		added = append(added, f)
	}

	out := models.Listing{
		Files:   append(added, l.Files...),
		Folders: clone(l.Folders),
	}
	if out.Files == nil {
		out.Files = []models.FileEntry{}
	}

	report := UploadReport{
		Requested: len(submitted),
		Confirmed: len(added),
		Missing:   missing,
	}
	if report.Confirmed == report.Requested {
		report.Message = "All files were uploaded"
	} else {
		report.Message = fmt.Sprintf("%d / %d were uploaded", report.Confirmed, report.Requested)
	}

	return out, report
}

// keyName returns the last segment of an upload key "<bucket>/<path>".
func keyName(key string) string {
	return key[strings.LastIndex(key, "/")+1:]
}

// ApplyRename gives the entry at oldPath a new name and path, keeping its
// position. A listing without such an entry is returned unchanged.
func ApplyRename(l models.Listing, oldPath, newName, newPath string) models.Listing {
	out := models.Listing{
		Files:   clone(l.Files),
		Folders: clone(l.Folders),
	}

	for i := range out.Files {
		if out.Files[i].Path == oldPath {
			out.Files[i].Name = newName
			out.Files[i].Path = newPath
			return out
		}
	}
	for i := range out.Folders {
		if out.Folders[i].Path == oldPath {
			out.Folders[i].Name = newName
			out.Folders[i].Path = newPath
			return out
		}
	}
	return out
}

// DeleteReport compares requested with confirmed deletions.
type DeleteReport struct {
	Requested int
	Deleted   []string
	Failed    []string
}

// Err returns a PartialFailure when some deletions were not confirmed.
func (r DeleteReport) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return &models.PartialFailure{
		Op:        "delete",
		Requested: r.Requested,
		Confirmed: len(r.Deleted),
		Failed:    r.Failed,
	}
}

// ApplyDelete removes the entries whose path the backend confirmed as
// deleted. Requested paths without confirmation stay and are reported.
func ApplyDelete(l models.Listing, requested []string, confirmed []models.DeletedObject) (models.Listing, DeleteReport) {
	gone := make(map[string]bool, len(confirmed))
	for _, d := range confirmed {
		gone[d.Name] = true
	}

	report := DeleteReport{Requested: len(requested)}
	for _, p := range requested {
		if gone[p] {
			report.Deleted = append(report.Deleted, p)
		} else {
			report.Failed = append(report.Failed, p)
		}
	}

	out := models.Listing{
		Files:   make([]models.FileEntry, 0, len(l.Files)),
		Folders: make([]models.FolderEntry, 0, len(l.Folders)),
	}
	for _, f := range l.Files {
		if !gone[f.Path] {
			out.Files = append(out.Files, f)
		}
	}
	for _, f := range l.Folders {
		if !gone[f.Path] {
			out.Folders = append(out.Folders, f)
		}
	}

	return out, report
}

func clone[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}
