package reconcile

import "github.com/TheMichaelB/stowage/internal/models"

// Event is a confirmed mutation. The set is closed: Uploaded, Renamed and
// Deleted.
type Event interface {
	event()
}

// Uploaded is the joined result of a batch upload into Dir.
type Uploaded struct {
	Dir       string
	Submitted []Submission
	Confirmed []models.UploadResult
	Context   UploadContext
}

// Renamed is a confirmed move of a single key.
type Renamed struct {
	OldPath string
	NewName string
	NewPath string
}

// Deleted is a confirmed batch delete.
type Deleted struct {
	Requested []string
	Confirmed []models.DeletedObject
}

func (Uploaded) event() {}
func (Renamed) event()  {}
func (Deleted) event()  {}

// Reduce applies e to l.
func Reduce(l models.Listing, e Event) models.Listing {
	switch e := e.(type) {
	case Uploaded:
		out, _ := ApplyUpload(l, e.Dir, e.Submitted, e.Confirmed, e.Context)
		return out
	case Renamed:
		return ApplyRename(l, e.OldPath, e.NewName, e.NewPath)
	case Deleted:
		out, _ := ApplyDelete(l, e.Requested, e.Confirmed)
		return out
	}
	return l
}
