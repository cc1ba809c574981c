// Package content defines the versioned wiki content model a snapshot is
// built from: namespaces, titles, revisions, the move/delete audit log and
// file attachments.
package content

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a revision, page, log entry or attachment
// does not exist at the requested point in time.
var ErrNotFound = errors.New("content: not found")

// Marker identifies a point in time: every revision with id <= RevID and
// every audit log entry with id <= LogID is visible. A zero LogID is filled
// in by Source.ResolveMarker from the revision's timestamp.
type Marker struct {
	RevID int64
	LogID int64
}

// String renders the marker the way it appears in request paths.
func (m Marker) String() string {
	if m.LogID == 0 {
		return fmt.Sprintf("%d", m.RevID)
	}
	return fmt.Sprintf("%d/%d", m.RevID, m.LogID)
}

// IsZero reports whether m is the "latest" marker.
func (m Marker) IsZero() bool {
	return m.RevID == 0 && m.LogID == 0
}

// PageRevisionRef names the newest revision of one page at or before a
// marker. Archived is set when the revision lives in the archive (the page
// was deleted after it).
type PageRevisionRef struct {
	PageID    int64
	RevID     int64
	Namespace NamespaceID
	Title     string
	Timestamp time.Time
	Archived  bool
}

// Revision is the stored text of a revision and its declared content format
// (a MIME type such as text/x-wiki).
type Revision struct {
	Ref     PageRevisionRef
	Content []byte
	Format  string
}

// LogAction is the action recorded by an audit log entry.
type LogAction string

const (
	ActionMove        LogAction = "move"
	ActionMoveRedir   LogAction = "move_redir"
	ActionDelete      LogAction = "delete"
	ActionDeleteRedir LogAction = "delete_redir"
	ActionRestore     LogAction = "restore"
)

// IsMove reports whether a is a rename.
func (a LogAction) IsMove() bool {
	return a == ActionMove || a == ActionMoveRedir
}

// Deletes reports whether a removes the page it names.
func (a LogAction) Deletes() bool {
	return a == ActionDelete || a == ActionDeleteRedir
}

// DeleteEvent is the latest deletion-log entry for a title.
type DeleteEvent struct {
	LogID     int64
	Action    LogAction
	Timestamp time.Time
}

// MediaTypeExecutable is the media type MediaWiki assigns to executables;
// such attachments are checked out with the executable bit.
const MediaTypeExecutable = "EXECUTABLE"

// Attachment is the binary payload of one uploaded file version.
type Attachment struct {
	Name       string
	Data       []byte
	MediaType  string
	Timestamp  time.Time
	Archived   bool
	Executable bool
}

// Source is the versioned content store a snapshot reads from. All lookups
// are read-only and must be safe for concurrent use.
type Source interface {
	// Namespaces returns the namespace table of the wiki.
	Namespaces(ctx context.Context) (NamespaceTable, error)

	// LatestMarker returns the marker covering every revision and log entry.
	LatestMarker(ctx context.Context) (Marker, error)

	// ResolveMarker validates m and fills in its LogID when zero. A zero
	// marker resolves to LatestMarker.
	ResolveMarker(ctx context.Context, m Marker) (Marker, error)

	// RevisionTime returns the timestamp of a live or archived revision.
	RevisionTime(ctx context.Context, revID int64) (time.Time, error)

	// ListPagesAsOf returns, for every page of ns with a revision at or
	// before m, the newest such revision. Live and archived revisions are
	// both considered. Results are ordered by page id.
	ListPagesAsOf(ctx context.Context, ns NamespaceID, m Marker) ([]PageRevisionRef, error)

	// RevisionContent loads the text and format of ref.
	RevisionContent(ctx context.Context, ref PageRevisionRef) (*Revision, error)

	// MoveTarget returns the target title text of the latest move of pageID
	// at or before m, or ok=false when the page never moved.
	MoveTarget(ctx context.Context, pageID int64, m Marker) (target string, ok bool, err error)

	// MoveSource returns the title pageID had before its first move after
	// m, or ok=false when it was not moved after m. A page that has not
	// moved yet at m still carried that title.
	MoveSource(ctx context.Context, pageID int64, m Marker) (t Title, ok bool, err error)

	// DeleteHistory returns the latest delete-log entry for t at or before
	// m, or ok=false when there is none.
	DeleteHistory(ctx context.Context, t Title, m Marker) (ev DeleteEvent, ok bool, err error)

	// Attachment returns the file version of name that was current at the
	// given time.
	Attachment(ctx context.Context, name string, at time.Time) (*Attachment, error)
}
