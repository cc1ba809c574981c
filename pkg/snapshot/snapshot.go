// Package snapshot assembles a point-in-time view of a wiki into Git
// objects: one blob per page, one tree per namespace (with subpages nested
// into directories), an attachment tree, a root tree and a commit.
package snapshot

import (
	"errors"
	"fmt"
	"log/slog"
	"text/template"
	"time"

	"github.com/odvcencio/gitaccess/pkg/content"
	"github.com/odvcencio/gitaccess/pkg/mimetype"
	"github.com/odvcencio/gitaccess/pkg/object"
)

// ErrNameCollision reports a directory produced by nesting that clashes
// with a file of the same name.
var ErrNameCollision = errors.New("snapshot: name collision")

// CollisionError names the clashing entry. Dir is the slash-separated path
// of the containing directory ("" for the root).
type CollisionError struct {
	Dir  string
	Name string
}

func (e *CollisionError) Error() string {
	if e.Dir == "" {
		return fmt.Sprintf("snapshot: name collision: %q is both a file and a directory", e.Name)
	}
	return fmt.Sprintf("snapshot: name collision in %q: %q is both a file and a directory", e.Dir, e.Name)
}

func (e *CollisionError) Unwrap() error { return ErrNameCollision }

// CollisionPolicy decides what happens when a directory name clashes with
// a file name.
type CollisionPolicy string

const (
	// CollisionRename suffixes the directory with ".d" (then ".d2", ".d3", ...).
	CollisionRename CollisionPolicy = "rename"
	// CollisionFail fails the build with *CollisionError.
	CollisionFail CollisionPolicy = "error"
)

// ParseCollisionPolicy validates a policy name. Empty selects rename.
func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch CollisionPolicy(s) {
	case "", CollisionRename:
		return CollisionRename, nil
	case CollisionFail:
		return CollisionFail, nil
	}
	return "", fmt.Errorf("unknown collision policy %q (want %q or %q)", s, CollisionRename, CollisionFail)
}

// DefaultMessage is the commit message template used when none is set.
const DefaultMessage = "Wiki snapshot at {{.Marker}}\n"

// CommitOptions configures the commit wrapping a root tree.
type CommitOptions struct {
	AuthorName  string
	AuthorEmail string
	// Message is a text/template rendered with MessageData.
	Message string
}

// MessageData is passed to the commit message template.
type MessageData struct {
	Marker content.Marker
	RevID  int64
	LogID  int64
	Time   time.Time
	Stats  Stats
}

// Options configures an Assembler.
type Options struct {
	// Namespaces overrides the table reported by the source.
	Namespaces content.NamespaceTable
	// Include overrides the inclusion of namespaces by canonical name.
	// "Main" (or MainDir) names the main namespace. Media and Special are
	// excluded unless listed here.
	Include map[string]bool

	RootNamespace       content.NamespaceID
	AttachmentNamespace content.NamespaceID
	AttachmentDir       string
	MainDir             string

	// Exclude holds doublestar patterns matched against "<dir>/<title>";
	// pages in the root namespace match against the bare title.
	Exclude []string

	Collision CollisionPolicy
	// Strict fails the build on the first page that cannot be loaded
	// instead of skipping it.
	Strict bool
	// Workers bounds concurrent page resolution within a namespace.
	Workers int

	Commit CommitOptions
	Mime   *mimetype.Registry
	Logger *slog.Logger
}

// DefaultOptions returns the conventional layout: GitAccess_root merged
// into the root, the File namespace feeding a "Media" attachment tree and
// the main namespace under "(Main)".
func DefaultOptions() Options {
	return Options{
		RootNamespace:       content.NSGitAccessRoot,
		AttachmentNamespace: content.NSFile,
		AttachmentDir:       "Media",
		MainDir:             "(Main)",
		Collision:           CollisionRename,
		Workers:             8,
		Commit: CommitOptions{
			AuthorName:  "MediaWiki",
			AuthorEmail: "mediawiki@localhost",
			Message:     DefaultMessage,
		},
	}
}

func (o *Options) applyDefaults() {
	def := DefaultOptions()
	if o.AttachmentDir == "" {
		o.AttachmentDir = def.AttachmentDir
	}
	if o.MainDir == "" {
		o.MainDir = def.MainDir
	}
	if o.Collision == "" {
		o.Collision = def.Collision
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.Commit.AuthorName == "" {
		o.Commit.AuthorName = def.Commit.AuthorName
	}
	if o.Commit.AuthorEmail == "" {
		o.Commit.AuthorEmail = def.Commit.AuthorEmail
	}
	if o.Commit.Message == "" {
		o.Commit.Message = def.Commit.Message
	}
	if o.Mime == nil {
		o.Mime = mimetype.Default()
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
}

func parseMessageTemplate(text string) (*template.Template, error) {
	tmpl, err := template.New("message").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("commit message template: %w", err)
	}
	return tmpl, nil
}

// Stats summarizes one build.
type Stats struct {
	Namespaces  int
	Pages       int
	Attachments int
	// Skipped counts pages dropped because their content could not be loaded.
	Skipped int
	// Deleted counts pages hidden by the delete log.
	Deleted int
	// Excluded counts pages matched by an exclude pattern, and pages listed
	// in another namespace whose historical namespace is not included.
	// Pages that never left an excluded namespace are not counted.
	Excluded int
	// Duplicates counts entries dropped because a newer revision produced
	// the same file name.
	Duplicates int
	// Renamed counts directories renamed to resolve a name collision.
	Renamed int
	// MissingAttachments counts attachment pages whose file was unavailable.
	MissingAttachments int
	Duration           time.Duration
}

// Result is the outcome of one build.
type Result struct {
	Marker content.Marker
	Root   object.Hash
	Commit object.Hash
	Time   time.Time
	Stats  Stats
}
