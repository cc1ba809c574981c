package object

import (
	"errors"
	"fmt"
	"strconv"
)

// Hash is a 40-character lowercase hex-encoded SHA-1 object id.
type Hash string

// ObjectType identifies the kind of object stored.
type ObjectType string

const (
	TypeBlob   ObjectType = "blob"
	TypeTree   ObjectType = "tree"
	TypeCommit ObjectType = "commit"
)

var (
	// ErrNotFound is returned by stores for unknown object ids.
	ErrNotFound = errors.New("object not found")
	// ErrDuplicateEntry is returned when a tree contains the same name twice.
	ErrDuplicateEntry = errors.New("duplicate tree entry")
	// ErrInvalidName is returned for tree entry names Git cannot represent.
	ErrInvalidName = errors.New("invalid tree entry name")
)

// Mode is a tree entry mode. The mode fixes the kind of object the entry
// points at, so readers never need to sniff the target.
type Mode uint32

const (
	ModeFile       Mode = 0o100644
	ModeExecutable Mode = 0o100755
	ModeSymlink    Mode = 0o120000
	ModeDir        Mode = 0o040000
)

// String returns the canonical Git spelling ("40000" for trees, no leading zero).
func (m Mode) String() string {
	return fmt.Sprintf("%o", uint32(m))
}

// IsDir reports whether the entry points at a tree.
func (m Mode) IsDir() bool {
	return m == ModeDir
}

// ObjectType returns the type of object an entry with this mode references.
func (m Mode) ObjectType() ObjectType {
	if m == ModeDir {
		return TypeTree
	}
	return TypeBlob
}

// Valid reports whether m is one of the modes this package writes.
func (m Mode) Valid() bool {
	switch m {
	case ModeFile, ModeExecutable, ModeSymlink, ModeDir:
		return true
	}
	return false
}

// ParseMode parses an octal Git mode string.
func ParseMode(s string) (Mode, error) {
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("parse mode %q: %w", s, err)
	}
	m := Mode(v)
	if !m.Valid() {
		return 0, fmt.Errorf("unknown mode %q", s)
	}
	return m, nil
}

// Blob holds raw file data.
type Blob struct {
	Data []byte
}

// TreeEntry is one entry in a tree object.
type TreeEntry struct {
	Mode   Mode
	Name   string
	Target Hash
}

// TreeObj holds tree entries. Serialization sorts them canonically, so the
// slice order here does not affect the object id.
type TreeObj struct {
	Entries []TreeEntry
}

// Signature identifies the author or committer of a commit.
type Signature struct {
	Name     string
	Email    string
	When     int64 // unix seconds
	Timezone string
}

// CommitObj represents a commit pointing to a tree with metadata.
type CommitObj struct {
	TreeHash  Hash
	Parents   []Hash
	Author    Signature
	Committer Signature
	Message   string
}
