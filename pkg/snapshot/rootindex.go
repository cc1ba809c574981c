package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/odvcencio/gitaccess/pkg/content"
	"github.com/odvcencio/gitaccess/pkg/object"
)

// rootIndexVersion is bumped when the on-disk layout changes; files with
// another version are ignored.
const rootIndexVersion = 1

// IndexEntry is what RootIndex remembers about one built marker.
type IndexEntry struct {
	RevID   int64       `cbor:"1,keyasint"`
	LogID   int64       `cbor:"2,keyasint"`
	Root    object.Hash `cbor:"3,keyasint"`
	Commit  object.Hash `cbor:"4,keyasint"`
	Time    int64       `cbor:"5,keyasint"`
	BuiltAt int64       `cbor:"6,keyasint"`
}

// Marker returns the marker the entry was built for.
func (e IndexEntry) Marker() content.Marker {
	return content.Marker{RevID: e.RevID, LogID: e.LogID}
}

type rootIndexFile struct {
	Version int          `cbor:"1,keyasint"`
	Entries []IndexEntry `cbor:"2,keyasint"`
}

var rootIndexEncMode cbor.EncMode

func init() {
	var err error
	rootIndexEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("snapshot: CBOR encoder initialization failed: " + err.Error())
	}
}

// RootIndex maps resolved markers to the root tree and commit built for
// them. With a persistent object store it lets a restarted process answer
// ref advertisements without rebuilding.
type RootIndex struct {
	mu      sync.RWMutex
	entries map[content.Marker]IndexEntry
}

// NewRootIndex returns an empty index.
func NewRootIndex() *RootIndex {
	return &RootIndex{entries: make(map[content.Marker]IndexEntry)}
}

// Get returns the entry for m.
func (x *RootIndex) Get(m content.Marker) (IndexEntry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.entries[m]
	return e, ok
}

// Add records the result of a build.
func (x *RootIndex) Add(res *Result) IndexEntry {
	e := IndexEntry{
		RevID:   res.Marker.RevID,
		LogID:   res.Marker.LogID,
		Root:    res.Root,
		Commit:  res.Commit,
		Time:    res.Time.Unix(),
		BuiltAt: time.Now().Unix(),
	}
	x.mu.Lock()
	x.entries[res.Marker] = e
	x.mu.Unlock()
	return e
}

// Len returns the number of entries.
func (x *RootIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Entries returns all entries ordered by marker.
func (x *RootIndex) Entries() []IndexEntry {
	x.mu.RLock()
	out := make([]IndexEntry, 0, len(x.entries))
	for _, e := range x.entries {
		out = append(out, e)
	}
	x.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].RevID != out[j].RevID {
			return out[i].RevID < out[j].RevID
		}
		return out[i].LogID < out[j].LogID
	})
	return out
}

// Prune drops entries whose commit is no longer in s.
func (x *RootIndex) Prune(s object.Store) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	dropped := 0
	for m, e := range x.entries {
		if !s.Has(e.Commit) {
			delete(x.entries, m)
			dropped++
		}
	}
	return dropped
}

// MarshalCBOR encodes the index deterministically.
func (x *RootIndex) MarshalCBOR() ([]byte, error) {
	return rootIndexEncMode.Marshal(rootIndexFile{Version: rootIndexVersion, Entries: x.Entries()})
}

// UnmarshalCBOR replaces the index contents.
func (x *RootIndex) UnmarshalCBOR(data []byte) error {
	var f rootIndexFile
	if err := cbor.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode root index: %w", err)
	}
	if f.Version != rootIndexVersion {
		return fmt.Errorf("root index version %d, want %d", f.Version, rootIndexVersion)
	}
	entries := make(map[content.Marker]IndexEntry, len(f.Entries))
	for _, e := range f.Entries {
		entries[e.Marker()] = e
	}
	x.mu.Lock()
	x.entries = entries
	x.mu.Unlock()
	return nil
}

// Save writes the index to path atomically.
func (x *RootIndex) Save(path string) error {
	data, err := x.MarshalCBOR()
	if err != nil {
		return fmt.Errorf("encode root index: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("root index mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".roots-*")
	if err != nil {
		return fmt.Errorf("root index tmpfile: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write root index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close root index: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename root index: %w", err)
	}
	return nil
}

// LoadRootIndex reads an index written by Save. A missing file yields an
// empty index.
func LoadRootIndex(path string) (*RootIndex, error) {
	x := NewRootIndex()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return x, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read root index: %w", err)
	}
	if err := x.UnmarshalCBOR(data); err != nil {
		return nil, err
	}
	return x, nil
}
