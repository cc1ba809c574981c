package snapshot

import (
	"sync"

	"github.com/odvcencio/gitaccess/pkg/object"
)

type indexedBlob struct {
	hash   object.Hash
	format string
}

// BlobIndex remembers the blob id and content format of each revision.
// Revision content never changes, so an entry stays valid across builds for
// as long as the object store keeps the blob.
type BlobIndex struct {
	mu   sync.RWMutex
	revs map[int64]indexedBlob
}

// NewBlobIndex returns an empty index.
func NewBlobIndex() *BlobIndex {
	return &BlobIndex{revs: make(map[int64]indexedBlob)}
}

// Get returns the blob id and format recorded for revID.
func (b *BlobIndex) Get(revID int64) (object.Hash, string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.revs[revID]
	return e.hash, e.format, ok
}

// Put records the blob of revID.
func (b *BlobIndex) Put(revID int64, h object.Hash, format string) {
	b.mu.Lock()
	b.revs[revID] = indexedBlob{hash: h, format: format}
	b.mu.Unlock()
}

// Len returns the number of recorded revisions.
func (b *BlobIndex) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.revs)
}
