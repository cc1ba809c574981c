package object

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Store is a content-addressed object store. Put is insert-if-absent: two
// writers racing on the same payload compute the same id and the second
// write is a no-op. Implementations must be safe for concurrent use.
type Store interface {
	Put(objType ObjectType, data []byte) (Hash, error)
	Get(h Hash) (ObjectType, []byte, error)
	Has(h Hash) bool
}

type storedObject struct {
	objType ObjectType
	data    []byte
}

// MemoryStore keeps objects in a map. It never evicts; a request that needs
// a bounded footprint should own its own MemoryStore.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[Hash]storedObject
	bytes   int64
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[Hash]storedObject)}
}

// Put stores data under its object id and returns the id.
func (s *MemoryStore) Put(objType ObjectType, data []byte) (Hash, error) {
	h := HashObject(objType, data)

	s.mu.RLock()
	_, ok := s.objects[h]
	s.mu.RUnlock()
	if ok {
		return h, nil
	}

	owned := make([]byte, len(data))
	copy(owned, data)

	s.mu.Lock()
	if _, ok := s.objects[h]; !ok {
		s.objects[h] = storedObject{objType: objType, data: owned}
		s.bytes += int64(len(owned))
	}
	s.mu.Unlock()
	return h, nil
}

// Get returns the type and payload of an object. The payload must not be
// modified by the caller.
func (s *MemoryStore) Get(h Hash) (ObjectType, []byte, error) {
	s.mu.RLock()
	obj, ok := s.objects[h]
	s.mu.RUnlock()
	if !ok {
		return "", nil, fmt.Errorf("object read %s: %w", h, ErrNotFound)
	}
	return obj.objType, obj.data, nil
}

// Has reports whether the store contains h.
func (s *MemoryStore) Has(h Hash) bool {
	s.mu.RLock()
	_, ok := s.objects[h]
	s.mu.RUnlock()
	return ok
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Size returns the total payload bytes held.
func (s *MemoryStore) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bytes
}

// DiskStore is a content-addressed object store with a 2-character fan-out
// directory layout: objects/ab/cdef0123... Files hold the zstd-compressed
// "type len\0content" envelope. It survives restarts, which lets a
// long-running server keep revision blobs across process lifetimes.
type DiskStore struct {
	root string
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

// NewDiskStore creates a DiskStore rooted at the given directory. The
// objects/ subdirectory is created lazily on first write.
func NewDiskStore(root string) (*DiskStore, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("disk store: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("disk store: zstd decoder: %w", err)
	}
	return &DiskStore{root: root, enc: enc, dec: dec}, nil
}

// Close releases the compression state.
func (s *DiskStore) Close() error {
	s.dec.Close()
	return s.enc.Close()
}

// Root returns the directory the store writes under.
func (s *DiskStore) Root() string {
	return s.root
}

// objectPath returns the filesystem path for a given hash.
func (s *DiskStore) objectPath(h Hash) string {
	return filepath.Join(s.root, "objects", string(h[:2]), string(h[2:]))
}

// Has reports whether the store contains an object with the given hash.
func (s *DiskStore) Has(h Hash) bool {
	if len(h) != 2*HashSize {
		return false
	}
	_, err := os.Stat(s.objectPath(h))
	return err == nil
}

// Put stores an object and returns its content hash. Writes are atomic:
// data is written to a temp file and then renamed into place.
func (s *DiskStore) Put(objType ObjectType, data []byte) (Hash, error) {
	h := HashObject(objType, data)

	// Fast path: already exists.
	if s.Has(h) {
		return h, nil
	}

	dir := filepath.Join(s.root, "objects", string(h[:2]))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("object write mkdir: %w", err)
	}

	raw := append(envelope(objType, len(data)), data...)
	compressed := s.enc.EncodeAll(raw, nil)

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("object write tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("object write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("object write close: %w", err)
	}

	if err := os.Rename(tmpName, s.objectPath(h)); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("object write rename: %w", err)
	}
	return h, nil
}

// Get retrieves an object by hash, returning its type and raw content.
func (s *DiskStore) Get(h Hash) (ObjectType, []byte, error) {
	if len(h) != 2*HashSize {
		return "", nil, fmt.Errorf("object read %q: %w", string(h), ErrNotFound)
	}
	compressed, err := os.ReadFile(s.objectPath(h))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, fmt.Errorf("object read %s: %w", h, ErrNotFound)
		}
		return "", nil, fmt.Errorf("object read %s: %w", h, err)
	}
	raw, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return "", nil, fmt.Errorf("object read %s: decompress: %w", h, err)
	}
	return parseEnvelope(h, raw)
}

// parseEnvelope splits "type len\0content" and checks the declared length.
func parseEnvelope(h Hash, raw []byte) (ObjectType, []byte, error) {
	nulIdx := bytes.IndexByte(raw, 0)
	if nulIdx < 0 {
		return "", nil, fmt.Errorf("object read %s: invalid format (no NUL)", h)
	}
	header := string(raw[:nulIdx])
	content := raw[nulIdx+1:]

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("object read %s: invalid header %q", h, header)
	}
	objType := ObjectType(parts[0])
	length, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", nil, fmt.Errorf("object read %s: invalid length %q: %w", h, parts[1], err)
	}
	if len(content) != length {
		return "", nil, fmt.Errorf("object read %s: length mismatch (header=%d, actual=%d)", h, length, len(content))
	}
	return objType, content, nil
}

// ---------------------------------------------------------------------------
// Builders
// ---------------------------------------------------------------------------

// WriteBlob wraps data into a blob object and registers it in s.
func WriteBlob(s Store, data []byte) (Hash, error) {
	return s.Put(TypeBlob, MarshalBlob(&Blob{Data: data}))
}

// BuildTree serializes entries as a canonical tree and registers it in s.
func BuildTree(s Store, entries []TreeEntry) (Hash, error) {
	data, err := MarshalTree(&TreeObj{Entries: entries})
	if err != nil {
		return "", fmt.Errorf("build tree: %w", err)
	}
	return s.Put(TypeTree, data)
}

// WriteCommit serializes and stores a CommitObj.
func WriteCommit(s Store, c *CommitObj) (Hash, error) {
	return s.Put(TypeCommit, MarshalCommit(c))
}

// ReadTree reads and deserializes a TreeObj.
func ReadTree(s Store, h Hash) (*TreeObj, error) {
	objType, data, err := s.Get(h)
	if err != nil {
		return nil, err
	}
	if objType != TypeTree {
		return nil, fmt.Errorf("object %s: type mismatch: got %q, want %q", h, objType, TypeTree)
	}
	return UnmarshalTree(data)
}

// ReadCommit reads and deserializes a CommitObj.
func ReadCommit(s Store, h Hash) (*CommitObj, error) {
	objType, data, err := s.Get(h)
	if err != nil {
		return nil, err
	}
	if objType != TypeCommit {
		return nil, fmt.Errorf("object %s: type mismatch: got %q, want %q", h, objType, TypeCommit)
	}
	return UnmarshalCommit(data)
}

// ReadBlob reads a blob payload.
func ReadBlob(s Store, h Hash) ([]byte, error) {
	objType, data, err := s.Get(h)
	if err != nil {
		return nil, err
	}
	if objType != TypeBlob {
		return nil, fmt.Errorf("object %s: type mismatch: got %q, want %q", h, objType, TypeBlob)
	}
	return data, nil
}
