package object

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/pjbgf/sha1cd"
)

// PackIndex is a parsed idx v2 file.
type PackIndex struct {
	fanout        [256]uint32
	entries       []PackIndexEntry
	PackChecksum  Hash
	IndexChecksum Hash
}

// Len returns the number of objects the index lists.
func (idx *PackIndex) Len() int {
	return len(idx.entries)
}

// Entries returns a copy of the rows in hash order.
func (idx *PackIndex) Entries() []PackIndexEntry {
	out := make([]PackIndexEntry, len(idx.entries))
	copy(out, idx.entries)
	return out
}

// Find looks h up within its fanout bucket.
func (idx *PackIndex) Find(h Hash) (PackIndexEntry, bool) {
	raw, err := h.Raw()
	if err != nil {
		return PackIndexEntry{}, false
	}
	var lo uint32
	if raw[0] > 0 {
		lo = idx.fanout[raw[0]-1]
	}
	bucket := idx.entries[lo:idx.fanout[raw[0]]]
	i := sort.Search(len(bucket), func(i int) bool { return bucket[i].Hash >= h })
	if i < len(bucket) && bucket[i].Hash == h {
		return bucket[i], true
	}
	return PackIndexEntry{}, false
}

// ReadPackIndex parses an idx v2 file. Besides the trailer checksum it
// rejects a name table that is not strictly increasing and a fanout table
// that disagrees with the names.
func ReadPackIndex(data []byte) (*PackIndex, error) {
	if len(data) < packIndexHeaderSize+packIndexFanoutSize+2*HashSize {
		return nil, fmt.Errorf("pack index too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:4], packIndexMagic[:]) {
		return nil, fmt.Errorf("invalid pack index magic %q", data[:4])
	}
	if v := binary.BigEndian.Uint32(data[4:8]); v != packIndexVersion {
		return nil, fmt.Errorf("unsupported pack index version %d", v)
	}
	body, trailer := data[:len(data)-HashSize], data[len(data)-HashSize:]
	h := sha1cd.New()
	h.Write(body)
	if !bytes.Equal(trailer, h.Sum(nil)) {
		return nil, fmt.Errorf("pack index checksum mismatch")
	}

	idx := &PackIndex{IndexChecksum: hashFromRaw(trailer)}
	pos := packIndexHeaderSize
	for i := range idx.fanout {
		idx.fanout[i] = binary.BigEndian.Uint32(data[pos:])
		pos += 4
	}
	n := int(idx.fanout[255])
	names := pos
	crcs := names + n*HashSize
	offsets := crcs + n*4
	large := offsets + n*4
	if large+2*HashSize > len(data) {
		return nil, fmt.Errorf("pack index truncated: %d objects in %d bytes", n, len(data))
	}
	largeCount := (len(data) - 2*HashSize - large) / 8
	if large+largeCount*8+2*HashSize != len(data) {
		return nil, fmt.Errorf("pack index has %d stray bytes", len(data)-2*HashSize-large-largeCount*8)
	}

	var counts [256]uint32
	idx.entries = make([]PackIndexEntry, n)
	for i := range idx.entries {
		raw := data[names+i*HashSize : names+(i+1)*HashSize]
		if i > 0 && bytes.Compare(raw, data[names+(i-1)*HashSize:names+i*HashSize]) <= 0 {
			return nil, fmt.Errorf("pack index names out of order at %d", i)
		}
		counts[raw[0]]++

		off := uint64(binary.BigEndian.Uint32(data[offsets+i*4:]))
		if off&uint64(packIndexLargeOffsetBit) != 0 {
			ref := int(off &^ uint64(packIndexLargeOffsetBit))
			if ref >= largeCount {
				return nil, fmt.Errorf("pack index large offset %d out of range", ref)
			}
			off = binary.BigEndian.Uint64(data[large+ref*8:])
		}
		idx.entries[i] = PackIndexEntry{
			Hash:   hashFromRaw(raw),
			CRC32:  binary.BigEndian.Uint32(data[crcs+i*4:]),
			Offset: off,
		}
	}

	var total uint32
	for b, c := range counts {
		total += c
		if idx.fanout[b] != total {
			return nil, fmt.Errorf("pack index fanout[%02x] = %d, names give %d", b, idx.fanout[b], total)
		}
	}
	idx.PackChecksum = hashFromRaw(data[len(data)-2*HashSize : len(data)-HashSize])
	return idx, nil
}
