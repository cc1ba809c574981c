package object

import (
	"bytes"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/pjbgf/sha1cd"
)

type packCountedWriter struct {
	w io.Writer
	n uint64
}

func (cw *packCountedWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += uint64(n)
	return n, err
}

func (cw *packCountedWriter) Count() uint64 {
	return cw.n
}

func compressPackPayload(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		_ = zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PackWriter writes Git pack v2 streams with zlib-compressed, undeltified
// object entries. The trailer is the SHA-1 over all preceding bytes.
type PackWriter struct {
	out      io.Writer
	hasher   hash.Hash
	hashedW  io.Writer
	counter  *packCountedWriter
	expected uint32
	written  uint32
	finished bool
	index    []PackIndexEntry
}

// NewPackWriter initializes a new writer and writes the fixed pack header.
func NewPackWriter(out io.Writer, numObjects uint32) (*PackWriter, error) {
	hasher := sha1cd.New()
	counter := &packCountedWriter{w: out}
	pw := &PackWriter{
		out:      out,
		hasher:   hasher,
		hashedW:  io.MultiWriter(counter, hasher),
		counter:  counter,
		expected: numObjects,
	}

	header := PackHeader{
		Version:    supportedPackVersion,
		NumObjects: numObjects,
	}
	if _, err := pw.hashedW.Write(header.Marshal()); err != nil {
		return nil, fmt.Errorf("write pack header: %w", err)
	}
	return pw, nil
}

// CurrentOffset returns the current byte offset in the pack stream (from pack
// start), excluding the trailing checksum written by Finish().
func (p *PackWriter) CurrentOffset() uint64 {
	return p.counter.Count()
}

// WriteEntry appends one object entry to the pack stream.
func (p *PackWriter) WriteEntry(objType PackObjectType, data []byte) error {
	if p.finished {
		return fmt.Errorf("pack writer already finished")
	}
	if p.written >= p.expected {
		return fmt.Errorf("pack object count exceeded: expected %d", p.expected)
	}
	if objType == PackOfsDelta || objType == PackRefDelta {
		return fmt.Errorf("pack writer does not emit delta entries")
	}

	header := encodePackEntryHeader(objType, uint64(len(data)))
	compressed, err := compressPackPayload(data)
	if err != nil {
		return fmt.Errorf("compress pack entry: %w", err)
	}

	offset := p.CurrentOffset()
	if _, err := p.hashedW.Write(header); err != nil {
		return fmt.Errorf("write pack entry header: %w", err)
	}
	if _, err := p.hashedW.Write(compressed); err != nil {
		return fmt.Errorf("write compressed pack entry: %w", err)
	}

	if t, ok := objType.ObjectType(); ok {
		crc := crc32.NewIEEE()
		crc.Write(header)
		crc.Write(compressed)
		p.index = append(p.index, PackIndexEntry{
			Hash:   HashObject(t, data),
			Offset: offset,
			CRC32:  crc.Sum32(),
		})
	}

	p.written++
	return nil
}

// WriteObject appends an object read from s.
func (p *PackWriter) WriteObject(s Store, h Hash) error {
	objType, data, err := s.Get(h)
	if err != nil {
		return err
	}
	packType, ok := PackTypeOf(objType)
	if !ok {
		return fmt.Errorf("unsupported object type %q", objType)
	}
	if err := p.WriteEntry(packType, data); err != nil {
		return fmt.Errorf("write pack entry for %s: %w", h, err)
	}
	return nil
}

// IndexEntries returns the idx rows for every entry written so far.
func (p *PackWriter) IndexEntries() []PackIndexEntry {
	out := make([]PackIndexEntry, len(p.index))
	copy(out, p.index)
	return out
}

// Finish validates object count, writes the trailing pack checksum, and returns
// that checksum as a hex digest.
func (p *PackWriter) Finish() (Hash, error) {
	if p.finished {
		return "", fmt.Errorf("pack writer already finished")
	}
	if p.written != p.expected {
		return "", fmt.Errorf("pack object count mismatch: wrote %d, expected %d", p.written, p.expected)
	}

	sum := p.hasher.Sum(nil)
	if _, err := p.out.Write(sum); err != nil {
		return "", fmt.Errorf("write pack trailer checksum: %w", err)
	}

	p.finished = true
	return hashFromRaw(sum), nil
}

// WritePack streams a complete pack holding hashes, in the given order.
func WritePack(w io.Writer, s Store, hashes []Hash) (*PackWriter, Hash, error) {
	pw, err := NewPackWriter(w, uint32(len(hashes)))
	if err != nil {
		return nil, "", fmt.Errorf("create pack writer: %w", err)
	}
	for _, h := range hashes {
		if err := pw.WriteObject(s, h); err != nil {
			return nil, "", err
		}
	}
	sum, err := pw.Finish()
	if err != nil {
		return nil, "", fmt.Errorf("finish pack: %w", err)
	}
	return pw, sum, nil
}
