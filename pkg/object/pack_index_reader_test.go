package object

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"testing"
)

func TestReadPackIndexRoundTripAndFind(t *testing.T) {
	entries := []PackIndexEntry{
		{Hash: Hash("02" + repeatHex("00", 19)), Offset: 8, CRC32: 0x11111111},
		{Hash: Hash("20" + repeatHex("00", 19)), Offset: uint64(packIndexLargeOffsetBit) + 9, CRC32: 0x22222222},
		{Hash: Hash("10" + repeatHex("00", 19)), Offset: 7, CRC32: 0x33333333},
	}
	packChecksum := Hash(repeatHex("aa", 20))

	var buf bytes.Buffer
	indexChecksum, err := WritePackIndex(&buf, entries, packChecksum)
	if err != nil {
		t.Fatalf("WritePackIndex: %v", err)
	}

	idx, err := ReadPackIndex(buf.Bytes())
	if err != nil {
		t.Fatalf("ReadPackIndex: %v", err)
	}

	if idx.PackChecksum != packChecksum {
		t.Fatalf("PackChecksum = %s, want %s", idx.PackChecksum, packChecksum)
	}
	if idx.IndexChecksum != indexChecksum {
		t.Fatalf("IndexChecksum = %s, want %s", idx.IndexChecksum, indexChecksum)
	}

	// Entries must be sorted by hash in index representation.
	for i := 1; i < len(idx.entries); i++ {
		if idx.entries[i-1].Hash > idx.entries[i].Hash {
			t.Fatalf("entries not sorted at %d: %s > %s", i, idx.entries[i-1].Hash, idx.entries[i].Hash)
		}
	}

	found, ok := idx.Find(Hash("10" + repeatHex("00", 19)))
	if !ok {
		t.Fatal("expected to find hash 10..")
	}
	if found.Offset != 7 || found.CRC32 != 0x33333333 {
		t.Fatalf("unexpected found entry: %+v", found)
	}

	found, ok = idx.Find(Hash("20" + repeatHex("00", 19)))
	if !ok {
		t.Fatal("expected to find hash 20..")
	}
	if found.Offset != uint64(packIndexLargeOffsetBit)+9 {
		t.Fatalf("large offset mismatch: got %d", found.Offset)
	}

	if _, ok := idx.Find(Hash("ff" + repeatHex("00", 19))); ok {
		t.Fatal("unexpected hit for missing hash")
	}
}

func TestReadPackIndexRejectsChecksumMismatch(t *testing.T) {
	entries := []PackIndexEntry{{Hash: Hash("10" + repeatHex("00", 19)), Offset: 1}}
	packChecksum := Hash(repeatHex("aa", 20))

	var buf bytes.Buffer
	if _, err := WritePackIndex(&buf, entries, packChecksum); err != nil {
		t.Fatalf("WritePackIndex: %v", err)
	}

	data := append([]byte(nil), buf.Bytes()...)
	data[len(data)-1] ^= 0xff

	if _, err := ReadPackIndex(data); err == nil {
		t.Fatal("expected checksum mismatch")
	}
}

func TestReadPackIndexRejectsBadMagic(t *testing.T) {
	var bad bytes.Buffer
	bad.WriteString("JUNK")
	bad.Write(make([]byte, minPackIndexPayloadSize()-4))

	// Rebuild trailing checksum so the parser reaches magic validation first.
	data := bad.Bytes()
	copy(data[len(data)-HashSize:], sha1Sum(data[:len(data)-HashSize]))

	if _, err := ReadPackIndex(data); err == nil {
		t.Fatal("expected bad magic error")
	}
}

func minPackIndexPayloadSize() int {
	return packIndexHeaderSize + packIndexFanoutSize + 2*HashSize
}

func TestReadPackIndexChecksumFieldMatchesTrailer(t *testing.T) {
	entries := []PackIndexEntry{{Hash: Hash("66" + repeatHex("00", 19)), Offset: 4}}
	packChecksum := Hash(repeatHex("ef", 20))
	var buf bytes.Buffer
	if _, err := WritePackIndex(&buf, entries, packChecksum); err != nil {
		t.Fatalf("WritePackIndex: %v", err)
	}

	data := buf.Bytes()
	idx, err := ReadPackIndex(data)
	if err != nil {
		t.Fatalf("ReadPackIndex: %v", err)
	}
	gotTrailer := hex.EncodeToString(data[len(data)-HashSize:])
	if string(idx.IndexChecksum) != gotTrailer {
		t.Fatalf("index checksum mismatch: got %s want %s", idx.IndexChecksum, gotTrailer)
	}
}

func TestReadPackIndexRejectsUnsortedHashTable(t *testing.T) {
	entries := []PackIndexEntry{
		{Hash: Hash("10" + repeatHex("00", 19)), Offset: 1},
		{Hash: Hash("10" + repeatHex("ff", 19)), Offset: 2},
	}
	packChecksum := Hash(repeatHex("aa", 20))

	var buf bytes.Buffer
	if _, err := WritePackIndex(&buf, entries, packChecksum); err != nil {
		t.Fatalf("WritePackIndex: %v", err)
	}
	data := append([]byte(nil), buf.Bytes()...)

	namesStart := packIndexHeaderSize + packIndexFanoutSize
	first := append([]byte(nil), data[namesStart:namesStart+HashSize]...)
	second := append([]byte(nil), data[namesStart+HashSize:namesStart+2*HashSize]...)
	copy(data[namesStart:namesStart+HashSize], second)
	copy(data[namesStart+HashSize:namesStart+2*HashSize], first)

	copy(data[len(data)-HashSize:], sha1Sum(data[:len(data)-HashSize]))

	if _, err := ReadPackIndex(data); err == nil || !strings.Contains(err.Error(), "out of order") {
		t.Fatalf("err = %v, want names out of order", err)
	}
}

func TestReadPackIndexRejectsFanoutMismatch(t *testing.T) {
	entries := []PackIndexEntry{
		{Hash: Hash("10" + repeatHex("00", 19)), Offset: 1},
	}
	packChecksum := Hash(repeatHex("aa", 20))

	var buf bytes.Buffer
	if _, err := WritePackIndex(&buf, entries, packChecksum); err != nil {
		t.Fatalf("WritePackIndex: %v", err)
	}
	data := append([]byte(nil), buf.Bytes()...)

	fanoutStart := packIndexHeaderSize
	binary.BigEndian.PutUint32(data[fanoutStart+(0x0f*4):], 1)

	copy(data[len(data)-HashSize:], sha1Sum(data[:len(data)-HashSize]))

	if _, err := ReadPackIndex(data); err == nil || !strings.Contains(err.Error(), "fanout") {
		t.Fatalf("err = %v, want fanout mismatch", err)
	}
}

func TestReadPackIndexRejectsStrayBytes(t *testing.T) {
	entries := []PackIndexEntry{{Hash: Hash("10" + repeatHex("00", 19)), Offset: 1}}
	var buf bytes.Buffer
	if _, err := WritePackIndex(&buf, entries, Hash(repeatHex("aa", 20))); err != nil {
		t.Fatalf("WritePackIndex: %v", err)
	}
	body := buf.Bytes()[:buf.Len()-HashSize]
	grown := append(append([]byte(nil), body[:len(body)-HashSize]...), 0, 0, 0)
	grown = append(grown, body[len(body)-HashSize:]...)
	grown = append(grown, sha1Sum(grown)...)

	if _, err := ReadPackIndex(grown); err == nil {
		t.Fatal("expected stray bytes error")
	}
}
