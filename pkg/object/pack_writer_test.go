package object

import (
	"bytes"
	"testing"
)

func TestPackWriterSingleBlob(t *testing.T) {
	var buf bytes.Buffer
	pw, err := NewPackWriter(&buf, 1)
	if err != nil {
		t.Fatalf("NewPackWriter: %v", err)
	}

	blobData := []byte("hello world")
	if err := pw.WriteEntry(PackBlob, blobData); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}

	checksum, err := pw.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(checksum) != 2*HashSize {
		t.Fatalf("checksum = %q, want %d hex chars", checksum, 2*HashSize)
	}

	data := buf.Bytes()
	if len(data) <= packHeaderSize+HashSize {
		t.Fatalf("pack output too short: %d", len(data))
	}

	header, err := UnmarshalPackHeader(data[:packHeaderSize])
	if err != nil {
		t.Fatalf("UnmarshalPackHeader: %v", err)
	}
	if header.NumObjects != 1 {
		t.Fatalf("NumObjects = %d, want 1", header.NumObjects)
	}
	if got := hashFromRaw(data[len(data)-HashSize:]); got != checksum {
		t.Fatalf("trailer = %s, Finish returned %s", got, checksum)
	}
}

func TestPackWriterCountMismatch(t *testing.T) {
	var buf bytes.Buffer
	pw, err := NewPackWriter(&buf, 2)
	if err != nil {
		t.Fatalf("NewPackWriter: %v", err)
	}
	if err := pw.WriteEntry(PackBlob, []byte("one")); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}

	if _, err := pw.Finish(); err == nil {
		t.Fatal("expected count mismatch error")
	}
}

func TestPackWriterRejectsOverflowAndDeltas(t *testing.T) {
	var buf bytes.Buffer
	pw, err := NewPackWriter(&buf, 1)
	if err != nil {
		t.Fatalf("NewPackWriter: %v", err)
	}
	if err := pw.WriteEntry(PackRefDelta, []byte("x")); err == nil {
		t.Fatal("expected delta entry to be rejected")
	}
	if err := pw.WriteEntry(PackBlob, []byte("a")); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}
	if err := pw.WriteEntry(PackBlob, []byte("b")); err == nil {
		t.Fatal("expected count overflow error")
	}
}

func TestPackWriterRejectsWriteAfterFinish(t *testing.T) {
	var buf bytes.Buffer
	pw, err := NewPackWriter(&buf, 1)
	if err != nil {
		t.Fatalf("NewPackWriter: %v", err)
	}
	if err := pw.WriteEntry(PackBlob, []byte("x")); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}
	if _, err := pw.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := pw.WriteEntry(PackBlob, []byte("y")); err == nil {
		t.Fatal("expected error writing after Finish")
	}
	if _, err := pw.Finish(); err == nil {
		t.Fatal("expected error finishing twice")
	}
}

func TestWritePackRoundTripsThroughReadPack(t *testing.T) {
	s := NewMemoryStore()
	blob, err := WriteBlob(s, []byte("Main page text"))
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	tree, err := BuildTree(s, []TreeEntry{{Mode: ModeFile, Name: "Main_Page.wiki", Target: blob}})
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	commit, err := WriteCommit(s, &CommitObj{
		TreeHash:  tree,
		Author:    Signature{Name: "wiki", Email: "wiki@localhost", When: 1700000000},
		Committer: Signature{Name: "wiki", Email: "wiki@localhost", When: 1700000000},
		Message:   "snapshot\n",
	})
	if err != nil {
		t.Fatalf("WriteCommit: %v", err)
	}

	closure, err := ReachableSet(s, []Hash{commit})
	if err != nil {
		t.Fatalf("ReachableSet: %v", err)
	}
	var buf bytes.Buffer
	pw, sum, err := WritePack(&buf, s, closure.Ordered())
	if err != nil {
		t.Fatalf("WritePack: %v", err)
	}

	pf, err := ReadPack(buf.Bytes())
	if err != nil {
		t.Fatalf("ReadPack: %v", err)
	}
	if pf.Checksum != sum {
		t.Fatalf("checksum = %s, want %s", pf.Checksum, sum)
	}
	objs, err := pf.Objects()
	if err != nil {
		t.Fatalf("Objects: %v", err)
	}
	for _, h := range []Hash{commit, tree, blob} {
		if _, ok := objs[h]; !ok {
			t.Fatalf("pack missing %s", h)
		}
	}
	if pf.Entries[0].Type != PackCommit {
		t.Fatalf("first entry type = %d, want commit", pf.Entries[0].Type)
	}

	entries := pw.IndexEntries()
	if len(entries) != 3 {
		t.Fatalf("index entries = %d, want 3", len(entries))
	}
	if entries[0].Hash != commit || entries[0].Offset != packHeaderSize {
		t.Fatalf("first index entry = %+v", entries[0])
	}
	var idx bytes.Buffer
	if _, err := WritePackIndex(&idx, entries, sum); err != nil {
		t.Fatalf("WritePackIndex: %v", err)
	}
	parsed, err := ReadPackIndex(idx.Bytes())
	if err != nil {
		t.Fatalf("ReadPackIndex: %v", err)
	}
	got, ok := parsed.Find(blob)
	if !ok || got.Offset != entries[2].Offset || got.CRC32 != entries[2].CRC32 {
		t.Fatalf("Find(blob) = %+v,%v want %+v", got, ok, entries[2])
	}
}

func TestWritePackEmpty(t *testing.T) {
	var buf bytes.Buffer
	if _, _, err := WritePack(&buf, NewMemoryStore(), nil); err != nil {
		t.Fatalf("WritePack: %v", err)
	}
	pf, err := ReadPack(buf.Bytes())
	if err != nil {
		t.Fatalf("ReadPack: %v", err)
	}
	if pf.Header.NumObjects != 0 || len(pf.Entries) != 0 {
		t.Fatalf("expected empty pack, got %d objects", pf.Header.NumObjects)
	}
}

func TestWritePackMissingObject(t *testing.T) {
	var buf bytes.Buffer
	_, _, err := WritePack(&buf, NewMemoryStore(), []Hash{HashObject(TypeBlob, []byte("gone"))})
	if err == nil {
		t.Fatal("expected error for missing object")
	}
}
