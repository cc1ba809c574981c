package snapshot

import (
	"errors"
	"testing"

	"github.com/odvcencio/gitaccess/pkg/object"
)

func fileEntries(t *testing.T, s object.Store, names ...string) []object.TreeEntry {
	t.Helper()
	out := make([]object.TreeEntry, len(names))
	for i, n := range names {
		h, err := object.WriteBlob(s, []byte(n))
		if err != nil {
			t.Fatalf("WriteBlob: %v", err)
		}
		out[i] = object.TreeEntry{Mode: object.ModeFile, Name: n, Target: h}
	}
	return out
}

func byName(entries []object.TreeEntry) map[string]object.TreeEntry {
	out := make(map[string]object.TreeEntry, len(entries))
	for _, e := range entries {
		out[e.Name] = e
	}
	return out
}

func readTree(t *testing.T, s object.Store, h object.Hash) map[string]object.TreeEntry {
	t.Helper()
	tr, err := object.ReadTree(s, h)
	if err != nil {
		t.Fatalf("ReadTree(%s): %v", h, err)
	}
	return byName(tr.Entries)
}

func TestNestSubpagesRenamesCollidingDirectory(t *testing.T) {
	s := object.NewMemoryStore()
	out, renames, err := NestSubpages(s, fileEntries(t, s, "Guide", "Guide/Setup", "Guide/Usage"), CollisionRename)
	if err != nil {
		t.Fatalf("NestSubpages: %v", err)
	}
	got := byName(out)
	if len(got) != 2 {
		t.Fatalf("entries = %v", out)
	}
	if got["Guide"].Mode != object.ModeFile {
		t.Fatalf("Guide = %+v, want file", got["Guide"])
	}
	dir, ok := got["Guide.d"]
	if !ok || !dir.Mode.IsDir() {
		t.Fatalf("Guide.d = %+v,%v", dir, ok)
	}
	children := readTree(t, s, dir.Target)
	if len(children) != 2 || children["Setup"].Mode != object.ModeFile || children["Usage"].Mode != object.ModeFile {
		t.Fatalf("Guide.d children = %v", children)
	}
	if len(renames) != 1 || renames[0] != (Rename{Dir: "", From: "Guide", To: "Guide.d"}) {
		t.Fatalf("renames = %+v", renames)
	}
}

func TestNestSubpagesErrorPolicy(t *testing.T) {
	s := object.NewMemoryStore()
	_, _, err := NestSubpages(s, fileEntries(t, s, "Guide", "Guide/Setup", "Guide/Setup/Deep"), CollisionFail)
	if !errors.Is(err, ErrNameCollision) {
		t.Fatalf("err = %v, want ErrNameCollision", err)
	}
	var ce *CollisionError
	if !errors.As(err, &ce) || ce.Dir != "Guide" || ce.Name != "Setup" {
		t.Fatalf("err = %#v, want collision on Guide/Setup", err)
	}
}

func TestNestSubpagesIsIdempotentOnFlatEntries(t *testing.T) {
	s := object.NewMemoryStore()
	in := fileEntries(t, s, "Alpha.wiki", "Beta.css", "Gamma")
	before := s.Len()
	out, renames, err := NestSubpages(s, in, CollisionFail)
	if err != nil {
		t.Fatalf("NestSubpages: %v", err)
	}
	if len(renames) != 0 || s.Len() != before {
		t.Fatalf("flat input wrote trees or renamed: renames=%v objects=%d->%d", renames, before, s.Len())
	}
	if len(out) != len(in) {
		t.Fatalf("out = %v", out)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("entry %d changed: %+v -> %+v", i, in[i], out[i])
		}
	}

	// A second pass over nested output changes nothing either.
	nested, _, err := NestSubpages(s, fileEntries(t, s, "A/B/C.wiki", "A/D.wiki"), CollisionFail)
	if err != nil {
		t.Fatalf("NestSubpages: %v", err)
	}
	again, _, err := NestSubpages(s, nested, CollisionFail)
	if err != nil {
		t.Fatalf("NestSubpages: %v", err)
	}
	if len(again) != 1 || again[0] != nested[0] {
		t.Fatalf("second pass = %+v, want %+v", again, nested)
	}
}

func TestNestSubpagesDeepNesting(t *testing.T) {
	s := object.NewMemoryStore()
	out, _, err := NestSubpages(s, fileEntries(t, s, "A/B/C.wiki", "A/D.wiki", "E.wiki"), CollisionRename)
	if err != nil {
		t.Fatalf("NestSubpages: %v", err)
	}
	root := byName(out)
	a := readTree(t, s, root["A"].Target)
	if _, ok := a["D.wiki"]; !ok {
		t.Fatalf("A = %v", a)
	}
	b := readTree(t, s, a["B"].Target)
	if _, ok := b["C.wiki"]; !ok || len(b) != 1 {
		t.Fatalf("A/B = %v", b)
	}
	if _, ok := root["E.wiki"]; !ok {
		t.Fatalf("root = %v", root)
	}
}

func TestNestSubpagesEscapesNames(t *testing.T) {
	s := object.NewMemoryStore()
	out, _, err := NestSubpages(s, fileEntries(t, s, "A//B", "Trailing/", ".git/config", ".."), CollisionRename)
	if err != nil {
		t.Fatalf("NestSubpages: %v", err)
	}
	root := byName(out)
	for _, name := range []string{"A", "Trailing%2F", "%2Egit", "%2E."} {
		if _, ok := root[name]; !ok {
			t.Fatalf("missing %q in %v", name, root)
		}
	}
	a := readTree(t, s, root["A"].Target)
	if _, ok := a["%2FB"]; !ok {
		t.Fatalf("A = %v", a)
	}
	if _, err := object.BuildTree(s, out); err != nil {
		t.Fatalf("escaped entries must form a valid tree: %v", err)
	}
}

func TestEscapeNamesKeepsLiteralPercentDistinct(t *testing.T) {
	s := object.NewMemoryStore()
	out := EscapeNames(fileEntries(t, s, "A%2FB", "A/B", "100%", "%2Egit", "50%z"))
	got := byName(out)
	for _, name := range []string{"A%252FB", "A%2FB", "100%", "%252Egit", "50%z"} {
		if _, ok := got[name]; !ok {
			t.Fatalf("missing %q in %v", name, got)
		}
	}
	if _, err := object.BuildTree(s, out); err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
}

func TestPlaceNameRenameChain(t *testing.T) {
	used := map[string]bool{"X": true, "X.d": true}
	got, err := placeName(used, CollisionRename, "", "X")
	if err != nil || got != "X.d2" {
		t.Fatalf("placeName = %q,%v want X.d2", got, err)
	}
	if !used["X.d2"] {
		t.Fatal("placeName did not reserve the new name")
	}
}

func TestParseCollisionPolicy(t *testing.T) {
	if p, err := ParseCollisionPolicy(""); err != nil || p != CollisionRename {
		t.Fatalf("default = %q,%v", p, err)
	}
	if p, err := ParseCollisionPolicy("error"); err != nil || p != CollisionFail {
		t.Fatalf("error = %q,%v", p, err)
	}
	if _, err := ParseCollisionPolicy("merge"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}
