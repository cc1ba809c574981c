package mimetype

import (
	"strings"
	"testing"
)

func TestDefaultContentFormats(t *testing.T) {
	r := Default()
	cases := map[string]string{
		"text/x-wiki":               "wiki",
		"text/css":                  "css",
		"text/javascript":           "js",
		"application/json":          "json",
		"text/plain":                "txt",
		"TEXT/PLAIN; charset=utf-8": "txt",
	}
	for mimeType, want := range cases {
		got, ok := r.Extension(mimeType)
		if !ok || got != want {
			t.Errorf("Extension(%q) = %q,%v want %q", mimeType, got, ok, want)
		}
	}
	if _, ok := r.Extension("application/x-unknown"); ok {
		t.Fatal("unknown type reported an extension")
	}
}

func TestHasExtension(t *testing.T) {
	r := Default()
	for _, ext := range []string{"css", ".JS", "png", "Wiki"} {
		if !r.HasExtension(ext) {
			t.Errorf("HasExtension(%q) = false", ext)
		}
	}
	for _, ext := range []string{"", "notanext", "Page"} {
		if r.HasExtension(ext) {
			t.Errorf("HasExtension(%q) = true", ext)
		}
	}
	if got, _ := r.TypeByExtension("js"); got != "application/javascript" {
		t.Fatalf("TypeByExtension(js) = %q, want first registration", got)
	}
}

func TestParse(t *testing.T) {
	r, err := Parse(strings.NewReader("# comment\n\ntext/x-foo foo bar\ntext/x-foo baz\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := r.Extensions("text/x-foo"); strings.Join(got, ",") != "foo,bar,baz" {
		t.Fatalf("Extensions = %v", got)
	}
	if _, err := Parse(strings.NewReader("notatype ext\n")); err == nil {
		t.Fatal("expected error for malformed type")
	}
}
