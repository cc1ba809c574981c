// Package mimetype maps between MIME types and file name extensions using
// a table in Apache mime.types format.
package mimetype

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
	"strings"
	"sync"
)

//go:embed mime.types
var defaultTable string

// Registry is a parsed mime.types table. It is immutable after Parse.
type Registry struct {
	byType map[string][]string
	byExt  map[string]string
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the registry built from the embedded table.
func Default() *Registry {
	defaultOnce.Do(func() {
		r, err := Parse(strings.NewReader(defaultTable))
		if err != nil {
			panic(fmt.Sprintf("mimetype: embedded table: %v", err))
		}
		defaultRegistry = r
	})
	return defaultRegistry
}

// Parse reads a mime.types table. Blank lines and lines starting with '#'
// are ignored; a type listed twice keeps the extensions of both lines.
func Parse(r io.Reader) (*Registry, error) {
	reg := &Registry{
		byType: make(map[string][]string),
		byExt:  make(map[string]string),
	}
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		mimeType := strings.ToLower(fields[0])
		if !strings.Contains(mimeType, "/") {
			return nil, fmt.Errorf("mime.types line %d: malformed type %q", lineNo, fields[0])
		}
		for _, ext := range fields[1:] {
			ext = strings.ToLower(ext)
			reg.byType[mimeType] = append(reg.byType[mimeType], ext)
			if _, ok := reg.byExt[ext]; !ok {
				reg.byExt[ext] = mimeType
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read mime.types: %w", err)
	}
	return reg, nil
}

// HasExtension reports whether ext (with or without the leading dot) is a
// known extension. Matching is case-insensitive.
func (r *Registry) HasExtension(ext string) bool {
	_, ok := r.byExt[normalizeExt(ext)]
	return ok
}

// TypeByExtension returns the MIME type registered for ext.
func (r *Registry) TypeByExtension(ext string) (string, bool) {
	t, ok := r.byExt[normalizeExt(ext)]
	return t, ok
}

// Extension returns the preferred extension, without the dot, for a MIME
// type. Parameters such as "; charset=utf-8" are ignored.
func (r *Registry) Extension(mimeType string) (string, bool) {
	exts := r.byType[normalizeType(mimeType)]
	if len(exts) == 0 {
		return "", false
	}
	return exts[0], true
}

// Extensions returns every extension registered for a MIME type.
func (r *Registry) Extensions(mimeType string) []string {
	exts := r.byType[normalizeType(mimeType)]
	out := make([]string, len(exts))
	copy(out, exts)
	return out
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

func normalizeType(t string) string {
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return strings.ToLower(strings.TrimSpace(t))
}
