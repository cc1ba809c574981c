package content

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Title is a namespaced page title in database-key form (underscores for
// spaces, first letter upper-cased).
type Title struct {
	Namespace NamespaceID
	DBKey     string
}

// ParseTitle parses prefixed title text such as "Help talk:Some page" into
// a Title. Text without a known namespace prefix belongs to the main
// namespace. A single leading colon is dropped.
func ParseTitle(text string, namespaces NamespaceTable) (Title, error) {
	key := normalizeDBKey(strings.TrimPrefix(normalizeDBKey(text), ":"))
	ns := NSMain
	if prefix, rest, ok := strings.Cut(key, ":"); ok {
		if found, ok := namespaces.ByName(prefix); ok && found.Name != "" {
			ns = found.ID
			key = normalizeDBKey(rest)
		}
	}
	if key == "" {
		return Title{}, fmt.Errorf("parse title %q: empty title", text)
	}
	if strings.ContainsAny(key, "#<>[]|{}") {
		return Title{}, fmt.Errorf("parse title %q: illegal character", text)
	}
	return Title{Namespace: ns, DBKey: upperFirst(key)}, nil
}

// normalizeDBKey converts spaces to underscores, collapses runs of
// underscores and trims them from both ends.
func normalizeDBKey(s string) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "_")
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}

func upperFirst(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[n:]
}
