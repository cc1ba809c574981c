package snapshot

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/odvcencio/gitaccess/pkg/object"
)

// Rename records a directory renamed by CollisionRename.
type Rename struct {
	Dir  string
	From string
	To   string
}

// nester turns flat "Parent/Child" file names into nested trees.
type nester struct {
	store   object.Store
	policy  CollisionPolicy
	renames []Rename
}

// NestSubpages applies subpage nesting to entries whose names may contain
// '/': names are grouped by the part before the first separator and each
// group becomes a subtree, recursively. Entries without a separator are
// returned unchanged apart from escaping. Subtrees are written to s. A
// group whose name clashes with a file is handled per policy; renames are
// reported in the second return value.
func NestSubpages(s object.Store, entries []object.TreeEntry, policy CollisionPolicy) ([]object.TreeEntry, []Rename, error) {
	n := &nester{store: s, policy: policy}
	out, err := n.nest("", entries)
	if err != nil {
		return nil, nil, err
	}
	return out, n.renames, nil
}

// EscapeNames escapes every entry name without nesting.
func EscapeNames(entries []object.TreeEntry) []object.TreeEntry {
	out := make([]object.TreeEntry, len(entries))
	for i, e := range entries {
		e.Name = escapeName(e.Name)
		out[i] = e
	}
	return out
}

func (n *nester) nest(dir string, entries []object.TreeEntry) ([]object.TreeEntry, error) {
	var direct []object.TreeEntry
	groups := make(map[string][]object.TreeEntry)
	for _, e := range entries {
		prefix, rest, ok := splitSubpage(e.Name)
		if !ok || e.Mode.IsDir() {
			e.Name = escapeName(e.Name)
			direct = append(direct, e)
			continue
		}
		child := e
		child.Name = rest
		groups[prefix] = append(groups[prefix], child)
	}
	if len(groups) == 0 {
		return direct, nil
	}

	used := make(map[string]bool, len(direct)+len(groups))
	for _, e := range direct {
		used[e.Name] = true
	}

	prefixes := make([]string, 0, len(groups))
	for p := range groups {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)

	for _, prefix := range prefixes {
		childDir := path.Join(dir, prefix)
		children, err := n.nest(childDir, groups[prefix])
		if err != nil {
			return nil, err
		}
		h, err := object.BuildTree(n.store, children)
		if err != nil {
			return nil, fmt.Errorf("subpage tree %q: %w", childDir, err)
		}
		name, err := n.place(used, dir, escapeName(prefix))
		if err != nil {
			return nil, err
		}
		direct = append(direct, object.TreeEntry{Mode: object.ModeDir, Name: name, Target: h})
	}
	return direct, nil
}

// place reserves a directory name in used, resolving a clash per policy.
func (n *nester) place(used map[string]bool, dir, name string) (string, error) {
	final, err := placeName(used, n.policy, dir, name)
	if err != nil {
		return "", err
	}
	if final != name {
		n.renames = append(n.renames, Rename{Dir: dir, From: name, To: final})
	}
	return final, nil
}

func placeName(used map[string]bool, policy CollisionPolicy, dir, name string) (string, error) {
	if !used[name] {
		used[name] = true
		return name, nil
	}
	if policy == CollisionFail {
		return "", &CollisionError{Dir: dir, Name: name}
	}
	candidate := name + ".d"
	for i := 2; used[candidate]; i++ {
		candidate = fmt.Sprintf("%s.d%d", name, i)
	}
	used[candidate] = true
	return candidate, nil
}

// splitSubpage splits "Parent/Rest" at the first separator. Both sides
// must be non-empty.
func splitSubpage(name string) (prefix, rest string, ok bool) {
	i := strings.IndexByte(name, '/')
	if i <= 0 || i == len(name)-1 {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}

// escapeName makes a title component usable as a tree entry name: a '/'
// left over after nesting becomes %2F, and names Git refuses (".", "..",
// ".git") get their leading dot escaped as %2E. A '%' that already starts
// an escape sequence becomes %25, so distinct titles keep distinct names.
func escapeName(name string) string {
	if strings.IndexByte(name, '%') >= 0 {
		var b strings.Builder
		for i := 0; i < len(name); i++ {
			if name[i] == '%' && i+2 < len(name) && isHex(name[i+1]) && isHex(name[i+2]) {
				b.WriteString("%25")
				continue
			}
			b.WriteByte(name[i])
		}
		name = b.String()
	}
	name = strings.ReplaceAll(name, "/", "%2F")
	switch strings.ToLower(name) {
	case ".", "..", ".git":
		return "%2E" + name[1:]
	}
	return name
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}
