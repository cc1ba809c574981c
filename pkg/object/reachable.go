package object

import (
	"fmt"
)

// Closure is the set of objects reachable from a set of roots, grouped in
// the order a pack should carry them.
type Closure struct {
	Commits []Hash
	Trees   []Hash
	Blobs   []Hash
}

// Len returns the number of objects in the closure.
func (c *Closure) Len() int {
	return len(c.Commits) + len(c.Trees) + len(c.Blobs)
}

// Ordered returns commits, then trees, then blobs.
func (c *Closure) Ordered() []Hash {
	out := make([]Hash, 0, c.Len())
	out = append(out, c.Commits...)
	out = append(out, c.Trees...)
	return append(out, c.Blobs...)
}

// ReachableSet walks every object reachable from roots by following commit
// and tree references. Unlike a repository with history, every referenced
// object must be present: a missing object is an error, since the resulting
// pack would be unusable. The walk is breadth-first over sorted tree
// entries, so the result is deterministic.
func ReachableSet(s Store, roots []Hash) (*Closure, error) {
	out := &Closure{}
	seen := make(map[Hash]struct{})
	queue := make([]Hash, 0, len(roots))
	for _, r := range roots {
		if r != "" {
			queue = append(queue, r)
		}
	}

	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}

		objType, data, err := s.Get(h)
		if err != nil {
			return nil, fmt.Errorf("reachable set read %s: %w", h, err)
		}
		switch objType {
		case TypeBlob:
			out.Blobs = append(out.Blobs, h)
		case TypeCommit:
			out.Commits = append(out.Commits, h)
			commit, err := UnmarshalCommit(data)
			if err != nil {
				return nil, fmt.Errorf("reachable set parse %s: %w", h, err)
			}
			queue = append(queue, commit.TreeHash)
			queue = append(queue, commit.Parents...)
		case TypeTree:
			out.Trees = append(out.Trees, h)
			tree, err := UnmarshalTree(data)
			if err != nil {
				return nil, fmt.Errorf("reachable set parse %s: %w", h, err)
			}
			for _, e := range tree.Entries {
				queue = append(queue, e.Target)
			}
		default:
			return nil, fmt.Errorf("reachable set %s: unsupported object type %q", h, objType)
		}
	}
	return out, nil
}
