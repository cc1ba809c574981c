package client

import (
	"fmt"

	"github.com/odvcencio/gitaccess/pkg/object"
)

// Verify checks that pf holds exactly the objects reachable from head and
// returns them grouped by kind.
func Verify(pf *object.PackFile, head object.Hash) (*object.Closure, error) {
	objs, err := pf.Objects()
	if err != nil {
		return nil, err
	}
	store := object.NewMemoryStore()
	for _, e := range objs {
		t, _ := e.Type.ObjectType()
		if _, err := store.Put(t, e.Data); err != nil {
			return nil, err
		}
	}
	closure, err := object.ReachableSet(store, []object.Hash{head})
	if err != nil {
		return nil, fmt.Errorf("verify pack: %w", err)
	}
	if extra := len(objs) - closure.Len(); extra != 0 {
		return nil, fmt.Errorf("verify pack: %d object(s) not reachable from %s", extra, head)
	}
	return closure, nil
}
