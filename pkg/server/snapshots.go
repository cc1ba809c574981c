package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/odvcencio/gitaccess/pkg/content"
	"github.com/odvcencio/gitaccess/pkg/snapshot"
	"golang.org/x/sync/singleflight"
)

// Snapshots maps markers to built snapshots. Builds for one resolved
// marker are coalesced; distinct markers build concurrently.
type Snapshots struct {
	asm       *snapshot.Assembler
	index     *snapshot.RootIndex
	indexPath string
	group     singleflight.Group
	saveMu    sync.Mutex
	log       *slog.Logger
}

// NewSnapshots returns a cache over asm. When indexPath is set the root
// index is saved there after every build.
func NewSnapshots(asm *snapshot.Assembler, index *snapshot.RootIndex, indexPath string, log *slog.Logger) *Snapshots {
	if index == nil {
		index = snapshot.NewRootIndex()
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Snapshots{asm: asm, index: index, indexPath: indexPath, log: log}
}

// Index returns the underlying root index.
func (c *Snapshots) Index() *snapshot.RootIndex {
	return c.index
}

// Assembler returns the assembler snapshots are built with.
func (c *Snapshots) Assembler() *snapshot.Assembler {
	return c.asm
}

// Get resolves m and returns the snapshot built for it, building it on a
// miss. An index entry whose commit is gone from the store is rebuilt.
func (c *Snapshots) Get(ctx context.Context, m content.Marker) (snapshot.IndexEntry, error) {
	resolved, err := c.asm.Resolve(ctx, m)
	if err != nil {
		return snapshot.IndexEntry{}, err
	}
	if e, ok := c.lookup(resolved); ok {
		return e, nil
	}

	v, err, shared := c.group.Do(resolved.String(), func() (any, error) {
		if e, ok := c.lookup(resolved); ok {
			return e, nil
		}
		// A shared build must not die with the request that started it.
		res, err := c.asm.BuildResolved(context.WithoutCancel(ctx), resolved)
		if err != nil {
			return nil, err
		}
		e := c.index.Add(res)
		c.save()
		return e, nil
	})
	if err != nil {
		return snapshot.IndexEntry{}, err
	}
	if shared {
		c.log.Debug("joined in-flight snapshot build", "marker", resolved.String())
	}
	return v.(snapshot.IndexEntry), nil
}

func (c *Snapshots) lookup(m content.Marker) (snapshot.IndexEntry, bool) {
	e, ok := c.index.Get(m)
	if !ok || !c.asm.Store().Has(e.Commit) {
		return snapshot.IndexEntry{}, false
	}
	return e, true
}

func (c *Snapshots) save() {
	if c.indexPath == "" {
		return
	}
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	if err := c.index.Save(c.indexPath); err != nil {
		c.log.Warn("saving root index failed", "path", c.indexPath, "error", err)
	}
}
