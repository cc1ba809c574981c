package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"text/template"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/odvcencio/gitaccess/pkg/content"
	"github.com/odvcencio/gitaccess/pkg/object"
	"golang.org/x/sync/errgroup"
)

// Assembler builds snapshots from a content source into an object store.
// It holds no per-build state and is safe for concurrent use; concurrent
// builds of the same marker write identical objects.
type Assembler struct {
	src     content.Source
	store   object.Store
	opts    Options
	message *template.Template
	blobs   *BlobIndex
	log     *slog.Logger
}

// NewAssembler validates opts and returns an Assembler. Start from
// DefaultOptions: zero namespace ids are taken literally.
func NewAssembler(src content.Source, store object.Store, opts Options) (*Assembler, error) {
	opts.applyDefaults()
	if _, err := ParseCollisionPolicy(string(opts.Collision)); err != nil {
		return nil, err
	}
	for _, p := range opts.Exclude {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	tmpl, err := parseMessageTemplate(opts.Commit.Message)
	if err != nil {
		return nil, err
	}
	return &Assembler{
		src:     src,
		store:   store,
		opts:    opts,
		message: tmpl,
		blobs:   NewBlobIndex(),
		log:     opts.Logger,
	}, nil
}

// Store returns the object store the assembler writes to.
func (a *Assembler) Store() object.Store {
	return a.store
}

// Source returns the content source the assembler reads from.
func (a *Assembler) Source() content.Source {
	return a.src
}

// Blobs returns the revision to blob cache.
func (a *Assembler) Blobs() *BlobIndex {
	return a.blobs
}

// Resolve validates m against the source, filling in its log cutoff.
func (a *Assembler) Resolve(ctx context.Context, m content.Marker) (content.Marker, error) {
	return a.src.ResolveMarker(ctx, m)
}

// Build resolves m and builds the snapshot at that marker.
func (a *Assembler) Build(ctx context.Context, m content.Marker) (*Result, error) {
	resolved, err := a.Resolve(ctx, m)
	if err != nil {
		return nil, err
	}
	return a.BuildResolved(ctx, resolved)
}

// BuildResolved builds the root tree and commit for an already resolved
// marker.
func (a *Assembler) BuildResolved(ctx context.Context, m content.Marker) (*Result, error) {
	start := time.Now()
	b, err := a.newBuild(ctx, m)
	if err != nil {
		return nil, err
	}
	root, err := b.buildRoot(ctx)
	if err != nil {
		return nil, fmt.Errorf("build snapshot %s: %w", m, err)
	}

	res := &Result{Marker: m, Root: root}
	if m.RevID > 0 {
		if res.Time, err = a.src.RevisionTime(ctx, m.RevID); err != nil {
			return nil, fmt.Errorf("build snapshot %s: marker time: %w", m, err)
		}
	} else {
		res.Time = time.Unix(0, 0).UTC()
	}
	b.stats.Duration = time.Since(start)
	res.Stats = b.stats

	if res.Commit, err = a.writeCommit(res); err != nil {
		return nil, fmt.Errorf("build snapshot %s: %w", m, err)
	}
	a.log.Info("snapshot built",
		"marker", m.String(),
		"root", string(root),
		"commit", string(res.Commit),
		"pages", res.Stats.Pages,
		"attachments", res.Stats.Attachments,
		"skipped", res.Stats.Skipped,
		"deleted", res.Stats.Deleted,
		"duration", res.Stats.Duration,
	)
	return res, nil
}

func (a *Assembler) writeCommit(res *Result) (object.Hash, error) {
	var msg bytes.Buffer
	data := MessageData{Marker: res.Marker, RevID: res.Marker.RevID, LogID: res.Marker.LogID, Time: res.Time, Stats: res.Stats}
	// Duration varies between builds of the same marker.
	data.Stats.Duration = 0
	if err := a.message.Execute(&msg, data); err != nil {
		return "", fmt.Errorf("render commit message: %w", err)
	}
	sig := object.Signature{
		Name:     a.opts.Commit.AuthorName,
		Email:    a.opts.Commit.AuthorEmail,
		When:     res.Time.Unix(),
		Timezone: "+0000",
	}
	return object.WriteCommit(a.store, &object.CommitObj{
		TreeHash:  res.Root,
		Author:    sig,
		Committer: sig,
		Message:   msg.String(),
	})
}

// build is the state of one snapshot build.
type build struct {
	a        *Assembler
	marker   content.Marker
	nss      content.NamespaceTable
	included map[content.NamespaceID]bool
	stats    Stats

	files       map[content.NamespaceID][]fileEntry
	attachments []fileEntry
}

type fileEntry struct {
	name  string
	mode  object.Mode
	hash  object.Hash
	revID int64
}

// pageResult is what resolving one listed revision produced.
type pageResult struct {
	bucket     content.NamespaceID
	file       *fileEntry
	attachment *fileEntry
	skipped    bool
	deleted    bool
	excluded   bool
	noFile     bool
}

func (a *Assembler) newBuild(ctx context.Context, m content.Marker) (*build, error) {
	nss := a.opts.Namespaces
	if len(nss) == 0 {
		var err error
		if nss, err = a.src.Namespaces(ctx); err != nil {
			return nil, fmt.Errorf("namespaces: %w", err)
		}
	}
	b := &build{
		a:        a,
		marker:   m,
		nss:      nss,
		included: make(map[content.NamespaceID]bool, len(nss)),
		files:    make(map[content.NamespaceID][]fileEntry),
	}
	for _, ns := range nss {
		b.included[ns.ID] = ns.ID != content.NSMedia && ns.ID != content.NSSpecial
	}
	for name, on := range a.opts.Include {
		ns, ok := b.lookupNamespace(name)
		if !ok {
			a.log.Warn("include table names an unknown namespace", "namespace", name)
			continue
		}
		b.included[ns.ID] = on
	}
	return b, nil
}

func (b *build) lookupNamespace(name string) (content.Namespace, bool) {
	if strings.EqualFold(name, "main") || name == b.a.opts.MainDir {
		return b.nss.Get(content.NSMain)
	}
	return b.nss.ByName(name)
}

// dirName is the root directory a namespace's tree is placed under.
func (b *build) dirName(ns content.Namespace) string {
	if ns.ID == content.NSMain || ns.Name == "" {
		return b.a.opts.MainDir
	}
	return ns.Name
}

func (b *build) buildRoot(ctx context.Context) (object.Hash, error) {
	// Inclusion is decided per page by its historical namespace, so
	// excluded namespaces are walked too: a page listed there now may
	// have lived in an included one at the marker.
	for _, ns := range b.nss {
		if ns.ID == content.NSMedia || ns.ID == content.NSSpecial {
			continue
		}
		if err := b.walkNamespace(ctx, ns); err != nil {
			return "", err
		}
	}

	var rootFiles []object.TreeEntry
	type dirEntry struct {
		name string
		hash object.Hash
	}
	var dirs []dirEntry

	for _, ns := range b.nss {
		files := b.dedupe(b.files[ns.ID])
		if len(files) == 0 {
			continue
		}
		b.stats.Namespaces++
		entries := make([]object.TreeEntry, len(files))
		for i, f := range files {
			entries[i] = object.TreeEntry{Mode: f.mode, Name: f.name, Target: f.hash}
		}
		if ns.ID == b.a.opts.RootNamespace {
			rootFiles = EscapeNames(entries)
			continue
		}
		dir := b.dirName(ns)
		tree, err := b.namespaceTree(ns, dir, entries)
		if err != nil {
			return "", err
		}
		dirs = append(dirs, dirEntry{name: escapeName(dir), hash: tree})
	}

	if media := b.dedupe(b.attachments); len(media) > 0 {
		entries := make([]object.TreeEntry, len(media))
		for i, f := range media {
			entries[i] = object.TreeEntry{Mode: f.mode, Name: f.name, Target: f.hash}
		}
		tree, err := object.BuildTree(b.a.store, EscapeNames(entries))
		if err != nil {
			return "", fmt.Errorf("attachment tree: %w", err)
		}
		dirs = append(dirs, dirEntry{name: escapeName(b.a.opts.AttachmentDir), hash: tree})
	}

	used := make(map[string]bool, len(rootFiles)+len(dirs))
	for _, e := range rootFiles {
		used[e.Name] = true
	}
	root := rootFiles
	for _, d := range dirs {
		name, err := placeName(used, b.a.opts.Collision, "", d.name)
		if err != nil {
			return "", err
		}
		if name != d.name {
			b.stats.Renamed++
			b.a.log.Warn("renamed directory to resolve a name collision", "dir", "", "from", d.name, "to", name)
		}
		root = append(root, object.TreeEntry{Mode: object.ModeDir, Name: name, Target: d.hash})
	}
	h, err := object.BuildTree(b.a.store, root)
	if err != nil {
		return "", fmt.Errorf("root tree: %w", err)
	}
	return h, nil
}

func (b *build) namespaceTree(ns content.Namespace, dir string, entries []object.TreeEntry) (object.Hash, error) {
	if !ns.Subpages || ns.ID == b.a.opts.AttachmentNamespace {
		h, err := object.BuildTree(b.a.store, EscapeNames(entries))
		if err != nil {
			return "", fmt.Errorf("namespace %q: %w", dir, err)
		}
		return h, nil
	}
	nested, renames, err := NestSubpages(b.a.store, entries, b.a.opts.Collision)
	if err != nil {
		var ce *CollisionError
		if errors.As(err, &ce) {
			ce.Dir = path.Join(dir, ce.Dir)
			return "", ce
		}
		return "", fmt.Errorf("namespace %q: %w", dir, err)
	}
	for _, r := range renames {
		b.stats.Renamed++
		b.a.log.Warn("renamed directory to resolve a name collision",
			"dir", path.Join(dir, r.Dir), "from", r.From, "to", r.To)
	}
	h, err := object.BuildTree(b.a.store, nested)
	if err != nil {
		return "", fmt.Errorf("namespace %q: %w", dir, err)
	}
	return h, nil
}

// dedupe keeps, for each file name, the entry with the highest revision
// id. Input order is otherwise preserved.
func (b *build) dedupe(files []fileEntry) []fileEntry {
	best := make(map[string]int, len(files))
	out := make([]fileEntry, 0, len(files))
	for _, f := range files {
		i, ok := best[f.name]
		if !ok {
			best[f.name] = len(out)
			out = append(out, f)
			continue
		}
		b.stats.Duplicates++
		kept, dropped := out[i], f
		if f.revID > out[i].revID {
			out[i] = f
			kept, dropped = f, kept
		}
		b.a.log.Debug("dropped duplicate file name",
			"name", f.name, "kept_rev", kept.revID, "dropped_rev", dropped.revID)
	}
	return out
}

// walkNamespace resolves every listed revision of ns and files the results
// under their historical namespaces.
func (b *build) walkNamespace(ctx context.Context, ns content.Namespace) error {
	refs, err := b.a.src.ListPagesAsOf(ctx, ns.ID, b.marker)
	if err != nil {
		if b.a.opts.Strict {
			return fmt.Errorf("list namespace %d: %w", ns.ID, err)
		}
		b.a.log.Warn("skipping namespace: listing failed", "namespace", ns.ID, "error", err)
		return nil
	}

	results := make([]pageResult, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.a.opts.Workers)
	for i, ref := range refs {
		g.Go(func() error {
			res, err := b.resolvePage(gctx, ns, ref)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, res := range results {
		switch {
		case res.skipped:
			b.stats.Skipped++
		case res.deleted:
			b.stats.Deleted++
		case res.excluded:
			b.stats.Excluded++
		case res.file != nil:
			b.stats.Pages++
			b.files[res.bucket] = append(b.files[res.bucket], *res.file)
			if res.attachment != nil {
				b.stats.Attachments++
				b.attachments = append(b.attachments, *res.attachment)
			} else if res.noFile {
				b.stats.MissingAttachments++
			}
		}
	}
	return nil
}

// resolvePage determines the historical identity and existence of one
// listed revision and writes its blob. Lookup failures are returned only
// in strict mode or when ctx is done; otherwise the page is skipped.
func (b *build) resolvePage(ctx context.Context, listed content.Namespace, ref content.PageRevisionRef) (pageResult, error) {
	log := b.a.log.With("page_id", ref.PageID, "rev_id", ref.RevID)
	fail := func(stage string, err error) (pageResult, error) {
		if ctx.Err() != nil {
			return pageResult{}, ctx.Err()
		}
		if b.a.opts.Strict {
			return pageResult{}, fmt.Errorf("page %d rev %d: %s: %w", ref.PageID, ref.RevID, stage, err)
		}
		log.Warn("skipping page", "stage", stage, "error", err)
		return pageResult{skipped: true}, nil
	}

	title, err := b.titleAt(ctx, ref)
	if err != nil {
		return fail("title", err)
	}

	bucket := title.Namespace
	if !b.included[bucket] && bucket == listed.ID {
		return pageResult{}, nil
	}

	ev, ok, err := b.a.src.DeleteHistory(ctx, title, b.marker)
	if err != nil {
		return fail("delete history", err)
	}
	if ok && ev.Action.Deletes() && !ref.Timestamp.After(ev.Timestamp) {
		log.Debug("page deleted at marker", "title", title.DBKey, "log_id", ev.LogID)
		return pageResult{deleted: true}, nil
	}

	if !b.included[bucket] {
		log.Debug("page lived in an excluded namespace at the marker", "namespace", bucket, "title", title.DBKey)
		return pageResult{excluded: true}, nil
	}
	if b.isExcluded(title) {
		return pageResult{excluded: true}, nil
	}

	hash, format, err := b.blob(ctx, ref)
	if err != nil {
		return fail("content", err)
	}
	res := pageResult{
		bucket: bucket,
		file: &fileEntry{
			name:  title.DBKey + b.extension(title, format),
			mode:  object.ModeFile,
			hash:  hash,
			revID: ref.RevID,
		},
	}

	if bucket == b.a.opts.AttachmentNamespace {
		att, err := b.a.src.Attachment(ctx, ref.Title, ref.Timestamp)
		if err != nil {
			if ctx.Err() != nil {
				return pageResult{}, ctx.Err()
			}
			if b.a.opts.Strict {
				return pageResult{}, fmt.Errorf("page %d rev %d: attachment: %w", ref.PageID, ref.RevID, err)
			}
			log.Warn("attachment unavailable", "file", ref.Title, "error", err)
			res.noFile = true
			return res, nil
		}
		h, err := object.WriteBlob(b.a.store, att.Data)
		if err != nil {
			return pageResult{}, fmt.Errorf("attachment %q: %w", att.Name, err)
		}
		mode := object.ModeFile
		if att.Executable {
			mode = object.ModeExecutable
		}
		res.attachment = &fileEntry{name: title.DBKey, mode: mode, hash: h, revID: ref.RevID}
	}
	return res, nil
}

// titleAt returns the title the page had at the marker: the target of its
// latest move at or before the marker, else the title it was moved away
// from after the marker, else its listed title.
func (b *build) titleAt(ctx context.Context, ref content.PageRevisionRef) (content.Title, error) {
	listed := content.Title{Namespace: ref.Namespace, DBKey: ref.Title}
	if ref.PageID == 0 {
		return listed, nil
	}
	target, ok, err := b.a.src.MoveTarget(ctx, ref.PageID, b.marker)
	if err != nil {
		return content.Title{}, err
	}
	if ok {
		return content.ParseTitle(target, b.nss)
	}
	if ref.Archived {
		return listed, nil
	}
	before, ok, err := b.a.src.MoveSource(ctx, ref.PageID, b.marker)
	if err != nil {
		return content.Title{}, err
	}
	if ok {
		return before, nil
	}
	return listed, nil
}

func (b *build) isExcluded(t content.Title) bool {
	if len(b.a.opts.Exclude) == 0 {
		return false
	}
	name := t.DBKey
	if t.Namespace != b.a.opts.RootNamespace {
		ns, ok := b.nss.Get(t.Namespace)
		if !ok {
			ns = content.Namespace{ID: t.Namespace, Name: fmt.Sprintf("%d", t.Namespace)}
		}
		name = b.dirName(ns) + "/" + t.DBKey
	}
	for _, p := range b.a.opts.Exclude {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

// blob returns the blob id and content format of the revision's text. The
// blob index short-circuits the content lookup when the store still holds
// the object.
func (b *build) blob(ctx context.Context, ref content.PageRevisionRef) (object.Hash, string, error) {
	if h, format, ok := b.a.blobs.Get(ref.RevID); ok && b.a.store.Has(h) {
		return h, format, nil
	}
	rev, err := b.a.src.RevisionContent(ctx, ref)
	if err != nil {
		return "", "", err
	}
	h, err := object.WriteBlob(b.a.store, rev.Content)
	if err != nil {
		return "", "", err
	}
	b.a.blobs.Put(ref.RevID, h, rev.Format)
	return h, rev.Format, nil
}

// extension picks the file name suffix for a page: none when the title
// already ends in a known extension (outside the attachment namespace),
// otherwise the extension registered for the content format. Unknown
// formats get no suffix.
func (b *build) extension(t content.Title, format string) string {
	if t.Namespace != b.a.opts.AttachmentNamespace {
		if i := strings.LastIndexByte(t.DBKey, '.'); i >= 0 && i < len(t.DBKey)-1 {
			if b.a.opts.Mime.HasExtension(t.DBKey[i+1:]) {
				return ""
			}
		}
	}
	ext, ok := b.a.opts.Mime.Extension(format)
	if !ok {
		return ""
	}
	return "." + ext
}
