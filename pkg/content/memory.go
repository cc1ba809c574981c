package content

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// LogEntry is one row of the audit log. Type is the log type ("move" or
// "delete"); Namespace and Title name the page the action applied to, and
// Target is the prefixed destination title of a move.
type LogEntry struct {
	ID        int64
	Type      string
	Action    LogAction
	Timestamp time.Time
	PageID    int64
	Namespace NamespaceID
	Title     string
	Target    string
}

type memPage struct {
	id    int64
	ns    NamespaceID
	title string
}

type memRevision struct {
	id       int64
	pageID   int64
	ns       NamespaceID
	title    string
	ts       time.Time
	format   string
	content  []byte
	archived bool
}

type memFile struct {
	ts        time.Time
	mediaType string
	data      []byte
}

// MemorySource is an in-memory Source. Its mutators model the wiki actions
// that shape history (edit, move, delete, restore, upload) so the audit log
// and the archive stay consistent with each other.
type MemorySource struct {
	mu         sync.RWMutex
	namespaces NamespaceTable
	pages      map[int64]*memPage
	revisions  map[int64]*memRevision
	log        []LogEntry
	files      map[string][]memFile
}

var _ Source = (*MemorySource)(nil)

// NewMemorySource returns an empty source using the given namespace table.
func NewMemorySource(namespaces NamespaceTable) *MemorySource {
	return &MemorySource{
		namespaces: namespaces,
		pages:      make(map[int64]*memPage),
		revisions:  make(map[int64]*memRevision),
		files:      make(map[string][]memFile),
	}
}

// Edit records revision revID of page pageID, creating the page under
// ns:title if it does not exist yet.
func (s *MemorySource) Edit(pageID int64, ns NamespaceID, title string, revID int64, ts time.Time, format, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[pageID]
	if !ok {
		p = &memPage{id: pageID, ns: ns, title: title}
		s.pages[pageID] = p
	}
	s.revisions[revID] = &memRevision{
		id:      revID,
		pageID:  pageID,
		ns:      p.ns,
		title:   p.title,
		ts:      ts,
		format:  format,
		content: []byte(text),
	}
}

// Move renames pageID to the prefixed target title and logs the move.
func (s *MemorySource) Move(logID, pageID int64, ts time.Time, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[pageID]
	if !ok {
		return fmt.Errorf("move page %d: %w", pageID, ErrNotFound)
	}
	t, err := ParseTitle(target, s.namespaces)
	if err != nil {
		return fmt.Errorf("move page %d: %w", pageID, err)
	}
	s.log = append(s.log, LogEntry{
		ID: logID, Type: "move", Action: ActionMove, Timestamp: ts,
		PageID: pageID, Namespace: p.ns, Title: p.title, Target: target,
	})
	p.ns, p.title = t.Namespace, t.DBKey
	for _, r := range s.revisions {
		if r.pageID == pageID && !r.archived {
			r.ns, r.title = p.ns, p.title
		}
	}
	return nil
}

// Delete archives every revision of pageID and logs the deletion.
func (s *MemorySource) Delete(logID, pageID int64, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[pageID]
	if !ok {
		return fmt.Errorf("delete page %d: %w", pageID, ErrNotFound)
	}
	for _, r := range s.revisions {
		if r.pageID == pageID {
			r.archived = true
		}
	}
	delete(s.pages, pageID)
	s.log = append(s.log, LogEntry{
		ID: logID, Type: "delete", Action: ActionDelete, Timestamp: ts,
		PageID: pageID, Namespace: p.ns, Title: p.title,
	})
	return nil
}

// Restore brings the archived revisions of ns:title back as page pageID
// and logs the restore.
func (s *MemorySource) Restore(logID, pageID int64, ns NamespaceID, title string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	restored := 0
	for _, r := range s.revisions {
		if r.archived && r.ns == ns && r.title == title {
			r.archived = false
			r.pageID = pageID
			restored++
		}
	}
	if restored == 0 {
		return fmt.Errorf("restore %d:%s: %w", ns, title, ErrNotFound)
	}
	s.pages[pageID] = &memPage{id: pageID, ns: ns, title: title}
	s.log = append(s.log, LogEntry{
		ID: logID, Type: "delete", Action: ActionRestore, Timestamp: ts,
		PageID: pageID, Namespace: ns, Title: title,
	})
	return nil
}

// Upload stores a new version of the file name.
func (s *MemorySource) Upload(name string, ts time.Time, mediaType string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := append(s.files[name], memFile{ts: ts, mediaType: mediaType, data: data})
	sort.SliceStable(versions, func(i, j int) bool { return versions[i].ts.Before(versions[j].ts) })
	s.files[name] = versions
}

// Log returns a copy of the audit log.
func (s *MemorySource) Log() []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LogEntry, len(s.log))
	copy(out, s.log)
	return out
}

func (s *MemorySource) Namespaces(ctx context.Context) (NamespaceTable, error) {
	return s.namespaces, nil
}

func (s *MemorySource) LatestMarker(ctx context.Context) (Marker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestLocked(), nil
}

func (s *MemorySource) latestLocked() Marker {
	var m Marker
	for id := range s.revisions {
		if id > m.RevID {
			m.RevID = id
		}
	}
	for _, e := range s.log {
		if e.ID > m.LogID {
			m.LogID = e.ID
		}
	}
	return m
}

func (s *MemorySource) ResolveMarker(ctx context.Context, m Marker) (Marker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m.IsZero() {
		return s.latestLocked(), nil
	}
	r, ok := s.revisions[m.RevID]
	if !ok {
		return Marker{}, fmt.Errorf("resolve marker %s: revision %d: %w", m, m.RevID, ErrNotFound)
	}
	if m.LogID != 0 {
		return m, nil
	}
	for _, e := range s.log {
		if !e.Timestamp.After(r.ts) && e.ID > m.LogID {
			m.LogID = e.ID
		}
	}
	return m, nil
}

func (s *MemorySource) RevisionTime(ctx context.Context, revID int64) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.revisions[revID]
	if !ok {
		return time.Time{}, fmt.Errorf("revision %d: %w", revID, ErrNotFound)
	}
	return r.ts, nil
}

func (s *MemorySource) ListPagesAsOf(ctx context.Context, ns NamespaceID, m Marker) ([]PageRevisionRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type groupKey struct {
		archived bool
		pageID   int64
	}
	best := make(map[groupKey]*memRevision)
	for _, r := range s.revisions {
		if r.id > m.RevID || r.ns != ns {
			continue
		}
		k := groupKey{archived: r.archived, pageID: r.pageID}
		if cur, ok := best[k]; !ok || r.id > cur.id {
			best[k] = r
		}
	}

	out := make([]PageRevisionRef, 0, len(best))
	for _, r := range best {
		out = append(out, PageRevisionRef{
			PageID:    r.pageID,
			RevID:     r.id,
			Namespace: r.ns,
			Title:     r.title,
			Timestamp: r.ts,
			Archived:  r.archived,
		})
	}
	sortRefs(out)
	return out, nil
}

// sortRefs orders refs by page id, live rows before archived ones.
func sortRefs(refs []PageRevisionRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].PageID != refs[j].PageID {
			return refs[i].PageID < refs[j].PageID
		}
		return !refs[i].Archived && refs[j].Archived
	})
}

func (s *MemorySource) RevisionContent(ctx context.Context, ref PageRevisionRef) (*Revision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.revisions[ref.RevID]
	if !ok {
		return nil, fmt.Errorf("revision %d: %w", ref.RevID, ErrNotFound)
	}
	return &Revision{Ref: ref, Content: r.content, Format: r.format}, nil
}

func (s *MemorySource) MoveTarget(ctx context.Context, pageID int64, m Marker) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *LogEntry
	for i := range s.log {
		e := &s.log[i]
		if e.PageID != pageID || !e.Action.IsMove() || e.ID > m.LogID {
			continue
		}
		if latest == nil || e.ID > latest.ID {
			latest = e
		}
	}
	if latest == nil {
		return "", false, nil
	}
	return latest.Target, true, nil
}

func (s *MemorySource) MoveSource(ctx context.Context, pageID int64, m Marker) (Title, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var first *LogEntry
	for i := range s.log {
		e := &s.log[i]
		if e.PageID != pageID || !e.Action.IsMove() || e.ID <= m.LogID {
			continue
		}
		if first == nil || e.ID < first.ID {
			first = e
		}
	}
	if first == nil {
		return Title{}, false, nil
	}
	return Title{Namespace: first.Namespace, DBKey: first.Title}, true, nil
}

func (s *MemorySource) DeleteHistory(ctx context.Context, t Title, m Marker) (DeleteEvent, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *LogEntry
	for i := range s.log {
		e := &s.log[i]
		if e.Type != "delete" || e.Namespace != t.Namespace || e.Title != t.DBKey || e.ID > m.LogID {
			continue
		}
		if latest == nil || e.ID > latest.ID {
			latest = e
		}
	}
	if latest == nil {
		return DeleteEvent{}, false, nil
	}
	return DeleteEvent{LogID: latest.ID, Action: latest.Action, Timestamp: latest.Timestamp}, true, nil
}

func (s *MemorySource) Attachment(ctx context.Context, name string, at time.Time) (*Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.files[name]
	for i := len(versions) - 1; i >= 0; i-- {
		v := versions[i]
		if v.ts.After(at) {
			continue
		}
		return &Attachment{
			Name:       name,
			Data:       v.data,
			MediaType:  v.mediaType,
			Timestamp:  v.ts,
			Archived:   i != len(versions)-1,
			Executable: v.mediaType == MediaTypeExecutable,
		}, nil
	}
	return nil, fmt.Errorf("attachment %q at %s: %w", name, at.UTC().Format(time.RFC3339), ErrNotFound)
}
