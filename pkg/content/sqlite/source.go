// Package sqlite implements content.Source over a MediaWiki-shaped SQLite
// database and an uploads directory laid out the way MediaWiki stores
// files.
package sqlite

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/odvcencio/gitaccess/pkg/content"
	_ "modernc.org/sqlite"
)

// TimestampFormat is MediaWiki's TS_MW database timestamp layout.
const TimestampFormat = "20060102150405"

// DefaultContentFormat is assumed for revisions with no recorded format.
const DefaultContentFormat = "text/x-wiki"

// Options configures a Source.
type Options struct {
	// FilesDir is the uploads directory (MediaWiki's images/). Attachments
	// are unavailable when empty.
	FilesDir string
	// Namespaces defaults to content.DefaultNamespaces().
	Namespaces content.NamespaceTable
}

// Source reads wiki content from SQLite.
type Source struct {
	db         *sql.DB
	filesDir   string
	namespaces content.NamespaceTable
}

var _ content.Source = (*Source)(nil)

// Open opens the database at path and ensures the schema exists.
func Open(ctx context.Context, path string, opts Options) (*Source, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := CreateSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return New(db, opts), nil
}

// New wraps an existing connection.
func New(db *sql.DB, opts Options) *Source {
	nss := opts.Namespaces
	if len(nss) == 0 {
		nss = content.DefaultNamespaces()
	}
	return &Source{db: db, filesDir: opts.FilesDir, namespaces: nss}
}

// Close closes the database connection.
func (s *Source) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection.
func (s *Source) DB() *sql.DB {
	return s.db
}

func (s *Source) Namespaces(ctx context.Context) (content.NamespaceTable, error) {
	return s.namespaces, nil
}

func (s *Source) LatestMarker(ctx context.Context) (content.Marker, error) {
	var m content.Marker
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(id), 0) FROM (
			SELECT rev_id AS id FROM revision
			UNION ALL
			SELECT ar_rev_id AS id FROM archive
		)`).Scan(&m.RevID)
	if err != nil {
		return content.Marker{}, fmt.Errorf("latest revision: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(log_id), 0) FROM logging`).Scan(&m.LogID); err != nil {
		return content.Marker{}, fmt.Errorf("latest log entry: %w", err)
	}
	return m, nil
}

func (s *Source) ResolveMarker(ctx context.Context, m content.Marker) (content.Marker, error) {
	if m.IsZero() {
		return s.LatestMarker(ctx)
	}
	ts, err := s.RevisionTime(ctx, m.RevID)
	if err != nil {
		return content.Marker{}, fmt.Errorf("resolve marker %s: %w", m, err)
	}
	if m.LogID != 0 {
		return m, nil
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(log_id), 0) FROM logging WHERE log_timestamp <= ?`,
		formatTimestamp(ts),
	).Scan(&m.LogID)
	if err != nil {
		return content.Marker{}, fmt.Errorf("resolve marker %s: log cutoff: %w", m, err)
	}
	return m, nil
}

func (s *Source) RevisionTime(ctx context.Context, revID int64) (time.Time, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		SELECT rev_timestamp FROM revision WHERE rev_id = ?
		UNION ALL
		SELECT ar_timestamp FROM archive WHERE ar_rev_id = ?
		LIMIT 1`, revID, revID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("revision %d: %w", revID, content.ErrNotFound)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("revision %d: %w", revID, err)
	}
	return parseTimestamp(raw)
}

// listPagesQuery picks the newest qualifying revision per page from the
// live tables and, separately, per archived page. SQLite takes the bare
// columns of a MAX() aggregate from the row holding the maximum.
const listPagesQuery = `
	SELECT 0 AS is_archive, p.page_id, p.page_namespace, p.page_title,
		MAX(r.rev_id) AS rev_id, r.rev_timestamp
	FROM page p
	INNER JOIN revision r ON r.rev_page = p.page_id
	WHERE r.rev_id <= ? AND p.page_namespace = ?
	GROUP BY p.page_id, p.page_namespace
	UNION
	SELECT 1 AS is_archive, COALESCE(ar_page_id, 0), ar_namespace, ar_title,
		MAX(ar_rev_id) AS rev_id, ar_timestamp
	FROM archive
	WHERE ar_rev_id <= ? AND ar_namespace = ?
	GROUP BY ar_page_id, ar_namespace, ar_title
	ORDER BY 2, 1`

func (s *Source) ListPagesAsOf(ctx context.Context, ns content.NamespaceID, m content.Marker) ([]content.PageRevisionRef, error) {
	rows, err := s.db.QueryContext(ctx, listPagesQuery, m.RevID, int(ns), m.RevID, int(ns))
	if err != nil {
		return nil, fmt.Errorf("list pages ns=%d at %s: %w", ns, m, err)
	}
	defer rows.Close()

	var out []content.PageRevisionRef
	for rows.Next() {
		var (
			archived int
			ref      content.PageRevisionRef
			nsID     int
			ts       string
		)
		if err := rows.Scan(&archived, &ref.PageID, &nsID, &ref.Title, &ref.RevID, &ts); err != nil {
			return nil, fmt.Errorf("scanning page row: %w", err)
		}
		ref.Namespace = content.NamespaceID(nsID)
		ref.Archived = archived == 1
		if ref.Timestamp, err = parseTimestamp(ts); err != nil {
			return nil, fmt.Errorf("revision %d: %w", ref.RevID, err)
		}
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating page rows: %w", err)
	}
	return out, nil
}

func (s *Source) RevisionContent(ctx context.Context, ref content.PageRevisionRef) (*content.Revision, error) {
	query := `SELECT rev_text, rev_content_format FROM revision WHERE rev_id = ?`
	if ref.Archived {
		query = `SELECT ar_text, ar_content_format FROM archive WHERE ar_rev_id = ?`
	}
	var (
		text   []byte
		format sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, ref.RevID).Scan(&text, &format)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("revision %d: %w", ref.RevID, content.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("revision %d: %w", ref.RevID, err)
	}
	rev := &content.Revision{Ref: ref, Content: text, Format: DefaultContentFormat}
	if format.Valid && format.String != "" {
		rev.Format = format.String
	}
	return rev, nil
}

func (s *Source) MoveTarget(ctx context.Context, pageID int64, m content.Marker) (string, bool, error) {
	var params string
	err := s.db.QueryRowContext(ctx, `
		SELECT log_params FROM logging
		WHERE log_page = ? AND log_type = 'move' AND log_action IN ('move', 'move_redir') AND log_id <= ?
		ORDER BY log_id DESC
		LIMIT 1`, pageID, m.LogID).Scan(&params)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("move history of page %d: %w", pageID, err)
	}
	target, err := moveTargetFromParams(params)
	if err != nil {
		return "", false, fmt.Errorf("move history of page %d: %w", pageID, err)
	}
	return target, true, nil
}

func (s *Source) MoveSource(ctx context.Context, pageID int64, m content.Marker) (content.Title, bool, error) {
	var (
		ns    int
		title string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT log_namespace, log_title FROM logging
		WHERE log_page = ? AND log_type = 'move' AND log_action IN ('move', 'move_redir') AND log_id > ?
		ORDER BY log_id ASC
		LIMIT 1`, pageID, m.LogID).Scan(&ns, &title)
	if errors.Is(err, sql.ErrNoRows) {
		return content.Title{}, false, nil
	}
	if err != nil {
		return content.Title{}, false, fmt.Errorf("later moves of page %d: %w", pageID, err)
	}
	return content.Title{Namespace: content.NamespaceID(ns), DBKey: title}, true, nil
}

// moveTargetFromParams extracts "4::target" from log_params.
func moveTargetFromParams(params string) (string, error) {
	params = strings.TrimSpace(params)
	if strings.HasPrefix(params, "{") {
		var decoded map[string]any
		if err := json.Unmarshal([]byte(params), &decoded); err != nil {
			return "", fmt.Errorf("decoding log_params: %w", err)
		}
		target, _ := decoded["4::target"].(string)
		if target == "" {
			return "", fmt.Errorf("log_params has no 4::target")
		}
		return target, nil
	}
	target, _, _ := strings.Cut(params, "\n")
	if target == "" {
		return "", fmt.Errorf("empty log_params")
	}
	return target, nil
}

func (s *Source) DeleteHistory(ctx context.Context, t content.Title, m content.Marker) (content.DeleteEvent, bool, error) {
	var (
		ev     content.DeleteEvent
		action string
		ts     string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT log_id, log_action, log_timestamp FROM logging
		WHERE log_type = 'delete'
			AND log_action IN ('delete', 'delete_redir', 'restore')
			AND log_namespace = ? AND log_title = ? AND log_id <= ?
		ORDER BY log_id DESC
		LIMIT 1`, int(t.Namespace), t.DBKey, m.LogID).Scan(&ev.LogID, &action, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return content.DeleteEvent{}, false, nil
	}
	if err != nil {
		return content.DeleteEvent{}, false, fmt.Errorf("delete history of %d:%s: %w", t.Namespace, t.DBKey, err)
	}
	ev.Action = content.LogAction(action)
	if ev.Timestamp, err = parseTimestamp(ts); err != nil {
		return content.DeleteEvent{}, false, err
	}
	return ev, true, nil
}

func (s *Source) Attachment(ctx context.Context, name string, at time.Time) (*content.Attachment, error) {
	if s.filesDir == "" {
		return nil, fmt.Errorf("attachment %q: no files directory: %w", name, content.ErrNotFound)
	}
	cutoff := formatTimestamp(at)

	var (
		ts        string
		mediaType sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT img_timestamp, img_media_type FROM image WHERE img_name = ?`, name,
	).Scan(&ts, &mediaType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attachment %q: %w", name, content.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("attachment %q: %w", name, err)
	}

	att := &content.Attachment{Name: name}
	var path string
	if ts <= cutoff {
		path = filepath.Join(s.filesDir, hashedDir(name), name)
	} else {
		var archiveName string
		err := s.db.QueryRowContext(ctx, `
			SELECT oi_archive_name, oi_timestamp, oi_media_type FROM oldimage
			WHERE oi_name = ? AND oi_timestamp <= ?
			ORDER BY oi_timestamp DESC
			LIMIT 1`, name, cutoff).Scan(&archiveName, &ts, &mediaType)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("attachment %q at %s: %w", name, cutoff, content.ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("attachment %q: old version: %w", name, err)
		}
		path = filepath.Join(s.filesDir, "archive", hashedDir(name), archiveName)
		att.Archived = true
	}

	if att.Timestamp, err = parseTimestamp(ts); err != nil {
		return nil, err
	}
	att.MediaType = mediaType.String
	att.Executable = mediaType.String == content.MediaTypeExecutable

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("attachment %q: %s: %w", name, path, content.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("attachment %q: %w", name, err)
	}
	att.Data = data
	return att, nil
}

// hashedDir returns MediaWiki's two-level upload directory for a file name:
// the first one and two hex digits of md5(name).
func hashedDir(name string) string {
	sum := md5.Sum([]byte(name))
	h := hex.EncodeToString(sum[:])
	return filepath.Join(h[:1], h[:2])
}

func parseTimestamp(raw string) (time.Time, error) {
	ts, err := time.ParseInLocation(TimestampFormat, raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", raw, err)
	}
	return ts, nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}
