package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is the subset of the MediaWiki table layout this source reads.
// Revision text is stored inline (rev_text / ar_text) instead of in a
// separate text table. log_params holds JSON ({"4::target": "..."}) or the
// legacy newline-separated form whose first line is the move target.
const schema = `
	CREATE TABLE IF NOT EXISTS page (
		page_id INTEGER PRIMARY KEY,
		page_namespace INTEGER NOT NULL,
		page_title TEXT NOT NULL,
		page_latest INTEGER NOT NULL DEFAULT 0,
		UNIQUE (page_namespace, page_title)
	);

	CREATE TABLE IF NOT EXISTS revision (
		rev_id INTEGER PRIMARY KEY,
		rev_page INTEGER NOT NULL,
		rev_timestamp TEXT NOT NULL,
		rev_content_format TEXT,
		rev_text BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS rev_page_id ON revision (rev_page, rev_id);

	CREATE TABLE IF NOT EXISTS archive (
		ar_id INTEGER PRIMARY KEY,
		ar_namespace INTEGER NOT NULL,
		ar_title TEXT NOT NULL,
		ar_page_id INTEGER,
		ar_rev_id INTEGER NOT NULL UNIQUE,
		ar_timestamp TEXT NOT NULL,
		ar_content_format TEXT,
		ar_text BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS ar_name_title ON archive (ar_namespace, ar_title);

	CREATE TABLE IF NOT EXISTS logging (
		log_id INTEGER PRIMARY KEY,
		log_type TEXT NOT NULL,
		log_action TEXT NOT NULL,
		log_timestamp TEXT NOT NULL,
		log_namespace INTEGER NOT NULL DEFAULT 0,
		log_title TEXT NOT NULL DEFAULT '',
		log_page INTEGER,
		log_params TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS log_page_id ON logging (log_page, log_id);
	CREATE INDEX IF NOT EXISTS log_type_title ON logging (log_type, log_namespace, log_title, log_id);

	CREATE TABLE IF NOT EXISTS image (
		img_name TEXT PRIMARY KEY,
		img_timestamp TEXT NOT NULL,
		img_media_type TEXT,
		img_size INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS oldimage (
		oi_name TEXT NOT NULL,
		oi_archive_name TEXT NOT NULL,
		oi_timestamp TEXT NOT NULL,
		oi_media_type TEXT,
		oi_size INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS oi_name_timestamp ON oldimage (oi_name, oi_timestamp);
`

// CreateSchema creates the tables this source reads, if they don't exist.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}
