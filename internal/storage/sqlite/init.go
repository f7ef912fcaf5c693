package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS downloads (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	video_url TEXT NOT NULL COLLATE NOCASE,
	file_path TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'starting',
	bytes_written INTEGER NOT NULL DEFAULT 0,
	total_bytes INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	started_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS downloads_active_path
	ON downloads (file_path) WHERE status IN ('starting', 'downloading');
CREATE INDEX IF NOT EXISTS downloads_video_url ON downloads (video_url);
`

// InitDB opens the registry database and creates the schema. The default DSN
// is a shared in-memory database, so records live only as long as the process.
func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}

	// sqlite serialises writers anyway; one connection also keeps an
	// in-memory database alive and shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create registry schema: %w", err)
	}

	return db, nil
}
