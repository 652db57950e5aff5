// Package sqlite provides a SQLite-backed rate limit counter store, for
// deployments that need windows to survive process restarts.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS rate_limits (
	key          TEXT PRIMARY KEY,
	window_start INTEGER NOT NULL,
	window_ns    INTEGER NOT NULL,
	count        INTEGER NOT NULL
);
`

// Store implements fixed-window counters on a SQLite database. Each Incr
// runs in its own transaction so the read-compare-increment is atomic
// across processes sharing the file.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// The modernc driver serializes access per connection; a single
	// connection avoids SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create rate_limits table: %w", err)
	}
	return &Store{db: db}, nil
}

// Incr records a hit for key at now, starting a fresh window when the
// previous one has expired. It returns the hit count inside the current
// window and the window's start time.
func (s *Store) Incr(key string, now time.Time, window time.Duration) (int, time.Time, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var startNS, count int64
	err = tx.QueryRow(
		`SELECT window_start, count FROM rate_limits WHERE key = ?`, key,
	).Scan(&startNS, &count)

	switch {
	case err == sql.ErrNoRows || (err == nil && now.Sub(time.Unix(0, startNS)) >= window):
		startNS = now.UnixNano()
		count = 1
		_, err = tx.Exec(
			`INSERT INTO rate_limits (key, window_start, window_ns, count) VALUES (?, ?, ?, 1)
			 ON CONFLICT(key) DO UPDATE SET window_start = excluded.window_start,
			                                window_ns = excluded.window_ns,
			                                count = 1`,
			key, startNS, int64(window),
		)
	case err == nil:
		count++
		_, err = tx.Exec(`UPDATE rate_limits SET count = ? WHERE key = ?`, count, key)
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("increment %q: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, time.Time{}, fmt.Errorf("commit: %w", err)
	}
	return int(count), time.Unix(0, startNS), nil
}

// PurgeExpired deletes counters whose window ended before cutoff. Callers
// run this periodically; it is never required for correctness, only to
// bound the table size.
func (s *Store) PurgeExpired(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM rate_limits WHERE window_start + window_ns < ?`, cutoff.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("purge expired counters: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
