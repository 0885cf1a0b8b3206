package thumbcache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"image-filter/internal/logging"

	_ "github.com/mattn/go-sqlite3"
)

const storeSchemaVersion = 1

const createTableSQL = `
CREATE TABLE IF NOT EXISTS thumbnails (
	digest        INTEGER PRIMARY KEY,
	path          TEXT NOT NULL,
	file_size     INTEGER NOT NULL,
	file_mtime_ns INTEGER NOT NULL,
	target_w      INTEGER NOT NULL,
	target_h      INTEGER NOT NULL,
	thumb_w       INTEGER NOT NULL,
	thumb_h       INTEGER NOT NULL,
	data          BLOB NOT NULL,
	last_access   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_thumbnails_last_access ON thumbnails(last_access);
`

// Store is the on-disk cache tier: one SQLite database of encoded
// thumbnails, each row self-describing (the full key fields are stored,
// not just the digest) so a budget or format change never silently
// serves the wrong pixels.
type Store struct {
	db   *sql.DB
	path string
}

// Row is one persisted thumbnail.
type Row struct {
	Key        Key
	ThumbW     int
	ThumbH     int
	Data       []byte
	LastAccess time.Time
}

// OpenStore opens (creating if needed) the thumbnail database at dir.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	dbPath := filepath.Join(dir, "thumbs.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open thumbnail db: %w", err)
	}
	// A single writer at flush points; no need for a connection pool.
	db.SetMaxOpenConns(1)

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		db.Close()
		return nil, fmt.Errorf("read schema version: %w", err)
	}
	if version != 0 && version != storeSchemaVersion {
		// Incompatible layout from an older build: start over. The cache
		// is rebuildable by definition.
		logging.Warn("Thumbnail db schema v%d unsupported, resetting", version)
		if _, err := db.Exec("DROP TABLE IF EXISTS thumbnails"); err != nil {
			db.Close()
			return nil, fmt.Errorf("reset thumbnail db: %w", err)
		}
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create thumbnail table: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", storeSchemaVersion)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set schema version: %w", err)
	}

	logging.Debug("Thumbnail db open at %s", dbPath)
	return &Store{db: db, path: dbPath}, nil
}

// Lookup fetches the persisted row for key if present and still valid.
// A row whose stored key fields no longer match is treated as absent;
// it is overwritten on the next save rather than eagerly purged.
func (s *Store) Lookup(key Key) (Row, bool, error) {
	var r Row
	var pathCol string
	var size, mtime int64
	var tw, th int

	err := s.db.QueryRow(
		`SELECT path, file_size, file_mtime_ns, target_w, target_h, thumb_w, thumb_h, data
		 FROM thumbnails WHERE digest = ?`, int64(key.Digest()),
	).Scan(&pathCol, &size, &mtime, &tw, &th, &r.ThumbW, &r.ThumbH, &r.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, fmt.Errorf("lookup thumbnail: %w", err)
	}

	if pathCol != key.Path || size != key.FileSize || mtime != key.ModTimeNS ||
		tw != key.TargetW || th != key.TargetH {
		return Row{}, false, nil
	}

	r.Key = key
	return r, true, nil
}

// Touch advances last_access for the given digests so reclamation sees
// recently served rows as live.
func (s *Store) Touch(digests []uint64) error {
	if len(digests) == 0 {
		return nil
	}
	now := time.Now().UnixNano()
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("touch thumbnails: %w", err)
	}
	stmt, err := tx.Prepare("UPDATE thumbnails SET last_access = ? WHERE digest = ?")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("touch thumbnails: %w", err)
	}
	defer stmt.Close()
	for _, d := range digests {
		if _, err := stmt.Exec(now, int64(d)); err != nil {
			tx.Rollback()
			return fmt.Errorf("touch thumbnails: %w", err)
		}
	}
	return tx.Commit()
}

// SaveBatch upserts rows in one transaction. Existing rows for other
// keys are untouched.
func (s *Store) SaveBatch(rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("save thumbnails: %w", err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO thumbnails
		 (digest, path, file_size, file_mtime_ns, target_w, target_h, thumb_w, thumb_h, data, last_access)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(digest) DO UPDATE SET
		 path = excluded.path, file_size = excluded.file_size,
		 file_mtime_ns = excluded.file_mtime_ns,
		 target_w = excluded.target_w, target_h = excluded.target_h,
		 thumb_w = excluded.thumb_w, thumb_h = excluded.thumb_h,
		 data = excluded.data, last_access = excluded.last_access`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("save thumbnails: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		la := r.LastAccess
		if la.IsZero() {
			la = time.Now()
		}
		_, err := stmt.Exec(
			int64(r.Key.Digest()), r.Key.Path, r.Key.FileSize, r.Key.ModTimeNS,
			r.Key.TargetW, r.Key.TargetH, r.ThumbW, r.ThumbH, r.Data, la.UnixNano(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("save thumbnail %s: %w", r.Key, err)
		}
	}
	return tx.Commit()
}

// TotalBytes returns the sum of encoded thumbnail bytes on disk.
func (s *Store) TotalBytes() (int64, error) {
	var total sql.NullInt64
	if err := s.db.QueryRow("SELECT SUM(LENGTH(data)) FROM thumbnails").Scan(&total); err != nil {
		return 0, fmt.Errorf("size thumbnail db: %w", err)
	}
	return total.Int64, nil
}

// Reclaim deletes least-recently-used rows until the stored bytes fit
// within maxBytes. Returns the number of rows deleted.
func (s *Store) Reclaim(maxBytes int64) (int, error) {
	total, err := s.TotalBytes()
	if err != nil {
		return 0, err
	}
	if total <= maxBytes {
		return 0, nil
	}

	rows, err := s.db.Query("SELECT digest, LENGTH(data) FROM thumbnails ORDER BY last_access ASC")
	if err != nil {
		return 0, fmt.Errorf("reclaim thumbnail db: %w", err)
	}
	var victims []int64
	for rows.Next() {
		var digest, size int64
		if err := rows.Scan(&digest, &size); err != nil {
			rows.Close()
			return 0, fmt.Errorf("reclaim thumbnail db: %w", err)
		}
		victims = append(victims, digest)
		total -= size
		if total <= maxBytes {
			break
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("reclaim thumbnail db: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("reclaim thumbnail db: %w", err)
	}
	stmt, err := tx.Prepare("DELETE FROM thumbnails WHERE digest = ?")
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("reclaim thumbnail db: %w", err)
	}
	defer stmt.Close()
	for _, d := range victims {
		if _, err := stmt.Exec(d); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("reclaim thumbnail db: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	logging.Debug("Reclaimed %d thumbnail rows from disk tier", len(victims))
	return len(victims), nil
}

// Count returns the number of persisted rows.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM thumbnails").Scan(&n); err != nil {
		return 0, fmt.Errorf("count thumbnail db: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
