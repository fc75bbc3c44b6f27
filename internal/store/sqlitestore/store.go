package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a post or job does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateJob rejects a job while another non-terminal job holds one
	// of the same (post, platform) pairs.
	ErrDuplicateJob = errors.New("a publish job is already active for this post and platform")
	// ErrConflict is returned when a conditional update matched no row.
	ErrConflict = errors.New("conflicting update")
)

// DB is the durable post store and publish queue.
type DB struct{ sql *sql.DB }

// Open opens (or creates) the database at path. ":memory:" is supported.
func Open(path string) (*DB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps :memory: databases shared and serializes writers.
	d.SetMaxOpenConns(1)
	if _, err := d.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA busy_timeout=5000;`); err != nil {
		_ = d.Close()
		return nil, err
	}
	db := &DB{sql: d}
	if err := db.migrate(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return db, nil
}

func (d *DB) Close() error { return d.sql.Close() }

func (d *DB) migrate() error {
	_, err := d.sql.Exec(`
	CREATE TABLE IF NOT EXISTS posts (
	  id TEXT PRIMARY KEY,
	  owner_id TEXT NOT NULL,
	  brand_id TEXT NOT NULL DEFAULT '',
	  body TEXT NOT NULL DEFAULT '',
	  media TEXT NOT NULL DEFAULT '[]',
	  status TEXT NOT NULL DEFAULT 'draft',
	  likes INTEGER NOT NULL DEFAULT 0,
	  comments INTEGER NOT NULL DEFAULT 0,
	  shares INTEGER NOT NULL DEFAULT 0,
	  impressions INTEGER NOT NULL DEFAULT 0,
	  reward REAL NOT NULL DEFAULT 0,
	  virality_weighted REAL NOT NULL DEFAULT 0,
	  virality_normalized REAL NOT NULL DEFAULT 0,
	  published_at INTEGER,
	  ad_campaign TEXT,
	  created_at INTEGER NOT NULL,
	  updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_posts_status ON posts(status, published_at);
	CREATE TABLE IF NOT EXISTS platform_statuses (
	  post_id TEXT NOT NULL,
	  platform TEXT NOT NULL,
	  external_id TEXT NOT NULL DEFAULT '',
	  url TEXT NOT NULL DEFAULT '',
	  status TEXT NOT NULL,
	  error TEXT NOT NULL DEFAULT '',
	  likes INTEGER NOT NULL DEFAULT 0,
	  comments INTEGER NOT NULL DEFAULT 0,
	  shares INTEGER NOT NULL DEFAULT 0,
	  impressions INTEGER NOT NULL DEFAULT 0,
	  last_synced_at INTEGER,
	  published_at INTEGER,
	  PRIMARY KEY (post_id, platform)
	);
	CREATE TABLE IF NOT EXISTS jobs (
	  id TEXT PRIMARY KEY,
	  post_id TEXT NOT NULL,
	  owner_id TEXT NOT NULL,
	  platforms TEXT NOT NULL,
	  due_at INTEGER,
	  run_at INTEGER NOT NULL,
	  attempts INTEGER NOT NULL DEFAULT 0,
	  max_attempts INTEGER NOT NULL,
	  state TEXT NOT NULL,
	  last_error TEXT NOT NULL DEFAULT '',
	  created_at INTEGER NOT NULL,
	  updated_at INTEGER NOT NULL,
	  finished_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs(state, run_at);
	CREATE TABLE IF NOT EXISTS job_progress (
	  job_id TEXT NOT NULL,
	  platform TEXT NOT NULL,
	  outcome TEXT NOT NULL DEFAULT 'done',
	  PRIMARY KEY (job_id, platform)
	);
	CREATE TABLE IF NOT EXISTS job_claims (
	  post_id TEXT NOT NULL,
	  platform TEXT NOT NULL,
	  job_id TEXT NOT NULL,
	  PRIMARY KEY (post_id, platform)
	);
	CREATE INDEX IF NOT EXISTS idx_job_claims_job ON job_claims(job_id);
	CREATE TABLE IF NOT EXISTS events (
	  id INTEGER PRIMARY KEY AUTOINCREMENT,
	  ts INTEGER NOT NULL,
	  post_id TEXT NOT NULL,
	  type TEXT NOT NULL,
	  payload TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_events_post ON events(post_id, ts);
	CREATE TABLE IF NOT EXISTS cursors (
	  key TEXT PRIMARY KEY,
	  value TEXT NOT NULL
	);
	`)
	return err
}

// SaveCursor stores a named progress marker.
func (d *DB) SaveCursor(ctx context.Context, key, value string) error {
	_, err := d.sql.ExecContext(ctx, `INSERT INTO cursors(key, value) VALUES(?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}

// LoadCursor returns the marker stored under key, or "" when unset.
func (d *DB) LoadCursor(ctx context.Context, key string) (string, error) {
	var v string
	err := d.sql.QueryRowContext(ctx, `SELECT value FROM cursors WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func ptrMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func encodeStrings(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeStrings(s string) []string {
	var out []string
	_ = json.Unmarshal([]byte(s), &out)
	return out
}
