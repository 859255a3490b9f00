package cratesync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	cacheDriver = "sqlite"
	cacheDSNOpt = "?_pragma=busy_timeout(3000)&_pragma=journal_mode(WAL)"
)

const (
	CacheKindProfile = "profile"
	CacheKindCounts  = "counts"
	CacheKindFeed    = "feed"
)

// a per-user cache of the last seen snapshots, so a restarted client
// renders instantly before the network catches up.
// strictly best effort: the network result always overwrites it, and
// logout invalidates the user's rows
type SnapshotCache struct {
	db *sql.DB
}

func OpenSnapshotCache(path string) (*SnapshotCache, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot cache: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("snapshot cache: create dir: %w", err)
	}
	db, err := sql.Open(cacheDriver, path+cacheDSNOpt)
	if err != nil {
		return nil, fmt.Errorf("snapshot cache: open db: %w", err)
	}
	cache := &SnapshotCache{
		db: db,
	}
	if err := cache.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return cache, nil
}

func (self *SnapshotCache) migrate(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS snapshots (
	user_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	body BLOB NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (user_id, kind)
)`
	if _, err := self.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("snapshot cache: migrate: %w", err)
	}
	return nil
}

func (self *SnapshotCache) Put(userId Id, kind string, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO snapshots (user_id, kind, body, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (user_id, kind) DO UPDATE SET
	body = excluded.body,
	updated_at = excluded.updated_at`
	_, err = self.db.ExecContext(
		context.Background(),
		q,
		userId.String(),
		kind,
		body,
		time.Now().UnixMilli(),
	)
	return err
}

// true when a snapshot was found and decoded into `out`
func (self *SnapshotCache) Get(userId Id, kind string, out any) (bool, error) {
	const q = `SELECT body FROM snapshots WHERE user_id = ? AND kind = ?`
	var body []byte
	err := self.db.QueryRowContext(context.Background(), q, userId.String(), kind).Scan(&body)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, err
	}
	return true, nil
}

func (self *SnapshotCache) Invalidate(userId Id) error {
	const q = `DELETE FROM snapshots WHERE user_id = ?`
	_, err := self.db.ExecContext(context.Background(), q, userId.String())
	return err
}

func (self *SnapshotCache) Close() error {
	if self == nil || self.db == nil {
		return nil
	}
	return self.db.Close()
}
