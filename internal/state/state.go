package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/sqlite"

	"bunkrgrab/internal/config"
)

// DB is the run history store: one row per item outcome plus the offline
// subdomains observed mid-run. It feeds the status subcommand and lets a
// batch run skip subdomains that were already dead earlier in the session.
type DB struct {
	SQL  *sql.DB
	Path string
}

func Open(cfg *config.Config) (*DB, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if cfg.General.DataRoot == "" {
		return nil, errors.New("general.data_root required")
	}
	if err := os.MkdirAll(cfg.General.DataRoot, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(cfg.General.DataRoot, "history.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout=5000&_pragma=journal_mode(WAL)", path)
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db := &DB{SQL: sqldb, Path: path}
	if err := db.InitSchema(); err != nil {
		return nil, err
	}
	return db, nil
}

// InitSchema creates tables if absent. Exported for the in-memory test DB.
func (db *DB) InitSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			page_url TEXT NOT NULL,
			dest TEXT NOT NULL,
			album TEXT,
			size INTEGER DEFAULT 0,
			status TEXT,
			fallback INTEGER DEFAULT 0,
			last_error TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE(page_url, dest)
		);`,
		`CREATE TABLE IF NOT EXISTS offline_hosts (
			name TEXT PRIMARY KEY,
			observed_at INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.SQL.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) Close() error { return db.SQL.Close() }

// ItemRow mirrors one items record.
type ItemRow struct {
	PageURL   string
	Dest      string
	Album     string
	Size      int64
	Status    string
	Fallback  bool
	LastError string
	UpdatedAt int64
}

func (db *DB) UpsertItem(row ItemRow) error {
	now := time.Now().Unix()
	_, err := db.SQL.Exec(`INSERT INTO items(page_url, dest, album, size, status, fallback, last_error, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?)
		ON CONFLICT(page_url, dest) DO UPDATE SET album=excluded.album, size=excluded.size, status=excluded.status, fallback=excluded.fallback, last_error=excluded.last_error, updated_at=?`,
		row.PageURL, row.Dest, row.Album, row.Size, row.Status, boolInt(row.Fallback), row.LastError, now, now, now)
	return err
}

// ListItems returns recorded outcomes, newest first.
func (db *DB) ListItems() ([]ItemRow, error) {
	rows, err := db.SQL.Query(`SELECT page_url, dest,
		COALESCE(album, ''),
		COALESCE(size, 0),
		COALESCE(status, ''),
		COALESCE(fallback, 0),
		COALESCE(last_error, ''),
		updated_at
	FROM items
	ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ItemRow
	for rows.Next() {
		var r ItemRow
		var fb int
		if err := rows.Scan(&r.PageURL, &r.Dest, &r.Album, &r.Size, &r.Status, &fb, &r.LastError, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Fallback = fb != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveOfflineHost records a subdomain observed non-operational. Satisfies
// hoststatus.Store. A nil receiver is a no-op so a run whose history
// database failed to open keeps working.
func (db *DB) SaveOfflineHost(name string) error {
	if db == nil {
		return nil
	}
	_, err := db.SQL.Exec(`INSERT INTO offline_hosts(name, observed_at) VALUES(?, ?)
		ON CONFLICT(name) DO UPDATE SET observed_at=excluded.observed_at`,
		name, time.Now().Unix())
	return err
}

// OfflineHosts returns subdomains observed offline within the last day.
// Older observations are stale; servers come back. Nil receivers report
// no offline hosts.
func (db *DB) OfflineHosts() ([]string, error) {
	if db == nil {
		return nil, nil
	}
	cutoff := time.Now().Add(-24 * time.Hour).Unix()
	rows, err := db.SQL.Query(`SELECT name FROM offline_hosts WHERE observed_at >= ?`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
