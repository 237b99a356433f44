package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// SQLConfig selects a table in a MySQL or PostgreSQL database.
type SQLConfig struct {
	Driver string `json:"driver"` // "mysql" or "postgres"
	DSN    string `json:"dsn"`
	Table  string `json:"table"`
}

const defaultTable = "artifacts"

var validTable = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// dialect holds the statements that differ between the two drivers.
type dialect struct {
	create, load, save, del string
}

func dialectFor(driver, table string) (dialect, error) {
	switch driver {
	case "mysql":
		return dialect{
			create: "CREATE TABLE IF NOT EXISTS " + table + " (k VARCHAR(255) PRIMARY KEY, v LONGBLOB NOT NULL)",
			load:   "SELECT v FROM " + table + " WHERE k = ?",
			save:   "REPLACE INTO " + table + " (k, v) VALUES (?, ?)",
			del:    "DELETE FROM " + table + " WHERE k = ?",
		}, nil
	case "postgres":
		return dialect{
			create: "CREATE TABLE IF NOT EXISTS " + table + " (k TEXT PRIMARY KEY, v BYTEA NOT NULL)",
			load:   "SELECT v FROM " + table + " WHERE k = $1",
			save:   "INSERT INTO " + table + " (k, v) VALUES ($1, $2) ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v",
			del:    "DELETE FROM " + table + " WHERE k = $1",
		}, nil
	}
	return dialect{}, fmt.Errorf("unsupported sql driver %q", driver)
}

// SQLBackend keeps one row per key in a two-column table.
type SQLBackend struct {
	db *sql.DB
	d  dialect
}

// OpenSQL connects, checks the connection and creates the table if needed.
func OpenSQL(ctx context.Context, cfg SQLConfig) (*SQLBackend, error) {
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	if !validTable.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	d, err := dialectFor(cfg.Driver, table)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, d.create); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create table %s: %w", table, err)
	}
	return &SQLBackend{db: db, d: d}, nil
}

func (b *SQLBackend) Load(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	var v []byte
	err := b.db.QueryRowContext(ctx, b.d.load, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return v, err
}

func (b *SQLBackend) Save(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	_, err := b.db.ExecContext(ctx, b.d.save, key, value)
	return err
}

func (b *SQLBackend) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	_, err := b.db.ExecContext(ctx, b.d.del, key)
	return err
}

func (b *SQLBackend) Close() error {
	return b.db.Close()
}
