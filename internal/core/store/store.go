// Package store persists accounts in libsql and opens the shared redis
// client used by the distributed limiter.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/threadgate/threadgate/internal/config"
)

const driverLibsql = "libsql"

const memoryPath = ":memory:"

// Store persists accounts and their quota counters in libsql.
type Store struct {
	DB     *sql.DB
	driver string
}

// target is a resolved libsql connection string.
type target struct {
	dsn string
	// dir must exist before a local file database is opened.
	dir   string
	local bool
}

func resolveTarget(cfg config.StoreConfig) (target, error) {
	if remote := strings.TrimSpace(cfg.URL); remote != "" {
		dsn, err := withAuthToken(remote, cfg.AuthToken)
		return target{dsn: dsn}, err
	}

	path := strings.TrimSpace(cfg.Path)
	switch {
	case path == "":
		return target{}, errors.New("store path or url is required")
	case path == memoryPath:
		return target{dsn: path, local: true}, nil
	case strings.HasPrefix(path, "libsql:"):
		return target{dsn: path}, nil
	case strings.HasPrefix(path, "file:"):
		file, err := filePart(path)
		if err != nil {
			return target{}, err
		}
		return target{dsn: path, dir: parentDir(file), local: true}, nil
	}
	clean := filepath.Clean(path)
	return target{dsn: "file:" + clean, dir: parentDir(clean), local: true}, nil
}

// Open connects to the account database described by cfg. Local databases are
// switched to WAL and pinned to a single connection.
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	driver := strings.TrimSpace(cfg.Driver)
	if driver == "" {
		driver = driverLibsql
	}
	if driver != driverLibsql {
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}

	tgt, err := resolveTarget(cfg)
	if err != nil {
		return nil, err
	}
	if tgt.dir != "" {
		// #nosec G301 -- data directories use 0755 like the config directory
		if err := os.MkdirAll(tgt.dir, 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open(driverLibsql, tgt.dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql store: %w", err)
	}
	if err := prepare(ctx, db, tgt.local); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db, driver: driver}, nil
}

func prepare(ctx context.Context, db *sql.DB, local bool) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping libsql store: %w", err)
	}
	if !local {
		return nil
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		var result string
		if err := db.QueryRowContext(ctx, pragma).Scan(&result); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store not open")
	}
	return s.DB.PingContext(ctx)
}

func (s *Store) Driver() string {
	if s == nil {
		return ""
	}
	return s.driver
}

// withAuthToken adds authToken to a remote url unless it already has one.
func withAuthToken(raw, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}
	q := u.Query()
	if q.Get("authToken") != "" {
		return raw, nil
	}
	q.Set("authToken", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// filePart strips the file: scheme, accepting both file:x.db and file://x.db.
func filePart(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store path: %w", err)
	}
	file := u.Path
	if file == "" {
		file = u.Opaque
	}
	return strings.TrimPrefix(file, "//"), nil
}

func parentDir(path string) string {
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return ""
	}
	return dir
}
