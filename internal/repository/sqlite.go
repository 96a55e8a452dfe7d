package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	_ "modernc.org/sqlite"
)

// MemoryPath selects a private in-memory SQLite database.
const MemoryPath = ":memory:"

// minSQLiteVersion is the first release with the upsert syntax used to
// save comparables, presets and rules.
const minSQLiteVersion = 3_024_000

// sqlitePragmas are applied to every connection. The API and the async
// worker write analyses concurrently: WAL lets searches read the pool
// while an analysis commits, and busy_timeout queues the second writer
// instead of failing it with SQLITE_BUSY.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
	"temp_store(MEMORY)",
}

// openSQLite opens the file-backed (or in-memory) analysis store on the
// pure-Go modernc driver.
func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "./kestrel.db"
	}

	memory := path == MemoryPath
	if !memory {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path, memory))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// Each connection to :memory: is its own database.
	if memory {
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := checkSQLite(ctx, db, memory); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func sqliteDSN(path string, memory bool) string {
	q := url.Values{}
	for _, p := range sqlitePragmas {
		if memory && strings.HasPrefix(p, "journal_mode") {
			continue
		}
		q.Add("_pragma", p)
	}
	// Write transactions take the lock at BEGIN so upserts never deadlock
	// upgrading a read lock.
	q.Set("_txlock", "immediate")

	if memory {
		return "file::memory:?" + q.Encode()
	}
	return "file:" + path + "?" + q.Encode()
}

// checkSQLite pings the database and verifies the engine version and the
// journal mode the pragmas asked for.
func checkSQLite(ctx context.Context, db *sql.DB, memory bool) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	var version string
	if err := db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err != nil {
		return fmt.Errorf("failed to read sqlite version: %w", err)
	}
	if n, ok := sqliteVersionNumber(version); !ok || n < minSQLiteVersion {
		return fmt.Errorf("sqlite %s is too old, upserts need 3.24 or later", version)
	}

	if memory {
		return nil
	}
	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		return fmt.Errorf("failed to read journal mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		slog.Warn("sqlite is not in WAL mode, concurrent analyses will serialize", "journal_mode", mode)
	}
	return nil
}

// sqliteVersionNumber turns "3.45.1" into 3045001.
func sqliteVersionNumber(v string) (int, bool) {
	parts := strings.SplitN(v, ".", 3)
	if len(parts) < 2 {
		return 0, false
	}
	n := 0
	for i, scale := range []int{1_000_000, 1_000, 1} {
		if i >= len(parts) {
			break
		}
		p, err := strconv.Atoi(parts[i])
		if err != nil {
			return 0, false
		}
		n += p * scale
	}
	return n, true
}
