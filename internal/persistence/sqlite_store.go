package persistence

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore keeps translation caches for all languages in one database.
// It satisfies cache.Store.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		version := migrationVersion(entry.Name())
		if entry.IsDir() || version <= 0 {
			continue
		}
		applied, err := s.migrationApplied(ctx, version)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if applied {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func (s *SQLiteStore) migrationApplied(ctx context.Context, version int) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&n)
	return n > 0, err
}

// migrationVersion reads the numeric prefix of a migration file name, "001_x.sql" -> 1.
func migrationVersion(name string) int {
	end := strings.IndexFunc(name, func(r rune) bool { return r < '0' || r > '9' })
	if end == 0 {
		return 0
	}
	if end < 0 {
		end = len(name)
	}
	n, _ := strconv.Atoi(name[:end])
	return n
}

// Load returns every cached translation for lang.
func (s *SQLiteStore) Load(ctx context.Context, lang string) (map[string]string, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT source, translated FROM translation_cache WHERE lang = ?`,
		lang,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make(map[string]string)
	for rows.Next() {
		var source, translated string
		if err := rows.Scan(&source, &translated); err != nil {
			return nil, err
		}
		ret[source] = translated
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// Save upserts entries for lang. Rows missing from entries are kept.
func (s *SQLiteStore) Save(ctx context.Context, lang string, entries map[string]string) (err error) {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(
		ctx,
		`INSERT INTO translation_cache (lang, source, translated, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(lang, source) DO UPDATE SET
			translated=excluded.translated,
			updated_at=excluded.updated_at
		 WHERE translation_cache.translated <> excluded.translated`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for source, translated := range entries {
		if _, err = stmt.ExecContext(ctx, lang, source, translated, now); err != nil {
			return fmt.Errorf("upsert cache entry: %w", err)
		}
	}
	return tx.Commit()
}

// Get returns a single cached row.
func (s *SQLiteStore) Get(ctx context.Context, lang, source string) (CacheEntry, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT lang, source, translated, updated_at
		 FROM translation_cache
		 WHERE lang = ? AND source = ?`,
		lang,
		source,
	)
	var ret CacheEntry
	if err := row.Scan(&ret.Lang, &ret.Source, &ret.Translated, &ret.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return CacheEntry{}, false, nil
		}
		return CacheEntry{}, false, err
	}
	return ret, true, nil
}

// Count returns the number of cached rows for lang.
func (s *SQLiteStore) Count(ctx context.Context, lang string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM translation_cache WHERE lang = ?`, lang).Scan(&n)
	return n, err
}
