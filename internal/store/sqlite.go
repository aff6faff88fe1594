package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
)

const (
	sqliteCreateResults = `
        CREATE TABLE IF NOT EXISTS scan_results (
            tab_id     TEXT PRIMARY KEY,
            scan_id    TEXT NOT NULL,
            page_url   TEXT NOT NULL,
            score      INTEGER NOT NULL,
            tier       TEXT NOT NULL,
            scanned_at TEXT NOT NULL,
            expires_at INTEGER NOT NULL DEFAULT 0,
            result     BLOB NOT NULL
        )`

	sqliteUpsertResult = `
        INSERT INTO scan_results (tab_id, scan_id, page_url, score, tier, scanned_at, expires_at, result)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (tab_id) DO UPDATE SET
            scan_id = excluded.scan_id,
            page_url = excluded.page_url,
            score = excluded.score,
            tier = excluded.tier,
            scanned_at = excluded.scanned_at,
            expires_at = excluded.expires_at,
            result = excluded.result`

	sqliteSelectResult = `
        SELECT result FROM scan_results
        WHERE tab_id = ? AND (expires_at = 0 OR expires_at > ?)`

	sqliteDeleteExpired = `DELETE FROM scan_results WHERE expires_at != 0 AND expires_at <= ?`
)

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=10000",
	"PRAGMA synchronous=NORMAL",
}

// SQLiteStore keeps results in a local database file. It is the default
// backend for the CLI so `result <tabID>` works across invocations.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
	log *zap.Logger
	now func() time.Time
}

var _ schemas.ResultStore = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string, ttl time.Duration, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Pragmas apply per connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range sqlitePragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteCreateResults); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create result schema: %w", err)
	}

	s := &SQLiteStore{db: db, ttl: ttl, log: logger.Named("store.sqlite"), now: time.Now}
	if n, err := s.DeleteExpired(ctx); err != nil {
		s.log.Warn("Failed to prune expired scan results.", zap.Error(err))
	} else if n > 0 {
		s.log.Debug("Pruned expired scan results.", zap.Int64("count", n))
	}
	return s, nil
}

// Save replaces the tab's stored result.
func (s *SQLiteStore) Save(ctx context.Context, result *schemas.ScanResult) error {
	data, err := encodeResult(result)
	if err != nil {
		return err
	}
	var expiresAt int64
	if exp := expiry(s.now(), s.ttl); !exp.IsZero() {
		expiresAt = exp.UnixNano()
	}
	if _, err := s.db.ExecContext(ctx, sqliteUpsertResult,
		string(result.TabID),
		result.ScanID,
		result.PageURL,
		result.Health.Score,
		string(result.Health.Tier),
		result.ScannedAt.UTC().Format(time.RFC3339Nano),
		expiresAt,
		data,
	); err != nil {
		return fmt.Errorf("failed to upsert scan result: %w", err)
	}
	return nil
}

// Get returns the tab's live result or (nil, nil).
func (s *SQLiteStore) Get(ctx context.Context, tab schemas.TabID) (*schemas.ScanResult, error) {
	return absentAsNil(s.load(ctx, tab))
}

func (s *SQLiteStore) load(ctx context.Context, tab schemas.TabID) (*schemas.ScanResult, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, sqliteSelectResult, string(tab), s.now().UnixNano()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schemas.ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query scan result: %w", err)
	}
	return decodeResult(data)
}

// DeleteExpired removes every result past its TTL.
func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, sqliteDeleteExpired, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired scan results: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
