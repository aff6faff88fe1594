package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-inspector/api/schemas"
)

// DBPool abstracts pgxpool.Pool so the store can run against pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const (
	sqlCreateResults = `
        CREATE TABLE IF NOT EXISTS scan_results (
            tab_id     TEXT PRIMARY KEY,
            scan_id    TEXT NOT NULL,
            page_url   TEXT NOT NULL,
            score      INTEGER NOT NULL,
            tier       TEXT NOT NULL,
            scanned_at TIMESTAMPTZ NOT NULL,
            expires_at TIMESTAMPTZ,
            result     JSONB NOT NULL
        );`

	sqlCreateChecks = `
        CREATE TABLE IF NOT EXISTS scan_checks (
            tab_id   TEXT NOT NULL REFERENCES scan_results (tab_id) ON DELETE CASCADE,
            check_id TEXT NOT NULL,
            category TEXT NOT NULL,
            severity TEXT NOT NULL,
            title    TEXT NOT NULL,
            PRIMARY KEY (tab_id, check_id)
        );`

	sqlUpsertResult = `
        INSERT INTO scan_results (tab_id, scan_id, page_url, score, tier, scanned_at, expires_at, result)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (tab_id) DO UPDATE SET
            scan_id = EXCLUDED.scan_id,
            page_url = EXCLUDED.page_url,
            score = EXCLUDED.score,
            tier = EXCLUDED.tier,
            scanned_at = EXCLUDED.scanned_at,
            expires_at = EXCLUDED.expires_at,
            result = EXCLUDED.result;`

	sqlDeleteChecks = `DELETE FROM scan_checks WHERE tab_id = $1;`

	sqlSelectResult = `
        SELECT result FROM scan_results
        WHERE tab_id = $1 AND (expires_at IS NULL OR expires_at > $2);`

	sqlDeleteExpired = `DELETE FROM scan_results WHERE expires_at IS NOT NULL AND expires_at <= $1;`
)

var checkColumns = []string{"tab_id", "check_id", "category", "severity", "title"}

// PostgresStore keeps the full result as JSONB next to a per-check table
// that can be queried directly.
type PostgresStore struct {
	pool DBPool
	ttl  time.Duration
	log  *zap.Logger
	now  func() time.Time
}

var _ schemas.ResultStore = (*PostgresStore)(nil)

// OpenPostgres connects to url, creates the schema and drops expired rows.
func OpenPostgres(ctx context.Context, url string, ttl time.Duration, logger *zap.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	s, err := NewPostgresStore(ctx, pool, ttl, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := s.DeleteExpired(ctx); err != nil {
		s.log.Warn("Failed to prune expired scan results.", zap.Error(err))
	}
	return s, nil
}

// NewPostgresStore wraps pool and verifies the connection.
func NewPostgresStore(ctx context.Context, pool DBPool, ttl time.Duration, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{
		pool: pool,
		ttl:  ttl,
		log:  logger.Named("store.postgres"),
		now:  time.Now,
	}, nil
}

// EnsureSchema creates the result tables when they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{sqlCreateResults, sqlCreateChecks} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create result schema: %w", err)
		}
	}
	return nil
}

// Save replaces the tab's result and its check rows in one transaction.
func (s *PostgresStore) Save(ctx context.Context, result *schemas.ScanResult) error {
	data, err := encodeResult(result)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	tab := string(result.TabID)
	var expiresAt *time.Time
	if exp := expiry(s.now(), s.ttl); !exp.IsZero() {
		utc := exp.UTC()
		expiresAt = &utc
	}

	if _, err := tx.Exec(ctx, sqlUpsertResult,
		tab,
		result.ScanID,
		result.PageURL,
		result.Health.Score,
		string(result.Health.Tier),
		result.ScannedAt.UTC(),
		expiresAt,
		data,
	); err != nil {
		return fmt.Errorf("failed to upsert scan result: %w", err)
	}

	if _, err := tx.Exec(ctx, sqlDeleteChecks, tab); err != nil {
		return fmt.Errorf("failed to clear previous check rows: %w", err)
	}

	if len(result.Checks) > 0 {
		rows := make([][]any, len(result.Checks))
		for i, c := range result.Checks {
			rows[i] = []any{tab, c.ID, c.Category, string(c.Severity), c.Title}
		}
		copied, err := tx.CopyFrom(ctx, pgx.Identifier{"scan_checks"}, checkColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy check rows: %w", err)
		}
		if int(copied) != len(rows) {
			return fmt.Errorf("copied %d of %d check rows", copied, len(rows))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Get returns the tab's live result or (nil, nil).
func (s *PostgresStore) Get(ctx context.Context, tab schemas.TabID) (*schemas.ScanResult, error) {
	return absentAsNil(s.load(ctx, tab))
}

func (s *PostgresStore) load(ctx context.Context, tab schemas.TabID) (*schemas.ScanResult, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, sqlSelectResult, string(tab), s.now().UTC()).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, schemas.ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query scan result: %w", err)
	}
	return decodeResult(data)
}

// DeleteExpired removes every result past its TTL and reports how many went.
func (s *PostgresStore) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, sqlDeleteExpired, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired scan results: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
