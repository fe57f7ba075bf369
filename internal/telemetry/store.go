package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// maxZeroResultRows bounds the persisted zero-result history.
const maxZeroResultRows = 100

// SQLiteStore implements Store on a SQLite database shared with the article store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the telemetry tables on db if needed.
// The caller owns db.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := InitSchema(ctx, db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// InitSchema creates the telemetry tables if they don't exist.
func InitSchema(ctx context.Context, db *sql.DB) error {
	schema := `
	-- Daily additive counters keyed by metric family
	CREATE TABLE IF NOT EXISTS query_daily_stats (
		date TEXT NOT NULL,
		metric TEXT NOT NULL,
		key TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, metric, key)
	);

	CREATE TABLE IF NOT EXISTS query_terms (
		term TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 0,
		last_seen INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);

	-- Bounded history of queries that returned nothing
	CREATE TABLE IF NOT EXISTS zero_result_queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query TEXT NOT NULL,
		searched_at INTEGER NOT NULL
	);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// AddDailyCounts adds counts to the (date, metric, key) counters.
func (s *SQLiteStore) AddDailyCounts(ctx context.Context, date, metric string, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}
	return s.inTx(ctx, `
		INSERT INTO query_daily_stats (date, metric, key, count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date, metric, key) DO UPDATE SET count = count + excluded.count
	`, func(stmt *sql.Stmt) error {
		for key, n := range counts {
			if _, err := stmt.ExecContext(ctx, date, metric, key, n); err != nil {
				return fmt.Errorf("add %s count: %w", metric, err)
			}
		}
		return nil
	})
}

// DailyCounts sums a metric family over an inclusive date range.
func (s *SQLiteStore) DailyCounts(ctx context.Context, metric, from, to string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, SUM(count)
		FROM query_daily_stats
		WHERE metric = ? AND date >= ? AND date <= ?
		GROUP BY key
	`, metric, from, to)
	if err != nil {
		return nil, fmt.Errorf("query %s counts: %w", metric, err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

// AddTermCounts adds to the per-term search counts.
func (s *SQLiteStore) AddTermCounts(ctx context.Context, terms map[string]int64) error {
	if len(terms) == 0 {
		return nil
	}
	now := time.Now().Unix()
	return s.inTx(ctx, `
		INSERT INTO query_terms (term, count, last_seen)
		VALUES (?, ?, ?)
		ON CONFLICT(term) DO UPDATE SET
			count = count + excluded.count,
			last_seen = excluded.last_seen
	`, func(stmt *sql.Stmt) error {
		for term, n := range terms {
			if _, err := stmt.ExecContext(ctx, term, n, now); err != nil {
				return fmt.Errorf("upsert term count: %w", err)
			}
		}
		return nil
	})
}

// TopTerms returns the most searched terms, ties by term.
func (s *SQLiteStore) TopTerms(ctx context.Context, limit int) ([]TermCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT term, count
		FROM query_terms
		ORDER BY count DESC, term ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer rows.Close()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// AddZeroResultQuery records a query and trims the history to the newest rows.
func (s *SQLiteStore) AddZeroResultQuery(ctx context.Context, query string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO zero_result_queries (query, searched_at) VALUES (?, ?)`,
		query, at.UTC().UnixNano(),
	); err != nil {
		return fmt.Errorf("insert zero-result query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM zero_result_queries
		WHERE id NOT IN (
			SELECT id FROM zero_result_queries
			ORDER BY id DESC
			LIMIT ?
		)
	`, maxZeroResultRows); err != nil {
		return fmt.Errorf("trim zero-result queries: %w", err)
	}
	return nil
}

// ZeroResultQueries returns recent zero-result queries, newest first.
func (s *SQLiteStore) ZeroResultQueries(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT query
		FROM zero_result_queries
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer rows.Close()

	var queries []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

func (s *SQLiteStore) inTx(ctx context.Context, query string, fn func(*sql.Stmt) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	if err := fn(stmt); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
