package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteArticleStore implements ArticleStore using modernc.org/sqlite.
// Publication times are stored as Unix nanoseconds in UTC.
type SQLiteArticleStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteArticleStore opens (or creates) the article database at path.
// Use ":memory:" for an ephemeral store.
func NewSQLiteArticleStore(path string) (*SQLiteArticleStore, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single writer avoids SQLITE_BUSY under concurrent indexing.
	db.SetMaxOpenConns(1)

	// DSN params may be ignored by modernc.org/sqlite, so pragmas go through Exec.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteArticleStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteArticleStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS articles (
			id           TEXT PRIMARY KEY,
			title        TEXT NOT NULL DEFAULT '',
			content      TEXT NOT NULL DEFAULT '',
			author       TEXT NOT NULL DEFAULT '',
			source       TEXT NOT NULL DEFAULT '',
			url          TEXT NOT NULL DEFAULT '',
			published_at INTEGER NOT NULL,
			entities     TEXT NOT NULL DEFAULT '[]'
		);
		CREATE INDEX IF NOT EXISTS idx_articles_published ON articles(published_at);
		CREATE INDEX IF NOT EXISTS idx_articles_author ON articles(author COLLATE NOCASE);
	`)
	if err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

// DB exposes the connection so telemetry can share the database file.
func (s *SQLiteArticleStore) DB() *sql.DB {
	return s.db
}

// Upsert inserts or replaces articles by ID in a single transaction.
func (s *SQLiteArticleStore) Upsert(ctx context.Context, articles []Article) error {
	if len(articles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO articles (id, title, content, author, source, url, published_at, entities)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			author = excluded.author,
			source = excluded.source,
			url = excluded.url,
			published_at = excluded.published_at,
			entities = excluded.entities
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, a := range articles {
		if a.ID == "" {
			return fmt.Errorf("article id is required")
		}
		entities := a.Entities
		if entities == nil {
			entities = []string{}
		}
		encoded, err := json.Marshal(entities)
		if err != nil {
			return fmt.Errorf("encode entities for %s: %w", a.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, a.ID, a.Title, a.Content, a.Author, a.Source, a.URL,
			a.PublishedAt.UTC().UnixNano(), string(encoded)); err != nil {
			return fmt.Errorf("upsert article %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Get returns the articles with the given IDs.
func (s *SQLiteArticleStore) Get(ctx context.Context, ids []string) (map[string]Article, error) {
	out := make(map[string]Article, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	// SQLite caps bound parameters, so large lookups are chunked.
	const chunk = 500
	for start := 0; start < len(ids); start += chunk {
		end := min(start+chunk, len(ids))
		part := ids[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(part)), ",")
		args := make([]any, len(part))
		for i, id := range part {
			args[i] = id
		}

		rows, err := s.db.QueryContext(ctx, `
			SELECT id, title, content, author, source, url, published_at, entities
			FROM articles WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("query articles: %w", err)
		}
		articles, err := scanArticles(rows)
		if err != nil {
			return nil, err
		}
		for _, a := range articles {
			out[a.ID] = a
		}
	}
	return out, nil
}

// List returns every article matching filter, ordered by ID.
// The date window is pushed down to SQL; author and entity constraints are
// applied in Go because entities live in a JSON column.
func (s *SQLiteArticleStore) List(ctx context.Context, filter ArticleFilter) ([]Article, error) {
	query := `SELECT id, title, content, author, source, url, published_at, entities FROM articles WHERE 1=1`
	var args []any
	if !filter.From.IsZero() {
		query += ` AND published_at >= ?`
		args = append(args, filter.From.UTC().UnixNano())
	}
	if !filter.To.IsZero() {
		query += ` AND published_at <= ?`
		args = append(args, filter.To.UTC().UnixNano())
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	articles, err := scanArticles(rows)
	if err != nil {
		return nil, err
	}

	filtered := articles[:0]
	for _, a := range articles {
		if filter.Matches(a) {
			filtered = append(filtered, a)
		}
	}
	return filtered, nil
}

// Count returns the number of stored articles.
func (s *SQLiteArticleStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return n, nil
}

// Close checkpoints the WAL and closes the database.
func (s *SQLiteArticleStore) Close() error {
	if s.path != ":memory:" {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}

func scanArticles(rows *sql.Rows) ([]Article, error) {
	defer rows.Close()

	var articles []Article
	for rows.Next() {
		var (
			a         Article
			published int64
			entities  string
		)
		if err := rows.Scan(&a.ID, &a.Title, &a.Content, &a.Author, &a.Source, &a.URL, &published, &entities); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		a.PublishedAt = time.Unix(0, published).UTC()
		if entities != "" {
			if err := json.Unmarshal([]byte(entities), &a.Entities); err != nil {
				return nil, fmt.Errorf("decode entities for %s: %w", a.ID, err)
			}
		}
		if len(a.Entities) == 0 {
			a.Entities = nil
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// containsFold reports whether list contains s, ignoring case.
func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

var _ ArticleStore = (*SQLiteArticleStore)(nil)
