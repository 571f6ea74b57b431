// Package postgres provides the Postgres-backed item store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/assetblue/scraping-pipeline/internal/scrape"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ItemStoreConfig controls the Postgres connection pool for item rows.
type ItemStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// ItemStore persists scraped items in Postgres.
type ItemStore struct {
	pool  pgxPool
	table string
}

// NewItemStore creates a Postgres-backed ItemStore using the provided config.
func NewItemStore(ctx context.Context, cfg ItemStoreConfig) (*ItemStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "scraped_items"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ItemStore{pool: pool, table: table}, nil
}

// NewItemStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewItemStoreWithPool(pool pgxPool, table string) (*ItemStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "scraped_items"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ItemStore{pool: pool, table: table}, nil
}

// EnsureSchema creates the items table and its lookup indexes when missing.
func (s *ItemStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id BIGSERIAL PRIMARY KEY,
	keyword TEXT NOT NULL,
	url TEXT NOT NULL,
	content_type TEXT NOT NULL,
	title TEXT,
	description TEXT,
	file_size BIGINT,
	content_hash TEXT,
	storage_key TEXT,
	storage_url TEXT,
	task_id TEXT,
	source_file TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS %[1]s_content_type_url_idx ON %[1]s (content_type, url);
CREATE INDEX IF NOT EXISTS %[1]s_keyword_source_idx ON %[1]s (keyword, source_file);
CREATE INDEX IF NOT EXISTS %[1]s_task_idx ON %[1]s (task_id);
`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *ItemStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const itemColumns = `id, keyword, url, content_type,
	COALESCE(title, ''), COALESCE(description, ''), file_size,
	COALESCE(content_hash, ''), COALESCE(storage_key, ''), COALESCE(storage_url, ''),
	COALESCE(task_id, ''), COALESCE(source_file, ''), created_at`

func scanItem(row pgx.Row) (scrape.Item, error) {
	var item scrape.Item
	err := row.Scan(
		&item.ID,
		&item.Keyword,
		&item.URL,
		&item.ContentType,
		&item.Title,
		&item.Description,
		&item.FileSize,
		&item.ContentHash,
		&item.StorageKey,
		&item.StorageURL,
		&item.TaskID,
		&item.SourceFile,
		&item.CreatedAt,
	)
	return item, err
}

// BeginKeyword opens the transaction that scopes one keyword's item writes.
func (s *ItemStore) BeginKeyword(ctx context.Context) (scrape.KeywordTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &keywordTx{tx: tx, table: s.table}, nil
}

type keywordTx struct {
	tx    pgx.Tx
	table string
}

func (t *keywordTx) InsertItem(ctx context.Context, item scrape.Item) (int64, error) {
	query := fmt.Sprintf(`
INSERT INTO %s (
	keyword, url, content_type, title, description,
	file_size, content_hash, task_id, source_file, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING id`, t.table)

	var id int64
	err := t.tx.QueryRow(ctx, query,
		item.Keyword,
		item.URL,
		string(item.ContentType),
		item.Title,
		item.Description,
		item.FileSize,
		item.ContentHash,
		item.TaskID,
		item.SourceFile,
		item.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert item: %w", err)
	}
	return id, nil
}

func (t *keywordTx) AttachStorage(ctx context.Context, itemID int64, key, url string) error {
	query := fmt.Sprintf(`UPDATE %s SET storage_key = $1, storage_url = $2 WHERE id = $3`, t.table)
	if _, err := t.tx.Exec(ctx, query, key, url, itemID); err != nil {
		return fmt.Errorf("attach storage: %w", err)
	}
	return nil
}

func (t *keywordTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (t *keywordTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// URLsByType returns every stored URL for a content type, across all tasks.
func (s *ItemStore) URLsByType(ctx context.Context, ct scrape.ContentType) (map[string]struct{}, error) {
	query := fmt.Sprintf(`SELECT url FROM %s WHERE content_type = $1`, s.table)
	rows, err := s.pool.Query(ctx, query, string(ct))
	if err != nil {
		return nil, fmt.Errorf("query urls: %w", err)
	}
	defer rows.Close()

	urls := make(map[string]struct{})
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("scan url: %w", err)
		}
		urls[url] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate urls: %w", err)
	}
	return urls, nil
}

// HasKeywordItems reports whether any item exists for the keyword/file pair.
func (s *ItemStore) HasKeywordItems(ctx context.Context, keyword, sourceFile string) (bool, error) {
	query := fmt.Sprintf(
		`SELECT EXISTS (SELECT 1 FROM %s WHERE keyword = $1 AND source_file = $2)`, s.table)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, keyword, sourceFile).Scan(&exists); err != nil {
		return false, fmt.Errorf("check keyword items: %w", err)
	}
	return exists, nil
}

// GetItem fetches a single item by id.
func (s *ItemStore) GetItem(ctx context.Context, id int64) (scrape.Item, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, itemColumns, s.table)
	item, err := scanItem(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return scrape.Item{}, scrape.ErrItemNotFound
	}
	if err != nil {
		return scrape.Item{}, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// ListItems returns items matching the filter, newest first, plus the total
// match count before limit/offset.
func (s *ItemStore) ListItems(ctx context.Context, filter scrape.ItemFilter) ([]scrape.Item, int64, error) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.TaskID != "" {
		add("task_id = $%d", filter.TaskID)
	}
	if filter.ContentType != "" {
		add("content_type = $%d", string(filter.ContentType))
	}
	if filter.SourceFile != "" {
		add("source_file = $%d", filter.SourceFile)
	}
	if len(filter.Keywords) > 0 {
		add("keyword = ANY($%d)", filter.Keywords)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s%s`, s.table, where)
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count items: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY id DESC`, itemColumns, s.table, where)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []scrape.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate items: %w", err)
	}
	return items, total, nil
}

// SourceFiles lists distinct source files, optionally scoped to one task.
func (s *ItemStore) SourceFiles(ctx context.Context, taskID string) ([]string, error) {
	query := fmt.Sprintf(
		`SELECT DISTINCT source_file FROM %s WHERE source_file <> '' AND source_file IS NOT NULL`,
		s.table)
	var args []any
	if taskID != "" {
		query += " AND task_id = $1"
		args = append(args, taskID)
	}
	query += " ORDER BY source_file"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query source files: %w", err)
	}
	defer rows.Close()

	var files []string
	for rows.Next() {
		var file string
		if err := rows.Scan(&file); err != nil {
			return nil, fmt.Errorf("scan source file: %w", err)
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source files: %w", err)
	}
	return files, nil
}

// LatestTaskForFile returns the task id of the newest item for a source file.
func (s *ItemStore) LatestTaskForFile(ctx context.Context, sourceFile string) (string, error) {
	query := fmt.Sprintf(
		`SELECT COALESCE(task_id, '') FROM %s WHERE source_file = $1 ORDER BY created_at DESC, id DESC LIMIT 1`,
		s.table)
	var taskID string
	err := s.pool.QueryRow(ctx, query, sourceFile).Scan(&taskID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("latest task for file: %w", err)
	}
	return taskID, nil
}

// KeywordsForFileTask lists the distinct keywords recorded for a file within
// one task, in first-insert order.
func (s *ItemStore) KeywordsForFileTask(ctx context.Context, sourceFile, taskID string) ([]string, error) {
	query := fmt.Sprintf(`
SELECT keyword FROM %s
WHERE source_file = $1 AND task_id = $2
GROUP BY keyword
ORDER BY MIN(id)`, s.table)

	rows, err := s.pool.Query(ctx, query, sourceFile, taskID)
	if err != nil {
		return nil, fmt.Errorf("query keywords: %w", err)
	}
	defer rows.Close()

	var keywords []string
	for rows.Next() {
		var keyword string
		if err := rows.Scan(&keyword); err != nil {
			return nil, fmt.Errorf("scan keyword: %w", err)
		}
		keywords = append(keywords, keyword)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keywords: %w", err)
	}
	return keywords, nil
}

// CountItems returns the total number of stored items.
func (s *ItemStore) CountItems(ctx context.Context) (int64, error) {
	var total int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)
	if err := s.pool.QueryRow(ctx, query).Scan(&total); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return total, nil
}

// DeleteAll removes every item and returns the number of deleted rows.
func (s *ItemStore) DeleteAll(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s`, s.table)
	tag, err := s.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("delete items: %w", err)
	}
	return tag.RowsAffected(), nil
}
