package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/assetblue/scraping-pipeline/internal/scrape"
)

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *ItemStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewItemStoreWithPool(mock, "scraped_items")
	require.NoError(t, err)
	return mock, store
}

func TestNewItemStoreWithPool_RejectsInvalidTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewItemStoreWithPool(mock, "items; DROP TABLE items")
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid table name")
}

func TestKeywordTx_InsertAttachCommit(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	item := scrape.Item{
		Keyword:     "boiler leak",
		URL:         "https://example.com/report.pdf",
		ContentType: scrape.ContentTypeDocument,
		Title:       "Report",
		Description: "Annual report",
		TaskID:      "task-1",
		SourceFile:  "keywords.csv",
		CreatedAt:   now,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO scraped_items").
		WithArgs(
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
		).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectExec("UPDATE scraped_items SET storage_key").
		WithArgs("documents/item_42_boiler_leak.pdf", "https://cdn/item_42", int64(42)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	tx, err := store.BeginKeyword(context.Background())
	require.NoError(t, err)

	id, err := tx.InsertItem(context.Background(), item)
	require.NoError(t, err)
	require.Equal(t, int64(42), id)

	err = tx.AttachStorage(context.Background(),
		42, "documents/item_42_boiler_leak.pdf", "https://cdn/item_42")
	require.NoError(t, err)

	require.NoError(t, tx.Commit(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKeywordTx_InsertFailureRollsBack(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO scraped_items").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	tx, err := store.BeginKeyword(context.Background())
	require.NoError(t, err)

	_, err = tx.InsertItem(context.Background(), scrape.Item{
		Keyword:     "boiler",
		URL:         "https://example.com",
		ContentType: scrape.ContentTypeImage,
	})
	require.Error(t, err)
	require.NoError(t, tx.Rollback(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestURLsByType(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)

	mock.ExpectQuery("SELECT url FROM scraped_items WHERE content_type").
		WithArgs("image").
		WillReturnRows(pgxmock.NewRows([]string{"url"}).
			AddRow("https://a.example/1.jpg").
			AddRow("https://b.example/2.jpg"))

	urls, err := store.URLsByType(context.Background(), scrape.ContentTypeImage)
	require.NoError(t, err)
	require.Len(t, urls, 2)
	require.Contains(t, urls, "https://a.example/1.jpg")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHasKeywordItems(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("boiler", "keywords.csv").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := store.HasKeywordItems(context.Background(), "boiler", "keywords.csv")
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetItem_NotFound(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM scraped_items WHERE id").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := store.GetItem(context.Background(), 7)
	require.ErrorIs(t, err, scrape.ErrItemNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListItems_FiltersAndPagination(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM scraped_items WHERE task_id = \$1 AND content_type = \$2`).
		WithArgs("task-1", "document").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(12)))
	mock.ExpectQuery(`SELECT (.+) FROM scraped_items WHERE task_id = \$1 AND content_type = \$2 ORDER BY id DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("task-1", "document", 2, 4).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "keyword", "url", "content_type", "title", "description",
			"file_size", "content_hash", "storage_key", "storage_url",
			"task_id", "source_file", "created_at",
		}).
			AddRow(int64(9), "boiler", "https://d/9.pdf", "document", "", "",
				(*int64)(nil), "", "", "", "task-1", "keywords.csv", now).
			AddRow(int64(8), "boiler", "https://d/8.pdf", "document", "", "",
				(*int64)(nil), "", "", "", "task-1", "keywords.csv", now))

	items, total, err := store.ListItems(context.Background(), scrape.ItemFilter{
		TaskID:      "task-1",
		ContentType: scrape.ContentTypeDocument,
		Limit:       2,
		Offset:      4,
	})
	require.NoError(t, err)
	require.Equal(t, int64(12), total)
	require.Len(t, items, 2)
	require.Equal(t, int64(9), items[0].ID)
	require.Equal(t, scrape.ContentTypeDocument, items[0].ContentType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestTaskForFile_NoRows(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)

	mock.ExpectQuery("SELECT COALESCE").
		WithArgs("missing.csv").
		WillReturnRows(pgxmock.NewRows([]string{"task_id"}))

	taskID, err := store.LatestTaskForFile(context.Background(), "missing.csv")
	require.NoError(t, err)
	require.Empty(t, taskID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestKeywordsForFileTask_FirstInsertOrder(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)

	mock.ExpectQuery("SELECT keyword FROM scraped_items").
		WithArgs("keywords.csv", "task-1").
		WillReturnRows(pgxmock.NewRows([]string{"keyword"}).
			AddRow("boiler").
			AddRow("turbine"))

	keywords, err := store.KeywordsForFileTask(context.Background(), "keywords.csv", "task-1")
	require.NoError(t, err)
	require.Equal(t, []string{"boiler", "turbine"}, keywords)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAll(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)

	mock.ExpectExec("DELETE FROM scraped_items").
		WillReturnResult(pgxmock.NewResult("DELETE", 23))

	deleted, err := store.DeleteAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(23), deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}
