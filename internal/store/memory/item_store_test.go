package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/assetblue/scraping-pipeline/internal/scrape"
)

func insert(t *testing.T, store *ItemStore, items ...scrape.Item) []int64 {
	t.Helper()
	tx, err := store.BeginKeyword(context.Background())
	require.NoError(t, err)
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		id, err := tx.InsertItem(context.Background(), item)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, tx.Commit(context.Background()))
	return ids
}

func item(keyword, url, taskID, sourceFile string, ct scrape.ContentType) scrape.Item {
	return scrape.Item{
		Keyword:     keyword,
		URL:         url,
		ContentType: ct,
		TaskID:      taskID,
		SourceFile:  sourceFile,
	}
}

func TestKeywordTx_StagedWritesInvisibleUntilCommit(t *testing.T) {
	t.Parallel()

	store := NewItemStore()
	tx, err := store.BeginKeyword(context.Background())
	require.NoError(t, err)

	id, err := tx.InsertItem(context.Background(),
		item("boiler", "https://d/1.pdf", "task-1", "a.csv", scrape.ContentTypeDocument))
	require.NoError(t, err)
	require.Positive(t, id)

	total, err := store.CountItems(context.Background())
	require.NoError(t, err)
	require.Zero(t, total)

	require.NoError(t, tx.Commit(context.Background()))

	total, err = store.CountItems(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
}

func TestKeywordTx_RollbackDiscardsStagedWrites(t *testing.T) {
	t.Parallel()

	store := NewItemStore()
	tx, err := store.BeginKeyword(context.Background())
	require.NoError(t, err)

	_, err = tx.InsertItem(context.Background(),
		item("boiler", "https://d/1.pdf", "task-1", "a.csv", scrape.ContentTypeDocument))
	require.NoError(t, err)

	require.NoError(t, tx.Rollback(context.Background()))
	// Commit after rollback must not resurrect the staged items.
	require.NoError(t, tx.Commit(context.Background()))

	total, err := store.CountItems(context.Background())
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestKeywordTx_AttachStorageBeforeCommit(t *testing.T) {
	t.Parallel()

	store := NewItemStore()
	tx, err := store.BeginKeyword(context.Background())
	require.NoError(t, err)

	id, err := tx.InsertItem(context.Background(),
		item("boiler", "https://i/1.jpg", "task-1", "a.csv", scrape.ContentTypeImage))
	require.NoError(t, err)

	require.NoError(t, tx.AttachStorage(context.Background(), id, "images/item_1", "https://cdn/1"))
	require.ErrorIs(t,
		tx.AttachStorage(context.Background(), id+99, "x", "y"),
		scrape.ErrItemNotFound)
	require.NoError(t, tx.Commit(context.Background()))

	got, err := store.GetItem(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "images/item_1", got.StorageKey)
	require.Equal(t, "https://cdn/1", got.StorageURL)
}

func TestListItems_FiltersAndPagination(t *testing.T) {
	t.Parallel()

	store := NewItemStore()
	insert(t, store,
		item("boiler", "https://d/1.pdf", "task-1", "a.csv", scrape.ContentTypeDocument),
		item("boiler", "https://i/1.jpg", "task-1", "a.csv", scrape.ContentTypeImage),
		item("turbine", "https://d/2.pdf", "task-1", "a.csv", scrape.ContentTypeDocument),
		item("valve", "https://d/3.pdf", "task-2", "b.csv", scrape.ContentTypeDocument),
	)

	items, total, err := store.ListItems(context.Background(), scrape.ItemFilter{
		TaskID:      "task-1",
		ContentType: scrape.ContentTypeDocument,
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Len(t, items, 2)
	// Newest first.
	require.Equal(t, "https://d/2.pdf", items[0].URL)
	require.Equal(t, "https://d/1.pdf", items[1].URL)

	items, total, err = store.ListItems(context.Background(), scrape.ItemFilter{
		Limit:  2,
		Offset: 3,
	})
	require.NoError(t, err)
	require.Equal(t, int64(4), total)
	require.Len(t, items, 1)

	items, _, err = store.ListItems(context.Background(), scrape.ItemFilter{
		Keywords: []string{"valve"},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "task-2", items[0].TaskID)
}

func TestSourceFiles_DistinctSortedOptionalTaskScope(t *testing.T) {
	t.Parallel()

	store := NewItemStore()
	insert(t, store,
		item("a", "https://1", "task-1", "b.csv", scrape.ContentTypeDocument),
		item("b", "https://2", "task-1", "a.csv", scrape.ContentTypeDocument),
		item("c", "https://3", "task-2", "c.csv", scrape.ContentTypeDocument),
		item("d", "https://4", "task-1", "a.csv", scrape.ContentTypeDocument),
	)

	files, err := store.SourceFiles(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, []string{"a.csv", "b.csv", "c.csv"}, files)

	files, err = store.SourceFiles(context.Background(), "task-1")
	require.NoError(t, err)
	require.Equal(t, []string{"a.csv", "b.csv"}, files)
}

func TestLatestTaskForFile(t *testing.T) {
	t.Parallel()

	store := NewItemStore()
	insert(t, store, item("a", "https://1", "task-1", "a.csv", scrape.ContentTypeDocument))
	insert(t, store, item("b", "https://2", "task-2", "a.csv", scrape.ContentTypeDocument))

	taskID, err := store.LatestTaskForFile(context.Background(), "a.csv")
	require.NoError(t, err)
	require.Equal(t, "task-2", taskID)

	taskID, err = store.LatestTaskForFile(context.Background(), "missing.csv")
	require.NoError(t, err)
	require.Empty(t, taskID)
}

func TestKeywordsForFileTask_FirstInsertOrder(t *testing.T) {
	t.Parallel()

	store := NewItemStore()
	insert(t, store,
		item("zebra", "https://1", "task-1", "a.csv", scrape.ContentTypeDocument),
		item("apple", "https://2", "task-1", "a.csv", scrape.ContentTypeImage),
		item("zebra", "https://3", "task-1", "a.csv", scrape.ContentTypeVideo),
		item("other", "https://4", "task-2", "a.csv", scrape.ContentTypeDocument),
	)

	keywords, err := store.KeywordsForFileTask(context.Background(), "a.csv", "task-1")
	require.NoError(t, err)
	require.Equal(t, []string{"zebra", "apple"}, keywords)
}

func TestDeleteAll(t *testing.T) {
	t.Parallel()

	store := NewItemStore()
	insert(t, store,
		item("a", "https://1", "task-1", "a.csv", scrape.ContentTypeDocument),
		item("b", "https://2", "task-1", "a.csv", scrape.ContentTypeImage),
	)

	deleted, err := store.DeleteAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), deleted)

	total, err := store.CountItems(context.Background())
	require.NoError(t, err)
	require.Zero(t, total)
}
