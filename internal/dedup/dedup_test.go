package dedup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/assetblue/scraping-pipeline/internal/scrape"
	"github.com/assetblue/scraping-pipeline/internal/store/memory"
)

func seed(t *testing.T, store *memory.ItemStore, ct scrape.ContentType, url string) {
	t.Helper()
	tx, err := store.BeginKeyword(context.Background())
	require.NoError(t, err)
	_, err = tx.InsertItem(context.Background(), scrape.Item{
		Keyword:     "seed",
		URL:         url,
		ContentType: ct,
		SourceFile:  "seed.csv",
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(context.Background()))
}

func TestKnown_RejectsStoredURLs(t *testing.T) {
	t.Parallel()

	store := memory.NewItemStore()
	seed(t, store, scrape.ContentTypeImage, "https://example.com/a.jpg")

	known, err := New(store).Snapshot(context.Background(),
		[]scrape.ContentType{scrape.ContentTypeImage})
	require.NoError(t, err)

	require.False(t, known.Accept(scrape.ContentTypeImage, "https://example.com/a.jpg"))
	require.True(t, known.Accept(scrape.ContentTypeImage, "https://example.com/b.jpg"))
}

func TestKnown_FirstSeenWinsWithinKeyword(t *testing.T) {
	t.Parallel()

	known, err := New(memory.NewItemStore()).Snapshot(context.Background(),
		[]scrape.ContentType{scrape.ContentTypeDocument})
	require.NoError(t, err)

	require.True(t, known.Accept(scrape.ContentTypeDocument, "https://example.com/x.pdf"))
	require.False(t, known.Accept(scrape.ContentTypeDocument, "https://example.com/x.pdf"))
}

func TestKnown_DedupIsPerContentType(t *testing.T) {
	t.Parallel()

	store := memory.NewItemStore()
	seed(t, store, scrape.ContentTypeImage, "https://example.com/shared")

	known, err := New(store).Snapshot(context.Background(),
		[]scrape.ContentType{scrape.ContentTypeImage, scrape.ContentTypeDocument})
	require.NoError(t, err)

	// Same URL under a different type is not in that type's snapshot.
	require.True(t, known.Accept(scrape.ContentTypeDocument, "https://example.com/shared"))
	require.False(t, known.Accept(scrape.ContentTypeImage, "https://example.com/shared"))
}

func TestKnown_RejectsEmptyURL(t *testing.T) {
	t.Parallel()

	known, err := New(memory.NewItemStore()).Snapshot(context.Background(), nil)
	require.NoError(t, err)
	require.False(t, known.Accept(scrape.ContentTypeVideo, ""))
}
