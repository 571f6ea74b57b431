package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/assetblue/scraping-pipeline/internal/scrape"
	"github.com/assetblue/scraping-pipeline/internal/store/memory"
)

func testItem(keyword, sourceFile string) scrape.Item {
	return scrape.Item{
		Keyword:     keyword,
		URL:         "https://example.com/" + keyword,
		ContentType: scrape.ContentTypeDocument,
		SourceFile:  sourceFile,
	}
}

func seedItem(t *testing.T, store *memory.ItemStore, keyword, sourceFile string) {
	t.Helper()
	tx, err := store.BeginKeyword(context.Background())
	require.NoError(t, err)
	_, err = tx.InsertItem(context.Background(), testItem(keyword, sourceFile))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(context.Background()))
}

func TestPlanner_AllNewKeywords(t *testing.T) {
	t.Parallel()

	store := memory.NewItemStore()
	p := New(store, zap.NewNop())

	plan, err := p.Plan(context.Background(),
		[]string{"alpha", "beta"},
		map[string]string{"alpha": "a.csv", "beta": "a.csv"},
		[]string{"a.csv"},
	)
	require.NoError(t, err)
	require.False(t, plan.ResumableMode)
	require.Equal(t, []string{"alpha", "beta"}, plan.Keywords)
	require.Equal(t, 2, plan.NewKeywordCount)
	require.Zero(t, plan.SkippedKeywordCount)
}

func TestPlanner_SkipsScrapedKeywordsButKeepsAllowList(t *testing.T) {
	t.Parallel()

	store := memory.NewItemStore()
	seedItem(t, store, "alpha", "a.csv")
	p := New(store, zap.NewNop())

	plan, err := p.Plan(context.Background(),
		[]string{"alpha", "beta"},
		map[string]string{"alpha": "a.csv", "beta": "a.csv"},
		[]string{"a.csv"},
	)
	require.NoError(t, err)
	require.True(t, plan.ResumableMode)
	require.Equal(t, []string{"beta"}, plan.Keywords)
	require.Equal(t, 1, plan.NewKeywordCount)
	require.Equal(t, 1, plan.SkippedKeywordCount)
	require.False(t, plan.AllAlreadyScraped)
	require.Contains(t, plan.Allowed, "alpha")
	require.Contains(t, plan.Allowed, "beta")
}

func TestPlanner_SameKeywordDifferentFileIsNew(t *testing.T) {
	t.Parallel()

	store := memory.NewItemStore()
	seedItem(t, store, "alpha", "old.csv")
	p := New(store, zap.NewNop())

	plan, err := p.Plan(context.Background(),
		[]string{"alpha"},
		map[string]string{"alpha": "new.csv"},
		[]string{"new.csv"},
	)
	require.NoError(t, err)
	require.False(t, plan.ResumableMode)
	require.Equal(t, []string{"alpha"}, plan.Keywords)
}

func TestPlanner_AllAlreadyScraped(t *testing.T) {
	t.Parallel()

	store := memory.NewItemStore()
	seedItem(t, store, "alpha", "a.csv")
	seedItem(t, store, "beta", "a.csv")
	p := New(store, zap.NewNop())

	plan, err := p.Plan(context.Background(),
		[]string{"alpha", "beta"},
		map[string]string{"alpha": "a.csv", "beta": "a.csv"},
		[]string{"a.csv"},
	)
	require.NoError(t, err)
	require.True(t, plan.ResumableMode)
	require.True(t, plan.AllAlreadyScraped)
	require.Empty(t, plan.Keywords)
	require.Equal(t, 2, plan.SkippedKeywordCount)
}
