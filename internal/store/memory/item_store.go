// Package memory provides an in-memory item store used in development mode
// and in tests. It mirrors the Postgres store's semantics, including the
// keyword transaction: staged writes become visible only on Commit.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/assetblue/scraping-pipeline/internal/scrape"
)

// ItemStore keeps items in a mutex-guarded slice.
type ItemStore struct {
	mu     sync.RWMutex
	items  []scrape.Item
	nextID int64
}

// NewItemStore constructs an empty ItemStore.
func NewItemStore() *ItemStore {
	return &ItemStore{nextID: 1}
}

// BeginKeyword starts a staged write set for one keyword.
func (s *ItemStore) BeginKeyword(ctx context.Context) (scrape.KeywordTx, error) {
	return &keywordTx{store: s, staged: make(map[int64]*scrape.Item)}, nil
}

type keywordTx struct {
	store *ItemStore
	order []int64
	// staged maps reserved ids to pending items so AttachStorage can find
	// them before commit.
	staged map[int64]*scrape.Item
	done   bool
}

func (t *keywordTx) InsertItem(ctx context.Context, item scrape.Item) (int64, error) {
	t.store.mu.Lock()
	id := t.store.nextID
	t.store.nextID++
	t.store.mu.Unlock()

	item.ID = id
	t.staged[id] = &item
	t.order = append(t.order, id)
	return id, nil
}

func (t *keywordTx) AttachStorage(ctx context.Context, itemID int64, key, url string) error {
	item, ok := t.staged[itemID]
	if !ok {
		return scrape.ErrItemNotFound
	}
	item.StorageKey = key
	item.StorageURL = url
	return nil
}

func (t *keywordTx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, id := range t.order {
		t.store.items = append(t.store.items, *t.staged[id])
	}
	return nil
}

func (t *keywordTx) Rollback(ctx context.Context) error {
	t.done = true
	return nil
}

// URLsByType returns every stored URL for a content type.
func (s *ItemStore) URLsByType(ctx context.Context, ct scrape.ContentType) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	urls := make(map[string]struct{})
	for _, item := range s.items {
		if item.ContentType == ct {
			urls[item.URL] = struct{}{}
		}
	}
	return urls, nil
}

// HasKeywordItems reports whether any item exists for the keyword/file pair.
func (s *ItemStore) HasKeywordItems(ctx context.Context, keyword, sourceFile string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.Keyword == keyword && item.SourceFile == sourceFile {
			return true, nil
		}
	}
	return false, nil
}

// GetItem fetches a single item by id.
func (s *ItemStore) GetItem(ctx context.Context, id int64) (scrape.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.ID == id {
			return item, nil
		}
	}
	return scrape.Item{}, scrape.ErrItemNotFound
}

func matches(item scrape.Item, filter scrape.ItemFilter) bool {
	if filter.TaskID != "" && item.TaskID != filter.TaskID {
		return false
	}
	if filter.ContentType != "" && item.ContentType != filter.ContentType {
		return false
	}
	if filter.SourceFile != "" && item.SourceFile != filter.SourceFile {
		return false
	}
	if len(filter.Keywords) > 0 {
		found := false
		for _, keyword := range filter.Keywords {
			if item.Keyword == keyword {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ListItems returns matching items, newest first, plus the pre-pagination total.
func (s *ItemStore) ListItems(ctx context.Context, filter scrape.ItemFilter) ([]scrape.Item, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []scrape.Item
	for _, item := range s.items {
		if matches(item, filter) {
			matched = append(matched, item)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := int64(len(matched))
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

// SourceFiles lists distinct source files, optionally scoped to one task.
func (s *ItemStore) SourceFiles(ctx context.Context, taskID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var files []string
	for _, item := range s.items {
		if item.SourceFile == "" {
			continue
		}
		if taskID != "" && item.TaskID != taskID {
			continue
		}
		if _, ok := seen[item.SourceFile]; ok {
			continue
		}
		seen[item.SourceFile] = struct{}{}
		files = append(files, item.SourceFile)
	}
	sort.Strings(files)
	return files, nil
}

// LatestTaskForFile returns the task id of the newest item for a source file.
func (s *ItemStore) LatestTaskForFile(ctx context.Context, sourceFile string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	taskID := ""
	var bestID int64
	for _, item := range s.items {
		if item.SourceFile == sourceFile && item.ID > bestID {
			bestID = item.ID
			taskID = item.TaskID
		}
	}
	return taskID, nil
}

// KeywordsForFileTask lists distinct keywords for a file within one task,
// in first-insert order.
func (s *ItemStore) KeywordsForFileTask(ctx context.Context, sourceFile, taskID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var keywords []string
	for _, item := range s.items {
		if item.SourceFile != sourceFile || item.TaskID != taskID {
			continue
		}
		key := strings.TrimSpace(item.Keyword)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keywords = append(keywords, key)
	}
	return keywords, nil
}

// CountItems returns the total number of stored items.
func (s *ItemStore) CountItems(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.items)), nil
}

// DeleteAll removes every item and returns how many were removed.
func (s *ItemStore) DeleteAll(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := int64(len(s.items))
	s.items = nil
	return removed, nil
}

// Close is a no-op for the in-memory store.
func (s *ItemStore) Close() {}
