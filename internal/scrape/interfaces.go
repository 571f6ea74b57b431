package scrape

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by store implementations.
var (
	ErrTaskNotFound = errors.New("task not found")
	ErrItemNotFound = errors.New("item not found")
)

// SourceAdapter searches one external content source for a keyword.
// Implementations return an empty slice for "no results"; an error means a
// genuine transport or availability failure. maxResults is an upper bound,
// not an exact count.
type SourceAdapter interface {
	Search(ctx context.Context, keyword string, maxResults int) ([]Candidate, error)
	Close() error
}

// MediaDownloader is implemented by adapters whose content must be fetched
// through the adapter itself before mirroring (the video source). It returns
// a path to a temporary file the caller must remove.
type MediaDownloader interface {
	DownloadMedia(ctx context.Context, url string) (string, error)
}

// UploadSource describes one mirroring request to the object store. Exactly
// one of URL or LocalPath is the byte source; the rest is key metadata.
type UploadSource struct {
	URL         string
	LocalPath   string
	Keyword     string
	ContentType ContentType
	TaskID      string
	ItemID      int64
}

// ObjectStore mirrors discovered content into durable storage.
// Upload failures are returned as errors and handled gracefully by callers;
// items persist without a storage key when mirroring fails.
type ObjectStore interface {
	Upload(ctx context.Context, src UploadSource) (publicURL string, key string, err error)
	// DownloadURL mints a time-limited retrieval URL for a stored object.
	// Idempotent and safe to call repeatedly.
	DownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	Available() bool
}

// KeywordTx groups one keyword's item writes into a single commit/rollback
// unit. Rollback after Commit is a no-op.
type KeywordTx interface {
	InsertItem(ctx context.Context, item Item) (int64, error)
	AttachStorage(ctx context.Context, itemID int64, key, url string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ItemStore is the durable record of every discovered item.
type ItemStore interface {
	BeginKeyword(ctx context.Context) (KeywordTx, error)

	// URLsByType returns every URL already stored for a content type,
	// across all tasks and sessions.
	URLsByType(ctx context.Context, ct ContentType) (map[string]struct{}, error)
	// HasKeywordItems reports whether any item exists for the
	// (keyword, sourceFile) pair; used by the resumability planner.
	HasKeywordItems(ctx context.Context, keyword, sourceFile string) (bool, error)

	GetItem(ctx context.Context, id int64) (Item, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]Item, int64, error)
	SourceFiles(ctx context.Context, taskID string) ([]string, error)
	// LatestTaskForFile returns the task id of the newest item recorded
	// for a source file, or "" when the file has no items.
	LatestTaskForFile(ctx context.Context, sourceFile string) (string, error)
	KeywordsForFileTask(ctx context.Context, sourceFile, taskID string) ([]string, error)

	CountItems(ctx context.Context) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)
	Close()
}

// Publisher pushes task lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
