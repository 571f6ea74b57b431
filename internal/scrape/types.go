// Package scrape defines core types shared across subsystems.
package scrape

import (
	"strings"
	"time"
)

// ContentType identifies which external search mechanism produced an item.
type ContentType string

// Content types persisted with each item.
const (
	ContentTypeDocument ContentType = "document"
	ContentTypeImage    ContentType = "image"
	ContentTypeVideo    ContentType = "video"
)

// FanOutOrder is the fixed order in which content types are scraped per keyword.
var FanOutOrder = []ContentType{ContentTypeVideo, ContentTypeImage, ContentTypeDocument}

// ParseContentType normalizes a client-supplied content type string.
func ParseContentType(s string) (ContentType, bool) {
	switch ContentType(strings.ToLower(strings.TrimSpace(s))) {
	case ContentTypeDocument:
		return ContentTypeDocument, true
	case ContentTypeImage:
		return ContentTypeImage, true
	case ContentTypeVideo:
		return ContentTypeVideo, true
	default:
		return "", false
	}
}

// TaskStatus represents the lifecycle state of a scraping task.
type TaskStatus string

// Task status values held in the registry. Error status carries its message
// in Task.ErrorText rather than in the status string itself.
const (
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
	TaskStatusError      TaskStatus = "error"
)

// IsTerminal reports whether a status is absorbing.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusCancelled, TaskStatusError:
		return true
	default:
		return false
	}
}

// Counts tracks items accepted per content type for one task.
type Counts struct {
	Documents int `json:"document_count"`
	Images    int `json:"image_count"`
	Videos    int `json:"video_count"`
}

// Add sums another Counts into this one.
func (c *Counts) Add(other Counts) {
	c.Documents += other.Documents
	c.Images += other.Images
	c.Videos += other.Videos
}

// Get returns the counter for a content type.
func (c Counts) Get(ct ContentType) int {
	switch ct {
	case ContentTypeDocument:
		return c.Documents
	case ContentTypeImage:
		return c.Images
	case ContentTypeVideo:
		return c.Videos
	default:
		return 0
	}
}

// Inc bumps the counter for a content type.
func (c *Counts) Inc(ct ContentType) {
	switch ct {
	case ContentTypeDocument:
		c.Documents++
	case ContentTypeImage:
		c.Images++
	case ContentTypeVideo:
		c.Videos++
	}
}

// Task is one scraping run over a set of keywords. Registry entries are
// process-local and never persisted; the Item Store is the durable record.
type Task struct {
	ID        string     `json:"task_id"`
	Status    TaskStatus `json:"status"`
	ErrorText string     `json:"error,omitempty"`

	// Keywords is the post-resumability list the orchestrator iterates.
	Keywords []string `json:"-"`
	// Allowed is the full keyword set from the uploaded files; keywords
	// outside it never reach persistence, even skipped resumable ones.
	Allowed map[string]struct{} `json:"-"`
	// KeywordSource maps each keyword to the file it was read from.
	KeywordSource map[string]string `json:"-"`
	// Files lists the uploaded file names in upload order.
	Files []string `json:"files"`

	// EnabledTypes selects which content sources run for this task.
	EnabledTypes []ContentType `json:"enabled_types"`

	CurrentKeyword string `json:"keyword"`
	CurrentIndex   int    `json:"current_keyword_index"`
	TotalKeywords  int    `json:"total_keywords"`
	Counts         Counts `json:"counts"`

	// Resumable-mode metadata, set at creation, never mutated afterward.
	ResumableMode       bool `json:"resumable_mode"`
	NewKeywordCount     int  `json:"new_keywords_count"`
	SkippedKeywordCount int  `json:"skipped_keywords_count"`
	AllAlreadyScraped   bool `json:"all_keywords_scraped"`

	Submitted time.Time  `json:"submitted_at"`
	Finished  *time.Time `json:"finished_at,omitempty"`
}

// TypeEnabled reports whether a content type is selected for this task.
func (t Task) TypeEnabled(ct ContentType) bool {
	for _, enabled := range t.EnabledTypes {
		if enabled == ct {
			return true
		}
	}
	return false
}

// KeywordAllowed reports membership in the task's allow-list.
func (t Task) KeywordAllowed(keyword string) bool {
	_, ok := t.Allowed[keyword]
	return ok
}

// Item is one discovered, optionally mirrored, piece of content.
// Items are append-only: only the storage key/URL is attached after insert.
type Item struct {
	ID          int64       `json:"id"`
	Keyword     string      `json:"keyword"`
	URL         string      `json:"url"`
	ContentType ContentType `json:"content_type"`
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	FileSize    *int64      `json:"file_size,omitempty"`
	ContentHash string      `json:"content_hash,omitempty"`
	StorageKey  string      `json:"storage_key,omitempty"`
	StorageURL  string      `json:"storage_url,omitempty"`
	TaskID      string      `json:"task_id,omitempty"`
	SourceFile  string      `json:"source_file,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Candidate is a search result returned by a content source adapter before
// dedup and persistence.
type Candidate struct {
	URL         string
	Title       string
	Description string
	FileSize    *int64
}

// ItemFilter selects items for listing queries.
type ItemFilter struct {
	TaskID      string
	ContentType ContentType
	SourceFile  string
	Keywords    []string
	Limit       int
	Offset      int
}
