// Package orchestrator executes one scraping task: it walks the planned
// keyword list, fans each keyword out to the enabled content sources, filters
// candidates through global URL dedup, persists accepted items in one
// transaction per keyword, and mirrors their bytes to the object store.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/assetblue/scraping-pipeline/internal/dedup"
	"github.com/assetblue/scraping-pipeline/internal/metrics"
	"github.com/assetblue/scraping-pipeline/internal/registry"
	"github.com/assetblue/scraping-pipeline/internal/scrape"
	"github.com/assetblue/scraping-pipeline/internal/source"
)

// Caps bounds how many items each content type may accept per keyword.
type Caps struct {
	// PerKeyword applies to image and video sources.
	PerKeyword int
	// Documents overrides PerKeyword for the document source.
	Documents int
	// Overfetch multiplies the cap into the adapter's maxResults so dedup
	// losses can be replaced from the same result page.
	Overfetch int
}

// For returns the accept cap for a content type.
func (c Caps) For(ct scrape.ContentType) int {
	if ct == scrape.ContentTypeDocument && c.Documents > 0 {
		return c.Documents
	}
	return c.PerKeyword
}

// DefaultCaps matches the service defaults: two items per keyword per type,
// ten for documents, triple overfetch.
var DefaultCaps = Caps{PerKeyword: 2, Documents: 10, Overfetch: 3}

// Orchestrator runs tasks to a terminal state. One Run executes at a time;
// the runner serializes calls.
type Orchestrator struct {
	registry   *registry.Registry
	items      scrape.ItemStore
	objects    scrape.ObjectStore
	dedup      *dedup.Deduplicator
	newSources source.Factory
	publisher  scrape.Publisher
	topic      string
	clock      scrape.Clock
	caps       Caps
	logger     *zap.Logger
}

// Options configures an Orchestrator. Publisher may be nil when lifecycle
// events are disabled.
type Options struct {
	Registry  *registry.Registry
	Items     scrape.ItemStore
	Objects   scrape.ObjectStore
	Sources   source.Factory
	Publisher scrape.Publisher
	Topic     string
	Clock     scrape.Clock
	Caps      Caps
	Logger    *zap.Logger
}

// New constructs an Orchestrator.
func New(opts Options) *Orchestrator {
	caps := opts.Caps
	if caps.PerKeyword <= 0 {
		caps.PerKeyword = DefaultCaps.PerKeyword
	}
	if caps.Overfetch <= 0 {
		caps.Overfetch = DefaultCaps.Overfetch
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		registry:   opts.Registry,
		items:      opts.Items,
		objects:    opts.Objects,
		dedup:      dedup.New(opts.Items),
		newSources: opts.Sources,
		publisher:  opts.Publisher,
		topic:      opts.Topic,
		clock:      opts.Clock,
		caps:       caps,
		logger:     logger,
	}
}

// Run drives a task from processing to a terminal state. ctx is the task's
// cancellation context from the registry; cancellation is honored at keyword
// boundaries only, so the keyword in flight always finishes or rolls back.
func (o *Orchestrator) Run(ctx context.Context, taskID string) {
	task, err := o.registry.Get(taskID)
	if err != nil {
		o.logger.Error("task vanished before run", zap.String("task_id", taskID))
		return
	}

	metrics.IncActiveTasks()
	defer metrics.DecActiveTasks()

	log := o.logger.With(zap.String("task_id", taskID))

	sources, err := o.newSources()
	if err != nil {
		o.finish(ctx, taskID, scrape.TaskStatusError, fmt.Sprintf("open content sources: %v", err))
		return
	}
	defer func() {
		if err := sources.Close(); err != nil {
			log.Warn("closing content sources", zap.Error(err))
		}
	}()

	log.Info("task started",
		zap.Int("keywords", len(task.Keywords)),
		zap.Bool("resumable", task.ResumableMode),
	)

	for i, keyword := range task.Keywords {
		if ctx.Err() != nil {
			o.finish(ctx, taskID, scrape.TaskStatusCancelled, "")
			return
		}

		if strings.TrimSpace(keyword) == "" || !task.KeywordAllowed(keyword) {
			metrics.ObserveKeywordRejected()
			log.Warn("keyword rejected", zap.String("keyword", keyword))
			continue
		}

		o.registry.Update(taskID, func(t *scrape.Task) {
			t.CurrentKeyword = keyword
			t.CurrentIndex = i + 1
		})

		sourceFile := task.KeywordSource[keyword]
		if sourceFile == "" {
			sourceFile = "unknown"
		}

		counts, err := o.scrapeKeyword(ctx, sources, task, keyword, sourceFile)
		if err != nil {
			log.Error("keyword failed", zap.String("keyword", keyword), zap.Error(err))
			o.finish(ctx, taskID, scrape.TaskStatusError, fmt.Sprintf("keyword %q: %v", keyword, err))
			return
		}

		o.registry.Update(taskID, func(t *scrape.Task) {
			t.Counts.Add(counts)
		})
		log.Info("keyword done",
			zap.String("keyword", keyword),
			zap.Int("documents", counts.Documents),
			zap.Int("images", counts.Images),
			zap.Int("videos", counts.Videos),
		)
	}

	if ctx.Err() != nil {
		o.finish(ctx, taskID, scrape.TaskStatusCancelled, "")
		return
	}
	o.finish(ctx, taskID, scrape.TaskStatusCompleted, "")
}

// scrapeKeyword fans one keyword out to every enabled source and persists the
// accepted candidates in a single transaction. An adapter error yields zero
// results from that source only; a persistence error aborts the keyword.
func (o *Orchestrator) scrapeKeyword(
	ctx context.Context,
	sources *source.Set,
	task scrape.Task,
	keyword, sourceFile string,
) (scrape.Counts, error) {
	var counts scrape.Counts

	known, err := o.dedup.Snapshot(ctx, task.EnabledTypes)
	if err != nil {
		return counts, err
	}

	tx, err := o.items.BeginKeyword(ctx)
	if err != nil {
		return counts, fmt.Errorf("begin keyword tx: %w", err)
	}

	for _, ct := range scrape.FanOutOrder {
		if !task.TypeEnabled(ct) {
			continue
		}
		adapter, ok := sources.Get(ct)
		if !ok {
			continue
		}

		cap := o.caps.For(ct)
		candidates, err := adapter.Search(ctx, keyword, cap*o.caps.Overfetch)
		if err != nil {
			metrics.ObserveAdapterFailure(string(ct))
			o.logger.Warn("content source failed",
				zap.String("task_id", task.ID),
				zap.String("keyword", keyword),
				zap.String("content_type", string(ct)),
				zap.Error(err),
			)
			continue
		}

		for _, cand := range candidates {
			if counts.Get(ct) >= cap {
				break
			}
			if !known.Accept(ct, cand.URL) {
				metrics.ObserveDuplicateSkipped(string(ct))
				continue
			}

			item := scrape.Item{
				Keyword:     keyword,
				URL:         cand.URL,
				ContentType: ct,
				Title:       cand.Title,
				Description: cand.Description,
				FileSize:    cand.FileSize,
				TaskID:      task.ID,
				SourceFile:  sourceFile,
				CreatedAt:   o.clock.Now(),
			}
			if ct == scrape.ContentTypeVideo {
				item.ContentHash = scrape.URLHash(cand.URL)
			}

			itemID, err := tx.InsertItem(ctx, item)
			if err != nil {
				tx.Rollback(ctx)
				return counts, fmt.Errorf("insert item: %w", err)
			}

			o.mirror(ctx, tx, sources, ct, cand.URL, keyword, task.ID, itemID)

			counts.Inc(ct)
			metrics.ObserveItemPersisted(string(ct))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		tx.Rollback(ctx)
		return counts, fmt.Errorf("commit keyword tx: %w", err)
	}
	return counts, nil
}

// mirror copies one item's bytes into the object store and attaches the
// resulting key to the item. Mirroring is best effort: any failure leaves the
// item persisted without a storage key.
func (o *Orchestrator) mirror(
	ctx context.Context,
	tx scrape.KeywordTx,
	sources *source.Set,
	ct scrape.ContentType,
	url, keyword, taskID string,
	itemID int64,
) {
	if o.objects == nil || !o.objects.Available() {
		return
	}

	src := scrape.UploadSource{
		URL:         url,
		Keyword:     keyword,
		ContentType: ct,
		TaskID:      taskID,
		ItemID:      itemID,
	}

	// Video bytes are not reachable by plain HTTP on the result URL; the
	// adapter fetches them into a temp file first.
	if dl, ok := sources.Downloader(ct); ok {
		path, err := dl.DownloadMedia(ctx, url)
		if err != nil {
			metrics.ObserveMirrorFailure(string(ct))
			o.logger.Warn("media download failed",
				zap.String("task_id", taskID),
				zap.String("url", url),
				zap.Error(err),
			)
			return
		}
		defer func() {
			os.Remove(path)
			// Media downloads land in a dedicated temp dir; remove it
			// once empty.
			os.Remove(filepath.Dir(path))
		}()
		src.LocalPath = path
	}

	publicURL, key, err := o.objects.Upload(ctx, src)
	if err != nil || key == "" {
		metrics.ObserveMirrorFailure(string(ct))
		o.logger.Warn("mirror failed",
			zap.String("task_id", taskID),
			zap.String("url", url),
			zap.String("content_type", string(ct)),
			zap.Error(err),
		)
		return
	}

	if err := tx.AttachStorage(ctx, itemID, key, publicURL); err != nil {
		metrics.ObserveMirrorFailure(string(ct))
		o.logger.Warn("attach storage key failed",
			zap.String("task_id", taskID),
			zap.Int64("item_id", itemID),
			zap.Error(err),
		)
	}
}

// finish moves the task to its terminal state and emits the lifecycle event.
// When the registry already flipped the task to cancelled, the Update is a
// no-op and the registry's state wins.
func (o *Orchestrator) finish(ctx context.Context, taskID string, status scrape.TaskStatus, errText string) {
	now := o.clock.Now()
	o.registry.Update(taskID, func(t *scrape.Task) {
		t.Status = status
		t.ErrorText = errText
		t.CurrentKeyword = ""
		t.Finished = &now
	})

	task, err := o.registry.Get(taskID)
	if err != nil {
		return
	}
	metrics.ObserveTask(string(task.Status))

	o.logger.Info("task finished",
		zap.String("task_id", taskID),
		zap.String("status", string(task.Status)),
		zap.Int("documents", task.Counts.Documents),
		zap.Int("images", task.Counts.Images),
		zap.Int("videos", task.Counts.Videos),
	)

	if o.publisher == nil || o.topic == "" {
		return
	}
	// Publish with a fresh context: the task context is often already
	// cancelled on this path.
	event := map[string]any{
		"task_id":        taskID,
		"status":         string(task.Status),
		"error":          task.ErrorText,
		"document_count": task.Counts.Documents,
		"image_count":    task.Counts.Images,
		"video_count":    task.Counts.Videos,
		"finished_at":    now,
	}
	if _, err := o.publisher.Publish(context.WithoutCancel(ctx), o.topic, event); err != nil {
		o.logger.Warn("publish task event", zap.String("task_id", taskID), zap.Error(err))
	}
}
