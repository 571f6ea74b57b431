package api

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/assetblue/scraping-pipeline/internal/scrape"
)

// signedURLExpiry is how long item listing download links stay valid.
const signedURLExpiry = 7 * 24 * time.Hour

// withDownloadURLs replaces each item's storage URL with a freshly signed
// link when a storage key exists. Best effort; the raw item survives.
func (s *Server) withDownloadURLs(r *http.Request, items []scrape.Item) []scrape.Item {
	if s.objects == nil || !s.objects.Available() {
		return items
	}
	for i := range items {
		if items[i].StorageKey == "" {
			continue
		}
		signed, err := s.objects.DownloadURL(r.Context(), items[i].StorageKey, signedURLExpiry)
		if err != nil {
			s.logger.Warn("sign download url",
				zap.Int64("item_id", items[i].ID),
				zap.Error(err),
			)
			continue
		}
		items[i].StorageURL = signed
	}
	return items
}

// getItems lists persisted items. With all_items=true it pages through the
// whole store; with task_id it returns that task's items as a bare array.
func (s *Server) getItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	taskID := q.Get("task_id")
	allItems := parseFormBool(q.Get("all_items"))
	limit := intQuery(q.Get("limit"), 50)
	offset := intQuery(q.Get("offset"), 0)

	switch {
	case allItems:
		items, total, err := s.items.ListItems(r.Context(), scrape.ItemFilter{
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list items")
			return
		}
		items = s.withDownloadURLs(r, items)
		if items == nil {
			items = []scrape.Item{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items":  items,
			"total":  total,
			"limit":  limit,
			"offset": offset,
		})
	case taskID != "":
		items, _, err := s.items.ListItems(r.Context(), scrape.ItemFilter{
			TaskID: taskID,
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list items")
			return
		}
		items = s.withDownloadURLs(r, items)
		if items == nil {
			items = []scrape.Item{}
		}
		writeJSON(w, http.StatusOK, items)
	default:
		writeJSON(w, http.StatusOK, []scrape.Item{})
	}
}

func intQuery(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

var unsafeFilename = regexp.MustCompile(`[^a-zA-Z0-9 _-]+`)

func itemFilename(item scrape.Item, ext string) string {
	keyword := item.Keyword
	if len(keyword) > 50 {
		keyword = keyword[:50]
	}
	safe := unsafeFilename.ReplaceAllString(keyword, "_")
	safe = strings.ReplaceAll(safe, " ", "_")
	return fmt.Sprintf("%d_%s%s", item.ID, safe, ext)
}

// downloadTarget picks the best byte source for an item: a fresh signed
// storage URL, then the recorded storage URL, then the origin URL.
func (s *Server) downloadTarget(r *http.Request, item scrape.Item) string {
	if item.StorageKey != "" && s.objects != nil && s.objects.Available() {
		if signed, err := s.objects.DownloadURL(r.Context(), item.StorageKey, 24*time.Hour); err == nil {
			return signed
		}
	}
	if item.StorageURL != "" {
		return item.StorageURL
	}
	return item.URL
}

func extensionFor(item scrape.Item, contentTypeHeader string) (string, string) {
	switch item.ContentType {
	case scrape.ContentTypeDocument:
		return ".pdf", "application/pdf"
	case scrape.ContentTypeImage:
		haystack := strings.ToLower(item.URL + " " + contentTypeHeader)
		switch {
		case strings.Contains(haystack, "png"):
			return ".png", "image/png"
		case strings.Contains(haystack, "gif"):
			return ".gif", "image/gif"
		case strings.Contains(haystack, "webp"):
			return ".webp", "image/webp"
		default:
			return ".jpg", "image/jpeg"
		}
	default:
		return "", "application/octet-stream"
	}
}

// downloadItem proxies one item's bytes to the client. Videos are URL-only
// records and cannot be proxied.
func (s *Server) downloadItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "item_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	item, err := s.items.GetItem(r.Context(), itemID)
	if err != nil {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if item.ContentType == scrape.ContentTypeVideo {
		writeError(w, http.StatusBadRequest, "videos cannot be downloaded directly through this API")
		return
	}

	body, contentTypeHeader, status, err := s.fetchBytes(r, s.downloadTarget(r, item))
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	ext, mediaType := extensionFor(item, contentTypeHeader)
	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", itemFilename(item, ext)))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Write(body)
}

// fetchBytes downloads a URL fully, enforcing the configured size limit.
// The returned status is the HTTP status to report on error.
func (s *Server) fetchBytes(r *http.Request, url string) ([]byte, string, int, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, url, nil)
	if err != nil {
		return nil, "", http.StatusInternalServerError, fmt.Errorf("build download request: %w", err)
	}
	resp, err := s.download.Do(req)
	if err != nil {
		return nil, "", http.StatusGatewayTimeout, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", resp.StatusCode, fmt.Errorf("failed to fetch file: %d", resp.StatusCode)
	}

	maxSize := s.cfg.MaxDownloadBytes()
	reader := io.Reader(resp.Body)
	if maxSize > 0 {
		reader = io.LimitReader(resp.Body, maxSize+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", http.StatusInternalServerError, fmt.Errorf("read file: %w", err)
	}
	if maxSize > 0 && int64(len(body)) > maxSize {
		return nil, "", http.StatusRequestEntityTooLarge,
			fmt.Errorf("file too large (max %dMB)", s.cfg.Storage.MaxDownloadSizeMB)
	}
	return body, resp.Header.Get("Content-Type"), http.StatusOK, nil
}

// downloadBulk streams a ZIP of every document or image for one task.
func (s *Server) downloadBulk(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	taskID := q.Get("task_id")
	ct, ok := scrape.ParseContentType(q.Get("content_type"))
	if !ok {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("invalid content_type: %s", q.Get("content_type")))
		return
	}
	if ct == scrape.ContentTypeVideo {
		writeError(w, http.StatusBadRequest, "videos cannot be downloaded as ZIP files")
		return
	}

	items, _, err := s.items.ListItems(r.Context(), scrape.ItemFilter{
		TaskID:      taskID,
		ContentType: ct,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	if len(items) == 0 {
		writeError(w, http.StatusNotFound,
			fmt.Sprintf("no %s items found for this task", ct))
		return
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	added := 0
	for _, item := range items {
		body, contentTypeHeader, _, err := s.fetchBytes(r, s.downloadTarget(r, item))
		if err != nil {
			s.logger.Warn("skipping item in bulk download",
				zap.Int64("item_id", item.ID),
				zap.Error(err),
			)
			continue
		}
		ext, _ := extensionFor(item, contentTypeHeader)
		entry, err := zw.Create(itemFilename(item, ext))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to build zip")
			return
		}
		if _, err := entry.Write(body); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to build zip")
			return
		}
		added++
	}
	if err := zw.Close(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build zip")
		return
	}
	if added == 0 {
		writeError(w, http.StatusInternalServerError, "failed to download any files")
		return
	}

	filename := fmt.Sprintf("%s_%s_%dfiles.zip", ct, taskID, added)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Write(buf.Bytes())
}

// sourceFiles lists the CSV files behind a task: the uploaded names from the
// registry when available, otherwise the distinct files seen in the store.
func (s *Server) sourceFiles(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("task_id")
	if taskID == "" {
		writeJSON(w, http.StatusOK, map[string]any{"source_files": []string{}})
		return
	}
	if task, err := s.registry.Get(taskID); err == nil && len(task.Files) > 0 {
		writeJSON(w, http.StatusOK, map[string]any{"source_files": task.Files})
		return
	}
	files, err := s.items.SourceFiles(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list source files")
		return
	}
	if files == nil {
		files = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"source_files": files})
}

// downloadSourceFileCSV exports every item recorded for one uploaded file as
// CSV, restricted to the keywords of the newest (or given) task so stale
// keywords from older versions of the file are excluded.
func (s *Server) downloadSourceFileCSV(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sourceFile := q.Get("source_file")
	if sourceFile == "" {
		writeError(w, http.StatusBadRequest, "source_file is required")
		return
	}

	taskID := q.Get("task_id")
	if taskID == "" {
		latest, err := s.items.LatestTaskForFile(r.Context(), sourceFile)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to resolve task")
			return
		}
		taskID = latest
	}

	var keywords []string
	if taskID != "" {
		var err error
		keywords, err = s.items.KeywordsForFileTask(r.Context(), sourceFile, taskID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to resolve keywords")
			return
		}
	}

	items, _, err := s.items.ListItems(r.Context(), scrape.ItemFilter{
		SourceFile: sourceFile,
		Keywords:   keywords,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	if len(items) == 0 {
		writeError(w, http.StatusNotFound,
			fmt.Sprintf("no items found for source file: %s", sourceFile))
		return
	}
	// ListItems returns newest first; the export reads better oldest first.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	cw.Write([]string{
		"id", "keyword", "scraped_url", "content_type", "title",
		"task_id", "source_file", "created_at",
		"storage_download_url", "storage_key",
	})
	for _, item := range items {
		downloadURL := ""
		if item.StorageKey != "" && s.objects != nil && s.objects.Available() {
			if signed, err := s.objects.DownloadURL(r.Context(), item.StorageKey, signedURLExpiry); err == nil {
				downloadURL = signed
			}
		}
		cw.Write([]string{
			strconv.FormatInt(item.ID, 10),
			item.Keyword,
			item.URL,
			string(item.ContentType),
			item.Title,
			item.TaskID,
			item.SourceFile,
			item.CreatedAt.Format(time.RFC3339),
			downloadURL,
			item.StorageKey,
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build csv")
		return
	}

	base := strings.TrimSuffix(sourceFile, ".csv")
	filename := base + "_scraped_data.csv"
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Write(buf.Bytes())
}

// downloadVideoCSV exports a task's video URLs as a minimal CSV.
func (s *Server) downloadVideoCSV(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("task_id")
	items, _, err := s.items.ListItems(r.Context(), scrape.ItemFilter{
		TaskID:      taskID,
		ContentType: scrape.ContentTypeVideo,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	if len(items) == 0 {
		writeError(w, http.StatusNotFound, "no video items found for this task")
		return
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	cw.Write([]string{"ID", "Keyword", "URL"})
	for _, item := range items {
		cw.Write([]string{strconv.FormatInt(item.ID, 10), item.Keyword, item.URL})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build csv")
		return
	}

	filename := fmt.Sprintf("Videos_%s_%ditems.csv", taskID, len(items))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Write(buf.Bytes())
}
