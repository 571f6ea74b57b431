package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/assetblue/scraping-pipeline/internal/planner"
	"github.com/assetblue/scraping-pipeline/internal/runner"
	"github.com/assetblue/scraping-pipeline/internal/scrape"
)

// maxUploadBytes bounds the multipart form held in memory for keyword CSVs.
const maxUploadBytes = 64 << 20

// parseFormBool accepts the truthy spellings browsers and shell scripts send.
func parseFormBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

// uploadCSV accepts keyword CSV files and starts a new scraping task. Any
// task still processing is cancelled first; only one run is live at a time.
func (s *Server) uploadCSV(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	uploads := r.MultipartForm.File["files"]
	if len(uploads) == 0 {
		writeError(w, http.StatusBadRequest, "at least one CSV file is required")
		return
	}

	var files []planner.UploadedFile
	for _, header := range uploads {
		f, err := header.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("open file %s", header.Filename))
			return
		}
		defer f.Close()
		files = append(files, planner.UploadedFile{Name: header.Filename, Reader: f})
	}

	keywords, sources, err := planner.ExtractKeywords(files)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var enabled []scrape.ContentType
	if parseFormBool(r.FormValue("scrape_video")) {
		enabled = append(enabled, scrape.ContentTypeVideo)
	}
	if parseFormBool(r.FormValue("scrape_image")) {
		enabled = append(enabled, scrape.ContentTypeImage)
	}
	if parseFormBool(r.FormValue("scrape_document")) {
		enabled = append(enabled, scrape.ContentTypeDocument)
	}

	fileNames := make([]string, len(files))
	for i, file := range files {
		fileNames[i] = file.Name
	}

	plan, err := s.planner.Plan(r.Context(), keywords, sources, fileNames)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check existing keywords")
		return
	}

	// Supersede any live run; persisted items stay.
	if cancelled := s.registry.CancelAllProcessing(); len(cancelled) > 0 {
		s.logger.Info("cancelled superseded tasks", zap.Strings("task_ids", cancelled))
	}

	taskID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate task id")
		return
	}

	task := scrape.Task{
		ID:                  taskID,
		Status:              scrape.TaskStatusProcessing,
		Keywords:            plan.Keywords,
		Allowed:             plan.Allowed,
		KeywordSource:       plan.KeywordSource,
		Files:               plan.Files,
		EnabledTypes:        enabled,
		TotalKeywords:       len(plan.Keywords),
		ResumableMode:       plan.ResumableMode,
		NewKeywordCount:     plan.NewKeywordCount,
		SkippedKeywordCount: plan.SkippedKeywordCount,
		AllAlreadyScraped:   plan.AllAlreadyScraped,
		Submitted:           s.clock.Now(),
	}
	// The task outlives this request; its cancellation is owned by the
	// registry, not the HTTP context.
	s.registry.Create(context.Background(), task)

	if err := s.runner.Submit(taskID); err != nil {
		if errors.Is(err, runner.ErrQueueFull) {
			s.registry.Cancel(taskID)
			writeError(w, http.StatusServiceUnavailable, "task queue is full")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to submit task")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"task_id":                taskID,
		"total_keywords":         len(plan.Keywords),
		"files_processed":        len(files),
		"resumable_mode":         plan.ResumableMode,
		"new_keywords_count":     plan.NewKeywordCount,
		"skipped_keywords_count": plan.SkippedKeywordCount,
		"all_keywords_scraped":   plan.AllAlreadyScraped,
	})
}

// getProgress returns the live snapshot of one task.
func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	task, err := s.registry.Get(taskID)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// cancelTask requests cooperative cancellation of a running task.
func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	task, err := s.registry.Get(taskID)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if task.Status.IsTerminal() {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": fmt.Sprintf("Task %s is already %s", taskID, task.Status),
		})
		return
	}
	if _, err := s.registry.Cancel(taskID); err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Task %s cancelled successfully", taskID),
	})
}

// listTasks returns a summary of every known task keyed by id.
func (s *Server) listTasks(w http.ResponseWriter, _ *http.Request) {
	summaries := make(map[string]any)
	for _, task := range s.registry.List() {
		summaries[task.ID] = map[string]any{
			"status":                string(task.Status),
			"total_keywords":        task.TotalKeywords,
			"current_keyword_index": task.CurrentIndex,
			"files":                 task.Files,
			"document_count":        task.Counts.Documents,
			"image_count":           task.Counts.Images,
			"video_count":           task.Counts.Videos,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": summaries})
}

// clearDatabase cancels running tasks and deletes every persisted item.
func (s *Server) clearDatabase(w http.ResponseWriter, r *http.Request) {
	if cancelled := s.registry.CancelAllProcessing(); len(cancelled) > 0 {
		s.logger.Info("cancelled tasks before clearing database", zap.Strings("task_ids", cancelled))
	}

	deleted, err := s.items.DeleteAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("error clearing database: %v", err))
		return
	}
	message := fmt.Sprintf("Successfully deleted %d items from database", deleted)
	if deleted == 0 {
		message = "Database is already empty"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":       message,
		"deleted_count": deleted,
	})
}
