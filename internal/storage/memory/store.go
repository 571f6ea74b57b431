// Package memory provides an in-memory object store for development and tests.
package memory

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/assetblue/scraping-pipeline/internal/scrape"
	"github.com/assetblue/scraping-pipeline/internal/storage/gcs"
)

// Store keeps mirrored objects in a map. Uploads from a URL record the
// metadata without fetching bytes; local files are read fully.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New constructs an empty Store.
func New() *Store {
	return &Store{objects: make(map[string][]byte)}
}

// Available always reports true.
func (s *Store) Available() bool { return true }

// Upload records one object under the same key scheme as the GCS store.
func (s *Store) Upload(ctx context.Context, src scrape.UploadSource) (string, string, error) {
	var data []byte
	ext := ""
	if src.LocalPath != "" {
		b, err := os.ReadFile(src.LocalPath)
		if err != nil {
			return "", "", fmt.Errorf("read media file: %w", err)
		}
		data = b
	}
	key := gcs.ObjectKey(src.ContentType, src.ItemID, src.Keyword, ext)

	s.mu.Lock()
	s.objects[key] = data
	s.mu.Unlock()
	return "memory://" + key, key, nil
}

// DownloadURL returns a stable pseudo-URL for a stored key.
func (s *Store) DownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return "", scrape.ErrItemNotFound
	}
	return "memory://" + key, nil
}

// Object returns the stored bytes for a key.
func (s *Store) Object(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	return data, ok
}

// Len reports how many objects are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// ServeObject writes a stored object to an HTTP response, for dev setups
// that stand in for a bucket endpoint.
func (s *Store) ServeObject(w http.ResponseWriter, key string) {
	data, ok := s.Object(key)
	if !ok {
		http.Error(w, "object not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}
