// Package source maps content types to their search adapters.
//
// Each adapter is consumed only through the scrape.SourceAdapter contract, so
// adding a fourth source means registering one more adapter; the orchestrator
// never changes.
package source

import (
	"errors"
	"fmt"

	"github.com/assetblue/scraping-pipeline/internal/scrape"
)

// Set is the collection of adapters opened for one scraping run.
type Set struct {
	adapters map[scrape.ContentType]scrape.SourceAdapter
}

// NewSet constructs an empty adapter set.
func NewSet() *Set {
	return &Set{adapters: make(map[scrape.ContentType]scrape.SourceAdapter)}
}

// Register binds an adapter to a content type, replacing any previous one.
func (s *Set) Register(ct scrape.ContentType, adapter scrape.SourceAdapter) {
	s.adapters[ct] = adapter
}

// Get returns the adapter for a content type.
func (s *Set) Get(ct scrape.ContentType) (scrape.SourceAdapter, bool) {
	adapter, ok := s.adapters[ct]
	return adapter, ok
}

// Downloader returns the media downloader for a content type when its
// adapter provides one (content that must be fetched through the adapter
// before mirroring, e.g. video).
func (s *Set) Downloader(ct scrape.ContentType) (scrape.MediaDownloader, bool) {
	adapter, ok := s.adapters[ct]
	if !ok {
		return nil, false
	}
	dl, ok := adapter.(scrape.MediaDownloader)
	return dl, ok
}

// Close closes every registered adapter. Called on every run exit path.
func (s *Set) Close() error {
	var errs []error
	for ct, adapter := range s.adapters {
		if err := adapter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s adapter: %w", ct, err))
		}
	}
	return errors.Join(errs...)
}

// Factory builds a fresh adapter set for one run.
type Factory func() (*Set, error)
