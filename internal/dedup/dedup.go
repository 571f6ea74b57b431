// Package dedup filters content-source candidates against every URL already
// persisted, across all tasks and sessions. Dedup is global per content type:
// the same URL is never stored twice for one type, no matter which task or
// keyword discovered it.
package dedup

import (
	"context"
	"fmt"

	"github.com/assetblue/scraping-pipeline/internal/scrape"
)

// Deduplicator loads known-URL snapshots from the item store.
type Deduplicator struct {
	items scrape.ItemStore
}

// New constructs a Deduplicator.
func New(items scrape.ItemStore) *Deduplicator {
	return &Deduplicator{items: items}
}

// Snapshot loads the global URL set for each enabled content type plus an
// empty per-keyword set. Taken once before each keyword is processed.
func (d *Deduplicator) Snapshot(ctx context.Context, types []scrape.ContentType) (*Known, error) {
	global := make(map[scrape.ContentType]map[string]struct{}, len(types))
	for _, ct := range types {
		urls, err := d.items.URLsByType(ctx, ct)
		if err != nil {
			return nil, fmt.Errorf("load %s urls: %w", ct, err)
		}
		global[ct] = urls
	}
	return &Known{
		global:  global,
		keyword: make(map[string]struct{}),
	}, nil
}

// Known tracks URLs that must not be inserted again: the database snapshot
// per content type, plus URLs accepted earlier in the same keyword's
// processing (a single adapter call, or overlapping calls across types that
// resolve to the same underlying content, can repeat a URL the database scan
// did not yet know about).
type Known struct {
	global  map[scrape.ContentType]map[string]struct{}
	keyword map[string]struct{}
}

// Accept reports whether a candidate URL is new, recording it if so.
// First-seen wins; later duplicates are dropped with no error.
func (k *Known) Accept(ct scrape.ContentType, url string) bool {
	if url == "" {
		return false
	}
	if _, dup := k.keyword[url]; dup {
		return false
	}
	urls, ok := k.global[ct]
	if !ok {
		urls = make(map[string]struct{})
		k.global[ct] = urls
	}
	if _, dup := urls[url]; dup {
		return false
	}
	urls[url] = struct{}{}
	k.keyword[url] = struct{}{}
	return true
}
