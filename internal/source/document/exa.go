// Package document searches for PDF documents through the Exa search API.
package document

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/assetblue/scraping-pipeline/internal/scrape"
)

// Config controls the Exa client.
type Config struct {
	// BaseURL overrides the API endpoint, used by tests.
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Adapter queries Exa with several phrasings per keyword and keeps only
// direct PDF links.
type Adapter struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New constructs a document Adapter. An empty API key yields an adapter
// whose searches fail; the orchestrator treats that as zero results.
func New(cfg Config, logger *zap.Logger) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.exa.ai"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type searchRequest struct {
	Query      string `json:"query"`
	NumResults int    `json:"numResults"`
}

type searchResponse struct {
	Results []struct {
		URL   string `json:"url"`
		Title string `json:"title"`
		Text  string `json:"text"`
	} `json:"results"`
}

// Search runs the query variants in order and collects unique PDF URLs
// until maxResults are found. The variants broaden recall: semantic search
// does not honor filetype operators reliably, so results are filtered to
// .pdf links afterwards.
func (a *Adapter) Search(ctx context.Context, keyword string, maxResults int) ([]scrape.Candidate, error) {
	if a.cfg.APIKey == "" {
		return nil, fmt.Errorf("exa api key is not configured")
	}
	if maxResults <= 0 {
		maxResults = 1
	}

	queries := []string{
		keyword + " filetype:pdf",
		keyword + " PDF",
		keyword + " PDF document",
	}

	var candidates []scrape.Candidate
	seen := make(map[string]struct{})

	for i, query := range queries {
		if len(candidates) >= maxResults {
			break
		}
		results, err := a.search(ctx, query, maxResults*3)
		if err != nil {
			if i == 0 {
				return nil, err
			}
			a.logger.Warn("exa query failed",
				zap.String("keyword", keyword),
				zap.String("query", query),
				zap.Error(err),
			)
			continue
		}
		for _, result := range results.Results {
			if len(candidates) >= maxResults {
				break
			}
			cleanURL, ok := pdfURL(result.URL)
			if !ok {
				continue
			}
			if _, dup := seen[cleanURL]; dup {
				continue
			}
			seen[cleanURL] = struct{}{}

			title := strings.TrimSpace(result.Title)
			if len(title) > 200 {
				title = title[:200]
			}
			if title == "" {
				title = keyword
			}
			desc := strings.TrimSpace(result.Text)
			if len(desc) > 500 {
				desc = desc[:500]
			}
			if desc == "" {
				desc = "PDF document for: " + keyword
			}
			candidates = append(candidates, scrape.Candidate{
				URL:         cleanURL,
				Title:       title,
				Description: desc,
			})
		}
	}
	return candidates, nil
}

func (a *Adapter) search(ctx context.Context, query string, numResults int) (*searchResponse, error) {
	payload, err := json.Marshal(searchRequest{Query: query, NumResults: numResults})
	if err != nil {
		return nil, fmt.Errorf("marshal exa request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.cfg.BaseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build exa request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.cfg.APIKey)

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exa search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("exa search: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode exa response: %w", err)
	}
	return &parsed, nil
}

// pdfURL strips query and fragment and reports whether the remainder is a
// direct http(s) PDF link.
func pdfURL(raw string) (string, bool) {
	clean := raw
	if i := strings.IndexAny(clean, "?#"); i >= 0 {
		clean = clean[:i]
	}
	if !strings.HasPrefix(clean, "http") {
		return "", false
	}
	if !strings.HasSuffix(strings.ToLower(clean), ".pdf") {
		return "", false
	}
	return clean, true
}

// Close is a no-op; the adapter holds only an HTTP client.
func (a *Adapter) Close() error { return nil }
