// Package image searches Bing Images through its async HTML endpoint.
package image

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/assetblue/scraping-pipeline/internal/scrape"
)

// DefaultBlockedDomains are hosts whose results are never relevant to the
// industrial keyword lists this service scrapes (gaming, social media,
// meme and stock-photo aggregators).
var DefaultBlockedDomains = []string{
	"gamespot.com", "steam.com", "steampowered.com", "gog.com",
	"epicgames.com", "twitch.tv", "youtube.com", "facebook.com",
	"twitter.com", "x.com", "instagram.com", "reddit.com",
	"imgur.com", "pinterest.com", "flickr.com", "deviantart.com",
	"tumblr.com", "9gag.com", "memegenerator.net",
}

// DefaultBlockedTerms mark result pages as entertainment content.
var DefaultBlockedTerms = []string{
	"game", "gaming", "gamer", "video game", "pc game", "console",
	"playstation", "xbox", "nintendo", "esports", "twitch",
	"stream", "livestream", "esport",
}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp"}

// Config controls the Bing image search adapter.
type Config struct {
	// BaseURL overrides the Bing endpoint, used by tests.
	BaseURL        string
	UserAgent      string
	Timeout        time.Duration
	PageSize       int
	MaxPages       int
	PageDelay      time.Duration
	BlockedDomains []string
	BlockedTerms   []string
}

// Renderer renders a result page with a real browser. Used as a fallback
// when the async endpoint returns a script shell with no result markup.
type Renderer interface {
	Render(ctx context.Context, url string) ([]byte, error)
}

// Adapter scrapes the Bing Images async endpoint with a colly collector.
type Adapter struct {
	cfg       Config
	collector *colly.Collector
	renderer  Renderer
	logger    *zap.Logger
}

// New constructs an image Adapter.
func New(cfg Config, logger *zap.Logger) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.bing.com"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/115.0.0.0 Safari/537.36"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 35
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	if cfg.BlockedDomains == nil {
		cfg.BlockedDomains = DefaultBlockedDomains
	}
	if cfg.BlockedTerms == nil {
		cfg.BlockedTerms = DefaultBlockedTerms
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false))
	c.UserAgent = cfg.UserAgent
	c.IgnoreRobotsTxt = true
	c.SetRequestTimeout(cfg.Timeout)

	return &Adapter{cfg: cfg, collector: c, logger: logger}
}

// WithRenderer attaches a headless fallback renderer.
func (a *Adapter) WithRenderer(r Renderer) *Adapter {
	a.renderer = r
	return a
}

// resultMeta is the JSON blob Bing embeds in each result anchor's m attribute.
type resultMeta struct {
	MediaURL    string `json:"murl"`
	PageURL     string `json:"purl"`
	Title       string `json:"t"`
	Description string `json:"desc"`
}

// Search pages through Bing image results until maxResults candidates pass
// the domain and term filters.
func (a *Adapter) Search(ctx context.Context, keyword string, maxResults int) ([]scrape.Candidate, error) {
	if maxResults <= 0 {
		maxResults = 1
	}
	pages := maxResults/a.cfg.PageSize + 1
	if pages > a.cfg.MaxPages {
		pages = a.cfg.MaxPages
	}

	var candidates []scrape.Candidate
	seen := make(map[string]struct{})

	for page := 0; page < pages && len(candidates) < maxResults; page++ {
		if page > 0 && a.cfg.PageDelay > 0 {
			select {
			case <-ctx.Done():
				return candidates, ctx.Err()
			case <-time.After(a.cfg.PageDelay):
			}
		}

		body, err := a.fetchPage(ctx, keyword, page*a.cfg.PageSize)
		if err != nil {
			if page == 0 {
				return nil, err
			}
			a.logger.Warn("bing page fetch failed",
				zap.String("keyword", keyword),
				zap.Int("page", page),
				zap.Error(err),
			)
			break
		}

		parsed, err := a.parsePage(body, keyword)
		if err != nil {
			return candidates, err
		}
		if len(parsed) == 0 && page == 0 && a.renderer != nil {
			target := a.pageURL(keyword, 0)
			rendered, rerr := a.renderer.Render(ctx, target)
			if rerr != nil {
				a.logger.Warn("headless render failed",
					zap.String("keyword", keyword),
					zap.Error(rerr),
				)
			} else if parsed, err = a.parsePage(rendered, keyword); err != nil {
				return candidates, err
			}
		}
		for _, cand := range parsed {
			if len(candidates) >= maxResults {
				break
			}
			if _, dup := seen[cand.URL]; dup {
				continue
			}
			seen[cand.URL] = struct{}{}
			candidates = append(candidates, cand)
		}
	}
	return candidates, nil
}

func (a *Adapter) pageURL(keyword string, offset int) string {
	return fmt.Sprintf("%s/images/async?q=%s&first=%d&count=%d&adlt=off",
		a.cfg.BaseURL, url.QueryEscape(keyword), offset, a.cfg.PageSize)
}

func (a *Adapter) fetchPage(ctx context.Context, keyword string, offset int) ([]byte, error) {
	target := a.pageURL(keyword, offset)

	var body []byte
	var fetchErr error

	collector := a.collector.Clone()
	collector.UserAgent = a.cfg.UserAgent
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(a.cfg.Timeout)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("bing fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("bing visit failed: %w", err)
		}
		if fetchErr != nil {
			return nil, fmt.Errorf("bing response failed: %w", fetchErr)
		}
	}
	return body, nil
}

func (a *Adapter) parsePage(body []byte, keyword string) ([]scrape.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse bing page: %w", err)
	}

	var candidates []scrape.Candidate
	doc.Find("a.iusc").Each(func(_ int, sel *goquery.Selection) {
		raw, ok := sel.Attr("m")
		if !ok {
			return
		}
		var meta resultMeta
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return
		}
		if !hasImageExtension(meta.MediaURL) {
			return
		}
		if a.blockedDomain(meta.MediaURL) || a.blockedDomain(meta.PageURL) {
			return
		}
		if a.blockedTerms(meta.Title, meta.Description, meta.PageURL) {
			return
		}

		title := meta.Title
		if title == "" {
			title = keyword
		}
		desc := meta.Description
		if desc == "" {
			desc = "Image result for: " + keyword
		}
		candidates = append(candidates, scrape.Candidate{
			URL:         meta.MediaURL,
			Title:       title,
			Description: desc,
		})
	})
	return candidates, nil
}

func hasImageExtension(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func (a *Adapter) blockedDomain(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, blocked := range a.cfg.BlockedDomains {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return true
		}
	}
	return false
}

func (a *Adapter) blockedTerms(title, desc, pageURL string) bool {
	haystack := strings.ToLower(title + " " + desc + " " + pageURL)
	for _, term := range a.cfg.BlockedTerms {
		if strings.Contains(haystack, term) {
			return true
		}
	}
	return false
}

// Close is a no-op; the collector holds no persistent connections.
func (a *Adapter) Close() error { return nil }
