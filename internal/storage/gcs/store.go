// Package gcs mirrors scraped content into a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/assetblue/scraping-pipeline/internal/scrape"
)

// Config controls the bucket and download behavior for mirroring.
type Config struct {
	Bucket string
	// PublicBaseURL, when set, prefixes object keys into directly
	// servable URLs (a CDN or public-bucket endpoint).
	PublicBaseURL string
	// MaxObjectBytes rejects source content larger than this. Zero means
	// no limit.
	MaxObjectBytes int64
	RequestTimeout time.Duration
}

// Store uploads discovered content into GCS under type-prefixed keys.
type Store struct {
	client  *storage.Client
	bucket  string
	baseURL string
	maxSize int64
	http    *http.Client
	logger  *zap.Logger
}

// New initializes the GCS client and verifies bucket access. Authentication
// uses Application Default Credentials.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage.bucket is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		if cerr := client.Close(); cerr != nil {
			logger.Warn("close gcs client after attrs failure", zap.Error(cerr))
		}
		return nil, fmt.Errorf("access gcs bucket %q: %w", cfg.Bucket, err)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Store{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		maxSize: cfg.MaxObjectBytes,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// Available reports whether the store can accept uploads.
func (s *Store) Available() bool {
	return s != nil && s.client != nil
}

// Close releases the GCS client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var keywordSafe = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// ObjectKey builds the bucket key for one mirrored item:
// {documents|images|videos}/item_{id}_{keyword}{ext}.
func ObjectKey(ct scrape.ContentType, itemID int64, keyword, ext string) string {
	dir := string(ct) + "s"
	slug := keywordSafe.ReplaceAllString(strings.TrimSpace(keyword), "_")
	if len(slug) > 50 {
		slug = slug[:50]
	}
	return fmt.Sprintf("%s/item_%d_%s%s", dir, itemID, slug, ext)
}

func defaultExt(ct scrape.ContentType) string {
	switch ct {
	case scrape.ContentTypeDocument:
		return ".pdf"
	case scrape.ContentTypeImage:
		return ".jpg"
	case scrape.ContentTypeVideo:
		return ".mp4"
	default:
		return ""
	}
}

func contentTypeFor(ext string) string {
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Upload mirrors one item's bytes into the bucket. The source is either a
// local file produced by a media downloader or the item URL fetched over
// HTTP. Returns the servable URL and object key.
func (s *Store) Upload(ctx context.Context, src scrape.UploadSource) (string, string, error) {
	if !s.Available() {
		return "", "", fmt.Errorf("gcs store is not configured")
	}

	var reader io.ReadCloser
	var ext string
	var err error
	if src.LocalPath != "" {
		reader, ext, err = s.openLocal(src.LocalPath)
	} else {
		reader, ext, err = s.fetch(ctx, src.URL)
	}
	if err != nil {
		return "", "", err
	}
	defer reader.Close()

	if ext == "" {
		ext = defaultExt(src.ContentType)
	}
	key := ObjectKey(src.ContentType, src.ItemID, src.Keyword, ext)

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentTypeFor(ext)

	limit := io.Reader(reader)
	if s.maxSize > 0 {
		limit = io.LimitReader(reader, s.maxSize+1)
	}
	n, err := io.Copy(w, limit)
	if err != nil {
		if cerr := w.Close(); cerr != nil {
			s.logger.Warn("close gcs writer after copy failure", zap.Error(cerr))
		}
		return "", "", fmt.Errorf("write object %s: %w", key, err)
	}
	if s.maxSize > 0 && n > s.maxSize {
		if cerr := w.Close(); cerr != nil {
			s.logger.Warn("close gcs writer after size rejection", zap.Error(cerr))
		}
		if derr := s.client.Bucket(s.bucket).Object(key).Delete(context.WithoutCancel(ctx)); derr != nil {
			s.logger.Warn("delete oversized object", zap.String("key", key), zap.Error(derr))
		}
		return "", "", fmt.Errorf("object %s exceeds %d bytes", key, s.maxSize)
	}
	if err := w.Close(); err != nil {
		return "", "", fmt.Errorf("finalize object %s: %w", key, err)
	}

	publicURL := ""
	if s.baseURL != "" {
		publicURL = s.baseURL + "/" + key
	}
	return publicURL, key, nil
}

func (s *Store) openLocal(path string) (io.ReadCloser, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open media file: %w", err)
	}
	if s.maxSize > 0 {
		if info, err := f.Stat(); err == nil && info.Size() > s.maxSize {
			f.Close()
			return nil, "", fmt.Errorf("media file %s exceeds %d bytes", path, s.maxSize)
		}
	}
	return f, strings.ToLower(extOf(path)), nil
}

func (s *Store) fetch(ctx context.Context, rawURL string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", fmt.Errorf("download %s: status %d", rawURL, resp.StatusCode)
	}
	if s.maxSize > 0 && resp.ContentLength > s.maxSize {
		resp.Body.Close()
		return nil, "", fmt.Errorf("download %s: %d bytes exceeds limit", rawURL, resp.ContentLength)
	}

	ext := ""
	if u, err := url.Parse(rawURL); err == nil {
		ext = strings.ToLower(extOf(u.Path))
	}
	if ext == "" {
		if media, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil {
			if exts, _ := mime.ExtensionsByType(media); len(exts) > 0 {
				ext = exts[0]
			}
		}
	}
	return resp.Body, ext, nil
}

func extOf(p string) string {
	ext := path.Ext(p)
	// Query fragments occasionally survive into path extensions.
	if i := strings.IndexAny(ext, "?&"); i >= 0 {
		ext = ext[:i]
	}
	return ext
}

// DownloadURL mints a V4 signed URL for a stored object.
func (s *Store) DownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if !s.Available() {
		return "", fmt.Errorf("gcs store is not configured")
	}
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	signed, err := s.client.Bucket(s.bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(expiry),
	})
	if err != nil {
		return "", fmt.Errorf("sign url for %s: %w", key, err)
	}
	return signed, nil
}
