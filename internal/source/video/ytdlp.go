// Package video searches YouTube through the yt-dlp command line tool.
package video

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/assetblue/scraping-pipeline/internal/scrape"
)

// Config controls the yt-dlp invocation.
type Config struct {
	// Binary is the yt-dlp executable name or path.
	Binary string
	// SearchTimeout bounds one search invocation.
	SearchTimeout time.Duration
	// DownloadTimeout bounds one media download.
	DownloadTimeout time.Duration
	// MaxFileBytes caps downloaded media size. Zero means unlimited.
	MaxFileBytes int64
}

// Adapter shells out to yt-dlp for search and media download.
type Adapter struct {
	cfg    Config
	logger *zap.Logger
}

// New constructs a video Adapter.
func New(cfg Config, logger *zap.Logger) *Adapter {
	if cfg.Binary == "" {
		cfg.Binary = "yt-dlp"
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = 30 * time.Second
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{cfg: cfg, logger: logger}
}

// videoInfo is the subset of yt-dlp's --dump-json output we read.
type videoInfo struct {
	WebpageURL  string `json:"webpage_url"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Search runs a ytsearch query and parses the NDJSON result stream.
func (a *Adapter) Search(ctx context.Context, keyword string, maxResults int) ([]scrape.Candidate, error) {
	if maxResults <= 0 {
		maxResults = 1
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.SearchTimeout)
	defer cancel()

	query := fmt.Sprintf("ytsearch%d:%s", maxResults, keyword)
	cmd := exec.CommandContext(ctx, a.cfg.Binary,
		query,
		"--dump-json",
		"--no-playlist",
		"--default-search", "ytsearch",
		"--quiet",
		"--no-warnings",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("yt-dlp search %q: %w (%s)", keyword, err, firstLine(stderr.Bytes()))
	}

	var candidates []scrape.Candidate
	scanner := bufio.NewScanner(&stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var info videoInfo
		if err := json.Unmarshal(line, &info); err != nil {
			a.logger.Debug("skipping unparseable yt-dlp line", zap.Error(err))
			continue
		}
		if info.WebpageURL == "" {
			continue
		}
		desc := info.Description
		if len(desc) > 500 {
			desc = desc[:500]
		}
		candidates = append(candidates, scrape.Candidate{
			URL:         info.WebpageURL,
			Title:       info.Title,
			Description: desc,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read yt-dlp output: %w", err)
	}
	return candidates, nil
}

// DownloadMedia fetches the video into a temp file and returns its path.
// The caller removes the file; the containing temp dir goes with it.
func (a *Adapter) DownloadMedia(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.DownloadTimeout)
	defer cancel()

	dir, err := os.MkdirTemp("", "video-mirror-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}

	args := []string{
		url,
		"-f", "best[ext=mp4]/best",
		"-o", filepath.Join(dir, "video.%(ext)s"),
		"--no-playlist",
		"--quiet",
		"--no-warnings",
	}
	if a.cfg.MaxFileBytes > 0 {
		args = append(args, "--max-filesize", fmt.Sprintf("%d", a.cfg.MaxFileBytes))
	}
	cmd := exec.CommandContext(ctx, a.cfg.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("yt-dlp download %s: %w (%s)", url, err, firstLine(stderr.Bytes()))
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) == 0 {
		os.RemoveAll(dir)
		return "", fmt.Errorf("yt-dlp produced no file for %s", url)
	}
	return filepath.Join(dir, entries[0].Name()), nil
}

// Close is a no-op; each invocation is a fresh process.
func (a *Adapter) Close() error { return nil }

func firstLine(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	return string(bytes.TrimSpace(b))
}
