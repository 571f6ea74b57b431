package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	require.Equal(t, 2, cfg.Scraper.MaxResultsPerKeyword)
	require.Equal(t, 10, cfg.Scraper.MaxDocumentResults)
	require.Equal(t, 3, cfg.Scraper.OverfetchFactor)
	require.Equal(t, 16, cfg.Scraper.QueueDepth)
	require.Equal(t, "https://www.bing.com", cfg.Sources.BingBaseURL)
	require.Equal(t, "yt-dlp", cfg.Sources.YtdlpBinary)
	require.Equal(t, "scraped_items", cfg.DB.Table)
	require.False(t, cfg.Storage.Enabled)
	require.False(t, cfg.PubSub.Enabled)
	require.False(t, cfg.Auth.Enabled)
	require.True(t, cfg.Logging.Development)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SCRAPER_SERVER_PORT", "9999")
	t.Setenv("SCRAPER_SCRAPER_MAX_RESULTS_PER_KEYWORD", "5")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.Server.Port)
	require.Equal(t, 5, cfg.Scraper.MaxResultsPerKeyword)
}

func validConfig() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		Scraper: ScraperConfig{
			MaxResultsPerKeyword: 2,
			MaxDocumentResults:   10,
			OverfetchFactor:      3,
		},
		Sources: SourcesConfig{TimeoutSeconds: 30},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, validConfig().Validate())

	cfg := validConfig()
	cfg.Server.Port = 0
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Scraper.MaxResultsPerKeyword = 0
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Storage.Enabled = true
	require.Error(t, cfg.Validate())
	cfg.Storage.GCSBucket = "bucket"
	require.NoError(t, cfg.Validate())

	cfg = validConfig()
	cfg.PubSub.Enabled = true
	cfg.PubSub.ProjectID = "project"
	require.Error(t, cfg.Validate())
	cfg.PubSub.TopicName = "topic"
	require.NoError(t, cfg.Validate())

	cfg = validConfig()
	cfg.Auth.Enabled = true
	require.Error(t, cfg.Validate())
	cfg.Auth.APIKey = "secret"
	require.NoError(t, cfg.Validate())

	cfg = validConfig()
	cfg.Headless.Enabled = true
	require.Error(t, cfg.Validate())
	cfg.Headless.MaxParallel = 2
	require.NoError(t, cfg.Validate())
}

func TestDerivedValues(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	require.Equal(t, 30*time.Second, cfg.SourceTimeout())

	cfg.Storage.MaxDownloadSizeMB = 2
	require.Equal(t, int64(2*1024*1024), cfg.MaxDownloadBytes())
}
