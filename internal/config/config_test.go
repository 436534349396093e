package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("NOTION_TOKEN", "tok")
	t.Setenv("GIN_MODE", "")
	t.Setenv("EXPORT_POLL_INTERVAL_MS", "")
	t.Setenv("ASYNC_JOBS_ENABLED", "")
	for _, key := range []string{"NOTION_API_BASE_URL", "NOTION_HTTP_TIMEOUT_SECONDS", "PORT", "JOB_EXPIRE_MINUTES", "QUEUE_REDIS_URL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "tok", cfg.NotionToken)
	assert.Equal(t, "https://www.notion.so/api/v3/", cfg.NotionAPIBaseURL)
	assert.Equal(t, 50*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, time.Duration(0), cfg.NotionHTTPTimeout)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "debug", cfg.GinMode)
	assert.Equal(t, 10, cfg.JobExpireMinutes)
	assert.True(t, cfg.AsyncEnabled())
}

func TestLoadOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("NOTION_TOKEN", "tok")
	t.Setenv("EXPORT_POLL_INTERVAL_MS", "250")
	t.Setenv("NOTION_HTTP_TIMEOUT_SECONDS", "30")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("QUEUE_CONCURRENCY", "not-a-number")
	t.Setenv("QUEUE_REDIS_URL", "")
	t.Setenv("ASYNC_JOBS_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.NotionHTTPTimeout)
	assert.InDelta(t, 2.5, cfg.RateLimitRPS, 1e-9)
	assert.Equal(t, 4, cfg.QueueConcurrency)
	assert.Equal(t, "redis://127.0.0.1:6379/0", cfg.QueueRedisURL)
	assert.False(t, cfg.AsyncEnabled())
}

func TestValidate(t *testing.T) {
	base := Config{NotionToken: "tok", PollInterval: 50 * time.Millisecond, GinMode: "debug"}
	require.NoError(t, base.Validate())

	missingToken := base
	missingToken.NotionToken = "  "
	assert.Error(t, missingToken.Validate())

	badInterval := base
	badInterval.PollInterval = 0
	assert.Error(t, badInterval.Validate())

	release := base
	release.GinMode = "release"
	assert.Error(t, release.Validate())

	release.AppUsername = "admin"
	release.AppPasswordHash = "$2a$10$hash"
	release.SessionSecret = "secret"
	assert.NoError(t, release.Validate())

	async := base
	async.AsyncJobs = true
	assert.Error(t, async.Validate())
	assert.False(t, async.AsyncEnabled())

	async.QueueRedisURL = "redis://localhost:6379/0"
	assert.NoError(t, async.Validate())
	assert.True(t, async.AsyncEnabled())
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
