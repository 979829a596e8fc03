package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Ceilings.MaxIterations)
	assert.Equal(t, 5, cfg.Ceilings.MaxConsecutiveDeepDives)
	assert.Equal(t, 15, cfg.Ceilings.MaxActionsPerDeepDiveCycle)
	assert.Equal(t, 50, cfg.Ceilings.CrawlPageCap)
	assert.Equal(t, 4, cfg.Research.ConcurrentScrapeLimit)
	assert.Equal(t, 10, cfg.Research.MaxResultsPerQuery)
	assert.Equal(t, 15, cfg.Research.MaxDocsForReview)
	assert.Equal(t, 5000, cfg.Research.MaxReviewerSnippetLength)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 60*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 5, cfg.Scope.LookbackYears)
	assert.Equal(t, "runs", cfg.OutputDir)
	assert.Equal(t, "prospector", cfg.Temporal.TaskQueue)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prospector.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ceilings:
  max_iterations: 3
  crawl_page_cap: 20
models:
  reasoning: custom-reasoner
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Ceilings.MaxIterations)
	assert.Equal(t, 20, cfg.Ceilings.CrawlPageCap)
	assert.Equal(t, "custom-reasoner", cfg.Models.Reasoning)
	// Untouched values keep their defaults.
	assert.Equal(t, 5, cfg.Ceilings.MaxConsecutiveDeepDives)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PROSPECTOR_CEILINGS_MAX_ITERATIONS", "7")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Ceilings.MaxIterations)
}

func TestValidateRejectsNonTerminatingConfig(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Ceilings.MaxIterations = 0
	assert.Error(t, cfg.Validate())

	cfg, _ = Load("")
	cfg.Ceilings.MaxActionsPerDeepDiveCycle = -1
	assert.Error(t, cfg.Validate())
}

func TestManagerHotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prospector.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ceilings:\n  max_iterations: 4\n"), 0o644))

	m, err := NewManager(path, zap.NewNop())
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 4, m.Get().Ceilings.MaxIterations)

	require.NoError(t, os.WriteFile(path, []byte("ceilings:\n  max_iterations: 6\n"), 0o644))

	require.Eventually(t, func() bool {
		return m.Get().Ceilings.MaxIterations == 6
	}, 3*time.Second, 20*time.Millisecond)
}

func TestManagerRejectsInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prospector.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ceilings:\n  max_iterations: 4\n"), 0o644))

	m, err := NewManager(path, zap.NewNop())
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, os.WriteFile(path, []byte("ceilings:\n  max_iterations: 0\n"), 0o644))

	// The invalid file must never become active.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 4, m.Get().Ceilings.MaxIterations)
}
