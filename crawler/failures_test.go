package crawler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aluiziolira/go-crawl-news/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFailedThenLoadSeeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "failed.json")
	failed := []models.FailedURL{
		{URL: "https://news.test/a", Kind: "proxy_error", Reason: "502"},
		{URL: "", Kind: "other"},
		{URL: "https://news.test/b", Kind: "extraction", Reason: "no body"},
	}
	require.NoError(t, WriteFailed(path, failed))

	seeds, err := LoadSeeds(path)
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	assert.Equal(t, "https://news.test/a", seeds[0].URL)
	assert.Equal(t, "https://news.test/b", seeds[1].URL)
}

func TestLoadSeedsSkipsListingPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failed.json")
	failed := []models.FailedURL{
		{URL: "https://news.test/world", Stage: models.StageListing, Kind: "proxy_error"},
		{URL: "https://news.test/world/a", Stage: models.StageArticle, Kind: "timeout"},
	}
	require.NoError(t, WriteFailed(path, failed))

	seeds, err := LoadSeeds(path)
	require.NoError(t, err)
	require.Len(t, seeds, 1)
	assert.Equal(t, "https://news.test/world/a", seeds[0].URL)
}

func TestWriteFailedEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failed.json")
	require.NoError(t, WriteFailed(path, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}

func TestLoadSeedsErrors(t *testing.T) {
	_, err := LoadSeeds(filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, models.IsConfigError(err))

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = LoadSeeds(bad)
	assert.True(t, models.IsConfigError(err))
}
