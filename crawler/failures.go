package crawler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aluiziolira/go-crawl-news/models"
)

// WriteFailed stores failed URLs as a JSON array for inspection and for
// seeding a later run.
func WriteFailed(path string, failed []models.FailedURL) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if failed == nil {
		failed = []models.FailedURL{}
	}
	data, err := json.MarshalIndent(failed, "", "  ")
	if err != nil {
		return fmt.Errorf("encode failed urls: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write failed urls: %w", err)
	}
	return nil
}

// LoadSeeds reads a file written by WriteFailed and returns one record per
// failed article URL. Listing page failures are skipped.
func LoadSeeds(path string) ([]models.DiscoveredRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &models.ConfigError{Field: "seed_file", Err: err}
	}

	var failed []models.FailedURL
	if err := json.Unmarshal(data, &failed); err != nil {
		return nil, &models.ConfigError{Field: "seed_file", Err: fmt.Errorf("decode %s: %w", path, err)}
	}

	seeds := make([]models.DiscoveredRecord, 0, len(failed))
	for _, f := range failed {
		if f.URL == "" || f.Stage == models.StageListing {
			continue
		}
		seeds = append(seeds, models.DiscoveredRecord{URL: f.URL})
	}
	return seeds, nil
}
