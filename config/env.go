package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProxyKeyEnv names the process-wide variable holding the proxy token.
const ProxyKeyEnv = "SCRAPEOPS_API_KEY"

// EnvString returns the trimmed value of key and whether it was set.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvBool parses key as a boolean.
func EnvBool(key string) (bool, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvDuration parses key as a Go duration.
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// ApplyEnv overlays CRAWLER_* variables and the proxy token onto c.
func (c *Config) ApplyEnv() error {
	if v, ok := EnvString(ProxyKeyEnv); ok {
		c.ProxyAPIKey = v
	}
	if v, ok := EnvString("CRAWLER_LISTING_URL"); ok {
		c.ListingURL = v
	}
	if v, ok := EnvString("CRAWLER_PROXY_ENDPOINT"); ok {
		c.ProxyEndpoint = v
	}
	if v, ok := EnvString("CRAWLER_SELECTOR_DIR"); ok {
		c.SelectorDir = v
	}
	if v, ok := EnvString("CRAWLER_OUTPUT"); ok {
		c.OutputFile = v
	}
	if v, ok := EnvString("CRAWLER_METRICS_ADDR"); ok {
		c.MetricsAddr = v
	}
	if v, ok := EnvString("CRAWLER_SEEN_REDIS_ADDR"); ok {
		c.SeenRedisAddr = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"CRAWLER_PAGES", &c.MaxPages},
		{"CRAWLER_PARALLEL", &c.Parallelism},
		{"CRAWLER_MAX_RETRIES", &c.MaxRetries},
	}
	for _, item := range ints {
		v, ok, err := EnvInt(item.key)
		if err != nil {
			return err
		}
		if ok {
			*item.dst = v
		}
	}

	if v, ok, err := EnvBool("CRAWLER_PAGINATE"); err != nil {
		return err
	} else if ok {
		c.Paginate = v
	}
	if v, ok, err := EnvDuration("CRAWLER_TIMEOUT"); err != nil {
		return err
	} else if ok {
		c.Timeout = v
	}
	if v, ok, err := EnvDuration("CRAWLER_SEEN_RETENTION"); err != nil {
		return err
	} else if ok {
		c.SeenRetention = v
	}
	return nil
}
