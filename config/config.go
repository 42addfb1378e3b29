package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/aluiziolira/go-crawl-news/models"
)

// DefaultProxyEndpoint is the rendering proxy used when none is configured.
const DefaultProxyEndpoint = "https://api.scrapeops.io/v1/scrape"

// Config holds crawler configuration.
type Config struct {
	ListingURL        string
	MaxPages          int
	Paginate          bool
	EmptyPageTerminal bool
	ListingOnly       bool

	Parallelism       int
	RequestsPerSecond float64
	Timeout           time.Duration
	MaxRetries        int
	RetryBackoff      time.Duration
	RetryBackoffMax   time.Duration
	RetryJitter       float64
	MaxBodyBytes      int

	ProxyEndpoint   string
	ProxyAPIKey     string
	ListingRenderJS bool
	ListingWait     string
	ArticleRenderJS bool
	ArticleWait     string

	SelectorDir   string
	ListingStage  string
	ArticleStage  string
	PrimaryField  string
	OrderedOutput bool
	SeedFile      string
	FailedOutput  string
	OutputFile    string
	OutputFormat  string // csv, json, or dual
	BatchSize     int
	BufferSize    int
	DedupeMaxSize int
	SeenRedisAddr string
	SeenRetention time.Duration
	UserAgent     string
	Verbose       bool
	MetricsAddr   string
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() *Config {
	return &Config{
		ListingURL:        "https://www.reuters.com/world",
		MaxPages:          1,
		Paginate:          false,
		EmptyPageTerminal: true,
		Parallelism:       4,
		RequestsPerSecond: 0,
		Timeout:           60 * time.Second,
		MaxRetries:        3,
		RetryBackoff:      500 * time.Millisecond,
		RetryBackoffMax:   10 * time.Second,
		RetryJitter:       0.2,
		MaxBodyBytes:      10 * 1024 * 1024,
		ProxyEndpoint:     DefaultProxyEndpoint,
		ListingWait:       "",
		ArticleWait:       "",
		SelectorDir:       "config",
		ListingStage:      "listing",
		ArticleStage:      "article",
		PrimaryField:      "body",
		OutputFile:        "output/articles.csv",
		OutputFormat:      "csv",
		BatchSize:         32,
		BufferSize:        256,
		DedupeMaxSize:     100000,
		SeenRetention:     7 * 24 * time.Hour,
		UserAgent:         "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
	}
}

// Validate ensures all configuration values are coherent. A missing proxy
// token is reported as a *models.ConfigError like every other problem.
func (c *Config) Validate() error {
	if c.ListingURL == "" && c.SeedFile == "" {
		return models.NewConfigError("listing_url", "listing URL cannot be empty")
	}
	if c.ListingURL != "" {
		parsedURL, err := url.Parse(c.ListingURL)
		if err != nil {
			return &models.ConfigError{Field: "listing_url", Err: fmt.Errorf("invalid listing URL: %w", err)}
		}
		if parsedURL.Host == "" {
			return models.NewConfigError("listing_url", "listing URL must include a host")
		}
	}
	if c.MaxPages <= 0 {
		return models.NewConfigError("max_pages", "max pages must be positive")
	}
	if c.Parallelism <= 0 {
		return models.NewConfigError("parallelism", "parallelism must be positive")
	}
	if c.RequestsPerSecond < 0 {
		return models.NewConfigError("requests_per_second", "requests per second cannot be negative")
	}
	if c.Timeout <= 0 {
		return models.NewConfigError("timeout", "timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return models.NewConfigError("max_retries", "max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return models.NewConfigError("retry_backoff", "retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return models.NewConfigError("retry_backoff_max", "retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return models.NewConfigError("retry_backoff", "retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.RetryJitter < 0 || c.RetryJitter > 1 {
		return models.NewConfigError("retry_jitter", "retry jitter must be between 0 and 1")
	}
	if c.ProxyAPIKey == "" {
		return models.NewConfigError("proxy_api_key", "proxy API key is not configured")
	}
	if c.ProxyEndpoint == "" {
		return models.NewConfigError("proxy_endpoint", "proxy endpoint cannot be empty")
	}
	if _, err := models.ParseWaitSpec(c.ListingWait); err != nil {
		return &models.ConfigError{Field: "listing_wait", Err: err}
	}
	if _, err := models.ParseWaitSpec(c.ArticleWait); err != nil {
		return &models.ConfigError{Field: "article_wait", Err: err}
	}
	if c.ListingStage == "" || c.ArticleStage == "" {
		return models.NewConfigError("stage", "stage names cannot be empty")
	}
	if c.PrimaryField == "" {
		return models.NewConfigError("primary_field", "primary field cannot be empty")
	}
	if c.OutputFile == "" {
		return models.NewConfigError("output_file", "output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return models.NewConfigError("output_format", "output format must be csv, json, or dual")
	}
	if c.BatchSize <= 0 {
		return models.NewConfigError("batch_size", "batch size must be positive")
	}
	if c.BufferSize <= 0 {
		return models.NewConfigError("buffer_size", "buffer size must be positive")
	}
	if c.SeenRedisAddr != "" && c.SeenRetention <= 0 {
		return models.NewConfigError("seen_retention", "seen retention must be positive when cross-run dedup is enabled")
	}
	if c.UserAgent == "" {
		return models.NewConfigError("user_agent", "user agent cannot be empty")
	}

	return nil
}

// ListingRequest builds the fetch options used by the listing stage.
func (c *Config) ListingRequest(target string) models.FetchRequest {
	wait, _ := models.ParseWaitSpec(c.ListingWait)
	return models.FetchRequest{TargetURL: target, RenderJS: c.ListingRenderJS, Wait: wait, Stage: models.StageListing}
}

// ArticleRequest builds the fetch options used by the article stage.
func (c *Config) ArticleRequest(target string) models.FetchRequest {
	wait, _ := models.ParseWaitSpec(c.ArticleWait)
	return models.FetchRequest{TargetURL: target, RenderJS: c.ArticleRenderJS, Wait: wait, Stage: models.StageArticle}
}
