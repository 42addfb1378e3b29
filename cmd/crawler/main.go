package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-crawl-news/config"
	"github.com/aluiziolira/go-crawl-news/crawler"
	"github.com/aluiziolira/go-crawl-news/frontier"
	"github.com/aluiziolira/go-crawl-news/models"
	"github.com/aluiziolira/go-crawl-news/parser"
	"github.com/aluiziolira/go-crawl-news/pipeline"
	"github.com/aluiziolira/go-crawl-news/proxy"
	"github.com/aluiziolira/go-crawl-news/scraper"
	"github.com/aluiziolira/go-crawl-news/selectors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}
	bindFlags(flag.CommandLine, cfg)
	flag.Parse()
	cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	os.Exit(run(ctx, cfg))
}

func run(ctx context.Context, cfg *config.Config) int {
	loader := selectors.NewFileLoader(cfg.SelectorDir)
	listingSet, err := loader.Load(cfg.ListingStage, selectors.FieldURLs)
	if err != nil {
		slog.Error("loading listing selectors", slog.Any("error", err))
		return 2
	}
	listing, err := parser.NewListingExtractor(listingSet, cfg.EmptyPageTerminal)
	if err != nil {
		slog.Error("building listing extractor", slog.Any("error", err))
		return 2
	}

	var (
		article *parser.ArticleExtractor
		columns = pipeline.ListingColumns
	)
	if !cfg.ListingOnly {
		articleSet, err := loader.Load(cfg.ArticleStage, cfg.PrimaryField)
		if err != nil {
			slog.Error("loading article selectors", slog.Any("error", err))
			return 2
		}
		if article, err = parser.NewArticleExtractor(articleSet, cfg.PrimaryField); err != nil {
			slog.Error("building article extractor", slog.Any("error", err))
			return 2
		}
		columns = pipeline.ArticleColumns(articleSet.Fields())
	}
	slog.Debug("selectors loaded", slog.String("listing", listingSet.String()))

	var seeds []models.DiscoveredRecord
	if cfg.SeedFile != "" {
		if seeds, err = crawler.LoadSeeds(cfg.SeedFile); err != nil {
			slog.Error("loading seeds", slog.Any("error", err))
			return 2
		}
		slog.Info("loaded seeds", slog.Int("count", len(seeds)), slog.String("file", cfg.SeedFile))
	}

	builder, err := proxy.NewBuilder(cfg.ProxyEndpoint, cfg.ProxyAPIKey)
	if err != nil {
		slog.Error("configuring proxy", slog.Any("error", err))
		return 2
	}
	metrics := scraper.NewMetrics()
	fetcher, err := scraper.NewFetcher(cfg, builder, metrics)
	if err != nil {
		slog.Error("initialising fetcher", slog.Any("error", err))
		return 2
	}

	trackerOpts := []frontier.Option{
		frontier.WithTransitionHook(func(s models.FrontierStatus) { metrics.IncFrontier(string(s)) }),
	}
	if cfg.SeenRedisAddr != "" {
		store, err := frontier.DialRedis(ctx, cfg.SeenRedisAddr, cfg.SeenRetention)
		if err != nil {
			slog.Error("connecting seen store", slog.Any("error", err))
			return 1
		}
		defer store.Close()
		trackerOpts = append(trackerOpts, frontier.WithSeenStore(store))
		slog.Info("cross-run dedup enabled", slog.String("redis", cfg.SeenRedisAddr), slog.Duration("retention", cfg.SeenRetention))
	}
	tracker := frontier.NewTracker(trackerOpts...)

	writer, err := pipeline.NewWriter(cfg.OutputFormat, cfg.OutputFile, columns)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	metricsServer := startMetricsServer(cfg.MetricsAddr, metrics)

	p := pipeline.NewPipeline(ctx, writer, cfg)
	workers := cfg.Parallelism
	if cfg.OrderedOutput {
		workers = 1
	}
	p.Start(workers)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	orchestrator, err := crawler.New(cfg, crawler.Deps{
		Fetcher:  fetcher,
		Listing:  listing,
		Article:  article,
		Frontier: tracker,
		Sink:     p,
		Metrics:  metrics,
		Seeds:    seeds,
	})
	if err != nil {
		slog.Error("initialising crawler", slog.Any("error", err))
		return 2
	}

	result, runErr := orchestrator.Run(ctx)

	if err := p.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
		return 1
	}
	if result.Succeeded > 0 {
		if err := writer.Validate(); err != nil {
			slog.Error("output validation failed", slog.Any("error", err))
			return 1
		}
	}
	if cfg.FailedOutput != "" {
		if err := crawler.WriteFailed(cfg.FailedOutput, result.FailedURLs); err != nil {
			slog.Error("writing failed urls", slog.Any("error", err))
		}
	}
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(result, fetcher.RequestCount(), cfg, p.GetMetrics())

	switch {
	case runErr == nil:
		return 0
	case errors.Is(runErr, context.Canceled):
		slog.Warn("crawl interrupted", slog.Int("pending", result.Pending))
		return 130
	default:
		slog.Error("crawl failed", slog.String("kind", models.FailureKindOf(runErr)), slog.Any("error", runErr))
		return 1
	}
}

func bindFlags(flags *flag.FlagSet, cfg *config.Config) {
	flags.StringVar(&cfg.ListingURL, "listing-url", cfg.ListingURL, "Listing page to start from")
	flags.IntVar(&cfg.MaxPages, "pages", cfg.MaxPages, "Maximum listing pages to follow")
	flags.BoolVar(&cfg.Paginate, "paginate", cfg.Paginate, "Follow the listing next link")
	flags.BoolVar(&cfg.EmptyPageTerminal, "empty-terminal", cfg.EmptyPageTerminal, "Treat a listing page without links as the end rather than an error")
	flags.BoolVar(&cfg.ListingOnly, "listing-only", cfg.ListingOnly, "Emit discovered records without fetching articles")
	flags.IntVar(&cfg.Parallelism, "parallel", cfg.Parallelism, "Concurrent article fetches")
	flags.Float64Var(&cfg.RequestsPerSecond, "rps", cfg.RequestsPerSecond, "Proxy request quota per second (0 disables)")
	flags.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Per-attempt request timeout")
	flags.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "Retries for transient failures")
	flags.DurationVar(&cfg.RetryBackoff, "retry-backoff", cfg.RetryBackoff, "Initial retry backoff")
	flags.DurationVar(&cfg.RetryBackoffMax, "retry-backoff-max", cfg.RetryBackoffMax, "Maximum retry backoff")
	flags.Float64Var(&cfg.RetryJitter, "jitter", cfg.RetryJitter, "Backoff jitter fraction between 0 and 1")
	flags.StringVar(&cfg.ProxyEndpoint, "proxy-endpoint", cfg.ProxyEndpoint, "Rendering proxy endpoint")
	flags.BoolVar(&cfg.ListingRenderJS, "listing-render-js", cfg.ListingRenderJS, "Render JavaScript for listing pages")
	flags.StringVar(&cfg.ListingWait, "listing-wait", cfg.ListingWait, "Listing wait condition (delay:<dur> or selector:<css>)")
	flags.BoolVar(&cfg.ArticleRenderJS, "article-render-js", cfg.ArticleRenderJS, "Render JavaScript for article pages")
	flags.StringVar(&cfg.ArticleWait, "article-wait", cfg.ArticleWait, "Article wait condition (delay:<dur> or selector:<css>)")
	flags.StringVar(&cfg.SelectorDir, "selectors", cfg.SelectorDir, "Directory holding <stage>.json or <stage>.yaml selector files")
	flags.StringVar(&cfg.ListingStage, "listing-stage", cfg.ListingStage, "Listing selector stage name")
	flags.StringVar(&cfg.ArticleStage, "article-stage", cfg.ArticleStage, "Article selector stage name")
	flags.StringVar(&cfg.PrimaryField, "primary-field", cfg.PrimaryField, "Article field that must be present")
	flags.BoolVar(&cfg.OrderedOutput, "ordered", cfg.OrderedOutput, "Emit articles in discovery order")
	flags.StringVar(&cfg.SeedFile, "seeds", cfg.SeedFile, "Failed URL file from a previous run to retry")
	flags.StringVar(&cfg.FailedOutput, "failed-output", cfg.FailedOutput, "Write failed URLs to this JSON file")
	flags.StringVar(&cfg.OutputFile, "output", cfg.OutputFile, "Output file path")
	flags.StringVar(&cfg.OutputFormat, "format", cfg.OutputFormat, "Output format: csv, json, or dual")
	flags.StringVar(&cfg.SeenRedisAddr, "seen-redis", cfg.SeenRedisAddr, "Redis address for cross-run dedup")
	flags.DurationVar(&cfg.SeenRetention, "seen-retention", cfg.SeenRetention, "How long completed URLs are remembered")
	flags.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Enable verbose logging")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
}

func startMetricsServer(addr string, metrics *scraper.Metrics) *http.Server {
	if addr == "" || metrics == nil {
		return nil
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func printSummary(result *models.RunResult, requests int, cfg *config.Config, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Crawl complete")

	fmt.Printf("  Run ID:        %s\n", result.RunID)
	fmt.Printf("  Listing pages: %d\n", result.Pages)
	fmt.Printf("  Discovered:    %d\n", result.Discovered)
	fmt.Printf("  Skipped:       %d\n", result.Skipped)
	fmt.Printf("  Succeeded:     %d\n", result.Succeeded)
	fmt.Printf("  Failed:        %d\n", result.Failed)
	if result.Pending > 0 {
		fmt.Printf("  Pending:       %d\n", result.Pending)
	}
	fmt.Printf("  Requests:      %d\n", requests)
	fmt.Printf("  Retries:       %d\n", result.Retries)
	if len(result.ErrorsByKind) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByKind)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Validation:    %v\n", valErrors)
	}
	duration := result.Duration()
	perSec := 0.0
	if duration.Seconds() > 0 {
		perSec = float64(result.Succeeded) / duration.Seconds()
	}
	fmt.Printf("  Duration:      %v\n", duration.Round(time.Millisecond))
	fmt.Printf("  Records/sec:   %.2f\n", perSec)
	fmt.Printf("  Output file:   %s\n", cfg.OutputFile)
	if cfg.FailedOutput != "" && result.Failed > 0 {
		fmt.Printf("  Failed list:   %s (rerun with -seeds)\n", cfg.FailedOutput)
	}
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
