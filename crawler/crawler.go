// Package crawler drives a two-stage crawl: listing pages feed the frontier
// and a bounded pool of workers turns frontier entries into articles.
package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aluiziolira/go-crawl-news/config"
	"github.com/aluiziolira/go-crawl-news/frontier"
	"github.com/aluiziolira/go-crawl-news/models"
	"github.com/aluiziolira/go-crawl-news/parser"
	"github.com/aluiziolira/go-crawl-news/pipeline"
	"github.com/aluiziolira/go-crawl-news/scraper"
	"github.com/google/uuid"
)

// Fetcher retrieves pages through the rendering proxy.
type Fetcher interface {
	Fetch(ctx context.Context, req models.FetchRequest) models.FetchResult
}

// ListingExtractor turns a listing page into discovered records.
type ListingExtractor interface {
	Extract(pageURL string, page int, body []byte) (*parser.ListingPage, error)
}

// ArticleExtractor turns an article page into an article record.
type ArticleExtractor interface {
	Extract(rec models.DiscoveredRecord, body []byte) (*models.ArticleRecord, error)
}

// Frontier tracks discovered URLs through the run.
type Frontier interface {
	AddRecord(ctx context.Context, rec models.DiscoveredRecord) (bool, error)
	Claim() (models.FrontierEntry, bool)
	Complete(ctx context.Context, url string, failure error) error
	FailInFlight(reason string) int
	Counts() frontier.Counts
	Notify() <-chan struct{}
	Failed() []models.FailedURL
}

type retryCounter interface {
	TotalRetries() int
}

// Deps are the collaborators of an Orchestrator. Article may be nil for
// listing-only runs.
type Deps struct {
	Fetcher  Fetcher
	Listing  ListingExtractor
	Article  ArticleExtractor
	Frontier Frontier
	Sink     pipeline.Sink
	Metrics  *scraper.Metrics
	// Seeds are added to the frontier before listing starts, typically the
	// failures of a previous run.
	Seeds []models.DiscoveredRecord
}

// Orchestrator runs one crawl.
type Orchestrator struct {
	cfg  *config.Config
	deps Deps
}

// New validates deps against cfg.
func New(cfg *config.Config, deps Deps) (*Orchestrator, error) {
	if cfg == nil {
		return nil, models.NewConfigError("config", "configuration is required")
	}
	switch {
	case deps.Fetcher == nil:
		return nil, models.NewConfigError("fetcher", "fetcher is required")
	case deps.Listing == nil && cfg.ListingURL != "":
		return nil, models.NewConfigError("listing", "listing extractor is required")
	case deps.Article == nil && !cfg.ListingOnly:
		return nil, models.NewConfigError("article", "article extractor is required")
	case deps.Frontier == nil:
		return nil, models.NewConfigError("frontier", "frontier is required")
	case deps.Sink == nil:
		return nil, models.NewConfigError("sink", "sink is required")
	}
	return &Orchestrator{cfg: cfg, deps: deps}, nil
}

func (o *Orchestrator) seeds() []models.DiscoveredRecord {
	if o.cfg.ListingOnly {
		return nil
	}
	return o.deps.Seeds
}

// run holds the mutable state of a single Run.
type run struct {
	log *slog.Logger

	mu         sync.Mutex
	result     *models.RunResult
	extraFails []models.FailedURL
	ordered    []orderedArticle
}

func (r *run) fail(f models.FailedURL) {
	r.mu.Lock()
	r.extraFails = append(r.extraFails, f)
	r.mu.Unlock()
}

type orderedArticle struct {
	seq     int
	url     string
	article *models.ArticleRecord
}

func (r *run) update(fn func(res *models.RunResult)) {
	r.mu.Lock()
	fn(r.result)
	r.mu.Unlock()
}

// Run crawls until listing is exhausted and the frontier holds nothing
// pending or in flight, or until ctx is canceled. A failure of the first
// listing page is returned as the error; the result is always non-nil.
func (o *Orchestrator) Run(ctx context.Context) (*models.RunResult, error) {
	state := &run{
		result: &models.RunResult{
			RunID:        uuid.NewString(),
			StartTime:    time.Now(),
			ErrorsByKind: make(map[string]int),
		},
	}
	state.log = slog.With(slog.String("run_id", state.result.RunID))
	state.log.Info("run started",
		slog.String("listing_url", o.cfg.ListingURL),
		slog.Int("parallelism", o.cfg.Parallelism),
		slog.Bool("listing_only", o.cfg.ListingOnly),
	)

	for _, seed := range o.seeds() {
		isNew, err := o.deps.Frontier.AddRecord(ctx, seed)
		if err != nil {
			state.log.Warn("skipping seed", slog.String("url", seed.URL), slog.Any("error", err))
			continue
		}
		if isNew {
			state.update(func(res *models.RunResult) { res.Discovered++ })
		}
	}

	listingDone := make(chan error, 1)
	go func() { listingDone <- o.runListing(ctx, state) }()

	listingErr := o.dispatch(ctx, state, listingDone)

	o.flushOrdered(ctx, state)
	if swept := o.deps.Frontier.FailInFlight("run canceled"); swept > 0 {
		state.log.Warn("marked in-flight entries failed", slog.Int("count", swept))
	}

	res := o.finish(state)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, listingErr
}

// dispatch claims entries while fewer than Parallelism workers are busy and
// returns the listing stage's error once everything has drained.
func (o *Orchestrator) dispatch(ctx context.Context, state *run, listingDone <-chan error) error {
	limit := o.cfg.Parallelism
	if limit <= 0 {
		limit = 1
	}

	var (
		wg          sync.WaitGroup
		busy        int
		listingErr  error
		listingOpen = true
		finished    = make(chan struct{}, limit)
		ctxDone     = ctx.Done()
	)

	for {
		if ctx.Err() == nil && !o.cfg.ListingOnly {
			for busy < limit {
				entry, ok := o.deps.Frontier.Claim()
				if !ok {
					break
				}
				busy++
				wg.Add(1)
				go func() {
					defer wg.Done()
					o.process(ctx, state, entry)
					finished <- struct{}{}
				}()
			}
		}

		if !listingOpen && busy == 0 {
			if ctx.Err() != nil || o.cfg.ListingOnly || o.deps.Frontier.Counts().Pending == 0 {
				break
			}
		}

		select {
		case err := <-listingDone:
			listingOpen = false
			listingErr = err
			listingDone = nil
		case <-finished:
			busy--
		case <-o.deps.Frontier.Notify():
		case <-ctxDone:
			ctxDone = nil
		}
	}

	wg.Wait()
	return listingErr
}

// runListing fetches listing pages and feeds the frontier, or the sink in
// listing-only mode.
func (o *Orchestrator) runListing(ctx context.Context, state *run) error {
	pageURL := o.cfg.ListingURL
	if pageURL == "" {
		return nil
	}

	maxPages := o.cfg.MaxPages
	if !o.cfg.Paginate || maxPages <= 0 {
		maxPages = 1
	}
	visited := make(map[string]struct{})
	emitted := make(map[string]struct{})

	for page := 1; page <= maxPages; page++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if key, err := frontier.NormalizeURL(pageURL); err == nil {
			if _, ok := visited[key]; ok {
				state.log.Info("listing page repeated, stopping pagination", slog.String("url", pageURL))
				return nil
			}
			visited[key] = struct{}{}
		}

		log := state.log.With(slog.String("stage", "listing"), slog.String("url", pageURL), slog.Int("page", page))
		res := o.deps.Fetcher.Fetch(ctx, o.cfg.ListingRequest(pageURL))
		if !res.OK() {
			state.fail(models.FailedURL{URL: pageURL, Stage: models.StageListing, Kind: string(res.Failure.Kind), Reason: res.Failure.Error()})
			if page == 1 {
				return fmt.Errorf("fetch listing page: %w", res.Failure)
			}
			log.Warn("listing page failed, stopping pagination", slog.Any("error", res.Failure))
			return nil
		}

		lp, err := o.deps.Listing.Extract(pageURL, page, res.Body)
		if err != nil {
			state.fail(models.FailedURL{URL: pageURL, Stage: models.StageListing, Kind: models.FailureKindOf(err), Reason: err.Error()})
			if page == 1 {
				return err
			}
			log.Warn("listing page yielded no records, stopping pagination", slog.Any("error", err))
			return nil
		}
		o.deps.Metrics.IncPages()

		added, skipped := 0, lp.Skipped
		for _, rec := range lp.Records {
			isNew, err := o.discover(ctx, state, rec, emitted)
			if err != nil {
				skipped++
				log.Debug("discarding record", slog.String("record_url", rec.URL), slog.Any("error", err))
				continue
			}
			if isNew {
				added++
			} else {
				skipped++
			}
		}
		state.update(func(r *models.RunResult) {
			r.Pages++
			r.Discovered += added
			r.Skipped += skipped
		})
		log.Info("listing page processed", slog.Int("records", len(lp.Records)), slog.Int("new", added), slog.Int("skipped", skipped))

		if lp.Empty() || lp.Next == "" {
			return nil
		}
		pageURL = lp.Next
	}
	return nil
}

func (o *Orchestrator) discover(ctx context.Context, state *run, rec models.DiscoveredRecord, emitted map[string]struct{}) (bool, error) {
	if !o.cfg.ListingOnly {
		return o.deps.Frontier.AddRecord(ctx, rec)
	}

	key, err := frontier.NormalizeURL(rec.URL)
	if err != nil {
		return false, err
	}
	if _, ok := emitted[key]; ok {
		return false, nil
	}
	emitted[key] = struct{}{}

	record := rec
	if err := o.deps.Sink.Emit(ctx, &record); err != nil {
		state.fail(models.FailedURL{URL: rec.URL, Stage: models.StageArticle, Kind: "sink", Reason: err.Error()})
		return true, nil
	}
	o.deps.Metrics.IncRecords("listing")
	state.update(func(r *models.RunResult) { r.Succeeded++ })
	return true, nil
}

// process fetches, extracts and emits one claimed entry, then completes it.
func (o *Orchestrator) process(ctx context.Context, state *run, entry models.FrontierEntry) {
	log := state.log.With(slog.String("stage", "article"), slog.String("url", entry.URL))
	completeCtx := context.WithoutCancel(ctx)

	failure := o.fetchArticle(ctx, state, entry)
	if failure == nil && o.cfg.OrderedOutput {
		// completed by flushOrdered once the article reaches the sink
		return
	}
	if failure != nil {
		log.Warn("article failed", slog.String("kind", models.FailureKindOf(failure)), slog.Any("error", failure))
	}
	if err := o.deps.Frontier.Complete(completeCtx, entry.URL, failure); err != nil {
		log.Error("complete frontier entry", slog.Any("error", err))
	}
}

func (o *Orchestrator) fetchArticle(ctx context.Context, state *run, entry models.FrontierEntry) error {
	res := o.deps.Fetcher.Fetch(ctx, o.cfg.ArticleRequest(entry.URL))
	if !res.OK() {
		return res.Failure
	}

	article, err := o.deps.Article.Extract(entry.Record, res.Body)
	if err != nil {
		return err
	}

	if o.cfg.OrderedOutput {
		state.mu.Lock()
		state.ordered = append(state.ordered, orderedArticle{seq: entry.Seq, url: entry.URL, article: article})
		state.mu.Unlock()
		return nil
	}

	if err := o.deps.Sink.Emit(ctx, article); err != nil {
		return fmt.Errorf("emit article: %w", err)
	}
	o.deps.Metrics.IncRecords("article")
	state.update(func(r *models.RunResult) { r.Succeeded++ })
	return nil
}

// flushOrdered emits buffered articles in discovery order and completes
// their frontier entries.
func (o *Orchestrator) flushOrdered(ctx context.Context, state *run) {
	state.mu.Lock()
	buffered := state.ordered
	state.ordered = nil
	state.mu.Unlock()
	if len(buffered) == 0 {
		return
	}

	sort.Slice(buffered, func(i, j int) bool { return buffered[i].seq < buffered[j].seq })
	emitCtx := context.WithoutCancel(ctx)
	for _, item := range buffered {
		failure := o.deps.Sink.Emit(emitCtx, item.article)
		if failure != nil {
			failure = fmt.Errorf("emit article: %w", failure)
			state.log.Error("emit article", slog.String("url", item.url), slog.Any("error", failure))
		} else {
			o.deps.Metrics.IncRecords("article")
			state.update(func(r *models.RunResult) { r.Succeeded++ })
		}
		if err := o.deps.Frontier.Complete(emitCtx, item.url, failure); err != nil {
			state.log.Error("complete frontier entry", slog.String("url", item.url), slog.Any("error", err))
		}
	}
}

func (o *Orchestrator) finish(state *run) *models.RunResult {
	failed := o.deps.Frontier.Failed()
	counts := o.deps.Frontier.Counts()

	state.mu.Lock()
	defer state.mu.Unlock()

	res := state.result
	res.EndTime = time.Now()
	res.FailedURLs = append(failed, state.extraFails...)
	res.Failed = len(res.FailedURLs)
	res.Pending = counts.Pending
	for _, f := range res.FailedURLs {
		res.ErrorsByKind[f.Kind]++
	}
	if rc, ok := o.deps.Fetcher.(retryCounter); ok {
		res.Retries = rc.TotalRetries()
	}

	state.log.Info("run finished",
		slog.Int("pages", res.Pages),
		slog.Int("discovered", res.Discovered),
		slog.Int("succeeded", res.Succeeded),
		slog.Int("failed", res.Failed),
		slog.Int("pending", res.Pending),
		slog.Int("retries", res.Retries),
		slog.Duration("duration", res.Duration()),
	)
	return res
}
