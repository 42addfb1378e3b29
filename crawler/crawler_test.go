package crawler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aluiziolira/go-crawl-news/config"
	"github.com/aluiziolira/go-crawl-news/frontier"
	"github.com/aluiziolira/go-crawl-news/models"
	"github.com/aluiziolira/go-crawl-news/parser"
	"github.com/aluiziolira/go-crawl-news/selectors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingURL = "https://news.test/world"

type stubFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	failures map[string]models.FailureKind
	delays   map[string]time.Duration
	calls    map[string]int

	active    int64
	maxActive int64
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		pages:    make(map[string]string),
		failures: make(map[string]models.FailureKind),
		delays:   make(map[string]time.Duration),
		calls:    make(map[string]int),
	}
}

func (s *stubFetcher) Fetch(ctx context.Context, req models.FetchRequest) models.FetchResult {
	n := atomic.AddInt64(&s.active, 1)
	defer atomic.AddInt64(&s.active, -1)
	for {
		cur := atomic.LoadInt64(&s.maxActive)
		if n <= cur || atomic.CompareAndSwapInt64(&s.maxActive, cur, n) {
			break
		}
	}

	s.mu.Lock()
	s.calls[req.TargetURL]++
	body, found := s.pages[req.TargetURL]
	kind, failing := s.failures[req.TargetURL]
	delay := s.delays[req.TargetURL]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return models.FetchResult{URL: req.TargetURL, Attempts: 1, Failure: &models.FetchError{Kind: models.FailureCanceled, URL: req.TargetURL, Attempts: 1, Err: err}}
	}
	if failing {
		return models.FetchResult{URL: req.TargetURL, Status: 502, Attempts: 4, Failure: &models.FetchError{Kind: kind, URL: req.TargetURL, Status: 502, Attempts: 4, Err: errors.New("upstream failed")}}
	}
	if !found {
		return models.FetchResult{URL: req.TargetURL, Status: 404, Attempts: 1, Failure: &models.FetchError{Kind: models.FailureHTTP, URL: req.TargetURL, Status: 404, Attempts: 1, Err: errors.New("not found")}}
	}
	return models.FetchResult{URL: req.TargetURL, Status: 200, Body: []byte(body), Attempts: 1}
}

func (s *stubFetcher) callCount(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[url]
}

func (s *stubFetcher) TotalRetries() int { return 7 }

type memorySink struct {
	mu      sync.Mutex
	records []models.Record
	err     error
}

func (m *memorySink) Emit(_ context.Context, rec models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memorySink) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Key())
	}
	return out
}

func listingHTML(next string, links ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><ul>")
	for i, link := range links {
		fmt.Fprintf(&b, `<li><a class="story" href="%s"><h3>Story %d</h3></a><time datetime="2024-03-0%d"></time></li>`, link, i, i+1)
	}
	b.WriteString("</ul>")
	if next != "" {
		fmt.Fprintf(&b, `<a class="next" href="%s">Next</a>`, next)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func articleHTML(title string) string {
	return fmt.Sprintf(`<html><body><h1>%s</h1><div class="article-body"><p>Body of %s</p></div></body></html>`, title, title)
}

func articleURL(i int) string { return fmt.Sprintf("https://news.test/world/story-%d", i) }

type harness struct {
	cfg      *config.Config
	fetcher  *stubFetcher
	tracker  *frontier.Tracker
	sink     *memorySink
	listing  *parser.ListingExtractor
	article  *parser.ArticleExtractor
	seeds    []models.DiscoveredRecord
	terminal bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.ListingURL = listingURL
	cfg.Parallelism = 4
	return &harness{
		cfg:      cfg,
		fetcher:  newStubFetcher(),
		tracker:  frontier.NewTracker(),
		sink:     &memorySink{},
		terminal: true,
	}
}

func (h *harness) withArticles(n int) []string {
	links := make([]string, n)
	for i := 0; i < n; i++ {
		links[i] = articleURL(i)
		h.fetcher.pages[links[i]] = articleHTML(fmt.Sprintf("Story %d", i))
	}
	return links
}

func (h *harness) run(t *testing.T, ctx context.Context) (*models.RunResult, error) {
	t.Helper()
	listingSet, err := selectors.New("listing", map[string]string{
		"urls":   "a.story::attr(href)",
		"titles": "a.story h3",
		"dates":  "time::attr(datetime)",
		"next":   "a.next::attr(href)",
	})
	require.NoError(t, err)
	articleSet, err := selectors.New("article", map[string]string{
		"headline": "h1",
		"body":     "div.article-body p",
	})
	require.NoError(t, err)

	h.listing, err = parser.NewListingExtractor(listingSet, h.terminal)
	require.NoError(t, err)
	h.article, err = parser.NewArticleExtractor(articleSet, "body")
	require.NoError(t, err)

	o, err := New(h.cfg, Deps{
		Fetcher:  h.fetcher,
		Listing:  h.listing,
		Article:  h.article,
		Frontier: h.tracker,
		Sink:     h.sink,
		Seeds:    h.seeds,
	})
	require.NoError(t, err)
	return o.Run(ctx)
}

func TestRunEmitsEveryArticle(t *testing.T) {
	h := newHarness(t)
	links := h.withArticles(3)
	h.fetcher.pages[listingURL] = listingHTML("", links...)

	res, err := h.run(t, context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, links, h.sink.keys())
	assert.Equal(t, 1, res.Pages)
	assert.Equal(t, 3, res.Discovered)
	assert.Equal(t, 3, res.Succeeded)
	assert.Zero(t, res.Failed)
	assert.Zero(t, res.Pending)
	assert.Equal(t, 7, res.Retries)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, frontier.Counts{Done: 3}, h.tracker.Counts())

	for _, rec := range h.sink.records {
		article := rec.(*models.ArticleRecord)
		assert.NotNil(t, article.Listing.Title)
		body, ok := article.Field("body")
		assert.True(t, ok)
		assert.True(t, strings.HasPrefix(body, "Body of Story"))
	}
}

func TestRunRecordsExhaustedFetch(t *testing.T) {
	h := newHarness(t)
	links := h.withArticles(3)
	h.fetcher.pages[listingURL] = listingHTML("", links...)
	h.fetcher.failures[links[1]] = models.FailureProxy

	res, err := h.run(t, context.Background())
	require.NoError(t, err)

	assert.Len(t, h.sink.records, 2)
	assert.Equal(t, 2, res.Succeeded)
	require.Len(t, res.FailedURLs, 1)
	assert.Equal(t, links[1], res.FailedURLs[0].URL)
	assert.Equal(t, string(models.FailureProxy), res.FailedURLs[0].Kind)
	assert.Equal(t, 1, res.ErrorsByKind["proxy_error"])
	assert.Equal(t, frontier.Counts{Done: 2, Failed: 1}, h.tracker.Counts())
}

func TestRunRecordsExtractionFailure(t *testing.T) {
	h := newHarness(t)
	links := h.withArticles(2)
	h.fetcher.pages[links[0]] = "<html><body><p>paywall</p></body></html>"
	h.fetcher.pages[listingURL] = listingHTML("", links...)

	res, err := h.run(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Succeeded)
	require.Len(t, res.FailedURLs, 1)
	assert.Equal(t, "extraction", res.FailedURLs[0].Kind)
	assert.Equal(t, 1, h.fetcher.callCount(links[0]), "extraction failures are not refetched")
}

func TestRunEmptyListingPage(t *testing.T) {
	for _, terminal := range []bool{true, false} {
		t.Run(fmt.Sprintf("terminal=%v", terminal), func(t *testing.T) {
			h := newHarness(t)
			h.terminal = terminal
			h.cfg.Paginate = false
			h.fetcher.pages[listingURL] = "<html><body><p>No stories today.</p></body></html>"

			res, err := h.run(t, context.Background())
			require.NotNil(t, res)
			assert.Empty(t, h.sink.records)
			assert.Zero(t, res.Succeeded)
			if terminal {
				assert.NoError(t, err)
				return
			}
			assert.True(t, models.IsExtractionError(err), "got %v", err)
		})
	}
}

func TestRunCancelMarksInFlightFailed(t *testing.T) {
	h := newHarness(t)
	h.cfg.Parallelism = 5
	links := h.withArticles(5)
	h.fetcher.pages[listingURL] = listingHTML("", links...)
	for _, link := range links {
		h.fetcher.delays[link] = time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for h.tracker.Counts().InFlight < 5 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	done := make(chan struct{})
	var (
		res *models.RunResult
		err error
	)
	go func() {
		res, err = h.run(t, ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}

	assert.ErrorIs(t, err, context.Canceled)
	counts := h.tracker.Counts()
	assert.Equal(t, 5, counts.Failed)
	assert.Zero(t, counts.InFlight)
	assert.Equal(t, 5, res.Failed)
	for _, f := range res.FailedURLs {
		assert.Equal(t, string(models.FailureCanceled), f.Kind)
	}
}

func TestRunFollowsPagination(t *testing.T) {
	h := newHarness(t)
	h.cfg.Paginate = true
	h.cfg.MaxPages = 5
	links := h.withArticles(4)
	page2 := listingURL + "?page=2"
	h.fetcher.pages[listingURL] = listingHTML("?page=2", links[0], links[1])
	// page 2 links back to page 1, which must not be fetched again
	h.fetcher.pages[page2] = listingHTML(listingURL, links[2], links[3], links[0])

	res, err := h.run(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 4, res.Discovered)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 4, res.Succeeded)
	assert.Equal(t, 1, h.fetcher.callCount(listingURL))
}

func TestRunStopsAtMaxPages(t *testing.T) {
	h := newHarness(t)
	h.cfg.Paginate = true
	h.cfg.MaxPages = 2
	links := h.withArticles(3)
	h.fetcher.pages[listingURL] = listingHTML("?page=2", links[0])
	h.fetcher.pages[listingURL+"?page=2"] = listingHTML("?page=3", links[1])
	h.fetcher.pages[listingURL+"?page=3"] = listingHTML("", links[2])

	res, err := h.run(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 2, res.Succeeded)
	assert.Zero(t, h.fetcher.callCount(listingURL+"?page=3"))
}

func TestRunLaterPageFailureEndsPagination(t *testing.T) {
	h := newHarness(t)
	h.cfg.Paginate = true
	h.cfg.MaxPages = 3
	links := h.withArticles(1)
	h.fetcher.pages[listingURL] = listingHTML("?page=2", links...)
	h.fetcher.failures[listingURL+"?page=2"] = models.FailureTimeout

	res, err := h.run(t, context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.ErrorsByKind["timeout"])
}

func TestRunSeedPageFailure(t *testing.T) {
	h := newHarness(t)
	h.fetcher.failures[listingURL] = models.FailureProxy

	res, err := h.run(t, context.Background())
	require.NotNil(t, res)
	var fe *models.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, models.FailureProxy, fe.Kind)
	assert.Empty(t, h.sink.records)
}

func TestRunRespectsParallelism(t *testing.T) {
	h := newHarness(t)
	h.cfg.Parallelism = 3
	links := h.withArticles(12)
	h.fetcher.pages[listingURL] = listingHTML("", links...)
	for _, link := range links {
		h.fetcher.delays[link] = 5 * time.Millisecond
	}

	res, err := h.run(t, context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, res.Succeeded)
	assert.LessOrEqual(t, atomic.LoadInt64(&h.fetcher.maxActive), int64(3))
}

func TestRunOrderedOutput(t *testing.T) {
	h := newHarness(t)
	h.cfg.OrderedOutput = true
	links := h.withArticles(4)
	h.fetcher.pages[listingURL] = listingHTML("", links...)
	for i, link := range links {
		h.fetcher.delays[link] = time.Duration(len(links)-i) * 10 * time.Millisecond
	}

	_, err := h.run(t, context.Background())
	require.NoError(t, err)
	assert.Equal(t, links, h.sink.keys())
}

func TestRunListingOnly(t *testing.T) {
	h := newHarness(t)
	h.cfg.ListingOnly = true
	links := h.withArticles(3)
	h.fetcher.pages[listingURL] = listingHTML("", links[0], links[1], links[2], links[0])

	res, err := h.run(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, links, h.sink.keys())
	assert.Equal(t, 3, res.Succeeded)
	for _, rec := range h.sink.records {
		_, ok := rec.(*models.DiscoveredRecord)
		assert.True(t, ok)
	}
	for _, link := range links {
		assert.Zero(t, h.fetcher.callCount(link))
	}
}

func TestRunRetriesSeeds(t *testing.T) {
	h := newHarness(t)
	h.cfg.ListingURL = ""
	links := h.withArticles(2)
	for _, link := range links {
		h.seeds = append(h.seeds, models.DiscoveredRecord{URL: link})
	}

	res, err := h.run(t, context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Zero(t, res.Pages)
}

func TestRunSinkFailure(t *testing.T) {
	h := newHarness(t)
	links := h.withArticles(1)
	h.fetcher.pages[listingURL] = listingHTML("", links...)
	h.sink.err = errors.New("queue unavailable")

	res, err := h.run(t, context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
}

func TestNewRequiresDeps(t *testing.T) {
	cfg := config.DefaultConfig()
	_, err := New(cfg, Deps{})
	assert.True(t, models.IsConfigError(err))

	_, err = New(nil, Deps{})
	assert.True(t, models.IsConfigError(err))
}

func TestRunFailedListingPagesAreNotReseeded(t *testing.T) {
	h := newHarness(t)
	h.cfg.Paginate = true
	h.cfg.MaxPages = 3
	links := h.withArticles(2)
	h.fetcher.pages[listingURL] = listingHTML("?page=2", links...)
	h.fetcher.failures[listingURL+"?page=2"] = models.FailureTimeout
	h.fetcher.failures[links[1]] = models.FailureProxy

	res, err := h.run(t, context.Background())
	require.NoError(t, err)
	require.Len(t, res.FailedURLs, 2)

	stages := map[string]string{}
	for _, f := range res.FailedURLs {
		stages[f.URL] = f.Stage
	}
	assert.Equal(t, models.StageListing, stages[listingURL+"?page=2"])
	assert.Equal(t, models.StageArticle, stages[links[1]])

	path := filepath.Join(t.TempDir(), "failed.json")
	require.NoError(t, WriteFailed(path, res.FailedURLs))
	seeds, err := LoadSeeds(path)
	require.NoError(t, err)
	require.Len(t, seeds, 1)
	assert.Equal(t, links[1], seeds[0].URL)
}

func TestRunSeedPageFailureLeavesNoSeeds(t *testing.T) {
	h := newHarness(t)
	h.fetcher.failures[listingURL] = models.FailureProxy

	res, err := h.run(t, context.Background())
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "failed.json")
	require.NoError(t, WriteFailed(path, res.FailedURLs))
	seeds, err := LoadSeeds(path)
	require.NoError(t, err)
	assert.Empty(t, seeds)
}

func TestRunOrderedSinkFailureIsRetriedNextRun(t *testing.T) {
	store := frontier.NewMemoryStore(0, time.Hour)

	first := newHarness(t)
	first.cfg.OrderedOutput = true
	first.tracker = frontier.NewTracker(frontier.WithSeenStore(store))
	links := first.withArticles(2)
	first.fetcher.pages[listingURL] = listingHTML("", links...)
	first.sink.err = errors.New("queue unavailable")

	res, err := first.run(t, context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Succeeded)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, frontier.Counts{Failed: 2}, first.tracker.Counts())

	path := filepath.Join(t.TempDir(), "failed.json")
	require.NoError(t, WriteFailed(path, res.FailedURLs))
	seeds, err := LoadSeeds(path)
	require.NoError(t, err)
	require.Len(t, seeds, 2)

	second := newHarness(t)
	second.cfg.ListingURL = ""
	second.cfg.OrderedOutput = true
	second.tracker = frontier.NewTracker(frontier.WithSeenStore(store))
	second.withArticles(2)
	second.seeds = seeds

	res, err = second.run(t, context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Discovered)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, links, second.sink.keys())
	assert.Equal(t, frontier.Counts{Done: 2}, second.tracker.Counts())

	third := newHarness(t)
	third.cfg.ListingURL = ""
	third.cfg.OrderedOutput = true
	third.tracker = frontier.NewTracker(frontier.WithSeenStore(store))
	third.seeds = seeds

	res, err = third.run(t, context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Discovered, "emitted articles are remembered by the seen store")
}
