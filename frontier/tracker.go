package frontier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/aluiziolira/go-crawl-news/models"
)

var (
	// ErrUnknownURL is returned when completing a URL that was never added.
	ErrUnknownURL = errors.New("url is not tracked")
	// ErrNotInFlight is returned when completing an entry that was not claimed.
	ErrNotInFlight = errors.New("entry is not in flight")
)

// Counts is a snapshot of entries per status.
type Counts struct {
	Pending  int
	InFlight int
	Done     int
	Failed   int
}

// Total returns the number of tracked entries.
func (c Counts) Total() int { return c.Pending + c.InFlight + c.Done + c.Failed }

// Option configures a Tracker.
type Option func(*Tracker)

// WithSeenStore enables cross-run deduplication against store.
func WithSeenStore(store SeenStore) Option {
	return func(t *Tracker) { t.seen = store }
}

// WithTransitionHook registers fn to be called with the new status after
// every state change. fn runs outside the tracker lock.
func WithTransitionHook(fn func(models.FrontierStatus)) Option {
	return func(t *Tracker) { t.onTransition = fn }
}

// Tracker holds every URL of a run and its status. All state is guarded by
// a single mutex; Claim is the only way an entry becomes in flight.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*models.FrontierEntry
	pending []string
	seq     int
	counts  Counts

	seen         SeenStore
	onTransition func(models.FrontierStatus)
	notify       chan struct{}
}

// NewTracker returns an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		entries: make(map[string]*models.FrontierEntry),
		notify:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Add tracks rawURL as a pending entry and reports whether it was new.
func (t *Tracker) Add(ctx context.Context, rawURL string) (bool, error) {
	return t.AddRecord(ctx, models.DiscoveredRecord{URL: rawURL})
}

// AddRecord tracks rec as a pending entry keyed by its normalized URL. It
// reports false when the URL is already tracked in this run or was
// completed by a prior run still within the seen store's retention.
func (t *Tracker) AddRecord(ctx context.Context, rec models.DiscoveredRecord) (bool, error) {
	key, err := NormalizeURL(rec.URL)
	if err != nil {
		return false, err
	}

	t.mu.Lock()
	_, exists := t.entries[key]
	t.mu.Unlock()
	if exists {
		return false, nil
	}

	if t.seen != nil {
		seen, err := t.seen.Seen(ctx, key)
		if err != nil {
			slog.Warn("seen store lookup failed", slog.String("url", rec.URL), slog.Any("error", err))
		} else if seen {
			return false, nil
		}
	}

	t.mu.Lock()
	if _, exists := t.entries[key]; exists {
		t.mu.Unlock()
		return false, nil
	}
	t.seq++
	t.entries[key] = &models.FrontierEntry{
		URL:    rec.URL,
		Key:    key,
		Status: models.StatusPending,
		Seq:    t.seq,
		Record: rec,
	}
	t.pending = append(t.pending, key)
	t.counts.Pending++
	t.mu.Unlock()

	t.transitioned(models.StatusPending)
	return true, nil
}

// Claim moves the oldest pending entry to in flight and returns a copy of
// it. It returns false when nothing is pending.
func (t *Tracker) Claim() (models.FrontierEntry, bool) {
	t.mu.Lock()
	if len(t.pending) == 0 {
		t.mu.Unlock()
		return models.FrontierEntry{}, false
	}
	key := t.pending[0]
	t.pending[0] = ""
	t.pending = t.pending[1:]

	entry := t.entries[key]
	entry.Status = models.StatusInFlight
	t.counts.Pending--
	t.counts.InFlight++
	claimed := *entry
	t.mu.Unlock()

	t.transitioned(models.StatusInFlight)
	return claimed, true
}

// Complete finishes an in-flight entry: done when failure is nil, failed
// otherwise. Done entries are recorded in the seen store; failed entries
// are not, so a later run retries them.
func (t *Tracker) Complete(ctx context.Context, rawURL string, failure error) error {
	key, err := NormalizeURL(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownURL, rawURL)
	}

	t.mu.Lock()
	entry, ok := t.entries[key]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownURL, rawURL)
	}
	if entry.Status != models.StatusInFlight {
		status := entry.Status
		t.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotInFlight, rawURL, status)
	}

	t.counts.InFlight--
	status := models.StatusDone
	if failure != nil {
		status = models.StatusFailed
		entry.Kind = models.FailureKindOf(failure)
		entry.Reason = failure.Error()
		t.counts.Failed++
	} else {
		t.counts.Done++
	}
	entry.Status = status
	t.mu.Unlock()

	t.transitioned(status)

	if status == models.StatusDone && t.seen != nil {
		if err := t.seen.Mark(ctx, key); err != nil {
			return fmt.Errorf("mark seen %s: %w", rawURL, err)
		}
	}
	return nil
}

// FailInFlight marks every in-flight entry failed with a canceled kind and
// returns how many were swept.
func (t *Tracker) FailInFlight(reason string) int {
	t.mu.Lock()
	swept := 0
	for _, entry := range t.entries {
		if entry.Status != models.StatusInFlight {
			continue
		}
		entry.Status = models.StatusFailed
		entry.Kind = string(models.FailureCanceled)
		entry.Reason = reason
		swept++
	}
	t.counts.InFlight -= swept
	t.counts.Failed += swept
	t.mu.Unlock()

	for i := 0; i < swept; i++ {
		t.transitioned(models.StatusFailed)
	}
	return swept
}

// Counts returns the current per-status counts.
func (t *Tracker) Counts() Counts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts
}

// Idle reports whether nothing is pending or in flight.
func (t *Tracker) Idle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts.Pending == 0 && t.counts.InFlight == 0
}

// Notify returns a channel that receives after entries are added or
// completed. Signals coalesce; receivers must re-check state.
func (t *Tracker) Notify() <-chan struct{} { return t.notify }

// Entries returns a copy of all entries in insertion order.
func (t *Tracker) Entries() []models.FrontierEntry {
	t.mu.Lock()
	out := make([]models.FrontierEntry, 0, len(t.entries))
	for _, entry := range t.entries {
		out = append(out, *entry)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Failed returns the failed URLs in insertion order.
func (t *Tracker) Failed() []models.FailedURL {
	var out []models.FailedURL
	for _, entry := range t.Entries() {
		if entry.Status != models.StatusFailed {
			continue
		}
		out = append(out, models.FailedURL{URL: entry.URL, Stage: models.StageArticle, Kind: entry.Kind, Reason: entry.Reason})
	}
	return out
}

func (t *Tracker) transitioned(status models.FrontierStatus) {
	if t.onTransition != nil {
		t.onTransition(status)
	}
	select {
	case t.notify <- struct{}{}:
	default:
	}
}
