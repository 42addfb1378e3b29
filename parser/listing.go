package parser

import (
	"errors"
	"log/slog"

	"github.com/aluiziolira/go-crawl-news/models"
	"github.com/aluiziolira/go-crawl-news/selectors"
)

// ErrNoMatches is wrapped by the ExtractionError returned for a listing page
// whose urls selector matched nothing.
var ErrNoMatches = errors.New("urls selector matched nothing")

// ListingPage is the result of extracting one listing page.
type ListingPage struct {
	URL     string
	Records []models.DiscoveredRecord
	// Next is the absolute pagination link, empty when absent.
	Next string
	// Skipped counts url matches that could not be resolved.
	Skipped int
}

// Empty reports whether the page produced no records.
func (p *ListingPage) Empty() bool { return len(p.Records) == 0 }

// ListingExtractor applies a listing selector set to index pages.
type ListingExtractor struct {
	set               *selectors.Set
	emptyPageTerminal bool
}

// NewListingExtractor binds set to an extractor. When emptyPageTerminal is
// true a page without url matches is a valid, empty result.
func NewListingExtractor(set *selectors.Set, emptyPageTerminal bool) (*ListingExtractor, error) {
	if set == nil {
		return nil, models.NewConfigError("listing", "selector set is required")
	}
	if _, ok := set.Get(selectors.FieldURLs); !ok {
		return nil, models.NewConfigError(set.Name(), "required selector field %q is missing", selectors.FieldURLs)
	}
	return &ListingExtractor{set: set, emptyPageTerminal: emptyPageTerminal}, nil
}

// Extract produces records in page order. Optional fields are looked up by
// index into their own match lists; an index past the end of a list leaves
// the field absent.
func (e *ListingExtractor) Extract(pageURL string, page int, body []byte) (*ListingPage, error) {
	doc, err := Parse(pageURL, body)
	if err != nil {
		return nil, &models.ExtractionError{URL: pageURL, Err: err}
	}

	urlExpr, _ := e.set.Get(selectors.FieldURLs)
	urls := doc.Values(urlExpr)
	titles := e.values(doc, selectors.FieldTitles)
	dates := e.values(doc, selectors.FieldDates)
	topics := e.values(doc, selectors.FieldTopic)

	out := &ListingPage{URL: pageURL, Records: make([]models.DiscoveredRecord, 0, len(urls))}
	for i, raw := range urls {
		abs, err := doc.Resolve(raw)
		if err != nil {
			out.Skipped++
			slog.Debug("skipping listing url", slog.String("page", pageURL), slog.Int("index", i), slog.Any("error", err))
			continue
		}
		out.Records = append(out.Records, models.DiscoveredRecord{
			URL:   abs,
			Title: at(titles, i),
			Date:  at(dates, i),
			Topic: at(topics, i),
			Page:  page,
			Index: i,
		})
	}

	if next, ok := e.set.Get(selectors.FieldNext); ok {
		if href, found := doc.First(next); found {
			if abs, err := doc.Resolve(href); err == nil && abs != pageURL {
				out.Next = abs
			}
		}
	}

	if len(urls) == 0 && !e.emptyPageTerminal {
		return out, &models.ExtractionError{URL: pageURL, Field: selectors.FieldURLs, Err: ErrNoMatches}
	}
	return out, nil
}

func (e *ListingExtractor) values(doc *Document, field string) []string {
	expr, ok := e.set.Get(field)
	if !ok {
		return nil
	}
	return doc.Values(expr)
}

// at returns values[i], or nil when i is out of range or the value is empty.
func at(values []string, i int) *string {
	if i < 0 || i >= len(values) || values[i] == "" {
		return nil
	}
	v := values[i]
	return &v
}
