package parser

import (
	"errors"
	"time"

	"github.com/aluiziolira/go-crawl-news/models"
	"github.com/aluiziolira/go-crawl-news/selectors"
)

// ErrNoContent marks an article page whose primary field matched nothing.
var ErrNoContent = errors.New("primary content selector matched nothing")

// ArticleExtractor applies an article selector set to article pages.
type ArticleExtractor struct {
	set     *selectors.Set
	primary string
	now     func() time.Time
}

// NewArticleExtractor binds set to an extractor. primary names the field
// without which a page is not an article.
func NewArticleExtractor(set *selectors.Set, primary string) (*ArticleExtractor, error) {
	if set == nil {
		return nil, models.NewConfigError("article", "selector set is required")
	}
	key := selectors.Canonical(primary)
	if _, ok := set.Get(key); !ok {
		return nil, models.NewConfigError(set.Name(), "primary field %q has no selector", primary)
	}
	return &ArticleExtractor{set: set, primary: key, now: time.Now}, nil
}

// Extract builds the article record for rec from body. The first match of
// each selector wins.
func (e *ArticleExtractor) Extract(rec models.DiscoveredRecord, body []byte) (*models.ArticleRecord, error) {
	doc, err := Parse(rec.URL, body)
	if err != nil {
		return nil, &models.ExtractionError{URL: rec.URL, Err: err}
	}

	fields := make(map[string]string, e.set.Len())
	for _, name := range e.set.Fields() {
		expr, _ := e.set.Get(name)
		if value, ok := doc.First(expr); ok {
			fields[name] = value
		}
	}

	if fields[e.primary] == "" {
		return nil, &models.ExtractionError{URL: rec.URL, Field: e.primary, Err: ErrNoContent}
	}

	return &models.ArticleRecord{
		URL:       rec.URL,
		Fields:    fields,
		Listing:   rec,
		FetchedAt: e.now().UTC(),
	}, nil
}
