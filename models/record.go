// Package models defines data structures shared by the crawl stages.
package models

import "time"

// Record is anything the crawler hands to an output sink.
type Record interface {
	// Key identifies the record; sinks treat records as a set keyed by it.
	Key() string
	// Columns flattens the record into named string columns.
	Columns() map[string]string
}

// DiscoveredRecord is a candidate article found on a listing page.
type DiscoveredRecord struct {
	URL   string  `json:"url"`
	Title *string `json:"title,omitempty"`
	Date  *string `json:"date,omitempty"`
	Topic *string `json:"topic,omitempty"`
	Page  int     `json:"page"`
	Index int     `json:"index"`
}

// Key returns the record URL.
func (r *DiscoveredRecord) Key() string { return r.URL }

// Columns implements Record.
func (r *DiscoveredRecord) Columns() map[string]string {
	return map[string]string{
		"url":   r.URL,
		"title": deref(r.Title),
		"date":  deref(r.Date),
		"topic": deref(r.Topic),
	}
}

// ArticleRecord holds the fields extracted from one article page.
type ArticleRecord struct {
	URL       string            `json:"url"`
	Fields    map[string]string `json:"fields"`
	Listing   DiscoveredRecord  `json:"listing"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// Key returns the article URL.
func (a *ArticleRecord) Key() string { return a.URL }

// Field returns an extracted field and whether the selector matched.
func (a *ArticleRecord) Field(name string) (string, bool) {
	v, ok := a.Fields[name]
	return v, ok
}

// Columns implements Record. Listing metadata is prefixed with "listing_".
func (a *ArticleRecord) Columns() map[string]string {
	out := make(map[string]string, len(a.Fields)+5)
	for k, v := range a.Fields {
		out[k] = v
	}
	out["url"] = a.URL
	out["listing_title"] = deref(a.Listing.Title)
	out["listing_date"] = deref(a.Listing.Date)
	out["listing_topic"] = deref(a.Listing.Topic)
	if !a.FetchedAt.IsZero() {
		out["fetched_at"] = a.FetchedAt.UTC().Format(time.RFC3339)
	}
	return out
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
