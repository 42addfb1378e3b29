package models

import "time"

// FrontierStatus is the lifecycle state of a frontier entry.
type FrontierStatus string

const (
	StatusPending  FrontierStatus = "pending"
	StatusInFlight FrontierStatus = "in_flight"
	StatusDone     FrontierStatus = "done"
	StatusFailed   FrontierStatus = "failed"
)

// FrontierEntry is one URL tracked during a run.
type FrontierEntry struct {
	URL    string
	Key    string
	Status FrontierStatus
	Seq    int
	Record DiscoveredRecord
	// Kind and Reason describe the failure of a failed entry.
	Kind   string
	Reason string
}

// Stages a failed URL can belong to.
const (
	StageListing = "listing"
	StageArticle = "article"
)

// FailedURL is reported for every URL that did not produce a record.
// Stage is the stage the URL was fetched for; only article URLs are
// reseeded by a later run.
type FailedURL struct {
	URL    string `json:"url"`
	Stage  string `json:"stage,omitempty"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// RunResult summarises a crawl run.
type RunResult struct {
	RunID        string
	StartTime    time.Time
	EndTime      time.Time
	Pages        int
	Discovered   int
	Skipped      int
	Succeeded    int
	Failed       int
	Pending      int
	Retries      int
	FailedURLs   []FailedURL
	ErrorsByKind map[string]int
}

// Duration returns the wall time of the run.
func (r *RunResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}
