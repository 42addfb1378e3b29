package models

import (
	"fmt"
	"strings"
	"time"
)

// WaitKind selects how the rendering proxy decides a page is ready.
type WaitKind int

const (
	WaitNone WaitKind = iota
	WaitDelay
	WaitSelector
)

// WaitSpec is the wait condition sent to the rendering proxy.
type WaitSpec struct {
	Kind     WaitKind
	Delay    time.Duration
	Selector string
}

// String renders the spec in the form accepted by ParseWaitSpec.
func (w WaitSpec) String() string {
	switch w.Kind {
	case WaitDelay:
		return "delay:" + w.Delay.String()
	case WaitSelector:
		return "selector:" + w.Selector
	default:
		return ""
	}
}

// ParseWaitSpec accepts "", "delay:<duration>", "selector:<css>", a bare
// duration, or any other string which is treated as a selector.
func ParseWaitSpec(raw string) (WaitSpec, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return WaitSpec{}, nil
	case strings.HasPrefix(raw, "delay:"):
		d, err := time.ParseDuration(strings.TrimPrefix(raw, "delay:"))
		if err != nil {
			return WaitSpec{}, fmt.Errorf("parse wait delay: %w", err)
		}
		if d <= 0 {
			return WaitSpec{}, fmt.Errorf("wait delay must be positive")
		}
		return WaitSpec{Kind: WaitDelay, Delay: d}, nil
	case strings.HasPrefix(raw, "selector:"):
		sel := strings.TrimSpace(strings.TrimPrefix(raw, "selector:"))
		if sel == "" {
			return WaitSpec{}, fmt.Errorf("wait selector cannot be empty")
		}
		return WaitSpec{Kind: WaitSelector, Selector: sel}, nil
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return WaitSpec{Kind: WaitDelay, Delay: d}, nil
	}
	return WaitSpec{Kind: WaitSelector, Selector: raw}, nil
}

// FetchRequest describes one page fetch through the rendering proxy.
type FetchRequest struct {
	TargetURL string
	RenderJS  bool
	Wait      WaitSpec
	// Stage labels the request for logs and metrics.
	Stage string
}

// FetchResult is the outcome of a fetch. Failure is nil on success.
type FetchResult struct {
	URL      string
	Status   int
	Body     []byte
	Attempts int
	Duration time.Duration
	Failure  *FetchError
}

// OK reports whether the fetch succeeded.
func (r FetchResult) OK() bool { return r.Failure == nil }

// Err returns the failure as an error, or nil.
func (r FetchResult) Err() error {
	if r.Failure == nil {
		return nil
	}
	return r.Failure
}
