package proxy

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-crawl-news/models"
)

func TestNewBuilderRequiresKey(t *testing.T) {
	if _, err := NewBuilder("https://proxy.test/v1/scrape", " "); !models.IsConfigError(err) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if _, err := NewBuilder("proxy.test", "key"); !models.IsConfigError(err) {
		t.Fatalf("expected ConfigError for relative endpoint, got %v", err)
	}
}

func TestBuild(t *testing.T) {
	b, err := NewBuilder("https://proxy.test/v1/scrape", "secret")
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}

	tests := []struct {
		name string
		req  models.FetchRequest
		want map[string]string
		miss []string
	}{
		{
			name: "plain",
			req:  models.FetchRequest{TargetURL: "https://news.test/world?page=2"},
			want: map[string]string{ParamURL: "https://news.test/world?page=2", ParamAPIKey: "secret"},
			miss: []string{ParamRenderJS, ParamWaitFor, ParamWait},
		},
		{
			name: "render with selector wait",
			req: models.FetchRequest{
				TargetURL: "https://news.test/a",
				RenderJS:  true,
				Wait:      models.WaitSpec{Kind: models.WaitSelector, Selector: "article h1"},
			},
			want: map[string]string{ParamRenderJS: "true", ParamWaitFor: "article h1"},
			miss: []string{ParamWait},
		},
		{
			name: "delay wait",
			req: models.FetchRequest{
				TargetURL: "https://news.test/a",
				Wait:      models.WaitSpec{Kind: models.WaitDelay, Delay: 1500 * time.Millisecond},
			},
			want: map[string]string{ParamWait: "1500"},
			miss: []string{ParamRenderJS, ParamWaitFor},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := b.Build(tt.req)
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			if !strings.HasPrefix(raw, "https://proxy.test/v1/scrape?") {
				t.Fatalf("unexpected endpoint: %s", raw)
			}
			parsed, err := url.Parse(raw)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			query := parsed.Query()
			for key, value := range tt.want {
				if got := query.Get(key); got != value {
					t.Fatalf("%s = %q, want %q", key, got, value)
				}
			}
			for _, key := range tt.miss {
				if query.Has(key) {
					t.Fatalf("unexpected parameter %s in %s", key, raw)
				}
			}
			if got := Target(raw); got != tt.req.TargetURL {
				t.Fatalf("Target() = %q, want %q", got, tt.req.TargetURL)
			}
		})
	}
}

func TestBuildRejectsRelativeTarget(t *testing.T) {
	b, err := NewBuilder("https://proxy.test/v1/scrape", "secret")
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}
	for _, target := range []string{"/world", "ftp://news.test/x", ""} {
		if _, err := b.Build(models.FetchRequest{TargetURL: target}); err == nil {
			t.Fatalf("expected error for %q", target)
		}
	}
}

func TestBuildIsPure(t *testing.T) {
	b, _ := NewBuilder("https://proxy.test/v1/scrape", "secret")
	req := models.FetchRequest{TargetURL: "https://news.test/a", RenderJS: true}
	first, _ := b.Build(req)
	second, _ := b.Build(models.FetchRequest{TargetURL: "https://news.test/a"})
	third, _ := b.Build(req)
	if first != third {
		t.Fatalf("same input produced different output: %s vs %s", first, third)
	}
	if strings.Contains(second, ParamRenderJS) {
		t.Fatalf("render flag leaked between calls: %s", second)
	}
}

func TestRedact(t *testing.T) {
	b, _ := NewBuilder("https://proxy.test/v1/scrape", "secret")
	raw, _ := b.Build(models.FetchRequest{TargetURL: "https://news.test/a"})
	if strings.Contains(Redact(raw), "secret") {
		t.Fatalf("api key not redacted: %s", Redact(raw))
	}
}
