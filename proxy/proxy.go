// Package proxy turns a target URL and per-call fetch options into a request
// against the rendering proxy service.
package proxy

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/aluiziolira/go-crawl-news/models"
)

// Query parameters understood by the rendering proxy.
const (
	ParamURL      = "url"
	ParamAPIKey   = "api_key"
	ParamRenderJS = "render_js"
	ParamWaitFor  = "wait_for"
	ParamWait     = "wait"
)

// Builder produces proxy URLs. It holds no mutable state.
type Builder struct {
	endpoint *url.URL
	apiKey   string
}

// NewBuilder validates the endpoint and token. A missing token is a
// *models.ConfigError.
func NewBuilder(endpoint, apiKey string) (*Builder, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, models.NewConfigError("proxy_api_key", "proxy API key is not configured")
	}
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return nil, &models.ConfigError{Field: "proxy_endpoint", Err: err}
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, models.NewConfigError("proxy_endpoint", "proxy endpoint %q must be absolute", endpoint)
	}
	return &Builder{endpoint: parsed, apiKey: apiKey}, nil
}

// Build returns the outbound request URL for req.
func (b *Builder) Build(req models.FetchRequest) (string, error) {
	target, err := url.Parse(req.TargetURL)
	if err != nil {
		return "", fmt.Errorf("parse target url: %w", err)
	}
	if (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return "", fmt.Errorf("target url %q must be absolute http(s)", req.TargetURL)
	}

	query := b.endpoint.Query()
	query.Set(ParamURL, target.String())
	query.Set(ParamAPIKey, b.apiKey)
	if req.RenderJS {
		query.Set(ParamRenderJS, "true")
	}
	switch req.Wait.Kind {
	case models.WaitSelector:
		query.Set(ParamWaitFor, req.Wait.Selector)
	case models.WaitDelay:
		query.Set(ParamWait, strconv.FormatInt(req.Wait.Delay.Milliseconds(), 10))
	}

	out := *b.endpoint
	out.RawQuery = query.Encode()
	return out.String(), nil
}

// Target recovers the target URL embedded in a proxy URL.
func Target(proxyURL string) string {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return ""
	}
	return parsed.Query().Get(ParamURL)
}

// Redact removes the API key from a proxy URL so it can be logged.
func Redact(proxyURL string) string {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return proxyURL
	}
	query := parsed.Query()
	if query.Has(ParamAPIKey) {
		query.Set(ParamAPIKey, "REDACTED")
		parsed.RawQuery = query.Encode()
	}
	return parsed.String()
}
