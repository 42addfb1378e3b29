// Package parser applies selector sets to fetched pages.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-crawl-news/models"
	"github.com/aluiziolira/go-crawl-news/selectors"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Document is a parsed page plus the base URL relative links resolve against.
type Document struct {
	doc  *goquery.Document
	base *url.URL
}

// Parse builds a Document from a response body. pageURL is the target URL,
// not the proxy URL.
func Parse(pageURL string, body []byte) (*Document, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			base = base.ResolveReference(ref)
		}
	}
	return &Document{doc: doc, base: base}, nil
}

// Values evaluates expr and returns one value per matched node, in document
// order. Values are whitespace-normalized; empty strings are kept so that
// positions stay aligned with the matches.
func (d *Document) Values(expr selectors.Expr) []string {
	if expr.Engine == selectors.EngineXPath {
		return d.xpathValues(expr)
	}

	sel := d.doc.Find(expr.Query)
	out := make([]string, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		switch expr.Target {
		case selectors.TargetAttr:
			out = append(out, strings.TrimSpace(s.AttrOr(expr.Attr, "")))
		case selectors.TargetHTML:
			h, err := s.Html()
			if err != nil {
				h = ""
			}
			out = append(out, strings.TrimSpace(h))
		default:
			out = append(out, NormalizeText(s.Text()))
		}
	})
	return out
}

// First returns the first value matched by expr and whether anything matched.
func (d *Document) First(expr selectors.Expr) (string, bool) {
	values := d.Values(expr)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func (d *Document) xpathValues(expr selectors.Expr) []string {
	out := []string{}
	for _, root := range d.doc.Nodes {
		nodes, err := htmlquery.QueryAll(root, expr.Query)
		if err != nil {
			return out
		}
		for _, n := range nodes {
			if expr.Target == selectors.TargetHTML {
				out = append(out, strings.TrimSpace(htmlquery.OutputHTML(n, false)))
				continue
			}
			out = append(out, NormalizeText(nodeText(n)))
		}
	}
	return out
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	return htmlquery.InnerText(n)
}

// Resolve turns a raw href into an absolute http(s) URL.
func (d *Document) Resolve(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	abs := d.base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", fmt.Errorf("url %q is not http(s)", abs.String())
	}
	if abs.Host == "" {
		return "", fmt.Errorf("url %q has no host", abs.String())
	}
	abs.Fragment = ""
	return abs.String(), nil
}

// NormalizeText collapses runs of whitespace into single spaces.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ValidateRecord ensures a record is fit to hand to a sink.
func ValidateRecord(rec models.Record) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}
	key := strings.TrimSpace(rec.Key())
	if key == "" {
		return fmt.Errorf("record missing url")
	}
	parsed, err := url.Parse(key)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return fmt.Errorf("record url %q is not absolute", key)
	}
	return nil
}
