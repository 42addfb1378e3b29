package selectors

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/xpath"
)

// Engine selects the query language of an expression.
type Engine int

const (
	EngineCSS Engine = iota
	EngineXPath
)

// Target selects what is read from each matched node.
type Target int

const (
	TargetText Target = iota
	TargetAttr
	TargetHTML
)

const xpathPrefix = "xpath:"

// Expr is a compiled selector expression.
//
//	h3 a                 text of every match
//	h3 a::text           same as above
//	h3 a::attr(href)     href attribute of every match
//	div.body::html       inner HTML of every match
//	xpath://a/@href      XPath; attribute nodes yield their value
type Expr struct {
	Raw    string
	Engine Engine
	Query  string
	Target Target
	Attr   string
}

// String returns the expression as written in configuration.
func (e Expr) String() string { return e.Raw }

// Compile parses and validates a selector expression.
func Compile(raw string) (Expr, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Expr{}, fmt.Errorf("empty selector")
	}

	if strings.HasPrefix(raw, xpathPrefix) {
		query := strings.TrimSpace(strings.TrimPrefix(raw, xpathPrefix))
		if query == "" {
			return Expr{}, fmt.Errorf("empty xpath expression")
		}
		if _, err := xpath.Compile(query); err != nil {
			return Expr{}, fmt.Errorf("invalid xpath %q: %w", query, err)
		}
		return Expr{Raw: raw, Engine: EngineXPath, Query: query, Target: TargetText}, nil
	}

	expr := Expr{Raw: raw, Engine: EngineCSS, Query: raw, Target: TargetText}
	if idx := strings.LastIndex(raw, "::"); idx >= 0 {
		query := strings.TrimSpace(raw[:idx])
		pseudo := strings.TrimSpace(raw[idx+2:])
		switch {
		case pseudo == "text":
			expr.Target = TargetText
		case pseudo == "html":
			expr.Target = TargetHTML
		case strings.HasPrefix(pseudo, "attr(") && strings.HasSuffix(pseudo, ")"):
			name := strings.TrimSpace(pseudo[len("attr(") : len(pseudo)-1])
			if name == "" {
				return Expr{}, fmt.Errorf("empty attribute name in %q", raw)
			}
			expr.Target = TargetAttr
			expr.Attr = name
		default:
			return Expr{}, fmt.Errorf("unsupported pseudo-element %q in %q", pseudo, raw)
		}
		expr.Query = query
	}
	if expr.Query == "" {
		return Expr{}, fmt.Errorf("empty css selector in %q", raw)
	}
	if _, err := cascadia.ParseGroup(expr.Query); err != nil {
		return Expr{}, fmt.Errorf("invalid css selector %q: %w", expr.Query, err)
	}
	return expr, nil
}
