// Package selectors loads the declarative field-to-selector mappings used by
// the listing and article stages.
package selectors

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aluiziolira/go-crawl-news/models"
)

// Well-known listing fields.
const (
	FieldURLs   = "urls"
	FieldTitles = "titles"
	FieldDates  = "dates"
	FieldTopic  = "topic"
	FieldNext   = "next"
)

// aliases accepts the plural spelling older listing configs use.
var aliases = map[string]string{
	"topics": FieldTopic,
}

// Set is a named, immutable mapping from field name to compiled selector.
type Set struct {
	name   string
	fields map[string]Expr
}

// New compiles fields into a Set. Every name in required must be present.
func New(name string, fields map[string]string, required ...string) (*Set, error) {
	if len(fields) == 0 {
		return nil, models.NewConfigError(name, "selector set has no fields")
	}

	compiled := make(map[string]Expr, len(fields))
	for field, raw := range fields {
		key := Canonical(field)
		if key == "" {
			return nil, models.NewConfigError(name, "selector set contains an empty field name")
		}
		if _, dup := compiled[key]; dup {
			return nil, models.NewConfigError(name, "field %q defined more than once", key)
		}
		expr, err := Compile(raw)
		if err != nil {
			return nil, &models.ConfigError{Field: name + "." + key, Err: err}
		}
		compiled[key] = expr
	}

	for _, field := range required {
		if _, ok := compiled[Canonical(field)]; !ok {
			return nil, models.NewConfigError(name, "required selector field %q is missing", field)
		}
	}

	return &Set{name: name, fields: compiled}, nil
}

// Name returns the stage name the set was loaded for.
func (s *Set) Name() string { return s.name }

// Get returns the selector for field.
func (s *Set) Get(field string) (Expr, bool) {
	expr, ok := s.fields[Canonical(field)]
	return expr, ok
}

// Fields returns the field names in sorted order.
func (s *Set) Fields() []string {
	out := make([]string, 0, len(s.fields))
	for name := range s.fields {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of fields.
func (s *Set) Len() int { return len(s.fields) }

func (s *Set) String() string {
	return fmt.Sprintf("%s%v", s.name, s.Fields())
}

// Canonical returns the key a field name is stored under: trimmed, lower
// case, with aliases applied.
func Canonical(field string) string {
	field = strings.ToLower(strings.TrimSpace(field))
	if alias, ok := aliases[field]; ok {
		return alias
	}
	return field
}
