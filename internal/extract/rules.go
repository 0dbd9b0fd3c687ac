// Package extract turns configurable selector rules into field values.
//
// A field maps to an ordered list of candidates. The first candidate that
// produces a value wins; a field with no match is reported as absent, never
// as an error.
package extract

import (
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// Candidate is one way of locating a field inside a selection.
type Candidate struct {
	// Selector is a CSS selector relative to the scope. Empty means the scope itself.
	Selector string `yaml:"selector" json:"selector,omitempty"`
	// Attr reads an attribute instead of the element text.
	Attr string `yaml:"attr" json:"attr,omitempty"`
	// Regex is applied to the raw value; the first submatch is used when present.
	Regex string `yaml:"regex" json:"regex,omitempty"`
	// HTMLContains requires the matched element's inner HTML to contain this text.
	HTMLContains string `yaml:"html_contains" json:"htmlContains,omitempty"`
}

// Rules maps a field name to its candidates.
type Rules map[string][]Candidate

var (
	reCache   = map[string]*regexp.Regexp{}
	reCacheMu sync.Mutex
	reSpaces  = regexp.MustCompile(`\s+`)
)

func compile(expr string) *regexp.Regexp {
	reCacheMu.Lock()
	defer reCacheMu.Unlock()

	if re, ok := reCache[expr]; ok {
		return re
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		re = nil
	}
	reCache[expr] = re
	return re
}

// NormalizeSpace collapses runs of whitespace and trims the result.
func NormalizeSpace(s string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
}

func (c Candidate) scope(sel *goquery.Selection) *goquery.Selection {
	if c.Selector == "" {
		return sel
	}
	return sel.Find(c.Selector)
}

func (c Candidate) value(el *goquery.Selection) (string, bool) {
	if c.HTMLContains != "" {
		html, err := el.Html()
		if err != nil || !strings.Contains(html, c.HTMLContains) {
			return "", false
		}
	}

	var raw string
	if c.Attr != "" {
		v, ok := el.Attr(c.Attr)
		if !ok {
			return "", false
		}
		raw = v
	} else {
		raw = NormalizeSpace(el.Text())
	}

	if c.Regex != "" {
		re := compile(c.Regex)
		if re == nil {
			return "", false
		}
		m := re.FindStringSubmatch(raw)
		if m == nil {
			return "", false
		}
		if len(m) > 1 {
			raw = m[1]
		} else {
			raw = m[0]
		}
	}

	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

// Value returns the first non-empty value any candidate yields.
func Value(sel *goquery.Selection, cands []Candidate) (string, bool) {
	for _, c := range cands {
		var (
			out   string
			found bool
		)
		c.scope(sel).EachWithBreak(func(_ int, el *goquery.Selection) bool {
			out, found = c.value(el)
			return !found
		})
		if found {
			return out, true
		}
	}
	return "", false
}

// Exists reports whether any candidate matches an element. Regex and
// HTMLContains constraints still apply; an element with empty text counts as
// present when the candidate has neither constraint.
func Exists(sel *goquery.Selection, cands []Candidate) bool {
	for _, c := range cands {
		matched := false
		c.scope(sel).EachWithBreak(func(_ int, el *goquery.Selection) bool {
			if c.Regex == "" && c.HTMLContains == "" && c.Attr == "" {
				matched = true
				return false
			}
			_, matched = c.value(el)
			return !matched
		})
		if matched {
			return true
		}
	}
	return false
}

// Nodes returns the elements matched by the first candidate selector that
// matches anything.
func Nodes(sel *goquery.Selection, cands []Candidate) *goquery.Selection {
	for _, c := range cands {
		if found := c.scope(sel); found.Length() > 0 {
			return found
		}
	}
	return sel.Slice(0, 0)
}

// Field is a convenience wrapper for Value keyed by field name.
func (r Rules) Field(sel *goquery.Selection, field string) (string, bool) {
	return Value(sel, r[field])
}

// Has is a convenience wrapper for Exists keyed by field name.
func (r Rules) Has(sel *goquery.Selection, field string) bool {
	return Exists(sel, r[field])
}

// Merge returns a copy of r with fields from override replacing its own.
func (r Rules) Merge(override Rules) Rules {
	out := make(Rules, len(r)+len(override))
	for k, v := range r {
		out[k] = v
	}
	for k, v := range override {
		if len(v) > 0 {
			out[k] = v
		}
	}
	return out
}
