package scraper

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	reLeadingTicker = regexp.MustCompile(`^([A-Z0-9.]+)`)
	reMoney         = regexp.MustCompile(`^\$?\s*([0-9][0-9,]*(?:\.[0-9]+)?)`)
	reMarketCap     = regexp.MustCompile(`(?i)\$?\s*([0-9][0-9,]*(?:\.[0-9]+)?)\s*(thousand|million|billion|trillion|mm|bn|[KMBT])?\b`)
	rePricePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)price:\s*\$\s*([0-9][0-9,]*(?:\.[0-9]+)?)`),
		regexp.MustCompile(`(?i)trading at\s*\$\s*([0-9][0-9,]*(?:\.[0-9]+)?)`),
		regexp.MustCompile(`(?i)share price of\s*\$\s*([0-9][0-9,]*(?:\.[0-9]+)?)`),
	}
	reCapPattern = regexp.MustCompile(`(?i)market cap(?:italization)?:?\s*(\$?\s*[0-9][0-9,]*(?:\.[0-9]+)?\s*(?:thousand|million|billion|trillion|mm|bn|[KMBT])?)\b`)
)

var dateLayouts = []string{
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"2006-01-02",
	"01/02/2006",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// ParsePostedDate parses the site's date strings. Unrecognised text gives nil.
func ParsePostedDate(text string) *time.Time {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// ExtractTicker takes the ticker out of a container whose text is the ticker
// plus the company name. The company name is removed and the leading run of
// [A-Z0-9.] is returned, or "" when there is none. Without a company name
// the leading token would be the name's first word, so nothing is returned.
func ExtractTicker(container, companyName string) string {
	if companyName == "" {
		return ""
	}
	text := strings.TrimSpace(strings.ReplaceAll(container, companyName, ""))
	m := reLeadingTicker.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimRight(m[1], ".")
}

// ParseMoney reads a dollar amount such as "$1,234.50".
func ParseMoney(s string) (float64, bool) {
	m := reMoney.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// ParseMarketCap reads a market capitalisation in millions of dollars. A bare
// number is taken to be millions already.
func ParseMarketCap(s string) (float64, bool) {
	m := reMarketCap.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	switch strings.ToLower(m[2]) {
	case "k", "thousand":
		v /= 1000
	case "b", "bn", "billion":
		v *= 1000
	case "t", "trillion":
		v *= 1_000_000
	}
	return v, true
}

// findPriceInText looks for an entry price in free text.
func findPriceInText(text string) (float64, bool) {
	for _, re := range rePricePatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			if v, ok := ParseMoney(m[1]); ok {
				return v, true
			}
		}
	}
	return 0, false
}

func findMarketCapInText(text string) (float64, bool) {
	m := reCapPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	return ParseMarketCap(m[1])
}

// datePublishedFromJSONLD returns the first datePublished found in a JSON-LD
// blob, looking through arrays and @graph.
func datePublishedFromJSONLD(raw string) *time.Time {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil
	}
	return findDatePublished(v)
}

func findDatePublished(v any) *time.Time {
	switch x := v.(type) {
	case map[string]any:
		if s, ok := x["datePublished"].(string); ok {
			if t := ParsePostedDate(s); t != nil {
				return t
			}
		}
		for _, child := range x {
			if t := findDatePublished(child); t != nil {
				return t
			}
		}
	case []any:
		for _, child := range x {
			if t := findDatePublished(child); t != nil {
				return t
			}
		}
	}
	return nil
}

// isShortPosition scans write-up text for an explicit short stance.
func isShortPosition(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "short position") || strings.Contains(lower, "position: short")
}
