package queue

import (
	"net/url"
	"strings"

	"vic_tracker/internal/models"
)

// BuildProfileURL fills {username} and {userId} in a profile URL template.
func BuildProfileURL(template string, a models.Author) string {
	r := strings.NewReplacer(
		"{username}", url.PathEscape(a.Username),
		"{userId}", url.PathEscape(a.ExternalID),
	)
	return r.Replace(template)
}

// NormalizeURL resolves ref against base and strips the fragment and a
// leading www. so the same idea always maps to the same source URL.
func NormalizeURL(base, ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if b, err := url.Parse(base); err == nil && base != "" {
		parsed = b.ResolveReference(parsed)
	}

	parsed.Fragment = ""
	parsed.Host = strings.TrimPrefix(parsed.Host, "www.")
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	return parsed.String()
}
