package browser

import (
	"net/http"
	"strings"
)

// BlockType describes the kind of anti-bot interstitial detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockMarker     BlockType = "marker"
)

// DefaultChallengeMarkers are lowercase body substrings of challenge pages.
var DefaultChallengeMarkers = []string{
	"checking your browser",
	"cf-browser-verification",
	"challenge-platform",
	"just a moment...",
	"verify you are human",
}

// DetectBlock checks a response for signs of anti-bot protection. markers
// are extra lowercase body substrings.
func DetectBlock(status int, header http.Header, body []byte, markers []string) (bool, BlockType) {
	if status == http.StatusForbidden || status == http.StatusServiceUnavailable {
		if header.Get("cf-ray") != "" || header.Get("cf-mitigated") != "" ||
			strings.EqualFold(header.Get("server"), "cloudflare") {
			return true, BlockCloudflare
		}
	}

	lower := strings.ToLower(string(body))
	if HasChallengeMarker(lower, markers) {
		return true, BlockMarker
	}
	if strings.Contains(lower, "g-recaptcha") || strings.Contains(lower, "h-captcha") ||
		strings.Contains(lower, "cf-turnstile") {
		return true, BlockCaptcha
	}
	return false, BlockNone
}

// HasChallengeMarker reports whether lowerBody contains any marker.
func HasChallengeMarker(lowerBody string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(lowerBody, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
