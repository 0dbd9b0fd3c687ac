package session

import (
	"sort"
	"strings"
	"time"
)

const (
	SessionCookie  = "vic_session"
	RememberPrefix = "remember_web_"
)

// CloudflareCookies are the clearance cookies worth tracking.
var CloudflareCookies = []string{"cf_clearance", "__cf_bm", "__cflb"}

type HealthStatus string

const (
	StatusNoSession HealthStatus = "NO_SESSION"
	StatusExpired   HealthStatus = "EXPIRED"
	StatusValid     HealthStatus = "VALID"
)

const expiringSoonWindow = time.Hour

type CookieExpiry struct {
	Name      string        `json:"name"`
	Session   bool          `json:"session"`
	ExpiresAt time.Time     `json:"expiresAt,omitempty"`
	Remaining time.Duration `json:"remaining"`
	Expired   bool          `json:"expired"`
}

// Health describes a stored session without touching the network.
type Health struct {
	Status           HealthStatus    `json:"status"`
	HasSessionToken  bool            `json:"hasSessionToken"`
	HasRememberToken bool            `json:"hasRememberToken"`
	HasCloudflare    map[string]bool `json:"hasCloudflare"`
	SessionAge       time.Duration   `json:"sessionAge"`
	SavedAt          time.Time       `json:"savedAt,omitempty"`
	Cookies          []CookieExpiry  `json:"cookies"`
	FirstExpiring    string          `json:"firstExpiring,omitempty"`
	ExpiringSoon     bool            `json:"expiringSoon"`
}

// ComputeHealth is pure: the same bundle and now always give the same result.
// A nil bundle means nothing is stored.
func ComputeHealth(b *Bundle, now time.Time) Health {
	h := Health{Status: StatusNoSession, HasCloudflare: map[string]bool{}}
	for _, name := range CloudflareCookies {
		h.HasCloudflare[name] = false
	}
	if b == nil {
		return h
	}

	h.SavedAt = b.SavedAt
	if !b.SavedAt.IsZero() {
		h.SessionAge = now.Sub(b.SavedAt)
	}

	tokenExpired := false
	for _, c := range b.Cookies {
		switch {
		case c.Name == SessionCookie:
			h.HasSessionToken = true
		case strings.HasPrefix(c.Name, RememberPrefix):
			h.HasRememberToken = true
		}
		if _, tracked := h.HasCloudflare[c.Name]; tracked {
			h.HasCloudflare[c.Name] = true
		}
		if !isKeyCookie(c.Name) {
			continue
		}

		exp := CookieExpiry{Name: c.Name, Session: c.IsSession()}
		if !exp.Session {
			exp.ExpiresAt = c.ExpiresAt()
			exp.Remaining = exp.ExpiresAt.Sub(now)
			exp.Expired = exp.Remaining <= 0
		}
		if c.Name == SessionCookie && exp.Expired {
			tokenExpired = true
		}
		h.Cookies = append(h.Cookies, exp)
	}

	sort.SliceStable(h.Cookies, func(i, j int) bool {
		a, b := h.Cookies[i], h.Cookies[j]
		if a.Session != b.Session {
			return !a.Session
		}
		return a.ExpiresAt.Before(b.ExpiresAt)
	})
	for _, c := range h.Cookies {
		if c.Session || c.Expired {
			continue
		}
		h.FirstExpiring = c.Name
		h.ExpiringSoon = c.Remaining < expiringSoonWindow
		break
	}

	switch {
	case !h.HasSessionToken:
		h.Status = StatusNoSession
	case tokenExpired:
		h.Status = StatusExpired
	default:
		h.Status = StatusValid
	}
	return h
}

func isKeyCookie(name string) bool {
	if name == SessionCookie || strings.HasPrefix(name, RememberPrefix) {
		return true
	}
	for _, cf := range CloudflareCookies {
		if name == cf {
			return true
		}
	}
	return false
}
