package browser

import (
	"encoding/json"
	"math"
	"net/http"
	"strings"
	"time"
)

// Cookie is the persisted form of a browser cookie. Expires is unix seconds,
// -1 for a session cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// UnmarshalJSON accepts both the storage-state layout and browser cookie
// exporter output, which names the expiry expirationDate.
func (c *Cookie) UnmarshalJSON(data []byte) error {
	type plain Cookie
	aux := struct {
		plain
		Expires        *float64 `json:"expires"`
		ExpirationDate *float64 `json:"expirationDate"`
		Session        bool     `json:"session"`
	}{}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*c = Cookie(aux.plain)
	switch {
	case aux.Expires != nil:
		c.Expires = *aux.Expires
	case aux.ExpirationDate != nil && !aux.Session:
		c.Expires = *aux.ExpirationDate
	default:
		c.Expires = -1
	}
	if c.Path == "" {
		c.Path = "/"
	}
	return nil
}

// IsSession reports whether the cookie lives only for the browser session.
func (c Cookie) IsSession() bool {
	return c.Expires <= 0
}

// ExpiresAt returns the expiry time, zero for session cookies.
func (c Cookie) ExpiresAt() time.Time {
	if c.IsSession() {
		return time.Time{}
	}
	sec, frac := math.Modf(c.Expires)
	return time.Unix(int64(sec), int64(frac*1e9))
}

func (c Cookie) toHTTP() *http.Cookie {
	hc := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   strings.TrimPrefix(c.Domain, "."),
		HttpOnly: c.HTTPOnly,
		Secure:   c.Secure,
	}
	if !c.IsSession() {
		hc.Expires = c.ExpiresAt()
	}
	return hc
}

func cookieFromHTTP(hc *http.Cookie, defaultDomain string) Cookie {
	c := Cookie{
		Name:     hc.Name,
		Value:    hc.Value,
		Domain:   hc.Domain,
		Path:     hc.Path,
		Expires:  -1,
		HTTPOnly: hc.HttpOnly,
		Secure:   hc.Secure,
	}
	if c.Domain == "" {
		c.Domain = defaultDomain
	}
	if c.Path == "" {
		c.Path = "/"
	}
	switch {
	case hc.MaxAge > 0:
		c.Expires = float64(time.Now().Add(time.Duration(hc.MaxAge) * time.Second).Unix())
	case !hc.Expires.IsZero():
		c.Expires = float64(hc.Expires.Unix())
	}
	switch hc.SameSite {
	case http.SameSiteLaxMode:
		c.SameSite = "Lax"
	case http.SameSiteStrictMode:
		c.SameSite = "Strict"
	case http.SameSiteNoneMode:
		c.SameSite = "None"
	}
	return c
}
