// Package browser provides a cookie-carrying browsing context over colly.
package browser

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/net/publicsuffix"

	"vic_tracker/internal/ratelimit"
)

var (
	// ErrBotChallenge means the site served an anti-bot interstitial. It is
	// always wrapped as permanent.
	ErrBotChallenge     = eris.New("bot challenge detected")
	ErrRobotsDisallowed = eris.New("disallowed by robots.txt")
	ErrHTTPStatus       = eris.New("unexpected http status")
)

// Page is a loaded document.
type Page struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte
	Doc    *goquery.Document
}

// LowerBody returns the body lowercased, for marker checks.
func (p *Page) LowerBody() string {
	return strings.ToLower(string(p.Body))
}

// Navigator loads pages.
type Navigator interface {
	Navigate(ctx context.Context, rawURL string) (*Page, error)
}

// Browser is a Navigator that owns cookie state.
type Browser interface {
	Navigator
	Cookies() []Cookie
	Close()
}

type Options struct {
	BaseURL          string
	UserAgent        string
	Timeout          time.Duration
	ChallengeMarkers []string
	RespectRobots    bool
	// Transport replaces the default cloudflare-aware transport.
	Transport http.RoundTripper
}

// Context is one browsing session: a collector, its cookie jar and the
// cookie records needed to persist the session again.
type Context struct {
	opts      Options
	base      *url.URL
	collector *colly.Collector
	jar       *cookiejar.Jar
	transport *http.Transport
	log       *zap.Logger

	mu      sync.Mutex
	records map[string]Cookie
	referer string
	robots  *robotsGate
}

// New builds a browsing context pre-loaded with seed cookies.
func New(opts Options, seed []Cookie, log *zap.Logger) (*Context, error) {
	if log == nil {
		log = zap.NewNop()
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Host == "" {
		return nil, eris.Errorf("invalid base url %q", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if len(opts.ChallengeMarkers) == 0 {
		opts.ChallengeMarkers = DefaultChallengeMarkers
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, eris.Wrap(err, "create cookie jar")
	}

	bc := &Context{
		opts:    opts,
		base:    base,
		jar:     jar,
		log:     log.Named("browser"),
		records: make(map[string]Cookie),
	}

	transport := opts.Transport
	if transport == nil {
		bc.transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        4,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
		transport = cloudflarebp.AddCloudFlareByPass(bc.transport)
	}

	c := colly.NewCollector(
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
	)
	c.ParseHTTPErrorResponse = true
	c.SetRequestTimeout(opts.Timeout)
	c.WithTransport(transport)
	c.SetCookieJar(jar)
	bc.collector = c

	bc.seed(seed)
	if opts.RespectRobots {
		bc.robots = &robotsGate{}
	}
	return bc, nil
}

func cookieKey(c Cookie) string {
	return c.Name + "|" + strings.TrimPrefix(c.Domain, ".") + "|" + c.Path
}

func (bc *Context) seed(cookies []Cookie) {
	for _, ck := range cookies {
		host := strings.TrimPrefix(ck.Domain, ".")
		if host == "" {
			host = bc.base.Hostname()
			ck.Domain = host
		}
		u := &url.URL{Scheme: bc.base.Scheme, Host: host, Path: "/"}
		bc.jar.SetCookies(u, []*http.Cookie{ck.toHTTP()})
		bc.records[cookieKey(ck)] = ck
	}
	bc.log.Debug("seeded cookies", zap.Int("count", len(cookies)))
}

// Navigate loads rawURL, resolved against the base URL. When a response was
// received the page is returned even if err is non-nil. Bot challenges and
// robots refusals are permanent errors; transport failures, 429 and 5xx are
// transient.
func (bc *Context) Navigate(ctx context.Context, rawURL string) (*Page, error) {
	target, err := bc.resolve(rawURL)
	if err != nil {
		return nil, ratelimit.Permanent(err)
	}

	if bc.robots != nil && !bc.robots.allowed(ctx, bc, target) {
		return nil, ratelimit.Permanent(eris.Wrapf(ErrRobotsDisallowed, "navigate %s", target))
	}

	page, err := bc.fetch(ctx, target.String())
	if err != nil {
		return nil, err
	}

	if blocked, kind := DetectBlock(page.Status, page.Header, page.Body, bc.opts.ChallengeMarkers); blocked {
		bc.log.Warn("bot challenge", zap.String("url", page.URL), zap.String("kind", string(kind)))
		return page, ratelimit.Permanent(eris.Wrapf(ErrBotChallenge, "%s challenge at %s", kind, page.URL))
	}

	switch {
	case page.Status == http.StatusTooManyRequests || page.Status >= 500:
		return page, eris.Wrapf(ErrHTTPStatus, "navigate %s: status %d", page.URL, page.Status)
	case page.Status >= 400:
		return page, ratelimit.Permanent(eris.Wrapf(ErrHTTPStatus, "navigate %s: status %d", page.URL, page.Status))
	}

	bc.mu.Lock()
	bc.referer = page.URL
	bc.mu.Unlock()
	return page, nil
}

func (bc *Context) resolve(rawURL string) (*url.URL, error) {
	ref, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "parse url %q", rawURL)
	}
	return bc.base.ResolveReference(ref), nil
}

func (bc *Context) fetch(ctx context.Context, target string) (*Page, error) {
	col := bc.collector.Clone()
	col.ParseHTTPErrorResponse = true
	col.AllowURLRevisit = true

	bc.mu.Lock()
	referer := bc.referer
	bc.mu.Unlock()

	var (
		page   *Page
		cbErr  error
		result = make(chan error, 1)
	)

	col.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		if referer != "" {
			r.Headers.Set("Referer", referer)
		}
	})
	col.OnResponse(func(r *colly.Response) {
		header := http.Header{}
		if r.Headers != nil {
			header = r.Headers.Clone()
		}
		bc.capture(header, r.Request.URL)
		page = &Page{
			URL:    r.Request.URL.String(),
			Status: r.StatusCode,
			Header: header,
			Body:   toUTF8(r.Body, header.Get("Content-Type")),
		}
	})
	col.OnError(func(_ *colly.Response, err error) {
		cbErr = err
	})

	go func() {
		result <- col.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return nil, eris.Wrapf(ctx.Err(), "navigate %s", target)
	case err := <-result:
		if err == nil {
			err = cbErr
		}
		if err != nil {
			return nil, eris.Wrapf(err, "navigate %s", target)
		}
	}

	if page == nil {
		return nil, eris.Errorf("navigate %s: no response", target)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, eris.Wrapf(err, "parse %s", page.URL)
	}
	page.Doc = doc
	return page, nil
}

func toUTF8(body []byte, contentType string) []byte {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil || params["charset"] == "" || strings.EqualFold(params["charset"], "utf-8") {
		return body
	}
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return body
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return body
	}
	return out
}

// capture records Set-Cookie headers so expiry metadata survives a save.
func (bc *Context) capture(header http.Header, from *url.URL) {
	resp := http.Response{Header: header}
	set := resp.Cookies()
	if len(set) == 0 {
		return
	}

	bc.mu.Lock()
	defer bc.mu.Unlock()
	for _, hc := range set {
		ck := cookieFromHTTP(hc, from.Hostname())
		if hc.MaxAge < 0 || (!hc.Expires.IsZero() && hc.Expires.Before(time.Now())) {
			delete(bc.records, cookieKey(ck))
			continue
		}
		bc.records[cookieKey(ck)] = ck
	}
}

// Cookies returns the session's current cookies for the base URL, carrying
// expiry metadata from the records where known.
func (bc *Context) Cookies() []Cookie {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	byName := make(map[string]Cookie, len(bc.records))
	for _, rec := range bc.records {
		byName[rec.Name] = rec
	}

	live := bc.jar.Cookies(bc.base)
	out := make([]Cookie, 0, len(live))
	for _, hc := range live {
		ck, ok := byName[hc.Name]
		if !ok {
			ck = Cookie{Name: hc.Name, Domain: bc.base.Hostname(), Path: "/", Expires: -1}
		}
		ck.Value = hc.Value
		out = append(out, ck)
	}
	return out
}

func (bc *Context) Close() {
	if bc.transport != nil {
		bc.transport.CloseIdleConnections()
	}
}
