package scraper

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vic_tracker/internal/browser"
	"vic_tracker/internal/models"
	"vic_tracker/internal/ratelimit"
)

const profileFixture = `<html><body>
<table>
<tr><th>Idea</th><th>Ticker</th><th>Date</th></tr>
<tr>
  <td><a href="/idea/Acme_Corp/1003001" data-iid="1003001">Acme Corp</a></td>
  <td class="col-sm-2">ACME Acme Corp</td>
  <td>Mar 4, 2021</td>
</tr>
<tr>
  <td><a href="/idea/Bolt_Inc/1003002">Bolt Inc</a> <span class="badge">S</span></td>
  <td class="col-sm-2">BOLT.A Bolt Inc</td>
  <td>Jan 15, 2023 <span class="contest-winner">Winner</span></td>
</tr>
<tr>
  <td><a href="/idea/No_Ticker/1003003" data-iid="1003003">No Ticker</a></td>
  <td class="col-sm-2">No Ticker</td>
  <td>Feb 1, 2022</td>
</tr>
<tr>
  <td>orphan row without a link</td>
  <td class="col-sm-2">ZZZ</td>
</tr>
</table>
</body></html>`

const ideaFixture = `<html><head>
<title>Acme Corp (ACME)</title>
<script type="application/ld+json">{"@context":"https://schema.org","@graph":[{"@type":"Article","datePublished":"2021-03-04T10:00:00Z"}]}</script>
</head><body>
<h1>Acme Corp</h1>
<table>
<tr><td>Price:</td><td></td><td>$1,234.50</td></tr>
<tr><td>Market Cap:</td><td></td><td>$2.5B</td></tr>
</table>
<article><p>We are recommending a short position in Acme because the balance sheet is weak.</p>
<p>Plenty of further analysis follows in this write-up so the page has real content to read.</p></article>
</body></html>`

type fakeNav struct {
	pages map[string]string
	fail  map[string]error
	calls []string
}

func (f *fakeNav) Navigate(_ context.Context, rawURL string) (*browser.Page, error) {
	f.calls = append(f.calls, rawURL)
	if err, ok := f.fail[rawURL]; ok {
		return nil, err
	}
	html, ok := f.pages[rawURL]
	if !ok {
		return nil, ratelimit.Permanent(errors.New("not found"))
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	return &browser.Page{URL: rawURL, Status: 200, Body: []byte(html), Doc: doc}, nil
}

type countingPacer struct{ waits int }

func (p *countingPacer) Wait(context.Context) error {
	p.waits++
	return nil
}

func newProfileCrawler() *ProfileCrawler {
	return NewProfileCrawler(ProfileConfig{
		ProfileURLTemplate: "https://vic.test/member/{username}/{userId}",
		Retry:              ratelimit.NewPolicy(1, time.Millisecond, zap.NewNop()),
	}, zap.NewNop())
}

func TestScrapeAuthorProfile(t *testing.T) {
	nav := &fakeNav{pages: map[string]string{"https://vic.test/member/mack885/2190": profileFixture}}

	ideas, err := newProfileCrawler().ScrapeAuthorProfile(context.Background(), nav,
		models.Author{Username: "mack885", ExternalID: "2190"})
	require.NoError(t, err)
	require.Len(t, ideas, 2)

	byID := map[string]models.Idea{}
	for _, i := range ideas {
		byID[i.ExternalIdeaID] = i
	}

	acme := byID["1003001"]
	assert.Equal(t, "ACME", acme.Ticker)
	assert.Equal(t, "Acme Corp", acme.CompanyName)
	assert.Equal(t, "mack885", acme.AuthorUsername)
	assert.Equal(t, models.PositionLong, acme.PositionType)
	assert.False(t, acme.IsContestWinner)
	assert.Equal(t, "https://vic.test/idea/Acme_Corp/1003001", acme.SourceURL)
	require.NotNil(t, acme.PostedDate)
	assert.Equal(t, time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC), *acme.PostedDate)

	bolt := byID["1003002"]
	assert.Equal(t, "BOLT.A", bolt.Ticker)
	assert.Equal(t, models.PositionShort, bolt.PositionType)
	assert.True(t, bolt.IsContestWinner)
}

func TestScrapeAuthorProfile_NavigationError(t *testing.T) {
	nav := &fakeNav{fail: map[string]error{
		"https://vic.test/member/x/1": ratelimit.Permanent(browser.ErrBotChallenge),
	}}
	_, err := newProfileCrawler().ScrapeAuthorProfile(context.Background(), nav, models.Author{Username: "x", ExternalID: "1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, browser.ErrBotChallenge))
	assert.Len(t, nav.calls, 1)
}

func TestParseIdeaPage(t *testing.T) {
	ic := NewIdeaCrawler(IdeaConfig{Retry: ratelimit.NewPolicy(1, time.Millisecond, nil)}, zap.NewNop())
	nav := &fakeNav{pages: map[string]string{"https://vic.test/idea/Acme_Corp/1003001": ideaFixture}}

	d, err := ic.ScrapeIdeaPage(context.Background(), nav, "https://vic.test/idea/Acme_Corp/1003001")
	require.NoError(t, err)

	assert.Equal(t, "ACME", d.Ticker)
	assert.Equal(t, "Acme Corp", d.CompanyName)
	require.NotNil(t, d.Price)
	assert.InDelta(t, 1234.50, *d.Price, 1e-9)
	require.NotNil(t, d.MarketCap)
	assert.InDelta(t, 2500, *d.MarketCap, 1e-9)
	assert.True(t, d.Short)
	require.NotNil(t, d.PostedDate)
	assert.Equal(t, 2021, d.PostedDate.Year())
}

func TestParseIdeaPage_EmptyPage(t *testing.T) {
	ic := NewIdeaCrawler(IdeaConfig{}, nil)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<html><body><p>nothing</p></body></html>"))
	require.NoError(t, err)

	_, err = ic.ParseIdeaPage(&browser.Page{URL: "u", Doc: doc})
	assert.True(t, errors.Is(err, ErrExtraction))
}

func TestScrapeMultipleIdeas_IsolatesFailuresAndPaces(t *testing.T) {
	nav := &fakeNav{pages: map[string]string{
		"https://vic.test/idea/a/1": ideaFixture,
		"https://vic.test/idea/c/3": ideaFixture,
	}}
	pacer := &countingPacer{}
	ic := NewIdeaCrawler(IdeaConfig{Retry: ratelimit.NewPolicy(1, time.Millisecond, nil), Pacer: pacer}, zap.NewNop())

	ideas := []models.Idea{
		{ExternalIdeaID: "1", Ticker: "ACME", SourceURL: "https://vic.test/idea/a/1"},
		{ExternalIdeaID: "2", Ticker: "GONE", SourceURL: "https://vic.test/idea/b/2"},
		{ExternalIdeaID: "3", Ticker: "OTHER", SourceURL: "https://vic.test/idea/c/3"},
	}
	out, err := ic.ScrapeMultipleIdeas(context.Background(), nav, ideas)
	require.NoError(t, err)

	require.Len(t, out, 3)
	assert.NoError(t, out[0].Err)
	assert.Error(t, out[1].Err)
	assert.NoError(t, out[2].Err)
	assert.Equal(t, "OTHER", out[2].Idea.Ticker, "profile ticker is kept")
	assert.Equal(t, models.PositionShort, out[0].Idea.PositionType)
	assert.Equal(t, 2, pacer.waits, "no pause after the last idea")
}

func TestScrapeMultipleIdeas_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	nav := &fakeNav{}
	ic := NewIdeaCrawler(IdeaConfig{}, nil)

	out, err := ic.ScrapeMultipleIdeas(ctx, nav, []models.Idea{{ExternalIdeaID: "1", SourceURL: "x"}, {ExternalIdeaID: "2", SourceURL: "y"}})
	require.NoError(t, err)
	for _, e := range out {
		assert.ErrorIs(t, e.Err, context.Canceled)
	}
	assert.Empty(t, nav.calls)
}

func TestScrapeMultipleIdeas_StopsAtBotChallenge(t *testing.T) {
	challenge := ratelimit.Permanent(browser.ErrBotChallenge)
	nav := &fakeNav{
		pages: map[string]string{"https://vic.test/idea/a/1": ideaFixture},
		fail: map[string]error{
			"https://vic.test/idea/b/2": challenge,
			"https://vic.test/idea/c/3": challenge,
			"https://vic.test/idea/d/4": challenge,
		},
	}
	ic := NewIdeaCrawler(IdeaConfig{Retry: ratelimit.NewPolicy(3, time.Millisecond, nil), Pacer: &countingPacer{}}, zap.NewNop())

	ideas := []models.Idea{
		{ExternalIdeaID: "1", SourceURL: "https://vic.test/idea/a/1"},
		{ExternalIdeaID: "2", SourceURL: "https://vic.test/idea/b/2"},
		{ExternalIdeaID: "3", SourceURL: "https://vic.test/idea/c/3"},
		{ExternalIdeaID: "4", SourceURL: "https://vic.test/idea/d/4"},
	}
	out, err := ic.ScrapeMultipleIdeas(context.Background(), nav, ideas)

	require.Error(t, err)
	assert.True(t, errors.Is(err, browser.ErrBotChallenge))
	assert.Equal(t, []string{"https://vic.test/idea/a/1", "https://vic.test/idea/b/2"}, nav.calls)
	require.Len(t, out, 4)
	assert.NoError(t, out[0].Err)
	for _, e := range out[1:] {
		assert.True(t, errors.Is(e.Err, browser.ErrBotChallenge), "idea %s", e.Idea.ExternalIdeaID)
	}
}

func TestScrapeMultipleIdeas_PacesOnlyBetweenNavigations(t *testing.T) {
	nav := &fakeNav{pages: map[string]string{
		"https://vic.test/idea/a/1": ideaFixture,
		"https://vic.test/idea/c/3": ideaFixture,
	}}
	pacer := &countingPacer{}
	ic := NewIdeaCrawler(IdeaConfig{Retry: ratelimit.NewPolicy(1, time.Millisecond, nil), Pacer: pacer}, zap.NewNop())

	ideas := []models.Idea{
		{ExternalIdeaID: "0"},
		{ExternalIdeaID: "1", SourceURL: "https://vic.test/idea/a/1"},
		{ExternalIdeaID: "2"},
		{ExternalIdeaID: "3", SourceURL: "https://vic.test/idea/c/3"},
		{ExternalIdeaID: "4"},
	}
	out, err := ic.ScrapeMultipleIdeas(context.Background(), nav, ideas)
	require.NoError(t, err)

	assert.ErrorIs(t, out[0].Err, ErrExtraction)
	assert.ErrorIs(t, out[4].Err, ErrExtraction)
	assert.Len(t, nav.calls, 2)
	assert.Equal(t, 1, pacer.waits)
}

func TestExtractTicker(t *testing.T) {
	assert.Equal(t, "ACME", ExtractTicker("ACME Acme Corp", "Acme Corp"))
	assert.Equal(t, "BRK.B", ExtractTicker("Berkshire BRK.B", "Berkshire"))
	assert.Equal(t, "", ExtractTicker("No Ticker", "No Ticker"))
	assert.Equal(t, "", ExtractTicker("lowercase only", "lowercase"))
	assert.Equal(t, "", ExtractTicker("ZILLOW GROUP INC Z", ""), "no company name to strip")
}

func TestParseHelpers(t *testing.T) {
	v, ok := ParseMoney("$1,234.5")
	require.True(t, ok)
	assert.InDelta(t, 1234.5, v, 1e-9)

	_, ok = ParseMoney("n/a")
	assert.False(t, ok)

	mc, ok := ParseMarketCap("850")
	require.True(t, ok)
	assert.InDelta(t, 850, mc, 1e-9)

	mc, ok = ParseMarketCap("$1.2 trillion")
	require.True(t, ok)
	assert.InDelta(t, 1_200_000, mc, 1e-6)

	assert.Nil(t, ParsePostedDate("sometime last year"))
	d := ParsePostedDate("Dec  31,  2020")
	require.NotNil(t, d)
	assert.Equal(t, time.December, d.Month())

	assert.True(t, isShortPosition("Position: Short"))
	assert.False(t, isShortPosition("long thesis"))
}
