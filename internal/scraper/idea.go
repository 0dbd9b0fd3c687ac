package scraper

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"vic_tracker/internal/browser"
	"vic_tracker/internal/extract"
	"vic_tracker/internal/models"
	"vic_tracker/internal/ratelimit"
)

// ErrExtraction marks a page that loaded but did not look like an idea.
var ErrExtraction = eris.New("idea page extraction failed")

const (
	priceLabel     = "price:"
	marketCapLabel = "market cap"
)

// Detail is what an idea page adds to the profile listing.
type Detail struct {
	Ticker      string
	CompanyName string
	Price       *float64
	MarketCap   *float64
	Short       bool
	PostedDate  *time.Time
}

// EnrichedIdea is a profile idea merged with its detail page. Err is set
// when enrichment failed; such ideas are never persisted.
type EnrichedIdea struct {
	Idea models.Idea
	Err  error
}

// Waiter paces consecutive page loads.
type Waiter interface {
	Wait(ctx context.Context) error
}

type IdeaConfig struct {
	Rules extract.Rules
	Retry ratelimit.Policy
	Pacer Waiter
}

// IdeaCrawler enriches ideas from their write-up pages.
type IdeaCrawler struct {
	cfg IdeaConfig
	log *zap.Logger
}

func NewIdeaCrawler(cfg IdeaConfig, log *zap.Logger) *IdeaCrawler {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Rules == nil {
		cfg.Rules = extract.DefaultIdeaRules()
	}
	return &IdeaCrawler{cfg: cfg, log: log.Named("idea")}
}

// ScrapeIdeaPage loads one idea page and extracts its details.
func (ic *IdeaCrawler) ScrapeIdeaPage(ctx context.Context, nav browser.Navigator, ideaURL string) (*Detail, error) {
	page, err := ratelimit.WithRetry(ctx, ic.cfg.Retry, func(ctx context.Context) (*browser.Page, error) {
		return nav.Navigate(ctx, ideaURL)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "load idea %s", ideaURL)
	}
	return ic.ParseIdeaPage(page)
}

// ParseIdeaPage extracts details from a loaded idea page.
func (ic *IdeaCrawler) ParseIdeaPage(page *browser.Page) (*Detail, error) {
	if page == nil || page.Doc == nil {
		return nil, eris.Wrap(ErrExtraction, "empty page")
	}
	doc := page.Doc
	rules := ic.cfg.Rules
	d := &Detail{}

	d.Ticker, _ = rules.Field(doc.Selection, extract.FieldTitleTicker)
	d.CompanyName, _ = rules.Field(doc.Selection, extract.FieldHeading)
	if d.Ticker == "" && d.CompanyName == "" {
		return nil, eris.Wrapf(ErrExtraction, "no title or heading at %s", page.URL)
	}

	rows := extract.Nodes(doc.Selection, rules[extract.FieldStatsRow])
	if v, ok := labelledValue(rows, func(label string) bool { return label == priceLabel }); ok {
		if p, ok := ParseMoney(v); ok {
			d.Price = &p
		}
	}
	if v, ok := labelledValue(rows, func(label string) bool { return strings.HasPrefix(label, marketCapLabel) }); ok {
		if mc, ok := ParseMarketCap(v); ok {
			d.MarketCap = &mc
		}
	}

	bodyText, _ := rules.Field(doc.Selection, extract.FieldBody)
	if d.Price == nil {
		if p, ok := findPriceInText(bodyText); ok {
			d.Price = &p
		}
	}
	if d.MarketCap == nil {
		if mc, ok := findMarketCapInText(bodyText); ok {
			d.MarketCap = &mc
		}
	}

	writeUp := bodyText
	if article, err := readableText(string(page.Body), page.URL); err == nil && article.Text != "" {
		writeUp = article.Text
	} else if err != nil {
		ic.log.Debug("readability failed, scanning full body", zap.String("url", page.URL), zap.Error(err))
	}
	d.Short = isShortPosition(writeUp)

	if raw, ok := rules.Field(doc.Selection, extract.FieldJSONLD); ok {
		d.PostedDate = datePublishedFromJSONLD(raw)
	}
	return d, nil
}

// labelledValue finds a table row whose first cell matches and returns the
// value cell: the third cell when present, else the last.
func labelledValue(rows *goquery.Selection, match func(label string) bool) (string, bool) {
	var (
		out   string
		found bool
	)
	rows.EachWithBreak(func(_ int, row *goquery.Selection) bool {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return true
		}
		label := strings.ToLower(extract.NormalizeSpace(cells.First().Text()))
		if !match(label) {
			return true
		}
		valueCell := cells.Last()
		if cells.Length() > 2 {
			valueCell = cells.Eq(2)
		}
		out = extract.NormalizeSpace(valueCell.Text())
		found = out != ""
		return !found
	})
	return out, found
}

// Merge applies page details on top of a profile idea. The profile's ticker
// is authoritative.
func Merge(idea models.Idea, d *Detail) models.Idea {
	if d == nil {
		return idea
	}
	if idea.CompanyName == "" {
		idea.CompanyName = d.CompanyName
	}
	if idea.Ticker == "" {
		idea.Ticker = d.Ticker
	}
	if d.Price != nil {
		idea.PriceAtRec = d.Price
	}
	if d.MarketCap != nil {
		idea.MarketCapAtRec = d.MarketCap
	}
	if d.Short {
		idea.PositionType = models.PositionShort
	}
	if idea.PostedDate == nil && d.PostedDate != nil {
		idea.PostedDate = d.PostedDate
	}
	return idea
}

// ScrapeMultipleIdeas enriches ideas one at a time, pausing between page
// loads but not after the last. A failed idea carries its error and the
// batch continues; a cancelled context fails every remaining idea.
//
// A bot challenge stops the batch: every idea not yet enriched carries the
// challenge error, which is also returned.
func (ic *IdeaCrawler) ScrapeMultipleIdeas(ctx context.Context, nav browser.Navigator, ideas []models.Idea) ([]EnrichedIdea, error) {
	out := make([]EnrichedIdea, len(ideas))
	for i := range ideas {
		out[i].Idea = ideas[i]
	}

	navigated := false
	for i, idea := range ideas {
		if err := ctx.Err(); err != nil {
			out[i].Err = err
			continue
		}
		if idea.SourceURL == "" {
			out[i].Err = eris.Wrapf(ErrExtraction, "idea %s has no source url", idea.ExternalIdeaID)
			continue
		}

		if navigated && ic.cfg.Pacer != nil {
			if err := ic.cfg.Pacer.Wait(ctx); err != nil {
				ic.log.Debug("pause interrupted", zap.Error(err))
				out[i].Err = err
				continue
			}
		}
		navigated = true

		detail, err := ic.ScrapeIdeaPage(ctx, nav, idea.SourceURL)
		if errors.Is(err, browser.ErrBotChallenge) {
			ic.log.Warn("bot challenge during idea enrichment, stopping batch",
				zap.String("idea", idea.ExternalIdeaID),
				zap.Int("remaining", len(ideas)-i))
			for j := i; j < len(ideas); j++ {
				out[j].Err = err
			}
			return out, err
		}
		if err != nil {
			out[i].Err = err
			ic.log.Warn("idea enrichment failed", zap.String("idea", idea.ExternalIdeaID), zap.Error(err))
			continue
		}

		if detail.Ticker != "" && idea.Ticker != "" && !strings.EqualFold(detail.Ticker, idea.Ticker) {
			ic.log.Info("ticker differs between profile and idea page",
				zap.String("idea", idea.ExternalIdeaID),
				zap.String("profile", idea.Ticker),
				zap.String("page", detail.Ticker))
		}
		out[i].Idea = Merge(idea, detail)
	}
	return out, nil
}
