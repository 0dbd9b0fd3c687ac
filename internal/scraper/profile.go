// Package scraper reads author profiles and idea write-ups from loaded pages.
package scraper

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"vic_tracker/internal/browser"
	"vic_tracker/internal/extract"
	"vic_tracker/internal/models"
	"vic_tracker/internal/queue"
	"vic_tracker/internal/ratelimit"
)

type ProfileConfig struct {
	Rules              extract.Rules
	ProfileURLTemplate string
	Retry              ratelimit.Policy
	SettleDelay        time.Duration
}

// ProfileCrawler lists the ideas on an author's profile page.
type ProfileCrawler struct {
	cfg ProfileConfig
	log *zap.Logger
}

func NewProfileCrawler(cfg ProfileConfig, log *zap.Logger) *ProfileCrawler {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Rules == nil {
		cfg.Rules = extract.DefaultProfileRules()
	}
	return &ProfileCrawler{cfg: cfg, log: log.Named("profile")}
}

// ScrapeAuthorProfile loads the author's profile and returns the partial
// ideas listed there. Output order carries no meaning.
func (pc *ProfileCrawler) ScrapeAuthorProfile(ctx context.Context, nav browser.Navigator, author models.Author) ([]models.Idea, error) {
	profileURL := queue.BuildProfileURL(pc.cfg.ProfileURLTemplate, author)
	pc.log.Info("crawling profile", zap.String("author", author.Username), zap.String("url", profileURL))

	page, err := ratelimit.WithRetry(ctx, pc.cfg.Retry, func(ctx context.Context) (*browser.Page, error) {
		return nav.Navigate(ctx, profileURL)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "load profile of %s", author.Username)
	}

	if err := ratelimit.Sleep(ctx, pc.cfg.SettleDelay); err != nil {
		return nil, err
	}

	ideas := pc.ParseProfile(page.Doc, author.Username, page.URL)
	pc.log.Info("profile crawled", zap.String("author", author.Username), zap.Int("ideas", len(ideas)))
	return ideas, nil
}

// ParseProfile extracts ideas from a profile document. Rows without an idea
// id or a ticker are skipped.
func (pc *ProfileCrawler) ParseProfile(doc *goquery.Document, username, pageURL string) []models.Idea {
	if doc == nil {
		return nil
	}

	rows := extract.Nodes(doc.Selection, pc.cfg.Rules[extract.FieldRow])
	seen := make(map[string]bool)
	ideas := make([]models.Idea, 0, rows.Length())
	skipped := 0

	rows.Each(func(i int, row *goquery.Selection) {
		if row.Find("td").Length() == 0 {
			return
		}
		idea, err := pc.parseRow(row, username, pageURL)
		if err != nil {
			skipped++
			pc.log.Debug("row skipped", zap.Int("row", i), zap.Error(err))
			return
		}
		if seen[idea.ExternalIdeaID] {
			return
		}
		seen[idea.ExternalIdeaID] = true
		ideas = append(ideas, idea)
	})

	if skipped > 0 {
		pc.log.Debug("profile rows skipped", zap.String("author", username), zap.Int("skipped", skipped))
	}
	return ideas
}

func (pc *ProfileCrawler) parseRow(row *goquery.Selection, username, pageURL string) (idea models.Idea, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("row parse panic: %v", r)
		}
	}()

	rules := pc.cfg.Rules
	id, ok := rules.Field(row, extract.FieldIdeaID)
	if !ok {
		return idea, eris.New("no idea id")
	}

	company, _ := rules.Field(row, extract.FieldCompanyName)
	container, _ := rules.Field(row, extract.FieldTickerContainer)
	ticker := ExtractTicker(container, company)
	if ticker == "" {
		return idea, eris.Errorf("idea %s: no ticker", id)
	}

	idea = models.Idea{
		ExternalIdeaID:  strings.TrimSpace(id),
		AuthorUsername:  username,
		Ticker:          ticker,
		CompanyName:     company,
		PositionType:    models.PositionLong,
		IsContestWinner: rules.Has(row, extract.FieldWinnerMarker),
	}
	if link, ok := rules.Field(row, extract.FieldIdeaLink); ok {
		idea.SourceURL = queue.NormalizeURL(pageURL, link)
	}
	if dateText, ok := rules.Field(row, extract.FieldPostedDate); ok {
		idea.PostedDateText = dateText
		idea.PostedDate = ParsePostedDate(dateText)
	}
	if rules.Has(row, extract.FieldShortMarker) {
		idea.PositionType = models.PositionShort
	}
	return idea, nil
}
