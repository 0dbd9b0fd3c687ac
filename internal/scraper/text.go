package scraper

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/rotisserie/eris"

	"vic_tracker/internal/extract"
)

var blockTags = []string{"div", "p", "br", "li", "td", "tr", "h1", "h2", "h3", "h4", "h5", "h6"}

var (
	reBlockOpen  = regexp.MustCompile(`<(` + strings.Join(blockTags, "|") + `)(\s[^>]*)?/?>`)
	reBlockClose = regexp.MustCompile(`</(` + strings.Join(blockTags, "|") + `)>`)
)

// Article is the readable part of an idea write-up.
type Article struct {
	Title   string
	Text    string
	Excerpt string
}

// padBlocks keeps words in adjacent block elements from running together
// when the HTML is flattened to text.
func padBlocks(html string) string {
	html = reBlockOpen.ReplaceAllString(html, " $0")
	return reBlockClose.ReplaceAllString(html, "$0 ")
}

// readableText extracts the main write-up from raw HTML.
func readableText(rawHTML, pageURL string) (*Article, error) {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return nil, eris.Wrapf(err, "parse url %s", pageURL)
	}

	article, err := readability.FromReader(strings.NewReader(rawHTML), parsedURL)
	if err != nil {
		return nil, eris.Wrap(err, "readability")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(padBlocks(article.Content)))
	if err != nil {
		return nil, eris.Wrap(err, "parse readable content")
	}

	return &Article{
		Title:   article.Title,
		Text:    extract.NormalizeSpace(doc.Text()),
		Excerpt: article.Excerpt,
	}, nil
}
