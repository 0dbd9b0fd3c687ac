package extract

// Profile page fields.
const (
	FieldRow             = "row"
	FieldIdeaID          = "idea_id"
	FieldIdeaLink        = "idea_link"
	FieldCompanyName     = "company_name"
	FieldTickerContainer = "ticker_container"
	FieldPostedDate      = "posted_date"
	FieldShortMarker     = "short_marker"
	FieldWinnerMarker    = "winner_marker"
)

// Idea page fields.
const (
	FieldTitleTicker = "title_ticker"
	FieldHeading     = "heading"
	FieldStatsRow    = "stats_row"
	FieldJSONLD      = "json_ld"
	FieldBody        = "body"
)

// DefaultProfileRules matches the member profile idea table.
func DefaultProfileRules() Rules {
	return Rules{
		FieldRow: {
			{Selector: "table tr"},
		},
		FieldIdeaID: {
			{Selector: "[data-iid]", Attr: "data-iid"},
			{Selector: `a[href*="/idea/"]`, Attr: "href", Regex: `/idea/[^/]+/([0-9]+)`},
		},
		FieldIdeaLink: {
			{Selector: `a[href*="/idea/"]`, Attr: "href"},
		},
		FieldCompanyName: {
			{Selector: `a[href*="/idea/"]`},
		},
		FieldTickerContainer: {
			{Selector: ".vich1, .col-sm-2"},
			{Selector: "td:nth-child(2)"},
		},
		FieldPostedDate: {
			{Regex: `([A-Z][a-z]{2}\s+\d{1,2},\s+\d{4})`},
		},
		FieldShortMarker: {
			{Selector: `.badge-danger, .short-badge, [class*="short"]`},
			{Selector: ".badge", HTMLContains: ">S<"},
			{HTMLContains: ">S<"},
		},
		FieldWinnerMarker: {
			{Selector: `.winner, .contest-winner, .winner-badge, [class*="winner"]`},
		},
	}
}

// DefaultIdeaRules matches a single idea write-up page.
func DefaultIdeaRules() Rules {
	return Rules{
		FieldTitleTicker: {
			{Selector: "title", Regex: `\(([A-Z0-9.]+)\)\s*$`},
			{Selector: `meta[property="og:title"]`, Attr: "content", Regex: `^([A-Z0-9.]+)\s+-`},
		},
		FieldHeading: {
			{Selector: "h1"},
		},
		FieldStatsRow: {
			{Selector: "table tr"},
		},
		FieldJSONLD: {
			{Selector: `script[type="application/ld+json"]`},
		},
		FieldBody: {
			{Selector: "body"},
		},
	}
}
