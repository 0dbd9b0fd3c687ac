package models

import (
	"strings"
	"time"
)

type PositionType string

const (
	PositionLong  PositionType = "long"
	PositionShort PositionType = "short"
)

// PriceFetchFailed marks an idea whose historical price lookup failed for good.
const PriceFetchFailed = -1.0

type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

type JobType string

const (
	JobDailyScrape   JobType = "daily_scrape"
	JobPriceBackfill JobType = "price_backfill"
	JobMetrics       JobType = "metrics"
	JobPriceUpdate   JobType = "price_update"
)

type Author struct {
	Username        string     `bson:"_id" json:"username"`
	UsernameLower   string     `bson:"usernameLower" json:"-"`
	ExternalID      string     `bson:"externalId" json:"externalId"`
	DiscoveredAt    time.Time  `bson:"discoveredAt" json:"discoveredAt"`
	LastScrapedAt   *time.Time `bson:"lastScrapedAt" json:"lastScrapedAt"`
	PricesFetchedAt *time.Time `bson:"pricesFetchedAt" json:"pricesFetchedAt"`
	NoRecentIdeas   bool       `bson:"noRecentIdeas,omitempty" json:"noRecentIdeas,omitempty"`
}

type Idea struct {
	ExternalIdeaID  string       `bson:"_id" json:"id"`
	AuthorUsername  string       `bson:"authorUsername" json:"authorUsername"`
	Ticker          string       `bson:"ticker" json:"ticker"`
	CompanyName     string       `bson:"companyName" json:"companyName"`
	PostedDate      *time.Time   `bson:"postedDate" json:"postedDate"`
	PostedDateText  string       `bson:"postedDateText,omitempty" json:"-"`
	PositionType    PositionType `bson:"positionType" json:"positionType"`
	IsContestWinner bool         `bson:"isContestWinner" json:"isContestWinner"`
	PriceAtRec      *float64     `bson:"priceAtRec" json:"priceAtRec"`
	MarketCapAtRec  *float64     `bson:"marketCapAtRec,omitempty" json:"marketCapAtRec,omitempty"`
	SourceURL       string       `bson:"sourceUrl" json:"sourceUrl"`
	ScrapedAt       time.Time    `bson:"scrapedAt" json:"scrapedAt"`
}

// HasUsablePrice reports whether the idea carries a real entry price.
func (i Idea) HasUsablePrice() bool {
	return i.PriceAtRec != nil && *i.PriceAtRec > 0
}

type ScrapeRun struct {
	ID             string     `bson:"_id" json:"id"`
	AuthorUsername string     `bson:"authorUsername,omitempty" json:"authorUsername,omitempty"`
	JobType        JobType    `bson:"jobType" json:"jobType"`
	Status         RunStatus  `bson:"status" json:"status"`
	StartedAt      time.Time  `bson:"startedAt" json:"startedAt"`
	CompletedAt    *time.Time `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	ItemsProcessed int        `bson:"itemsProcessed" json:"itemsProcessed"`
	ErrorMessage   string     `bson:"errorMessage,omitempty" json:"errorMessage,omitempty"`
}

type AuthorMetrics struct {
	Username       string    `bson:"_id" json:"username"`
	UsernameLower  string    `bson:"usernameLower" json:"-"`
	XIRR5yr        *float64  `bson:"xirr5yr" json:"xirr5yr"`
	XIRR3yr        *float64  `bson:"xirr3yr" json:"xirr3yr"`
	XIRR1yr        *float64  `bson:"xirr1yr" json:"xirr1yr"`
	TotalPicks     int       `bson:"totalPicks" json:"totalPicks"`
	ValidPicks     int       `bson:"validPicks" json:"validPicks"`
	WinRate        *float64  `bson:"winRate" json:"winRate"`
	BestPickTicker string    `bson:"bestPickTicker,omitempty" json:"bestPickTicker,omitempty"`
	BestPickReturn *float64  `bson:"bestPickReturn,omitempty" json:"bestPickReturn,omitempty"`
	CalculatedAt   time.Time `bson:"calculatedAt" json:"calculatedAt"`
}

type Price struct {
	Ticker       string    `bson:"_id" json:"ticker"`
	CurrentPrice *float64  `bson:"currentPrice" json:"currentPrice"`
	FetchFailed  bool      `bson:"fetchFailed" json:"fetchFailed"`
	UpdatedAt    time.Time `bson:"updatedAt" json:"updatedAt"`
}

const StatsID = "aggregate"

type Stats struct {
	ID              string    `bson:"_id" json:"-"`
	TotalAuthors    int64     `bson:"totalAuthors" json:"totalAuthors"`
	TotalIdeas      int64     `bson:"totalIdeas" json:"totalIdeas"`
	AuthorsScraped  int64     `bson:"authorsScraped" json:"authorsScraped"`
	IdeasWithPrices int64     `bson:"ideasWithPrices" json:"ideasWithPrices"`
	AuthorsWithXIRR int64     `bson:"authorsWithXirr" json:"authorsWithXirr"`
	TrackedTickers  int64     `bson:"trackedTickers" json:"trackedTickers"`
	LastUpdated     time.Time `bson:"lastUpdated" json:"lastUpdated"`
}

// NewAuthor returns an author discovered now and never scraped.
func NewAuthor(username, externalID string, now time.Time) Author {
	return Author{
		Username:      username,
		UsernameLower: strings.ToLower(username),
		ExternalID:    externalID,
		DiscoveredAt:  now,
	}
}
