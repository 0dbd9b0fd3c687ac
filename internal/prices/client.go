// Package prices looks up market prices and fills entry prices for ideas.
package prices

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"vic_tracker/internal/ratelimit"
)

// ErrNoData means the ticker has no usable quote for the request. It is
// permanent: the ticker is delisted, unknown or too old.
var ErrNoData = eris.New("no price data")

// historyWindow is how far around the target date a close is searched.
const historyWindow = 5 * 24 * time.Hour

type Options struct {
	BaseURL           string
	UserAgent         string
	RequestsPerSecond float64
	Timeout           time.Duration
	CacheTTL          time.Duration
	Retry             ratelimit.Policy
}

// Client reads the chart endpoint of the Yahoo Finance API.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	retry   ratelimit.Policy
	ttl     time.Duration
	log     *zap.Logger

	mu      sync.Mutex
	current map[string]cachedPrice
	history map[string]float64
}

type cachedPrice struct {
	price float64
	at    time.Time
}

func NewClient(opts Options, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 15 * time.Minute
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(opts.BaseURL, "/"))
	client.SetTimeout(opts.Timeout)
	client.SetHeader("Accept", "application/json")
	if opts.UserAgent != "" {
		client.SetHeader("User-Agent", opts.UserAgent)
	}

	return &Client{
		http:    client,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		retry:   opts.Retry,
		ttl:     opts.CacheTTL,
		log:     log.Named("prices"),
		current: make(map[string]cachedPrice),
		history: make(map[string]float64),
	}
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Currency           string  `json:"currency"`
		Symbol             string  `json:"symbol"`
		RegularMarketPrice float64 `json:"regularMarketPrice"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Close []*float64 `json:"close"`
		} `json:"quote"`
		AdjClose []struct {
			AdjClose []*float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
}

// Symbol normalizes a ticker for lookup.
func Symbol(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

func (c *Client) chart(ctx context.Context, symbol string, params map[string]string) (*chartResult, error) {
	return ratelimit.WithRetry(ctx, c.retry, func(ctx context.Context) (*chartResult, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, ratelimit.Permanent(err)
		}

		var out chartResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetPathParam("symbol", symbol).
			SetQueryParams(params).
			SetResult(&out).
			Get("/v8/finance/chart/{symbol}")
		if err != nil {
			return nil, eris.Wrapf(err, "chart request for %s", symbol)
		}

		switch status := resp.StatusCode(); {
		case status == http.StatusTooManyRequests || status >= 500:
			return nil, eris.Errorf("chart request for %s: status %d", symbol, status)
		case status >= 400:
			return nil, ratelimit.Permanent(eris.Wrapf(ErrNoData, "%s: status %d", symbol, status))
		}
		if out.Chart.Error != nil || len(out.Chart.Result) == 0 {
			return nil, ratelimit.Permanent(eris.Wrapf(ErrNoData, "%s: empty chart", symbol))
		}
		return &out.Chart.Result[0], nil
	})
}

// CurrentPrice returns the latest regular market price.
func (c *Client) CurrentPrice(ctx context.Context, ticker string) (float64, error) {
	symbol := Symbol(ticker)

	c.mu.Lock()
	if cp, ok := c.current[symbol]; ok && time.Since(cp.at) < c.ttl {
		c.mu.Unlock()
		return cp.price, nil
	}
	c.mu.Unlock()

	res, err := c.chart(ctx, symbol, map[string]string{"range": "1d", "interval": "1d"})
	if err != nil {
		return 0, err
	}
	price := res.Meta.RegularMarketPrice
	if price <= 0 || math.IsNaN(price) {
		return 0, eris.Wrapf(ErrNoData, "%s: no market price", symbol)
	}

	c.mu.Lock()
	c.current[symbol] = cachedPrice{price: price, at: time.Now()}
	c.mu.Unlock()

	c.log.Debug("current price", zap.String("ticker", symbol), zap.Float64("price", price))
	return price, nil
}

// HistoricalPrice returns the daily close nearest to date within five days
// either side. Adjusted closes are preferred when the API provides them.
func (c *Client) HistoricalPrice(ctx context.Context, ticker string, date time.Time) (float64, error) {
	symbol := Symbol(ticker)
	day := date.UTC().Truncate(24 * time.Hour)
	key := fmt.Sprintf("%s@%s", symbol, day.Format("2006-01-02"))

	c.mu.Lock()
	if p, ok := c.history[key]; ok {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	res, err := c.chart(ctx, symbol, map[string]string{
		"period1":  strconv.FormatInt(day.Add(-historyWindow).Unix(), 10),
		"period2":  strconv.FormatInt(day.Add(historyWindow).Unix(), 10),
		"interval": "1d",
	})
	if err != nil {
		return 0, err
	}

	price, ok := nearestClose(res, day)
	if !ok {
		return 0, eris.Wrapf(ErrNoData, "%s: no close near %s", symbol, day.Format("2006-01-02"))
	}

	c.mu.Lock()
	c.history[key] = price
	c.mu.Unlock()
	return price, nil
}

func nearestClose(res *chartResult, target time.Time) (float64, bool) {
	var closes []*float64
	if len(res.Indicators.AdjClose) > 0 {
		closes = res.Indicators.AdjClose[0].AdjClose
	}
	if len(closes) == 0 && len(res.Indicators.Quote) > 0 {
		closes = res.Indicators.Quote[0].Close
	}

	var (
		best    float64
		bestGap time.Duration = -1
	)
	for i, ts := range res.Timestamp {
		if i >= len(closes) || closes[i] == nil || *closes[i] <= 0 {
			continue
		}
		gap := time.Unix(ts, 0).Sub(target)
		if gap < 0 {
			gap = -gap
		}
		if bestGap < 0 || gap < bestGap {
			best, bestGap = *closes[i], gap
		}
	}
	return best, bestGap >= 0
}
