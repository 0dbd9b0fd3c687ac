package performance

import (
	"math"
	"strings"
	"time"

	"vic_tracker/internal/models"
)

// Windows are the look-back periods reported for every author, in years.
var Windows = []int{5, 3, 1}

const (
	minXIRRPct = -100.0
	maxXIRRPct = 1000.0
)

// Calculator simulates a $1 position per idea held until now.
type Calculator struct {
	Now func() time.Time
}

func (c Calculator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Return is the percentage gain of a position from entry to current.
func Return(pos models.PositionType, entry, current float64) float64 {
	if pos == models.PositionShort {
		return (entry - current) / entry * 100
	}
	return (current - entry) / entry * 100
}

// Value is what $1 invested at entry is worth now. A short cannot lose more
// than its stake.
func Value(pos models.PositionType, entry, current float64) float64 {
	if pos == models.PositionShort {
		return math.Max(0, (2*entry-current)/entry)
	}
	return current / entry
}

type pricedIdea struct {
	idea    models.Idea
	current float64
}

func priced(ideas []models.Idea, prices map[string]float64, since time.Time) []pricedIdea {
	var out []pricedIdea
	for _, i := range ideas {
		if !i.HasUsablePrice() || i.PostedDate == nil || i.PostedDate.Before(since) {
			continue
		}
		cur, ok := prices[strings.ToUpper(i.Ticker)]
		if !ok || cur <= 0 {
			continue
		}
		out = append(out, pricedIdea{idea: i, current: cur})
	}
	return out
}

// WindowXIRR is the annualized return, in percent, of the ideas posted in
// the last years. Nil when there are not enough priced ideas.
func (c Calculator) WindowXIRR(ideas []models.Idea, prices map[string]float64, years int) *float64 {
	now := c.now()
	since := now.AddDate(0, 0, -years*365)

	var flows []CashFlow
	for _, p := range priced(ideas, prices, since) {
		flows = append(flows,
			CashFlow{Date: *p.idea.PostedDate, Amount: -1},
			CashFlow{Date: now, Amount: Value(p.idea.PositionType, *p.idea.PriceAtRec, p.current)},
		)
	}
	if len(flows) < 2 {
		return nil
	}

	r, ok := XIRR(flows)
	if !ok {
		return nil
	}
	pct := Round1(math.Min(maxXIRRPct, math.Max(minXIRRPct, r*100)))
	return &pct
}

// ForAuthor computes the full metrics document for one author.
func (c Calculator) ForAuthor(username string, ideas []models.Idea, prices map[string]float64) models.AuthorMetrics {
	now := c.now()
	m := models.AuthorMetrics{
		Username:      username,
		UsernameLower: strings.ToLower(username),
		TotalPicks:    len(ideas),
		CalculatedAt:  now,
	}
	m.XIRR5yr = c.WindowXIRR(ideas, prices, 5)
	m.XIRR3yr = c.WindowXIRR(ideas, prices, 3)
	m.XIRR1yr = c.WindowXIRR(ideas, prices, 1)

	valid := priced(ideas, prices, now.AddDate(0, 0, -Windows[0]*365))
	m.ValidPicks = len(valid)
	if len(valid) == 0 {
		return m
	}

	wins := 0
	best := math.Inf(-1)
	for _, p := range valid {
		ret := Return(p.idea.PositionType, *p.idea.PriceAtRec, p.current)
		if ret > 0 {
			wins++
		}
		if ret > best {
			best = ret
			m.BestPickTicker = p.idea.Ticker
		}
	}
	winRate := Round1(float64(wins) / float64(len(valid)) * 100)
	bestRet := Round1(best)
	m.WinRate = &winRate
	m.BestPickReturn = &bestRet
	return m
}
