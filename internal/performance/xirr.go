// Package performance computes simulated returns for authors' ideas.
package performance

import (
	"math"
	"time"
)

const (
	daysPerYear   = 365.0
	newtonSteps   = 100
	bisectSteps   = 300
	tolerance     = 1e-9
	minRate       = -0.999999
	maxRateSearch = 1e6
)

type CashFlow struct {
	Date   time.Time
	Amount float64
}

// XIRR returns the annualized rate r for which the flows' net present value
// is zero, discounting each flow by (1+r)^(days/365) from the earliest date.
// ok is false when no rate exists: fewer than two flows, flows all of one
// sign, or every flow on the same day.
func XIRR(flows []CashFlow) (rate float64, ok bool) {
	if len(flows) < 2 {
		return 0, false
	}

	start := flows[0].Date
	for _, f := range flows[1:] {
		if f.Date.Before(start) {
			start = f.Date
		}
	}

	years := make([]float64, len(flows))
	var pos, neg, spread bool
	for i, f := range flows {
		years[i] = f.Date.Sub(start).Hours() / 24 / daysPerYear
		if years[i] > 0 {
			spread = true
		}
		switch {
		case f.Amount > 0:
			pos = true
		case f.Amount < 0:
			neg = true
		}
	}
	if !pos || !neg || !spread {
		return 0, false
	}

	npv := func(r float64) float64 {
		var sum float64
		for i, f := range flows {
			sum += f.Amount / math.Pow(1+r, years[i])
		}
		return sum
	}
	dnpv := func(r float64) float64 {
		var sum float64
		for i, f := range flows {
			sum -= years[i] * f.Amount / math.Pow(1+r, years[i]+1)
		}
		return sum
	}

	if r, ok := newton(npv, dnpv, 0.1); ok {
		return r, true
	}
	return bisect(npv)
}

func newton(f, df func(float64) float64, guess float64) (float64, bool) {
	r := guess
	for i := 0; i < newtonSteps; i++ {
		d := df(r)
		if d == 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			return 0, false
		}
		next := r - f(r)/d
		if next <= -1 || math.IsNaN(next) || math.IsInf(next, 0) {
			return 0, false
		}
		if math.Abs(next-r) < tolerance*math.Max(1, math.Abs(r)) {
			return next, true
		}
		r = next
	}
	return 0, false
}

func bisect(f func(float64) float64) (float64, bool) {
	lo, hi := minRate, 1.0
	flo := f(lo)
	for f(hi)*flo > 0 {
		hi *= 2
		if hi > maxRateSearch {
			return 0, false
		}
	}

	for i := 0; i < bisectSteps; i++ {
		mid := (lo + hi) / 2
		fm := f(mid)
		if math.Abs(fm) < tolerance || (hi-lo)/2 < tolerance {
			return mid, true
		}
		if fm*flo > 0 {
			lo, flo = mid, fm
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2, true
}
