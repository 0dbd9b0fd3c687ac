// Package ratelimit paces navigation and retries failed operations.
package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// RandomDelay returns a duration drawn uniformly from [min, max].
func RandomDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int64N(int64(max-min)+1))
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Pacer spaces out page loads. Every LongEvery-th wait draws from the long
// pause range instead of the normal one.
type Pacer struct {
	Min, Max         time.Duration
	LongEvery        int
	LongMin, LongMax time.Duration

	mu    sync.Mutex
	count int
	sleep func(context.Context, time.Duration) error
}

func NewPacer(min, max time.Duration, longEvery int, longMin, longMax time.Duration) *Pacer {
	return &Pacer{
		Min:       min,
		Max:       max,
		LongEvery: longEvery,
		LongMin:   longMin,
		LongMax:   longMax,
		sleep:     Sleep,
	}
}

// Next advances the request counter and returns the pause to take.
func (p *Pacer) Next() time.Duration {
	p.mu.Lock()
	p.count++
	n := p.count
	p.mu.Unlock()

	if p.LongEvery > 0 && n%p.LongEvery == 0 && p.LongMax > 0 {
		return RandomDelay(p.LongMin, p.LongMax)
	}
	return RandomDelay(p.Min, p.Max)
}

// Wait sleeps for the next pause.
func (p *Pacer) Wait(ctx context.Context) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = Sleep
	}
	return sleep(ctx, p.Next())
}
