package browser

import (
	"context"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// robotsGate loads robots.txt once per context. A missing or broken file
// allows everything.
type robotsGate struct {
	once sync.Once
	data *robotstxt.RobotsData
}

func (g *robotsGate) allowed(ctx context.Context, bc *Context, target *url.URL) bool {
	g.once.Do(func() {
		robotsURL := (&url.URL{Scheme: bc.base.Scheme, Host: bc.base.Host, Path: "/robots.txt"}).String()
		page, err := bc.fetch(ctx, robotsURL)
		if err != nil {
			bc.log.Warn("robots.txt unavailable, ignoring", zap.Error(err))
			return
		}
		data, err := robotstxt.FromStatusAndBytes(page.Status, page.Body)
		if err != nil {
			bc.log.Warn("robots.txt unparsable, ignoring", zap.Error(err))
			return
		}
		g.data = data
	})

	if g.data == nil || target.Host != bc.base.Host {
		return true
	}
	return g.data.TestAgent(target.Path, bc.opts.UserAgent)
}
