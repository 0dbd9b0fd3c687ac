package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"vic_tracker/internal/app"
	"vic_tracker/internal/session"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

func renderResult(w io.Writer, res *app.Result) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Outcome", "Author", "Discovered", "New", "Persisted", "Failed"})
	outcome := string(res.Outcome)
	if res.Reason != "" {
		outcome += " (" + res.Reason + ")"
	}
	t.AppendRow(table.Row{outcome, res.Author, res.Discovered, res.New, res.Persisted, res.Failed})
	t.Render()
}

func renderIdeas(w io.Writer, res *app.ManualResult) {
	t := newTable(w)
	t.SetTitle(fmt.Sprintf("%s: %d ideas", res.Author, len(res.Ideas)))
	t.AppendHeader(table.Row{"ID", "Ticker", "Company", "Posted", "Position", "Price", "Contest"})
	for _, idea := range res.Ideas {
		posted, price := "", ""
		if idea.PostedDate != nil {
			posted = idea.PostedDate.Format(time.DateOnly)
		}
		if idea.PriceAtRec != nil {
			price = fmt.Sprintf("%.2f", *idea.PriceAtRec)
		}
		t.AppendRow(table.Row{idea.ExternalIdeaID, idea.Ticker, idea.CompanyName, posted, idea.PositionType, price, idea.IsContestWinner})
	}
	t.Render()

	for _, d := range res.Details {
		if d.Err != nil {
			fmt.Fprintf(w, "enrichment failed for %s: %v\n", d.Idea.ExternalIdeaID, d.Err)
		}
	}
}

func renderHealth(w io.Writer, h session.Health) {
	t := newTable(w)
	t.SetTitle("Session: " + string(h.Status))
	t.AppendRow(table.Row{"Saved", formatTime(h.SavedAt)})
	t.AppendRow(table.Row{"Age", h.SessionAge.Round(time.Minute)})
	t.AppendRow(table.Row{"Session token", h.HasSessionToken})
	t.AppendRow(table.Row{"Remember token", h.HasRememberToken})
	for _, name := range session.CloudflareCookies {
		t.AppendRow(table.Row{name, h.HasCloudflare[name]})
	}
	if h.FirstExpiring != "" {
		t.AppendRow(table.Row{"First expiring", h.FirstExpiring})
	}
	t.AppendRow(table.Row{"Expiring soon", h.ExpiringSoon})
	t.Render()

	if len(h.Cookies) == 0 {
		return
	}
	c := newTable(w)
	c.AppendHeader(table.Row{"Cookie", "Expires", "Remaining", "Expired"})
	for _, ck := range h.Cookies {
		expires := "session"
		if !ck.Session {
			expires = formatTime(ck.ExpiresAt)
		}
		c.AppendRow(table.Row{ck.Name, expires, ck.Remaining.Round(time.Minute), ck.Expired})
	}
	c.Render()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
