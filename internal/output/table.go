package output

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/pcroast/pcroast/internal/ailink"
	"github.com/pcroast/pcroast/internal/store"
)

// RateLimitRow is the rendered form of one stored window.
type RateLimitRow struct {
	Key          string    `json:"key"`
	RequestCount int       `json:"request_count"`
	WindowStart  time.Time `json:"window_start"`
	ResetAt      time.Time `json:"reset_at"`
	Limited      bool      `json:"limited"`
	Expired      bool      `json:"expired"`
}

// RateLimitRows derives display rows for entries under a max/window policy.
func RateLimitRows(entries []store.RateLimitEntry, max int, window time.Duration, now time.Time) []RateLimitRow {
	rows := make([]RateLimitRow, 0, len(entries))
	for _, e := range entries {
		reset := e.State.WindowStart.Add(window)
		expired := !now.Before(reset)
		rows = append(rows, RateLimitRow{
			Key:          e.Key,
			RequestCount: e.State.RequestCount,
			WindowStart:  e.State.WindowStart.UTC(),
			ResetAt:      reset.UTC(),
			Limited:      !expired && e.State.RequestCount >= max,
			Expired:      expired,
		})
	}
	return rows
}

// RateLimitTable renders rows as a rounded table.
func RateLimitTable(rows []RateLimitRow) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"Client", "Requests", "Window Start", "Resets", "Status"})

	limited := 0
	for _, r := range rows {
		status := "open"
		switch {
		case r.Expired:
			status = "expired"
		case r.Limited:
			status = "limited"
			limited++
		}
		t.AppendRow(table.Row{
			r.Key,
			r.RequestCount,
			r.WindowStart.Format(time.RFC3339),
			r.ResetAt.Format(time.RFC3339),
			status,
		})
	}

	t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d client(s)", len(rows)), fmt.Sprintf("%d limited", limited)})
	return t.Render()
}

// BindingTable renders the gate to provider bindings.
func BindingTable(bindings []ailink.Binding) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Gate", "Provider", "Model", "Timeout", "Credential"})
	for _, b := range bindings {
		credential := "missing"
		if b.HasKey {
			credential = "set"
		}
		t.AppendRow(table.Row{"/" + b.Gate, b.Provider, b.Model, b.Timeout.String(), credential})
	}
	return t.Render()
}
