package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/fields"
)

// DateLayout is the timestamp format sent in creation-date criteria.
const DateLayout = "2006-01-02 15:04:05"

const (
	defaultTrendPeriod = 7 * 24 * time.Hour
	minTrendPeriod     = 24 * time.Hour
)

var inputLayouts = []string{DateLayout, "2006-01-02", time.RFC3339, "2006-01-02T15:04:05"}

// window is a creation-date interval; empty bounds are open.
type window struct {
	Start string
	End   string
}

// trendWindows returns the current and previous comparison windows.
//
// With both filter dates the previous window is the same-length interval
// ending at the start date (at least one day long), and the current window is
// the filter itself. Otherwise the last seven days are compared with the
// seven days before them.
func trendWindows(f Filters, now time.Time) (current, previous window, err error) {
	if f.StartDate == "" || f.EndDate == "" {
		end := now
		start := end.Add(-defaultTrendPeriod)
		current = window{Start: start.Format(DateLayout), End: end.Format(DateLayout)}
		previous = window{Start: start.Add(-defaultTrendPeriod).Format(DateLayout), End: start.Format(DateLayout)}
		return current, previous, nil
	}

	start, err := parseDate(f.StartDate)
	if err != nil {
		return window{}, window{}, err
	}
	end, err := parseDate(f.EndDate)
	if err != nil {
		return window{}, window{}, err
	}

	interval := end.Sub(start)
	if interval < minTrendPeriod {
		interval = minTrendPeriod
	}

	current = window{Start: f.StartDate, End: f.EndDate}
	previous = window{Start: start.Add(-interval).Format(DateLayout), End: start.Format(DateLayout)}
	return current, previous, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range inputLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// FormatTrend renders the change from previous to current as a percentage.
//
//	FormatTrend(0, 0)   == "0%"
//	FormatTrend(3, 0)   == "+100%"
//	FormatTrend(10, 5)  == "+100.0%"
//	FormatTrend(5, 10)  == "-50.0%"
func FormatTrend(current, previous int) string {
	if previous == 0 {
		if current > 0 {
			return "+100%"
		}
		return "0%"
	}
	change := float64(current-previous) / float64(previous) * 100
	if change > 0 {
		return fmt.Sprintf("+%.1f%%", change)
	}
	return fmt.Sprintf("%.1f%%", change)
}

func computeTrends(current, previous StatusCounts) Trends {
	return Trends{
		New:        FormatTrend(current.get(fields.StatusNew), previous.get(fields.StatusNew)),
		Pending:    FormatTrend(current.get(fields.StatusPending), previous.get(fields.StatusPending)),
		InProgress: FormatTrend(current.InProgress(), previous.InProgress()),
		Resolved:   FormatTrend(current.get(fields.StatusSolved), previous.get(fields.StatusSolved)),
	}
}
