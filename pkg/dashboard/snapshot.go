package dashboard

import (
	"time"

	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/cache"
	"github.com/jonathan-nascimento51/glpi-dashboard-analytics/pkg/fields"
)

// StatusCounts maps a status label to a ticket count.
type StatusCounts map[string]int

// Total sums every status.
func (c StatusCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// InProgress sums both processing statuses.
func (c StatusCounts) InProgress() int {
	return c[fields.StatusLabel(fields.StatusProcessingAssigned)] +
		c[fields.StatusLabel(fields.StatusProcessingPlanned)]
}

func (c StatusCounts) get(code int) int {
	return c[fields.StatusLabel(code)]
}

// Filters restricts the counted tickets by creation date. Dates are passed
// to GLPI as given ("2006-01-02" or "2006-01-02 15:04:05").
type Filters struct {
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

// IsZero reports whether no filter is set.
func (f Filters) IsZero() bool {
	return f.StartDate == "" && f.EndDate == ""
}

// Signature is the cache subkey of the filter set.
func (f Filters) Signature() string {
	return cache.Signature(map[string]string{
		"start_date": f.StartDate,
		"end_date":   f.EndDate,
	})
}

// Summary is the headline breakdown of the overall counts.
type Summary struct {
	New        int `json:"new_tickets"`
	Pending    int `json:"pending_tickets"`
	InProgress int `json:"in_progress_tickets"`
	Resolved   int `json:"resolved_tickets"`
	Closed     int `json:"closed_tickets"`
	Total      int `json:"total_tickets"`
}

// Trends holds the change of each bucket against the previous window,
// formatted by FormatTrend.
type Trends struct {
	New        string `json:"new_tickets"`
	Pending    string `json:"pending_tickets"`
	InProgress string `json:"in_progress_tickets"`
	Resolved   string `json:"resolved_tickets"`
}

// ZeroTrends is reported when the comparison could not be computed.
func ZeroTrends() Trends {
	return Trends{New: "0%", Pending: "0%", InProgress: "0%", Resolved: "0%"}
}

// Outcome classifies how much live data a snapshot is built from.
type Outcome string

const (
	// OutcomeOK means every count query succeeded.
	OutcomeOK Outcome = "ok"
	// OutcomeDegraded means some queries failed and count as zero.
	OutcomeDegraded Outcome = "degraded"
	// OutcomeFailed means no query succeeded.
	OutcomeFailed Outcome = "failed"
)

// Snapshot is the complete dashboard payload.
type Snapshot struct {
	Summary     Summary                 `json:"summary"`
	ByStatus    StatusCounts            `json:"by_status"`
	ByLevel     map[string]StatusCounts `json:"by_level"`
	LevelTotals map[string]int          `json:"level_totals"`
	Trends      Trends                  `json:"trends"`

	Filters     Filters       `json:"filters_applied"`
	GeneratedAt time.Time     `json:"generated_at"`
	Elapsed     time.Duration `json:"elapsed"`
	Outcome     Outcome       `json:"outcome"`

	// Axes that were replaced by the synthetic dataset.
	FallbackLevels bool `json:"fallback_levels"`
	FallbackStatus bool `json:"fallback_status"`

	DegradedQueries int  `json:"degraded_queries"`
	Cached          bool `json:"cached"`
}

func summarize(c StatusCounts) Summary {
	return Summary{
		New:        c.get(fields.StatusNew),
		Pending:    c.get(fields.StatusPending),
		InProgress: c.InProgress(),
		Resolved:   c.get(fields.StatusSolved),
		Closed:     c.get(fields.StatusClosed),
		Total:      c.Total(),
	}
}

func levelTotals(byLevel map[string]StatusCounts) map[string]int {
	out := make(map[string]int, len(byLevel))
	for level, counts := range byLevel {
		out[level] = counts.Total()
	}
	return out
}
