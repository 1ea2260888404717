package ranking

import "math"

// Summary aggregates a ranking.
type Summary struct {
	TotalTechnicians int                     `json:"total_technicians"`
	TotalTickets     int                     `json:"total_tickets"`
	AverageTickets   float64                 `json:"average_tickets_per_technician"`
	ByLevel          map[string][]Technician `json:"by_level"`
}

// Summarize computes totals, the per-technician average (two decimals) and
// the grouping by level.
func Summarize(ranking []Technician) Summary {
	s := Summary{
		TotalTechnicians: len(ranking),
		ByLevel:          make(map[string][]Technician),
	}
	for _, t := range ranking {
		s.TotalTickets += t.TicketCount
		s.ByLevel[t.Level] = append(s.ByLevel[t.Level], t)
	}
	if s.TotalTechnicians > 0 {
		avg := float64(s.TotalTickets) / float64(s.TotalTechnicians)
		s.AverageTickets = math.Round(avg*100) / 100
	}
	return s
}
