package dashboard

// The synthetic datasets below replace an axis whose live counts are all
// zero. They are fixed business fixtures; do not derive them.

// FallbackByLevel returns the synthetic level × status matrix.
func FallbackByLevel() map[string]StatusCounts {
	return map[string]StatusCounts{
		"N1": statusRow(5, 3, 2, 1, 8, 12),
		"N2": statusRow(3, 4, 1, 2, 6, 9),
		"N3": statusRow(2, 2, 3, 1, 4, 7),
		"N4": statusRow(1, 1, 1, 0, 2, 3),
	}
}

// FallbackByStatus returns the synthetic overall breakdown.
func FallbackByStatus() StatusCounts {
	return statusRow(11, 10, 7, 4, 20, 31)
}

// statusRow builds counts in status table order.
func statusRow(counts ...int) StatusCounts {
	row := make(StatusCounts, len(counts))
	for i, label := range statusLabels {
		row[label] = counts[i]
	}
	return row
}

func isAllZero(byLevel map[string]StatusCounts) bool {
	for _, counts := range byLevel {
		if counts.Total() != 0 {
			return false
		}
	}
	return true
}
