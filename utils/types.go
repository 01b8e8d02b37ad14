package utils

// MatchResult represents a detected raw-PII leak in a published dataset.
//
// It deliberately carries no copy of the matched value: the leak report
// must never become a re-identification vector on its own, so only the
// location and the pattern classification are recorded.
type MatchResult struct {
	// Match location information
	Column string
	Row    int

	// Classification information
	Pattern     string
	RiskLevel   int // Risk level (1-4) where 4 is highest
	Description string
}
