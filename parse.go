package ratelimit

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var rateGrammar = regexp.MustCompile(`^(\d+)\s*/\s*(second|seconds|minute|minutes|hour|hours|day|days)$`)

var unitSeconds = map[string]int64{
	"second": 1, "seconds": 1,
	"minute": 60, "minutes": 60,
	"hour": 3600, "hours": 3600,
	"day": 86400, "days": 86400,
}

// ParseRate parses a rate string of the form "N/unit" (case-insensitive,
// whitespace around the slash tolerated) into a RatePolicy. unit must be one
// of second(s), minute(s), hour(s), day(s). It fails with ErrMalformedRate
// when the string doesn't match the grammar, N <= 0, or the unit is
// unrecognized.
func ParseRate(rate string) (RatePolicy, error) {
	normalized := strings.ToLower(strings.TrimSpace(rate))
	match := rateGrammar.FindStringSubmatch(normalized)
	if match == nil {
		return RatePolicy{}, fmt.Errorf("ratelimit: %q: %w", rate, ErrMalformedRate)
	}

	limit, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil || limit <= 0 {
		return RatePolicy{}, fmt.Errorf("ratelimit: %q: %w", rate, ErrMalformedRate)
	}

	seconds, ok := unitSeconds[match[2]]
	if !ok {
		return RatePolicy{}, fmt.Errorf("ratelimit: %q: %w", rate, ErrMalformedRate)
	}

	return RatePolicy{Limit: limit, Window: time.Duration(seconds) * time.Second}, nil
}
