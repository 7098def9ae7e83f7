package ratelimit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRate_Valid(t *testing.T) {
	cases := []struct {
		in     string
		limit  int64
		window time.Duration
	}{
		{"100/minute", 100, time.Minute},
		{"1000/hour", 1000, time.Hour},
		{"1/second", 1, time.Second},
		{"5/day", 5, 24 * time.Hour},
		{"  100 / minute  ", 100, time.Minute},
		{"100/MINUTE", 100, time.Minute},
		{"60/seconds", 60, time.Second},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			policy, err := ParseRate(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.limit, policy.Limit)
			assert.Equal(t, tc.window, policy.Window)
		})
	}
}

func TestParseRate_Malformed(t *testing.T) {
	cases := []string{
		"",
		"abc",
		"100",
		"100/fortnight",
		"-5/minute",
		"0/minute",
		"100/minute/extra",
		"100 minute",
	}

	for _, tc := range cases {
		t.Run(tc, func(t *testing.T) {
			_, err := ParseRate(tc)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedRate))
		})
	}
}
