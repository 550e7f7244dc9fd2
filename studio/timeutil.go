package studio

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Now returns the current time in UTC truncated to milliseconds.
func Now() time.Time {
	return Normalize(time.Now())
}

// Normalize converts t to UTC with millisecond precision.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// NewID returns a random UUIDv4 string.
func NewID() string {
	return uuid.NewString()
}

// zone-less layouts are interpreted as UTC
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts RFC 3339 timestamps with or without a zone.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Normalize(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// DurationMs returns end-start in milliseconds rounded to 2 decimals.
func DurationMs(start, end time.Time) float64 {
	return Round(float64(end.Sub(start))/float64(time.Millisecond), 2)
}

// Round rounds v to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
