// Package utils provides shared utility functions.
package utils

import (
	"fmt"
	"time"
)

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatPrice formats a dollar price with 2 decimal places.
func FormatPrice(value float64) string {
	return fmt.Sprintf("$%.2f", value)
}

// FormatScore formats a relevance score for display.
func FormatScore(score float64) string {
	return fmt.Sprintf("%.3f", score)
}

// LocalMidnight returns the start of t's calendar day in t's location.
func LocalMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DaysUntil returns the number of whole days from now until t, never
// negative.
func DaysUntil(now, t time.Time) int {
	d := int(t.Sub(LocalMidnight(now)).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}
