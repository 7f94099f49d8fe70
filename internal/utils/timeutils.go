package utils

import "time"

// DayStamp renders a timestamp as a compact UTC date suitable for file names.
func DayStamp(t time.Time) string {
	return t.UTC().Format("20060102")
}

// DurationMinutes converts a pair of timestamps into minute duration.
func DurationMinutes(start, end time.Time) float64 {
	if end.Before(start) {
		start, end = end, start
	}
	return end.Sub(start).Minutes()
}
