// Package schedule defines the declarative schedule model (activities, trigger,
// delay, times of day, expiration and window bounds) and its validation.
//
// Durations use ISO-8601 periods (Period) rather than time.Duration because
// schedules are calendar based: "P1M" is one calendar month, not 30 days.
package schedule
