// Package scheduler expands a schedule and a participant's event snapshot into
// concrete task occurrences up to a horizon.
//
// Generators are pure: the same schedule, anchor and horizon always produce the
// same instants and task GUIDs, whatever the wall clock says. Only WithClock
// introduces the current time, and only to drop tasks that already expired.
package scheduler
