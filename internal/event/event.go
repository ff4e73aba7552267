// Package event resolves schedule anchors from a participant's event snapshot
// and builds the event identifiers other components publish.
package event

import (
	"strings"
	"time"
)

// Enrollment is the implicit anchor of schedules that name no event.
const Enrollment = "enrollment"

// Snapshot maps event identifiers to the instant they last happened for one
// participant. The engine only reads it.
type Snapshot map[string]time.Time

// Candidates splits a schedule's comma separated eventId into its ordered
// candidate list. An empty eventId means ["enrollment"].
func Candidates(eventID string) []string {
	var out []string
	for _, part := range strings.Split(eventID, ",") {
		if id := strings.TrimSpace(part); id != "" {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return []string{Enrollment}
	}
	return out
}

// ResolveAnchor returns the timestamp of the first candidate of eventID that
// is present in events. There is no fallback to enrollment once eventID names
// explicit candidates. ok is false when nothing matches; that is not an error.
func ResolveAnchor(eventID string, events Snapshot) (at time.Time, ok bool) {
	if len(events) == 0 {
		return time.Time{}, false
	}
	for _, id := range Candidates(eventID) {
		if ts, found := events[id]; found && !ts.IsZero() {
			return ts, true
		}
	}
	return time.Time{}, false
}

// SurveyFinished is published when a participant completes a survey.
func SurveyFinished(surveyGUID string) string {
	return "survey:" + surveyGUID + ":finished"
}

// QuestionAnswered is published for survey questions flagged to fire events.
func QuestionAnswered(questionGUID, value string) string {
	return "question:" + questionGUID + ":answered=" + value
}

// TaskFinished is published when a task is finished. ref is an activity ref
// such as "task:tapTest" or a bare id.
func TaskFinished(ref string) string {
	if strings.HasPrefix(ref, "task:") {
		return ref
	}
	return "task:" + ref
}

// ScheduledOn is the event id some self-rescheduling tasks anchor on.
func ScheduledOn(ref string) string {
	return "scheduledOn:" + TaskFinished(ref)
}

// Later returns the snapshot entry that should win when the same event is
// recorded twice: event timestamps never move backward.
func Later(current, incoming time.Time) time.Time {
	if current.IsZero() || incoming.After(current) {
		return incoming
	}
	return current
}
