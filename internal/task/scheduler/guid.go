package scheduler

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"studysched/internal/schedule"
)

// Namespace is the UUIDv5 namespace of task GUIDs.
var Namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:studysched:task"))

// TaskGUID derives the identity of one occurrence of one activity. owner is
// the schedule plan GUID, or the schedule content hash when there is no plan.
// The activity is identified by its ref plus ordinal, the count of earlier
// activities with the same ref, so reordering a schedule's activities keeps
// every task's identity and stored progress.
func TaskGUID(owner string, occurrence time.Time, ref string, ordinal int) string {
	key := owner + "|" + occurrence.UTC().Format(time.RFC3339Nano) + "|" + ref + "|" + strconv.Itoa(ordinal)
	return uuid.NewSHA1(Namespace, []byte(key)).String()
}

// activityOrdinals returns, per activity, how many earlier activities share its ref.
func activityOrdinals(acts []schedule.Activity) []int {
	seen := make(map[string]int, len(acts))
	out := make([]int, len(acts))
	for i, a := range acts {
		out[i] = seen[a.Ref]
		seen[a.Ref]++
	}
	return out
}
