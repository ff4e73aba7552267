package refresh

import (
	"studysched/internal/event"
	"studysched/internal/schedule"
	"studysched/internal/task"
)

// completionEvent is the event id published when t is finished: surveys
// publish survey:<guid>:finished, everything else task:<ref>.
func completionEvent(t task.Task) string {
	if t.Activity.Type == schedule.ActivitySurvey && t.Activity.Survey != nil {
		return event.SurveyFinished(t.Activity.Survey.GUID)
	}
	return event.TaskFinished(t.Activity.Ref)
}
