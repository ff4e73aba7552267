package schedule

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

type ActivityType string

const (
	ActivityTask   ActivityType = "task"
	ActivitySurvey ActivityType = "survey"
)

// SurveyReference points at a survey revision. CreatedOn is nil for the
// "published" revision.
type SurveyReference struct {
	GUID      string     `json:"guid"`
	CreatedOn *time.Time `json:"createdOn,omitempty"`
}

// Activity is one thing a participant is asked to do. Type and Survey are
// derived from Ref and never read from input.
type Activity struct {
	Label  string
	Ref    string
	Type   ActivityType
	Survey *SurveyReference
}

var reSurveyRef = regexp.MustCompile(`^https?://[^/]+/(?:.*/)?surveys/([^/]+)/revisions/([^/]+)/?$`)

// NewActivity builds an activity and derives its type from ref.
func NewActivity(label, ref string) Activity {
	a := Activity{Label: label, Ref: ref}
	a.derive()
	return a
}

func (a *Activity) derive() {
	a.Type = ""
	a.Survey = nil
	ref := strings.TrimSpace(a.Ref)
	if ref == "" {
		return
	}
	m := reSurveyRef.FindStringSubmatch(ref)
	if m == nil {
		a.Type = ActivityTask
		return
	}
	sr := &SurveyReference{GUID: m[1]}
	if !strings.EqualFold(m[2], "published") {
		if at, err := time.Parse(time.RFC3339Nano, m[2]); err == nil {
			sr.CreatedOn = &at
		} else {
			// not a revision timestamp; treat the whole ref as an opaque task id
			a.Type = ActivityTask
			return
		}
	}
	a.Type = ActivitySurvey
	a.Survey = sr
}

type activityJSON struct {
	Label        string           `json:"label"`
	Ref          string           `json:"ref"`
	ActivityType ActivityType     `json:"activityType,omitempty"`
	Survey       *SurveyReference `json:"survey,omitempty"`
}

func (a Activity) MarshalJSON() ([]byte, error) {
	return json.Marshal(activityJSON{Label: a.Label, Ref: a.Ref, ActivityType: a.Type, Survey: a.Survey})
}

func (a *Activity) UnmarshalJSON(b []byte) error {
	var v activityJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*a = NewActivity(v.Label, v.Ref)
	return nil
}
