package nightscout

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Careportal event types the follower cares about.
const (
	EventSensorStart       = "Sensor Start"
	EventSensorChange      = "Sensor Change"
	EventSiteChange        = "Site Change"
	EventPodChange         = "Pod Change"
	EventTemporaryOverride = "Temporary Override"
	EventExercise          = "Exercise"
	EventTemporaryTarget   = "Temporary Target"
)

// Treatment is a careportal record.
type Treatment struct {
	ID           string   `json:"_id,omitempty"`
	EventType    string   `json:"eventType"`
	CreatedAt    string   `json:"created_at"`
	Duration     float64  `json:"duration,omitempty"` // minutes
	Reason       string   `json:"reason,omitempty"`
	Notes        string   `json:"notes,omitempty"`
	EnteredBy    string   `json:"enteredBy,omitempty"`
	TargetTop    *float64 `json:"targetTop,omitempty"`
	TargetBottom *float64 `json:"targetBottom,omitempty"`
	Carbs        *float64 `json:"carbs,omitempty"`
	Insulin      *float64 `json:"insulin,omitempty"`
}

// Time parses CreatedAt; the zero time is returned when it is malformed.
func (t Treatment) Time() time.Time {
	ts, _ := ParseTime(t.CreatedAt)
	return ts
}

// End is when a treatment with a duration stops applying.
func (t Treatment) End() time.Time {
	return t.Time().Add(time.Duration(t.Duration * float64(time.Minute)))
}

// Label prefers the free-text notes and falls back to the reason.
func (t Treatment) Label() string {
	if t.Notes != "" {
		return t.Notes
	}
	return t.Reason
}

// TreatmentQuery filters a treatments request.
type TreatmentQuery struct {
	EventType string
	Since     time.Time
	Count     int
}

// Treatments returns careportal records matching q, newest first.
func (c *Client) Treatments(ctx context.Context, q TreatmentQuery) ([]Treatment, error) {
	v := url.Values{}
	if q.EventType != "" {
		v.Set("find[eventType]", q.EventType)
	}
	if !q.Since.IsZero() {
		v.Set("find[created_at][$gte]", q.Since.UTC().Format(time.RFC3339))
	}
	if q.Count > 0 {
		v.Set("count", strconv.Itoa(q.Count))
	}
	var out []Treatment
	if err := c.getJSON(ctx, "/api/v1/treatments.json", v, &out); err != nil {
		return nil, fmt.Errorf("nightscout: treatments %q: %w", q.EventType, err)
	}
	return out, nil
}
