package swarmmodel

import "time"

// TriggerRule is a declarative reactor handler: it matches events against a
// Filter, re-checks a Condition against repository state, then fires Action
// at most once per Cooldown window.
type TriggerRule struct {
	ID          ID             `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Enabled     bool           `json:"enabled"`
	Filter      EventFilter    `json:"filter"`
	Condition   string         `json:"condition"`
	Action      TriggerAction  `json:"action"`
	Cooldown    *time.Duration `json:"cooldown,omitempty"`
	FireCount   int            `json:"fire_count"`
	LastFired   *time.Time     `json:"last_fired,omitempty"`
	Stamps
}

// EventFilter narrows which events a TriggerRule considers.
type EventFilter struct {
	Categories []Category    `json:"categories,omitempty"`
	Payloads   []PayloadKind `json:"payloads,omitempty"`
}

// Matches reports whether e passes the filter. An empty filter matches
// everything.
func (f EventFilter) Matches(e *Event) bool {
	if len(f.Categories) > 0 && !containsCategory(f.Categories, e.Category) {
		return false
	}
	if len(f.Payloads) > 0 && !containsPayload(f.Payloads, e.PayloadKind) {
		return false
	}
	return true
}

func containsCategory(cs []Category, c Category) bool {
	for _, x := range cs {
		if x == c {
			return true
		}
	}
	return false
}

func containsPayload(ps []PayloadKind, p PayloadKind) bool {
	for _, x := range ps {
		if x == p {
			return true
		}
	}
	return false
}

// TriggerActionKind enumerates what a fired trigger does.
type TriggerActionKind string

const (
	ActionSubmitTask  TriggerActionKind = "submit_task"
	ActionEmitEvent   TriggerActionKind = "emit_event"
	ActionNotify      TriggerActionKind = "notify"
)

// TriggerAction is the spec for what happens when a TriggerRule fires.
type TriggerAction struct {
	Kind    TriggerActionKind `json:"kind"`
	Payload map[string]any    `json:"payload,omitempty"`
}

// ReadyToFire reports whether the rule is enabled and its cooldown window
// has elapsed as of now. A disabled rule is never ready; an enabled rule
// with a nil Cooldown or nil LastFired always is.
func (t *TriggerRule) ReadyToFire(now time.Time) bool {
	if !t.Enabled {
		return false
	}
	if t.Cooldown == nil || t.LastFired == nil {
		return true
	}
	return now.Sub(*t.LastFired) >= *t.Cooldown
}
