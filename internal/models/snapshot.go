package models

import "time"

// Event is a system event delivered to a tenant within one tick.
type Event struct {
	Type      string                 `json:"type"`
	Source    string                 `json:"source,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// BehaviorMatch says a behavioural pattern was observed for a subject.
type BehaviorMatch struct {
	Type      string    `json:"type"`
	Subject   string    `json:"subject,omitempty"`
	MatchedAt time.Time `json:"matched_at"`
}

// Snapshot is everything a rule is evaluated against in one tick: the
// event batch, latest metric values, behaviour window and the data map
// conditions read from.
type Snapshot struct {
	Events    []Event                `json:"events,omitempty"`
	Metrics   map[string]interface{} `json:"metrics,omitempty"`
	Behaviors []BehaviorMatch        `json:"behaviors,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
