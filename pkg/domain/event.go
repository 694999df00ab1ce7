package domain

import "time"

// EventType represents the type of lifecycle event
type EventType string

const (
	EventTypeDeploymentCreated EventType = "deployment.created"
	EventTypeDeploymentDeleted EventType = "deployment.deleted"
	EventTypeRunTriggered      EventType = "run.triggered"
	EventTypeRunSuspended      EventType = "run.suspended"
	EventTypeRunUnsuspended    EventType = "run.unsuspended"
	EventTypeRunTerminated     EventType = "run.terminated"
)

// Event topics
const (
	TopicDeployments = "deployment.events"
	TopicRuns        = "run.events"
)

// Event is a lifecycle notification published by the deployer
type Event struct {
	ID         string                 `json:"id"`
	Type       EventType              `json:"type"`
	Backend    string                 `json:"backend"`
	Deployment string                 `json:"deployment"`
	Pathspec   string                 `json:"pathspec,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Data       map[string]interface{} `json:"data,omitempty"`
}
