package domain

import "time"

type EventType string

const (
	EventCameraOpened   EventType = "camera.opened"
	EventCameraClosed   EventType = "camera.closed"
	EventSessionStarted EventType = "session.started"
	EventSessionEnded   EventType = "session.ended"
)

// Event is a lifecycle notification shared between replicas.
type Event struct {
	Type       EventType `json:"type"`
	InstanceID string    `json:"instance_id"`
	Timestamp  time.Time `json:"timestamp"`
	CameraID   CameraID  `json:"camera_id"`
	SessionID  string    `json:"session_id,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}
