package models

import "time"

// Status event types emitted once per confirmation request.
const (
	StatusEventSent           = "sent"
	StatusEventRenderFailed   = "render_failed"
	StatusEventDispatchFailed = "dispatch_failed"
)

// StatusEvent records the outcome of a single confirmation request. The
// recipient address is not recorded.
type StatusEvent struct {
	MessageID string    `json:"message_id"`
	OrderID   string    `json:"order_id,omitempty"`
	EventType string    `json:"event_type"`
	Stage     string    `json:"stage,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
