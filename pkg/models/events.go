package models

import "time"

// EventType identifies a notification published by the orchestrator.
type EventType string

const (
	EventSyncStarted      EventType = "sync_started"
	EventSyncCompleted    EventType = "sync_completed"
	EventSyncFailed       EventType = "sync_failed"
	EventQueueUpdated     EventType = "queue_updated"
	EventSmartSyncStarted EventType = "smart_sync_started"
	EventSmartSyncEnded   EventType = "smart_sync_ended"
	EventSmartSyncTimeout EventType = "smart_sync_timeout"
)

// Event is a single orchestrator notification, fanned out to observers
// such as the websocket feed.
type Event struct {
	ID         string        `json:"id"`
	Type       EventType     `json:"type"`
	Timestamp  time.Time     `json:"timestamp"`
	SyncType   SyncType      `json:"syncType,omitempty"`
	UserID     string        `json:"userId,omitempty"`
	Error      string        `json:"error,omitempty"`
	DurationMs int64         `json:"durationMs,omitempty"`
	Queue      []SyncRequest `json:"queue,omitempty"`
}
