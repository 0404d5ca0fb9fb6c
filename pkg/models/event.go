package models

import "time"

// EventKind classifies a notification.
type EventKind string

const (
	// EventTransfer is an item moving between two players.
	EventTransfer EventKind = "transfer"
	// EventChat is a chat line forwarded verbatim.
	EventChat EventKind = "chat"
	// EventLog is any other forwarded server line.
	EventLog EventKind = "log"
	// EventStatus is a lifecycle announcement from the engine itself.
	EventStatus EventKind = "status"
)

// Stream names the server output a line was read from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Event is one notification delivered to sinks and stream subscribers.
type Event struct {
	Seq       uint64    `json:"seq,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Kind      EventKind `json:"kind"`
	Stream    Stream    `json:"stream,omitempty"`
	Time      time.Time `json:"time"`
	// Line is the raw server output, empty for status events.
	Line string `json:"line,omitempty"`

	Actor  string `json:"actor,omitempty"`
	Item   string `json:"item,omitempty"`
	Target string `json:"target,omitempty"`

	// Message is ready for display.
	Message string `json:"message"`
}

// StatusEvent builds a lifecycle announcement.
func StatusEvent(sessionID, message string) Event {
	return Event{
		SessionID: sessionID,
		Kind:      EventStatus,
		Time:      time.Now(),
		Message:   message,
	}
}
