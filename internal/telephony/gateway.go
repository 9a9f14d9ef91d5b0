package telephony

import (
	"context"
	"time"
)

// Gateway defines the switch-agnostic channel control interface used by the
// dialing engine.
//
// Rules:
// - No switch SDK/HTTP calls outside telephony adapters.
// - All operations must honor ctx deadlines; the pacing tick can never be
//   blocked indefinitely by the switch.
// - Origination failure under switch capacity exhaustion is an ordinary
//   error for the caller to absorb, not a fatal condition.
type Gateway interface {
	// Originate starts an outbound channel and returns the switch channel id.
	Originate(ctx context.Context, phoneNumber, callerID string) (string, error)

	// Bridge joins two live channels into a mixing bridge.
	Bridge(ctx context.Context, channelA, channelB string) error

	// Hangup tears down a channel. Hanging up an already-dead channel is not
	// an error the engine cares about.
	Hangup(ctx context.Context, channelID string) error

	StartRecording(ctx context.Context, channelID string) (string, error)
	StopRecording(ctx context.Context, recordingRef string) error
}

// EventType is the internal vocabulary asynchronous switch events are
// normalized into. Switch-native event names never cross this boundary.
type EventType string

const (
	EventSessionStarted  EventType = "session_started"
	EventAnswered        EventType = "answered"
	EventHangupRequested EventType = "hangup_requested"
	EventDestroyed       EventType = "destroyed"
)

// Event is one normalized switch lifecycle event.
type Event struct {
	Type       EventType `json:"type"`
	ChannelID  string    `json:"channel_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventHandler consumes normalized events from the stream.
type EventHandler func(ctx context.Context, ev Event)
