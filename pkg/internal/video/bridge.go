package video

import (
	"context"
	"errors"
)

// EventKind is the fixed vocabulary the conference widget is reduced to.
// The controller never touches the widget's native API; these five events
// are the whole contract.
type EventKind string

const (
	EventJoined            EventKind = "joined"
	EventParticipantJoined EventKind = "participant_joined"
	EventParticipantLeft   EventKind = "participant_left"
	EventLeft              EventKind = "left"
	EventReadyToClose      EventKind = "ready_to_close"
)

type Event struct {
	Kind        EventKind
	Participant string
}

// RoomInfo identifies the conference room for one call. ServerURL is an
// optional hint; implementations fall back to their configured host.
type RoomInfo struct {
	Token       string
	DisplayName string
	ServerURL   string
}

// Handle is one mounted conference surface. Leave releases every resource
// held by the handle before returning, so a later Join starts clean.
type Handle interface {
	Events() <-chan Event
	Leave()
}

// Bridge mounts the third-party conference widget. Join is idempotent
// while a handle is live: at most one underlying widget instance exists
// per call, even when Join is issued twice for the same room.
type Bridge interface {
	Join(ctx context.Context, room RoomInfo) (Handle, error)
}

// ErrRuntimeUnavailable means the widget runtime could not be loaded. It is
// non-fatal for the call itself; callers surface it and may retry the join.
var ErrRuntimeUnavailable = errors.New("video runtime unavailable")
