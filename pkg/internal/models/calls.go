package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// SessionState is the controller-owned call lifecycle state.
type SessionState string

const (
	StateLoading    SessionState = "loading"
	StateIdle       SessionState = "idle"
	StateConnecting SessionState = "connecting"
	StateActive     SessionState = "active"
	StateEnded      SessionState = "ended"
)

// Counterparty is the other participant of a call, resolved by the backend
// from the caller's role.
type Counterparty struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// CallSession is the backend-owned record of one call attempt. The client
// only caches it; ElapsedSeconds is refreshed by heartbeat/end responses.
type CallSession struct {
	ID             string       `json:"id"`
	RoomToken      string       `json:"room_token"`
	Counterparty   Counterparty `json:"counterparty"`
	StartedAt      time.Time    `json:"started_at"`
	ElapsedSeconds int          `json:"elapsed_seconds"`
}

// VideoRoomInfo carries everything needed to re-join the conference room
// after a page re-entry. It may differ from the parameters of a fresh start.
type VideoRoomInfo struct {
	RoomName string `json:"room_name"`
	UserName string `json:"user_name"`
	Domain   string `json:"domain"`
}

// ActiveCall is the response of the active-call query.
type ActiveCall struct {
	HasActiveCall bool           `json:"has_active_call"`
	Call          *CallSession   `json:"call,omitempty"`
	Video         *VideoRoomInfo `json:"video,omitempty"`
}

// HeartbeatResult is the response of a liveness heartbeat. The subscription
// remainder is only present for student-role callers.
type HeartbeatResult struct {
	SubscriptionSecondsRemaining *int `json:"subscription_time_remaining,omitempty"`
}

// CallEndResult carries the authoritative duration established by the backend.
type CallEndResult struct {
	Call            *CallSession `json:"call"`
	DurationSeconds int          `json:"duration"`
}

// CallRecord is the archived form of a finished call.
type CallRecord struct {
	gorm.Model

	SessionID       string    `json:"session_id"`
	StudentID       string    `json:"student_id"`
	TeacherID       string    `json:"teacher_id"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	DurationSeconds int       `json:"duration_seconds"`
	EndedBy         string    `json:"ended_by"`
}

// FormatDuration renders elapsed seconds as MM:SS, or HH:MM:SS past an hour.
func FormatDuration(secs int) string {
	if secs < 0 {
		secs = 0
	}
	h := secs / 3600
	m := secs % 3600 / 60
	s := secs % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
