// Package session orchestrates the realtime presence layer: authenticating
// connections, keeping the online-player count, chat, logout-driven
// disconnects and idle sweeps.
//
// The Controller is a pure state machine driven by a transport. It performs
// no I/O of its own and must be called from a single goroutine.
package session

import "time"

// Inbound event names sent by clients.
const (
	EventAuthenticate = "authenticate"
	EventHeartbeat    = "activity"
	EventChatIn       = "chat"
)

// Outbound event names sent to clients.
const (
	EventAuthenticated = "authenticated"
	EventError         = "error"
	EventChat          = "chat"
	EventPlayerCount   = "playerCount"
	EventActivity      = "activity"
)

// Activity feed entry types.
const (
	ActivitySystem = "system"
	ActivityLogin  = "login"
	ActivityLogout = "logout"
	ActivityChat   = "chat"
)

// Event is one message on the wire: {"event": name, "data": payload}.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// AuthenticatedPayload acknowledges a successful authenticate.
type AuthenticatedPayload struct {
	Success bool `json:"success"`
}

// ErrorPayload reports a failure to a single connection.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ChatPayload is a chat line broadcast to every connection.
type ChatPayload struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// PlayerCountPayload carries the number of distinct online players.
type PlayerCountPayload struct {
	Count int `json:"count"`
}

// ActivityPayload is an activity feed entry.
type ActivityPayload struct {
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// AuthenticateRequest is the payload of an inbound authenticate event.
type AuthenticateRequest struct {
	Token string `json:"token"`
}

// ChatRequest is the payload of an inbound chat event.
type ChatRequest struct {
	Text string `json:"text"`
}
