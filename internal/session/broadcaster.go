package session

import "time"

// Transport delivers events to live connections. Implementations must not
// call back into the Controller synchronously.
type Transport interface {
	Send(connID string, ev Event)
	Broadcast(ev Event)
	Close(connID string)
}

// Broadcaster formats presence, chat and activity events and hands them to
// the transport.
type Broadcaster struct {
	transport Transport
	now       func() time.Time
}

// NewBroadcaster returns a Broadcaster writing to t.
func NewBroadcaster(t Transport, now func() time.Time) *Broadcaster {
	if now == nil {
		now = time.Now
	}
	return &Broadcaster{transport: t, now: now}
}

// EmitPresenceCount tells every connection how many players are online.
func (b *Broadcaster) EmitPresenceCount(count int) {
	b.transport.Broadcast(Event{Name: EventPlayerCount, Data: PlayerCountPayload{Count: count}})
}

// EmitActivity appends an entry to every connection's activity feed.
func (b *Broadcaster) EmitActivity(kind, message string) {
	b.transport.Broadcast(Event{Name: EventActivity, Data: ActivityPayload{
		Message:   message,
		Type:      kind,
		Timestamp: b.now().UTC(),
	}})
}

// EmitChat broadcasts a chat line.
func (b *Broadcaster) EmitChat(s Identity, text string) {
	b.transport.Broadcast(Event{Name: EventChat, Data: ChatPayload{
		UserID:    s.UserID,
		Username:  s.Username,
		Message:   text,
		Timestamp: b.now().UTC(),
	}})
}

// EmitAuthenticated acknowledges authentication to one connection.
func (b *Broadcaster) EmitAuthenticated(connID string) {
	b.transport.Send(connID, Event{Name: EventAuthenticated, Data: AuthenticatedPayload{Success: true}})
}

// EmitError reports a failure to one connection only.
func (b *Broadcaster) EmitError(connID, message string) {
	b.transport.Send(connID, Event{Name: EventError, Data: ErrorPayload{Message: message}})
}

// Identity is the part of a session needed to attribute a chat line.
type Identity struct {
	UserID   string
	Username string
}
