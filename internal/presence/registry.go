// Package presence tracks which live connections belong to which players and
// when each connection was last active.
//
// A Registry is not safe for concurrent use. It is meant to be owned by a
// single event-processing goroutine that applies every connection event in turn.
package presence

import (
	"errors"
	"sort"
	"time"
)

var (
	// ErrAlreadyDisconnected is returned for operations on a connection that
	// is no longer tracked. Callers treat it as a benign no-op.
	ErrAlreadyDisconnected = errors.New("connection already disconnected")
	// ErrIdentityMismatch is returned when an authenticated connection tries
	// to authenticate again as a different user.
	ErrIdentityMismatch = errors.New("connection already authenticated as another user")
)

// Session is the identity bound to a connection after it authenticates.
type Session struct {
	ConnectionID    string    `json:"connectionId"`
	UserID          string    `json:"userId"`
	Username        string    `json:"username"`
	Role            string    `json:"role"`
	AuthenticatedAt time.Time `json:"authenticatedAt"`
}

// AuthenticateResult reports the effect of Authenticate on the player count.
type AuthenticateResult struct {
	IsNewPlayer bool
}

// DisconnectResult reports the effect of Disconnect on the player count.
type DisconnectResult struct {
	Session                  *Session // nil if the connection never authenticated
	WasLastConnectionForUser bool
}

// Registry holds the presence registry (connection → session), an index of
// connections per user, and the activity ledger (connection → last activity).
type Registry struct {
	sessions map[string]*Session
	byUser   map[string]map[string]struct{}
	ledger   map[string]time.Time
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		byUser:   make(map[string]map[string]struct{}),
		ledger:   make(map[string]time.Time),
	}
}

// Connect starts tracking activity for connID.
func (r *Registry) Connect(connID string, at time.Time) {
	r.ledger[connID] = at
}

// Connected reports whether connID is still tracked.
func (r *Registry) Connected(connID string) bool {
	_, ok := r.ledger[connID]
	return ok
}

// Authenticate binds s to its connection. The connection must still be
// tracked. Authenticating again as the same user is a no-op.
func (r *Registry) Authenticate(s Session) (AuthenticateResult, error) {
	if _, ok := r.ledger[s.ConnectionID]; !ok {
		return AuthenticateResult{}, ErrAlreadyDisconnected
	}
	if existing, ok := r.sessions[s.ConnectionID]; ok {
		if existing.UserID != s.UserID {
			return AuthenticateResult{}, ErrIdentityMismatch
		}
		return AuthenticateResult{IsNewPlayer: false}, nil
	}

	conns, seen := r.byUser[s.UserID]
	if !seen {
		conns = make(map[string]struct{})
		r.byUser[s.UserID] = conns
	}
	conns[s.ConnectionID] = struct{}{}
	sess := s
	r.sessions[s.ConnectionID] = &sess
	return AuthenticateResult{IsNewPlayer: !seen}, nil
}

// Touch records activity on connID. It returns false if the connection is unknown.
func (r *Registry) Touch(connID string, at time.Time) bool {
	if _, ok := r.ledger[connID]; !ok {
		return false
	}
	r.ledger[connID] = at
	return true
}

// LastActivity returns the last recorded activity of connID.
func (r *Registry) LastActivity(connID string) (time.Time, bool) {
	t, ok := r.ledger[connID]
	return t, ok
}

// Disconnect forgets connID in both the registry and the ledger.
func (r *Registry) Disconnect(connID string) (DisconnectResult, error) {
	_, tracked := r.ledger[connID]
	sess, authed := r.sessions[connID]
	if !tracked && !authed {
		return DisconnectResult{}, ErrAlreadyDisconnected
	}
	delete(r.ledger, connID)
	if !authed {
		return DisconnectResult{}, nil
	}

	delete(r.sessions, connID)
	last := false
	if conns, ok := r.byUser[sess.UserID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.byUser, sess.UserID)
			last = true
		}
	}
	return DisconnectResult{Session: sess, WasLastConnectionForUser: last}, nil
}

// CountDistinctUsers returns the number of users with at least one live
// authenticated connection.
func (r *Registry) CountDistinctUsers() int {
	return len(r.byUser)
}

// ConnectionCount returns the number of tracked connections, authenticated or not.
func (r *Registry) ConnectionCount() int {
	return len(r.ledger)
}

// Session returns the session bound to connID.
func (r *Registry) Session(connID string) (Session, bool) {
	s, ok := r.sessions[connID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// ConnectionsForUser returns the ids of every connection authenticated as userID, sorted.
func (r *Registry) ConnectionsForUser(userID string) []string {
	conns := r.byUser[userID]
	out := make([]string, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Connections returns every tracked connection id, sorted.
func (r *Registry) Connections() []string {
	out := make([]string, 0, len(r.ledger))
	for id := range r.ledger {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Sessions returns a copy of every authenticated session ordered by
// authentication time.
func (r *Registry) Sessions() []Session {
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AuthenticatedAt.Equal(out[j].AuthenticatedAt) {
			return out[i].ConnectionID < out[j].ConnectionID
		}
		return out[i].AuthenticatedAt.Before(out[j].AuthenticatedAt)
	})
	return out
}

// Idle returns the connections whose last activity is older than timeout at now, sorted.
func (r *Registry) Idle(now time.Time, timeout time.Duration) []string {
	var out []string
	for id, last := range r.ledger {
		if now.Sub(last) > timeout {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Reset forgets every connection.
func (r *Registry) Reset() {
	clear(r.sessions)
	clear(r.byUser)
	clear(r.ledger)
}
