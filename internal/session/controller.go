package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Tyrowin/gamehub/internal/auth"
	"github.com/Tyrowin/gamehub/internal/presence"
)

// DefaultMaxChatLength bounds a chat line when no limit is configured.
const DefaultMaxChatLength = 500

// Error messages sent to a connection in an error event.
const (
	MsgTokenRequired     = "Authentication token required"
	MsgTokenExpired      = "Token expired"
	MsgTokenInvalid      = "Invalid token"
	MsgAlreadyAuthed     = "Connection already authenticated as another user"
	MsgNotAuthenticated  = "Not authenticated"
	MsgEmptyChat         = "Message cannot be empty"
	MsgChatTooLong       = "Message too long"
	MsgRateLimited       = "Rate limit exceeded"
	MsgMalformedEvent    = "Malformed event"
	MsgUnknownEventShape = "Unknown event"
)

// Verifier validates access tokens.
type Verifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Observer receives presence metrics. All methods are called from the
// controller's goroutine.
type Observer interface {
	OnlinePlayers(n int)
	Connections(n int)
	AuthFailure(reason string)
	ChatMessage()
	IdleDisconnect()
}

type nopObserver struct{}

func (nopObserver) OnlinePlayers(int)  {}
func (nopObserver) Connections(int)    {}
func (nopObserver) AuthFailure(string) {}
func (nopObserver) ChatMessage()       {}
func (nopObserver) IdleDisconnect()    {}

// Options configures a Controller.
type Options struct {
	Registry      *presence.Registry
	Verifier      Verifier
	Transport     Transport
	Observer      Observer
	Logger        *slog.Logger
	Now           func() time.Time
	MaxChatLength int
}

// Controller ties token verification, the presence registry and the
// broadcaster together.
type Controller struct {
	registry    *presence.Registry
	verifier    Verifier
	transport   Transport
	broadcaster *Broadcaster
	observer    Observer
	logger      *slog.Logger
	now         func() time.Time
	maxChat     int
}

// NewController returns a Controller. Registry, Verifier and Transport are required.
func NewController(opts Options) *Controller {
	if opts.Registry == nil {
		opts.Registry = presence.NewRegistry()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxChatLength <= 0 {
		opts.MaxChatLength = DefaultMaxChatLength
	}
	return &Controller{
		registry:    opts.Registry,
		verifier:    opts.Verifier,
		transport:   opts.Transport,
		broadcaster: NewBroadcaster(opts.Transport, opts.Now),
		observer:    opts.Observer,
		logger:      opts.Logger,
		now:         opts.Now,
		maxChat:     opts.MaxChatLength,
	}
}

// Broadcaster returns the broadcaster used by the controller.
func (c *Controller) Broadcaster() *Broadcaster {
	return c.broadcaster
}

// Connect starts tracking a new, unauthenticated connection.
func (c *Controller) Connect(connID string) {
	c.registry.Connect(connID, c.now())
	c.observer.Connections(c.registry.ConnectionCount())
}

// Authenticate verifies token and binds the connection to its user. Failures
// are reported to the connection only and leave the registry and the
// activity ledger untouched.
func (c *Controller) Authenticate(connID, token string) error {
	if !c.registry.Connected(connID) {
		return presence.ErrAlreadyDisconnected
	}

	if strings.TrimSpace(token) == "" {
		c.observer.AuthFailure("missing")
		c.broadcaster.EmitError(connID, MsgTokenRequired)
		return auth.ErrTokenInvalid
	}
	claims, err := c.verifier.Verify(token)
	if err != nil {
		reason, msg := "invalid", MsgTokenInvalid
		if errors.Is(err, auth.ErrTokenExpired) {
			reason, msg = "expired", MsgTokenExpired
		}
		c.observer.AuthFailure(reason)
		c.broadcaster.EmitError(connID, msg)
		c.logger.Debug("socket authentication failed", "conn", connID, "err", err)
		return err
	}

	res, err := c.registry.Authenticate(presence.Session{
		ConnectionID:    connID,
		UserID:          claims.UserID(),
		Username:        claims.Username,
		Role:            claims.Role,
		AuthenticatedAt: c.now(),
	})
	if err != nil {
		if errors.Is(err, presence.ErrIdentityMismatch) {
			c.broadcaster.EmitError(connID, MsgAlreadyAuthed)
		}
		return err
	}
	c.registry.Touch(connID, c.now())

	if res.IsNewPlayer {
		count := c.registry.CountDistinctUsers()
		c.observer.OnlinePlayers(count)
		c.broadcaster.EmitPresenceCount(count)
		c.broadcaster.EmitActivity(ActivityLogin, fmt.Sprintf("%s joined the game", claims.Username))
	}
	c.broadcaster.EmitAuthenticated(connID)
	c.logger.Info("socket authenticated", "conn", connID, "user", claims.UserID(), "username", claims.Username, "new_player", res.IsNewPlayer)
	return nil
}

// Activity records a heartbeat. Unknown connections are ignored.
func (c *Controller) Activity(connID string) {
	c.registry.Touch(connID, c.now())
}

// Chat broadcasts text on behalf of an authenticated connection.
func (c *Controller) Chat(connID, text string) error {
	if !c.registry.Touch(connID, c.now()) {
		return presence.ErrAlreadyDisconnected
	}
	sess, ok := c.registry.Session(connID)
	if !ok {
		c.broadcaster.EmitError(connID, MsgNotAuthenticated)
		return errors.New("chat from unauthenticated connection")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		c.broadcaster.EmitError(connID, MsgEmptyChat)
		return errors.New("empty chat message")
	}
	if utf8.RuneCountInString(text) > c.maxChat {
		c.broadcaster.EmitError(connID, MsgChatTooLong)
		return errors.New("chat message too long")
	}

	c.observer.ChatMessage()
	c.broadcaster.EmitChat(Identity{UserID: sess.UserID, Username: sess.Username}, text)
	c.broadcaster.EmitActivity(ActivityChat, fmt.Sprintf("%s sent a message", sess.Username))
	return nil
}

// HandleDisconnect forgets connID. When it was the user's last connection
// the new player count and a leave notice are broadcast.
func (c *Controller) HandleDisconnect(connID string) {
	res, err := c.registry.Disconnect(connID)
	if err != nil {
		return
	}
	c.observer.Connections(c.registry.ConnectionCount())
	if res.Session == nil {
		c.logger.Debug("unauthenticated socket disconnected", "conn", connID)
		return
	}
	c.logger.Info("socket disconnected", "conn", connID, "user", res.Session.UserID, "last_connection", res.WasLastConnectionForUser)
	if !res.WasLastConnectionForUser {
		return
	}
	count := c.registry.CountDistinctUsers()
	c.observer.OnlinePlayers(count)
	c.broadcaster.EmitPresenceCount(count)
	c.broadcaster.EmitActivity(ActivityLogout, fmt.Sprintf("%s left the game", res.Session.Username))
}

// ForceLogout closes every connection authenticated as userID and returns how many were closed.
func (c *Controller) ForceLogout(userID string) int {
	conns := c.registry.ConnectionsForUser(userID)
	for _, connID := range conns {
		c.transport.Close(connID)
		c.HandleDisconnect(connID)
	}
	if len(conns) > 0 {
		c.logger.Info("user sessions force-closed", "user", userID, "count", len(conns))
	}
	return len(conns)
}

// DisconnectAll closes every connection, clears presence state and tells
// anyone still listening that the count is zero.
func (c *Controller) DisconnectAll(reason string) int {
	conns := c.registry.Connections()
	if reason == "" {
		reason = "Server is disconnecting all players"
	}
	c.broadcaster.EmitActivity(ActivitySystem, reason)
	for _, connID := range conns {
		c.transport.Close(connID)
	}
	c.registry.Reset()
	c.observer.Connections(0)
	c.observer.OnlinePlayers(0)
	c.broadcaster.EmitPresenceCount(0)
	c.logger.Info("all sockets disconnected", "count", len(conns), "reason", reason)
	return len(conns)
}

// SweepIdle disconnects connections with no activity for longer than
// timeout. A failure on one connection is logged and the sweep continues.
func (c *Controller) SweepIdle(now time.Time, timeout time.Duration) int {
	removed := 0
	for _, connID := range c.registry.Idle(now, timeout) {
		if c.sweepOne(connID) {
			removed++
		}
	}
	if removed > 0 {
		c.logger.Info("idle sockets disconnected", "count", removed, "timeout", timeout)
	}
	return removed
}

func (c *Controller) sweepOne(connID string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("idle sweep failed for connection", "conn", connID, "panic", r)
			// Drop the entry so a broken connection is not retried forever.
			_, _ = c.registry.Disconnect(connID)
			c.resyncCount()
			ok = false
		}
	}()
	c.transport.Close(connID)
	c.HandleDisconnect(connID)
	c.observer.IdleDisconnect()
	return true
}

// resyncCount publishes the current counts after a disconnect that did not
// finish normally, since its own playerCount broadcast may never have run.
func (c *Controller) resyncCount() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("player count resync failed", "panic", r)
		}
	}()
	count := c.registry.CountDistinctUsers()
	c.observer.Connections(c.registry.ConnectionCount())
	c.observer.OnlinePlayers(count)
	c.broadcaster.EmitPresenceCount(count)
}

// OnlinePlayers returns the number of distinct users online.
func (c *Controller) OnlinePlayers() int {
	return c.registry.CountDistinctUsers()
}

// Snapshot describes current presence for administrative views.
type Snapshot struct {
	OnlinePlayers int                `json:"onlinePlayers"`
	Connections   int                `json:"connections"`
	Sessions      []presence.Session `json:"sessions"`
}

// Snapshot returns a copy of the current presence state.
func (c *Controller) Snapshot() Snapshot {
	return Snapshot{
		OnlinePlayers: c.registry.CountDistinctUsers(),
		Connections:   c.registry.ConnectionCount(),
		Sessions:      c.registry.Sessions(),
	}
}
