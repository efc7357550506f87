package session

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/gamehub/internal/auth"
	"github.com/Tyrowin/gamehub/internal/presence"
)

type sent struct {
	to string // empty for broadcasts
	ev Event
}

type recordingTransport struct {
	events []sent
	closed []string
	panic  map[string]bool
}

func (t *recordingTransport) Send(connID string, ev Event) {
	t.events = append(t.events, sent{to: connID, ev: ev})
}

func (t *recordingTransport) Broadcast(ev Event) {
	t.events = append(t.events, sent{ev: ev})
}

func (t *recordingTransport) Close(connID string) {
	if t.panic[connID] {
		panic("close failed for " + connID)
	}
	t.closed = append(t.closed, connID)
}

func (t *recordingTransport) reset() {
	t.events = nil
	t.closed = nil
}

func (t *recordingTransport) broadcasts(name string) []Event {
	var out []Event
	for _, s := range t.events {
		if s.to == "" && s.ev.Name == name {
			out = append(out, s.ev)
		}
	}
	return out
}

func (t *recordingTransport) sentTo(connID, name string) []Event {
	var out []Event
	for _, s := range t.events {
		if s.to == connID && s.ev.Name == name {
			out = append(out, s.ev)
		}
	}
	return out
}

type countingObserver struct {
	online, conns int
	failures      []string
	chats, idle   int

	// panicConns makes the next Connections call panic.
	panicConns bool
}

func (o *countingObserver) OnlinePlayers(n int) { o.online = n }

func (o *countingObserver) Connections(n int) {
	if o.panicConns {
		o.panicConns = false
		panic("connections gauge failed")
	}
	o.conns = n
}

func (o *countingObserver) AuthFailure(reason string) { o.failures = append(o.failures, reason) }
func (o *countingObserver) ChatMessage()              { o.chats++ }
func (o *countingObserver) IdleDisconnect()           { o.idle++ }

type fixture struct {
	ctrl      *Controller
	tokens    *auth.AccessTokens
	transport *recordingTransport
	observer  *countingObserver
	registry  *presence.Registry
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		transport: &recordingTransport{panic: map[string]bool{}},
		observer:  &countingObserver{},
		registry:  presence.NewRegistry(),
		now:       time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	tokens, err := auth.NewHMACAccessTokens([]byte("controller-test-secret"), "gamehub", time.Hour)
	if err != nil {
		t.Fatalf("NewHMACAccessTokens: %v", err)
	}
	f.tokens = tokens.WithClock(clock)
	f.ctrl = NewController(Options{
		Registry:      f.registry,
		Verifier:      f.tokens,
		Transport:     f.transport,
		Observer:      f.observer,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:           clock,
		MaxChatLength: 20,
	})
	return f
}

func (f *fixture) token(t *testing.T, userID, username string) string {
	t.Helper()
	tok, _, err := f.tokens.Issue(userID, username, "player")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func (f *fixture) join(t *testing.T, connID, userID, username string) {
	t.Helper()
	f.ctrl.Connect(connID)
	if err := f.ctrl.Authenticate(connID, f.token(t, userID, username)); err != nil {
		t.Fatalf("Authenticate(%s): %v", connID, err)
	}
}

func lastCount(t *testing.T, evs []Event) int {
	t.Helper()
	if len(evs) == 0 {
		t.Fatal("no playerCount events")
	}
	p, ok := evs[len(evs)-1].Data.(PlayerCountPayload)
	if !ok {
		t.Fatalf("playerCount payload has type %T", evs[len(evs)-1].Data)
	}
	return p.Count
}

func TestSameUserTwoConnections(t *testing.T) {
	f := newFixture(t)

	f.join(t, "A", "u1", "alice")
	counts := f.transport.broadcasts(EventPlayerCount)
	if len(counts) != 1 || lastCount(t, counts) != 1 {
		t.Fatalf("after A: playerCount broadcasts = %v, want one with count 1", counts)
	}
	if acks := f.transport.sentTo("A", EventAuthenticated); len(acks) != 1 {
		t.Errorf("A got %d authenticated acks, want 1", len(acks))
	}

	f.transport.reset()
	f.join(t, "B", "u1", "alice")
	if counts := f.transport.broadcasts(EventPlayerCount); len(counts) != 0 {
		t.Errorf("second connection of same user broadcast playerCount %v", counts)
	}
	if acts := f.transport.broadcasts(EventActivity); len(acts) != 0 {
		t.Errorf("second connection of same user broadcast activity %v", acts)
	}
	if acks := f.transport.sentTo("B", EventAuthenticated); len(acks) != 1 {
		t.Errorf("B got %d authenticated acks, want 1", len(acks))
	}

	f.transport.reset()
	f.ctrl.HandleDisconnect("A")
	if counts := f.transport.broadcasts(EventPlayerCount); len(counts) != 0 {
		t.Errorf("disconnecting A broadcast playerCount %v", counts)
	}

	f.ctrl.HandleDisconnect("B")
	counts = f.transport.broadcasts(EventPlayerCount)
	if got := lastCount(t, counts); got != 0 {
		t.Errorf("after B: count = %d, want 0", got)
	}
	acts := f.transport.broadcasts(EventActivity)
	if len(acts) != 1 {
		t.Fatalf("after B: %d activity events, want 1", len(acts))
	}
	if p := acts[0].Data.(ActivityPayload); p.Type != ActivityLogout || p.Message != "alice left the game" {
		t.Errorf("leave activity = %+v", p)
	}
}

func TestJoinActivityAnnounced(t *testing.T) {
	f := newFixture(t)
	f.join(t, "A", "u1", "alice")

	acts := f.transport.broadcasts(EventActivity)
	if len(acts) != 1 {
		t.Fatalf("got %d activity events, want 1", len(acts))
	}
	p := acts[0].Data.(ActivityPayload)
	if p.Type != ActivityLogin || p.Message != "alice joined the game" || !p.Timestamp.Equal(f.now) {
		t.Errorf("join activity = %+v", p)
	}
	if f.observer.online != 1 || f.observer.conns != 1 {
		t.Errorf("observer online=%d conns=%d, want 1/1", f.observer.online, f.observer.conns)
	}
}

func TestAuthenticateFailures(t *testing.T) {
	f := newFixture(t)
	expired := f.token(t, "u1", "alice")
	f.now = f.now.Add(2 * time.Hour)

	tests := []struct {
		name  string
		token string
		msg   string
	}{
		{"missing", "", MsgTokenRequired},
		{"blank", "   ", MsgTokenRequired},
		{"expired", expired, MsgTokenExpired},
		{"garbage", "not.a.jwt", MsgTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.transport.reset()
			f.ctrl.Connect("C")
			if err := f.ctrl.Authenticate("C", tt.token); err == nil {
				t.Fatal("Authenticate should fail")
			}
			errs := f.transport.sentTo("C", EventError)
			if len(errs) != 1 {
				t.Fatalf("got %d error events, want 1", len(errs))
			}
			if got := errs[0].Data.(ErrorPayload).Message; got != tt.msg {
				t.Errorf("error message = %q, want %q", got, tt.msg)
			}
			if n := len(f.transport.broadcasts(EventPlayerCount)); n != 0 {
				t.Errorf("failed auth broadcast %d playerCount events", n)
			}
			if f.registry.CountDistinctUsers() != 0 {
				t.Error("registry changed on failed auth")
			}
			if !f.registry.Connected("C") {
				t.Error("connection should stay open after failed auth")
			}
		})
	}
	if len(f.observer.failures) != len(tests) {
		t.Errorf("observer saw %d auth failures, want %d", len(f.observer.failures), len(tests))
	}
}

func TestAuthenticateAfterDisconnectIsNoop(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, "u1", "alice")
	f.ctrl.Connect("A")
	f.ctrl.HandleDisconnect("A")
	f.transport.reset()

	err := f.ctrl.Authenticate("A", tok)
	if !errors.Is(err, presence.ErrAlreadyDisconnected) {
		t.Fatalf("error = %v, want ErrAlreadyDisconnected", err)
	}
	if len(f.transport.events) != 0 {
		t.Errorf("late authenticate emitted %v", f.transport.events)
	}
	if f.ctrl.OnlinePlayers() != 0 {
		t.Error("late authenticate must not count the player")
	}
}

func TestReauthenticateAsOtherUser(t *testing.T) {
	f := newFixture(t)
	f.join(t, "A", "u1", "alice")
	f.transport.reset()

	err := f.ctrl.Authenticate("A", f.token(t, "u2", "bob"))
	if !errors.Is(err, presence.ErrIdentityMismatch) {
		t.Fatalf("error = %v, want ErrIdentityMismatch", err)
	}
	if errs := f.transport.sentTo("A", EventError); len(errs) != 1 {
		t.Errorf("got %d error events, want 1", len(errs))
	}
	if f.ctrl.OnlinePlayers() != 1 {
		t.Errorf("OnlinePlayers() = %d, want 1", f.ctrl.OnlinePlayers())
	}
}

func TestChat(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Connect("anon")
	f.join(t, "A", "u1", "alice")
	f.transport.reset()

	if err := f.ctrl.Chat("anon", "hello"); err == nil {
		t.Error("chat from unauthenticated connection should fail")
	}
	if errs := f.transport.sentTo("anon", EventError); len(errs) != 1 || errs[0].Data.(ErrorPayload).Message != MsgNotAuthenticated {
		t.Errorf("anon errors = %v", errs)
	}

	if err := f.ctrl.Chat("A", "   "); err == nil {
		t.Error("blank chat should fail")
	}
	if err := f.ctrl.Chat("A", strings.Repeat("x", 21)); err == nil {
		t.Error("over-length chat should fail")
	}
	if n := len(f.transport.broadcasts(EventChat)); n != 0 {
		t.Fatalf("rejected chat was broadcast %d times", n)
	}

	if err := f.ctrl.Chat("A", "  hi all  "); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	chats := f.transport.broadcasts(EventChat)
	if len(chats) != 1 {
		t.Fatalf("got %d chat broadcasts, want 1", len(chats))
	}
	p := chats[0].Data.(ChatPayload)
	if p.UserID != "u1" || p.Username != "alice" || p.Message != "hi all" {
		t.Errorf("chat payload = %+v", p)
	}
	if f.observer.chats != 1 {
		t.Errorf("observer chats = %d, want 1", f.observer.chats)
	}
}

func TestActivityKeepsConnectionAlive(t *testing.T) {
	f := newFixture(t)
	f.join(t, "A", "u1", "alice")
	f.join(t, "B", "u2", "bob")
	start := f.now

	f.now = start.Add(20 * time.Minute)
	f.ctrl.Activity("A")
	f.ctrl.Activity("ghost")

	f.transport.reset()
	n := f.ctrl.SweepIdle(start.Add(31*time.Minute), 30*time.Minute)
	if n != 1 {
		t.Fatalf("SweepIdle removed %d, want 1", n)
	}
	if len(f.transport.closed) != 1 || f.transport.closed[0] != "B" {
		t.Errorf("closed = %v, want [B]", f.transport.closed)
	}
	if got := lastCount(t, f.transport.broadcasts(EventPlayerCount)); got != 1 {
		t.Errorf("count after sweep = %d, want 1", got)
	}
	if f.observer.idle != 1 {
		t.Errorf("observer idle = %d, want 1", f.observer.idle)
	}
}

func TestSweepIdleContinuesAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.join(t, "A", "u1", "alice")
	f.join(t, "B", "u2", "bob")
	f.join(t, "C", "u3", "carol")
	f.transport.panic["B"] = true

	n := f.ctrl.SweepIdle(f.now.Add(time.Hour), 30*time.Minute)
	if n != 2 {
		t.Errorf("SweepIdle removed %d, want 2", n)
	}
	if f.registry.ConnectionCount() != 0 {
		t.Errorf("ConnectionCount() = %d, want 0", f.registry.ConnectionCount())
	}
}

func TestSweepIdleRebroadcastsCountAfterFailure(t *testing.T) {
	f := newFixture(t)
	f.join(t, "A", "u1", "alice")
	f.join(t, "B", "u2", "bob")
	start := f.now
	f.now = start.Add(20 * time.Minute)
	f.ctrl.Activity("B")

	f.transport.reset()
	// A's disconnect panics after the registry already dropped it.
	f.observer.panicConns = true
	if n := f.ctrl.SweepIdle(start.Add(31*time.Minute), 30*time.Minute); n != 0 {
		t.Errorf("SweepIdle removed %d, want 0 after a failed entry", n)
	}
	if f.registry.Connected("A") {
		t.Error("A still tracked after failed sweep")
	}
	if got := lastCount(t, f.transport.broadcasts(EventPlayerCount)); got != 1 {
		t.Errorf("count after failed sweep = %d, want 1", got)
	}
	if f.observer.online != 1 || f.observer.conns != 1 {
		t.Errorf("observer online = %d, conns = %d; want 1, 1", f.observer.online, f.observer.conns)
	}
}

func TestFailedAuthenticateDoesNotRefreshActivity(t *testing.T) {
	f := newFixture(t)
	start := f.now
	f.ctrl.Connect("bad")
	f.ctrl.Connect("good")

	f.now = start.Add(20 * time.Minute)
	if err := f.ctrl.Authenticate("bad", "not.a.jwt"); err == nil {
		t.Fatal("Authenticate should fail")
	}
	if err := f.ctrl.Authenticate("bad", ""); err == nil {
		t.Fatal("Authenticate should fail")
	}
	if err := f.ctrl.Authenticate("good", f.token(t, "u1", "alice")); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	f.transport.reset()
	if n := f.ctrl.SweepIdle(start.Add(31*time.Minute), 30*time.Minute); n != 1 {
		t.Fatalf("SweepIdle removed %d, want 1", n)
	}
	if len(f.transport.closed) != 1 || f.transport.closed[0] != "bad" {
		t.Errorf("closed = %v, want [bad]", f.transport.closed)
	}
}

func TestSweepIdleNothingToDo(t *testing.T) {
	f := newFixture(t)
	f.join(t, "A", "u1", "alice")
	f.transport.reset()

	if n := f.ctrl.SweepIdle(f.now.Add(time.Minute), 30*time.Minute); n != 0 {
		t.Errorf("SweepIdle removed %d, want 0", n)
	}
	if len(f.transport.events) != 0 {
		t.Errorf("empty sweep emitted %v", f.transport.events)
	}
}

func TestForceLogout(t *testing.T) {
	f := newFixture(t)
	f.join(t, "A", "u1", "alice")
	f.join(t, "B", "u1", "alice")
	f.join(t, "C", "u2", "bob")
	f.transport.reset()

	if n := f.ctrl.ForceLogout("u1"); n != 2 {
		t.Fatalf("ForceLogout closed %d, want 2", n)
	}
	if len(f.transport.closed) != 2 {
		t.Errorf("closed = %v", f.transport.closed)
	}
	counts := f.transport.broadcasts(EventPlayerCount)
	if len(counts) != 1 || lastCount(t, counts) != 1 {
		t.Errorf("playerCount broadcasts = %v, want one with count 1", counts)
	}
	if n := f.ctrl.ForceLogout("u1"); n != 0 {
		t.Errorf("second ForceLogout closed %d, want 0", n)
	}
}

func TestDisconnectAll(t *testing.T) {
	f := newFixture(t)
	f.join(t, "A", "u1", "alice")
	f.join(t, "B", "u2", "bob")
	f.ctrl.Connect("anon")
	f.transport.reset()

	if n := f.ctrl.DisconnectAll("maintenance"); n != 3 {
		t.Fatalf("DisconnectAll closed %d, want 3", n)
	}
	if got := lastCount(t, f.transport.broadcasts(EventPlayerCount)); got != 0 {
		t.Errorf("final count = %d, want 0", got)
	}
	acts := f.transport.broadcasts(EventActivity)
	if len(acts) != 1 || acts[0].Data.(ActivityPayload).Type != ActivitySystem {
		t.Errorf("activity = %v, want one system entry", acts)
	}
	snap := f.ctrl.Snapshot()
	if snap.OnlinePlayers != 0 || snap.Connections != 0 || len(snap.Sessions) != 0 {
		t.Errorf("snapshot after DisconnectAll = %+v", snap)
	}

	f.ctrl.HandleDisconnect("A")
	if n := len(f.transport.broadcasts(EventPlayerCount)); n != 1 {
		t.Errorf("late disconnect broadcast again (%d playerCount events)", n)
	}
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t)
	f.join(t, "A", "u1", "alice")
	f.now = f.now.Add(time.Second)
	f.join(t, "B", "u2", "bob")
	f.ctrl.Connect("anon")

	snap := f.ctrl.Snapshot()
	if snap.OnlinePlayers != 2 || snap.Connections != 3 {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(snap.Sessions) != 2 || snap.Sessions[0].Username != "alice" {
		t.Errorf("sessions = %+v", snap.Sessions)
	}
}
