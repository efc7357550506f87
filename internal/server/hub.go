package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/gamehub/internal/presence"
	"github.com/Tyrowin/gamehub/internal/session"
)

// ErrHubStopped is returned by hub operations after Shutdown.
var ErrHubStopped = errors.New("hub stopped")

// HubOptions configures a Hub.
type HubOptions struct {
	Verifier          session.Verifier
	Metrics           *Metrics
	Logger            *slog.Logger
	Client            ClientConfig
	IdleTimeout       time.Duration
	IdleSweepInterval time.Duration
	MaxChatLength     int
	Now               func() time.Time
}

// Hub owns every websocket connection and the session controller. All
// presence state is touched only by the Run goroutine; other goroutines talk
// to it over channels.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundEvent
	commands   chan func()

	ctrl         *session.Controller
	metrics      *Metrics
	logger       *slog.Logger
	clientConfig ClientConfig
	idleTimeout  time.Duration
	idleSweep    time.Duration
	now          func() time.Time

	// clients dropped during the current event; their disconnects are
	// processed once the event completes.
	dropped []*Client

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a Hub. Call Run in its own goroutine before serving clients.
func NewHub(opts HubOptions) *Hub {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 30 * time.Minute
	}
	if opts.IdleSweepInterval <= 0 {
		opts.IdleSweepInterval = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:      make(map[string]*Client),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		inbound:      make(chan inboundEvent),
		commands:     make(chan func()),
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		clientConfig: opts.Client.sanitized(),
		idleTimeout:  opts.IdleTimeout,
		idleSweep:    opts.IdleSweepInterval,
		now:          opts.Now,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	var observer session.Observer
	if opts.Metrics != nil {
		observer = opts.Metrics
	}
	h.ctrl = session.NewController(session.Options{
		Registry:      presence.NewRegistry(),
		Verifier:      opts.Verifier,
		Transport:     h,
		Observer:      observer,
		Logger:        opts.Logger,
		Now:           opts.Now,
		MaxChatLength: opts.MaxChatLength,
	})
	return h
}

// Run starts the hub's event loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	ticker := time.NewTicker(h.idleSweep)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case ev := <-h.inbound:
			h.dispatch(ev)

		case fn := <-h.commands:
			fn()

		case <-ticker.C:
			h.ctrl.SweepIdle(h.now(), h.idleTimeout)
		}
		h.flushDropped()
	}
}

func (h *Hub) handleRegister(client *Client) {
	if client == nil {
		h.logger.Warn("received nil client registration; skipping")
		return
	}

	h.clients[client.id] = client
	h.ctrl.Connect(client.id)
	client.logger.Info("client registered", "clients", len(h.clients))

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) handleUnregister(client *Client) {
	if h.detach(client) {
		client.logger.Info("client unregistered", "clients", len(h.clients))
	}
	h.ctrl.HandleDisconnect(client.id)
}

// detach removes client from the hub and closes its send channel, which
// makes the write pump send a close frame. Reports false if already detached.
func (h *Hub) detach(client *Client) bool {
	if current, ok := h.clients[client.id]; !ok || current != client {
		return false
	}
	delete(h.clients, client.id)
	close(client.send)
	return true
}

func (h *Hub) flushDropped() {
	for len(h.dropped) > 0 {
		client := h.dropped[0]
		h.dropped = h.dropped[1:]
		h.ctrl.HandleDisconnect(client.id)
	}
}

func (h *Hub) dispatch(ev inboundEvent) {
	id := ev.client.id
	if _, ok := h.clients[id]; !ok {
		return
	}

	if ev.limited {
		if h.metrics != nil {
			h.metrics.RateLimitedTotal.Inc()
		}
		h.ctrl.Broadcaster().EmitError(id, session.MsgRateLimited)
		return
	}

	switch ev.name {
	case session.EventAuthenticate:
		var req session.AuthenticateRequest
		if !h.decode(id, ev.data, &req) {
			return
		}
		_ = h.ctrl.Authenticate(id, req.Token)

	case session.EventHeartbeat:
		h.ctrl.Activity(id)

	case session.EventChatIn:
		var req session.ChatRequest
		if !h.decode(id, ev.data, &req) {
			return
		}
		_ = h.ctrl.Chat(id, req.Text)

	case "":
		h.ctrl.Broadcaster().EmitError(id, session.MsgMalformedEvent)

	default:
		ev.client.logger.Debug("unknown event", "event", ev.name)
		h.ctrl.Broadcaster().EmitError(id, session.MsgUnknownEventShape)
	}
}

// decode unmarshals an event payload. An absent payload leaves v zero.
func (h *Hub) decode(connID string, data json.RawMessage, v any) bool {
	if len(data) == 0 || string(data) == "null" {
		return true
	}
	if err := json.Unmarshal(data, v); err != nil {
		h.ctrl.Broadcaster().EmitError(connID, session.MsgMalformedEvent)
		return false
	}
	return true
}

// Send implements session.Transport.
func (h *Hub) Send(connID string, ev session.Event) {
	client, ok := h.clients[connID]
	if !ok {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("encoding event failed", "event", ev.Name, "err", err)
		return
	}
	h.trySend(client, payload)
}

// Broadcast implements session.Transport.
func (h *Hub) Broadcast(ev session.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("encoding event failed", "event", ev.Name, "err", err)
		return
	}
	h.logger.Debug("broadcasting event", "event", ev.Name, "clients", len(h.clients))
	for _, client := range h.clients {
		h.trySend(client, payload)
	}
}

// Close implements session.Transport.
func (h *Hub) Close(connID string) {
	if client, ok := h.clients[connID]; ok {
		h.detach(client)
	}
}

// trySend queues payload without blocking. A client whose buffer is full is
// dropped.
func (h *Hub) trySend(client *Client, payload []byte) {
	select {
	case client.send <- payload:
	default:
		if h.detach(client) {
			client.logger.Warn("client removed due to full send buffer")
			if h.metrics != nil {
				h.metrics.DroppedClientsTotal.Inc()
			}
			h.dropped = append(h.dropped, client)
		}
	}
}

// shutdownClients closes every connection and resets presence state.
func (h *Hub) shutdownClients() {
	h.logger.Info("shutting down all client connections")
	n := h.ctrl.DisconnectAll("Server is shutting down")
	for id, client := range h.clients {
		delete(h.clients, id)
		close(client.send)
	}
	h.dropped = nil
	h.logger.Info("closed client connections", "count", n)
}

// registerClient hands a new client to the hub. Reports false if the hub has stopped.
func (h *Hub) registerClient(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// deliver hands an inbound event to the hub. Reports false if the hub has stopped.
func (h *Hub) deliver(ev inboundEvent) bool {
	select {
	case h.inbound <- ev:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// do runs fn on the hub goroutine and waits for it to finish.
func (h *Hub) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	cmd := func() {
		defer close(finished)
		fn()
	}
	select {
	case h.commands <- cmd:
	case <-h.ctx.Done():
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// ForceLogout closes every connection of userID and returns how many were closed.
func (h *Hub) ForceLogout(ctx context.Context, userID string) (int, error) {
	var n int
	err := h.do(ctx, func() { n = h.ctrl.ForceLogout(userID) })
	return n, err
}

// DisconnectAll closes every connection and returns how many were closed.
func (h *Hub) DisconnectAll(ctx context.Context, reason string) (int, error) {
	var n int
	err := h.do(ctx, func() { n = h.ctrl.DisconnectAll(reason) })
	return n, err
}

// OnlinePlayers returns the number of distinct online players.
func (h *Hub) OnlinePlayers(ctx context.Context) (int, error) {
	var n int
	err := h.do(ctx, func() { n = h.ctrl.OnlinePlayers() })
	return n, err
}

// Sessions returns a snapshot of current presence.
func (h *Hub) Sessions(ctx context.Context) (session.Snapshot, error) {
	var snap session.Snapshot
	err := h.do(ctx, func() { snap = h.ctrl.Snapshot() })
	return snap, err
}

// SweepIdle runs an idle sweep now instead of waiting for the ticker.
func (h *Hub) SweepIdle(ctx context.Context) (int, error) {
	var n int
	err := h.do(ctx, func() { n = h.ctrl.SweepIdle(h.now(), h.idleTimeout) })
	return n, err
}

// Shutdown stops the event loop, closes every connection and waits for the
// client goroutines to finish or for timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
