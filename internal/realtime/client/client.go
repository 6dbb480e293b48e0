// Package client is the consumer side of the realtime protocol: it keeps one
// websocket open, replays entity subscriptions after every reconnect and
// dispatches inbound events by type.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"fabtrack.io/tracker/internal/domain"
	apperrors "fabtrack.io/tracker/internal/pkg/errors"
)

// State is the client connection state.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateError        State = "ERROR"
	StateReconnecting State = "RECONNECTING"
)

// ErrConnectionLost is reported once the reconnect attempts are exhausted.
var ErrConnectionLost = errors.New("realtime connection lost")

var errStaleAttempt = errors.New("stale connection attempt")

// Default reconnect settings.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultBaseDelay      = time.Second
	DefaultMaxDelay       = 30 * time.Second
	DefaultMaxAttempts    = 5
)

// BackoffDelay returns min(base * 2^n, max), where n is the number of failed
// reconnect attempts so far.
func BackoffDelay(base, max time.Duration, n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Config contains client settings. Zero values take the defaults.
type Config struct {
	URL            string
	ConnectTimeout time.Duration
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	MaxAttempts    int
	Dialer         Dialer
	Clock          Clock
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Handler receives one inbound event.
type Handler func(domain.Envelope)

// Client is a reconnecting realtime client. It is safe for concurrent use.
type Client struct {
	cfg Config
	log *zap.Logger

	mu         sync.Mutex
	state      State
	token      string
	conn       Conn
	generation uint64
	attempts   int
	timer      Timer
	subs       map[string]struct{}

	// wmu serializes writes on the current connection.
	wmu sync.Mutex

	hmu           sync.RWMutex
	handlers      map[domain.EventType][]Handler
	errorHandlers []func(error)
	stateHandlers []func(State)
}

// New creates a disconnected client.
func New(cfg Config) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Dialer == nil {
		cfg.Dialer = WebsocketDialer{}
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Client{
		cfg:      cfg,
		log:      cfg.Logger.Named("realtime.client"),
		state:    StateDisconnected,
		subs:     make(map[string]struct{}),
		handlers: make(map[domain.EventType][]Handler),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscriptions returns the tracked entity ids, sorted.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriptionsLocked()
}

// On registers a handler for an event type.
func (c *Client) On(t domain.EventType, h Handler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers[t] = append(c.handlers[t], h)
}

// OnError registers a handler for terminal errors: rejected credentials and
// ErrConnectionLost.
func (c *Client) OnError(fn func(error)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.errorHandlers = append(c.errorHandlers, fn)
}

// OnStateChange registers a handler called after every state transition.
func (c *Client) OnStateChange(fn func(State)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.stateHandlers = append(c.stateHandlers, fn)
}

// Connect opens the connection. An empty token or a 401/403 handshake
// returns an authentication error and is terminal. Any other failure
// returns a connection error and starts the reconnect loop.
func (c *Client) Connect(ctx context.Context, token string) error {
	if token == "" {
		return apperrors.ErrAuthenticationRequired()
	}

	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.generation++
	gen := c.generation
	c.token = token
	c.attempts = 0
	c.state = StateConnecting
	c.mu.Unlock()
	c.emitState(StateConnecting)

	err := c.dial(ctx, gen)
	if err == nil || errors.Is(err, errStaleAttempt) {
		return nil
	}
	c.afterFailure(gen, err)
	return err
}

// Disconnect closes the connection, forgets subscriptions and cancels any
// pending reconnect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.subs = make(map[string]struct{})
	changed := c.state != StateDisconnected
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		c.wmu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.wmu.Unlock()
		_ = conn.Close()
	}
	if changed {
		c.emitState(StateDisconnected)
	}
}

// SubscribeToEntity tracks entityID and, while connected, joins its room.
func (c *Client) SubscribeToEntity(entityID string) {
	c.mu.Lock()
	if _, ok := c.subs[entityID]; ok {
		c.mu.Unlock()
		return
	}
	c.subs[entityID] = struct{}{}
	conn := c.connectedLocked()
	c.mu.Unlock()

	if conn != nil {
		c.send(conn, domain.MessageSubscribeEntity, domain.SubscriptionData{ID: entityID})
	}
}

// UnsubscribeFromEntity stops tracking entityID.
func (c *Client) UnsubscribeFromEntity(entityID string) {
	c.mu.Lock()
	if _, ok := c.subs[entityID]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.subs, entityID)
	conn := c.connectedLocked()
	c.mu.Unlock()

	if conn != nil {
		c.send(conn, domain.MessageUnsubscribeEntity, domain.SubscriptionData{ID: entityID})
	}
}

// Ack acknowledges a status update. It is dropped when not connected.
func (c *Client) Ack(updateID, entityID string) {
	c.mu.Lock()
	conn := c.connectedLocked()
	c.mu.Unlock()
	if conn != nil {
		c.send(conn, domain.MessageAckStatusUpdate, domain.AckData{UpdateID: updateID, EntityID: entityID})
	}
}

func (c *Client) dial(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	header := http.Header{"Authorization": {"Bearer " + token}}
	conn, resp, err := c.cfg.Dialer.Dial(dctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return apperrors.Unauthorized(apperrors.CodeRealtimeAuthFailed, "realtime handshake rejected").
				WithParam("status", resp.StatusCode)
		}
		return apperrors.ErrConnectFailedf(err)
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		_ = conn.Close()
		return errStaleAttempt
	}
	c.conn = conn
	c.attempts = 0
	c.state = StateConnected
	subs := c.subscriptionsLocked()
	c.mu.Unlock()

	c.log.Info("Realtime connected", zap.String("url", c.cfg.URL), zap.Int("subscriptions", len(subs)))
	c.emitState(StateConnected)
	for _, id := range subs {
		c.send(conn, domain.MessageSubscribeEntity, domain.SubscriptionData{ID: id})
	}

	// The read loop ends when the connection closes, which Disconnect and
	// drop handling both guarantee.
	go c.readLoop(conn, gen)
	return nil
}

func (c *Client) readLoop(conn Conn, gen uint64) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			c.onDrop(gen, err)
			return
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame []byte) {
	env, err := domain.DecodeEnvelope(frame)
	if err != nil {
		c.log.Warn("Malformed frame dropped", zap.Error(apperrors.ErrMalformedEventf(err)))
		return
	}
	if !env.Type.Known() {
		c.log.Warn("Unknown event type dropped", zap.String("type", string(env.Type)))
		return
	}

	c.hmu.RLock()
	handlers := append([]Handler(nil), c.handlers[env.Type]...)
	c.hmu.RUnlock()
	for _, h := range handlers {
		h(env)
	}
}

func (c *Client) onDrop(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}

	c.log.Warn("Realtime connection dropped", zap.Error(cause))
	c.afterFailure(gen, apperrors.ErrConnectFailedf(cause))
}

// afterFailure moves to ERROR on authentication failures and once the
// attempts run out. Otherwise it passes through ERROR to RECONNECTING and
// schedules the next attempt.
func (c *Client) afterFailure(gen uint64, err error) {
	if errors.Is(err, apperrors.ErrUnauthorized) {
		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			return
		}
		c.state = StateError
		c.mu.Unlock()
		c.log.Warn("Realtime authentication rejected", zap.Error(err))
		c.emitState(StateError)
		c.emitError(err)
		return
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.cfg.MaxAttempts {
		c.state = StateError
		attempts := c.attempts
		c.mu.Unlock()
		c.log.Error("Realtime reconnect attempts exhausted", zap.Int("attempts", attempts))
		c.emitState(StateError)
		c.emitError(apperrors.Wrap(ErrConnectionLost, apperrors.CodeRealtimeConnectionLost,
			fmt.Sprintf("connection lost after %d reconnect attempts", attempts), http.StatusServiceUnavailable))
		return
	}
	c.state = StateReconnecting
	c.mu.Unlock()

	// Observers see ERROR then RECONNECTING before the timer can fire.
	c.emitState(StateError)
	c.emitState(StateReconnecting)

	c.mu.Lock()
	if gen != c.generation || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	delay := BackoffDelay(c.cfg.BaseDelay, c.cfg.MaxDelay, c.attempts)
	c.timer = c.cfg.Clock.AfterFunc(delay, func() { c.reconnect(gen) })
	attempt := c.attempts + 1
	c.mu.Unlock()

	c.log.Info("Realtime reconnect scheduled", zap.Duration("delay", delay), zap.Int("attempt", attempt))
}

func (c *Client) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.state = StateConnecting
	c.mu.Unlock()
	c.emitState(StateConnecting)

	err := c.dial(context.Background(), gen)
	if err == nil || errors.Is(err, errStaleAttempt) {
		return
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.attempts++
	c.mu.Unlock()
	c.afterFailure(gen, err)
}

func (c *Client) send(conn Conn, t domain.EventType, data any) {
	env, err := domain.NewEnvelope(t, data, time.Now())
	if err != nil {
		c.log.Error("Encode control message failed", zap.String("type", string(t)), zap.Error(err))
		return
	}
	frame, err := json.Marshal(env)
	if err != nil {
		c.log.Error("Encode control message failed", zap.String("type", string(t)), zap.Error(err))
		return
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		// The read loop observes the broken connection and reconnects.
		c.log.Debug("Send control message failed", zap.String("type", string(t)), zap.Error(err))
	}
}

func (c *Client) connectedLocked() Conn {
	if c.state != StateConnected {
		return nil
	}
	return c.conn
}

func (c *Client) subscriptionsLocked() []string {
	out := make([]string, 0, len(c.subs))
	for id := range c.subs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *Client) emitState(s State) {
	c.hmu.RLock()
	handlers := append([]func(State){}, c.stateHandlers...)
	c.hmu.RUnlock()
	for _, fn := range handlers {
		fn(s)
	}
}

func (c *Client) emitError(err error) {
	c.hmu.RLock()
	handlers := append([]func(error){}, c.errorHandlers...)
	c.hmu.RUnlock()
	for _, fn := range handlers {
		fn(err)
	}
}
