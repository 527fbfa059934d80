// Package remote implements the capability surface over a persistent
// line-delimited JSON connection to a backend daemon. One Conn owns one
// socket at a time: it correlates requests to responses, fans events out to
// subscribers, applies the backend's sync snapshot on every (re)connect, and
// runs the reconnection state machine when the transport drops.
package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"termdock/internal/api"
	"termdock/internal/logging"
	"termdock/internal/pubsub"
	"termdock/internal/wire"
)

// State describes the connection lifecycle.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateSyncing      State = "syncing"
	StateReady        State = "ready"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

// Defaults for Options fields left zero.
const (
	DefaultPort           = 3456
	DefaultDialTimeout    = 5 * time.Second
	DefaultSyncWait       = 10 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultReconnectBase  = time.Second
	DefaultMaxReconnects  = 5
)

// Dialer opens the underlying transport. Injectable so tests can use
// net.Pipe instead of TCP.
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

// Options configure a Conn.
type Options struct {
	Host string // default "127.0.0.1"
	Port int    // default DefaultPort

	Dial           Dialer
	DialTimeout    time.Duration
	SyncWait       time.Duration // bound on waiting for the sync frame
	RequestTimeout time.Duration // per-request deadline
	ReconnectBase  time.Duration // backoff base; delay is base << (attempt-1)
	MaxReconnects  int

	// OnState observes lifecycle transitions. Called outside the Conn's
	// lock, in transition order.
	OnState func(State)
}

// ResolveAddr applies the endpoint resolution chain: explicit port override,
// then the configured port, then the default.
func ResolveAddr(host string, portOverride, configuredPort int) string {
	if host == "" {
		host = "127.0.0.1"
	}
	port := DefaultPort
	switch {
	case portOverride > 0:
		port = portOverride
	case configuredPort > 0:
		port = configuredPort
	}
	return fmt.Sprintf("%s:%d", host, port)
}

type pendingCall struct {
	op    api.Op
	timer *time.Timer
	done  chan struct{}
	data  json.RawMessage
	err   error
}

// Conn implements api.Surface over the wire protocol.
type Conn struct {
	opts Options
	addr string

	nextID atomic.Uint64 // correlation ids; never reset, even across reconnects

	mu       sync.Mutex
	state    State
	sock     net.Conn
	gen      int // physical connection generation; guards stale read loops
	pending  map[uint64]*pendingCall
	snapshot *wire.Snapshot
	replay   []byte // latest snapshot's buffered output, as an output event payload
	synced   bool   // sync frame seen on the current physical connection
	syncCh   chan struct{}
	attempts int
	retry    *time.Timer
	closed   bool

	wmu sync.Mutex // serializes frame writes

	bus *pubsub.Publisher // subscriber registry; survives reconnects

	log *zap.Logger
}

// New creates a Conn. Connect must be called before use.
func New(opts Options) *Conn {
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.SyncWait == 0 {
		opts.SyncWait = DefaultSyncWait
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.ReconnectBase == 0 {
		opts.ReconnectBase = DefaultReconnectBase
	}
	if opts.MaxReconnects == 0 {
		opts.MaxReconnects = DefaultMaxReconnects
	}
	if opts.Dial == nil {
		opts.Dial = func(ctx context.Context, addr string) (net.Conn, error) {
			d := net.Dialer{}
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	return &Conn{
		opts:    opts,
		addr:    fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		state:   StateIdle,
		pending: make(map[uint64]*pendingCall),
		bus:     pubsub.NewPublisher(),
		log:     logging.L().Named("remote"),
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the last sync snapshot, or nil before the first sync
// frame arrives.
func (c *Conn) Snapshot() *wire.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Connect opens the socket and waits for the backend's sync frame. If the
// frame does not arrive within SyncWait the connection is still usable;
// requests can proceed, there is just no prior state to replay. A sync frame
// that arrives after the deadline is still applied when it lands, so late
// joiners converge on backend state instead of discarding it.
//
// Connect may be called again after the reconnect machinery gave up
// (StateFailed); it restarts the protocol from scratch. It returns an error
// if the Conn was explicitly closed.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return api.NewConnectionLost("")
	}
	switch c.state {
	case StateIdle, StateFailed:
	default:
		c.mu.Unlock()
		return fmt.Errorf("connect: connection is %s", c.state)
	}
	c.attempts = 0
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	sock, err := c.opts.Dial(dialCtx, c.addr)
	cancel()
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(StateFailed)
		c.mu.Unlock()
		return fmt.Errorf("dial %s: %w", c.addr, err)
	}

	syncCh := c.adopt(sock)
	if syncCh == nil {
		return api.NewConnectionLost("")
	}
	return c.awaitSync(ctx, syncCh)
}

// adopt installs a freshly opened socket, bumps the generation and starts
// its read loop. Returns the channel closed when this physical connection's
// sync frame arrives, or nil when the Conn was closed while the dial was in
// flight; in that case the socket is closed instead of installed.
func (c *Conn) adopt(sock net.Conn) chan struct{} {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = sock.Close()
		return nil
	}
	c.gen++
	gen := c.gen
	c.sock = sock
	c.synced = false
	c.syncCh = make(chan struct{})
	syncCh := c.syncCh
	c.setStateLocked(StateSyncing)
	c.mu.Unlock()

	go c.readLoop(sock, gen)
	return syncCh
}

// awaitSync blocks until the sync frame, the sync deadline, or ctx.
func (c *Conn) awaitSync(ctx context.Context, syncCh chan struct{}) error {
	timer := time.NewTimer(c.opts.SyncWait)
	defer timer.Stop()

	select {
	case <-syncCh:
	case <-timer.C:
		c.log.Warn("no sync frame within deadline, proceeding without snapshot",
			zap.Duration("wait", c.opts.SyncWait))
	case <-ctx.Done():
		_ = c.Close()
		return ctx.Err()
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return api.NewConnectionLost("")
	}
	if c.state == StateSyncing {
		c.attempts = 0
		c.setStateLocked(StateReady)
	}
	c.mu.Unlock()
	return nil
}

// Close tears the connection down for good: the socket is closed, pending
// requests fail with a connection-lost error, any scheduled reconnect is
// canceled. Subscribers are retained but will never fire again.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.gen++ // invalidate the live read loop
	sock := c.sock
	c.sock = nil
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	failed := c.takePendingLocked()
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	settleAll(failed)
	if sock != nil {
		return sock.Close()
	}
	return nil
}

// Subscribe registers fn for events on ch. The subscription survives
// reconnects: after a new sync frame arrives the same listener keeps
// receiving events from the new physical connection.
//
// A new session.output subscriber immediately receives the latest snapshot's
// buffered output, so subscribing after Connect returns still yields the
// replayed scrollback.
func (c *Conn) Subscribe(ch api.Channel, fn api.EventHandler) (api.Subscription, error) {
	if !api.KnownChannel(ch) {
		return nil, api.NewUnavailable("", "unknown channel "+string(ch))
	}
	sub := c.bus.Subscribe(ch, fn)
	if ch == api.ChanSessionOutput {
		c.mu.Lock()
		replay := c.replay
		if c.closed {
			replay = nil
		}
		c.mu.Unlock()
		if replay != nil {
			fn(replay)
		}
	}
	return sub, nil
}

// Invoke sends one request and blocks until its response, its deadline, a
// connection loss, or ctx cancellation. Each request settles exactly once.
func (c *Conn) Invoke(ctx context.Context, op api.Op, params any, result any) error {
	var args []json.RawMessage
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("%s: marshal params: %w", op, err)
		}
		args = []json.RawMessage{raw}
	}

	c.mu.Lock()
	if c.closed || c.sock == nil || c.state == StateFailed {
		c.mu.Unlock()
		return api.NewConnectionLost(op)
	}
	sock := c.sock
	id := c.nextID.Add(1)
	call := &pendingCall{op: op, done: make(chan struct{})}
	call.timer = time.AfterFunc(c.opts.RequestTimeout, func() {
		c.settle(id, nil, api.NewTimeout(op))
	})
	c.pending[id] = call
	c.mu.Unlock()

	frame, err := wire.Request(id, string(op), args).Encode()
	if err != nil {
		c.abandon(id)
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := c.writeFrame(sock, frame); err != nil {
		c.abandon(id)
		return api.NewConnectionLost(op)
	}

	select {
	case <-call.done:
	case <-ctx.Done():
		c.abandon(id)
		return ctx.Err()
	}

	if call.err != nil {
		return call.err
	}
	if result != nil && call.data != nil {
		if err := json.Unmarshal(call.data, result); err != nil {
			return fmt.Errorf("%s: decode result: %w", op, err)
		}
	}
	return nil
}

func (c *Conn) writeFrame(sock net.Conn, frame []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := sock.Write(frame)
	return err
}

// settle completes the pending request id, if still pending. Exactly one of
// data/err is delivered; a second settle for the same id is a no-op.
func (c *Conn) settle(id uint64, data json.RawMessage, err error) {
	c.mu.Lock()
	call, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, id)
	c.mu.Unlock()

	call.timer.Stop()
	call.data = data
	call.err = err
	close(call.done)
}

// abandon drops a pending request without settling its waiter (the caller
// already has its error).
func (c *Conn) abandon(id uint64) {
	c.mu.Lock()
	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		call.timer.Stop()
	}
}

// takePendingLocked empties the pending map and returns the calls for
// settlement outside the lock.
func (c *Conn) takePendingLocked() []*pendingCall {
	calls := make([]*pendingCall, 0, len(c.pending))
	for id, call := range c.pending {
		delete(c.pending, id)
		calls = append(calls, call)
	}
	return calls
}

func settleAll(calls []*pendingCall) {
	for _, call := range calls {
		call.timer.Stop()
		call.err = api.NewConnectionLost(call.op)
		close(call.done)
	}
}

// readLoop consumes frames from one physical connection until it dies.
// All state mutation driven by incoming traffic happens here, in arrival
// order.
func (c *Conn) readLoop(sock net.Conn, gen int) {
	scanner := bufio.NewScanner(sock)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		env, err := wire.Decode(line)
		if err != nil {
			// Malformed frame: drop it, keep the connection.
			c.log.Warn("drop malformed frame", zap.Error(err))
			continue
		}
		switch env.Kind {
		case wire.KindSync:
			c.handleSync(gen, env.Snapshot)
		case wire.KindResponse:
			c.handleResponse(env)
		case wire.KindEvent:
			c.bus.PublishRaw(api.Channel(env.Channel), env.Payload)
		default:
			c.log.Warn("drop unexpected frame", zap.String("kind", string(env.Kind)))
		}
	}

	c.connectionLost(gen, scanner.Err())
}

// handleSync stores the snapshot and replays any channel whose initial value
// it carries, then unblocks the connect waiter. Applied even if the sync
// deadline already expired.
func (c *Conn) handleSync(gen int, snap *wire.Snapshot) {
	if snap == nil {
		c.log.Warn("drop sync frame without snapshot")
		return
	}

	var replay []byte
	if len(snap.BufferedOutput) > 0 {
		replay, _ = json.Marshal(api.OutputEvent{
			SessionID: snap.ActiveSessionID,
			Data:      snap.BufferedOutput,
		})
	}

	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	c.snapshot = snap
	if replay != nil {
		c.replay = replay
	}
	first := !c.synced
	c.synced = true
	syncCh := c.syncCh
	c.mu.Unlock()

	// Replay reaches current subscribers here; subscribers registered later
	// get the same payload from Subscribe.
	if replay != nil {
		c.bus.PublishRaw(api.ChanSessionOutput, replay)
	}
	if first {
		close(syncCh)
	}
}

// handleResponse settles the matching pending request. Responses for ids we
// no longer track (timed out, or stale from a previous physical connection)
// are discarded silently.
func (c *Conn) handleResponse(env *wire.Envelope) {
	if env.Success != nil && *env.Success {
		c.settle(env.ID, env.Data, nil)
		return
	}
	msg := env.ErrorMessage
	if msg == "" {
		msg = "request failed"
	}
	c.mu.Lock()
	call, ok := c.pending[env.ID]
	c.mu.Unlock()
	if !ok {
		return
	}
	c.settle(env.ID, nil, api.NewBackend(call.op, msg))
}

// connectionLost runs when a physical connection dies unexpectedly. Pending
// requests fail immediately; the reconnection state machine takes over.
func (c *Conn) connectionLost(gen int, cause error) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		// Explicit close, or a newer connection already took over.
		c.mu.Unlock()
		return
	}
	if c.sock != nil {
		_ = c.sock.Close()
		c.sock = nil
	}
	failed := c.takePendingLocked()
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	if cause != nil {
		c.log.Warn("connection lost", zap.Error(cause))
	} else {
		c.log.Warn("connection closed by peer")
	}
	settleAll(failed)
}

// scheduleReconnectLocked arms the next reconnect attempt, or gives up when
// attempts are exhausted. Caller holds c.mu. At most one attempt is in
// flight at any time: the timer is only armed here, and this path only runs
// from the death of the current generation's socket or a failed attempt.
func (c *Conn) scheduleReconnectLocked() {
	if c.attempts >= c.opts.MaxReconnects {
		c.setStateLocked(StateFailed)
		return
	}
	c.attempts++
	delay := backoffDelay(c.opts.ReconnectBase, c.attempts)
	c.setStateLocked(StateReconnecting)
	c.log.Info("scheduling reconnect",
		zap.Int("attempt", c.attempts),
		zap.Int("max", c.opts.MaxReconnects),
		zap.Duration("delay", delay))
	c.retry = time.AfterFunc(delay, c.attemptReconnect)
}

// backoffDelay returns the wait before the given 1-based reconnect attempt.
// The delay doubles per attempt starting from base.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	return base << (attempt - 1)
}

// attemptReconnect dials and, on success, re-runs the sync handshake on the
// new physical connection. Failure schedules the next attempt.
func (c *Conn) attemptReconnect() {
	c.mu.Lock()
	if c.closed || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DialTimeout)
	sock, err := c.opts.Dial(ctx, c.addr)
	cancel()
	if err != nil {
		c.log.Warn("reconnect dial failed", zap.Error(err))
		c.mu.Lock()
		if !c.closed && c.state == StateReconnecting {
			c.scheduleReconnectLocked()
		}
		c.mu.Unlock()
		return
	}

	syncCh := c.adopt(sock)
	if syncCh == nil {
		return
	}

	// Re-wait for a fresh sync frame: backend state may have changed while
	// we were disconnected. Existing subscribers stay registered and start
	// receiving events from the new connection immediately.
	timer := time.NewTimer(c.opts.SyncWait)
	defer timer.Stop()
	select {
	case <-syncCh:
	case <-timer.C:
		c.log.Warn("no sync frame after reconnect, proceeding without snapshot")
	}

	c.mu.Lock()
	if !c.closed && c.state == StateSyncing {
		c.attempts = 0
		c.setStateLocked(StateReady)
	}
	c.mu.Unlock()
}

// setStateLocked transitions state and notifies the observer. Caller holds
// c.mu; the callback runs on a fresh goroutine to stay out of the lock.
func (c *Conn) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.opts.OnState != nil {
		cb := c.opts.OnState
		go cb(s)
	}
}
