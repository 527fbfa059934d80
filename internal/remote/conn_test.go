package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"termdock/internal/api"
	"termdock/internal/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeBackend hands out net.Pipe connections through a Dialer and records
// the server side of every dial so tests can speak the protocol.
type fakeBackend struct {
	t *testing.T

	mu      sync.Mutex
	accepts chan *backendConn
	refuse  bool
	dials   int
	open    []net.Conn
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	return &fakeBackend{t: t, accepts: make(chan *backendConn, 8)}
}

func (f *fakeBackend) dialer() Dialer {
	return func(ctx context.Context, addr string) (net.Conn, error) {
		f.mu.Lock()
		f.dials++
		refuse := f.refuse
		f.mu.Unlock()
		if refuse {
			return nil, errors.New("connection refused")
		}
		client, server := net.Pipe()
		f.mu.Lock()
		f.open = append(f.open, client, server)
		f.mu.Unlock()
		f.accepts <- newBackendConn(f.t, server)
		return client, nil
	}
}

func (f *fakeBackend) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func (f *fakeBackend) setRefuse(refuse bool) {
	f.mu.Lock()
	f.refuse = refuse
	f.mu.Unlock()
}

// accept waits for the next dial from the client under test.
func (f *fakeBackend) accept() *backendConn {
	f.t.Helper()
	select {
	case bc := <-f.accepts:
		return bc
	case <-time.After(5 * time.Second):
		f.t.Fatal("timed out waiting for a dial")
		return nil
	}
}

func (f *fakeBackend) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.open {
		_ = c.Close()
	}
	f.open = nil
}

// backendConn is the server end of one physical connection.
type backendConn struct {
	t    *testing.T
	conn net.Conn
	sc   *bufio.Scanner
}

func newBackendConn(t *testing.T, conn net.Conn) *backendConn {
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return &backendConn{t: t, conn: conn, sc: sc}
}

func (b *backendConn) send(env *wire.Envelope) {
	b.t.Helper()
	frame, err := env.Encode()
	if err != nil {
		b.t.Fatalf("encode frame: %v", err)
	}
	_ = b.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := b.conn.Write(frame); err != nil {
		b.t.Fatalf("write frame: %v", err)
	}
}

func (b *backendConn) sendSync(snap *wire.Snapshot) {
	b.t.Helper()
	b.send(wire.Sync(snap))
}

func (b *backendConn) readRequest() *wire.Envelope {
	b.t.Helper()
	_ = b.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if !b.sc.Scan() {
		b.t.Fatalf("read request: %v", b.sc.Err())
	}
	env, err := wire.Decode(b.sc.Bytes())
	if err != nil {
		b.t.Fatalf("decode request: %v", err)
	}
	if env.Kind != wire.KindRequest {
		b.t.Fatalf("expected a request frame, got %s", env.Kind)
	}
	return env
}

func (b *backendConn) close() {
	_ = b.conn.Close()
}

// respondAll answers every request with the given data until the connection
// dies. Run it on its own goroutine for tests that only care about events.
func (b *backendConn) respondAll(data json.RawMessage) {
	for {
		_ = b.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if !b.sc.Scan() {
			return
		}
		env, err := wire.Decode(b.sc.Bytes())
		if err != nil || env.Kind != wire.KindRequest {
			continue
		}
		frame, err := wire.SuccessResponse(env.ID, data).Encode()
		if err != nil {
			return
		}
		if _, err := b.conn.Write(frame); err != nil {
			return
		}
	}
}

func testConn(t *testing.T, f *fakeBackend, opts Options) *Conn {
	t.Helper()
	opts.Dial = f.dialer()
	c := New(opts)
	t.Cleanup(func() {
		_ = c.Close()
		f.closeAll()
	})
	return c
}

// connectReady drives the handshake to StateReady and returns the server end.
func connectReady(t *testing.T, c *Conn, f *fakeBackend, snap *wire.Snapshot) *backendConn {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- c.Connect(context.Background()) }()
	bc := f.accept()
	if snap == nil {
		snap = &wire.Snapshot{}
	}
	bc.sendSync(snap)
	if err := <-errCh; err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if got := c.State(); got != StateReady {
		t.Fatalf("Expected state %s after handshake, got %s", StateReady, got)
	}
	return bc
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectAppliesSnapshot(t *testing.T) {
	f := newFakeBackend(t)
	c := testConn(t, f, Options{})

	var mu sync.Mutex
	var replayed []api.OutputEvent
	sub, err := c.Subscribe(api.ChanSessionOutput, func(payload []byte) {
		var ev api.OutputEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			t.Errorf("bad output payload: %v", err)
			return
		}
		mu.Lock()
		replayed = append(replayed, ev)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Cancel()

	connectReady(t, c, f, &wire.Snapshot{
		SessionActive:   true,
		ActiveSessionID: "ses_live",
		BufferedOutput:  []byte("scrollback"),
		BackendPort:     3456,
	})

	snap := c.Snapshot()
	if snap == nil {
		t.Fatal("Expected snapshot after sync")
	}
	if snap.ActiveSessionID != "ses_live" {
		t.Errorf("Expected active session ses_live, got %q", snap.ActiveSessionID)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(replayed) != 1 {
		t.Fatalf("Expected 1 replayed output event, got %d", len(replayed))
	}
	if replayed[0].SessionID != "ses_live" || string(replayed[0].Data) != "scrollback" {
		t.Errorf("Replayed event wrong: %+v", replayed[0])
	}
}

func TestSnapshotReplayReachesLateSubscribers(t *testing.T) {
	f := newFakeBackend(t)
	c := testConn(t, f, Options{})
	connectReady(t, c, f, &wire.Snapshot{
		SessionActive:   true,
		ActiveSessionID: "ses_live",
		BufferedOutput:  []byte("hello\n"),
	})

	// Subscribing only after the handshake completed must still deliver the
	// snapshot's buffered output.
	var mu sync.Mutex
	var replayed []api.OutputEvent
	sub, err := c.Subscribe(api.ChanSessionOutput, func(payload []byte) {
		var ev api.OutputEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			t.Errorf("bad output payload: %v", err)
			return
		}
		mu.Lock()
		replayed = append(replayed, ev)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Cancel()

	mu.Lock()
	defer mu.Unlock()
	if len(replayed) != 1 {
		t.Fatalf("Expected 1 replayed event for the late subscriber, got %d", len(replayed))
	}
	if replayed[0].SessionID != "ses_live" || string(replayed[0].Data) != "hello\n" {
		t.Errorf("Replayed event wrong: %+v", replayed[0])
	}
}

func TestCloseDuringDialStaysClosed(t *testing.T) {
	release := make(chan struct{})
	var server net.Conn
	c := New(Options{Dial: func(ctx context.Context, addr string) (net.Conn, error) {
		<-release
		client, srv := net.Pipe()
		server = srv
		return client, nil
	}})

	errCh := make(chan error, 1)
	go func() { errCh <- c.Connect(context.Background()) }()
	waitFor(t, "connecting state", func() bool { return c.State() == StateConnecting })

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	close(release)

	// The late-returning dial must not be adopted.
	if err := <-errCh; !api.IsKind(err, api.KindConnectionLost) {
		t.Fatalf("Expected connection-lost from Connect after Close, got %v", err)
	}
	if got := c.State(); got != StateClosed {
		t.Errorf("State after Close must stay %s, got %s", StateClosed, got)
	}
	if server != nil {
		_ = server.Close()
	}
}

func TestBackoffDelayDoublesPerAttempt(t *testing.T) {
	want := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
	}
	for attempt := 1; attempt <= DefaultMaxReconnects; attempt++ {
		if got := backoffDelay(time.Second, attempt); got != want[attempt-1] {
			t.Errorf("Attempt %d: expected %v, got %v", attempt, want[attempt-1], got)
		}
	}
	if got := backoffDelay(50*time.Millisecond, 3); got != 200*time.Millisecond {
		t.Errorf("Expected 200ms for attempt 3 at 50ms base, got %v", got)
	}
}

func TestConnectWithoutSnapshotProceedsDegraded(t *testing.T) {
	f := newFakeBackend(t)
	c := testConn(t, f, Options{SyncWait: 30 * time.Millisecond})

	errCh := make(chan error, 1)
	go func() { errCh <- c.Connect(context.Background()) }()
	bc := f.accept()

	if err := <-errCh; err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if got := c.State(); got != StateReady {
		t.Errorf("Expected state %s without sync, got %s", StateReady, got)
	}
	if c.Snapshot() != nil {
		t.Error("Expected no snapshot before the sync frame")
	}

	// A sync frame arriving after the deadline is still applied.
	bc.sendSync(&wire.Snapshot{ActiveSessionID: "ses_late"})
	waitFor(t, "late snapshot", func() bool {
		s := c.Snapshot()
		return s != nil && s.ActiveSessionID == "ses_late"
	})
}

func TestInvokeCorrelatesOutOfOrderResponses(t *testing.T) {
	f := newFakeBackend(t)
	c := testConn(t, f, Options{})
	bc := connectReady(t, c, f, nil)

	type res struct {
		s   string
		err error
	}
	invoke := func(op api.Op) chan res {
		ch := make(chan res, 1)
		go func() {
			var s string
			err := c.Invoke(context.Background(), op, nil, &s)
			ch <- res{s, err}
		}()
		return ch
	}

	ch1 := invoke(api.OpSessionList)
	req1 := bc.readRequest()
	ch2 := invoke(api.OpProjectList)
	req2 := bc.readRequest()

	if req1.ID == req2.ID {
		t.Fatalf("Correlation ids must be distinct, both were %d", req1.ID)
	}

	// Answer in reverse order; each caller must still get its own data.
	bc.send(wire.SuccessResponse(req2.ID, json.RawMessage(`"second"`)))
	bc.send(wire.SuccessResponse(req1.ID, json.RawMessage(`"first"`)))

	r1, r2 := <-ch1, <-ch2
	if r1.err != nil || r1.s != "first" {
		t.Errorf("First call got (%q, %v), want first", r1.s, r1.err)
	}
	if r2.err != nil || r2.s != "second" {
		t.Errorf("Second call got (%q, %v), want second", r2.s, r2.err)
	}
}

func TestInvokeBackendError(t *testing.T) {
	f := newFakeBackend(t)
	c := testConn(t, f, Options{})
	bc := connectReady(t, c, f, nil)

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Invoke(context.Background(), api.OpSessionKill, api.KillParams{SessionID: "ses_x"}, nil)
	}()
	req := bc.readRequest()
	bc.send(wire.ErrorResponse(req.ID, "session not found"))

	err := <-errCh
	if !api.IsKind(err, api.KindBackend) {
		t.Fatalf("Expected backend error kind, got %v", err)
	}
}

func TestInvokeTimeout(t *testing.T) {
	f := newFakeBackend(t)
	c := testConn(t, f, Options{RequestTimeout: 50 * time.Millisecond})
	bc := connectReady(t, c, f, nil)

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Invoke(context.Background(), api.OpSessionList, nil, nil)
	}()
	req := bc.readRequest()

	err := <-errCh
	if !api.IsKind(err, api.KindTimeout) {
		t.Fatalf("Expected timeout error kind, got %v", err)
	}

	// The response arriving after the deadline is dropped silently, and the
	// connection stays usable for the next request.
	bc.send(wire.SuccessResponse(req.ID, json.RawMessage(`"stale"`)))

	go func() {
		errCh <- c.Invoke(context.Background(), api.OpSessionList, nil, nil)
	}()
	req2 := bc.readRequest()
	if req2.ID <= req.ID {
		t.Errorf("Correlation ids must be monotonic, got %d after %d", req2.ID, req.ID)
	}
	bc.send(wire.SuccessResponse(req2.ID, nil))
	if err := <-errCh; err != nil {
		t.Errorf("Follow-up request failed: %v", err)
	}
}

func TestPendingRequestsFailOnConnectionLoss(t *testing.T) {
	f := newFakeBackend(t)
	c := testConn(t, f, Options{ReconnectBase: 10 * time.Millisecond, MaxReconnects: 1})
	bc := connectReady(t, c, f, nil)

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Invoke(context.Background(), api.OpConfigGet, nil, nil)
	}()
	bc.readRequest()

	f.setRefuse(true)
	bc.close()

	err := <-errCh
	if !api.IsKind(err, api.KindConnectionLost) {
		t.Fatalf("Expected connection-lost error kind, got %v", err)
	}
}

func TestReconnectResyncsAndKeepsSubscribers(t *testing.T) {
	f := newFakeBackend(t)
	states := make(chan State, 32)
	c := testConn(t, f, Options{
		ReconnectBase: 5 * time.Millisecond,
		OnState:       func(s State) { states <- s },
	})

	got := make(chan string, 8)
	sub, err := c.Subscribe(api.ChanHotkeyFired, func(payload []byte) { got <- string(payload) })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Cancel()

	bc := connectReady(t, c, f, nil)
	bc.close()

	// The reconnect machinery dials again; complete the new handshake.
	bc2 := f.accept()
	bc2.sendSync(&wire.Snapshot{BackendPort: 3456})
	waitFor(t, "ready after reconnect", func() bool { return c.State() == StateReady })

	// Events on the new physical connection reach the old subscriber.
	bc2.send(wire.Event(string(api.ChanHotkeyFired), json.RawMessage(`{"id":"hk_1"}`)))
	select {
	case payload := <-got:
		if payload != `{"id":"hk_1"}` {
			t.Errorf("Unexpected payload %s", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Subscriber never saw the post-reconnect event")
	}

	// The observer saw the reconnecting and syncing phases.
	seen := map[State]bool{}
	for len(states) > 0 {
		seen[<-states] = true
	}
	for _, want := range []State{StateConnecting, StateSyncing, StateReady, StateReconnecting} {
		if !seen[want] {
			t.Errorf("State observer never saw %s", want)
		}
	}
}

func TestReconnectExhaustionThenExplicitRetry(t *testing.T) {
	f := newFakeBackend(t)
	c := testConn(t, f, Options{ReconnectBase: time.Millisecond, MaxReconnects: 2})
	bc := connectReady(t, c, f, nil)

	f.setRefuse(true)
	bc.close()
	waitFor(t, "failed state", func() bool { return c.State() == StateFailed })

	// One initial dial plus exactly MaxReconnects attempts.
	if got := f.dialCount(); got != 3 {
		t.Errorf("Expected 3 dials before giving up, got %d", got)
	}

	if err := c.Invoke(context.Background(), api.OpSessionList, nil, nil); !api.IsKind(err, api.KindConnectionLost) {
		t.Fatalf("Expected connection-lost while failed, got %v", err)
	}

	// An explicit Connect restarts the machinery from scratch.
	f.setRefuse(false)
	connectReady(t, c, f, nil)
}

func TestCorrelationIDsNeverResetAcrossReconnects(t *testing.T) {
	f := newFakeBackend(t)
	c := testConn(t, f, Options{ReconnectBase: 5 * time.Millisecond})
	bc := connectReady(t, c, f, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Invoke(context.Background(), api.OpSessionList, nil, nil) }()
	req := bc.readRequest()
	bc.send(wire.SuccessResponse(req.ID, nil))
	if err := <-errCh; err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	bc.close()
	bc2 := f.accept()
	bc2.sendSync(&wire.Snapshot{})
	waitFor(t, "ready after reconnect", func() bool { return c.State() == StateReady })

	go func() { errCh <- c.Invoke(context.Background(), api.OpSessionList, nil, nil) }()
	req2 := bc2.readRequest()
	if req2.ID <= req.ID {
		t.Errorf("Expected id above %d on the new connection, got %d", req.ID, req2.ID)
	}
	bc2.send(wire.SuccessResponse(req2.ID, nil))
	if err := <-errCh; err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
}

func TestUnknownResponseIDIsDropped(t *testing.T) {
	f := newFakeBackend(t)
	c := testConn(t, f, Options{})
	bc := connectReady(t, c, f, nil)

	bc.send(wire.SuccessResponse(9999, json.RawMessage(`"orphan"`)))
	bc.send(wire.ErrorResponse(9998, "orphan failure"))

	// The connection is still healthy.
	errCh := make(chan error, 1)
	go func() { errCh <- c.Invoke(context.Background(), api.OpSessionList, nil, nil) }()
	req := bc.readRequest()
	bc.send(wire.SuccessResponse(req.ID, nil))
	if err := <-errCh; err != nil {
		t.Fatalf("Invoke after orphan responses failed: %v", err)
	}
}

func TestMalformedFramesAreSkipped(t *testing.T) {
	f := newFakeBackend(t)
	c := testConn(t, f, Options{})
	bc := connectReady(t, c, f, nil)

	_, _ = bc.conn.Write([]byte("this is not json\n"))
	_, _ = bc.conn.Write([]byte(`{"kind":"mystery"}` + "\n"))

	errCh := make(chan error, 1)
	go func() { errCh <- c.Invoke(context.Background(), api.OpSessionList, nil, nil) }()
	req := bc.readRequest()
	bc.send(wire.SuccessResponse(req.ID, nil))
	if err := <-errCh; err != nil {
		t.Fatalf("Invoke after malformed frames failed: %v", err)
	}
}

func TestCloseSettlesPendingAndRejectsReuse(t *testing.T) {
	f := newFakeBackend(t)
	c := testConn(t, f, Options{})
	bc := connectReady(t, c, f, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Invoke(context.Background(), api.OpConfigGet, nil, nil) }()
	bc.readRequest()

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := <-errCh; !api.IsKind(err, api.KindConnectionLost) {
		t.Errorf("Expected connection-lost for the pending call, got %v", err)
	}
	if got := c.State(); got != StateClosed {
		t.Errorf("Expected state %s, got %s", StateClosed, got)
	}
	if err := c.Connect(context.Background()); err == nil {
		t.Error("Expected Connect after Close to fail")
	}
	if err := c.Invoke(context.Background(), api.OpSessionList, nil, nil); !api.IsKind(err, api.KindConnectionLost) {
		t.Errorf("Expected connection-lost after Close, got %v", err)
	}
}

func TestSubscribeRejectsUnknownChannel(t *testing.T) {
	f := newFakeBackend(t)
	c := testConn(t, f, Options{})
	if _, err := c.Subscribe(api.Channel("bogus.channel"), func([]byte) {}); err == nil {
		t.Error("Expected error for unknown channel")
	}
}

func TestEventOrderingPerChannel(t *testing.T) {
	f := newFakeBackend(t)
	c := testConn(t, f, Options{})
	bc := connectReady(t, c, f, nil)

	const n = 50
	got := make(chan string, n)
	sub, err := c.Subscribe(api.ChanSessionOutput, func(payload []byte) { got <- string(payload) })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Cancel()

	for i := 0; i < n; i++ {
		bc.send(wire.Event(string(api.ChanSessionOutput), json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i))))
	}
	for i := 0; i < n; i++ {
		select {
		case payload := <-got:
			want := fmt.Sprintf(`{"seq":%d}`, i)
			if payload != want {
				t.Fatalf("Event %d out of order: got %s", i, payload)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("Missing event %d", i)
		}
	}
}

func TestResolveAddr(t *testing.T) {
	tests := []struct {
		name       string
		host       string
		override   int
		configured int
		want       string
	}{
		{"defaults", "", 0, 0, "127.0.0.1:3456"},
		{"configured port", "", 0, 4000, "127.0.0.1:4000"},
		{"override wins", "", 5000, 4000, "127.0.0.1:5000"},
		{"explicit host", "10.0.0.5", 0, 0, "10.0.0.5:3456"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveAddr(tt.host, tt.override, tt.configured); got != tt.want {
				t.Errorf("ResolveAddr(%q, %d, %d) = %q, want %q", tt.host, tt.override, tt.configured, got, tt.want)
			}
		})
	}
}
