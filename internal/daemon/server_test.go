package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"termdock/internal/api"
	"termdock/internal/wire"
)

// scriptedSurface answers Invoke from a function.
type scriptedSurface struct {
	invoke func(op api.Op, params any) (json.RawMessage, error)
}

func (s *scriptedSurface) Invoke(ctx context.Context, op api.Op, params any, result any) error {
	data, err := s.invoke(op, params)
	if err != nil {
		return err
	}
	if raw, ok := result.(*json.RawMessage); ok {
		*raw = data
	}
	return nil
}

func (s *scriptedSurface) Subscribe(ch api.Channel, fn api.EventHandler) (api.Subscription, error) {
	return nil, api.NewUnavailable("", "not supported")
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	sc   *bufio.Scanner
}

func dialServer(t *testing.T, addr net.Addr) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return &testClient{t: t, conn: conn, sc: sc}
}

func (c *testClient) read() *wire.Envelope {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if !c.sc.Scan() {
		c.t.Fatalf("read frame: %v", c.sc.Err())
	}
	env, err := wire.Decode(c.sc.Bytes())
	if err != nil {
		c.t.Fatalf("decode frame: %v", err)
	}
	return env
}

func (c *testClient) send(env *wire.Envelope) {
	c.t.Helper()
	frame, err := env.Encode()
	if err != nil {
		c.t.Fatalf("encode frame: %v", err)
	}
	if _, err := c.conn.Write(frame); err != nil {
		c.t.Fatalf("write frame: %v", err)
	}
}

func startServer(t *testing.T, surface api.Surface, snapshot SnapshotFunc) (*Server, net.Addr) {
	t.Helper()
	s := NewServer(surface, snapshot)
	addr, err := s.Listen("127.0.0.1:0", true)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s, addr
}

func TestSyncFrameComesFirst(t *testing.T) {
	surface := &scriptedSurface{invoke: func(api.Op, any) (json.RawMessage, error) { return nil, nil }}
	_, addr := startServer(t, surface, func() *wire.Snapshot {
		return &wire.Snapshot{SessionActive: true, ActiveSessionID: "ses_1", BackendPort: 3456}
	})

	c := dialServer(t, addr)
	env := c.read()
	if env.Kind != wire.KindSync {
		t.Fatalf("Expected sync as the first frame, got %s", env.Kind)
	}
	if env.Snapshot == nil || env.Snapshot.ActiveSessionID != "ses_1" {
		t.Errorf("Unexpected snapshot: %+v", env.Snapshot)
	}
}

func TestRequestDispatch(t *testing.T) {
	surface := &scriptedSurface{invoke: func(op api.Op, params any) (json.RawMessage, error) {
		if op != api.OpSessionSpawn {
			return nil, errors.New("unexpected op")
		}
		raw, ok := params.(json.RawMessage)
		if !ok {
			return nil, errors.New("params not raw JSON")
		}
		var p api.SpawnParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return json.Marshal(api.SpawnResult{SessionID: "ses_new", PID: 7})
	}}
	_, addr := startServer(t, surface, nil)

	c := dialServer(t, addr)
	if env := c.read(); env.Kind != wire.KindSync {
		t.Fatalf("Expected sync first, got %s", env.Kind)
	}

	c.send(wire.Request(11, string(api.OpSessionSpawn),
		[]json.RawMessage{json.RawMessage(`{"command":"claude"}`)}))

	env := c.read()
	if env.Kind != wire.KindResponse || env.ID != 11 {
		t.Fatalf("Expected response for id 11, got %+v", env)
	}
	if env.Success == nil || !*env.Success {
		t.Fatalf("Expected success, got %+v", env)
	}
	var res api.SpawnResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("Bad response data: %v", err)
	}
	if res.SessionID != "ses_new" {
		t.Errorf("Unexpected result: %+v", res)
	}
}

func TestFailedRequestCarriesErrorMessage(t *testing.T) {
	surface := &scriptedSurface{invoke: func(api.Op, any) (json.RawMessage, error) {
		return nil, errors.New("session not found: ses_x")
	}}
	_, addr := startServer(t, surface, nil)

	c := dialServer(t, addr)
	c.read() // sync

	c.send(wire.Request(5, string(api.OpSessionKill), nil))
	env := c.read()
	if env.Success == nil || *env.Success {
		t.Fatalf("Expected failure response, got %+v", env)
	}
	if !strings.Contains(env.ErrorMessage, "session not found") {
		t.Errorf("Expected error message, got %q", env.ErrorMessage)
	}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	surface := &scriptedSurface{invoke: func(api.Op, any) (json.RawMessage, error) { return nil, nil }}
	s, addr := startServer(t, surface, nil)

	c1 := dialServer(t, addr)
	c2 := dialServer(t, addr)
	c1.read()
	c2.read()

	deadline := time.Now().Add(5 * time.Second)
	for s.ClientCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.ClientCount(); got != 2 {
		t.Fatalf("Expected 2 clients, got %d", got)
	}

	s.Broadcast(api.ChanSessionOutput, []byte(`{"data":"aGk="}`))

	for i, c := range []*testClient{c1, c2} {
		env := c.read()
		if env.Kind != wire.KindEvent || env.Channel != string(api.ChanSessionOutput) {
			t.Errorf("Client %d got unexpected frame: %+v", i+1, env)
		}
	}
}

func TestMalformedAndNonRequestFramesAreIgnored(t *testing.T) {
	surface := &scriptedSurface{invoke: func(api.Op, any) (json.RawMessage, error) { return nil, nil }}
	_, addr := startServer(t, surface, nil)

	c := dialServer(t, addr)
	c.read() // sync

	_, _ = c.conn.Write([]byte("garbage\n"))
	c.send(wire.Event("session.output", nil)) // clients do not send events

	// The connection survives and still serves requests.
	c.send(wire.Request(1, string(api.OpSessionList), nil))
	env := c.read()
	if env.Kind != wire.KindResponse || env.ID != 1 {
		t.Fatalf("Expected response after ignored frames, got %+v", env)
	}
}

func TestLocalOnlyRewritesWildcardBind(t *testing.T) {
	surface := &scriptedSurface{invoke: func(api.Op, any) (json.RawMessage, error) { return nil, nil }}
	s := NewServer(surface, nil)
	addr, err := s.Listen("0.0.0.0:0", true)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer s.Stop()

	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		t.Fatalf("Expected TCP address, got %T", addr)
	}
	if !tcp.IP.IsLoopback() {
		t.Errorf("Expected loopback bind under localOnly, got %s", tcp.IP)
	}
}

func TestStopClosesClients(t *testing.T) {
	surface := &scriptedSurface{invoke: func(api.Op, any) (json.RawMessage, error) { return nil, nil }}
	s, addr := startServer(t, surface, nil)

	c := dialServer(t, addr)
	c.read() // sync

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if c.sc.Scan() {
		t.Error("Expected the connection to be closed after Stop")
	}
}
