package pubsub

import (
	"testing"

	"termdock/internal/api"
)

func TestPublishReachesAllListeners(t *testing.T) {
	p := NewPublisher()

	var got1, got2 []string
	p.Subscribe(api.ChanSessionOutput, func(payload []byte) {
		got1 = append(got1, string(payload))
	})
	p.Subscribe(api.ChanSessionOutput, func(payload []byte) {
		got2 = append(got2, string(payload))
	})

	p.PublishRaw(api.ChanSessionOutput, []byte(`"a"`))
	p.PublishRaw(api.ChanSessionOutput, []byte(`"b"`))

	for i, got := range [][]string{got1, got2} {
		if len(got) != 2 || got[0] != `"a"` || got[1] != `"b"` {
			t.Errorf("Listener %d got %v, want [\"a\" \"b\"] in order", i+1, got)
		}
	}
}

func TestPublishIsChannelScoped(t *testing.T) {
	p := NewPublisher()

	var calls int
	p.Subscribe(api.ChanSessionExit, func([]byte) { calls++ })

	p.PublishRaw(api.ChanSessionOutput, []byte(`{}`))
	if calls != 0 {
		t.Errorf("Listener on another channel was invoked %d times", calls)
	}
	p.PublishRaw(api.ChanSessionExit, []byte(`{}`))
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestCancelRemovesExactlyOneListener(t *testing.T) {
	p := NewPublisher()

	var a, b int
	subA := p.Subscribe(api.ChanHotkeyFired, func([]byte) { a++ })
	p.Subscribe(api.ChanHotkeyFired, func([]byte) { b++ })

	subA.Cancel()
	p.PublishRaw(api.ChanHotkeyFired, []byte(`{}`))

	if a != 0 {
		t.Errorf("Canceled listener was invoked %d times", a)
	}
	if b != 1 {
		t.Errorf("Surviving listener expected 1 call, got %d", b)
	}

	// Canceling twice is harmless.
	subA.Cancel()
	p.PublishRaw(api.ChanHotkeyFired, []byte(`{}`))
	if b != 2 {
		t.Errorf("Surviving listener expected 2 calls, got %d", b)
	}
}

func TestTapSeesEveryChannel(t *testing.T) {
	p := NewPublisher()

	type seen struct {
		ch      api.Channel
		payload string
	}
	var events []seen
	p.Tap(func(ch api.Channel, payload []byte) {
		events = append(events, seen{ch, string(payload)})
	})

	p.PublishRaw(api.ChanSessionOutput, []byte(`"out"`))
	p.PublishRaw(api.ChanConfigChanged, []byte(`{"v":1}`))

	if len(events) != 2 {
		t.Fatalf("Expected 2 tapped events, got %d", len(events))
	}
	if events[0].ch != api.ChanSessionOutput || events[0].payload != `"out"` {
		t.Errorf("First tapped event wrong: %+v", events[0])
	}
	if events[1].ch != api.ChanConfigChanged {
		t.Errorf("Second tapped event wrong channel: %s", events[1].ch)
	}
}

func TestPublishMarshalsOnce(t *testing.T) {
	p := NewPublisher()

	var got string
	p.Subscribe(api.ChanSessionExit, func(payload []byte) { got = string(payload) })

	p.Publish(api.ChanSessionExit, api.ExitEvent{SessionID: "ses_1", ExitCode: 2})
	want := `{"sessionId":"ses_1","exitCode":2}`
	if got != want {
		t.Errorf("Expected payload %s, got %s", want, got)
	}

	// Unmarshalable payloads are dropped, not delivered.
	got = ""
	p.Publish(api.ChanSessionExit, func() {})
	if got != "" {
		t.Errorf("Expected drop, got payload %s", got)
	}
}
