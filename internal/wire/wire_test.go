package wire

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	args := []json.RawMessage{json.RawMessage(`{"command":"claude"}`)}
	env := Request(42, "session.spawn", args)

	frame, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.HasSuffix(frame, []byte("\n")) {
		t.Error("Expected frame to end with newline")
	}
	if bytes.Contains(frame[:len(frame)-1], []byte("\n")) {
		t.Error("Expected a single-line frame")
	}

	decoded, err := Decode(bytes.TrimSuffix(frame, []byte("\n")))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Kind != KindRequest {
		t.Errorf("Expected kind %q, got %q", KindRequest, decoded.Kind)
	}
	if decoded.ID != 42 {
		t.Errorf("Expected id 42, got %d", decoded.ID)
	}
	if decoded.Channel != "session.spawn" {
		t.Errorf("Expected channel session.spawn, got %q", decoded.Channel)
	}
	if len(decoded.Arguments) != 1 || string(decoded.Arguments[0]) != `{"command":"claude"}` {
		t.Errorf("Arguments did not round-trip: %v", decoded.Arguments)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	env := SuccessResponse(7, json.RawMessage(`{"id":"ses_x"}`))
	frame, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Success == nil || !*decoded.Success {
		t.Error("Expected success=true")
	}
	if string(decoded.Data) != `{"id":"ses_x"}` {
		t.Errorf("Data did not round-trip: %s", decoded.Data)
	}

	env = ErrorResponse(8, "session not found")
	frame, err = env.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err = Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Success == nil || *decoded.Success {
		t.Error("Expected success=false")
	}
	if decoded.ErrorMessage != "session not found" {
		t.Errorf("Expected errorMessage, got %q", decoded.ErrorMessage)
	}
}

func TestEventRoundTrip(t *testing.T) {
	env := Event("session.output", json.RawMessage(`{"data":"aGk="}`))
	frame, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Kind != KindEvent {
		t.Errorf("Expected kind %q, got %q", KindEvent, decoded.Kind)
	}
	if decoded.ID != 0 {
		t.Errorf("Events carry no id, got %d", decoded.ID)
	}
	if decoded.Channel != "session.output" {
		t.Errorf("Expected channel session.output, got %q", decoded.Channel)
	}
}

func TestSyncRoundTrip(t *testing.T) {
	snap := &Snapshot{
		SessionActive:   true,
		ActiveSessionID: "ses_01",
		BufferedOutput:  []byte("hello"),
		BackendPort:     3456,
		ActiveProject:   "prj_01",
	}
	frame, err := Sync(snap).Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Kind != KindSync {
		t.Errorf("Expected kind %q, got %q", KindSync, decoded.Kind)
	}
	if decoded.Snapshot == nil {
		t.Fatal("Expected snapshot to be present")
	}
	if decoded.Snapshot.ActiveSessionID != "ses_01" {
		t.Errorf("Expected active session ses_01, got %q", decoded.Snapshot.ActiveSessionID)
	}
	if string(decoded.Snapshot.BufferedOutput) != "hello" {
		t.Errorf("Buffered output did not round-trip: %q", decoded.Snapshot.BufferedOutput)
	}
	if decoded.Snapshot.BackendPort != 3456 {
		t.Errorf("Expected backend port 3456, got %d", decoded.Snapshot.BackendPort)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Error("Expected error for non-JSON input")
	}
	if _, err := Decode([]byte(`{"kind":"bogus"}`)); err == nil {
		t.Error("Expected error for unknown kind")
	}
	if _, err := Decode([]byte(`{}`)); err == nil {
		t.Error("Expected error for missing kind")
	}
}

func TestOmittedFieldsStayOffTheWire(t *testing.T) {
	frame, err := Event("config.changed", nil).Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(frame, &raw); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	for _, key := range []string{"id", "arguments", "success", "data", "errorMessage", "snapshot"} {
		if _, ok := raw[key]; ok {
			t.Errorf("Expected %q to be omitted from event frame", key)
		}
	}
}
