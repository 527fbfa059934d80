// Package journal appends daemon events to a line-delimited JSON file.
// The journal is a flight recorder for debugging: every event the daemon
// publishes lands here with a timestamp and its raw payload.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"termdock/internal/api"
)

// Entry is a single journaled event.
type Entry struct {
	Time    time.Time       `json:"time"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Journal writes entries to an append-only JSONL file.
type Journal struct {
	mu sync.Mutex
	f  *os.File
}

// Open creates or opens the journal file at path, creating parent
// directories as needed.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{f: f}, nil
}

// Record appends one event. Safe for concurrent use.
func (j *Journal) Record(ch api.Channel, payload []byte) error {
	line, err := json.Marshal(Entry{
		Time:    time.Now().UTC(),
		Channel: string(ch),
		Payload: json.RawMessage(payload),
	})
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return fmt.Errorf("journal closed")
	}
	if _, err := j.f.Write(line); err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}
