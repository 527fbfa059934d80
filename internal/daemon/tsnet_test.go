package daemon

import (
	"errors"
	"testing"

	"termdock/internal/config"
)

func TestStartTailnetListenerDisabled(t *testing.T) {
	_, err := startTailnetListener(config.TailscaleConfig{})
	if !errors.Is(err, errTailnetDisabled) {
		t.Fatalf("Expected errTailnetDisabled, got %v", err)
	}
}

func TestStartTailnetListenerRejectsIncompleteConfig(t *testing.T) {
	// Enabled but missing hostname and auth key: must fail validation
	// before touching the network.
	_, err := startTailnetListener(config.TailscaleConfig{Enabled: true, Port: 9100})
	if err == nil || errors.Is(err, errTailnetDisabled) {
		t.Fatalf("Expected a validation error, got %v", err)
	}
}
