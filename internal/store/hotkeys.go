package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"termdock/internal/api"
)

// Hotkeys exposes the hotkey registry. Implements api.HotkeyRegistry.
type Hotkeys struct {
	s *Store
}

// Hotkeys returns the hotkey registry view.
func (s *Store) Hotkeys() *Hotkeys {
	return &Hotkeys{s: s}
}

// List returns all bindings, chord order.
func (h *Hotkeys) List(ctx context.Context) ([]api.HotkeyBinding, error) {
	rows, err := h.s.db.QueryContext(ctx,
		"SELECT hotkey_id, chord, op, params FROM hotkeys ORDER BY chord")
	if err != nil {
		return nil, fmt.Errorf("list hotkeys: %w", err)
	}
	defer rows.Close()

	var bindings []api.HotkeyBinding
	for rows.Next() {
		var b api.HotkeyBinding
		var params sql.NullString
		if err := rows.Scan(&b.ID, &b.Chord, &b.Op, &params); err != nil {
			return nil, fmt.Errorf("scan hotkey: %w", err)
		}
		if params.Valid && params.String != "" {
			b.Params = json.RawMessage(params.String)
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}

// Bind registers a chord. A chord already bound is an error; unbind first.
func (h *Hotkeys) Bind(ctx context.Context, b api.HotkeyBinding) (api.HotkeyBinding, error) {
	if b.Chord == "" {
		return api.HotkeyBinding{}, fmt.Errorf("hotkey chord is required")
	}
	if !api.KnownOp(b.Op) {
		return api.HotkeyBinding{}, fmt.Errorf("unknown operation: %s", b.Op)
	}
	b.ID = newID("hk")

	_, err := h.s.db.ExecContext(ctx,
		"INSERT INTO hotkeys (hotkey_id, chord, op, params, created_at) VALUES (?, ?, ?, ?, ?)",
		b.ID, b.Chord, string(b.Op), string(b.Params), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return api.HotkeyBinding{}, fmt.Errorf("bind %s: %w", b.Chord, err)
	}
	return b, nil
}

// Unbind removes a binding by id.
func (h *Hotkeys) Unbind(ctx context.Context, id string) error {
	res, err := h.s.db.ExecContext(ctx, "DELETE FROM hotkeys WHERE hotkey_id = ?", id)
	if err != nil {
		return fmt.Errorf("unbind %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("hotkey not found: %s", id)
	}
	return nil
}

// Fire publishes a hotkey.fired event for the binding with the given id.
// The caller (a platform hook outside this package) detects the chord.
func (h *Hotkeys) Fire(ctx context.Context, id string) error {
	var chord string
	err := h.s.db.QueryRowContext(ctx,
		"SELECT chord FROM hotkeys WHERE hotkey_id = ?", id).Scan(&chord)
	if err == sql.ErrNoRows {
		return fmt.Errorf("hotkey not found: %s", id)
	}
	if err != nil {
		return fmt.Errorf("fire %s: %w", id, err)
	}
	h.s.bus.Publish(api.ChanHotkeyFired, api.HotkeyEvent{ID: id, Chord: chord})
	return nil
}

var _ api.HotkeyRegistry = (*Hotkeys)(nil)
