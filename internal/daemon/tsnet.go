package daemon

import (
	"errors"
	"fmt"
	"net"
	"os"

	"tailscale.com/tsnet"

	"termdock/internal/config"
)

// errTailnetDisabled is returned by startTailnetListener when the tsnet
// listener is not turned on; callers treat it as "nothing to do".
var errTailnetDisabled = errors.New("tailnet listener disabled")

// TailnetListener serves the daemon protocol over a tailnet, so a client on
// another machine reaches the backend without any LAN or port-forward
// exposure. It is a net.Listener; the protocol server accepts from it the
// same way it accepts from the TCP socket.
type TailnetListener struct {
	srv *tsnet.Server
	ln  net.Listener

	hostname string
	port     int
}

// startTailnetListener validates cfg, joins the tailnet and starts
// listening. Returns errTailnetDisabled when the listener is not enabled.
func startTailnetListener(cfg config.TailscaleConfig) (*TailnetListener, error) {
	if !cfg.Enabled {
		return nil, errTailnetDisabled
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.StateDir != "" {
		if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
			return nil, fmt.Errorf("create tsnet state dir %s: %w", cfg.StateDir, err)
		}
	}

	t := &TailnetListener{
		srv: &tsnet.Server{
			Hostname:   cfg.Hostname,
			AuthKey:    cfg.AuthKey,
			Dir:        cfg.StateDir,
			ControlURL: cfg.ControlURL, // empty means the Tailscale SaaS control plane
		},
		hostname: cfg.Hostname,
		port:     cfg.Port,
	}

	ln, err := t.srv.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		_ = t.srv.Close()
		return nil, fmt.Errorf("tailnet listen on :%d: %w", cfg.Port, err)
	}
	t.ln = ln
	return t, nil
}

// Hostname returns the node name this listener joined the tailnet as.
func (t *TailnetListener) Hostname() string { return t.hostname }

// Port returns the tailnet port being listened on.
func (t *TailnetListener) Port() int { return t.port }

func (t *TailnetListener) Accept() (net.Conn, error) { return t.ln.Accept() }

func (t *TailnetListener) Addr() net.Addr { return t.ln.Addr() }

// Close shuts down the listener and leaves the tailnet.
func (t *TailnetListener) Close() error {
	lnErr := t.ln.Close()
	if err := t.srv.Close(); err != nil {
		return fmt.Errorf("close tsnet server: %w", err)
	}
	if lnErr != nil && !errors.Is(lnErr, net.ErrClosed) {
		return fmt.Errorf("close tailnet listener: %w", lnErr)
	}
	return nil
}

var _ net.Listener = (*TailnetListener)(nil)
