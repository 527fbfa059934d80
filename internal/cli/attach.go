package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"termdock/internal/api"
	"termdock/internal/remote"
)

// Attach connects the local terminal to a session: stdin bytes go to
// session.write, session.output bytes go to stdout, and the session's exit
// ends the loop. The local terminal runs in raw mode for the duration.
func Attach(ctx context.Context, conn *remote.Conn, sessionID string) error {
	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		return fmt.Errorf("attach requires an interactive terminal")
	}

	oldState, err := term.MakeRaw(stdinFd)
	if err != nil {
		return fmt.Errorf("enter raw mode: %w", err)
	}
	defer func() { _ = term.Restore(stdinFd, oldState) }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	exited := make(chan int, 1)

	outSub, err := conn.Subscribe(api.ChanSessionOutput, func(payload []byte) {
		var ev api.OutputEvent
		if json.Unmarshal(payload, &ev) != nil {
			return
		}
		if ev.SessionID == sessionID || ev.SessionID == "" {
			_, _ = os.Stdout.Write(ev.Data)
		}
	})
	if err != nil {
		return err
	}
	defer outSub.Cancel()

	exitSub, err := conn.Subscribe(api.ChanSessionExit, func(payload []byte) {
		var ev api.ExitEvent
		if json.Unmarshal(payload, &ev) != nil {
			return
		}
		if ev.SessionID == sessionID {
			select {
			case exited <- ev.ExitCode:
			default:
			}
		}
	})
	if err != nil {
		return err
	}
	defer exitSub.Cancel()

	if err := sendSize(ctx, conn, sessionID, stdinFd); err != nil {
		return err
	}

	// Track local terminal resizes.
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for {
			select {
			case <-winch:
				_ = sendSize(ctx, conn, sessionID, stdinFd)
			case <-ctx.Done():
				return
			}
		}
	}()

	// Forward stdin. The read blocks, so this goroutine leaks until the
	// process exits; acceptable for a CLI attach loop.
	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				werr := conn.Invoke(ctx, api.OpSessionWrite, api.WriteParams{
					SessionID: sessionID,
					Data:      append([]byte(nil), buf[:n]...),
				}, nil)
				if werr != nil {
					readErr <- werr
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	select {
	case code := <-exited:
		if code != 0 {
			return fmt.Errorf("session exited with code %d", code)
		}
		return nil
	case err := <-readErr:
		if api.IsKind(err, api.KindConnectionLost) {
			return fmt.Errorf("connection to daemon lost")
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sendSize(ctx context.Context, conn *remote.Conn, sessionID string, fd int) error {
	cols, rows, err := term.GetSize(fd)
	if err != nil {
		return nil
	}
	return conn.Invoke(ctx, api.OpSessionResize, api.ResizeParams{
		SessionID: sessionID,
		Rows:      uint16(rows),
		Cols:      uint16(cols),
	}, nil)
}
