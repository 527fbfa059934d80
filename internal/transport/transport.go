package transport

import "context"

// Transport identifies how a request reached the daemon.
type Transport int

const (
	// TransportUnknown means the transport was never tagged.
	TransportUnknown Transport = iota
	// TransportLocal is an in-process call, no wire involved.
	TransportLocal
	// TransportTCP is a line-delimited JSON connection over TCP.
	TransportTCP
	// TransportWebSocket is an envelope-per-message WebSocket connection.
	TransportWebSocket
)

// String returns the string representation of a transport type.
func (t Transport) String() string {
	switch t {
	case TransportLocal:
		return "local"
	case TransportTCP:
		return "tcp"
	case TransportWebSocket:
		return "websocket"
	default:
		return "unknown"
	}
}

// transportKey is the context key for transport type.
type transportKey struct{}

// WithTransport returns a new context with the transport type set.
func WithTransport(ctx context.Context, transport Transport) context.Context {
	return context.WithValue(ctx, transportKey{}, transport)
}

// FromContext retrieves the transport type from the context.
// Returns TransportUnknown if not set.
func FromContext(ctx context.Context) Transport {
	if t, ok := ctx.Value(transportKey{}).(Transport); ok {
		return t
	}
	return TransportUnknown
}
