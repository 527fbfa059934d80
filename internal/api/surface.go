// Package api defines the capability surface contract shared by every
// transport: the catalogue of operation names, notification channels, their
// argument and result types, and the error kinds a caller can observe. The
// contract has no behavior of its own; both the local adapter and the remote
// connection manager implement Surface against it.
package api

import "context"

// Op names an operation on the capability surface.
type Op string

// Operations exposed by the backend. The catalogue is fixed; adapters route
// by name and never invent operations of their own.
const (
	OpSessionSpawn  Op = "session.spawn"
	OpSessionWrite  Op = "session.write"
	OpSessionResize Op = "session.resize"
	OpSessionKill   Op = "session.kill"
	OpSessionList   Op = "session.list"

	OpConfigGet Op = "config.get"
	OpConfigSet Op = "config.set"

	OpAgentList   Op = "agent.list"
	OpAgentCreate Op = "agent.create"
	OpAgentUpdate Op = "agent.update"
	OpAgentDelete Op = "agent.delete"

	OpHotkeyList   Op = "hotkey.list"
	OpHotkeyBind   Op = "hotkey.bind"
	OpHotkeyUnbind Op = "hotkey.unbind"

	OpMCPList       Op = "mcp.list"
	OpMCPRegister   Op = "mcp.register"
	OpMCPUnregister Op = "mcp.unregister"

	OpProjectList    Op = "project.list"
	OpProjectOpen    Op = "project.open"
	OpProjectCurrent Op = "project.current"
)

// Channel names a push-notification stream. Events on one channel are
// delivered in arrival order; there is no ordering across channels.
type Channel string

const (
	ChanSessionOutput  Channel = "session.output"
	ChanSessionExit    Channel = "session.exit"
	ChanHotkeyFired    Channel = "hotkey.fired"
	ChanConfigChanged  Channel = "config.changed"
	ChanProjectChanged Channel = "project.changed"
)

// EventHandler receives one event payload. Handlers are invoked synchronously
// in delivery order for their channel and must not block for long.
type EventHandler func(payload []byte)

// Subscription identifies one registered listener. Cancel removes exactly
// that listener; other subscribers on the same channel are unaffected.
type Subscription interface {
	Cancel()
}

// Surface is the uniform handle every consumer of the backend holds,
// regardless of whether it is backed by direct in-process calls or a remote
// connection.
//
// Invoke routes the named operation with the given parameters and, when the
// operation succeeds and result is non-nil, stores the operation's result
// into it. Params and result types per operation are declared in types.go.
type Surface interface {
	Invoke(ctx context.Context, op Op, params any, result any) error
	Subscribe(ch Channel, fn EventHandler) (Subscription, error)
}

// KnownOp reports whether op is part of the catalogue.
func KnownOp(op Op) bool {
	switch op {
	case OpSessionSpawn, OpSessionWrite, OpSessionResize, OpSessionKill, OpSessionList,
		OpConfigGet, OpConfigSet,
		OpAgentList, OpAgentCreate, OpAgentUpdate, OpAgentDelete,
		OpHotkeyList, OpHotkeyBind, OpHotkeyUnbind,
		OpMCPList, OpMCPRegister, OpMCPUnregister,
		OpProjectList, OpProjectOpen, OpProjectCurrent:
		return true
	}
	return false
}

// KnownChannel reports whether ch is part of the catalogue.
func KnownChannel(ch Channel) bool {
	switch ch {
	case ChanSessionOutput, ChanSessionExit, ChanHotkeyFired, ChanConfigChanged, ChanProjectChanged:
		return true
	}
	return false
}
