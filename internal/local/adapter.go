// Package local binds the capability surface to co-located providers. Every
// operation is a direct call; every channel is a direct subscription on the
// in-process publisher. There are no retries and no timeouts here: failures
// are structural, not transient.
package local

import (
	"context"
	"encoding/json"

	"termdock/internal/api"
	"termdock/internal/pubsub"
)

// Adapter implements api.Surface over an in-process provider set.
type Adapter struct {
	providers api.Providers
	bus       *pubsub.Publisher
}

// NewAdapter binds the surface to providers and bus.
func NewAdapter(providers api.Providers, bus *pubsub.Publisher) *Adapter {
	return &Adapter{providers: providers, bus: bus}
}

// Bus returns the publisher the adapter subscribes against.
func (a *Adapter) Bus() *pubsub.Publisher { return a.bus }

// Subscribe registers fn on the in-process publisher.
func (a *Adapter) Subscribe(ch api.Channel, fn api.EventHandler) (api.Subscription, error) {
	if !api.KnownChannel(ch) {
		return nil, api.NewUnavailable("", "unknown channel "+string(ch))
	}
	return a.bus.Subscribe(ch, fn), nil
}

// Invoke routes op to its provider. Params must be the operation's declared
// argument type (value or pointer); result, when non-nil, must point at the
// declared result type.
func (a *Adapter) Invoke(ctx context.Context, op api.Op, params any, result any) error {
	switch op {
	case api.OpSessionSpawn:
		p, ok := arg[api.SpawnParams](params)
		if !ok || a.providers.Sessions == nil {
			return a.badCall(op, ok)
		}
		res, err := a.providers.Sessions.Spawn(ctx, p)
		if err != nil {
			return api.NewBackend(op, err.Error())
		}
		return store(op, result, res)

	case api.OpSessionWrite:
		p, ok := arg[api.WriteParams](params)
		if !ok || a.providers.Sessions == nil {
			return a.badCall(op, ok)
		}
		if err := a.providers.Sessions.Write(ctx, p.SessionID, p.Data); err != nil {
			return api.NewBackend(op, err.Error())
		}
		return nil

	case api.OpSessionResize:
		p, ok := arg[api.ResizeParams](params)
		if !ok || a.providers.Sessions == nil {
			return a.badCall(op, ok)
		}
		if err := a.providers.Sessions.Resize(ctx, p.SessionID, p.Rows, p.Cols); err != nil {
			return api.NewBackend(op, err.Error())
		}
		return nil

	case api.OpSessionKill:
		p, ok := arg[api.KillParams](params)
		if !ok || a.providers.Sessions == nil {
			return a.badCall(op, ok)
		}
		if err := a.providers.Sessions.Kill(ctx, p.SessionID); err != nil {
			return api.NewBackend(op, err.Error())
		}
		return nil

	case api.OpSessionList:
		if a.providers.Sessions == nil {
			return api.NewUnavailable(op, "no session provider")
		}
		sessions, err := a.providers.Sessions.List(ctx)
		if err != nil {
			return api.NewBackend(op, err.Error())
		}
		return store(op, result, api.SessionListResult{Sessions: sessions})

	case api.OpConfigGet:
		if a.providers.Config == nil {
			return api.NewUnavailable(op, "no config provider")
		}
		doc, err := a.providers.Config.Get(ctx)
		if err != nil {
			return api.NewBackend(op, err.Error())
		}
		return store(op, result, doc)

	case api.OpConfigSet:
		p, ok := arg[api.ConfigDocument](params)
		if !ok || a.providers.Config == nil {
			return a.badCall(op, ok)
		}
		if err := a.providers.Config.Set(ctx, p); err != nil {
			return api.NewBackend(op, err.Error())
		}
		return nil

	case api.OpAgentList:
		if a.providers.Agents == nil {
			return api.NewUnavailable(op, "no agent provider")
		}
		agents, err := a.providers.Agents.List(ctx)
		if err != nil {
			return api.NewBackend(op, err.Error())
		}
		return store(op, result, api.AgentListResult{Agents: agents})

	case api.OpAgentCreate:
		p, ok := arg[api.AgentSpec](params)
		if !ok || a.providers.Agents == nil {
			return a.badCall(op, ok)
		}
		spec, err := a.providers.Agents.Create(ctx, p)
		if err != nil {
			return api.NewBackend(op, err.Error())
		}
		return store(op, result, spec)

	case api.OpAgentUpdate:
		p, ok := arg[api.AgentSpec](params)
		if !ok || a.providers.Agents == nil {
			return a.badCall(op, ok)
		}
		spec, err := a.providers.Agents.Update(ctx, p)
		if err != nil {
			return api.NewBackend(op, err.Error())
		}
		return store(op, result, spec)

	case api.OpAgentDelete:
		p, ok := arg[api.UnbindParams](params)
		if !ok || a.providers.Agents == nil {
			return a.badCall(op, ok)
		}
		if err := a.providers.Agents.Delete(ctx, p.ID); err != nil {
			return api.NewBackend(op, err.Error())
		}
		return nil

	case api.OpHotkeyList:
		if a.providers.Hotkeys == nil {
			return api.NewUnavailable(op, "no hotkey provider")
		}
		bindings, err := a.providers.Hotkeys.List(ctx)
		if err != nil {
			return api.NewBackend(op, err.Error())
		}
		return store(op, result, api.HotkeyListResult{Bindings: bindings})

	case api.OpHotkeyBind:
		p, ok := arg[api.HotkeyBinding](params)
		if !ok || a.providers.Hotkeys == nil {
			return a.badCall(op, ok)
		}
		b, err := a.providers.Hotkeys.Bind(ctx, p)
		if err != nil {
			return api.NewBackend(op, err.Error())
		}
		return store(op, result, b)

	case api.OpHotkeyUnbind:
		p, ok := arg[api.UnbindParams](params)
		if !ok || a.providers.Hotkeys == nil {
			return a.badCall(op, ok)
		}
		if err := a.providers.Hotkeys.Unbind(ctx, p.ID); err != nil {
			return api.NewBackend(op, err.Error())
		}
		return nil

	case api.OpMCPList:
		if a.providers.MCP == nil {
			return api.NewUnavailable(op, "no mcp provider")
		}
		servers, err := a.providers.MCP.List(ctx)
		if err != nil {
			return api.NewBackend(op, err.Error())
		}
		return store(op, result, api.MCPListResult{Servers: servers})

	case api.OpMCPRegister:
		p, ok := arg[api.MCPServerSpec](params)
		if !ok || a.providers.MCP == nil {
			return a.badCall(op, ok)
		}
		spec, err := a.providers.MCP.Register(ctx, p)
		if err != nil {
			return api.NewBackend(op, err.Error())
		}
		return store(op, result, spec)

	case api.OpMCPUnregister:
		p, ok := arg[api.UnregisterParams](params)
		if !ok || a.providers.MCP == nil {
			return a.badCall(op, ok)
		}
		if err := a.providers.MCP.Unregister(ctx, p.ID); err != nil {
			return api.NewBackend(op, err.Error())
		}
		return nil

	case api.OpProjectList:
		if a.providers.Projects == nil {
			return api.NewUnavailable(op, "no project provider")
		}
		projects, err := a.providers.Projects.List(ctx)
		if err != nil {
			return api.NewBackend(op, err.Error())
		}
		return store(op, result, api.ProjectListResult{Projects: projects})

	case api.OpProjectOpen:
		p, ok := arg[api.OpenParams](params)
		if !ok || a.providers.Projects == nil {
			return a.badCall(op, ok)
		}
		info, err := a.providers.Projects.Open(ctx, p.ID)
		if err != nil {
			return api.NewBackend(op, err.Error())
		}
		return store(op, result, info)

	case api.OpProjectCurrent:
		if a.providers.Projects == nil {
			return api.NewUnavailable(op, "no project provider")
		}
		info, err := a.providers.Projects.Current(ctx)
		if err != nil {
			return api.NewBackend(op, err.Error())
		}
		return store(op, result, info)
	}

	return api.NewUnavailable(op, "unknown operation")
}

// badCall distinguishes a params type mismatch from a missing provider.
func (a *Adapter) badCall(op api.Op, paramsOK bool) error {
	if !paramsOK {
		return api.NewUnavailable(op, "invalid parameters")
	}
	return api.NewUnavailable(op, "no provider")
}

// arg coerces params to the operation's declared type, accepting a value, a
// pointer to it, or raw JSON (as handed over by the wire dispatcher).
func arg[T any](params any) (T, bool) {
	if v, ok := params.(T); ok {
		return v, true
	}
	if p, ok := params.(*T); ok && p != nil {
		return *p, true
	}
	if raw, ok := params.(json.RawMessage); ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// store writes a typed result through the caller's pointer. A nil result
// means the caller does not want the payload; a *json.RawMessage result gets
// the marshaled form.
func store[T any](op api.Op, result any, value T) error {
	if result == nil {
		return nil
	}
	if out, ok := result.(*T); ok {
		*out = value
		return nil
	}
	if raw, ok := result.(*json.RawMessage); ok {
		data, err := json.Marshal(value)
		if err != nil {
			return api.NewBackend(op, "encode result: "+err.Error())
		}
		*raw = data
		return nil
	}
	return api.NewUnavailable(op, "invalid result type")
}
