package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"beltline/internal/capability"
	"beltline/internal/codec"
	"beltline/internal/mailbox"
	"beltline/internal/pathing"
	"beltline/pkg/sim"
)

// registerBindings installs the tool stubs into a namespace. Each
// closes over the session's capability client; simulation rejections
// surface as Lua errors carrying the capability error code, so
// programs may pcall around any call.
func (s *Session) registerBindings(L *lua.LState) {
	for name, fn := range map[string]lua.LGFunction{
		"place_entity":      s.luaPlaceEntity,
		"remove_entity":     s.luaRemoveEntity,
		"get_entities":      s.luaGetEntities,
		"snapshot":          s.luaSnapshot,
		"move_to":           s.luaMoveTo,
		"request_path":      s.luaRequestPath,
		"get_path":          s.luaGetPath,
		"wait":              s.luaWait,
		"get_position":      s.luaGetPosition,
		"get_inventory":     s.luaGetInventory,
		"production_totals": s.luaProductionTotals,
		"send_message":      s.luaSendMessage,
		"read_messages":     s.luaReadMessages,
		"agent_name":        s.luaAgentName,
	} {
		L.SetGlobal(name, L.NewFunction(fn))
	}
}

// raise converts a Go error into a Lua error. Never returns.
func (s *Session) raise(L *lua.LState, err error) int {
	var capErr *capability.CapabilityError
	if errors.As(err, &capErr) {
		L.RaiseError("%s: %s", capErr.Code, capErr.Message)
		return 0
	}
	L.RaiseError("%s", err.Error())
	return 0
}

func (s *Session) luaPlaceEntity(L *lua.LState) int {
	name := L.CheckString(1)
	pos := sim.Position{X: float64(L.CheckNumber(2)), Y: float64(L.CheckNumber(3))}
	dir, err := sim.ParseDirection(L.OptString(4, "north"))
	if err != nil {
		L.ArgError(4, err.Error())
		return 0
	}

	entity, err := s.client.PlaceEntity(s.context(), name, pos, dir)
	if err != nil {
		return s.raise(L, err)
	}
	L.Push(entityTable(L, *entity))
	return 1
}

func (s *Session) luaRemoveEntity(L *lua.LState) int {
	name := L.CheckString(1)
	pos := sim.Position{X: float64(L.CheckNumber(2)), Y: float64(L.CheckNumber(3))}

	count, err := s.client.RemoveEntity(s.context(), name, pos)
	if err != nil {
		return s.raise(L, err)
	}
	L.Push(lua.LNumber(count))
	return 1
}

func (s *Session) luaGetEntities(L *lua.LState) int {
	center := sim.Position{X: float64(L.CheckNumber(1)), Y: float64(L.CheckNumber(2))}
	radius := L.CheckInt(3)

	entities, err := s.client.GetEntities(s.context(), center, radius)
	if err != nil {
		return s.raise(L, err)
	}
	list := L.NewTable()
	for _, e := range entities {
		list.Append(entityTable(L, e))
	}
	L.Push(list)
	return 1
}

func (s *Session) luaSnapshot(L *lua.LState) int {
	center := sim.Position{X: float64(L.CheckNumber(1)), Y: float64(L.CheckNumber(2))}
	radius := L.CheckInt(3)
	opts := capability.SnapshotOptions{Format: codec.Format(L.OptString(4, ""))}

	result, err := s.client.Snapshot(s.context(), center, radius, opts)
	if err != nil {
		return s.raise(L, err)
	}
	obs, err := result.Observation()
	if err != nil {
		return s.raise(L, err)
	}
	L.Push(observationTable(L, obs))
	return 1
}

func (s *Session) luaMoveTo(L *lua.LState) int {
	dest := sim.Position{X: float64(L.CheckNumber(1)), Y: float64(L.CheckNumber(2))}
	var opts capability.MoveOptions
	if tbl := L.OptTable(3, nil); tbl != nil {
		if v := tbl.RawGetString("lay"); v != lua.LNil {
			opts.Lay = lua.LVAsString(v)
		}
		if v := tbl.RawGetString("mode"); v != lua.LNil {
			opts.Mode = lua.LVAsString(v)
		}
		opts.Queued = lua.LVAsBool(tbl.RawGetString("queued"))
	}

	pos, err := s.client.MoveTo(s.context(), dest, opts)
	if err != nil {
		return s.raise(L, err)
	}
	L.Push(positionTable(L, pos))
	return 1
}

func (s *Session) luaRequestPath(L *lua.LState) int {
	start := sim.Position{X: float64(L.CheckNumber(1)), Y: float64(L.CheckNumber(2))}
	goal := sim.Position{X: float64(L.CheckNumber(3)), Y: float64(L.CheckNumber(4))}
	radius := float64(L.OptNumber(5, 0))

	ticket, err := s.paths.Begin(s.context(), start, goal, radius)
	if err != nil {
		return s.raise(L, err)
	}
	L.Push(lua.LNumber(ticket))
	return 1
}

// luaGetPath polls through the correlator so a delivered outcome stays
// readable after the simulation drops the ticket.
func (s *Session) luaGetPath(L *lua.LState) int {
	ticket := pathing.Ticket(L.CheckInt64(1))

	status, err := s.paths.Poll(s.context(), ticket)
	if err != nil {
		return s.raise(L, err)
	}
	tbl := L.NewTable()
	tbl.RawSetString("state", lua.LString(status.State))
	if len(status.Waypoints) > 0 {
		waypoints := L.NewTable()
		for _, wp := range status.Waypoints {
			waypoints.Append(positionTable(L, wp))
		}
		tbl.RawSetString("waypoints", waypoints)
	}
	L.Push(tbl)
	return 1
}

func (s *Session) luaWait(L *lua.LState) int {
	ticks := L.CheckInt(1)

	tick, err := s.client.AdvanceTime(s.context(), ticks)
	if err != nil {
		return s.raise(L, err)
	}
	L.Push(lua.LNumber(tick))
	return 1
}

func (s *Session) luaGetPosition(L *lua.LState) int {
	pos, err := s.client.GetPosition(s.context())
	if err != nil {
		return s.raise(L, err)
	}
	L.Push(positionTable(L, pos))
	return 1
}

func (s *Session) luaGetInventory(L *lua.LState) int {
	inv, err := s.client.GetInventory(s.context())
	if err != nil {
		return s.raise(L, err)
	}
	L.Push(countsTable(L, inv))
	return 1
}

func (s *Session) luaProductionTotals(L *lua.LState) int {
	totals, err := s.client.ProductionTotals(s.context())
	if err != nil {
		return s.raise(L, err)
	}
	L.Push(countsTable(L, totals))
	return 1
}

func (s *Session) luaSendMessage(L *lua.LState) int {
	to := L.CheckString(1)
	payload, err := payloadString(L.CheckAny(2))
	if err != nil {
		L.ArgError(2, err.Error())
		return 0
	}

	if err := s.client.SendMessage(s.context(), to, payload); err != nil {
		return s.raise(L, err)
	}
	return 0
}

func (s *Session) luaReadMessages(L *lua.LState) int {
	messages, err := s.client.ReadMessages(s.context())
	if err != nil {
		return s.raise(L, err)
	}
	list := L.NewTable()
	for _, m := range messages {
		list.Append(messageTable(L, m))
	}
	L.Push(list)
	return 1
}

func (s *Session) luaAgentName(L *lua.LState) int {
	L.Push(lua.LString(s.client.Actor()))
	return 1
}

func positionTable(L *lua.LState, p sim.Position) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("x", lua.LNumber(p.X))
	tbl.RawSetString("y", lua.LNumber(p.Y))
	return tbl
}

func entityTable(L *lua.LState, e sim.Entity) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("name", lua.LString(e.Name))
	tbl.RawSetString("x", lua.LNumber(e.Position.X))
	tbl.RawSetString("y", lua.LNumber(e.Position.Y))
	tbl.RawSetString("direction", lua.LString(e.Direction.String()))
	if e.Status != "" {
		tbl.RawSetString("status", lua.LString(e.Status))
	}
	if e.Amount > 0 {
		tbl.RawSetString("amount", lua.LNumber(e.Amount))
	}
	return tbl
}

func countsTable(L *lua.LState, counts map[string]int) *lua.LTable {
	tbl := L.NewTable()
	for item, count := range counts {
		tbl.RawSetString(item, lua.LNumber(count))
	}
	return tbl
}

func observationTable(L *lua.LState, obs *codec.Observation) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("tick", lua.LNumber(obs.Tick))
	tbl.RawSetString("reference", positionTable(L, obs.Reference))
	tbl.RawSetString("radius", lua.LNumber(obs.Radius))

	entities := L.NewTable()
	for _, e := range obs.Entities {
		entities.Append(entityTable(L, e))
	}
	tbl.RawSetString("entities", entities)

	terrain := L.NewTable()
	for _, run := range obs.Terrain {
		row := L.NewTable()
		row.RawSetString("type", lua.LString(run.Type))
		row.RawSetString("start_x", lua.LNumber(run.StartX))
		row.RawSetString("row_y", lua.LNumber(run.RowY))
		row.RawSetString("length", lua.LNumber(run.Length))
		terrain.Append(row)
	}
	tbl.RawSetString("terrain", terrain)

	resources := L.NewTable()
	for _, cluster := range obs.Resources {
		c := L.NewTable()
		c.RawSetString("type", lua.LString(cluster.Type))
		c.RawSetString("anchor_x", lua.LNumber(cluster.AnchorX))
		c.RawSetString("anchor_y", lua.LNumber(cluster.AnchorY))
		c.RawSetString("total", lua.LNumber(cluster.TotalAmount()))
		members := L.NewTable()
		for _, m := range cluster.Members {
			member := L.NewTable()
			member.RawSetString("dx", lua.LNumber(m.DX))
			member.RawSetString("dy", lua.LNumber(m.DY))
			member.RawSetString("amount", lua.LNumber(m.Amount))
			members.Append(member)
		}
		c.RawSetString("members", members)
		resources.Append(c)
	}
	tbl.RawSetString("resources", resources)
	return tbl
}

func messageTable(L *lua.LState, m mailbox.Message) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("id", lua.LString(m.ID))
	tbl.RawSetString("sender", lua.LString(m.Sender))
	tbl.RawSetString("message_type", lua.LString(m.Type))
	tbl.RawSetString("payload", lua.LString(m.Payload))
	if m.Broadcast {
		tbl.RawSetString("broadcast", lua.LTrue)
	}
	if !m.Timestamp.IsZero() {
		tbl.RawSetString("timestamp", lua.LNumber(m.Timestamp.Unix()))
	}
	return tbl
}

// payloadString flattens a message payload argument. Strings pass
// through; tables are carried as their JSON encoding.
func payloadString(v lua.LValue) (string, error) {
	switch v := v.(type) {
	case lua.LString:
		return string(v), nil
	case lua.LNumber, lua.LBool:
		return v.String(), nil
	case *lua.LTable:
		encoded, err := json.Marshal(luaToGo(v))
		if err != nil {
			return "", fmt.Errorf("encode payload: %w", err)
		}
		return string(encoded), nil
	}
	return "", fmt.Errorf("unsupported payload type %s", v.Type())
}

// luaToGo converts a Lua value to its JSON-encodable Go shape. Tables
// with sequential integer keys become arrays, all others maps.
func luaToGo(v lua.LValue) any {
	switch v := v.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if n := v.MaxN(); n > 0 {
			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, luaToGo(v.RawGetInt(i)))
			}
			return arr
		}
		m := map[string]any{}
		v.ForEach(func(k, val lua.LValue) {
			m[lua.LVAsString(k)] = luaToGo(val)
		})
		return m
	}
	return nil
}
