package localsim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"beltline/internal/bridge"
	"beltline/internal/capability"
	"beltline/internal/codec"
	"beltline/internal/mailbox"
	"beltline/internal/motion"
	"beltline/pkg/sim"
)

var _ bridge.Handler = (*World)(nil)

// Dispatch routes one capability request. Unknown actors register on
// first contact; rejections come back in-band with a capability error
// code, never as transport failures.
func (w *World) Dispatch(ctx context.Context, req bridge.Request) bridge.Response {
	if req.Actor == "" {
		return errResponse(req, capability.ErrCodeBadRequest, "missing actor")
	}
	w.ensureActor(req.Actor)
	if err := w.mail.Register(ctx, req.Actor); err != nil {
		return errResponse(req, capability.ErrCodeInternal, err.Error())
	}

	result, code, msg := w.handle(ctx, req)
	if code != "" {
		w.logger.Debug("Capability rejected",
			"actor", req.Actor,
			"capability", req.Capability,
			"code", code,
			"reason", msg)
		return errResponse(req, code, msg)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return errResponse(req, capability.ErrCodeInternal, fmt.Sprintf("encode result: %v", err))
	}
	return bridge.Response{ID: req.ID, OK: true, Result: raw}
}

func errResponse(req bridge.Request, code, msg string) bridge.Response {
	return bridge.Response{ID: req.ID, OK: false, ErrCode: code, Err: msg}
}

// handle executes one capability. A non-empty code rejects the call.
func (w *World) handle(ctx context.Context, req bridge.Request) (result any, code, msg string) {
	args := argList(req.Args)
	switch req.Capability {
	case capability.CapPlaceEntity:
		return w.handlePlaceEntity(req.Actor, args)
	case capability.CapRemoveEntity:
		return w.handleRemoveEntity(req.Actor, args)
	case capability.CapGetEntities:
		return w.handleGetEntities(args)
	case capability.CapSnapshot:
		return w.handleSnapshot(args)
	case capability.CapRequestPath:
		return w.handleRequestPath(req.Actor, args)
	case capability.CapGetPath:
		return w.handleGetPath(args)
	case capability.CapMoveTo:
		return w.handleMoveTo(req.Actor, args)
	case capability.CapAdvanceTime:
		return w.handleAdvanceTime(args)
	case capability.CapGetPosition:
		pos, _ := w.Position(req.Actor)
		return pos, "", ""
	case capability.CapGetInventory:
		return w.inventoryOf(req.Actor), "", ""
	case capability.CapSetInventory:
		return w.handleSetInventory(req.Actor, args)
	case capability.CapProductionTotals:
		return w.productionTotals(), "", ""
	case capability.CapSendMessage:
		return w.handleSendMessage(ctx, req.Actor, args)
	case capability.CapReadMessages:
		return w.handleReadMessages(ctx, req.Actor)
	case capability.CapSetResearch:
		return w.handleSetResearch(args)
	case capability.CapReset:
		return w.handleReset(ctx, args)
	}
	return nil, capability.ErrCodeUnknownCapability, fmt.Sprintf("unknown capability %q", req.Capability)
}

func (w *World) handlePlaceEntity(actor string, args argList) (any, string, string) {
	name, err := args.str(0)
	var x, y float64
	if err == nil {
		x, err = args.float(1)
	}
	if err == nil {
		y, err = args.float(2)
	}
	dirName := "north"
	if err == nil && args.has(3) {
		dirName, err = args.str(3)
	}
	if err != nil {
		return nil, capability.ErrCodeBadRequest, err.Error()
	}
	dir, err := sim.ParseDirection(dirName)
	if err != nil {
		return nil, capability.ErrCodeInvalidDirection, err.Error()
	}

	pos := sim.Position{X: x, Y: y}
	cell := pos.Cell()
	if !w.inBounds(int(cell.X), int(cell.Y)) {
		return nil, capability.ErrCodeInvalidPosition, fmt.Sprintf("%v is outside the world", pos)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	key := cellKey{int(cell.X), int(cell.Y)}
	if isDrill(name) {
		if d, ok := w.deposits[key]; !ok || d.amount == 0 {
			return nil, capability.ErrCodeNoResource, fmt.Sprintf("no deposit under %v", cell)
		}
	}
	if existing, ok := w.entities[key]; ok {
		if existing.Name != name {
			return nil, capability.ErrCodeInvalidPosition, fmt.Sprintf("cell %v held by %s", cell, existing.Name)
		}
		existing.Direction = dir
		return *existing, "", ""
	}

	a := w.ensureActorLocked(actor)
	if !a.inv.Take(name, 1) {
		return nil, capability.ErrCodeInventoryEmpty, fmt.Sprintf("no %s in inventory", name)
	}
	placed := &sim.Entity{Name: name, Position: cell, Direction: dir}
	if isDrill(name) {
		placed.Status = "working"
	}
	w.entities[key] = placed
	w.produced[name]++
	return *placed, "", ""
}

func (w *World) handleRemoveEntity(actor string, args argList) (any, string, string) {
	name, err := args.str(0)
	var x, y float64
	if err == nil {
		x, err = args.float(1)
	}
	if err == nil {
		y, err = args.float(2)
	}
	if err != nil {
		return nil, capability.ErrCodeBadRequest, err.Error()
	}

	cell := sim.Position{X: x, Y: y}.Cell()
	key := cellKey{int(cell.X), int(cell.Y)}

	w.mu.Lock()
	defer w.mu.Unlock()
	existing, ok := w.entities[key]
	if !ok || existing.Name != name {
		return nil, capability.ErrCodeNotFound, fmt.Sprintf("no %s at %v", name, cell)
	}
	delete(w.entities, key)
	a := w.ensureActorLocked(actor)
	a.inv.Add(name, 1)
	return map[string]int{"count": a.inv.Count(name)}, "", ""
}

func (w *World) handleGetEntities(args argList) (any, string, string) {
	x, err := args.float(0)
	var y float64
	var radius int
	if err == nil {
		y, err = args.float(1)
	}
	if err == nil {
		radius, err = args.integer(2)
	}
	if err != nil {
		return nil, capability.ErrCodeBadRequest, err.Error()
	}
	if radius < 0 {
		return nil, capability.ErrCodeBadRequest, fmt.Sprintf("negative radius %d", radius)
	}

	box := sim.Around(sim.Position{X: x, Y: y}.Cell(), float64(radius))
	entities := w.EntitiesWithin(box)
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Position.Y != entities[j].Position.Y {
			return entities[i].Position.Y < entities[j].Position.Y
		}
		return entities[i].Position.X < entities[j].Position.X
	})
	if entities == nil {
		entities = []sim.Entity{}
	}
	return entities, "", ""
}

func (w *World) handleSnapshot(args argList) (any, string, string) {
	x, err := args.float(0)
	var y float64
	var radius int
	if err == nil {
		y, err = args.float(1)
	}
	if err == nil {
		radius, err = args.integer(2)
	}
	format := string(codec.FormatVerbose)
	if err == nil && args.has(3) {
		format, err = args.str(3)
	}
	includeStatus := false
	if err == nil && args.has(4) {
		includeStatus, err = args.boolean(4)
	}
	if err != nil {
		return nil, capability.ErrCodeBadRequest, err.Error()
	}

	parsed, err := codec.ParseFormat(format)
	if err != nil {
		return nil, capability.ErrCodeBadRequest, err.Error()
	}
	obs, err := codec.Build(w, sim.Position{X: x, Y: y}, radius, codec.BuildOptions{IncludeStatus: includeStatus})
	if err != nil {
		return nil, capability.ErrCodeBadRequest, err.Error()
	}
	frame, err := codec.Encode(obs, parsed)
	if err != nil {
		return nil, capability.ErrCodeInternal, err.Error()
	}
	return map[string]string{"format": string(parsed), "frame": frame}, "", ""
}

func (w *World) handleRequestPath(actor string, args argList) (any, string, string) {
	coords := make([]float64, 4)
	var err error
	for i := range coords {
		coords[i], err = args.float(i)
		if err != nil {
			return nil, capability.ErrCodeBadRequest, err.Error()
		}
	}
	radius := 0.0
	if args.has(4) {
		if radius, err = args.float(4); err != nil {
			return nil, capability.ErrCodeBadRequest, err.Error()
		}
	}

	start := sim.Position{X: coords[0], Y: coords[1]}
	goal := sim.Position{X: coords[2], Y: coords[3]}
	ticket := w.planner.Submit(actor, start, goal, radius)
	return map[string]int64{"ticket": ticket}, "", ""
}

func (w *World) handleGetPath(args argList) (any, string, string) {
	ticket, err := args.int64At(0)
	if err != nil {
		return nil, capability.ErrCodeBadRequest, err.Error()
	}
	status := w.planner.Poll(ticket)
	poll := capability.PathPoll{State: string(status.State), Waypoints: status.Waypoints}
	return poll, "", ""
}

func (w *World) handleMoveTo(actor string, args argList) (any, string, string) {
	x, err := args.float(0)
	var y float64
	if err == nil {
		y, err = args.float(1)
	}
	lay := ""
	if err == nil && args.has(2) {
		lay, err = args.str(2)
	}
	modeName := ""
	if err == nil && args.has(3) {
		modeName, err = args.str(3)
	}
	queued := false
	if err == nil && args.has(4) {
		queued, err = args.boolean(4)
	}
	if err != nil {
		return nil, capability.ErrCodeBadRequest, err.Error()
	}
	mode, err := motion.ParseLayMode(modeName)
	if err != nil {
		return nil, capability.ErrCodeBadRequest, err.Error()
	}

	// A new movement command supersedes the actor's pending path
	// tickets along with any walking queue.
	w.planner.CancelActor(actor)

	result, err := w.executor.Move(motion.MoveCommand{
		Actor:  actor,
		Dest:   sim.Position{X: x, Y: y},
		Lay:    lay,
		Mode:   mode,
		Queued: queued,
		Speed:  w.cfg.WalkSpeed,
	})
	switch {
	case errors.Is(err, motion.ErrUnknownActor):
		return nil, capability.ErrCodeNotFound, err.Error()
	case errors.Is(err, motion.ErrUnreachable):
		return nil, capability.ErrCodeNotFound, err.Error()
	case errors.Is(err, motion.ErrStockOut):
		return nil, capability.ErrCodeInventoryEmpty, err.Error()
	case err != nil:
		return nil, capability.ErrCodeInvalidPosition, err.Error()
	}
	return result.Position, "", ""
}

func (w *World) handleAdvanceTime(args argList) (any, string, string) {
	ticks, err := args.integer(0)
	if err != nil {
		return nil, capability.ErrCodeBadRequest, err.Error()
	}
	if ticks < 1 {
		return nil, capability.ErrCodeBadRequest, fmt.Sprintf("ticks must be positive, got %d", ticks)
	}
	var now int64
	for i := 0; i < ticks; i++ {
		now = w.Step()
	}
	return map[string]int64{"tick": now}, "", ""
}

func (w *World) inventoryOf(actor string) sim.Inventory {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ensureActorLocked(actor).inv.Clone()
}

func (w *World) handleSetInventory(actor string, args argList) (any, string, string) {
	counts, err := args.counts(0)
	if err != nil {
		return nil, capability.ErrCodeBadRequest, err.Error()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ensureActorLocked(actor).inv = counts
	return struct{}{}, "", ""
}

func (w *World) productionTotals() map[string]int {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]int, len(w.produced))
	for item, count := range w.produced {
		out[item] = count
	}
	return out
}

func (w *World) handleSendMessage(ctx context.Context, actor string, args argList) (any, string, string) {
	recipient, err := args.str(0)
	var payload string
	if err == nil {
		payload, err = args.str(1)
	}
	if err != nil {
		return nil, capability.ErrCodeBadRequest, err.Error()
	}

	msg := mailbox.Message{Sender: actor, Recipient: recipient, Payload: payload}
	if recipient == capability.Broadcast {
		delivered, err := w.mail.Broadcast(ctx, msg)
		if err != nil {
			return nil, capability.ErrCodeInternal, err.Error()
		}
		return map[string]int{"delivered": delivered}, "", ""
	}
	if err := w.mail.Send(ctx, msg); err != nil {
		return nil, capability.ErrCodeInternal, err.Error()
	}
	return map[string]int{"delivered": 1}, "", ""
}

func (w *World) handleReadMessages(ctx context.Context, actor string) (any, string, string) {
	messages, err := w.mail.Drain(ctx, actor)
	if err != nil {
		return nil, capability.ErrCodeInternal, err.Error()
	}
	if messages == nil {
		messages = []mailbox.Message{}
	}
	return messages, "", ""
}

func (w *World) handleSetResearch(args argList) (any, string, string) {
	all, err := args.boolean(0)
	if err != nil {
		return nil, capability.ErrCodeBadRequest, err.Error()
	}
	w.mu.Lock()
	w.research = all
	w.mu.Unlock()
	return struct{}{}, "", ""
}

func (w *World) handleReset(ctx context.Context, args argList) (any, string, string) {
	var opts capability.ResetOptions
	if args.has(0) {
		raw, err := json.Marshal(args[0])
		if err == nil {
			err = json.Unmarshal(raw, &opts)
		}
		if err != nil {
			return nil, capability.ErrCodeBadRequest, fmt.Sprintf("reset options: %v", err)
		}
	}
	w.resetWorld(opts)
	if err := w.mail.Clear(ctx); err != nil {
		return nil, capability.ErrCodeInternal, err.Error()
	}
	w.logger.Info("World reset",
		"clear_entities", opts.ClearEntities,
		"research_all", opts.ResearchAll)
	return struct{}{}, "", ""
}

// argList reads positional arguments that may arrive as native Go
// values over the loopback or as JSON-decoded values off the wire.
type argList []any

func (a argList) has(i int) bool { return i < len(a) }

func (a argList) str(i int) (string, error) {
	if !a.has(i) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	s, ok := a[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %d: want string, got %T", i, a[i])
	}
	return s, nil
}

func (a argList) float(i int) (float64, error) {
	if !a.has(i) {
		return 0, fmt.Errorf("missing argument %d", i)
	}
	switch v := a[i].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	}
	return 0, fmt.Errorf("argument %d: want number, got %T", i, a[i])
}

func (a argList) integer(i int) (int, error) {
	f, err := a.float(i)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("argument %d: want integer, got %g", i, f)
	}
	return int(f), nil
}

func (a argList) int64At(i int) (int64, error) {
	f, err := a.float(i)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("argument %d: want integer, got %g", i, f)
	}
	return int64(f), nil
}

func (a argList) boolean(i int) (bool, error) {
	if !a.has(i) {
		return false, fmt.Errorf("missing argument %d", i)
	}
	b, ok := a[i].(bool)
	if !ok {
		return false, fmt.Errorf("argument %d: want bool, got %T", i, a[i])
	}
	return b, nil
}

func (a argList) counts(i int) (sim.Inventory, error) {
	if !a.has(i) {
		return nil, fmt.Errorf("missing argument %d", i)
	}
	out := sim.Inventory{}
	switch v := a[i].(type) {
	case sim.Inventory:
		return v.Clone(), nil
	case map[string]int:
		for item, count := range v {
			out[item] = count
		}
		return out, nil
	case map[string]any:
		for item, raw := range v {
			f, ok := raw.(float64)
			if !ok || f != math.Trunc(f) || f < 0 {
				return nil, fmt.Errorf("argument %d: bad count for %s", i, item)
			}
			out[item] = int(f)
		}
		return out, nil
	}
	return nil, fmt.Errorf("argument %d: want item counts, got %T", i, a[i])
}
