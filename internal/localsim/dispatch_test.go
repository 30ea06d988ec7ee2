package localsim

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"beltline/internal/bridge"
	"beltline/internal/capability"
	"beltline/internal/codec"
	"beltline/internal/pathing"
	"beltline/pkg/sim"
)

func newTestClient(t *testing.T, w *World, actor string) *capability.Client {
	t.Helper()
	return capability.NewClient(bridge.NewLoopback(w), actor)
}

func capCode(t *testing.T, err error) string {
	t.Helper()
	var capErr *capability.CapabilityError
	if !errors.As(err, &capErr) {
		t.Fatalf("got %v, want a capability error", err)
	}
	return capErr.Code
}

func TestPlaceEntityRoundTrip(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	c := newTestClient(t, w, "builder")

	placed, err := c.PlaceEntity(ctx, "stone-furnace", sim.Position{X: 3.4, Y: 4}, sim.East)
	if err != nil {
		t.Fatalf("PlaceEntity: %v", err)
	}
	if placed.Position != (sim.Position{X: 3, Y: 4}) || placed.Direction != sim.East {
		t.Fatalf("placed = %+v, want east-facing at cell (3,4)", placed)
	}

	inv, err := c.GetInventory(ctx)
	if err != nil {
		t.Fatalf("GetInventory: %v", err)
	}
	if inv.Count("stone-furnace") != 1 {
		t.Errorf("furnaces left = %d, want 1", inv.Count("stone-furnace"))
	}

	entities, err := c.GetEntities(ctx, sim.Position{X: 3, Y: 4}, 2)
	if err != nil {
		t.Fatalf("GetEntities: %v", err)
	}
	if len(entities) != 1 || entities[0].Name != "stone-furnace" {
		t.Fatalf("entities = %+v, want the placed furnace", entities)
	}
}

func TestPlaceEntityRotatesInPlace(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	c := newTestClient(t, w, "builder")

	if _, err := c.PlaceEntity(ctx, "stone-furnace", sim.Position{X: 1, Y: 1}, sim.North); err != nil {
		t.Fatalf("PlaceEntity: %v", err)
	}
	rotated, err := c.PlaceEntity(ctx, "stone-furnace", sim.Position{X: 1, Y: 1}, sim.South)
	if err != nil {
		t.Fatalf("PlaceEntity rotate: %v", err)
	}
	if rotated.Direction != sim.South {
		t.Errorf("direction = %v, want south", rotated.Direction)
	}

	inv, _ := c.GetInventory(ctx)
	if inv.Count("stone-furnace") != 1 {
		t.Errorf("furnaces left = %d, want 1 (rotation is free)", inv.Count("stone-furnace"))
	}
}

func TestPlaceEntityRejections(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)

	cases := []struct {
		name string
		args []any
		code string
	}{
		{"outside world", []any{"stone-furnace", 200.0, 0.0, "north"}, capability.ErrCodeInvalidPosition},
		{"unknown direction", []any{"stone-furnace", 1.0, 0.0, "upward"}, capability.ErrCodeInvalidDirection},
		{"drill off patch", []any{"burner-mining-drill", 0.0, 0.0, "north"}, capability.ErrCodeNoResource},
		{"item not in stock", []any{"iron-chest", 1.0, 0.0, "north"}, capability.ErrCodeInventoryEmpty},
		{"missing coordinates", []any{"stone-furnace"}, capability.ErrCodeBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := w.Dispatch(ctx, bridge.Request{
				ID:         "r1",
				Actor:      "builder",
				Capability: capability.CapPlaceEntity,
				Args:       tc.args,
			})
			if resp.OK {
				t.Fatalf("placement accepted, want %s", tc.code)
			}
			if resp.ErrCode != tc.code {
				t.Fatalf("code = %s, want %s", resp.ErrCode, tc.code)
			}
		})
	}

	t.Run("cell held by another entity", func(t *testing.T) {
		c := newTestClient(t, w, "builder")
		if _, err := c.PlaceEntity(ctx, "stone-furnace", sim.Position{X: 2, Y: 2}, sim.North); err != nil {
			t.Fatalf("PlaceEntity: %v", err)
		}
		_, err := c.PlaceEntity(ctx, "transport-belt", sim.Position{X: 2, Y: 2}, sim.North)
		if got := capCode(t, err); got != capability.ErrCodeInvalidPosition {
			t.Fatalf("code = %s, want %s", got, capability.ErrCodeInvalidPosition)
		}
	})
}

func TestRemoveEntityReturnsStock(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	c := newTestClient(t, w, "builder")

	if _, err := c.PlaceEntity(ctx, "stone-furnace", sim.Position{X: 2, Y: 2}, sim.North); err != nil {
		t.Fatalf("PlaceEntity: %v", err)
	}
	count, err := c.RemoveEntity(ctx, "stone-furnace", sim.Position{X: 2, Y: 2})
	if err != nil {
		t.Fatalf("RemoveEntity: %v", err)
	}
	if count != 2 {
		t.Errorf("count after pickup = %d, want 2", count)
	}

	entities, _ := c.GetEntities(ctx, sim.Position{X: 2, Y: 2}, 1)
	if len(entities) != 0 {
		t.Errorf("entities after removal = %+v, want none", entities)
	}

	_, err = c.RemoveEntity(ctx, "stone-furnace", sim.Position{X: 2, Y: 2})
	if got := capCode(t, err); got != capability.ErrCodeNotFound {
		t.Fatalf("code = %s, want %s", got, capability.ErrCodeNotFound)
	}
}

func TestSnapshotFormatsAgree(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	c := newTestClient(t, w, "observer")

	if _, err := c.PlaceEntity(ctx, "stone-furnace", sim.Position{X: 8, Y: 8}, sim.North); err != nil {
		t.Fatalf("PlaceEntity: %v", err)
	}
	if _, err := c.PlaceEntity(ctx, "transport-belt", sim.Position{X: 9, Y: 8}, sim.East); err != nil {
		t.Fatalf("PlaceEntity: %v", err)
	}

	center := sim.Position{X: 10, Y: 10}
	verbose, err := c.Snapshot(ctx, center, 6, capability.SnapshotOptions{})
	if err != nil {
		t.Fatalf("Snapshot verbose: %v", err)
	}
	compact, err := c.Snapshot(ctx, center, 6, capability.SnapshotOptions{Format: codec.FormatCompact})
	if err != nil {
		t.Fatalf("Snapshot compact: %v", err)
	}
	if verbose.Format != codec.FormatVerbose || compact.Format != codec.FormatCompact {
		t.Fatalf("formats = %s / %s", verbose.Format, compact.Format)
	}

	vo, err := verbose.Observation()
	if err != nil {
		t.Fatalf("decode verbose: %v", err)
	}
	co, err := compact.Observation()
	if err != nil {
		t.Fatalf("decode compact: %v", err)
	}

	if vo.Tick != co.Tick || vo.Radius != co.Radius {
		t.Errorf("header mismatch: %d/%d vs %d/%d", vo.Tick, vo.Radius, co.Tick, co.Radius)
	}
	if len(vo.Entities) != 2 || len(co.Entities) != 2 {
		t.Errorf("entity counts = %d / %d, want 2", len(vo.Entities), len(co.Entities))
	}
	if got, want := terrainCells(vo), terrainCells(co); got != want {
		t.Errorf("terrain coverage = %d vs %d cells", got, want)
	}
	if got, want := waterCells(vo), waterCells(co); got != want {
		t.Errorf("water coverage = %d vs %d cells", got, want)
	}
	if got, want := resourceTotal(vo), resourceTotal(co); got != want || got != 45 {
		t.Errorf("resource totals = %d vs %d, want 45", got, want)
	}
}

func terrainCells(o *codec.Observation) int {
	total := 0
	for _, run := range o.Terrain {
		total += run.Length
	}
	return total
}

func waterCells(o *codec.Observation) int {
	total := 0
	for _, run := range o.Terrain {
		if run.Type == "water" {
			total += run.Length
		}
	}
	return total
}

func resourceTotal(o *codec.Observation) int {
	total := 0
	for _, cluster := range o.Resources {
		total += cluster.TotalAmount()
	}
	return total
}

func TestPathTicketLifecycle(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	c := newTestClient(t, w, "scout")

	ticket, err := c.RequestPath(ctx, sim.Position{}, sim.Position{X: 3, Y: 0}, 0)
	if err != nil {
		t.Fatalf("RequestPath: %v", err)
	}
	if ticket <= 0 {
		t.Fatalf("ticket = %d, want positive", ticket)
	}

	poll, err := c.GetPath(ctx, ticket)
	if err != nil {
		t.Fatalf("GetPath: %v", err)
	}
	if poll.State != string(pathing.StatePending) {
		t.Fatalf("state before delay = %s, want pending", poll.State)
	}

	if _, err := c.AdvanceTime(ctx, 2); err != nil {
		t.Fatalf("AdvanceTime: %v", err)
	}
	poll, err = c.GetPath(ctx, ticket)
	if err != nil {
		t.Fatalf("GetPath: %v", err)
	}
	if poll.State != string(pathing.StateSuccess) {
		t.Fatalf("state after delay = %s, want success", poll.State)
	}
	if n := len(poll.Waypoints); n == 0 || poll.Waypoints[n-1] != (sim.Position{X: 3, Y: 0}) {
		t.Fatalf("waypoints = %v, want a path ending at (3,0)", poll.Waypoints)
	}

	// Delivery forgets the ticket.
	poll, _ = c.GetPath(ctx, ticket)
	if poll.State != string(pathing.StateInvalid) {
		t.Errorf("second poll = %s, want invalid", poll.State)
	}
	poll, _ = c.GetPath(ctx, 9999)
	if poll.State != string(pathing.StateInvalid) {
		t.Errorf("unknown ticket = %s, want invalid", poll.State)
	}
}

func TestPathUnreachableGoal(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	c := newTestClient(t, w, "scout")

	// (4,4) is open water for this seed.
	ticket, err := c.RequestPath(ctx, sim.Position{}, sim.Position{X: 4, Y: 4}, 0)
	if err != nil {
		t.Fatalf("RequestPath: %v", err)
	}
	if _, err := c.AdvanceTime(ctx, 2); err != nil {
		t.Fatalf("AdvanceTime: %v", err)
	}
	poll, err := c.GetPath(ctx, ticket)
	if err != nil {
		t.Fatalf("GetPath: %v", err)
	}
	if poll.State != string(pathing.StateNotFound) {
		t.Errorf("state = %s, want not_found", poll.State)
	}
	if poll.Waypoints != nil {
		t.Errorf("waypoints = %v, want none", poll.Waypoints)
	}
}

func TestMoveToResolvesInstantly(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	c := newTestClient(t, w, "walker")

	pos, err := c.MoveTo(ctx, sim.Position{X: 3, Y: 0}, capability.MoveOptions{})
	if err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	if math.Hypot(pos.X-3, pos.Y) > 0.5 {
		t.Fatalf("landed at %v, want near (3,0)", pos)
	}

	got, err := c.GetPosition(ctx)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if got != pos {
		t.Errorf("GetPosition = %v, want %v", got, pos)
	}
}

func TestMoveToQueuedWalksOnTicks(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	c := newTestClient(t, w, "walker")

	pos, err := c.MoveTo(ctx, sim.Position{X: 2, Y: 0}, capability.MoveOptions{Queued: true})
	if err != nil {
		t.Fatalf("MoveTo queued: %v", err)
	}
	if pos != (sim.Position{}) {
		t.Fatalf("queued move returned %v, want the unchanged spawn position", pos)
	}

	if _, err := c.AdvanceTime(ctx, 4); err != nil {
		t.Fatalf("AdvanceTime: %v", err)
	}
	got, err := c.GetPosition(ctx)
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if math.Hypot(got.X-2, got.Y) > 0.5 {
		t.Errorf("after 4 ticks at %v, want near (2,0)", got)
	}
}

func TestMoveToLaysAlongPath(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	c := newTestClient(t, w, "walker")

	if _, err := c.MoveTo(ctx, sim.Position{X: 3, Y: 0}, capability.MoveOptions{Lay: "transport-belt"}); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}

	entities, err := c.GetEntities(ctx, sim.Position{X: 1, Y: 0}, 3)
	if err != nil {
		t.Fatalf("GetEntities: %v", err)
	}
	if len(entities) != 3 {
		t.Fatalf("laid %d belts, want 3", len(entities))
	}
	for i, e := range entities {
		want := sim.Position{X: float64(i), Y: 0}
		if e.Position != want || e.Direction != sim.East {
			t.Errorf("belt %d = %v facing %v, want %v facing east", i, e.Position, e.Direction, want)
		}
	}

	inv, _ := c.GetInventory(ctx)
	if inv.Count("transport-belt") != 17 {
		t.Errorf("belts left = %d, want 17", inv.Count("transport-belt"))
	}
}

func TestMoveToSupersedesPathTickets(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	c := newTestClient(t, w, "walker")

	ticket, err := c.RequestPath(ctx, sim.Position{}, sim.Position{X: 3, Y: 3}, 0)
	if err != nil {
		t.Fatalf("RequestPath: %v", err)
	}
	if _, err := c.MoveTo(ctx, sim.Position{X: 1, Y: 0}, capability.MoveOptions{}); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}

	poll, err := c.GetPath(ctx, ticket)
	if err != nil {
		t.Fatalf("GetPath: %v", err)
	}
	if poll.State != string(pathing.StateInvalid) {
		t.Errorf("ticket after movement = %s, want invalid", poll.State)
	}
}

func TestMoveToUnreachableLeavesActor(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	c := newTestClient(t, w, "walker")

	_, err := c.MoveTo(ctx, sim.Position{X: 4, Y: 4}, capability.MoveOptions{})
	if got := capCode(t, err); got != capability.ErrCodeNotFound {
		t.Fatalf("code = %s, want %s", got, capability.ErrCodeNotFound)
	}

	pos, _ := c.GetPosition(ctx)
	if pos != (sim.Position{}) {
		t.Errorf("actor at %v after failed move, want spawn", pos)
	}
}

func TestAdvanceTimeAccumulates(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	c := newTestClient(t, w, "clock")

	tick, err := c.AdvanceTime(ctx, 3)
	if err != nil {
		t.Fatalf("AdvanceTime: %v", err)
	}
	if tick != 3 {
		t.Errorf("tick = %d, want 3", tick)
	}
	tick, err = c.AdvanceTime(ctx, 2)
	if err != nil {
		t.Fatalf("AdvanceTime: %v", err)
	}
	if tick != 5 {
		t.Errorf("tick = %d, want 5", tick)
	}

	// Zero ticks never leaves the client: the stub rejects it before
	// transmission.
	_, err = c.AdvanceTime(ctx, 0)
	var argErr *capability.ValidationError
	if !errors.As(err, &argErr) {
		t.Fatalf("error = %v, want a client-side validation error", err)
	}

	// A frame that skips the stub's validation is still rejected
	// sim-side.
	resp := w.Dispatch(ctx, bridge.Request{Actor: "clock", Capability: capability.CapAdvanceTime, Args: []any{0}})
	if resp.OK || resp.ErrCode != capability.ErrCodeBadRequest {
		t.Fatalf("response = %+v, want %s rejection", resp, capability.ErrCodeBadRequest)
	}
}

func TestInventoryReplacedWholesale(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	c := newTestClient(t, w, "chest")

	if err := c.SetInventory(ctx, sim.Inventory{"iron-plate": 5}); err != nil {
		t.Fatalf("SetInventory: %v", err)
	}
	inv, err := c.GetInventory(ctx)
	if err != nil {
		t.Fatalf("GetInventory: %v", err)
	}
	if len(inv) != 1 || inv.Count("iron-plate") != 5 {
		t.Errorf("inventory = %v, want exactly 5 iron-plate", inv)
	}
}

func TestProductionTotalsAccumulate(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	c := newTestClient(t, w, "miner")

	totals, err := c.ProductionTotals(ctx)
	if err != nil {
		t.Fatalf("ProductionTotals: %v", err)
	}
	if len(totals) != 0 {
		t.Fatalf("initial totals = %v, want empty", totals)
	}

	if _, err := c.PlaceEntity(ctx, "burner-mining-drill", sim.Position{X: 10, Y: 10}, sim.North); err != nil {
		t.Fatalf("PlaceEntity: %v", err)
	}
	if _, err := c.AdvanceTime(ctx, 5); err != nil {
		t.Fatalf("AdvanceTime: %v", err)
	}

	totals, _ = c.ProductionTotals(ctx)
	if totals["burner-mining-drill"] != 1 {
		t.Errorf("drill count = %d, want 1", totals["burner-mining-drill"])
	}
	if totals["iron-ore"] != 1 {
		t.Errorf("iron-ore after one pulse = %d, want 1", totals["iron-ore"])
	}
}

func TestMessagingBetweenActors(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	lb := bridge.NewLoopback(w)
	alice := capability.NewClient(lb, "alice")
	bob := capability.NewClient(lb, "bob")
	carol := capability.NewClient(lb, "carol")

	// First contact registers each actor with the exchange.
	for _, c := range []*capability.Client{alice, bob, carol} {
		if _, err := c.GetPosition(ctx); err != nil {
			t.Fatalf("GetPosition %s: %v", c.Actor(), err)
		}
	}

	if err := alice.SendMessage(ctx, "bob", "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	messages, err := bob.ReadMessages(ctx)
	if err != nil {
		t.Fatalf("ReadMessages: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("bob got %d messages, want 1", len(messages))
	}
	if messages[0].Sender != "alice" || messages[0].Payload != "hello" || messages[0].Broadcast {
		t.Errorf("message = %+v, want direct hello from alice", messages[0])
	}

	messages, _ = bob.ReadMessages(ctx)
	if len(messages) != 0 {
		t.Errorf("second drain returned %d messages, want 0", len(messages))
	}

	resp := w.Dispatch(ctx, bridge.Request{
		ID:         "b1",
		Actor:      "alice",
		Capability: capability.CapSendMessage,
		Args:       []any{capability.Broadcast, "meeting at spawn"},
	})
	if !resp.OK {
		t.Fatalf("broadcast rejected: %s %s", resp.ErrCode, resp.Err)
	}
	var delivered struct {
		Delivered int `json:"delivered"`
	}
	if err := json.Unmarshal(resp.Result, &delivered); err != nil {
		t.Fatalf("decode broadcast result: %v", err)
	}
	if delivered.Delivered != 2 {
		t.Errorf("delivered = %d, want 2 (sender excluded)", delivered.Delivered)
	}

	for _, c := range []*capability.Client{bob, carol} {
		messages, err := c.ReadMessages(ctx)
		if err != nil {
			t.Fatalf("ReadMessages %s: %v", c.Actor(), err)
		}
		if len(messages) != 1 || !messages[0].Broadcast {
			t.Errorf("%s broadcast copy = %+v", c.Actor(), messages)
		}
	}
}

func TestResetRestoresEpisode(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	lb := bridge.NewLoopback(w)
	c := capability.NewClient(lb, "builder")
	bob := capability.NewClient(lb, "bob")

	if _, err := c.PlaceEntity(ctx, "stone-furnace", sim.Position{X: 5, Y: 5}, sim.North); err != nil {
		t.Fatalf("PlaceEntity: %v", err)
	}
	if _, err := c.MoveTo(ctx, sim.Position{X: 3, Y: 0}, capability.MoveOptions{}); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	if err := c.SendMessage(ctx, "bob", "before reset"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	ticket, err := c.RequestPath(ctx, sim.Position{}, sim.Position{X: 3, Y: 3}, 0)
	if err != nil {
		t.Fatalf("RequestPath: %v", err)
	}

	if err := c.Reset(ctx, capability.ResetOptions{ClearEntities: true}); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	entities, _ := c.GetEntities(ctx, sim.Position{X: 5, Y: 5}, 1)
	if len(entities) != 0 {
		t.Errorf("entities after reset = %+v, want none", entities)
	}
	pos, _ := c.GetPosition(ctx)
	if pos != (sim.Position{}) {
		t.Errorf("position after reset = %v, want spawn", pos)
	}
	inv, _ := c.GetInventory(ctx)
	if inv.Count("stone-furnace") != 2 {
		t.Errorf("furnaces after reset = %d, want starting count 2", inv.Count("stone-furnace"))
	}
	totals, _ := c.ProductionTotals(ctx)
	if len(totals) != 0 {
		t.Errorf("production totals after reset = %v, want empty", totals)
	}
	poll, _ := c.GetPath(ctx, ticket)
	if poll.State != string(pathing.StateInvalid) {
		t.Errorf("old ticket after reset = %s, want invalid", poll.State)
	}
	messages, _ := bob.ReadMessages(ctx)
	if len(messages) != 0 {
		t.Errorf("bob kept %d messages across reset", len(messages))
	}
}

func TestDispatchRejectsMalformedRequests(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)

	resp := w.Dispatch(ctx, bridge.Request{ID: "u1", Actor: "a", Capability: "teleport"})
	if resp.OK || resp.ErrCode != capability.ErrCodeUnknownCapability {
		t.Errorf("unknown capability: OK=%v code=%s", resp.OK, resp.ErrCode)
	}

	resp = w.Dispatch(ctx, bridge.Request{ID: "u2", Capability: capability.CapGetPosition})
	if resp.OK || resp.ErrCode != capability.ErrCodeBadRequest {
		t.Errorf("missing actor: OK=%v code=%s", resp.OK, resp.ErrCode)
	}
}

func TestSetResearchTogglesFlag(t *testing.T) {
	ctx := context.Background()
	w := newTestWorld(t)
	c := newTestClient(t, w, "lab")

	if err := c.SetResearch(ctx, true); err != nil {
		t.Fatalf("SetResearch: %v", err)
	}
	w.mu.Lock()
	research := w.research
	w.mu.Unlock()
	if !research {
		t.Errorf("research flag not set")
	}

	if err := c.SetResearch(ctx, false); err != nil {
		t.Fatalf("SetResearch: %v", err)
	}
	w.mu.Lock()
	research = w.research
	w.mu.Unlock()
	if research {
		t.Errorf("research flag not cleared")
	}
}
