package motion

import (
	"errors"
	"fmt"
	"testing"

	"beltline/pkg/sim"
)

type placedEntity struct {
	name string
	dir  sim.Direction
}

// fakeDriver tracks positions, laid entities, and per-item stock.
type fakeDriver struct {
	positions map[string]sim.Position
	placed    map[sim.Position]placedEntity
	stock     map[string]int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		positions: map[string]sim.Position{},
		placed:    map[sim.Position]placedEntity{},
		stock:     map[string]int{},
	}
}

func (d *fakeDriver) Position(actor string) (sim.Position, bool) {
	pos, ok := d.positions[actor]
	return pos, ok
}

func (d *fakeDriver) SetPosition(actor string, pos sim.Position) {
	d.positions[actor] = pos
}

func (d *fakeDriver) PlaceLaid(actor, name string, cell sim.Position, dir sim.Direction) error {
	if existing, ok := d.placed[cell]; ok {
		if existing.name != name {
			return fmt.Errorf("cell %v held by %s", cell, existing.name)
		}
		d.placed[cell] = placedEntity{name: name, dir: dir}
		return nil
	}
	if d.stock[name] <= 0 {
		return fmt.Errorf("lay %s: %w", name, ErrStockOut)
	}
	d.stock[name]--
	d.placed[cell] = placedEntity{name: name, dir: dir}
	return nil
}

// linePath returns unit steps along one axis toward dest.
type linePath struct{}

func (linePath) FindPath(start, goal sim.Position, radius float64) []sim.Position {
	cur := start.Cell()
	end := goal.Cell()
	var out []sim.Position
	for cur != end {
		switch {
		case cur.X < end.X:
			cur.X++
		case cur.X > end.X:
			cur.X--
		case cur.Y < end.Y:
			cur.Y++
		default:
			cur.Y--
		}
		out = append(out, cur)
	}
	if out == nil {
		out = []sim.Position{cur}
	}
	return out
}

// rawPath replays scripted waypoints; nil means unreachable.
type rawPath struct{ waypoints []sim.Position }

func (p rawPath) FindPath(start, goal sim.Position, radius float64) []sim.Position {
	return p.waypoints
}

func newExecutor(d *fakeDriver, p PathFinder) *Executor {
	return NewExecutor(d, p, NewScheduler(d, DefaultEpsilon, 0.15, discardLogger()))
}

func TestInstantMoveReachesDestination(t *testing.T) {
	d := newFakeDriver()
	d.positions["runner"] = sim.Position{X: 0, Y: 0}
	e := newExecutor(d, linePath{})

	result, err := e.Move(MoveCommand{Actor: "runner", Dest: sim.Position{X: 4, Y: 0}})
	if err != nil {
		t.Fatalf("move failed: %v", err)
	}
	if result.Position != (sim.Position{X: 4, Y: 0}) {
		t.Errorf("result position = %v, want (4, 0)", result.Position)
	}
	if d.positions["runner"] != (sim.Position{X: 4, Y: 0}) {
		t.Errorf("driver position = %v, want (4, 0)", d.positions["runner"])
	}
	if result.Queued {
		t.Error("instant move reported queued")
	}
}

func TestInstantMoveUnreachable(t *testing.T) {
	d := newFakeDriver()
	d.positions["runner"] = sim.Position{X: 1, Y: 1}
	e := newExecutor(d, rawPath{})

	_, err := e.Move(MoveCommand{Actor: "runner", Dest: sim.Position{X: 9, Y: 9}})
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("error = %v, want ErrUnreachable", err)
	}
	if d.positions["runner"] != (sim.Position{X: 1, Y: 1}) {
		t.Errorf("failed move shifted the actor to %v", d.positions["runner"])
	}
}

func TestMoveUnknownActor(t *testing.T) {
	e := newExecutor(newFakeDriver(), linePath{})
	if _, err := e.Move(MoveCommand{Actor: "ghost"}); !errors.Is(err, ErrUnknownActor) {
		t.Fatalf("error = %v, want ErrUnknownActor", err)
	}
}

func TestLayTrailingStraightLine(t *testing.T) {
	d := newFakeDriver()
	d.positions["layer"] = sim.Position{X: 0, Y: 0}
	d.stock["transport-belt"] = 10
	e := newExecutor(d, linePath{})

	result, err := e.Move(MoveCommand{Actor: "layer", Dest: sim.Position{X: 3, Y: 0}, Lay: "transport-belt", Mode: LayTrailing})
	if err != nil {
		t.Fatalf("move failed: %v", err)
	}
	if result.Laid != 3 {
		t.Errorf("laid = %d, want 3", result.Laid)
	}

	for _, x := range []float64{0, 1, 2} {
		got, ok := d.placed[sim.Position{X: x, Y: 0}]
		if !ok {
			t.Fatalf("no entity at (%g, 0)", x)
		}
		if got.dir != sim.East {
			t.Errorf("entity at (%g, 0) faces %v, want east", x, got.dir)
		}
	}
	if _, ok := d.placed[sim.Position{X: 3, Y: 0}]; ok {
		t.Error("trailing mode covered the destination cell")
	}
}

func TestLayTrailingPreBendsCorner(t *testing.T) {
	d := newFakeDriver()
	d.positions["layer"] = sim.Position{X: 0, Y: 0}
	d.stock["transport-belt"] = 10
	e := newExecutor(d, rawPath{waypoints: []sim.Position{{X: 1, Y: 0}, {X: 2, Y: 0}, {X: 2, Y: 1}}})

	if _, err := e.Move(MoveCommand{Actor: "layer", Dest: sim.Position{X: 2, Y: 1}, Lay: "transport-belt", Mode: LayTrailing}); err != nil {
		t.Fatalf("move failed: %v", err)
	}

	want := map[sim.Position]sim.Direction{
		{X: 0, Y: 0}: sim.East,
		{X: 1, Y: 0}: sim.South, // reoriented when the walk turned
		{X: 2, Y: 0}: sim.South,
	}
	for cell, dir := range want {
		got, ok := d.placed[cell]
		if !ok {
			t.Fatalf("no entity at %v", cell)
		}
		if got.dir != dir {
			t.Errorf("entity at %v faces %v, want %v", cell, got.dir, dir)
		}
	}
	if len(d.placed) != 3 {
		t.Errorf("placed %d entities, want 3", len(d.placed))
	}
}

func TestLayImmediateStampsEnteredCells(t *testing.T) {
	d := newFakeDriver()
	d.positions["layer"] = sim.Position{X: 0, Y: 0}
	d.stock["transport-belt"] = 10
	e := newExecutor(d, rawPath{waypoints: []sim.Position{{X: 1, Y: 0}, {X: 2, Y: 0}, {X: 2, Y: 1}}})

	if _, err := e.Move(MoveCommand{Actor: "layer", Dest: sim.Position{X: 2, Y: 1}, Lay: "transport-belt", Mode: LayImmediate}); err != nil {
		t.Fatalf("move failed: %v", err)
	}

	// Same walk as the trailing test, different footprint and no
	// reorientation at the corner approach.
	want := map[sim.Position]sim.Direction{
		{X: 1, Y: 0}: sim.East,
		{X: 2, Y: 0}: sim.East,
		{X: 2, Y: 1}: sim.South,
	}
	for cell, dir := range want {
		got, ok := d.placed[cell]
		if !ok {
			t.Fatalf("no entity at %v", cell)
		}
		if got.dir != dir {
			t.Errorf("entity at %v faces %v, want %v", cell, got.dir, dir)
		}
	}
	if _, ok := d.placed[sim.Position{X: 0, Y: 0}]; ok {
		t.Error("immediate mode covered the start cell")
	}
}

func TestDiagonalBendFollowsSignAgreement(t *testing.T) {
	tests := []struct {
		name       string
		dest       sim.Position
		wantCorner sim.Position
		notCorner  sim.Position
	}{
		{"matching signs walk x first", sim.Position{X: 1, Y: 1}, sim.Position{X: 1, Y: 0}, sim.Position{X: 0, Y: 1}},
		{"opposing signs walk y first", sim.Position{X: 1, Y: -1}, sim.Position{X: 0, Y: -1}, sim.Position{X: 1, Y: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDriver()
			d.positions["layer"] = sim.Position{X: 0, Y: 0}
			d.stock["transport-belt"] = 10
			e := newExecutor(d, rawPath{waypoints: []sim.Position{tt.dest}})

			result, err := e.Move(MoveCommand{Actor: "layer", Dest: tt.dest, Lay: "transport-belt", Mode: LayImmediate})
			if err != nil {
				t.Fatalf("move failed: %v", err)
			}
			if result.Laid != 2 {
				t.Errorf("laid = %d, want a pair", result.Laid)
			}
			if _, ok := d.placed[tt.wantCorner]; !ok {
				t.Errorf("no entity at corner %v", tt.wantCorner)
			}
			if _, ok := d.placed[tt.notCorner]; ok {
				t.Errorf("entity at %v, bend went the wrong way", tt.notCorner)
			}
		})
	}
}

func TestLayStockOutAbortsWalk(t *testing.T) {
	d := newFakeDriver()
	d.positions["layer"] = sim.Position{X: 0, Y: 0}
	d.stock["transport-belt"] = 1
	e := newExecutor(d, linePath{})

	result, err := e.Move(MoveCommand{Actor: "layer", Dest: sim.Position{X: 4, Y: 0}, Lay: "transport-belt", Mode: LayTrailing})
	if !errors.Is(err, ErrStockOut) {
		t.Fatalf("error = %v, want ErrStockOut", err)
	}
	if result.Laid != 1 {
		t.Errorf("laid = %d, want 1", result.Laid)
	}
	// The actor stays where the walk died instead of snapping back.
	if d.positions["layer"] == (sim.Position{X: 0, Y: 0}) {
		t.Error("actor snapped back to start")
	}
}

func TestLayFastReplaceRotatesWithoutStock(t *testing.T) {
	d := newFakeDriver()
	d.positions["layer"] = sim.Position{X: 0, Y: 0}
	d.placed[sim.Position{X: 1, Y: 0}] = placedEntity{name: "transport-belt", dir: sim.North}
	d.stock["transport-belt"] = 2
	e := newExecutor(d, linePath{})

	if _, err := e.Move(MoveCommand{Actor: "layer", Dest: sim.Position{X: 2, Y: 0}, Lay: "transport-belt", Mode: LayImmediate}); err != nil {
		t.Fatalf("move failed: %v", err)
	}

	if got := d.placed[sim.Position{X: 1, Y: 0}]; got.dir != sim.East {
		t.Errorf("existing belt faces %v, want rotated east", got.dir)
	}
	if d.stock["transport-belt"] != 1 {
		t.Errorf("stock = %d, want 1: rotation must not consume", d.stock["transport-belt"])
	}
}

func TestLayBlockedByForeignEntity(t *testing.T) {
	d := newFakeDriver()
	d.positions["layer"] = sim.Position{X: 0, Y: 0}
	d.placed[sim.Position{X: 1, Y: 0}] = placedEntity{name: "stone-furnace", dir: sim.North}
	d.stock["transport-belt"] = 5
	e := newExecutor(d, linePath{})

	_, err := e.Move(MoveCommand{Actor: "layer", Dest: sim.Position{X: 3, Y: 0}, Lay: "transport-belt", Mode: LayImmediate})
	if err == nil {
		t.Fatal("expected error for blocked cell")
	}
	if got := d.placed[sim.Position{X: 1, Y: 0}]; got.name != "stone-furnace" {
		t.Errorf("foreign entity replaced by %s", got.name)
	}
}
