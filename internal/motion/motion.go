// Package motion executes movement commands on the simulation side.
// Instant moves resolve within one call; queued moves register a
// walking queue that the tick loop advances. Either kind can lay a
// line of oriented entities along the walked path.
package motion

import (
	"errors"
	"fmt"

	"beltline/pkg/sim"
)

// ActorDriver is the world surface the executor mutates.
//
// PlaceLaid places one laid entity from the actor's inventory at a cell.
// A same-name entity already in the cell reorients in place without
// consuming stock. An empty inventory slot returns ErrStockOut; a cell
// held by a different entity returns a driver error.
type ActorDriver interface {
	Position(actor string) (sim.Position, bool)
	SetPosition(actor string, pos sim.Position)
	PlaceLaid(actor, name string, cell sim.Position, dir sim.Direction) error
}

// PathFinder resolves a walkable waypoint sequence, or nil when the
// goal cannot be reached.
type PathFinder interface {
	FindPath(start, goal sim.Position, radius float64) []sim.Position
}

var (
	ErrUnknownActor = errors.New("motion: unknown actor")
	ErrUnreachable  = errors.New("motion: destination unreachable")
	// ErrStockOut aborts a laying walk whose inventory ran dry. The
	// actor keeps the ground covered so far.
	ErrStockOut = errors.New("motion: out of stock for laid entity")
)

// LayMode selects the laying discipline of a walk.
type LayMode uint8

const (
	// LayTrailing stamps the cell being left, then bends the previous
	// segment toward each turn once the successor edge is known.
	LayTrailing LayMode = iota
	// LayImmediate stamps the cell being entered with the direction it
	// was entered by and never revisits a placement.
	LayImmediate
)

func (m LayMode) String() string {
	if m == LayImmediate {
		return "immediate"
	}
	return "trailing"
}

func ParseLayMode(s string) (LayMode, error) {
	switch s {
	case "", "trailing":
		return LayTrailing, nil
	case "immediate":
		return LayImmediate, nil
	}
	return LayTrailing, fmt.Errorf("unknown lay mode %q", s)
}

// layState tracks one walk's laying progress across edges.
type layState struct {
	prevDir  sim.Direction
	hasPrev  bool
	lastCell sim.Position
	hasLaid  bool
	count    int
}

// layEdge lays for one cell edge from→to. Trailing mode fixes up the
// previously laid entity when the walk turns: the segment behind the
// corner reorients to the new direction, so lines pre-bend into turns.
func layEdge(d ActorDriver, actor, name string, mode LayMode, from, to sim.Position, st *layState) error {
	dir := sim.DirectionBetween(from, to)

	switch mode {
	case LayTrailing:
		if st.hasPrev && dir != st.prevDir && st.hasLaid {
			if err := d.PlaceLaid(actor, name, st.lastCell, dir); err != nil {
				return fmt.Errorf("reorient %s at %v: %w", name, st.lastCell, err)
			}
		}
		if err := d.PlaceLaid(actor, name, from, dir); err != nil {
			return fmt.Errorf("lay %s at %v: %w", name, from, err)
		}
		st.lastCell = from
	case LayImmediate:
		if err := d.PlaceLaid(actor, name, to, dir); err != nil {
			return fmt.Errorf("lay %s at %v: %w", name, to, err)
		}
		st.lastCell = to
	}
	st.hasLaid = true
	st.count++
	st.prevDir, st.hasPrev = dir, true
	return nil
}

// layCrossing lays for a cell crossing that may be diagonal. Diagonal
// crossings split into two orthogonal edges through the corner chosen
// by the sign rule in expandDiagonals.
func layCrossing(d ActorDriver, actor, name string, mode LayMode, from, to sim.Position, st *layState) error {
	dx := to.X - from.X
	dy := to.Y - from.Y
	if dx != 0 && dy != 0 {
		var corner sim.Position
		if dx*dy > 0 {
			corner = sim.Position{X: to.X, Y: from.Y}
		} else {
			corner = sim.Position{X: from.X, Y: to.Y}
		}
		if err := layEdge(d, actor, name, mode, from, corner, st); err != nil {
			return err
		}
		from = corner
	}
	return layEdge(d, actor, name, mode, from, to, st)
}

// expandDiagonals rewrites a cell path so every edge is orthogonal.
// A diagonal edge becomes an L through one corner cell. The bend
// follows the sign agreement of the deltas: matching signs walk the
// x axis first, opposing signs walk the y axis first.
func expandDiagonals(start sim.Position, waypoints []sim.Position) []sim.Position {
	out := make([]sim.Position, 0, len(waypoints)+2)
	prev := start.Cell()
	for _, wp := range waypoints {
		cell := wp.Cell()
		dx := cell.X - prev.X
		dy := cell.Y - prev.Y
		if dx != 0 && dy != 0 {
			var corner sim.Position
			if dx*dy > 0 {
				corner = sim.Position{X: cell.X, Y: prev.Y}
			} else {
				corner = sim.Position{X: prev.X, Y: cell.Y}
			}
			out = append(out, corner)
		}
		out = append(out, cell)
		prev = cell
	}
	return out
}
