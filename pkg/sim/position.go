package sim

import (
	"fmt"
	"math"
)

// Position is a point in world coordinates. Y grows southward. Entity
// anchors may sit on half-cell centers, so both axes are floats.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Position) Add(dx, dy float64) Position {
	return Position{X: p.X + dx, Y: p.Y + dy}
}

// Cell returns the position truncated to its containing cell anchor.
func (p Position) Cell() Position {
	return Position{X: math.Trunc(p.X), Y: math.Trunc(p.Y)}
}

func (p Position) Distance(o Position) float64 {
	return math.Hypot(o.X-p.X, o.Y-p.Y)
}

func (p Position) String() string {
	return fmt.Sprintf("(%g, %g)", p.X, p.Y)
}

// Box is an axis-aligned rectangle, inclusive on all edges.
type Box struct {
	Min Position `json:"min"`
	Max Position `json:"max"`
}

// Around returns the square box spanning radius cells from center on
// both axes.
func Around(center Position, radius float64) Box {
	return Box{
		Min: Position{X: center.X - radius, Y: center.Y - radius},
		Max: Position{X: center.X + radius, Y: center.Y + radius},
	}
}

func (b Box) Contains(p Position) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X && p.Y >= b.Min.Y && p.Y <= b.Max.Y
}
