package sim

import (
	"encoding/json"
	"fmt"
	"math"
)

// Direction is one of the eight compass orientations an entity or actor
// can face. The zero value is North.
type Direction uint8

const (
	North Direction = iota
	Northeast
	East
	Southeast
	South
	Southwest
	West
	Northwest
)

var directionNames = [...]string{
	North:     "north",
	Northeast: "northeast",
	East:      "east",
	Southeast: "southeast",
	South:     "south",
	Southwest: "southwest",
	West:      "west",
	Northwest: "northwest",
}

func (d Direction) String() string {
	if !d.Valid() {
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
	return directionNames[d]
}

func (d Direction) Valid() bool {
	return int(d) < len(directionNames)
}

// ParseDirection maps a lowercase compass name to its Direction.
func ParseDirection(s string) (Direction, error) {
	for i, name := range directionNames {
		if s == name {
			return Direction(i), nil
		}
	}
	return North, fmt.Errorf("unknown direction %q", s)
}

func (d Direction) Opposite() Direction {
	return (d + 4) % 8
}

// Offset returns the unit cell step for the direction. Diagonals step
// one cell on both axes.
func (d Direction) Offset() (dx, dy float64) {
	switch d {
	case North:
		return 0, -1
	case Northeast:
		return 1, -1
	case East:
		return 1, 0
	case Southeast:
		return 1, 1
	case South:
		return 0, 1
	case Southwest:
		return -1, 1
	case West:
		return -1, 0
	case Northwest:
		return -1, -1
	}
	return 0, 0
}

// DirectionBetween returns the facing from one position toward another.
// Off-axis pairs resolve by the larger absolute delta; exact diagonals
// keep both components. Identical positions face North.
func DirectionBetween(from, to Position) Direction {
	dx := to.X - from.X
	dy := to.Y - from.Y
	ax, ay := math.Abs(dx), math.Abs(dy)

	switch {
	case ax == 0 && ay == 0:
		return North
	case ax > ay:
		if dx > 0 {
			return East
		}
		return West
	case ay > ax:
		if dy > 0 {
			return South
		}
		return North
	}
	// Exact diagonal.
	if dx > 0 {
		if dy > 0 {
			return Southeast
		}
		return Northeast
	}
	if dy > 0 {
		return Southwest
	}
	return Northwest
}

func (d Direction) MarshalJSON() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("marshal direction: invalid value %d", uint8(d))
	}
	return json.Marshal(d.String())
}

func (d *Direction) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("unmarshal direction: %w", err)
	}
	parsed, err := ParseDirection(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
