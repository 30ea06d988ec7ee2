package motion

import (
	"fmt"

	"beltline/pkg/sim"
)

// MoveCommand is one movement request for an actor.
type MoveCommand struct {
	Actor string
	Dest  sim.Position
	Lay   string // entity name to lay along the path, "" for none
	Mode  LayMode
	// Queued registers a walking queue instead of resolving instantly.
	Queued bool
	// Speed overrides the scheduler's default, in cells per tick.
	// Queued walks only.
	Speed float64
}

// MoveResult reports where the actor is after the command: the final
// position for instant moves, the unchanged current position for queued
// ones.
type MoveResult struct {
	Position sim.Position `json:"position"`
	Queued   bool         `json:"queued,omitempty"`
	Laid     int          `json:"laid,omitempty"`
}

// Executor resolves movement commands against a driver and pathfinder.
// The embedding simulation owns the tick loop and calls the scheduler
// from it.
type Executor struct {
	driver    ActorDriver
	pathfind  PathFinder
	scheduler *Scheduler
}

func NewExecutor(driver ActorDriver, pathfind PathFinder, scheduler *Scheduler) *Executor {
	return &Executor{driver: driver, pathfind: pathfind, scheduler: scheduler}
}

// Scheduler returns the walking scheduler the executor registers queued
// moves with.
func (e *Executor) Scheduler() *Scheduler {
	return e.scheduler
}

// Move executes one command. Any new command for an actor replaces its
// walking queue wholesale; there is no merging and no completion
// notification for the superseded queue.
func (e *Executor) Move(cmd MoveCommand) (MoveResult, error) {
	cur, ok := e.driver.Position(cmd.Actor)
	if !ok {
		return MoveResult{}, fmt.Errorf("move %q: %w", cmd.Actor, ErrUnknownActor)
	}

	waypoints := e.pathfind.FindPath(cur, cmd.Dest, 0)
	if waypoints == nil {
		return MoveResult{Position: cur}, fmt.Errorf("move %q to %v: %w", cmd.Actor, cmd.Dest, ErrUnreachable)
	}

	if cmd.Queued {
		e.scheduler.SetQueue(WalkingQueue{
			Actor:   cmd.Actor,
			Targets: waypoints,
			Lay:     cmd.Lay,
			Mode:    cmd.Mode,
			Speed:   cmd.Speed,
		})
		return MoveResult{Position: cur, Queued: true}, nil
	}

	// Instant: a replaced queue stops advancing before the teleport.
	e.scheduler.Cancel(cmd.Actor)
	return e.instant(cmd, cur, waypoints)
}

func (e *Executor) instant(cmd MoveCommand, cur sim.Position, waypoints []sim.Position) (MoveResult, error) {
	cells := expandDiagonals(cur, waypoints)
	st := layState{}
	pos := cur
	prev := cur.Cell()

	for _, cell := range cells {
		if cell == prev {
			continue
		}
		e.driver.SetPosition(cmd.Actor, cell)
		pos = cell
		if cmd.Lay != "" {
			if err := layEdge(e.driver, cmd.Actor, cmd.Lay, cmd.Mode, prev, cell, &st); err != nil {
				return MoveResult{Position: pos, Laid: st.count}, err
			}
		}
		prev = cell
	}

	return MoveResult{Position: pos, Laid: st.count}, nil
}
