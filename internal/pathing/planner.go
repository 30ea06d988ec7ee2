package pathing

import (
	"container/heap"
	"math"
	"sync"

	"beltline/pkg/sim"
)

// Grid exposes walkability to the planner. Coordinates are whole cells.
type Grid interface {
	Passable(x, y int) bool
}

// maxExpansions bounds one search so unreachable goals resolve to
// not_found instead of walking the plane forever.
const maxExpansions = 20000

// Planner answers path queries on the simulation side. Queries resolve
// delayTicks after submission; the window in between polls as pending.
// More than maxInflight open queries report busy until slots free up.
// Delivered tickets are forgotten immediately, so only the first poll
// of an outcome sees it sim-side.
type Planner struct {
	grid        Grid
	delayTicks  int64
	maxInflight int

	mu     sync.Mutex
	now    int64
	nextID int64
	jobs   map[int64]*pathJob
}

type pathJob struct {
	actor       string
	start, goal sim.Position
	radius      float64
	readyAt     int64
	deferred    bool // parked by saturation, not yet scheduled
}

func NewPlanner(grid Grid, delayTicks int64, maxInflight int) *Planner {
	if maxInflight < 1 {
		maxInflight = 1
	}
	return &Planner{
		grid:        grid,
		delayTicks:  delayTicks,
		maxInflight: maxInflight,
		jobs:        make(map[int64]*pathJob),
	}
}

// Advance moves the planner's clock. The simulation tick loop calls it
// once per tick.
func (p *Planner) Advance(now int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// Submit opens a query for an actor and returns its ticket. Tickets
// are monotonic and never reused, including across resets.
func (p *Planner) Submit(actor string, start, goal sim.Position, radius float64) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	id := p.nextID
	job := &pathJob{actor: actor, start: start, goal: goal, radius: radius}
	if len(p.jobs) >= p.maxInflight {
		job.deferred = true
	} else {
		job.readyAt = p.now + p.delayTicks
	}
	p.jobs[id] = job
	return id
}

// CancelActor drops the actor's open queries. A re-issued movement
// command calls this; the discarded tickets poll as invalid with no
// completion notification.
func (p *Planner) CancelActor(actor string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, job := range p.jobs {
		if job.actor == actor {
			delete(p.jobs, id)
		}
	}
}

// Poll reports a ticket's status. Terminal outcomes delete the ticket;
// later polls of the same id report invalid.
func (p *Planner) Poll(id int64) Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	job, ok := p.jobs[id]
	if !ok {
		return Status{State: StateInvalid}
	}

	if job.deferred {
		if len(p.jobs) > p.maxInflight {
			return Status{State: StateBusy}
		}
		job.deferred = false
		job.readyAt = p.now + p.delayTicks
	}
	if p.now < job.readyAt {
		return Status{State: StatePending}
	}

	waypoints := findPath(p.grid, job.start, job.goal, job.radius)
	delete(p.jobs, id)
	if waypoints == nil {
		return Status{State: StateNotFound}
	}
	return Status{State: StateSuccess, Waypoints: waypoints}
}

// Reset drops all open queries. The id counter keeps running so stale
// tickets from the previous episode can never collide with new ones.
func (p *Planner) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = make(map[int64]*pathJob)
}

// Open reports the number of undelivered queries.
func (p *Planner) Open() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

// FindPath resolves a path synchronously, outside the ticket flow.
// Movement commands use it where the asynchronous window would add
// nothing. Nil means unreachable within the expansion budget.
func FindPath(grid Grid, start, goal sim.Position, radius float64) []sim.Position {
	return findPath(grid, start, goal, radius)
}

type gridCell struct{ x, y int }

type searchNode struct {
	cell   gridCell
	fScore float64
}

type nodeHeap []*searchNode

func (h nodeHeap) Len() int           { return len(h) }
func (h nodeHeap) Less(i, j int) bool { return h[i].fScore < h[j].fScore }
func (h nodeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x any)        { *h = append(*h, x.(*searchNode)) }

func (h *nodeHeap) Pop() any {
	old := *h
	n := old[len(old)-1]
	*h = old[:len(old)-1]
	return n
}

var gridSteps = [8]struct {
	dx, dy int
	cost   float64
}{
	{0, -1, 1}, {1, 0, 1}, {0, 1, 1}, {-1, 0, 1},
	{1, -1, math.Sqrt2}, {1, 1, math.Sqrt2}, {-1, 1, math.Sqrt2}, {-1, -1, math.Sqrt2},
}

// findPath runs A* from start's cell toward goal, accepting any cell
// within radius of the goal cell. Returns cell-center waypoints from
// the first step through the accepted cell, or nil when no path exists
// within the expansion budget.
func findPath(grid Grid, start, goal sim.Position, radius float64) []sim.Position {
	startCell := toCell(start)
	goalCell := toCell(goal)

	accepts := func(c gridCell) bool {
		return math.Hypot(float64(c.x-goalCell.x), float64(c.y-goalCell.y)) <= radius
	}
	if accepts(startCell) {
		return []sim.Position{cellCenter(startCell)}
	}

	open := &nodeHeap{}
	heap.Init(open)
	startNode := &searchNode{cell: startCell, fScore: octile(startCell, goalCell)}
	heap.Push(open, startNode)

	cameFrom := map[gridCell]gridCell{}
	gScores := map[gridCell]float64{startCell: 0}
	closed := map[gridCell]bool{}

	for open.Len() > 0 && len(closed) < maxExpansions {
		current := heap.Pop(open).(*searchNode)
		if closed[current.cell] {
			continue
		}
		closed[current.cell] = true

		if accepts(current.cell) {
			return reconstruct(cameFrom, startCell, current.cell)
		}

		for _, step := range gridSteps {
			next := gridCell{current.cell.x + step.dx, current.cell.y + step.dy}
			if closed[next] || !grid.Passable(next.x, next.y) {
				continue
			}
			tentative := gScores[current.cell] + step.cost
			if prev, seen := gScores[next]; seen && tentative >= prev {
				continue
			}
			gScores[next] = tentative
			cameFrom[next] = current.cell
			heap.Push(open, &searchNode{cell: next, fScore: tentative + octile(next, goalCell)})
		}
	}
	return nil
}

func octile(a, b gridCell) float64 {
	dx := math.Abs(float64(a.x - b.x))
	dy := math.Abs(float64(a.y - b.y))
	return dx + dy + (math.Sqrt2-2)*math.Min(dx, dy)
}

func reconstruct(cameFrom map[gridCell]gridCell, start, end gridCell) []sim.Position {
	var reversed []gridCell
	for c := end; c != start; c = cameFrom[c] {
		reversed = append(reversed, c)
	}
	out := make([]sim.Position, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		out = append(out, cellCenter(reversed[i]))
	}
	return out
}

func toCell(p sim.Position) gridCell {
	cell := p.Cell()
	return gridCell{int(cell.X), int(cell.Y)}
}

func cellCenter(c gridCell) sim.Position {
	return sim.Position{X: float64(c.x), Y: float64(c.y)}
}
