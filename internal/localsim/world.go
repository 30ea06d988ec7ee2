// Package localsim is the in-process simulation collaborator. It keeps
// just enough world state to exercise the bridge end to end: an entity
// table, seeded terrain, resource patches, per-actor positions and
// inventories, and a virtual tick counter. It implements no placement
// legality or recipe chemistry.
package localsim

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"sort"
	"sync"

	"beltline/internal/capability"
	"beltline/internal/mailbox"
	"beltline/internal/motion"
	"beltline/internal/pathing"
	"beltline/pkg/sim"
)

type cellKey struct{ x, y int }

type deposit struct {
	kind   string
	amount int
}

type actorState struct {
	pos sim.Position
	inv sim.Inventory
}

// World is the simulation state plus the embedded movement and pathing
// components. Safe for concurrent dispatch; state methods lock
// per-call so the scheduler and executor can call back in.
type World struct {
	cfg    WorldConfig
	logger *slog.Logger

	mu        sync.Mutex
	tick      int64
	research  bool
	entities  map[cellKey]*sim.Entity
	deposits  map[cellKey]*deposit
	actors    map[string]*actorState
	produced  map[string]int

	planner   *pathing.Planner
	scheduler *motion.Scheduler
	executor  *motion.Executor
	mail      mailbox.Store
}

func NewWorld(cfg WorldConfig, mail mailbox.Store, logger *slog.Logger) *World {
	if logger == nil {
		logger = slog.Default()
	}
	if mail == nil {
		mail = mailbox.NewMemory()
	}
	w := &World{
		cfg:      cfg,
		logger:   logger,
		entities: make(map[cellKey]*sim.Entity),
		deposits: make(map[cellKey]*deposit),
		actors:   make(map[string]*actorState),
		produced: make(map[string]int),
		mail:     mail,
	}
	w.planner = pathing.NewPlanner(w, cfg.PathDelayTicks, cfg.MaxInflightPaths)
	w.scheduler = motion.NewScheduler(w, cfg.ArrivalEpsilon, cfg.WalkSpeed, logger)
	w.executor = motion.NewExecutor(w, plannerPaths{w}, w.scheduler)
	w.seedPatches()
	return w
}

// plannerPaths adapts the synchronous search to motion.PathFinder.
type plannerPaths struct{ w *World }

func (p plannerPaths) FindPath(start, goal sim.Position, radius float64) []sim.Position {
	return pathing.FindPath(p.w, start, goal, radius)
}

func (w *World) seedPatches() {
	for _, p := range w.cfg.Patches {
		r := int(math.Ceil(p.Radius))
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				if math.Hypot(float64(dx), float64(dy)) > p.Radius {
					continue
				}
				key := cellKey{p.CenterX + dx, p.CenterY + dy}
				if !w.inBounds(key.x, key.y) {
					continue
				}
				w.deposits[key] = &deposit{kind: p.Type, amount: p.Amount}
			}
		}
	}
}

func (w *World) inBounds(x, y int) bool {
	return x >= -w.cfg.Width/2 && x < w.cfg.Width/2 &&
		y >= -w.cfg.Height/2 && y < w.cfg.Height/2
}

// ensureActor registers an actor on first contact: spawn position,
// starting inventory, mailbox registration.
func (w *World) ensureActor(name string) *actorState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ensureActorLocked(name)
}

func (w *World) ensureActorLocked(name string) *actorState {
	if a, ok := w.actors[name]; ok {
		return a
	}
	a := &actorState{
		pos: sim.Position{X: w.cfg.SpawnX, Y: w.cfg.SpawnY},
		inv: sim.Inventory{},
	}
	for item, count := range w.cfg.StartingInventory {
		a.inv[item] = count
	}
	w.actors[name] = a
	w.logger.Info("Actor joined", "actor", name, "spawn", a.pos)
	return a
}

// Position implements motion.ActorDriver.
func (w *World) Position(actor string) (sim.Position, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	a, ok := w.actors[actor]
	if !ok {
		return sim.Position{}, false
	}
	return a.pos, true
}

// SetPosition implements motion.ActorDriver.
func (w *World) SetPosition(actor string, pos sim.Position) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if a, ok := w.actors[actor]; ok {
		a.pos = pos
	}
}

// PlaceLaid implements motion.ActorDriver: fast-replace placement from
// the actor's inventory during laying walks.
func (w *World) PlaceLaid(actor, name string, cell sim.Position, dir sim.Direction) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := cellKey{int(cell.X), int(cell.Y)}
	if existing, ok := w.entities[key]; ok {
		if existing.Name != name {
			return fmt.Errorf("cell %v held by %s", cell, existing.Name)
		}
		existing.Direction = dir
		return nil
	}

	a, ok := w.actors[actor]
	if !ok {
		return fmt.Errorf("lay by unknown actor %q", actor)
	}
	if !a.inv.Take(name, 1) {
		return fmt.Errorf("lay %s: %w", name, motion.ErrStockOut)
	}
	w.entities[key] = &sim.Entity{Name: name, Position: cell, Direction: dir}
	w.produced[name]++
	return nil
}

// TerrainAt implements codec.WorldReader. Terrain is deterministic in
// the seed: coarse 4x4 blocks hashed into water pockets on a grass
// plain.
func (w *World) TerrainAt(x, y int) string {
	if !w.inBounds(x, y) {
		return ""
	}
	h := fnv.New64a()
	var buf [24]byte
	putInt64(buf[0:8], w.cfg.Seed)
	putInt64(buf[8:16], int64(floorDiv(x, 4)))
	putInt64(buf[16:24], int64(floorDiv(y, 4)))
	h.Write(buf[:])
	if h.Sum64()%13 == 0 {
		return "water"
	}
	return "grass"
}

func putInt64(b []byte, v int64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// EntitiesWithin implements codec.WorldReader.
func (w *World) EntitiesWithin(box sim.Box) []sim.Entity {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []sim.Entity
	for _, e := range w.entities {
		if box.Contains(e.Position) {
			out = append(out, *e)
		}
	}
	return out
}

// ResourcesWithin implements codec.WorldReader.
func (w *World) ResourcesWithin(box sim.Box) []sim.Entity {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []sim.Entity
	for key, d := range w.deposits {
		pos := sim.Position{X: float64(key.x), Y: float64(key.y)}
		if d.amount > 0 && box.Contains(pos) {
			out = append(out, sim.Entity{Name: d.kind, Position: pos, Amount: d.amount})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position.Y != out[j].Position.Y {
			return out[i].Position.Y < out[j].Position.Y
		}
		return out[i].Position.X < out[j].Position.X
	})
	return out
}

// Tick implements codec.WorldReader.
func (w *World) Tick() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tick
}

// Passable implements pathing.Grid. Water blocks walking; placed
// entities do not.
func (w *World) Passable(x, y int) bool {
	return w.TerrainAt(x, y) == "grass"
}

// Step advances virtual time one tick: walking queues, the planner
// clock, and the production pulse.
func (w *World) Step() int64 {
	w.mu.Lock()
	w.tick++
	now := w.tick
	w.mu.Unlock()

	w.scheduler.Advance(1)
	w.planner.Advance(now)
	if w.cfg.ProducerPulseTicks > 0 && now%w.cfg.ProducerPulseTicks == 0 {
		w.pulseProducers()
	}
	return now
}

// pulseProducers bumps production counters: each working drill pulls
// one unit from the deposit under it.
func (w *World) pulseProducers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for key, e := range w.entities {
		if !isDrill(e.Name) {
			continue
		}
		d, ok := w.deposits[key]
		if !ok || d.amount == 0 {
			e.Status = "no_resource"
			continue
		}
		d.amount--
		w.produced[d.kind]++
		e.Status = "working"
	}
}

func isDrill(name string) bool {
	return name == "burner-mining-drill" || name == "electric-mining-drill"
}

// resetWorld applies a reset request: every actor returns to spawn
// with the starting inventory, overridden per-actor by the option
// maps. Queues, tickets, and production counters always clear; the
// planner keeps its ticket counter so stale tickets stay invalid
// rather than colliding.
func (w *World) resetWorld(opts capability.ResetOptions) {
	w.mu.Lock()
	if opts.ClearEntities {
		w.entities = make(map[cellKey]*sim.Entity)
		w.deposits = make(map[cellKey]*deposit)
		w.seedPatches()
	}
	w.produced = make(map[string]int)
	w.research = opts.ResearchAll
	for name, a := range w.actors {
		a.pos = sim.Position{X: w.cfg.SpawnX, Y: w.cfg.SpawnY}
		if pos, ok := opts.Positions[name]; ok {
			a.pos = pos
		}
		next := sim.Inventory{}
		for item, count := range w.cfg.StartingInventory {
			next[item] = count
		}
		if counts, ok := opts.Inventories[name]; ok {
			next = counts.Clone()
		}
		a.inv = next
	}
	w.mu.Unlock()

	w.scheduler.Clear()
	w.planner.Reset()
}
