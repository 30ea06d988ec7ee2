package motion

import (
	"log/slog"
	"sync"

	"beltline/pkg/sim"
)

// DefaultEpsilon is the arrival distance that dequeues a target.
const DefaultEpsilon = 0.15

// maxSubStep caps one integration step so cell crossings are detected
// one at a time even with large dt.
const maxSubStep = 0.5

// WalkingQueue is a pending sequence of targets for one actor.
type WalkingQueue struct {
	Actor   string
	Targets []sim.Position
	Lay     string
	Mode    LayMode
	Speed   float64 // cells per tick; 0 uses the scheduler default
}

type walker struct {
	queue    []sim.Position
	lay      string
	mode     LayMode
	speed    float64
	lastCell sim.Position
	lays     layState
}

// Scheduler advances registered walking queues. The simulation tick
// loop calls Advance exactly once per tick, so each actor progresses at
// most once per tick. Iteration order across actors is unspecified.
type Scheduler struct {
	driver       ActorDriver
	epsilon      float64
	defaultSpeed float64
	logger       *slog.Logger

	mu      sync.Mutex
	walkers map[string]*walker
}

func NewScheduler(driver ActorDriver, epsilon, defaultSpeed float64, logger *slog.Logger) *Scheduler {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	if defaultSpeed <= 0 {
		defaultSpeed = 0.15
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		driver:       driver,
		epsilon:      epsilon,
		defaultSpeed: defaultSpeed,
		logger:       logger,
		walkers:      make(map[string]*walker),
	}
}

// SetQueue replaces the actor's queue wholesale. The superseded queue
// stops without notification; nothing of it is merged.
func (s *Scheduler) SetQueue(q WalkingQueue) {
	pos, ok := s.driver.Position(q.Actor)
	if !ok {
		return
	}
	speed := q.Speed
	if speed <= 0 {
		speed = s.defaultSpeed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(q.Targets) == 0 {
		delete(s.walkers, q.Actor)
		return
	}
	s.walkers[q.Actor] = &walker{
		queue:    append([]sim.Position(nil), q.Targets...),
		lay:      q.Lay,
		mode:     q.Mode,
		speed:    speed,
		lastCell: pos.Cell(),
	}
}

// Cancel drops the actor's queue, leaving the actor wherever it stands.
func (s *Scheduler) Cancel(actor string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.walkers, actor)
}

// Walking reports whether the actor has an active queue.
func (s *Scheduler) Walking(actor string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.walkers[actor]
	return ok
}

// CurrentTarget returns the target the actor is stepping toward.
func (s *Scheduler) CurrentTarget(actor string) (sim.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.walkers[actor]
	if !ok || len(w.queue) == 0 {
		return sim.Position{}, false
	}
	return w.queue[0], true
}

// Clear drops every queue. Called at episode boundaries.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.walkers = make(map[string]*walker)
}

// Advance steps every walker by dt ticks of movement budget. A walker
// whose queue empties is deregistered; a laying failure also stops the
// walk where it stands.
func (s *Scheduler) Advance(dt float64) {
	if dt <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for actor, w := range s.walkers {
		if done := s.advanceWalker(actor, w, dt); done {
			delete(s.walkers, actor)
		}
	}
}

func (s *Scheduler) advanceWalker(actor string, w *walker, dt float64) bool {
	pos, ok := s.driver.Position(actor)
	if !ok {
		return true
	}
	budget := w.speed * dt

	for budget > 0 {
		if len(w.queue) == 0 {
			return true
		}
		target := w.queue[0]
		dist := pos.Distance(target)
		if dist <= s.epsilon {
			w.queue = w.queue[1:]
			continue
		}

		step := budget
		if step > dist {
			step = dist
		}
		if step > maxSubStep {
			step = maxSubStep
		}
		next := sim.Position{
			X: pos.X + (target.X-pos.X)/dist*step,
			Y: pos.Y + (target.Y-pos.Y)/dist*step,
		}
		s.driver.SetPosition(actor, next)
		budget -= step

		if w.lay != "" {
			cell := next.Cell()
			if cell != w.lastCell {
				if err := layCrossing(s.driver, actor, w.lay, w.mode, w.lastCell, cell, &w.lays); err != nil {
					s.logger.Warn("Walk stopped by laying failure",
						"actor", actor,
						"item", w.lay,
						"cell", cell,
						"error", err)
					return true
				}
				w.lastCell = cell
			}
		}
		pos = next
	}
	return len(w.queue) == 0
}
