// Package pathing carries asynchronous path queries across the bridge.
// The simulation issues tickets and forgets them once their outcome is
// delivered; the agent-side correlator keeps terminal outcomes stable
// for as long as the caller holds the ticket.
package pathing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"beltline/internal/capability"
	"beltline/pkg/sim"
)

// Ticket identifies one path request within a session. Tickets are
// never reused, including across resets.
type Ticket int64

// State is the lifecycle word of one poll.
type State string

const (
	StatePending  State = "pending"
	StateSuccess  State = "success"
	StateBusy     State = "busy"
	StateNotFound State = "not_found"
	StateInvalid  State = "invalid"
)

// Terminal reports whether the state can never change on later polls.
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateNotFound, StateInvalid:
		return true
	}
	return false
}

// Status is one poll outcome. Waypoints accompany success only.
type Status struct {
	State     State
	Waypoints []sim.Position
}

// PathClient is the slice of the capability surface the correlator
// needs. *capability.Client satisfies it.
type PathClient interface {
	RequestPath(ctx context.Context, start, goal sim.Position, radius float64) (int64, error)
	GetPath(ctx context.Context, ticket int64) (capability.PathPoll, error)
}

// ErrAwaitExhausted reports an Await that ran out of poll budget before
// reaching a terminal state.
var ErrAwaitExhausted = errors.New("pathing: poll budget exhausted")

// Correlator tracks one actor's path tickets. Once it observes success
// or not_found for a ticket it answers every later poll from its cache,
// so outcomes stay readable after the simulation drops the ticket.
type Correlator struct {
	client PathClient

	mu   sync.Mutex
	done map[Ticket]Status
}

func NewCorrelator(client PathClient) *Correlator {
	return &Correlator{client: client, done: make(map[Ticket]Status)}
}

// Begin submits a path query and returns its ticket without blocking on
// the answer.
func (c *Correlator) Begin(ctx context.Context, start, goal sim.Position, radius float64) (Ticket, error) {
	id, err := c.client.RequestPath(ctx, start, goal, radius)
	if err != nil {
		return 0, err
	}
	return Ticket(id), nil
}

// Poll reports the current status of a ticket. Unknown tickets come
// back as StateInvalid in-band; an error means the poll itself never
// produced a verdict.
func (c *Correlator) Poll(ctx context.Context, t Ticket) (Status, error) {
	c.mu.Lock()
	if cached, ok := c.done[t]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	poll, err := c.client.GetPath(ctx, int64(t))
	if err != nil {
		return Status{}, err
	}

	status, err := fromPoll(poll)
	if err != nil {
		return Status{}, err
	}
	if status.State == StateSuccess || status.State == StateNotFound {
		c.mu.Lock()
		c.done[t] = status
		c.mu.Unlock()
	}
	return status, nil
}

// Await polls until the ticket reaches a terminal state, waiting
// interval between polls and giving up after maxPolls attempts. Busy
// retries the poll; it never re-submits the request.
func (c *Correlator) Await(ctx context.Context, t Ticket, interval time.Duration, maxPolls int) (Status, error) {
	var last Status
	for i := 0; i < maxPolls; i++ {
		status, err := c.Poll(ctx, t)
		if err != nil {
			return Status{}, err
		}
		last = status
		if status.State.Terminal() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(interval):
		}
	}
	return last, ErrAwaitExhausted
}

// Forget drops all cached outcomes. Called at episode boundaries.
func (c *Correlator) Forget() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done = make(map[Ticket]Status)
}

func fromPoll(poll capability.PathPoll) (Status, error) {
	state := State(poll.State)
	switch state {
	case StatePending, StateSuccess, StateBusy, StateNotFound, StateInvalid:
	default:
		return Status{}, fmt.Errorf("pathing: unknown poll state %q", poll.State)
	}
	status := Status{State: state}
	if state == StateSuccess {
		status.Waypoints = poll.Waypoints
	}
	return status, nil
}
