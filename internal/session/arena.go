// Package session tracks the live agent sessions of one episode. The
// arena hands out stable integer handles; everything a handle resolves
// to is passed by reference, never through package globals.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"beltline/internal/bridge"
	"beltline/internal/capability"
	"beltline/internal/sandbox"
)

var (
	ErrUnknownHandle = errors.New("session: unknown handle")
	ErrDuplicateName = errors.New("session: actor name already bound")
)

// Record is one live session: an actor name, its sandbox namespace,
// and the capability client its programs call through.
type Record struct {
	Handle    int       `json:"handle"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`

	Session *sandbox.Session   `json:"-"`
	Client  *capability.Client `json:"-"`
}

// TurnResult carries one turn's observation channels back to the agent.
type TurnResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Error  string `json:"error,omitempty"`
}

// Arena owns handle allocation and the handle -> record table. Handles
// are never reused within an arena.
type Arena struct {
	transport bridge.Transport
	logger    *slog.Logger

	mu         sync.Mutex
	nextHandle int
	records    map[int]*Record
	byName     map[string]int
}

func NewArena(transport bridge.Transport, logger *slog.Logger) *Arena {
	if logger == nil {
		logger = slog.Default()
	}
	return &Arena{
		transport: transport,
		logger:    logger,
		records:   make(map[int]*Record),
		byName:    make(map[string]int),
	}
}

// Create binds an actor name to a fresh session and returns its record.
func (a *Arena) Create(name string) (*Record, error) {
	if name == "" {
		return nil, fmt.Errorf("session: empty actor name")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, taken := a.byName[name]; taken {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}

	a.nextHandle++
	client := capability.NewClient(a.transport, name)
	rec := &Record{
		Handle:    a.nextHandle,
		Name:      name,
		CreatedAt: time.Now().UTC(),
		Session:   sandbox.NewSession(client, a.logger),
		Client:    client,
	}
	a.records[rec.Handle] = rec
	a.byName[name] = rec.Handle

	a.logger.Info("Session created", "handle", rec.Handle, "actor", name)
	return rec, nil
}

// Get resolves a handle.
func (a *Arena) Get(handle int) (*Record, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[handle]
	return rec, ok
}

// Lookup resolves an actor name.
func (a *Arena) Lookup(name string) (*Record, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	handle, ok := a.byName[name]
	if !ok {
		return nil, false
	}
	return a.records[handle], true
}

// Records lists live sessions in handle order.
func (a *Arena) Records() []*Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Record, 0, len(a.records))
	for _, rec := range a.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Remove closes a session and releases its name.
func (a *Arena) Remove(handle int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[handle]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, handle)
	}
	rec.Session.Close()
	delete(a.records, handle)
	delete(a.byName, rec.Name)

	a.logger.Info("Session removed", "handle", handle, "actor", rec.Name)
	return nil
}

// RunTurn executes one program in a session's namespace. Program
// failures come back inside the result, not as the error return.
func (a *Arena) RunTurn(ctx context.Context, handle int, program string) (TurnResult, error) {
	rec, ok := a.Get(handle)
	if !ok {
		return TurnResult{}, fmt.Errorf("%w: %d", ErrUnknownHandle, handle)
	}

	stdout, stderr, runErr := rec.Session.Execute(ctx, program)
	result := TurnResult{Stdout: stdout, Stderr: stderr}
	if runErr != nil {
		result.Error = runErr.Error()
	}
	return result, nil
}

// Reset issues the reset capability through one session's client, then
// recreates every namespace in the arena. All sessions come out with
// their initial bindings only; tickets and walking queues die sim-side.
func (a *Arena) Reset(ctx context.Context, handle int, opts capability.ResetOptions) error {
	rec, ok := a.Get(handle)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, handle)
	}
	if err := rec.Client.Reset(ctx, opts); err != nil {
		return fmt.Errorf("session: reset: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range a.records {
		r.Session.Reset()
	}
	a.logger.Info("Arena reset", "issued_by", rec.Name, "sessions", len(a.records))
	return nil
}

// Close releases every session.
func (a *Arena) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for handle, rec := range a.records {
		rec.Session.Close()
		delete(a.records, handle)
		delete(a.byName, rec.Name)
	}
}
