package bridge

import (
	"context"
	"fmt"
	"sync"
)

// Guarded wraps a transport and enforces at most one outstanding call
// per actor. Calls for distinct actors proceed concurrently.
type Guarded struct {
	next Transport

	mu       sync.Mutex
	inflight map[string]struct{}
}

var _ Transport = (*Guarded)(nil)

func NewGuarded(next Transport) *Guarded {
	return &Guarded{next: next, inflight: make(map[string]struct{})}
}

func (g *Guarded) Call(ctx context.Context, req Request) (Response, error) {
	g.mu.Lock()
	if _, busy := g.inflight[req.Actor]; busy {
		g.mu.Unlock()
		return Response{}, fmt.Errorf("actor %q: %w", req.Actor, ErrCallInFlight)
	}
	g.inflight[req.Actor] = struct{}{}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.inflight, req.Actor)
		g.mu.Unlock()
	}()

	return g.next.Call(ctx, req)
}

func (g *Guarded) Close() error {
	return g.next.Close()
}
