package bridge

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
)

// Loopback delivers requests to an in-process handler. It backs tests
// and deployments that embed the simulation directly.
type Loopback struct {
	handler Handler
	closed  atomic.Bool
}

var _ Transport = (*Loopback)(nil)

func NewLoopback(h Handler) *Loopback {
	return &Loopback{handler: h}
}

func (l *Loopback) Call(ctx context.Context, req Request) (Response, error) {
	if l.closed.Load() {
		return Response{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	resp := l.handler.Dispatch(ctx, req)
	resp.ID = req.ID
	return resp, nil
}

func (l *Loopback) Close() error {
	l.closed.Store(true)
	return nil
}
