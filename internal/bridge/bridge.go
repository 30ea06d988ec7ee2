// Package bridge carries capability calls between an agent-side client
// and the simulation. A transport is synchronous per call: it blocks the
// calling turn until the result frame arrives or fails.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
)

// Request is one command issued on behalf of an actor. Args are
// positional and immutable once sent.
type Request struct {
	ID         string `json:"id"`
	Actor      string `json:"actor"`
	Capability string `json:"cmd"`
	Args       []any  `json:"args"`
}

// Response is the outcome of one request. Exactly one of Result or the
// error pair is meaningful, selected by OK.
type Response struct {
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Result  json.RawMessage `json:"result,omitempty"`
	ErrCode string          `json:"error_code,omitempty"`
	Err     string          `json:"error,omitempty"`
}

// Transport delivers one request and blocks for its response. A non-nil
// error means the call never produced a simulation verdict; simulation
// rejections travel inside the Response instead.
type Transport interface {
	Call(ctx context.Context, req Request) (Response, error)
	Close() error
}

// Handler executes requests on the simulation side.
type Handler interface {
	Dispatch(ctx context.Context, req Request) Response
}

var (
	// ErrClosed reports a call on a transport that has been shut down.
	ErrClosed = errors.New("bridge: transport closed")

	// ErrCallInFlight reports a second concurrent call for an actor that
	// already has one outstanding. The caller violated the one-call-per-
	// actor contract; the first call is unaffected.
	ErrCallInFlight = errors.New("bridge: call already in flight for actor")
)
