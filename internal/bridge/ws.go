package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// defaultCallTimeout bounds a call whose context carries no deadline so
// a dead peer cannot hold a turn forever.
const defaultCallTimeout = 30 * time.Second

// WSTransport speaks the command channel over a websocket connection.
// One frame exchange runs at a time; responses correlate by frame id.
type WSTransport struct {
	conn    *websocket.Conn
	timeout time.Duration
	mu      sync.Mutex
	closed  atomic.Bool
}

var _ Transport = (*WSTransport)(nil)

// DialWS connects to a simulation command channel at a ws:// or wss://
// URL.
func DialWS(ctx context.Context, url string) (*WSTransport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial simulation %s: %w", url, err)
	}
	return &WSTransport{conn: conn, timeout: defaultCallTimeout}, nil
}

func (t *WSTransport) Call(ctx context.Context, req Request) (Response, error) {
	if t.closed.Load() {
		return Response{}, ErrClosed
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	timeout := t.timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return Response{}, fmt.Errorf("set write deadline: %w", err)
	}
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return Response{}, fmt.Errorf("set read deadline: %w", err)
	}

	if err := t.conn.WriteJSON(req); err != nil {
		return Response{}, fmt.Errorf("write request: %w", err)
	}
	for {
		var resp Response
		if err := t.conn.ReadJSON(&resp); err != nil {
			return Response{}, fmt.Errorf("read response: %w", err)
		}
		if resp.ID == req.ID {
			return resp, nil
		}
		// Response for an abandoned earlier call; discard and keep reading.
	}
}

func (t *WSTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return t.conn.Close()
}
