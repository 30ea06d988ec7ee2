package localsim

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"beltline/internal/bridge"
)

// Server exposes the world's capability dispatch over a websocket.
// Frames on one connection are handled serially, matching the one
// in-flight call per connection the client transport enforces.
type Server struct {
	world  *World
	logger *slog.Logger

	upgrader websocket.Upgrader
}

func NewServer(w *World, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		world:  w,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			s.logger.Warn("Upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		defer conn.Close()
		s.logger.Info("Bridge connected", "remote", r.RemoteAddr)

		for {
			var req bridge.Request
			if err := conn.ReadJSON(&req); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Warn("Bridge read failed", "remote", r.RemoteAddr, "error", err)
				}
				return
			}

			resp := s.world.Dispatch(r.Context(), req)
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(resp); err != nil {
				s.logger.Warn("Bridge write failed", "remote", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}

// RunTickLoop steps the world at a fixed rate until ctx is done.
// advance_time steps virtual time independently of this loop.
func (w *World) RunTickLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Step()
		}
	}
}
