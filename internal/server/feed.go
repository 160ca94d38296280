package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/harmonylab/harmonylab/internal/engine"
)

// writeTimeout bounds a single feed frame; a client that cannot keep up with
// the tick rate is dropped rather than backpressuring the server.
const writeTimeout = 2 * time.Second

// feedTick is the periodic display frame pushed to feed clients.
type feedTick struct {
	Type   string                `json:"type"`
	Status engine.StatusSnapshot `json:"status"`
	Level  float64               `json:"level"`
	Trace  []float64             `json:"trace"`
}

// feedAdvisory forwards an advisory to feed clients as it is published.
type feedAdvisory struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// handleFeed upgrades to a websocket and streams display ticks at the
// configured rate, interleaved with advisories as they arrive. The feed is
// write-only; the client closing its side ends the stream.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("feed upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	s.metrics.FeedClients.Add(r.Context(), 1)
	defer s.metrics.FeedClients.Add(context.Background(), -1)

	advisories, unsubscribe := s.eng.Advisories().Subscribe()
	defer unsubscribe()

	// CloseRead discards incoming frames and cancels the context when the
	// client goes away.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(time.Duration(s.cfg.Display.TickMillis) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case adv := <-advisories:
			msg := feedAdvisory{
				Type:     "advisory",
				Severity: string(adv.Severity),
				Message:  adv.Message,
			}
			if err := writeFrame(ctx, conn, msg); err != nil {
				return
			}
		case <-ticker.C:
			tick := feedTick{
				Type:   "tick",
				Status: s.eng.Status(),
				Level:  s.eng.Level(),
				Trace:  s.eng.Trace(),
			}
			if err := writeFrame(ctx, conn, tick); err != nil {
				return
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, v any) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, v)
}
