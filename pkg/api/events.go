package api

import (
	"context"
	"net/http"
	"time"

	"github.com/certusone/wormhole/messenger/pkg/messenger"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const eventWriteTimeout = 10 * time.Second

// eventMessage is the frame sent to websocket subscribers for every engine event.
type eventMessage struct {
	Name string          `json:"name"`
	Data messenger.Event `json:"data"`
}

// handleEvents streams engine events to a websocket client until either side goes away. Clients only read;
// anything they send closes the stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		s.writeJSON(w, r, http.StatusNotFound, errorResponse{Error: "event stream is disabled"})
		return
	}

	logger := s.requestLogger(r)
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	id, events, cancel := s.hub.Subscribe()
	defer cancel()
	logger = logger.With(zap.Stringer("subscription", id))
	logger.Info("event subscriber connected")

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			logger.Info("event subscriber disconnected")
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(ctx, conn, e); err != nil {
				if websocket.CloseStatus(err) == -1 {
					logger.Warn("failed to write event", zap.Error(err))
				}
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, e messenger.Event) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, eventMessage{Name: e.EventName(), Data: e})
}
