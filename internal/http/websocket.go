package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/carpool-matching/internal/matcher"
	"github.com/example/carpool-matching/internal/models"
)

const (
	wsReadLimit = 64 << 10
	wsIdle      = 2 * time.Minute
)

var upgrader = websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096}

type wsReply struct {
	Count   int                   `json:"count"`
	Results []matcher.MatchResult `json:"results"`
	Error   string                `json:"error,omitempty"`
}

// handleWSSearch keeps a search session open: every intent frame the client
// sends is answered with a ranked list. The rider id is fixed at upgrade time.
func (s *Server) handleWSSearch(w http.ResponseWriter, r *http.Request) {
	rider := riderID(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	ctx := r.Context()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(wsIdle))
		var intent models.RiderIntent
		if err := conn.ReadJSON(&intent); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("websocket session ended", "rider_id", rider, "err", err)
			}
			return
		}
		intent.RiderID = rider

		var reply wsReply
		results, err := s.matcher.Search(ctx, intent)
		if err != nil {
			s.logger.Error("websocket search failed", "rider_id", rider, "err", err)
			reply.Error = "internal error"
		} else {
			reply = wsReply{Count: len(results), Results: results}
		}
		if err := conn.WriteJSON(reply); err != nil {
			s.logger.Warn("websocket write failed", "rider_id", rider, "err", err)
			return
		}
	}
}
