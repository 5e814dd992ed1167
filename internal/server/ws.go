// ABOUTME: WebSocket endpoint for live message push to authenticated clients.
// ABOUTME: Clients join their own user channel; the hub owns all writes after the ack.

package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hireloop/inbox/internal/auth"
	"github.com/hireloop/inbox/internal/live"
)

const (
	frameJoin   = "join"
	frameJoined = "joined"
	frameEvent  = "event"
	frameError  = "error"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsJoinWait  = 5 * time.Second
)

// wsFrame is one wire frame of the push protocol.
type wsFrame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Event   string          `json:"event,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// handleWS handles GET /ws requests. The auth middleware has already
// verified the token (header or ?token= query parameter).
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserFromContext(r.Context())

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		s.logger.Warn("websocket upgrade failed", "error", err, "user_id", userID)
		return
	}

	s.serveWS(ws, userID)
}

// serveWS runs the join handshake and then holds the connection open,
// consuming control frames until the peer goes away. Event frames flow
// the other way, written by the hub.
func (s *Server) serveWS(ws *websocket.Conn, userID string) {
	channel, ok := s.awaitJoin(ws, userID)
	if !ok {
		return
	}

	// The ack must be written before hub registration: once registered,
	// the hub's write loop is the only writer on this connection.
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := ws.WriteJSON(wsFrame{Type: frameJoined, Channel: channel}); err != nil {
		_ = ws.Close()
		return
	}

	client := s.hub.Register(userID, ws)
	if client == nil {
		_ = ws.Close()
		return
	}
	defer s.hub.Unregister(client)

	s.logger.Info("websocket joined", "user_id", userID, "channel", channel)

	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	ws.SetPingHandler(func(appData string) error {
		_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
		err := ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(wsWriteWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	// Clients send nothing after the join; messages go through the API.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

// awaitJoin reads the join frame and validates the requested channel.
// Users may only join their own channel.
func (s *Server) awaitJoin(ws *websocket.Conn, userID string) (string, bool) {
	_ = ws.SetReadDeadline(time.Now().Add(wsJoinWait))

	var join wsFrame
	if err := ws.ReadJSON(&join); err != nil {
		_ = ws.Close()
		return "", false
	}
	if join.Type != frameJoin {
		s.rejectWS(ws, userID, "expected join frame")
		return "", false
	}
	if join.Channel != live.UserChannel(userID) {
		s.rejectWS(ws, userID, "channel not allowed")
		return "", false
	}
	return join.Channel, true
}

// rejectWS sends an error frame and drops the connection.
func (s *Server) rejectWS(ws *websocket.Conn, userID, reason string) {
	s.logger.Warn("websocket join rejected", "user_id", userID, "reason", reason)
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	_ = ws.WriteJSON(wsFrame{Type: frameError, Error: reason})
	_ = ws.Close()
}
