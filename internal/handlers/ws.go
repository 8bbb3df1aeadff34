// internal/handlers/ws.go
package handlers

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
)

// LobbySubprotocol is the WebSocket subprotocol event subscribers must speak.
const LobbySubprotocol = "lobby.v1"

// handleSubscribe upgrades the connection and hands it to the hub, which owns
// the subscriber until it disconnects or the lobby closes. Token validation
// happens inside the hub so the close frame can carry the reason.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	gameID, lobbyID, err := pathScope(r)
	if err != nil {
		writeError(w, err)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{LobbySubprotocol},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warnf("websocket accept failed: %v", err)
		return
	}
	if c.Subprotocol() != LobbySubprotocol {
		c.Close(websocket.StatusCode(BadSubprotocolError), "client must speak lobby.v1 subprotocol")
		return
	}

	s.hub.HandleConnection(r.Context(), gameID, lobbyID, requestToken(r), &wsTransport{conn: c})
}

// wsTransport adapts a websocket connection to the hub's transport interface.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Send(ctx context.Context, payload []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, payload)
}

// Receive returns the next text frame, skipping any binary frames a client
// might send.
func (t *wsTransport) Receive(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := t.conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if typ == websocket.MessageText {
			return data, nil
		}
	}
}

func (t *wsTransport) Close(code websocket.StatusCode, reason string) error {
	return t.conn.Close(code, reason)
}
