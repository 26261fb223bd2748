// ABOUTME: WebSocket transport for client sessions
// ABOUTME: Serves the same wire protocol over binary WebSocket messages

package output

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/snapstream/snapstream-go/pkg/snapcast"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Designed for trusted local networks; any origin may listen.
		return true
	},
}

// HandleWebSocket upgrades an HTTP request and registers the connection
// as a client session. Each wire message travels as one binary WebSocket
// message. Connections arriving while the output is closed are refused.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("output: websocket upgrade: %v", err)
		return
	}

	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.addClientLocked(&wsConn{conn: conn}, r.RemoteAddr)
	s.mu.Unlock()
}

// wsConn frames the wire protocol over a WebSocket connection.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) WriteFrame(p []byte) error {
	return w.conn.WriteMessage(websocket.BinaryMessage, p)
}

func (w *wsConn) ReadMessage() (*snapcast.BaseHeader, []byte, error) {
	for {
		mt, data, err := w.conn.ReadMessage()
		if err != nil {
			return nil, nil, err
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		h, err := snapcast.ParseHeader(data)
		if err != nil {
			return nil, nil, err
		}
		payload := data[snapcast.HeaderSize:]
		if uint32(len(payload)) < h.Size {
			return nil, nil, fmt.Errorf("websocket message truncated: want %d payload bytes, have %d", h.Size, len(payload))
		}
		return h, payload[:h.Size], nil
	}
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}
