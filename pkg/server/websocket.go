package server

import (
	"io"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The browser client is served from arbitrary origins during
	// development; the protocol itself carries the authentication.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsStream adapts a WebSocket connection to the Stream interface so the
// same frame loop serves both transports. Each WebSocket message carries one
// protocol line; Read re-synthesizes the newline framing the TCP path uses.
type wsStream struct {
	conn *websocket.Conn
	buf  []byte
}

func (w *wsStream) Read(p []byte) (int, error) {
	for len(w.buf) == 0 {
		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			return 0, err
		}
		// Skip non-text messages; an empty read here would starve the
		// scanner into io.ErrNoProgress.
		if msgType != websocket.TextMessage || len(data) == 0 {
			continue
		}
		if data[len(data)-1] != '\n' {
			data = append(data, '\n')
		}
		w.buf = data
	}
	n := copy(p, w.buf)
	w.buf = w.buf[n:]
	return n, nil
}

func (w *wsStream) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsStream) Close() error {
	return w.conn.Close()
}

func (w *wsStream) RemoteAddr() net.Addr {
	return w.conn.RemoteAddr()
}

// HandleWebSocket upgrades an HTTP request and serves it with the same
// session semantics as a raw TCP connection.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		debugLog.Printf("WebSocket upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}

	s.serveStream(&wsStream{conn: conn}, "ws")
}
