package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeDeadline = 10 * time.Second
	// Clients ping at least once a minute; five minutes of silence means
	// the connection is gone.
	readDeadline = 5 * time.Minute
)

// WriteTyped sends a typed event payload with a write deadline.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return conn.WriteJSON(v)
}

// WriteError sends an ErrorResponse for the given message.
func WriteError(conn *websocket.Conn, errMsg string) error {
	return WriteTyped(conn, ErrorResponse{
		Event: EventError,
		Error: errMsg,
	})
}

// ReadRaw reads one message's raw bytes. The caller decodes the action
// envelope first and then the action-specific payload.
func ReadRaw(conn *websocket.Conn) ([]byte, error) {
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	_, raw, err := conn.ReadMessage()
	return raw, err
}
