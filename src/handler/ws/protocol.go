package ws

import jsoniter "github.com/json-iterator/go"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Message types, client to server.
const (
	TypeAttach        = "attach"
	TypeDetach        = "detach"
	TypeDetachClient  = "detach_client"
	TypeHistoryLoaded = "history_loaded"
	TypeStdin         = "stdin"
	TypeResize        = "resize"
	TypePing          = "ping"
)

// Message types, server to client.
const (
	TypeAttached     = "attached"
	TypeDetached     = "detached"
	TypeStdout       = "stdout"
	TypeSessionEnded = "session_ended"
	TypeError        = "error"
	TypeNotification = "notification"
	TypePong         = "pong"
	TypeShutdown     = "shutdown"
)

// ClientMessage is one JSON text frame from a client. A single struct with
// optional fields; Type selects which are meaningful.
type ClientMessage struct {
	Type         string  `json:"type"`
	SessionID    string  `json:"session_id,omitempty"`
	TargetConnID string  `json:"target_conn_id,omitempty"`
	Data         string  `json:"data,omitempty"`
	Cols         float64 `json:"cols,omitempty"`
	Rows         float64 `json:"rows,omitempty"`
	Timestamp    int64   `json:"timestamp,omitempty"`
}

// ServerMessage is one JSON text frame to a client.
type ServerMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`

	// stdout
	Data      string `json:"data,omitempty"`
	FromQueue bool   `json:"from_queue,omitempty"`

	// attached
	HistoryMarker     *uint64 `json:"history_marker,omitempty"`
	HistoryByteOffset *uint64 `json:"history_byte_offset,omitempty"`
	ShouldLoadHistory *bool   `json:"should_load_history,omitempty"`

	// session_ended
	ExitCode *int   `json:"exit_code,omitempty"`
	EndedAt  string `json:"ended_at,omitempty"`

	// error
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`

	// pong
	Timestamp int64 `json:"timestamp,omitempty"`

	// notification passthrough; the runtime never inspects it
	Payload jsoniter.RawMessage `json:"payload,omitempty"`
}

// Control reports whether the frame is a control message. Control frames are
// never dropped by backpressure; they evict queued stdout instead.
func (m ServerMessage) Control() bool {
	return m.Type != TypeStdout
}

// Attached builds the attach acknowledgement frame.
func Attached(sessionID string, marker uint64, shouldLoad bool) ServerMessage {
	offset := marker
	return ServerMessage{
		Type:              TypeAttached,
		SessionID:         sessionID,
		HistoryMarker:     &marker,
		HistoryByteOffset: &offset,
		ShouldLoadHistory: &shouldLoad,
	}
}

// Detached builds the detach notification frame.
func Detached(sessionID string) ServerMessage {
	return ServerMessage{Type: TypeDetached, SessionID: sessionID}
}

// Stdout builds a live or queued output frame.
func Stdout(sessionID string, data []byte, fromQueue bool) ServerMessage {
	return ServerMessage{
		Type:      TypeStdout,
		SessionID: sessionID,
		Data:      string(data),
		FromQueue: fromQueue,
	}
}

// SessionEnded builds the terminal frame for a session. It is the last frame
// a connection receives for that session.
func SessionEnded(sessionID string, exitCode int, endedAt string) ServerMessage {
	return ServerMessage{
		Type:      TypeSessionEnded,
		SessionID: sessionID,
		ExitCode:  &exitCode,
		EndedAt:   endedAt,
	}
}

// Error builds an error frame with a stable code.
func Error(sessionID, code, message string) ServerMessage {
	return ServerMessage{Type: TypeError, SessionID: sessionID, Code: code, Message: message}
}

// Pong echoes a ping timestamp.
func Pong(timestamp int64) ServerMessage {
	return ServerMessage{Type: TypePong, Timestamp: timestamp}
}

// Shutdown announces server shutdown to a connection.
func Shutdown() ServerMessage {
	return ServerMessage{Type: TypeShutdown}
}
