// Package protocol defines the wire format shared by the relay broker, the
// host bridge, and clients: one JSON object per WebSocket text frame.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// Type tags a wire message.
type Type string

const (
	// Session types, forwarded verbatim by the relay.
	TypeAuth        Type = "auth"
	TypeAuthOK      Type = "auth_ok"
	TypeStdinInput  Type = "stdin_input"
	TypeStdoutChunk Type = "stdout_chunk"
	TypeResize      Type = "resize"
	TypeSignal      Type = "signal"
	TypePing        Type = "ping"
	TypePong        Type = "pong"
	TypeError       Type = "error"

	// Relay control types, consumed by the broker itself.
	TypeHostRegister   Type = "host_register"
	TypeHostRegistered Type = "host_registered"
	TypeClientConnect  Type = "client_connect"
	TypeClientReady    Type = "client_ready"
)

// Input modes for stdin_input.
const (
	ModeText = "text"
	ModeVT   = "vt"
)

// Signal names accepted by the signal message.
const (
	SignalInt   = "INT"
	SignalBreak = "BREAK"
)

// Error codes carried by error messages.
const (
	CodeAuthFailed   = "AUTH_FAILED"
	CodeTerminalFail = "TERMINAL_FAILED"
	CodeBadMessage   = "BAD_MESSAGE"
)

// PTYSize is the negotiated terminal geometry in character cells.
type PTYSize struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// Message is the tagged union crossing the wire. Every variant carries Type
// and Timestamp; the remaining fields are populated per variant and omitted
// otherwise.
type Message struct {
	Type      Type  `json:"type"`
	Timestamp int64 `json:"timestamp,omitempty"` // unix milliseconds

	// auth / relay control
	DeviceKey     string `json:"device_key,omitempty"`
	HostID        string `json:"host_id,omitempty"`
	ClientVersion string `json:"client_version,omitempty"`
	Token         string `json:"token,omitempty"`

	// auth_ok
	PTY   *PTYSize `json:"pty,omitempty"`
	Shell string   `json:"shell,omitempty"`

	// stdin_input ("text" or "vt") and stdout_chunk (base64)
	Mode string `json:"mode,omitempty"`
	Data string `json:"data,omitempty"`

	// resize
	Cols int `json:"cols,omitempty"`
	Rows int `json:"rows,omitempty"`

	// signal
	Name string `json:"name,omitempty"`

	// error
	Code string `json:"code,omitempty"`
	Text string `json:"message,omitempty"`
}

// Now returns the current time as a wire timestamp.
func Now() int64 {
	return time.Now().UnixMilli()
}

// Stamp fills in the timestamp if the sender left it zero.
func (m *Message) Stamp() {
	if m.Timestamp == 0 {
		m.Timestamp = Now()
	}
}

// Encode marshals m as a single JSON text frame.
func Encode(m Message) ([]byte, error) {
	m.Stamp()
	return json.Marshal(m)
}

// Decode parses one text frame into a Message.
func Decode(frame []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(frame, &m)
	return m, err
}

// IsRelayControl reports whether the broker consumes this type itself
// instead of forwarding it to the paired peer.
func IsRelayControl(t Type) bool {
	switch t {
	case TypeHostRegister, TypeHostRegistered, TypeClientConnect, TypeClientReady, TypePing:
		return true
	}
	return false
}

// StdoutChunk wraps raw terminal output for the text transport.
func StdoutChunk(p []byte) Message {
	return Message{
		Type:      TypeStdoutChunk,
		Data:      base64.StdEncoding.EncodeToString(p),
		Timestamp: Now(),
	}
}

// ChunkBytes recovers the raw output carried by a stdout_chunk.
func ChunkBytes(m Message) ([]byte, error) {
	return base64.StdEncoding.DecodeString(m.Data)
}

// StdinVT wraps raw input bytes in transport-safe vt mode.
func StdinVT(p []byte) Message {
	return Message{
		Type:      TypeStdinInput,
		Mode:      ModeVT,
		Data:      base64.StdEncoding.EncodeToString(p),
		Timestamp: Now(),
	}
}

// InputBytes returns the bytes a stdin_input should write to the terminal.
// Text mode passes through as-is; vt mode is transport-decoded first.
func InputBytes(m Message) ([]byte, error) {
	if m.Mode == ModeVT {
		return base64.StdEncoding.DecodeString(m.Data)
	}
	return []byte(m.Data), nil
}
