package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected        = errors.New("not connected")
	ErrStaleConnection     = errors.New("connection stale (no pong)")
	ErrAlreadyClosed       = errors.New("already closed")
	ErrDuplicateConnection = errors.New("connection id already registered")
	ErrSlowConsumer        = errors.New("slow consumer: outbox ceiling reached")
	ErrServerShutdown      = errors.New("server shutting down")
)

// State is the liveness of a registered connection.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// Command is the verb of a frame.
type Command string

const (
	// Client -> server
	CommandSend        Command = "SEND"
	CommandSubscribe   Command = "SUBSCRIBE"
	CommandUnsubscribe Command = "UNSUBSCRIBE"
	CommandDisconnect  Command = "DISCONNECT"

	// Server -> client
	CommandConnected Command = "CONNECTED"
	CommandMessage   Command = "MESSAGE"
	CommandError     Command = "ERROR"
)

// Frame is an outbound message queued for a connection. Body is encoded by
// the connection's codec when the frame is written.
type Frame struct {
	Command     Command
	Destination string
	Body        any
}

// Inbound is a decoded client frame.
type Inbound struct {
	Command     Command
	Destination string
	Body        Body
}

// Body is an undecoded frame body and the codec able to decode it.
type Body struct {
	Raw   []byte
	Codec Codec
}

// Decode unmarshals the body into v. An empty body leaves v untouched.
func (b Body) Decode(v any) error {
	if len(b.Raw) == 0 {
		return nil
	}
	if b.Codec == nil {
		return ErrNoCodec
	}
	return b.Codec.Unmarshal(b.Raw, v)
}

// ErrNoCodec is returned when a body has no codec attached.
var ErrNoCodec = errors.New("no codec for frame body")

// Codec converts frames to and from their wire form. One codec is chosen per
// connection at upgrade time.
type Codec interface {
	// Subprotocol is the WebSocket subprotocol that selects this codec.
	Subprotocol() string

	// MessageType is the WebSocket message type frames are written with.
	MessageType() int

	Encode(f Frame) ([]byte, error)
	Decode(data []byte) (Inbound, error)

	// Unmarshal decodes a raw frame body.
	Unmarshal(data []byte, v any) error
}

// Welcome is the body of the CONNECTED frame.
type Welcome struct {
	ConnectionID string `json:"connectionId"`
	Server       string `json:"server,omitempty"`
}

// RegistryConfig configures the Connection Registry.
type RegistryConfig struct {
	SendBuffer       int // Initial outbox capacity per connection
	MaxPendingFrames int // Outbox ceiling; exceeding it closes the connection
}

// DefaultRegistryConfig returns sensible defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		SendBuffer:       64,
		MaxPendingFrames: 1024,
	}
}

// SessionConfig configures a server-side WebSocket session.
type SessionConfig struct {
	WriteTimeout    time.Duration // Write deadline for each frame
	PingInterval    time.Duration // How often the server pings
	PongTimeout     time.Duration // Max silence before the connection is stale
	MaxMessageBytes int64         // Read limit per client frame
	WriteBatch      int           // Frames drained from the outbox per wakeup
	Server          string        // Reported in the CONNECTED frame
}

// DefaultSessionConfig returns sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		WriteTimeout:    5 * time.Second,
		PingInterval:    25 * time.Second,
		PongTimeout:     60 * time.Second,
		MaxMessageBytes: 64 * 1024,
		WriteBatch:      32,
	}
}

// Observer receives registry and session events. Metrics implement it.
type Observer interface {
	ConnectionOpened()
	ConnectionClosed()
	FramesPublished(n int)
	FrameDropped(reason string)
}

type nopObserver struct{}

func (nopObserver) ConnectionOpened()   {}
func (nopObserver) ConnectionClosed()   {}
func (nopObserver) FramesPublished(int) {}
func (nopObserver) FrameDropped(string) {}
