package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Handler consumes what a session reads from its client.
type Handler interface {
	// HandleFrame is called for every decoded client frame, in arrival order.
	HandleFrame(h *Handle, in Inbound)

	// HandleMalformed is called for a client frame that could not be decoded.
	HandleMalformed(h *Handle, err error)

	// HandleClose is called once when the read side ends.
	HandleClose(h *Handle)
}

// Session is one accepted WebSocket connection.
type Session struct {
	id     string
	cfg    SessionConfig
	codec  Codec
	logger *slog.Logger

	conn *websocket.Conn

	done      chan struct{}
	writeDone chan struct{}

	// State
	mu     sync.Mutex
	handle *Handle
	closed bool
}

// NewSession wraps an upgraded connection.
func NewSession(id string, conn *websocket.Conn, codec Codec, cfg SessionConfig, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		id:        id,
		cfg:       cfg,
		codec:     codec,
		logger:    logger.With("conn_id", id),
		conn:      conn,
		done:      make(chan struct{}),
		writeDone: make(chan struct{}),
	}
}

// ID returns the connection id.
func (s *Session) ID() string { return s.id }

// Run registers the session, serves it until the client goes away or ctx is
// cancelled, and then tears it down.
func (s *Session) Run(ctx context.Context, reg *Registry, handler Handler) error {
	h, err := reg.Register(s)
	if err != nil {
		s.closeWith(websocket.ClosePolicyViolation, err.Error())
		close(s.writeDone)
		s.Close()
		return fmt.Errorf("register %s: %w", s.id, err)
	}

	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	s.extendReadDeadline()
	s.conn.SetPongHandler(func(string) error {
		return s.extendReadDeadline()
	})

	go s.writeLoop(h.outbox)
	go s.heartbeatLoop()

	reg.Send(h, Frame{
		Command: CommandConnected,
		Body:    Welcome{ConnectionID: s.id, Server: s.cfg.Server},
	})

	s.logger.Debug("session started", "subprotocol", s.codec.Subprotocol())

	err = s.readLoop(h, handler)
	handler.HandleClose(h)

	// Give the handler a chance to flush what it queued before the socket goes.
	select {
	case <-s.writeDone:
	case <-time.After(s.cfg.WriteTimeout):
		s.logger.Debug("outbox not drained before close")
	}
	s.Close()

	s.logger.Debug("session ended", "error", err)
	return err
}

// Close tears the session down. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	h := s.handle
	s.mu.Unlock()

	close(s.done)

	// Unblocks the write loop if the registry never closed the outbox.
	if h != nil {
		h.outbox.Close()
	}
	return s.conn.Close()
}

// extendReadDeadline pushes the read deadline out by the pong timeout.
func (s *Session) extendReadDeadline() error {
	if s.cfg.PongTimeout <= 0 {
		return nil
	}
	return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
}

// readLoop decodes client frames until the connection ends. A nil return means
// the client disconnected cleanly.
func (s *Session) readLoop(h *Handle, handler Handler) error {
	for {
		select {
		case <-s.done:
			return nil
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return fmt.Errorf("%w: %v", ErrStaleConnection, err)
			}
			return err
		}
		s.extendReadDeadline()

		in, err := s.codec.Decode(data)
		if err != nil {
			s.logger.Debug("undecodable frame", "error", err, "bytes", len(data))
			handler.HandleMalformed(h, err)
			continue
		}
		if in.Command == CommandDisconnect {
			return nil
		}
		handler.HandleFrame(h, in)
	}
}

// writeLoop drains the outbox onto the socket until it is closed, then says
// goodbye with a close code matching why it closed.
func (s *Session) writeLoop(out *Outbox) {
	defer close(s.writeDone)

	for {
		frames, ok := out.Next(s.cfg.WriteBatch)
		if !ok {
			break
		}
		for _, f := range frames {
			if err := s.write(f); err != nil {
				s.logger.Debug("write failed", "error", err)
				s.conn.Close()
				return
			}
		}
	}

	code, reason := websocket.CloseNormalClosure, ""
	switch err := out.Err(); {
	case errors.Is(err, ErrSlowConsumer):
		code, reason = websocket.CloseTryAgainLater, "slow consumer"
	case errors.Is(err, ErrServerShutdown):
		code, reason = websocket.CloseGoingAway, "server shutting down"
	}
	s.closeWith(code, reason)
}

func (s *Session) write(f Frame) error {
	data, err := s.codec.Encode(f)
	if err != nil {
		// A frame we cannot encode is dropped; the connection stays usable.
		s.logger.Error("encode frame", "error", err, "command", f.Command, "destination", f.Destination)
		return nil
	}

	s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return s.conn.WriteMessage(s.codec.MessageType(), data)
}

// closeWith sends a close frame and closes the socket.
func (s *Session) closeWith(code int, reason string) {
	s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
	s.conn.Close()
}

// heartbeatLoop pings the client so the read deadline keeps moving while the
// connection is healthy.
func (s *Session) heartbeatLoop() {
	if s.cfg.PingInterval <= 0 {
		return
	}

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.writeDone:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				s.logger.Debug("failed to send ping", "error", err)
				return
			}
		}
	}
}
