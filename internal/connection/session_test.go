package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// testCodec is a minimal JSON frame codec.
type testCodec struct{}

type testWire struct {
	Command     Command         `json:"command"`
	Destination string          `json:"destination,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

func (testCodec) Subprotocol() string { return "test.json" }
func (testCodec) MessageType() int    { return websocket.TextMessage }

func (testCodec) Encode(f Frame) ([]byte, error) {
	body, err := json.Marshal(f.Body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(testWire{Command: f.Command, Destination: f.Destination, Body: body})
}

func (c testCodec) Decode(data []byte) (Inbound, error) {
	var w testWire
	if err := json.Unmarshal(data, &w); err != nil {
		return Inbound{}, err
	}
	if w.Command == "" {
		return Inbound{}, errors.New("missing command")
	}
	return Inbound{Command: w.Command, Destination: w.Destination, Body: Body{Raw: w.Body, Codec: c}}, nil
}

func (testCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// echoHandler sends every SEND frame straight back to its sender.
type echoHandler struct {
	reg       *Registry
	frames    chan Inbound
	malformed chan error
	closed    chan *Handle
}

func newEchoHandler(reg *Registry) *echoHandler {
	return &echoHandler{
		reg:       reg,
		frames:    make(chan Inbound, 16),
		malformed: make(chan error, 16),
		closed:    make(chan *Handle, 4),
	}
}

func (e *echoHandler) HandleFrame(h *Handle, in Inbound) {
	e.frames <- in
	e.reg.Send(h, Frame{Command: CommandMessage, Destination: in.Destination, Body: json.RawMessage(in.Body.Raw)})
}

func (e *echoHandler) HandleMalformed(h *Handle, err error) { e.malformed <- err }

func (e *echoHandler) HandleClose(h *Handle) {
	e.reg.CloseAll(h)
	e.closed <- h
}

func testSessionConfig() SessionConfig {
	cfg := DefaultSessionConfig()
	cfg.WriteTimeout = time.Second
	return cfg
}

// sessionServer serves sessions over httptest. ids, when set, names each
// connection; otherwise ids are numbered.
func sessionServer(t *testing.T, reg *Registry, handler Handler, cfg SessionConfig, id string, runErr chan<- error) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	var n atomic.Int64

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		connID := id
		if connID == "" {
			connID = fmt.Sprintf("s%d", n.Add(1))
		}
		err = NewSession(connID, conn, testCodec{}, cfg, nil).Run(context.Background(), reg, handler)
		if runErr != nil {
			runErr <- err
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	return conn
}

func readWire(t *testing.T, conn *websocket.Conn) testWire {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	var w testWire
	if err := json.Unmarshal(data, &w); err != nil {
		t.Fatalf("bad frame %q: %v", data, err)
	}
	return w
}

func TestSession_EchoAndDisconnect(t *testing.T) {
	reg := newTestRegistry(t)
	handler := newEchoHandler(reg)
	server := sessionServer(t, reg, handler, testSessionConfig(), "", nil)
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	welcome := readWire(t, conn)
	if welcome.Command != CommandConnected {
		t.Fatalf("first frame = %s, want CONNECTED", welcome.Command)
	}
	var body Welcome
	json.Unmarshal(welcome.Body, &body)
	if body.ConnectionID != "s1" {
		t.Errorf("ConnectionID = %q, want s1", body.ConnectionID)
	}

	conn.WriteMessage(websocket.TextMessage, []byte(`{"command":"SEND","destination":"/app/echo","body":{"a":1}}`))

	echo := readWire(t, conn)
	if echo.Command != CommandMessage || echo.Destination != "/app/echo" {
		t.Errorf("echo = %s %s, want MESSAGE /app/echo", echo.Command, echo.Destination)
	}
	if string(echo.Body) != `{"a":1}` {
		t.Errorf("echo body = %s, want {\"a\":1}", echo.Body)
	}

	in := <-handler.frames
	var payload struct{ A int }
	if err := in.Body.Decode(&payload); err != nil || payload.A != 1 {
		t.Errorf("Decode = %+v, %v; want A=1", payload, err)
	}

	conn.WriteMessage(websocket.TextMessage, []byte(`not a frame`))
	select {
	case <-handler.malformed:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for malformed frame")
	}

	conn.WriteMessage(websocket.TextMessage, []byte(`{"command":"DISCONNECT"}`))
	select {
	case <-handler.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for HandleClose")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("ReadMessage error = %v, want normal close", err)
	}
}

func TestSession_DuplicateIDRefused(t *testing.T) {
	reg := newTestRegistry(t)
	handler := newEchoHandler(reg)
	runErr := make(chan error, 2)
	server := sessionServer(t, reg, handler, testSessionConfig(), "same", runErr)
	defer server.Close()

	first := dial(t, server)
	defer first.Close()
	readWire(t, first)

	second := dial(t, server)
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := second.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("second connection error = %v, want policy violation close", err)
	}

	select {
	case err := <-runErr:
		if !errors.Is(err, ErrDuplicateConnection) {
			t.Errorf("Run error = %v, want ErrDuplicateConnection", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for refused session")
	}
}

func TestSession_ShutdownClosesGoingAway(t *testing.T) {
	reg := newTestRegistry(t)
	handler := newEchoHandler(reg)
	server := sessionServer(t, reg, handler, testSessionConfig(), "", nil)
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()
	readWire(t, conn)

	// Frames queued before shutdown are still delivered.
	h, ok := reg.Lookup("s1")
	if !ok {
		t.Fatal("session not registered")
	}
	reg.Send(h, Frame{Command: CommandMessage, Destination: "/topic/last"})
	reg.CloseEverything()

	last := readWire(t, conn)
	if last.Destination != "/topic/last" {
		t.Errorf("last frame destination = %q, want /topic/last", last.Destination)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("ReadMessage error = %v, want going away close", err)
	}
}

func TestSession_StaleConnection(t *testing.T) {
	reg := newTestRegistry(t)
	handler := newEchoHandler(reg)
	runErr := make(chan error, 1)

	cfg := testSessionConfig()
	cfg.PingInterval = 0
	cfg.PongTimeout = 100 * time.Millisecond
	server := sessionServer(t, reg, handler, cfg, "", runErr)
	defer server.Close()

	// The client never reads, so it never answers anything.
	conn := dial(t, server)
	defer conn.Close()

	select {
	case err := <-runErr:
		if !errors.Is(err, ErrStaleConnection) {
			t.Errorf("Run error = %v, want ErrStaleConnection", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for stale connection")
	}

	if reg.Stats().Connections != 0 {
		t.Error("stale connection still registered")
	}
}

func TestSession_CloseIdempotent(t *testing.T) {
	var once sync.Once
	ready := make(chan *Session, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		once.Do(func() { ready <- NewSession("x", conn, testCodec{}, testSessionConfig(), nil) })
	}))
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	s := <-ready
	if err := s.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
