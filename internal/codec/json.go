package codec

import (
	"encoding/json"

	"github.com/gorilla/websocket"

	"github.com/rickgao/taprace/internal/connection"
)

// JSON encodes frames as JSON text messages.
type JSON struct{}

type jsonOutbound struct {
	Command     connection.Command `json:"command"`
	Destination string             `json:"destination,omitempty"`
	Body        any                `json:"body,omitempty"`
}

type jsonInbound struct {
	Command     connection.Command `json:"command"`
	Destination string             `json:"destination,omitempty"`
	Body        json.RawMessage    `json:"body,omitempty"`
}

func (JSON) Subprotocol() string { return JSONSubprotocol }
func (JSON) MessageType() int    { return websocket.TextMessage }

func (JSON) Encode(f connection.Frame) ([]byte, error) {
	return json.Marshal(jsonOutbound{
		Command:     f.Command,
		Destination: f.Destination,
		Body:        f.Body,
	})
}

func (c JSON) Decode(data []byte) (connection.Inbound, error) {
	var w jsonInbound
	if err := json.Unmarshal(data, &w); err != nil {
		return connection.Inbound{}, decodeError("json", err)
	}
	return checkInbound(connection.Inbound{
		Command:     w.Command,
		Destination: w.Destination,
		Body:        connection.Body{Raw: w.Body, Codec: c},
	})
}

func (JSON) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
