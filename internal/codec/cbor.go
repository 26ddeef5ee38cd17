package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"

	"github.com/rickgao/taprace/internal/connection"
)

// encMode uses Core Deterministic Encoding: the same event always produces
// the same bytes for every subscriber.
var encMode cbor.EncMode

// decMode decodes untyped maps as map[string]any so bodies can be inspected
// the same way as JSON ones.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBOR encodes frames as CBOR binary messages. Struct fields use their json
// tags, so the payload shape matches the JSON codec.
type CBOR struct{}

type cborOutbound struct {
	Command     connection.Command `cbor:"command"`
	Destination string             `cbor:"destination,omitempty"`
	Body        any                `cbor:"body,omitempty"`
}

type cborInbound struct {
	Command     connection.Command `cbor:"command"`
	Destination string             `cbor:"destination,omitempty"`
	Body        cbor.RawMessage    `cbor:"body,omitempty"`
}

func (CBOR) Subprotocol() string { return CBORSubprotocol }
func (CBOR) MessageType() int    { return websocket.BinaryMessage }

func (CBOR) Encode(f connection.Frame) ([]byte, error) {
	return encMode.Marshal(cborOutbound{
		Command:     f.Command,
		Destination: f.Destination,
		Body:        f.Body,
	})
}

func (c CBOR) Decode(data []byte) (connection.Inbound, error) {
	var w cborInbound
	if err := decMode.Unmarshal(data, &w); err != nil {
		return connection.Inbound{}, decodeError("cbor", err)
	}
	return checkInbound(connection.Inbound{
		Command:     w.Command,
		Destination: w.Destination,
		Body:        connection.Body{Raw: w.Body, Codec: c},
	})
}

func (CBOR) Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
