package codec

import (
	"errors"
	"fmt"

	"github.com/rickgao/taprace/internal/connection"
)

// Subprotocols
const (
	JSONSubprotocol = "taprace.json"
	CBORSubprotocol = "taprace.cbor"
)

// ErrMissingCommand is returned when a frame carries no command.
var ErrMissingCommand = errors.New("frame has no command")

var (
	jsonCodec = JSON{}
	cborCodec = CBOR{}
)

// Subprotocols returns the subprotocols the server offers, preferred first.
func Subprotocols() []string {
	return []string{JSONSubprotocol, CBORSubprotocol}
}

// ForSubprotocol returns the codec for a negotiated subprotocol. Clients that
// negotiated none get JSON.
func ForSubprotocol(name string) connection.Codec {
	if name == CBORSubprotocol {
		return cborCodec
	}
	return jsonCodec
}

func checkInbound(in connection.Inbound) (connection.Inbound, error) {
	if in.Command == "" {
		return connection.Inbound{}, ErrMissingCommand
	}
	return in, nil
}

func decodeError(name string, err error) error {
	return fmt.Errorf("decode %s frame: %w", name, err)
}
