// Package codec provides the wire codecs for client frames.
//
// Two codecs exist, chosen per connection by WebSocket subprotocol:
// taprace.json (text frames, the default) and taprace.cbor (binary frames,
// Core Deterministic Encoding). Both carry the same frame shape:
// {command, destination, body}.
package codec
