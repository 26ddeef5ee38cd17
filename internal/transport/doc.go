// Package transport is the HTTP edge of the server.
//
// It upgrades WebSocket requests at the connect path, picks a frame codec
// from the negotiated subprotocol and runs one connection.Session per
// client. /health and /debug/rooms report server state as JSON; the
// Prometheus handler is mounted when configured.
//
// Shutdown happens in two steps. Run stops accepting when its context ends,
// while sessions stay open so the broker can close rooms and send going-away
// frames. Wait then blocks until the sessions are gone.
package transport
