// Package connection implements the Connection Registry and the server side of
// each WebSocket connection.
//
// The Registry:
//   - Admits connections and assigns each a registration sequence number
//   - Tracks topic subscriptions per connection
//   - Publishes frames to every open subscriber in registration order
//   - Never blocks a publisher on a slow connection; a connection whose
//     outbox hits its ceiling is closed as a slow consumer
//
// A Session owns one upgraded socket: a read loop feeding a Handler, a write
// loop draining the connection's Outbox, and a ping heartbeat.
package connection
