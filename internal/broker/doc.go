// Package broker routes client frames to rooms and fans room events out to
// subscribers.
//
// Work is keyed by connection: every frame from one connection, including
// its disconnect, runs on the same worker in arrival order, while different
// connections run in parallel. Events are published from inside the Room
// Store's commit hook, so every subscriber sees a room's events in the order
// the room changed.
package broker
