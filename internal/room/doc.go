// Package room implements the Room Store.
//
// The store owns every live room in memory. Mutations on one room are
// serialized by that room's own mutex; rooms are indexed by a sync.Map so
// operations on different rooms never contend on a shared lock.
//
// Every mutating call accepts a CommitFunc that runs after the mutation
// succeeds while the room is still held. Publishing from the commit hook is
// what keeps event order equal to mutation order for a room.
package room
