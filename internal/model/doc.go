// Package model defines the shared room types used across the taprace broker.
//
// Conventions:
//   - IDs: uuid strings for rooms and connections, opaque strings for players
//   - Snapshots are immutable copies; callers may keep them without locking
//   - Message tags form a closed set, validated by NewEvent
package model
