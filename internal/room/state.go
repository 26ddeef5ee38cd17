package room

import (
	"sync"

	"github.com/rickgao/taprace/internal/model"
)

// roomState is a single room. All fields are guarded by mu.
type roomState struct {
	mu sync.Mutex

	id       string
	players  []model.Player // Join order
	phase    model.Phase
	hostID   string
	winnerID string
	capacity int
	target   int
	version  uint64

	// Set once the room has been removed from the index. A caller that
	// looked the room up before removal sees this and reports not found.
	deleted bool
}

func newRoomState(id string, cfg Config) *roomState {
	return &roomState{
		id:       id,
		phase:    model.PhaseWaiting,
		capacity: cfg.Capacity,
		target:   cfg.TargetPresses,
	}
}

// indexOf returns the roster position of a player (caller must hold mu).
func (r *roomState) indexOf(playerID string) int {
	for i := range r.players {
		if r.players[i].ID == playerID {
			return i
		}
	}
	return -1
}

// commitLocked bumps the version and returns a snapshot (caller must hold mu).
func (r *roomState) commitLocked(change model.Change) model.Snapshot {
	r.version++
	return r.snapshotLocked(change)
}

// snapshotLocked copies the room (caller must hold mu).
func (r *roomState) snapshotLocked(change model.Change) model.Snapshot {
	players := make([]model.Player, len(r.players))
	copy(players, r.players)

	return model.Snapshot{
		RoomID:   r.id,
		Players:  players,
		Phase:    r.phase,
		HostID:   r.hostID,
		WinnerID: r.winnerID,
		Capacity: r.capacity,
		Target:   r.target,
		Version:  r.version,
		Change:   change,
	}
}

// leaderLocked returns the player with the most presses, earliest joiner on
// ties (caller must hold mu).
func (r *roomState) leaderLocked() string {
	leader := ""
	best := -1
	for _, p := range r.players {
		if p.PressCount > best {
			best = p.PressCount
			leader = p.ID
		}
	}
	return leader
}
