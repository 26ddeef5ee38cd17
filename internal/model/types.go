package model

import "fmt"

// -----------------------------------------------------------------------------
// Room State
// -----------------------------------------------------------------------------

// Phase is the lifecycle phase of a room.
type Phase string

const (
	PhaseWaiting    Phase = "WAITING"
	PhaseInProgress Phase = "IN_PROGRESS"
	PhaseFinished   Phase = "FINISHED"
)

// Status is a player's per-room readiness flag.
type Status string

const (
	StatusIdle  Status = "IDLE"
	StatusReady Status = "READY"
)

// ParseStatus converts a wire value into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusIdle, StatusReady:
		return Status(s), nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrMalformedRequest, s)
}

// Player is a seated member of a room.
type Player struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Status     Status `json:"status"`
	PressCount int    `json:"pressCount"`
}

// Change records which mutation produced a snapshot.
type Change int

const (
	ChangeCreated Change = iota + 1
	ChangeJoined
	ChangeLeft
	ChangeStatus
	ChangePress
	ChangeStarted
	ChangeFinished
	ChangeDeleted
	ChangeClosed
)

var changeNames = map[Change]string{
	ChangeCreated:  "created",
	ChangeJoined:   "joined",
	ChangeLeft:     "left",
	ChangeStatus:   "status",
	ChangePress:    "press",
	ChangeStarted:  "started",
	ChangeFinished: "finished",
	ChangeDeleted:  "deleted",
	ChangeClosed:   "closed",
}

func (c Change) String() string {
	if s, ok := changeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("change(%d)", int(c))
}

// Tag returns the broadcast message tag for a change.
func (c Change) Tag() MessageTag {
	switch c {
	case ChangeCreated:
		return TagRoomCreated
	case ChangeJoined:
		return TagPlayerJoined
	case ChangeLeft:
		return TagPlayerLeft
	case ChangeStatus, ChangePress, ChangeFinished:
		return TagPressUpdated
	case ChangeStarted:
		return TagGameStarted
	case ChangeDeleted, ChangeClosed:
		return TagRoomClosed
	}
	return ""
}

// Snapshot is an immutable copy of a room taken right after a mutation.
type Snapshot struct {
	RoomID   string
	Players  []Player // Join order
	Phase    Phase
	HostID   string
	WinnerID string
	Capacity int
	Target   int    // Presses needed to win
	Version  uint64 // Bumped on every committed mutation
	Change   Change
}

// Player returns the seated player with the given id.
func (s Snapshot) Player(id string) (Player, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// Deleted reports whether the room no longer exists after this change.
func (s Snapshot) Deleted() bool {
	return s.Change == ChangeDeleted || s.Change == ChangeClosed
}
