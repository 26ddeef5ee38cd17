package model

import "fmt"

// MessageTag names the kind of room notification.
type MessageTag string

const (
	TagRoomCreated  MessageTag = "ROOM_CREATED"
	TagPlayerJoined MessageTag = "PLAYER_JOINED"
	TagPlayerLeft   MessageTag = "PLAYER_LEFT"
	TagPressUpdated MessageTag = "PRESS_UPDATED"
	TagGameStarted  MessageTag = "GAME_STARTED"
	TagRoomClosed   MessageTag = "ROOM_CLOSED"
)

// Valid reports whether t is one of the known tags.
func (t MessageTag) Valid() bool {
	switch t {
	case TagRoomCreated, TagPlayerJoined, TagPlayerLeft,
		TagPressUpdated, TagGameStarted, TagRoomClosed:
		return true
	}
	return false
}

// Event is the broadcast payload describing a room after a mutation.
type Event struct {
	RoomID  string     `json:"roomId"`
	Players []Player   `json:"players"`
	Message MessageTag `json:"message"`
	Phase   Phase      `json:"phase"`
	Winner  string     `json:"winner,omitempty"`
	Version uint64     `json:"version"`
}

// NewEvent builds an event from a snapshot. The tag must be one of the known
// message tags.
func NewEvent(tag MessageTag, snap Snapshot) (Event, error) {
	if !tag.Valid() {
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownMessageTag, tag)
	}

	players := make([]Player, len(snap.Players))
	copy(players, snap.Players)

	return Event{
		RoomID:  snap.RoomID,
		Players: players,
		Message: tag,
		Phase:   snap.Phase,
		Winner:  snap.WinnerID,
		Version: snap.Version,
	}, nil
}

// EventFor builds the event matching the change recorded in the snapshot.
func EventFor(snap Snapshot) (Event, error) {
	return NewEvent(snap.Change.Tag(), snap)
}

// ErrorBody is the sender-only payload describing a rejected request.
type ErrorBody struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Destination string `json:"destination,omitempty"`
}

// NewErrorBody converts err into its wire form.
func NewErrorBody(err error, destination string) ErrorBody {
	return ErrorBody{
		Code:        Code(err),
		Message:     err.Error(),
		Destination: destination,
	}
}
