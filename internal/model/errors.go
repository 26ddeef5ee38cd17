package model

import "errors"

// Domain errors. All of them are recovered at the broker boundary and echoed
// to the sender only.
var (
	ErrMalformedRequest       = errors.New("malformed request")
	ErrRoomNotFound           = errors.New("room not found")
	ErrPlayerNotInRoom        = errors.New("player not in room")
	ErrRoomFull               = errors.New("room full")
	ErrRoomClosed             = errors.New("room closed")
	ErrInvalidPhaseTransition = errors.New("invalid phase transition")
	ErrPlayerInAnotherRoom    = errors.New("player already seated in another room")
	ErrAlreadyInRoom          = errors.New("player already in room")
	ErrIDSpaceExhausted       = errors.New("room id space exhausted")
	ErrUnknownMessageTag      = errors.New("unknown message tag")
)

// Wire error codes.
const (
	CodeMalformedRequest       = "MALFORMED_REQUEST"
	CodeRoomNotFound           = "ROOM_NOT_FOUND"
	CodePlayerNotInRoom        = "PLAYER_NOT_IN_ROOM"
	CodeRoomFull               = "ROOM_FULL"
	CodeRoomClosed             = "ROOM_CLOSED"
	CodeInvalidPhaseTransition = "INVALID_PHASE_TRANSITION"
	CodePlayerInAnotherRoom    = "PLAYER_IN_ANOTHER_ROOM"
	CodeAlreadyInRoom          = "ALREADY_IN_ROOM"
	CodeInternal               = "INTERNAL"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrMalformedRequest, CodeMalformedRequest},
	{ErrRoomNotFound, CodeRoomNotFound},
	{ErrPlayerNotInRoom, CodePlayerNotInRoom},
	{ErrRoomFull, CodeRoomFull},
	{ErrRoomClosed, CodeRoomClosed},
	{ErrInvalidPhaseTransition, CodeInvalidPhaseTransition},
	{ErrPlayerInAnotherRoom, CodePlayerInAnotherRoom},
	{ErrAlreadyInRoom, CodeAlreadyInRoom},
}

// Code maps an error onto its wire code. Anything unrecognised is INTERNAL.
func Code(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeInternal
}
