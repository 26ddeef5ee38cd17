package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewEvent(t *testing.T) {
	snap := Snapshot{
		RoomID: "room-1",
		Players: []Player{
			{ID: "a", Name: "Alice", Status: StatusIdle},
			{ID: "b", Name: "Bob", Status: StatusReady, PressCount: 3},
		},
		Phase:   PhaseInProgress,
		Version: 7,
		Change:  ChangePress,
	}

	ev, err := NewEvent(TagPressUpdated, snap)
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	if ev.RoomID != "room-1" {
		t.Errorf("RoomID = %q, want %q", ev.RoomID, "room-1")
	}
	if ev.Message != TagPressUpdated {
		t.Errorf("Message = %q, want %q", ev.Message, TagPressUpdated)
	}
	if len(ev.Players) != 2 {
		t.Fatalf("Players = %d, want 2", len(ev.Players))
	}
	if ev.Version != 7 {
		t.Errorf("Version = %d, want 7", ev.Version)
	}

	// The event owns its own roster.
	snap.Players[0].Name = "changed"
	if ev.Players[0].Name != "Alice" {
		t.Errorf("Players[0].Name = %q, want %q", ev.Players[0].Name, "Alice")
	}
}

func TestNewEvent_RejectsUnknownTag(t *testing.T) {
	_, err := NewEvent(MessageTag("GAME_PAUSED"), Snapshot{RoomID: "r"})
	if !errors.Is(err, ErrUnknownMessageTag) {
		t.Errorf("NewEvent error = %v, want ErrUnknownMessageTag", err)
	}
}

func TestChangeTag(t *testing.T) {
	tests := []struct {
		change Change
		want   MessageTag
	}{
		{ChangeCreated, TagRoomCreated},
		{ChangeJoined, TagPlayerJoined},
		{ChangeLeft, TagPlayerLeft},
		{ChangeStatus, TagPressUpdated},
		{ChangePress, TagPressUpdated},
		{ChangeFinished, TagPressUpdated},
		{ChangeStarted, TagGameStarted},
		{ChangeDeleted, TagRoomClosed},
		{ChangeClosed, TagRoomClosed},
	}

	for _, tt := range tests {
		t.Run(tt.change.String(), func(t *testing.T) {
			if got := tt.change.Tag(); got != tt.want {
				t.Errorf("Tag() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := ParseStatus("READY"); err != nil || s != StatusReady {
		t.Errorf("ParseStatus(READY) = %q, %v", s, err)
	}
	if _, err := ParseStatus("ready"); !errors.Is(err, ErrMalformedRequest) {
		t.Errorf("ParseStatus(ready) error = %v, want ErrMalformedRequest", err)
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrRoomNotFound, CodeRoomNotFound},
		{fmt.Errorf("join r1: %w", ErrRoomFull), CodeRoomFull},
		{fmt.Errorf("%w: bad status", ErrMalformedRequest), CodeMalformedRequest},
		{ErrInvalidPhaseTransition, CodeInvalidPhaseTransition},
		{ErrIDSpaceExhausted, CodeInternal},
		{errors.New("boom"), CodeInternal},
	}

	for _, tt := range tests {
		if got := Code(tt.err); got != tt.want {
			t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestSnapshotDeleted(t *testing.T) {
	if (Snapshot{Change: ChangeLeft}).Deleted() {
		t.Error("ChangeLeft snapshot reported as deleted")
	}
	if !(Snapshot{Change: ChangeDeleted}).Deleted() {
		t.Error("ChangeDeleted snapshot not reported as deleted")
	}
}
