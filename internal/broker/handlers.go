package broker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rickgao/taprace/internal/connection"
	"github.com/rickgao/taprace/internal/model"
	"github.com/rickgao/taprace/internal/room"
)

// Request bodies. userName and pressCount are the field names the legacy
// web client sends.

type createRequest struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	UserName   string `json:"userName"`
}

type joinRequest struct {
	RoomID     string `json:"roomId"`
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	UserName   string `json:"userName"`
}

type roomRequest struct {
	RoomID string `json:"roomId"`
}

type pressRequest struct {
	RoomID     string `json:"roomId"`
	Count      *int   `json:"count"`
	PressCount *int   `json:"pressCount"`
}

type statusRequest struct {
	RoomID string `json:"roomId"`
	Status string `json:"status"`
}

// Reply is the sender-only answer to create and join.
type Reply struct {
	model.Event
	PlayerID string `json:"playerId"`
}

// Limits bounds request fields.
type Limits struct {
	MaxNameLength int // In runes, 0 = unlimited
	MaxPressBatch int // Max presses per request, 0 = unlimited
}

// request is one unit of client work.
type request struct {
	action      Action
	destination string
	sender      *connection.Handle
	body        connection.Body
}

type handlerFunc func(b *Broker, req request) error

var handlers = map[Action]handlerFunc{
	ActionCreate: handleCreate,
	ActionJoin:   handleJoin,
	ActionLeave:  handleLeave,
	ActionStart:  handleStart,
	ActionPress:  handlePress,
	ActionStatus: handleStatus,
	ActionEnd:    handleEnd,
}

func handleCreate(b *Broker, req request) error {
	var body createRequest
	if err := decode(req.body, &body); err != nil {
		return err
	}
	name, err := b.limits.name(firstNonEmpty(body.PlayerName, body.UserName))
	if err != nil {
		return err
	}

	player, err := b.bind(req.sender, body.PlayerID, name)
	if err != nil {
		return err
	}

	_, err = b.store.CreateRoom(player, func(snap model.Snapshot) {
		b.registry.Subscribe(req.sender, b.dest.RoomTopic(snap.RoomID))
		b.publish(snap)
		b.reply(req.sender, player.ID, snap)
	})
	return err
}

func handleJoin(b *Broker, req request) error {
	var body joinRequest
	if err := decode(req.body, &body); err != nil {
		return err
	}
	roomID, err := requireRoom(body.RoomID)
	if err != nil {
		return err
	}
	name, err := b.limits.name(firstNonEmpty(body.PlayerName, body.UserName))
	if err != nil {
		return err
	}

	player, err := b.bind(req.sender, body.PlayerID, name)
	if err != nil {
		return err
	}

	_, err = b.store.JoinRoom(roomID, player, func(snap model.Snapshot) {
		b.registry.Subscribe(req.sender, b.dest.RoomTopic(snap.RoomID))
		b.publish(snap)
		b.reply(req.sender, player.ID, snap)
	})
	return err
}

func handleLeave(b *Broker, req request) error {
	var body roomRequest
	if err := decode(req.body, &body); err != nil {
		return err
	}
	roomID, err := requireRoom(body.RoomID)
	if err != nil {
		return err
	}
	player, err := b.boundPlayer(req.sender)
	if err != nil {
		return err
	}

	_, _, err = b.store.LeaveRoom(roomID, player.ID, b.leaveCommit(req.sender))
	return err
}

func handleStart(b *Broker, req request) error {
	roomID, err := b.memberRoom(req)
	if err != nil {
		return err
	}
	_, err = b.store.StartGame(roomID, b.publish)
	return err
}

func handleEnd(b *Broker, req request) error {
	roomID, err := b.memberRoom(req)
	if err != nil {
		return err
	}
	_, err = b.store.FinishGame(roomID, b.publish)
	return err
}

func handlePress(b *Broker, req request) error {
	var body pressRequest
	if err := decode(req.body, &body); err != nil {
		return err
	}
	roomID, err := requireRoom(body.RoomID)
	if err != nil {
		return err
	}
	count, err := b.limits.pressCount(body.Count, body.PressCount)
	if err != nil {
		return err
	}
	player, err := b.boundPlayer(req.sender)
	if err != nil {
		return err
	}

	_, err = b.store.Press(roomID, player.ID, count, b.publish)
	return err
}

func handleStatus(b *Broker, req request) error {
	var body statusRequest
	if err := decode(req.body, &body); err != nil {
		return err
	}
	roomID, err := requireRoom(body.RoomID)
	if err != nil {
		return err
	}
	status, err := model.ParseStatus(strings.ToUpper(strings.TrimSpace(body.Status)))
	if err != nil {
		return err
	}
	player, err := b.boundPlayer(req.sender)
	if err != nil {
		return err
	}

	_, err = b.store.UpdatePlayerStatus(roomID, player.ID, status, b.publish)
	return err
}

// memberRoom validates a {roomId} body and checks the sender is seated there.
func (b *Broker) memberRoom(req request) (string, error) {
	var body roomRequest
	if err := decode(req.body, &body); err != nil {
		return "", err
	}
	roomID, err := requireRoom(body.RoomID)
	if err != nil {
		return "", err
	}
	player, err := b.boundPlayer(req.sender)
	if err != nil {
		return "", err
	}
	if seated, ok := b.store.RoomOf(player.ID); !ok || seated != roomID {
		return "", model.ErrPlayerNotInRoom
	}
	return roomID, nil
}

// leaveCommit publishes the outcome of a leave. The leaver stops receiving the
// room topic; an emptied room gets ROOM_CLOSED and its topic is dropped.
func (b *Broker) leaveCommit(leaver *connection.Handle) room.CommitFunc {
	return func(snap model.Snapshot) {
		topic := b.dest.RoomTopic(snap.RoomID)
		if snap.Deleted() {
			b.publish(snap)
			b.registry.DropTopic(topic)
			return
		}
		if leaver != nil {
			b.registry.Unsubscribe(leaver, topic)
		}
		b.publish(snap)
	}
}

func decode(body connection.Body, v any) error {
	if err := body.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", model.ErrMalformedRequest, err)
	}
	return nil
}

func requireRoom(roomID string) (string, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return "", fmt.Errorf("%w: roomId is required", model.ErrMalformedRequest)
	}
	return roomID, nil
}

func (l Limits) name(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: playerName is required", model.ErrMalformedRequest)
	}
	if l.MaxNameLength > 0 && utf8.RuneCountInString(name) > l.MaxNameLength {
		return "", fmt.Errorf("%w: playerName longer than %d", model.ErrMalformedRequest, l.MaxNameLength)
	}
	return name, nil
}

// pressCount resolves the press batch size. A missing count is one press.
func (l Limits) pressCount(counts ...*int) (int, error) {
	count := 1
	for _, c := range counts {
		if c != nil {
			count = *c
			break
		}
	}
	if count < 1 || (l.MaxPressBatch > 0 && count > l.MaxPressBatch) {
		return 0, fmt.Errorf("%w: press count %d outside 1..%d", model.ErrMalformedRequest, count, l.MaxPressBatch)
	}
	return count, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
