package broker

import (
	"fmt"
	"strings"

	"github.com/rickgao/taprace/internal/model"
)

// Action is a client request kind.
type Action int

const (
	ActionCreate Action = iota + 1
	ActionJoin
	ActionLeave
	ActionStart
	ActionPress
	ActionStatus
	ActionEnd
)

var actionNames = map[Action]string{
	ActionCreate: "room.create",
	ActionJoin:   "room.join",
	ActionLeave:  "room.leave",
	ActionStart:  "game.start",
	ActionPress:  "game.press",
	ActionStatus: "game.status",
	ActionEnd:    "game.end",
}

// actionsByName accepts both the namespaced and the bare form of every action.
var actionsByName = func() map[string]Action {
	m := make(map[string]Action, 2*len(actionNames))
	for a, name := range actionNames {
		m[name] = a
		m[name[strings.IndexByte(name, '.')+1:]] = a
	}
	return m
}()

func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return "unknown"
}

// Destinations holds the destination prefixes the broker routes on.
type Destinations struct {
	AppPrefix   string // Client actions, e.g. /app/room.join
	TopicPrefix string // Room broadcasts, e.g. /topic/room/{id}
	QueuePrefix string // Sender-only replies and errors
}

// DefaultDestinations returns the prefixes the web client uses.
func DefaultDestinations() Destinations {
	return Destinations{
		AppPrefix:   "/app",
		TopicPrefix: "/topic",
		QueuePrefix: "/queue",
	}
}

// ParseAction resolves a SEND destination into an action.
func (d Destinations) ParseAction(destination string) (Action, error) {
	rest, ok := strings.CutPrefix(destination, d.AppPrefix+"/")
	if !ok {
		return 0, fmt.Errorf("%w: destination %q outside %s", model.ErrMalformedRequest, destination, d.AppPrefix)
	}
	a, ok := actionsByName[rest]
	if !ok {
		return 0, fmt.Errorf("%w: unknown action %q", model.ErrMalformedRequest, rest)
	}
	return a, nil
}

// RoomTopic returns the broadcast topic of a room.
func (d Destinations) RoomTopic(roomID string) string {
	return d.TopicPrefix + "/room/" + roomID
}

// RoomFromTopic extracts the room id from a room topic.
func (d Destinations) RoomFromTopic(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, d.TopicPrefix+"/room/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// IsQueue reports whether destination names one of the sender's own queues.
// Queues are delivered implicitly, so subscribing to one is a no-op. The
// /user form is what the web client subscribes to.
func (d Destinations) IsQueue(destination string) bool {
	return strings.HasPrefix(destination, d.QueuePrefix+"/") ||
		strings.HasPrefix(destination, "/user"+d.QueuePrefix+"/")
}

// ReplyQueue is where create and join replies go.
func (d Destinations) ReplyQueue() string { return d.QueuePrefix + "/room" }

// ErrorQueue is where request failures go.
func (d Destinations) ErrorQueue() string { return d.QueuePrefix + "/errors" }
