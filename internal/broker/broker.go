package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/taprace/internal/connection"
	"github.com/rickgao/taprace/internal/model"
	"github.com/rickgao/taprace/internal/room"
)

// ErrStopped is returned for work submitted after Stop.
var ErrStopped = errors.New("broker stopped")

// Config configures the Broker.
type Config struct {
	Workers      int // Worker goroutines; a connection always lands on the same one
	QueueSize    int // Pending work items per worker
	Destinations Destinations
	Limits       Limits
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:      8,
		QueueSize:    1024,
		Destinations: DefaultDestinations(),
		Limits: Limits{
			MaxNameLength: 32,
			MaxPressBatch: 20,
		},
	}
}

// Observer receives per-request outcomes. Metrics implement it.
type Observer interface {
	RequestHandled(action, code string)
}

type nopObserver struct{}

func (nopObserver) RequestHandled(string, string) {}

// Stats provides statistics about the broker.
type Stats struct {
	Requests   int64
	Failures   int64
	Workers    int
	QueueDepth int
	Rooms      int
	Players    int
}

// Broker routes client frames to the Room Store and fans the resulting events
// out through the Connection Registry.
type Broker struct {
	cfg      Config
	dest     Destinations
	limits   Limits
	store    *room.Store
	registry *connection.Registry
	observer Observer
	logger   *slog.Logger
	newID    func() string

	queues []chan func()

	// Lifecycle
	mu      sync.RWMutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	group   *errgroup.Group

	identities sync.Map // *connection.Handle -> model.Player
	claims     sync.Map // player id -> *connection.Handle

	requests atomic.Int64
	failures atomic.Int64
}

// New creates a Broker.
func New(cfg Config, store *room.Store, registry *connection.Registry, observer Observer, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	queues := make([]chan func(), cfg.Workers)
	for i := range queues {
		queues[i] = make(chan func(), cfg.QueueSize)
	}

	return &Broker{
		cfg:      cfg,
		dest:     cfg.Destinations,
		limits:   cfg.Limits,
		store:    store,
		registry: registry,
		observer: observer,
		logger:   logger,
		newID:    uuid.NewString,
		queues:   queues,
	}
}

// Start launches the worker pool.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return errors.New("broker already started")
	}
	b.started = true

	ctx, b.cancel = context.WithCancel(ctx)
	b.group, ctx = errgroup.WithContext(ctx)
	for _, q := range b.queues {
		q := q
		b.group.Go(func() error {
			b.runWorker(ctx, q)
			return nil
		})
	}

	b.logger.Info("broker started",
		"workers", len(b.queues),
		"queue_size", b.cfg.QueueSize,
	)
	return nil
}

// Stop drains the workers, closes every live room with ROOM_CLOSED and closes
// every connection.
func (b *Broker) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	cancel, group := b.cancel, b.group
	b.mu.Unlock()

	b.logger.Info("stopping broker")

	if cancel != nil {
		cancel()

		done := make(chan struct{})
		go func() {
			group.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			b.logger.Warn("broker stop timed out waiting for workers")
		}
	}

	closed := 0
	for _, snap := range b.store.List() {
		if _, err := b.store.CloseRoom(snap.RoomID, b.leaveCommit(nil)); err == nil {
			closed++
		}
	}
	conns := b.registry.CloseEverything()

	b.logger.Info("broker stopped", "rooms_closed", closed, "connections_closed", conns)
	return nil
}

// HandleInbound queues a SEND frame for the sender's worker.
func (b *Broker) HandleInbound(destination string, body connection.Body, sender *connection.Handle) {
	action, err := b.dest.ParseAction(destination)
	if err != nil {
		b.submit(sender, func() { b.fail(sender, "", destination, err) })
		return
	}

	req := request{
		action:      action,
		destination: destination,
		sender:      sender,
		body:        body,
	}
	b.submit(sender, func() { b.dispatch(req) })
}

// HandleDisconnect queues connection cleanup behind the sender's pending work.
// Only the first notification for a connection does anything.
func (b *Broker) HandleDisconnect(sender *connection.Handle) {
	if err := b.submit(sender, func() { b.disconnect(sender) }); err != nil {
		b.disconnect(sender)
	}
}

// HandleFrame implements connection.Handler.
func (b *Broker) HandleFrame(h *connection.Handle, in connection.Inbound) {
	switch in.Command {
	case connection.CommandSend:
		b.HandleInbound(in.Destination, in.Body, h)
	case connection.CommandSubscribe:
		b.submit(h, func() { b.subscribe(h, in.Destination) })
	case connection.CommandUnsubscribe:
		b.submit(h, func() { b.unsubscribe(h, in.Destination) })
	default:
		err := fmt.Errorf("%w: unsupported command %q", model.ErrMalformedRequest, in.Command)
		b.submit(h, func() { b.fail(h, "", in.Destination, err) })
	}
}

// HandleMalformed implements connection.Handler.
func (b *Broker) HandleMalformed(h *connection.Handle, err error) {
	err = fmt.Errorf("%w: %v", model.ErrMalformedRequest, err)
	b.submit(h, func() { b.fail(h, "", "", err) })
}

// HandleClose implements connection.Handler.
func (b *Broker) HandleClose(h *connection.Handle) {
	b.HandleDisconnect(h)
}

// Stats returns current statistics.
func (b *Broker) Stats() Stats {
	depth := 0
	for _, q := range b.queues {
		depth += len(q)
	}
	rooms := b.store.Stats()

	return Stats{
		Requests:   b.requests.Load(),
		Failures:   b.failures.Load(),
		Workers:    len(b.queues),
		QueueDepth: depth,
		Rooms:      rooms.Rooms,
		Players:    rooms.Players,
	}
}

// submit queues fn on the worker owning the sender. It blocks while that
// worker's queue is full.
func (b *Broker) submit(sender *connection.Handle, fn func()) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.stopped || !b.started {
		return ErrStopped
	}

	q := b.queues[sender.Seq()%uint64(len(b.queues))]
	q <- fn
	return nil
}

// runWorker executes queued work until ctx is cancelled, then drains what is
// left.
func (b *Broker) runWorker(ctx context.Context, q chan func()) {
	for {
		select {
		case fn := <-q:
			b.run(fn)
		case <-ctx.Done():
			for {
				select {
				case fn := <-q:
					b.run(fn)
				default:
					return
				}
			}
		}
	}
}

func (b *Broker) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("worker panic", "panic", r)
		}
	}()
	fn()
}

func (b *Broker) dispatch(req request) {
	b.requests.Add(1)

	err := handlers[req.action](b, req)
	if err != nil {
		b.fail(req.sender, req.action.String(), req.destination, err)
		return
	}

	b.observer.RequestHandled(req.action.String(), "OK")
	b.logger.Debug("request handled",
		"action", req.action.String(),
		"conn_id", req.sender.ID(),
	)
}

// fail reports err to the sender only.
func (b *Broker) fail(sender *connection.Handle, action, destination string, err error) {
	b.failures.Add(1)

	body := model.NewErrorBody(err, destination)
	if body.Code == model.CodeInternal {
		b.logger.Error("request failed",
			"action", action,
			"conn_id", sender.ID(),
			"error", err,
		)
		body.Message = "internal error"
	} else {
		b.logger.Debug("request rejected",
			"action", action,
			"conn_id", sender.ID(),
			"code", body.Code,
			"error", err,
		)
	}

	if action == "" {
		action = "invalid"
	}
	b.observer.RequestHandled(action, body.Code)

	b.registry.Send(sender, connection.Frame{
		Command:     connection.CommandError,
		Destination: b.dest.ErrorQueue(),
		Body:        body,
	})
}

// publish broadcasts the event for snap on the room topic. It runs inside the
// store's commit hook, so room events leave in mutation order.
func (b *Broker) publish(snap model.Snapshot) {
	event, err := model.EventFor(snap)
	if err != nil {
		b.logger.Error("build event", "room_id", snap.RoomID, "change", snap.Change.String(), "error", err)
		return
	}

	topic := b.dest.RoomTopic(snap.RoomID)
	n := b.registry.Publish(topic, connection.Frame{
		Command:     connection.CommandMessage,
		Destination: topic,
		Body:        event,
	})

	b.logger.Debug("event published",
		"room_id", snap.RoomID,
		"message", event.Message,
		"version", event.Version,
		"subscribers", n,
	)
}

// reply sends the sender its own view of the room on the reply queue.
func (b *Broker) reply(sender *connection.Handle, playerID string, snap model.Snapshot) {
	event, err := model.EventFor(snap)
	if err != nil {
		b.logger.Error("build reply", "room_id", snap.RoomID, "error", err)
		return
	}
	b.registry.Send(sender, connection.Frame{
		Command:     connection.CommandMessage,
		Destination: b.dest.ReplyQueue(),
		Body:        Reply{Event: event, PlayerID: playerID},
	})
}

func (b *Broker) subscribe(h *connection.Handle, destination string) {
	if b.dest.IsQueue(destination) {
		return
	}
	roomID, ok := b.dest.RoomFromTopic(destination)
	if !ok {
		b.fail(h, "subscribe", destination, fmt.Errorf("%w: cannot subscribe to %q", model.ErrMalformedRequest, destination))
		return
	}

	// Subscribing while the room is held means a concurrent close either
	// happens first (not found) or drops this subscription with the topic.
	err := b.store.View(roomID, func(model.Snapshot) {
		b.registry.Subscribe(h, destination)
	})
	if err != nil {
		b.fail(h, "subscribe", destination, err)
	}
}

func (b *Broker) unsubscribe(h *connection.Handle, destination string) {
	if b.dest.IsQueue(destination) {
		return
	}
	b.registry.Unsubscribe(h, destination)
}

// disconnect closes the connection in the registry and, for the call that
// actually closed it, removes its player from every room it was in.
func (b *Broker) disconnect(h *connection.Handle) {
	topics := b.registry.Subscriptions(h)
	if !b.registry.CloseAll(h) {
		return
	}

	v, bound := b.identities.LoadAndDelete(h)
	if !bound {
		return
	}
	player := v.(model.Player)
	b.claims.CompareAndDelete(player.ID, h)

	rooms := make(map[string]struct{}, len(topics)+1)
	for _, topic := range topics {
		if id, ok := b.dest.RoomFromTopic(topic); ok {
			rooms[id] = struct{}{}
		}
	}
	if id, ok := b.store.RoomOf(player.ID); ok {
		rooms[id] = struct{}{}
	}

	for roomID := range rooms {
		_, deleted, err := b.store.LeaveRoom(roomID, player.ID, b.leaveCommit(nil))
		if err != nil {
			b.logger.Debug("disconnect leave", "room_id", roomID, "player_id", player.ID, "error", err)
			continue
		}
		b.logger.Debug("player disconnected",
			"room_id", roomID,
			"player_id", player.ID,
			"room_deleted", deleted,
		)
	}
}

// bind ties a connection to a player identity on its first create or join.
// Later calls return the bound player unchanged.
func (b *Broker) bind(h *connection.Handle, requestedID, name string) (model.Player, error) {
	if v, ok := b.identities.Load(h); ok {
		return v.(model.Player), nil
	}

	id := strings.TrimSpace(requestedID)
	if id == "" {
		id = b.newID()
	}
	if prev, loaded := b.claims.LoadOrStore(id, h); loaded && prev.(*connection.Handle) != h {
		return model.Player{}, fmt.Errorf("%w: player id %q is bound to another connection", model.ErrMalformedRequest, id)
	}

	player := model.Player{ID: id, Name: name}
	b.identities.Store(h, player)
	return player, nil
}

// boundPlayer returns the identity bound to h.
func (b *Broker) boundPlayer(h *connection.Handle) (model.Player, error) {
	v, ok := b.identities.Load(h)
	if !ok {
		return model.Player{}, model.ErrPlayerNotInRoom
	}
	return v.(model.Player), nil
}
