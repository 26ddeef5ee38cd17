package connection

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

// Conn is the transport side of a registered connection.
type Conn interface {
	ID() string
}

// Handle is a registered connection. It is the value the broker keys work and
// subscriptions on.
type Handle struct {
	id     string
	seq    uint64 // Registration order
	conn   Conn
	outbox *Outbox

	// Guarded by Registry.mu
	state  State
	topics map[string]struct{}
}

// ID returns the connection id.
func (h *Handle) ID() string { return h.id }

// Seq returns the registration sequence number.
func (h *Handle) Seq() uint64 { return h.seq }

// Outbox returns the connection's outbound queue.
func (h *Handle) Outbox() *Outbox { return h.outbox }

// RegistryStats provides statistics about the registry.
type RegistryStats struct {
	Connections   int
	Topics        int
	Subscriptions int
	Published     int64
	Dropped       int64
	SlowConsumers int64
}

// Registry tracks open connections and their topic subscriptions.
type Registry struct {
	cfg      RegistryConfig
	logger   *slog.Logger
	observer Observer

	nextSeq atomic.Uint64

	mu     sync.RWMutex
	conns  map[string]*Handle
	topics map[string][]*Handle // Sorted by seq

	published     atomic.Int64
	dropped       atomic.Int64
	slowConsumers atomic.Int64
}

// NewRegistry creates an empty Connection Registry.
func NewRegistry(cfg RegistryConfig, logger *slog.Logger, observer Observer) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}

	return &Registry{
		cfg:      cfg,
		logger:   logger,
		observer: observer,
		conns:    make(map[string]*Handle),
		topics:   make(map[string][]*Handle),
	}
}

// Register admits a connection as OPEN. A CLOSED entry with the same id is
// replaced; an OPEN one is refused with ErrDuplicateConnection.
func (r *Registry) Register(conn Conn) (*Handle, error) {
	id := conn.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.conns[id]; ok && prev.state == StateOpen {
		return nil, ErrDuplicateConnection
	}

	h := &Handle{
		id:     id,
		seq:    r.nextSeq.Add(1),
		conn:   conn,
		outbox: NewOutbox(r.cfg.SendBuffer, r.cfg.MaxPendingFrames),
		state:  StateOpen,
		topics: make(map[string]struct{}),
	}
	r.conns[id] = h
	r.observer.ConnectionOpened()

	r.logger.Debug("connection registered", "conn_id", id, "seq", h.seq)
	return h, nil
}

// Lookup returns the handle registered under id.
func (r *Registry) Lookup(id string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.conns[id]
	return h, ok
}

// State returns the liveness of a handle.
func (r *Registry) State(h *Handle) State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return h.state
}

// Subscribe adds topic to the connection's subscriptions. Subscribing twice is
// a no-op, as is subscribing a closed connection.
func (r *Registry) Subscribe(h *Handle, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h.state != StateOpen {
		return
	}
	if _, ok := h.topics[topic]; ok {
		return
	}
	h.topics[topic] = struct{}{}

	subs := r.topics[topic]
	i := sort.Search(len(subs), func(i int) bool { return subs[i].seq > h.seq })
	subs = append(subs, nil)
	copy(subs[i+1:], subs[i:])
	subs[i] = h
	r.topics[topic] = subs
}

// Unsubscribe removes topic from the connection's subscriptions.
func (r *Registry) Unsubscribe(h *Handle, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(h, topic)
}

// CloseAll removes every subscription of the connection, marks it CLOSED and
// closes its outbox. Only the call that performed the cleanup returns true.
func (r *Registry) CloseAll(h *Handle) bool {
	r.mu.Lock()
	if h.state == StateClosed {
		r.mu.Unlock()
		return false
	}
	for topic := range h.topics {
		r.unsubscribeLocked(h, topic)
	}
	h.state = StateClosed
	if r.conns[h.id] == h {
		delete(r.conns, h.id)
	}
	r.mu.Unlock()

	h.outbox.Close()
	r.observer.ConnectionClosed()

	r.logger.Debug("connection closed", "conn_id", h.id)
	return true
}

// CloseEverything closes the outbox of every open connection with
// ErrServerShutdown. Connections stay registered until their own CloseAll.
func (r *Registry) CloseEverything() int {
	r.mu.RLock()
	handles := make([]*Handle, 0, len(r.conns))
	for _, h := range r.conns {
		if h.state == StateOpen {
			handles = append(handles, h)
		}
	}
	r.mu.RUnlock()

	for _, h := range handles {
		h.outbox.CloseWithError(ErrServerShutdown)
	}
	return len(handles)
}

// Publish enqueues f for every open subscriber of topic in registration order
// and returns how many connections accepted it. It never blocks on a slow
// connection.
func (r *Registry) Publish(topic string, f Frame) int {
	r.mu.RLock()
	subs := make([]*Handle, 0, len(r.topics[topic]))
	for _, h := range r.topics[topic] {
		if h.state == StateOpen {
			subs = append(subs, h)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, h := range subs {
		if r.enqueue(h, f) == nil {
			delivered++
		}
	}

	r.published.Add(int64(delivered))
	r.observer.FramesPublished(delivered)
	return delivered
}

// Send enqueues f for a single connection.
func (r *Registry) Send(h *Handle, f Frame) error {
	if r.State(h) != StateOpen {
		r.dropped.Add(1)
		r.observer.FrameDropped("closed")
		return ErrNotConnected
	}
	return r.enqueue(h, f)
}

// Subscriptions returns the connection's topics, sorted.
func (r *Registry) Subscriptions(h *Handle) []string {
	r.mu.RLock()
	topics := make([]string, 0, len(h.topics))
	for topic := range h.topics {
		topics = append(topics, topic)
	}
	r.mu.RUnlock()

	sort.Strings(topics)
	return topics
}

// Subscribers returns the number of connections subscribed to topic.
func (r *Registry) Subscribers(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

// DropTopic unsubscribes every connection from topic.
func (r *Registry) DropTopic(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, h := range r.topics[topic] {
		delete(h.topics, topic)
	}
	delete(r.topics, topic)
}

// Stats returns current statistics.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	subs := 0
	for _, hs := range r.topics {
		subs += len(hs)
	}
	stats := RegistryStats{
		Connections:   len(r.conns),
		Topics:        len(r.topics),
		Subscriptions: subs,
	}
	r.mu.RUnlock()

	stats.Published = r.published.Load()
	stats.Dropped = r.dropped.Load()
	stats.SlowConsumers = r.slowConsumers.Load()
	return stats
}

func (r *Registry) enqueue(h *Handle, f Frame) error {
	err := h.outbox.Push(f)
	switch err {
	case nil:
		return nil
	case ErrSlowConsumer:
		r.slowConsumers.Add(1)
		r.observer.FrameDropped("slow_consumer")
		r.logger.Warn("slow consumer, closing connection",
			"conn_id", h.id,
			"pending", h.outbox.Len(),
		)
	default:
		r.observer.FrameDropped("closed")
	}
	r.dropped.Add(1)
	return err
}

func (r *Registry) unsubscribeLocked(h *Handle, topic string) {
	if _, ok := h.topics[topic]; !ok {
		return
	}
	delete(h.topics, topic)

	subs := r.topics[topic]
	for i, s := range subs {
		if s == h {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(r.topics, topic)
	} else {
		r.topics[topic] = subs
	}
}
