package room

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rickgao/taprace/internal/model"
)

// maxIDAttempts bounds retries when a freshly generated room id collides.
const maxIDAttempts = 8

// pendingSeat marks a player whose room is still being created.
const pendingSeat = ""

// Config holds Room Store configuration.
type Config struct {
	Capacity      int // Max players per room
	TargetPresses int // Presses needed to win a game
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:      8,
		TargetPresses: 100,
	}
}

// CommitFunc observes a committed mutation. It runs while the room is held,
// so it must not call back into the store for the same room.
type CommitFunc func(model.Snapshot)

// StoreStats provides statistics about the store.
type StoreStats struct {
	Rooms   int
	Players int
}

// Store owns the in-memory state of every room.
type Store struct {
	cfg    Config
	logger *slog.Logger
	newID  func() string

	rooms sync.Map // room id -> *roomState
	seats sync.Map // player id -> room id

	roomCount   atomic.Int64
	playerCount atomic.Int64
}

// NewStore creates an empty Room Store.
func NewStore(cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cfg:    cfg,
		logger: logger,
		newID:  uuid.NewString,
	}
}

// CreateRoom allocates a new room in WAITING with the creator as its only
// player and host.
func (s *Store) CreateRoom(creator model.Player, commit CommitFunc) (model.Snapshot, error) {
	if _, loaded := s.seats.LoadOrStore(creator.ID, pendingSeat); loaded {
		return model.Snapshot{}, model.ErrPlayerInAnotherRoom
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		r := newRoomState(s.newID(), s.cfg)

		// Hold the room before it becomes visible so nothing can mutate it
		// ahead of the creation commit.
		r.mu.Lock()
		if _, loaded := s.rooms.LoadOrStore(r.id, r); loaded {
			r.mu.Unlock()
			s.logger.Warn("room id collision", "room_id", r.id, "attempt", attempt+1)
			continue
		}

		creator.Status = model.StatusIdle
		creator.PressCount = 0
		r.players = append(r.players, creator)
		r.hostID = creator.ID
		s.seats.Store(creator.ID, r.id)
		s.roomCount.Add(1)
		s.playerCount.Add(1)

		snap := r.commitLocked(model.ChangeCreated)
		if commit != nil {
			commit(snap)
		}
		r.mu.Unlock()

		s.logger.Debug("room created", "room_id", r.id, "player_id", creator.ID)
		return snap, nil
	}

	s.seats.CompareAndDelete(creator.ID, pendingSeat)
	return model.Snapshot{}, model.ErrIDSpaceExhausted
}

// JoinRoom appends a player to an existing room.
func (s *Store) JoinRoom(roomID string, player model.Player, commit CommitFunc) (model.Snapshot, error) {
	r, ok := s.lookup(roomID)
	if !ok {
		return model.Snapshot{}, model.ErrRoomNotFound
	}

	if prev, loaded := s.seats.LoadOrStore(player.ID, roomID); loaded {
		if prev.(string) == roomID {
			return model.Snapshot{}, model.ErrAlreadyInRoom
		}
		return model.Snapshot{}, model.ErrPlayerInAnotherRoom
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	switch {
	case r.deleted:
		err = model.ErrRoomNotFound
	case r.phase == model.PhaseFinished:
		err = model.ErrRoomClosed
	case r.capacity > 0 && len(r.players) >= r.capacity:
		err = fmt.Errorf("%w: capacity %d", model.ErrRoomFull, r.capacity)
	}
	if err != nil {
		s.seats.CompareAndDelete(player.ID, roomID)
		return model.Snapshot{}, err
	}

	player.Status = model.StatusIdle
	player.PressCount = 0
	r.players = append(r.players, player)
	s.playerCount.Add(1)

	snap := r.commitLocked(model.ChangeJoined)
	if commit != nil {
		commit(snap)
	}

	s.logger.Debug("player joined", "room_id", roomID, "player_id", player.ID, "players", len(r.players))
	return snap, nil
}

// LeaveRoom removes a player. When the roster empties the room is deleted and
// deleted is reported true; the returned snapshot then carries ChangeDeleted.
func (s *Store) LeaveRoom(roomID, playerID string, commit CommitFunc) (snap model.Snapshot, deleted bool, err error) {
	r, ok := s.lookup(roomID)
	if !ok {
		return model.Snapshot{}, false, model.ErrRoomNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleted {
		return model.Snapshot{}, false, model.ErrRoomNotFound
	}

	idx := r.indexOf(playerID)
	if idx < 0 {
		return model.Snapshot{}, false, model.ErrPlayerNotInRoom
	}

	r.players = append(r.players[:idx], r.players[idx+1:]...)
	s.seats.CompareAndDelete(playerID, roomID)
	s.playerCount.Add(-1)

	if len(r.players) == 0 {
		s.removeLocked(r)
		snap = r.commitLocked(model.ChangeDeleted)
		if commit != nil {
			commit(snap)
		}
		s.logger.Debug("room deleted", "room_id", roomID, "reason", "empty")
		return snap, true, nil
	}

	if r.hostID == playerID {
		r.hostID = r.players[0].ID
		s.logger.Debug("host transferred", "room_id", roomID, "from", playerID, "to", r.hostID)
	}

	snap = r.commitLocked(model.ChangeLeft)
	if commit != nil {
		commit(snap)
	}

	s.logger.Debug("player left", "room_id", roomID, "player_id", playerID, "players", len(r.players))
	return snap, false, nil
}

// UpdatePlayerStatus sets a player's readiness flag.
func (s *Store) UpdatePlayerStatus(roomID, playerID string, status model.Status, commit CommitFunc) (model.Snapshot, error) {
	return s.mutate(roomID, commit, func(r *roomState) (model.Change, error) {
		idx := r.indexOf(playerID)
		if idx < 0 {
			return 0, model.ErrPlayerNotInRoom
		}
		if r.phase == model.PhaseFinished {
			return 0, model.ErrRoomClosed
		}
		r.players[idx].Status = status
		return model.ChangeStatus, nil
	})
}

// Press adds count presses to a player's total. The first player to reach the
// room's target finishes the game.
func (s *Store) Press(roomID, playerID string, count int, commit CommitFunc) (model.Snapshot, error) {
	if count < 1 {
		return model.Snapshot{}, fmt.Errorf("%w: press count %d", model.ErrMalformedRequest, count)
	}

	return s.mutate(roomID, commit, func(r *roomState) (model.Change, error) {
		idx := r.indexOf(playerID)
		if idx < 0 {
			return 0, model.ErrPlayerNotInRoom
		}
		switch r.phase {
		case model.PhaseFinished:
			return 0, model.ErrRoomClosed
		case model.PhaseWaiting:
			return 0, fmt.Errorf("%w: press while %s", model.ErrInvalidPhaseTransition, r.phase)
		}

		r.players[idx].PressCount += count
		if r.target > 0 && r.players[idx].PressCount >= r.target {
			r.phase = model.PhaseFinished
			r.winnerID = playerID
			s.logger.Debug("game won", "room_id", r.id, "player_id", playerID)
			return model.ChangeFinished, nil
		}
		return model.ChangePress, nil
	})
}

// StartGame moves a WAITING room to IN_PROGRESS and resets press totals.
func (s *Store) StartGame(roomID string, commit CommitFunc) (model.Snapshot, error) {
	return s.mutate(roomID, commit, func(r *roomState) (model.Change, error) {
		if r.phase != model.PhaseWaiting {
			return 0, fmt.Errorf("%w: %s -> %s", model.ErrInvalidPhaseTransition, r.phase, model.PhaseInProgress)
		}
		for i := range r.players {
			r.players[i].PressCount = 0
		}
		r.phase = model.PhaseInProgress
		return model.ChangeStarted, nil
	})
}

// FinishGame ends an IN_PROGRESS game, naming the current leader as winner.
func (s *Store) FinishGame(roomID string, commit CommitFunc) (model.Snapshot, error) {
	return s.mutate(roomID, commit, func(r *roomState) (model.Change, error) {
		if r.phase != model.PhaseInProgress {
			return 0, fmt.Errorf("%w: %s -> %s", model.ErrInvalidPhaseTransition, r.phase, model.PhaseFinished)
		}
		r.phase = model.PhaseFinished
		r.winnerID = r.leaderLocked()
		return model.ChangeFinished, nil
	})
}

// CloseRoom deletes a room regardless of its roster. The snapshot handed to
// commit still lists the players that were seated.
func (s *Store) CloseRoom(roomID string, commit CommitFunc) (model.Snapshot, error) {
	r, ok := s.lookup(roomID)
	if !ok {
		return model.Snapshot{}, model.ErrRoomNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleted {
		return model.Snapshot{}, model.ErrRoomNotFound
	}

	for _, p := range r.players {
		s.seats.CompareAndDelete(p.ID, roomID)
	}
	s.playerCount.Add(-int64(len(r.players)))
	s.removeLocked(r)

	snap := r.commitLocked(model.ChangeClosed)
	r.players = nil
	if commit != nil {
		commit(snap)
	}

	s.logger.Debug("room deleted", "room_id", roomID, "reason", "closed")
	return snap, nil
}

// Get returns the current snapshot of a room.
func (s *Store) Get(roomID string) (model.Snapshot, bool) {
	r, ok := s.lookup(roomID)
	if !ok {
		return model.Snapshot{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleted {
		return model.Snapshot{}, false
	}
	return r.snapshotLocked(0), true
}

// View runs fn with the current snapshot while the room is held, so nothing
// can mutate or delete the room until fn returns.
func (s *Store) View(roomID string, fn CommitFunc) error {
	r, ok := s.lookup(roomID)
	if !ok {
		return model.ErrRoomNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleted {
		return model.ErrRoomNotFound
	}
	fn(r.snapshotLocked(0))
	return nil
}

// RoomOf returns the room a player is seated in.
func (s *Store) RoomOf(playerID string) (string, bool) {
	v, ok := s.seats.Load(playerID)
	if !ok || v.(string) == pendingSeat {
		return "", false
	}
	return v.(string), true
}

// List returns snapshots of every live room.
func (s *Store) List() []model.Snapshot {
	var ids []string
	s.rooms.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})

	result := make([]model.Snapshot, 0, len(ids))
	for _, id := range ids {
		if snap, ok := s.Get(id); ok {
			result = append(result, snap)
		}
	}
	return result
}

// Stats returns current statistics.
func (s *Store) Stats() StoreStats {
	return StoreStats{
		Rooms:   int(s.roomCount.Load()),
		Players: int(s.playerCount.Load()),
	}
}

// mutate runs fn with the room held and commits on success.
func (s *Store) mutate(roomID string, commit CommitFunc, fn func(r *roomState) (model.Change, error)) (model.Snapshot, error) {
	r, ok := s.lookup(roomID)
	if !ok {
		return model.Snapshot{}, model.ErrRoomNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleted {
		return model.Snapshot{}, model.ErrRoomNotFound
	}

	change, err := fn(r)
	if err != nil {
		return model.Snapshot{}, err
	}

	snap := r.commitLocked(change)
	if commit != nil {
		commit(snap)
	}
	return snap, nil
}

// lookup finds a room by id.
func (s *Store) lookup(roomID string) (*roomState, bool) {
	v, ok := s.rooms.Load(roomID)
	if !ok {
		return nil, false
	}
	return v.(*roomState), true
}

// removeLocked unlinks a room from the index (caller must hold r.mu).
func (s *Store) removeLocked(r *roomState) {
	r.deleted = true
	if s.rooms.CompareAndDelete(r.id, r) {
		s.roomCount.Add(-1)
	}
}
