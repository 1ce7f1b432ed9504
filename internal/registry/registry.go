package registry

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cwrk-planet/meet-service/internal/domain"
	"github.com/cwrk-planet/meet-service/internal/metrics"
	"github.com/cwrk-planet/meet-service/pkg/logger"

	"github.com/google/uuid"
)

const (
	roomIDLen         = 10
	maxCreateAttempts = 16
)

var ErrClosed = errors.New("registry closed")

// Notifier receives membership changes. It is called while the room is
// locked, so implementations must not block and must not call back into
// the registry.
type Notifier interface {
	// Welcome hands the joiner the members that were already in the room.
	Welcome(joined domain.Participant, others []domain.Participant)
	ParticipantJoined(recipients []domain.Participant, joined domain.Participant)
	ParticipantLeft(recipients []domain.Participant, left domain.Participant)
	RoomExpired(recipients []domain.Participant, roomID string)
}

type Options struct {
	// GracePeriod keeps an empty room alive for rejoins.
	GracePeriod time.Duration
	// MaxLifetime bounds room age regardless of membership.
	MaxLifetime   time.Duration
	SweepInterval time.Duration

	Notifier Notifier
	Metrics  *metrics.Metrics

	// Test hooks.
	Now   func() time.Time
	NewID func() string
}

type room struct {
	mu sync.Mutex

	id        string
	createdAt time.Time
	members   []domain.Participant
	// emptySince is set when the last member leaves; zero while occupied
	// and for rooms nobody has joined yet.
	emptySince time.Time
	closed     bool
}

func (rm *room) indexOf(connID string) int {
	return slices.IndexFunc(rm.members, func(p domain.Participant) bool {
		return p.ConnectionID == connID
	})
}

func (rm *room) snapshot() []domain.Participant {
	return slices.Clone(rm.members)
}

func (rm *room) othersThan(connID string) []domain.Participant {
	out := make([]domain.Participant, 0, len(rm.members))
	for _, p := range rm.members {
		if p.ConnectionID != connID {
			out = append(out, p)
		}
	}
	return out
}

// Registry is the in-memory store of meeting rooms.
//
// Lock order: room.mu, then Registry.mu. Registry.mu guards the room map and
// the connection index only; membership is guarded by the room's own mutex.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*room
	conns  map[string]string // connectionID -> roomID
	closed bool

	grace         time.Duration
	maxLifetime   time.Duration
	sweepInterval time.Duration

	notifier Notifier
	metrics  *metrics.Metrics
	now      func() time.Time
	newID    func() string
}

func New(opts Options) *Registry {
	r := &Registry{
		rooms:         make(map[string]*room),
		conns:         make(map[string]string),
		grace:         opts.GracePeriod,
		maxLifetime:   opts.MaxLifetime,
		sweepInterval: opts.SweepInterval,
		notifier:      opts.Notifier,
		metrics:       opts.Metrics,
		now:           opts.Now,
		newID:         opts.NewID,
	}
	if r.notifier == nil {
		r.notifier = nopNotifier{}
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = newRoomID
	}
	if r.sweepInterval <= 0 {
		r.sweepInterval = 10 * time.Second
	}
	return r
}

func newRoomID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:roomIDLen]
}

// CreateRoom allocates a room with a token not used by any active room.
func (r *Registry) CreateRoom() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrClosed
	}
	for range maxCreateAttempts {
		id := r.newID()
		if _, taken := r.rooms[id]; taken {
			continue
		}
		r.rooms[id] = &room{id: id, createdAt: r.now()}
		r.metrics.RoomCreated()
		slog.Debug("room created", logger.Room(id))
		return id, nil
	}
	return "", errors.New("registry: could not allocate a free room id")
}

func (r *Registry) RoomExists(id string) bool {
	rm, err := r.acquire(id)
	if err != nil {
		return false
	}
	rm.mu.Unlock()
	return true
}

// Room returns a snapshot of the room.
func (r *Registry) Room(id string) (domain.Room, error) {
	rm, err := r.acquire(id)
	if err != nil {
		return domain.Room{}, err
	}
	defer rm.mu.Unlock()

	return domain.Room{ID: rm.id, CreatedAt: rm.createdAt, Members: rm.snapshot()}, nil
}

func (r *Registry) Members(id string) ([]domain.Participant, error) {
	rm, err := r.acquire(id)
	if err != nil {
		return nil, err
	}
	defer rm.mu.Unlock()

	return rm.snapshot(), nil
}

func (r *Registry) IsMember(id, connID string) bool {
	rm, err := r.acquire(id)
	if err != nil {
		return false
	}
	defer rm.mu.Unlock()

	return rm.indexOf(connID) >= 0
}

// RoomOf returns the room the connection currently belongs to.
func (r *Registry) RoomOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.conns[connID]
	return id, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms)
}

// JoinRoom adds the connection to the room and returns the members that were
// already there. A connection that is in another room is moved; joining the
// same room again only refreshes the display name.
func (r *Registry) JoinRoom(id, connID, displayName string) ([]domain.Participant, error) {
	if current, ok := r.RoomOf(connID); ok && current != id {
		return r.switchRoom(current, id, connID, displayName)
	}

	rm, err := r.acquire(id)
	if err != nil {
		return nil, err
	}
	defer rm.mu.Unlock()

	return r.joinLocked(rm, connID, displayName), nil
}

// switchRoom moves the connection from one room to another. Both rooms are
// locked in id order, and the old room is left only once the target is known
// to be alive.
func (r *Registry) switchRoom(fromID, toID, connID, displayName string) ([]domain.Participant, error) {
	r.mu.RLock()
	from, to := r.rooms[fromID], r.rooms[toID]
	r.mu.RUnlock()
	if to == nil {
		return nil, domain.ErrRoomNotFound
	}

	switch {
	case from == nil:
		to.mu.Lock()
	case fromID < toID:
		from.mu.Lock()
		to.mu.Lock()
	default:
		to.mu.Lock()
		from.mu.Lock()
	}
	defer func() {
		to.mu.Unlock()
		if from != nil {
			from.mu.Unlock()
		}
	}()

	if err := r.checkLocked(to, r.now()); err != nil {
		return nil, err
	}
	if from != nil && !from.closed {
		r.leaveLocked(from, connID)
	}
	return r.joinLocked(to, connID, displayName), nil
}

// joinLocked requires rm.mu to be held and rm to be alive.
func (r *Registry) joinLocked(rm *room, connID, displayName string) []domain.Participant {
	if idx := rm.indexOf(connID); idx >= 0 {
		rm.members[idx].DisplayName = displayName
		others := rm.othersThan(connID)
		r.notifier.Welcome(rm.members[idx], others)
		return others
	}

	p := domain.Participant{
		ConnectionID: connID,
		DisplayName:  displayName,
		RoomID:       rm.id,
		JoinedAt:     r.now(),
	}
	others := rm.snapshot()
	rm.members = append(rm.members, p)
	rm.emptySince = time.Time{}

	r.mu.Lock()
	r.conns[connID] = rm.id
	r.mu.Unlock()

	r.metrics.Joined()
	r.notifier.Welcome(p, others)
	r.notifier.ParticipantJoined(others, p)
	slog.Debug("room joined", logger.Room(rm.id), logger.Conn(connID), "members", len(rm.members))

	return others
}

// LeaveRoom removes the connection from its room. It is idempotent and
// reports whether a membership was actually removed.
func (r *Registry) LeaveRoom(connID string) bool {
	r.mu.RLock()
	id, ok := r.conns[connID]
	rm := r.rooms[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if rm == nil {
		r.unindex(connID, id)
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.closed {
		r.unindex(connID, id)
		return false
	}
	return r.leaveLocked(rm, connID)
}

// leaveLocked requires rm.mu to be held.
func (r *Registry) leaveLocked(rm *room, connID string) bool {
	idx := rm.indexOf(connID)
	if idx < 0 {
		r.unindex(connID, rm.id)
		return false
	}

	left := rm.members[idx]
	rm.members = slices.Delete(rm.members, idx, idx+1)
	r.unindex(connID, rm.id)
	if len(rm.members) == 0 {
		rm.emptySince = r.now()
	}

	r.metrics.Left()
	r.notifier.ParticipantLeft(rm.snapshot(), left)
	slog.Debug("room left", logger.Room(rm.id), logger.Conn(connID), "members", len(rm.members))

	return true
}

// SweepExpired destroys rooms past their maximum lifetime and empty rooms
// past their grace period. It returns the number of rooms removed.
func (r *Registry) SweepExpired(now time.Time) int {
	r.mu.RLock()
	list := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		list = append(list, rm)
	}
	r.mu.RUnlock()

	n := 0
	for _, rm := range list {
		rm.mu.Lock()
		if !rm.closed {
			if reason := r.expiry(rm, now); reason != "" {
				r.destroyLocked(rm, reason)
				n++
			}
		}
		rm.mu.Unlock()
	}
	return n
}

// Run sweeps on a fixed interval until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	t := time.NewTicker(r.sweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := r.SweepExpired(r.now()); n > 0 {
				slog.Info("rooms swept", "removed", n, "active", r.Len())
			}
		}
	}
}

// Close drops every room. Members are not notified.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	list := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		list = append(list, rm)
	}
	r.mu.Unlock()

	for _, rm := range list {
		rm.mu.Lock()
		if !rm.closed {
			r.destroyLocked(rm, metrics.ReasonShutdown)
		}
		rm.mu.Unlock()
	}
}

// acquire returns the live room locked, destroying it first if it has
// expired. The caller must unlock it.
func (r *Registry) acquire(id string) (*room, error) {
	r.mu.RLock()
	rm := r.rooms[id]
	r.mu.RUnlock()
	if rm == nil {
		return nil, domain.ErrRoomNotFound
	}

	rm.mu.Lock()
	if err := r.checkLocked(rm, r.now()); err != nil {
		rm.mu.Unlock()
		return nil, err
	}
	return rm, nil
}

// checkLocked reports ErrRoomNotFound for a closed room and destroys an
// expired one. Requires rm.mu to be held.
func (r *Registry) checkLocked(rm *room, now time.Time) error {
	if rm.closed {
		return domain.ErrRoomNotFound
	}
	if reason := r.expiry(rm, now); reason != "" {
		r.destroyLocked(rm, reason)
		return domain.ErrRoomNotFound
	}
	return nil
}

func (r *Registry) expiry(rm *room, now time.Time) string {
	if r.maxLifetime > 0 && now.Sub(rm.createdAt) >= r.maxLifetime {
		return metrics.ReasonLifetime
	}
	if len(rm.members) == 0 && !rm.emptySince.IsZero() && now.Sub(rm.emptySince) >= r.grace {
		return metrics.ReasonGrace
	}
	return ""
}

// destroyLocked requires rm.mu to be held.
func (r *Registry) destroyLocked(rm *room, reason string) {
	rm.closed = true
	members := rm.members
	rm.members = nil

	r.mu.Lock()
	if r.rooms[rm.id] == rm {
		delete(r.rooms, rm.id)
	}
	for _, p := range members {
		if r.conns[p.ConnectionID] == rm.id {
			delete(r.conns, p.ConnectionID)
		}
	}
	r.mu.Unlock()

	r.metrics.RoomDestroyed(reason)
	if len(members) > 0 && reason != metrics.ReasonShutdown {
		r.notifier.RoomExpired(members, rm.id)
	}
	slog.Info("room destroyed", logger.Room(rm.id), "reason", reason, "members", len(members))
}

func (r *Registry) unindex(connID, roomID string) {
	r.mu.Lock()
	if r.conns[connID] == roomID {
		delete(r.conns, connID)
	}
	r.mu.Unlock()
}

type nopNotifier struct{}

func (nopNotifier) Welcome(domain.Participant, []domain.Participant) {}
func (nopNotifier) ParticipantJoined([]domain.Participant, domain.Participant) {}
func (nopNotifier) ParticipantLeft([]domain.Participant, domain.Participant) {}
func (nopNotifier) RoomExpired([]domain.Participant, string) {}
