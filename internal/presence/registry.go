package presence

import (
	"log/slog"
	"sync"

	"github.com/Lemme-x/LiveStream/internal/platform/metrics"
)

// Role distinguishes the owner of a stream from its audience. Only viewers
// are counted; a streamer receives count updates without contributing to
// them.
type Role int

const (
	RoleStreamer Role = iota
	RoleViewer
)

// Subscriber is the delivery endpoint for room notifications. Notify must
// not block: it is invoked inside the room's critical section, in mutation
// order, and a stalled subscriber must not stall the room.
type Subscriber interface {
	ID() string
	Notify(streamID string, count int)
}

// room is one stream's live membership. members holds every connection that
// receives broadcasts (streamer included); viewers is the counted subset.
type room struct {
	mu      sync.Mutex
	members map[string]Subscriber
	viewers map[string]struct{}
	closed  bool
}

// Registry tracks which connections are attached to which stream and fans
// the viewer count out to the room on every counted change.
//
// Locking: reg.mu guards the room table and the handle index; each room has
// its own mutex for membership and broadcast. Lock order is always
// reg.mu before room.mu, so operations on different streams only share the
// brief table lookup.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*room
	joined map[string]string // subscriber id -> stream id it last joined

	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewRegistry returns an empty registry. Metrics may be nil.
func NewRegistry(log *slog.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		rooms:   make(map[string]*room),
		joined:  make(map[string]string),
		log:     log,
		metrics: m,
	}
}

// Join attaches sub to streamID's room. A connection belongs to at most one
// room: joining a second stream moves it, broadcasting the departure to the
// old room first. Joining the same room twice with the same role is a no-op
// and does not double-count.
func (g *Registry) Join(streamID string, sub Subscriber, role Role) {
	id := sub.ID()

	g.mu.RLock()
	prev, ok := g.joined[id]
	g.mu.RUnlock()
	if ok && prev != streamID {
		g.leave(id)
	}

	rm := g.acquireRoom(streamID, id)
	rm.members[id] = sub
	changed := false
	if role == RoleViewer {
		if _, dup := rm.viewers[id]; !dup {
			rm.viewers[id] = struct{}{}
			changed = true
		}
	}
	if changed {
		g.broadcastLocked(streamID, rm)
	}
	rm.mu.Unlock()

	g.log.Debug("presence join",
		slog.String("stream_id", streamID),
		slog.String("conn_id", id),
		slog.Bool("viewer", role == RoleViewer))
}

// Leave detaches sub from whichever room it last joined. Safe to call for a
// connection that never joined, and safe to call more than once.
func (g *Registry) Leave(sub Subscriber) {
	g.leave(sub.ID())
}

func (g *Registry) leave(subID string) {
	g.mu.Lock()
	streamID, ok := g.joined[subID]
	if !ok {
		g.mu.Unlock()
		return
	}
	delete(g.joined, subID)
	rm := g.rooms[streamID]
	g.mu.Unlock()
	if rm == nil {
		return
	}

	rm.mu.Lock()
	_, wasViewer := rm.viewers[subID]
	delete(rm.viewers, subID)
	delete(rm.members, subID)
	empty := len(rm.members) == 0
	if wasViewer {
		g.broadcastLocked(streamID, rm)
	}
	rm.mu.Unlock()

	if empty {
		g.dropIfEmpty(streamID, rm)
	}

	g.log.Debug("presence leave",
		slog.String("stream_id", streamID),
		slog.String("conn_id", subID))
}

// Count returns the current viewer count for streamID; 0 if the room is
// absent.
func (g *Registry) Count(streamID string) int {
	g.mu.RLock()
	rm := g.rooms[streamID]
	g.mu.RUnlock()
	if rm == nil {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.viewers)
}

// TotalViewers returns the viewer count summed over all rooms. Used for the
// active_viewers gauge.
func (g *Registry) TotalViewers() int {
	g.mu.RLock()
	rooms := make([]*room, 0, len(g.rooms))
	for _, rm := range g.rooms {
		rooms = append(rooms, rm)
	}
	g.mu.RUnlock()

	n := 0
	for _, rm := range rooms {
		rm.mu.Lock()
		n += len(rm.viewers)
		rm.mu.Unlock()
	}
	return n
}

// acquireRoom returns streamID's room with its mutex held, creating the room
// if needed and recording subID's membership in the handle index. The retry
// loop covers the window where a concurrent leave garbage-collected the room
// between the table lookup and the room lock.
func (g *Registry) acquireRoom(streamID, subID string) *room {
	for {
		g.mu.Lock()
		rm, ok := g.rooms[streamID]
		if !ok {
			rm = &room{
				members: make(map[string]Subscriber),
				viewers: make(map[string]struct{}),
			}
			g.rooms[streamID] = rm
		}
		g.joined[subID] = streamID
		g.mu.Unlock()

		rm.mu.Lock()
		if !rm.closed {
			return rm
		}
		rm.mu.Unlock()
	}
}

// dropIfEmpty garbage-collects a room that lost its last member. An absent
// room is equivalent to an empty one, so this is memory hygiene only.
func (g *Registry) dropIfEmpty(streamID string, rm *room) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rooms[streamID] != rm {
		return
	}
	rm.mu.Lock()
	if len(rm.members) == 0 {
		rm.closed = true
		delete(g.rooms, streamID)
	}
	rm.mu.Unlock()
}

// broadcastLocked fans the room's viewer count out to every member, streamer
// included. Caller must hold rm.mu: enqueueing inside the critical section
// is what makes delivery order match mutation order per room.
func (g *Registry) broadcastLocked(streamID string, rm *room) {
	count := len(rm.viewers)
	for _, sub := range rm.members {
		sub.Notify(streamID, count)
	}
	if g.metrics != nil {
		g.metrics.IncBroadcasts()
	}
}
