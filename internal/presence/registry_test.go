package presence

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
)

// fakeSub records every count it is notified with, in order.
type fakeSub struct {
	id string

	mu     sync.Mutex
	counts []int
}

func newFakeSub(id string) *fakeSub {
	return &fakeSub{id: id}
}

func (s *fakeSub) ID() string { return s.id }

func (s *fakeSub) Notify(streamID string, count int) {
	s.mu.Lock()
	s.counts = append(s.counts, count)
	s.mu.Unlock()
}

func (s *fakeSub) observed() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.counts...)
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewRegistry(log, nil)
}

func TestRegistry_Count_absent_room(t *testing.T) {
	reg := newTestRegistry(t)
	if got := reg.Count("nobody-home"); got != 0 {
		t.Errorf("Count on absent room: got %d, want 0", got)
	}
}

func TestRegistry_join_leave_broadcast_order(t *testing.T) {
	reg := newTestRegistry(t)
	owner := newFakeSub("owner")
	v1 := newFakeSub("v1")
	v2 := newFakeSub("v2")

	reg.Join("s", owner, RoleStreamer)
	reg.Join("s", v1, RoleViewer)
	reg.Join("s", v2, RoleViewer)
	reg.Leave(v1)

	// The owner sees every counted mutation, in mutation order.
	got := owner.observed()
	want := []int{1, 2, 1}
	if len(got) != len(want) {
		t.Fatalf("owner observed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("owner observed %v, want %v", got, want)
		}
	}

	// v2 was not in the room for the first mutation; it sees the tail.
	if got := v2.observed(); len(got) != 2 || got[0] != 2 || got[1] != 1 {
		t.Errorf("v2 observed %v, want [2 1]", got)
	}

	if reg.Count("s") != 1 {
		t.Errorf("Count after leave: got %d, want 1", reg.Count("s"))
	}
}

func TestRegistry_Leave_idempotent(t *testing.T) {
	reg := newTestRegistry(t)
	v1 := newFakeSub("v1")
	v2 := newFakeSub("v2")

	reg.Join("s", v1, RoleViewer)
	reg.Join("s", v2, RoleViewer)
	reg.Leave(v1)

	before := len(v2.observed())
	reg.Leave(v1)
	reg.Leave(v1)

	if got := len(v2.observed()); got != before {
		t.Errorf("redundant Leave broadcast: observed %d updates, want %d", got, before)
	}
	if reg.Count("s") != 1 {
		t.Errorf("Count: got %d, want 1", reg.Count("s"))
	}
}

func TestRegistry_Join_idempotent(t *testing.T) {
	reg := newTestRegistry(t)
	v1 := newFakeSub("v1")

	reg.Join("s", v1, RoleViewer)
	reg.Join("s", v1, RoleViewer)

	if reg.Count("s") != 1 {
		t.Errorf("double join should not double-count: got %d", reg.Count("s"))
	}
	if got := v1.observed(); len(got) != 1 {
		t.Errorf("second join should not re-broadcast: observed %v", got)
	}
}

func TestRegistry_streamer_not_counted_but_notified(t *testing.T) {
	reg := newTestRegistry(t)
	owner := newFakeSub("owner")
	v1 := newFakeSub("v1")

	reg.Join("s", owner, RoleStreamer)
	if reg.Count("s") != 0 {
		t.Fatalf("streamer should not count: got %d", reg.Count("s"))
	}

	reg.Join("s", v1, RoleViewer)
	reg.Leave(v1)

	got := owner.observed()
	want := []int{1, 0}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("owner observed %v, want %v", got, want)
	}
}

func TestRegistry_join_moves_connection(t *testing.T) {
	reg := newTestRegistry(t)
	watcherA := newFakeSub("a")
	hopper := newFakeSub("h")

	reg.Join("s1", watcherA, RoleViewer)
	reg.Join("s1", hopper, RoleViewer)
	reg.Join("s2", hopper, RoleViewer)

	if reg.Count("s1") != 1 {
		t.Errorf("s1 should lose the hopper: got %d", reg.Count("s1"))
	}
	if reg.Count("s2") != 1 {
		t.Errorf("s2 should gain the hopper: got %d", reg.Count("s2"))
	}

	// Disconnecting the hopper must only touch its current room.
	reg.Leave(hopper)
	if reg.Count("s1") != 1 || reg.Count("s2") != 0 {
		t.Errorf("after leave: s1=%d s2=%d", reg.Count("s1"), reg.Count("s2"))
	}
}

func TestRegistry_room_garbage_collected(t *testing.T) {
	reg := newTestRegistry(t)
	v1 := newFakeSub("v1")

	reg.Join("s", v1, RoleViewer)
	reg.Leave(v1)

	if reg.Count("s") != 0 {
		t.Errorf("Count after last leave: got %d", reg.Count("s"))
	}
	reg.mu.RLock()
	_, exists := reg.rooms["s"]
	reg.mu.RUnlock()
	if exists {
		t.Error("empty room should be dropped from the table")
	}

	// And the room must come back cleanly.
	reg.Join("s", v1, RoleViewer)
	if reg.Count("s") != 1 {
		t.Errorf("rejoin after gc: got %d", reg.Count("s"))
	}
}

func TestRegistry_concurrent_joins(t *testing.T) {
	reg := newTestRegistry(t)

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			reg.Join("s", newFakeSub(fmt.Sprintf("v%d", i)), RoleViewer)
		}(i)
	}
	wg.Wait()

	if got := reg.Count("s"); got != n {
		t.Errorf("concurrent joins lost updates: got %d, want %d", got, n)
	}
	if got := reg.TotalViewers(); got != n {
		t.Errorf("TotalViewers: got %d, want %d", got, n)
	}
}

func TestRegistry_concurrent_join_leave_different_rooms(t *testing.T) {
	reg := newTestRegistry(t)

	const rooms = 8
	const perRoom = 25
	var wg sync.WaitGroup
	for r := 0; r < rooms; r++ {
		for i := 0; i < perRoom; i++ {
			wg.Add(1)
			go func(r, i int) {
				defer wg.Done()
				sub := newFakeSub(fmt.Sprintf("r%d-v%d", r, i))
				stream := fmt.Sprintf("stream-%d", r)
				reg.Join(stream, sub, RoleViewer)
				if i%2 == 0 {
					reg.Leave(sub)
				}
			}(r, i)
		}
	}
	wg.Wait()

	for r := 0; r < rooms; r++ {
		stream := fmt.Sprintf("stream-%d", r)
		// 13 of the 25 joiners (even i) left again.
		if got := reg.Count(stream); got != perRoom-13 {
			t.Errorf("%s: got %d, want %d", stream, got, perRoom-13)
		}
	}
}
