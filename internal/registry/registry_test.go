package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/meet-service/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type event struct {
	kind       string
	recipients []string
	subject    string
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func ids(ps []domain.Participant) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ConnectionID
	}
	return out
}

func (r *recorder) Welcome(p domain.Participant, others []domain.Participant) {
	r.mu.Lock()
	r.events = append(r.events, event{"welcome", ids(others), p.ConnectionID})
	r.mu.Unlock()
}

func (r *recorder) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) ParticipantJoined(rcpt []domain.Participant, p domain.Participant) {
	r.mu.Lock()
	r.events = append(r.events, event{"joined", ids(rcpt), p.ConnectionID})
	r.mu.Unlock()
}

func (r *recorder) ParticipantLeft(rcpt []domain.Participant, p domain.Participant) {
	r.mu.Lock()
	r.events = append(r.events, event{"left", ids(rcpt), p.ConnectionID})
	r.mu.Unlock()
}

func (r *recorder) RoomExpired(rcpt []domain.Participant, roomID string) {
	r.mu.Lock()
	r.events = append(r.events, event{"expired", ids(rcpt), roomID})
	r.mu.Unlock()
}

func (r *recorder) last() event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return event{}
	}
	return r.events[len(r.events)-1]
}

func newTestRegistry(t *testing.T) (*Registry, *fakeClock, *recorder) {
	t.Helper()
	clk := newFakeClock()
	rec := &recorder{}
	reg := New(Options{
		GracePeriod:   30 * time.Second,
		MaxLifetime:   time.Hour,
		SweepInterval: time.Second,
		Notifier:      rec,
		Now:           clk.Now,
	})
	return reg, clk, rec
}

func mustCreate(t *testing.T, reg *Registry) string {
	t.Helper()
	id, err := reg.CreateRoom()
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return id
}

func TestCreateRoom_Exists(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	id := mustCreate(t, reg)

	if len(id) != roomIDLen {
		t.Fatalf("room id %q: want length %d", id, roomIDLen)
	}
	if !reg.RoomExists(id) {
		t.Fatalf("created room must exist")
	}
	if reg.RoomExists("nope") {
		t.Fatalf("unknown room must not exist")
	}
}

func TestCreateRoom_SkipsCollidingIDs(t *testing.T) {
	seq := []string{"aaa", "aaa", "bbb"}
	i := 0
	reg := New(Options{NewID: func() string { id := seq[i]; i++; return id }})

	first, _ := reg.CreateRoom()
	second, err := reg.CreateRoom()
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if first != "aaa" || second != "bbb" {
		t.Fatalf("got %q, %q", first, second)
	}
}

func TestJoinRoom_SnapshotExcludesJoiner(t *testing.T) {
	reg, _, rec := newTestRegistry(t)
	id := mustCreate(t, reg)

	others, err := reg.JoinRoom(id, "A", "alice")
	if err != nil {
		t.Fatalf("join A: %v", err)
	}
	if len(others) != 0 {
		t.Fatalf("first joiner should see nobody, got %v", ids(others))
	}

	others, err = reg.JoinRoom(id, "B", "bob")
	if err != nil {
		t.Fatalf("join B: %v", err)
	}
	if got := ids(others); len(got) != 1 || got[0] != "A" {
		t.Fatalf("B should see [A], got %v", got)
	}
	if ev := rec.last(); ev.kind != "joined" || ev.subject != "B" || len(ev.recipients) != 1 || ev.recipients[0] != "A" {
		t.Fatalf("A should be notified of B, got %+v", ev)
	}

	members, _ := reg.Members(id)
	if got := ids(members); len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("members must keep join order, got %v", got)
	}
}

func TestJoinRoom_UnknownRoom(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	if _, err := reg.JoinRoom("missing", "A", "alice"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
	if _, ok := reg.RoomOf("A"); ok {
		t.Fatalf("failed join must not index the connection")
	}
}

func TestJoinRoom_SameRoomTwiceNoDuplicate(t *testing.T) {
	reg, _, rec := newTestRegistry(t)
	id := mustCreate(t, reg)
	reg.JoinRoom(id, "A", "alice")
	reg.JoinRoom(id, "B", "bob")
	n := rec.count("joined")

	others, err := reg.JoinRoom(id, "B", "bobby")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if got := ids(others); len(got) != 1 || got[0] != "A" {
		t.Fatalf("rejoin snapshot: %v", got)
	}
	members, _ := reg.Members(id)
	if len(members) != 2 || members[1].DisplayName != "bobby" {
		t.Fatalf("unexpected members: %+v", members)
	}
	if rec.count("joined") != n {
		t.Fatalf("rejoin must not notify other members")
	}
	if ev := rec.last(); ev.kind != "welcome" || ev.subject != "B" {
		t.Fatalf("rejoin must re-send the snapshot, got %+v", ev)
	}
}

func TestJoinRoom_SwitchesRoom(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	r1 := mustCreate(t, reg)
	r2 := mustCreate(t, reg)
	reg.JoinRoom(r1, "A", "alice")
	reg.JoinRoom(r1, "B", "bob")

	if _, err := reg.JoinRoom(r2, "A", "alice"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if reg.IsMember(r1, "A") {
		t.Fatalf("A must have left r1")
	}
	if !reg.IsMember(r2, "A") {
		t.Fatalf("A must be in r2")
	}
	if got, _ := reg.RoomOf("A"); got != r2 {
		t.Fatalf("RoomOf(A) = %q, want %q", got, r2)
	}
}

func TestJoinRoom_SwitchToUnknownKeepsOldRoom(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	r1 := mustCreate(t, reg)
	reg.JoinRoom(r1, "A", "alice")

	if _, err := reg.JoinRoom("missing", "A", "alice"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
	if !reg.IsMember(r1, "A") {
		t.Fatalf("A must stay in r1")
	}
}

// scriptedClock hands out queued instants, then falls back to base.
type scriptedClock struct {
	mu    sync.Mutex
	base  time.Time
	queue []time.Time
}

func (c *scriptedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return c.base
	}
	t := c.queue[0]
	c.queue = c.queue[1:]
	return t
}

func (c *scriptedClock) script(ts ...time.Time) {
	c.mu.Lock()
	c.queue = append(c.queue, ts...)
	c.mu.Unlock()
}

func TestJoinRoom_SwitchDecidesOnSingleTargetCheck(t *testing.T) {
	clk := &scriptedClock{base: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	reg := New(Options{GracePeriod: 30 * time.Second, MaxLifetime: time.Hour, Now: clk.Now})
	r1 := mustCreate(t, reg)
	r2 := mustCreate(t, reg)
	if _, err := reg.JoinRoom(r1, "A", "alice"); err != nil {
		t.Fatalf("join: %v", err)
	}

	// r2 is alive at the first look and expired on every later one.
	alive, expired := clk.base.Add(59*time.Minute), clk.base.Add(time.Hour)
	clk.script(alive, expired, expired)

	if _, err := reg.JoinRoom(r2, "A", "alice"); err != nil {
		t.Fatalf("switch: %v (still in r1: %v)", err, reg.IsMember(r1, "A"))
	}
	if !reg.IsMember(r2, "A") || reg.IsMember(r1, "A") {
		t.Fatalf("A must have moved to r2")
	}
}

func TestJoinRoom_SwitchToExpiredKeepsOldRoom(t *testing.T) {
	reg, clk, _ := newTestRegistry(t)
	target := mustCreate(t, reg)
	clk.Advance(30 * time.Minute)
	r1 := mustCreate(t, reg)
	reg.JoinRoom(r1, "A", "alice")
	clk.Advance(30 * time.Minute)

	if _, err := reg.JoinRoom(target, "A", "alice"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
	if got, _ := reg.RoomOf("A"); got != r1 || !reg.IsMember(r1, "A") {
		t.Fatalf("A must stay in r1, RoomOf = %q", got)
	}
}

func TestConcurrentOppositeSwitches(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	r1 := mustCreate(t, reg)
	r2 := mustCreate(t, reg)
	reg.JoinRoom(r1, "A", "alice")
	reg.JoinRoom(r2, "B", "bob")

	done := make(chan struct{})
	var wg sync.WaitGroup
	for conn, rooms := range map[string][2]string{"A": {r2, r1}, "B": {r1, r2}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 500 {
				if _, err := reg.JoinRoom(rooms[i%2], conn, conn); err != nil {
					t.Errorf("%s switch %d: %v", conn, i, err)
					return
				}
			}
		}()
	}
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("opposite room switches deadlocked")
	}
	for _, conn := range []string{"A", "B"} {
		id, ok := reg.RoomOf(conn)
		if !ok || !reg.IsMember(id, conn) {
			t.Fatalf("%s: index says %q, membership disagrees", conn, id)
		}
	}
	m1, _ := reg.Members(r1)
	m2, _ := reg.Members(r2)
	if len(m1)+len(m2) != 2 {
		t.Fatalf("members r1=%v r2=%v", ids(m1), ids(m2))
	}
}

func TestLeaveRoom_IdempotentAndNotifies(t *testing.T) {
	reg, _, rec := newTestRegistry(t)
	id := mustCreate(t, reg)
	reg.JoinRoom(id, "A", "alice")
	reg.JoinRoom(id, "B", "bob")

	if !reg.LeaveRoom("A") {
		t.Fatalf("first leave should remove A")
	}
	if ev := rec.last(); ev.kind != "left" || ev.subject != "A" || len(ev.recipients) != 1 || ev.recipients[0] != "B" {
		t.Fatalf("B should be notified of A leaving, got %+v", ev)
	}
	n := len(rec.events)
	if reg.LeaveRoom("A") {
		t.Fatalf("second leave must be a no-op")
	}
	if len(rec.events) != n {
		t.Fatalf("second leave must not notify")
	}
	members, _ := reg.Members(id)
	if got := ids(members); len(got) != 1 || got[0] != "B" {
		t.Fatalf("members: %v", got)
	}
}

func TestGracePeriod_RejoinKeepsIdentity(t *testing.T) {
	reg, clk, _ := newTestRegistry(t)
	id := mustCreate(t, reg)
	before, _ := reg.Room(id)

	reg.JoinRoom(id, "A", "alice")
	reg.LeaveRoom("A")
	clk.Advance(20 * time.Second)
	if n := reg.SweepExpired(clk.Now()); n != 0 {
		t.Fatalf("room inside grace must survive the sweep, removed %d", n)
	}

	if _, err := reg.JoinRoom(id, "A2", "alice"); err != nil {
		t.Fatalf("rejoin within grace: %v", err)
	}
	after, _ := reg.Room(id)
	if !after.CreatedAt.Equal(before.CreatedAt) {
		t.Fatalf("createdAt changed: %v -> %v", before.CreatedAt, after.CreatedAt)
	}

	// grace timer was cancelled by the rejoin
	clk.Advance(time.Minute)
	if !reg.RoomExists(id) {
		t.Fatalf("occupied room must not expire by grace")
	}
}

func TestGracePeriod_ExpiredRoomRejectsJoin(t *testing.T) {
	reg, clk, _ := newTestRegistry(t)
	id := mustCreate(t, reg)
	reg.JoinRoom(id, "A", "alice")
	reg.LeaveRoom("A")

	clk.Advance(31 * time.Second)
	if reg.RoomExists(id) {
		t.Fatalf("room past grace must not exist")
	}
	if _, err := reg.JoinRoom(id, "B", "bob"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestSweep_GraceExpired(t *testing.T) {
	reg, clk, _ := newTestRegistry(t)
	id := mustCreate(t, reg)
	reg.JoinRoom(id, "A", "alice")
	reg.LeaveRoom("A")

	clk.Advance(45 * time.Second)
	if n := reg.SweepExpired(clk.Now()); n != 1 {
		t.Fatalf("sweep removed %d, want 1", n)
	}
	if reg.Len() != 0 {
		t.Fatalf("registry should be empty")
	}
}

func TestSweep_NeverJoinedRoomLivesUntilLifetime(t *testing.T) {
	reg, clk, _ := newTestRegistry(t)
	id := mustCreate(t, reg)

	clk.Advance(10 * time.Minute)
	reg.SweepExpired(clk.Now())
	if !reg.RoomExists(id) {
		t.Fatalf("unjoined room must wait for its link to be used")
	}

	clk.Advance(time.Hour)
	if reg.RoomExists(id) {
		t.Fatalf("room past max lifetime must not exist")
	}
}

func TestSweep_LifetimeEvictsOccupiedRoom(t *testing.T) {
	reg, clk, rec := newTestRegistry(t)
	id := mustCreate(t, reg)
	reg.JoinRoom(id, "A", "alice")

	clk.Advance(time.Hour + time.Second)
	if n := reg.SweepExpired(clk.Now()); n != 1 {
		t.Fatalf("sweep removed %d, want 1", n)
	}
	if ev := rec.last(); ev.kind != "expired" || ev.subject != id || len(ev.recipients) != 1 {
		t.Fatalf("members should be told the room expired, got %+v", ev)
	}
	if _, ok := reg.RoomOf("A"); ok {
		t.Fatalf("connection index must be cleared")
	}
	if reg.LeaveRoom("A") {
		t.Fatalf("leave after eviction must be a no-op")
	}
}

func TestExpiredTokenCanBeReused(t *testing.T) {
	clk := newFakeClock()
	reg := New(Options{
		GracePeriod: time.Second,
		MaxLifetime: time.Hour,
		Now:         clk.Now,
		NewID:       func() string { return "same" },
	})
	id := mustCreate(t, reg)
	first, _ := reg.Room(id)
	reg.JoinRoom(id, "A", "alice")
	reg.LeaveRoom("A")
	clk.Advance(2 * time.Second)
	reg.SweepExpired(clk.Now())

	id2 := mustCreate(t, reg)
	second, _ := reg.Room(id2)
	if id2 != id {
		t.Fatalf("expected reused token")
	}
	if !second.CreatedAt.After(first.CreatedAt) || len(second.Members) != 0 {
		t.Fatalf("reused token must be a fresh room: %+v", second)
	}
}

func TestClose(t *testing.T) {
	reg, _, rec := newTestRegistry(t)
	id := mustCreate(t, reg)
	reg.JoinRoom(id, "A", "alice")

	reg.Close()
	if reg.RoomExists(id) {
		t.Fatalf("room must be gone after Close")
	}
	if _, err := reg.CreateRoom(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if ev := rec.last(); ev.kind == "expired" {
		t.Fatalf("shutdown must not notify members")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	reg := New(Options{SweepInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestConcurrentJoinLeave_MembershipConsistent(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	id := mustCreate(t, reg)

	const n = 50
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("c%d", i)
			if _, err := reg.JoinRoom(id, conn, conn); err != nil {
				t.Errorf("join %s: %v", conn, err)
				return
			}
			if i%2 == 0 {
				reg.LeaveRoom(conn)
			}
		}(i)
	}
	wg.Wait()

	members, err := reg.Members(id)
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(members) != n/2 {
		t.Fatalf("membership = %d, want %d", len(members), n/2)
	}
	seen := map[string]bool{}
	for _, p := range members {
		if seen[p.ConnectionID] {
			t.Fatalf("duplicate member %s", p.ConnectionID)
		}
		seen[p.ConnectionID] = true
	}
}

func TestConcurrentJoinAndSweep(t *testing.T) {
	reg, clk, _ := newTestRegistry(t)
	id := mustCreate(t, reg)
	reg.JoinRoom(id, "seed", "seed")
	reg.LeaveRoom("seed")
	clk.Advance(31 * time.Second)

	var wg sync.WaitGroup
	results := make(chan error, 20)
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := reg.JoinRoom(id, fmt.Sprintf("c%d", i), "x")
			results <- err
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		reg.SweepExpired(clk.Now())
	}()
	wg.Wait()
	close(results)

	for err := range results {
		if !errors.Is(err, domain.ErrRoomNotFound) {
			t.Fatalf("join into an expired room must fail, got %v", err)
		}
	}
	for i := range 20 {
		if _, ok := reg.RoomOf(fmt.Sprintf("c%d", i)); ok {
			t.Fatalf("no connection may be indexed into a destroyed room")
		}
	}
}
