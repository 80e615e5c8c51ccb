package room

import (
	"encoding/json"
	"sync"
	"testing"
)

// fakeConn records every frame written to it.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeConn) events(t *testing.T) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, frame := range f.frames {
		var push struct {
			Event string `json:"event"`
		}
		if err := json.Unmarshal(frame, &push); err != nil {
			t.Fatalf("bad frame %q: %v", frame, err)
		}
		out = append(out, push.Event)
	}
	return out
}

func newTestClient(hub *Hub, userID int64, name string) (*Client, *fakeConn) {
	conn := &fakeConn{}
	c := NewClient(userID, name, conn)
	hub.Register(c)
	return c, conn
}

func TestBroadcastReachesAllMembers(t *testing.T) {
	hub := NewHub()
	alice, aliceConn := newTestClient(hub, 1, "alice")
	bob, bobConn := newTestClient(hub, 2, "bob")
	hub.Join(10, alice)
	hub.Join(10, bob)

	hub.Broadcast(10, "playersUpdated", map[string]any{"count": 2})

	for name, conn := range map[string]*fakeConn{"alice": aliceConn, "bob": bobConn} {
		got := conn.events(t)
		if len(got) != 1 || got[0] != "playersUpdated" {
			t.Fatalf("%s got %v, want [playersUpdated]", name, got)
		}
	}
}

func TestBroadcastOrderingUnderConcurrency(t *testing.T) {
	hub := NewHub()
	alice, aliceConn := newTestClient(hub, 1, "alice")
	bob, bobConn := newTestClient(hub, 2, "bob")
	hub.Join(10, alice)
	hub.Join(10, bob)

	room := hub.GetOrCreateRoom(10)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			room.Apply(func(emit func(string, any)) error {
				emit("tick", map[string]any{"seq": seq})
				return nil
			})
		}(i)
	}
	wg.Wait()

	// Every member must observe the same emission order.
	aliceSeqs := tickSeqs(t, aliceConn)
	bobSeqs := tickSeqs(t, bobConn)
	if len(aliceSeqs) != n || len(bobSeqs) != n {
		t.Fatalf("got %d and %d ticks, want %d each", len(aliceSeqs), len(bobSeqs), n)
	}
	for i := range aliceSeqs {
		if aliceSeqs[i] != bobSeqs[i] {
			t.Fatalf("order diverged at %d: alice saw %d, bob saw %d", i, aliceSeqs[i], bobSeqs[i])
		}
	}
}

func tickSeqs(t *testing.T, conn *fakeConn) []int {
	t.Helper()
	conn.mu.Lock()
	defer conn.mu.Unlock()
	var out []int
	for _, frame := range conn.frames {
		var push struct {
			Event string `json:"event"`
			Data  struct {
				Seq int `json:"seq"`
			} `json:"data"`
		}
		if err := json.Unmarshal(frame, &push); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		out = append(out, push.Data.Seq)
	}
	return out
}

func TestBroadcastExceptSkipsSender(t *testing.T) {
	hub := NewHub()
	alice, aliceConn := newTestClient(hub, 1, "alice")
	bob, bobConn := newTestClient(hub, 2, "bob")
	hub.Join(10, alice)
	hub.Join(10, bob)

	hub.BroadcastExcept(10, alice, "userJoined", map[string]any{"userId": 1})

	if got := aliceConn.events(t); len(got) != 0 {
		t.Fatalf("sender received its own announcement: %v", got)
	}
	if got := bobConn.events(t); len(got) != 1 || got[0] != "userJoined" {
		t.Fatalf("bob got %v, want [userJoined]", got)
	}
}

func TestReconnectSupersedesOldConnection(t *testing.T) {
	hub := NewHub()
	_, oldConn := newTestClient(hub, 1, "alice")
	_, newConn := newTestClient(hub, 1, "alice")

	hub.SendToUser(1, "signal", map[string]any{"from": 2})

	if got := oldConn.events(t); len(got) != 0 {
		t.Fatalf("stale connection received %v", got)
	}
	if got := newConn.events(t); len(got) != 1 || got[0] != "signal" {
		t.Fatalf("new connection got %v, want [signal]", got)
	}
}

func TestUnregisterKeepsNewerMapping(t *testing.T) {
	hub := NewHub()
	old, _ := newTestClient(hub, 1, "alice")
	_, newConn := newTestClient(hub, 1, "alice")

	// The stale connection disconnecting must not unmap the newer one.
	hub.Unregister(old)

	hub.SendToUser(1, "signal", nil)
	if got := newConn.events(t); len(got) != 1 {
		t.Fatalf("new connection got %v, want one signal", got)
	}
}

func TestSendToUnknownUserIsSilentlyDropped(t *testing.T) {
	hub := NewHub()
	hub.SendToUser(99, "signal", nil) // must not panic
}

func TestUnregisterLeavesAllRooms(t *testing.T) {
	hub := NewHub()
	alice, _ := newTestClient(hub, 1, "alice")
	bob, bobConn := newTestClient(hub, 2, "bob")
	hub.Join(10, alice)
	hub.Join(11, alice)
	hub.Join(10, bob)

	hub.Unregister(alice)

	hub.Broadcast(10, "ping", nil)
	hub.Broadcast(11, "ping", nil)

	if got := bobConn.events(t); len(got) != 1 {
		t.Fatalf("bob got %v, want exactly one ping", got)
	}
	if _, ok := hub.ClientFor(1); ok {
		t.Fatal("alice should no longer be routable")
	}
}

func TestDropRoomDetachesMembers(t *testing.T) {
	hub := NewHub()
	alice, aliceConn := newTestClient(hub, 1, "alice")
	hub.Join(10, alice)

	hub.DropRoom(10)

	hub.Broadcast(10, "ping", nil)
	if got := aliceConn.events(t); len(got) != 0 {
		t.Fatalf("dropped room still delivered %v", got)
	}

	// The client can join a fresh incarnation of the room afterwards.
	hub.Join(10, alice)
	hub.Broadcast(10, "ping", nil)
	if got := aliceConn.events(t); len(got) != 1 {
		t.Fatalf("rejoin got %v, want one ping", got)
	}
}
