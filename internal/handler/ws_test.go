package handler

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"unicode/utf8"

	"tabletop-backend/internal/board"
	"tabletop-backend/internal/protocol"
	"tabletop-backend/internal/room"
)

// recordingConn captures frames written to one client.
type recordingConn struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *recordingConn) WriteMessage(messageType int, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	r.frames = append(r.frames, cp)
	return nil
}

func (r *recordingConn) pushes(t *testing.T) []protocol.Push {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Push
	for _, frame := range r.frames {
		var push protocol.Push
		if err := json.Unmarshal(frame, &push); err != nil {
			t.Fatalf("bad frame %q: %v", frame, err)
		}
		out = append(out, push)
	}
	return out
}

// newBoardHandler wires a handler for the pure in-memory operations; the
// database-backed lobby operations are not reachable from these tests.
func newBoardHandler() (*WSHandler, *room.Hub) {
	hub := room.NewHub()
	return NewWSHandler(nil, hub, board.NewStore(), nil, nil, 0, 0), hub
}

func connectMember(hub *room.Hub, roomID, userID int64, name string) (*room.Client, *recordingConn) {
	conn := &recordingConn{}
	c := room.NewClient(userID, name, conn)
	hub.Register(c)
	hub.Join(roomID, c)
	return c, conn
}

func call(t *testing.T, h *WSHandler, client *room.Client, event string, payload any) (map[string]any, *protocol.Error) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	data, opErr := h.dispatch(client, &protocol.Request{ID: 1, Event: event, Data: raw})
	if opErr != nil {
		return nil, protocol.AsError(opErr)
	}
	if data == nil {
		return nil, nil
	}

	// Round-trip through JSON to see exactly what a client would.
	b, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal ack data: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal ack data: %v", err)
	}
	return m, nil
}

func TestPlaceThenMoveToken(t *testing.T) {
	h, hub := newBoardHandler()
	alice, _ := connectMember(hub, 10, 1, "alice")

	placed, opErr := call(t, h, alice, "placeToken", map[string]any{
		"roomId": 10, "resourceRef": "goblin.png", "x": 10.0, "y": 20.0, "radius": 20.0, "color": "#fff",
	})
	if opErr != nil {
		t.Fatalf("placeToken failed: %v", opErr)
	}
	tok := placed["placement"].(map[string]any)
	id := tok["id"].(string)
	if id == "" {
		t.Fatal("expected a generated token id")
	}

	moved, opErr := call(t, h, alice, "moveToken", map[string]any{
		"roomId": 10, "tokenId": id, "x": 42.0, "y": 7.0,
	})
	if opErr != nil {
		t.Fatalf("moveToken failed: %v", opErr)
	}
	got := moved["token"].(map[string]any)
	if got["x"].(float64) != 42 || got["y"].(float64) != 7 {
		t.Fatalf("token at (%v, %v), want (42, 7)", got["x"], got["y"])
	}
}

func TestMoveUnknownTokenNotFound(t *testing.T) {
	h, hub := newBoardHandler()
	alice, _ := connectMember(hub, 10, 1, "alice")

	_, opErr := call(t, h, alice, "moveToken", map[string]any{
		"roomId": 10, "tokenId": "nope", "x": 1.0, "y": 1.0,
	})
	if opErr == nil || opErr.Code != protocol.CodeNotFound {
		t.Fatalf("got %v, want NOT_FOUND", opErr)
	}
}

func TestRemoveTokenTwiceSucceeds(t *testing.T) {
	h, hub := newBoardHandler()
	alice, _ := connectMember(hub, 10, 1, "alice")

	placed, _ := call(t, h, alice, "placeToken", map[string]any{"roomId": 10, "x": 0.0, "y": 0.0})
	id := placed["placement"].(map[string]any)["id"].(string)

	for i := 0; i < 2; i++ {
		if _, opErr := call(t, h, alice, "removeToken", map[string]any{"roomId": 10, "tokenId": id}); opErr != nil {
			t.Fatalf("removal %d failed: %v", i+1, opErr)
		}
	}
}

func TestBoardMutationsBroadcastToRoom(t *testing.T) {
	h, hub := newBoardHandler()
	alice, _ := connectMember(hub, 10, 1, "alice")
	_, bobConn := connectMember(hub, 10, 2, "bob")

	call(t, h, alice, "placeToken", map[string]any{"roomId": 10, "x": 1.0, "y": 2.0})

	pushes := bobConn.pushes(t)
	if len(pushes) != 1 || pushes[0].Event != "tokenPlaced" {
		t.Fatalf("bob got %v, want one tokenPlaced", pushes)
	}
}

func TestUndoRedoRoundTrip(t *testing.T) {
	h, hub := newBoardHandler()
	alice, _ := connectMember(hub, 10, 1, "alice")
	bob, _ := connectMember(hub, 10, 2, "bob")

	drawn, opErr := call(t, h, alice, "drawStroke", map[string]any{
		"roomId": 10, "color": "#00f", "width": 3.0,
		"points": []map[string]float64{{"x": 0, "y": 0}, {"x": 5, "y": 5}},
	})
	if opErr != nil {
		t.Fatalf("drawStroke failed: %v", opErr)
	}
	strokeID := drawn["stroke"].(map[string]any)["id"].(string)

	// Bob draws after Alice; Alice's undo must still target her own stroke.
	if _, opErr := call(t, h, bob, "drawStroke", map[string]any{
		"roomId": 10, "color": "#f00", "width": 1.0,
		"points": []map[string]float64{{"x": 9, "y": 9}},
	}); opErr != nil {
		t.Fatalf("bob drawStroke failed: %v", opErr)
	}

	if _, opErr := call(t, h, alice, "undoStroke", map[string]any{"roomId": 10}); opErr != nil {
		t.Fatalf("undoStroke failed: %v", opErr)
	}

	redone, opErr := call(t, h, alice, "redoStroke", map[string]any{"roomId": 10})
	if opErr != nil {
		t.Fatalf("redoStroke failed: %v", opErr)
	}
	if got := redone["stroke"].(map[string]any)["id"].(string); got != strokeID {
		t.Fatalf("redo restored stroke %s, want %s", got, strokeID)
	}

	// Nothing left to undo twice over for bob after his single stroke is undone.
	if _, opErr := call(t, h, bob, "undoStroke", map[string]any{"roomId": 10}); opErr != nil {
		t.Fatalf("bob undoStroke failed: %v", opErr)
	}
	if _, opErr := call(t, h, bob, "undoStroke", map[string]any{"roomId": 10}); opErr == nil || opErr.Code != protocol.CodeNotFound {
		t.Fatalf("got %v, want NOT_FOUND on empty undo", opErr)
	}
}

func TestEndGameIdempotent(t *testing.T) {
	h, hub := newBoardHandler()
	alice, _ := connectMember(hub, 10, 1, "alice")

	call(t, h, alice, "placeToken", map[string]any{"roomId": 10, "x": 0.0, "y": 0.0})

	for i := 0; i < 2; i++ {
		if _, opErr := call(t, h, alice, "endGame", map[string]any{"roomId": 10}); opErr != nil {
			t.Fatalf("endGame %d failed: %v", i+1, opErr)
		}
	}
}

func TestSignalRelayTargetsExactlyOneConnection(t *testing.T) {
	h, hub := newBoardHandler()
	alice, _ := connectMember(hub, 10, 1, "alice")
	_, bobConn := connectMember(hub, 10, 2, "bob")
	_, carolConn := connectMember(hub, 10, 3, "carol")

	payload := json.RawMessage(`{"sdp":"offer"}`)
	if _, opErr := call(t, h, alice, "signal", map[string]any{"toIdentity": 2, "payload": payload}); opErr != nil {
		t.Fatalf("signal failed: %v", opErr)
	}

	pushes := bobConn.pushes(t)
	if len(pushes) != 1 || pushes[0].Event != "signal" {
		t.Fatalf("bob got %v, want one signal", pushes)
	}
	env := pushes[0].Data.(map[string]any)
	if env["from"].(float64) != 1 {
		t.Fatalf("envelope from=%v, want 1", env["from"])
	}
	if got := env["payload"].(map[string]any)["sdp"]; got != "offer" {
		t.Fatalf("payload altered: %v", got)
	}
	if got := carolConn.pushes(t); len(got) != 0 {
		t.Fatalf("carol got %v, want nothing", got)
	}
}

func TestSignalToDisconnectedPeerSucceeds(t *testing.T) {
	h, hub := newBoardHandler()
	alice, _ := connectMember(hub, 10, 1, "alice")

	if _, opErr := call(t, h, alice, "signal", map[string]any{"toIdentity": 99, "payload": json.RawMessage(`{}`)}); opErr != nil {
		t.Fatalf("got %v, want silent success", opErr)
	}
}

func TestJoinVoiceExcludesJoiner(t *testing.T) {
	h, hub := newBoardHandler()
	alice, aliceConn := connectMember(hub, 10, 1, "alice")
	_, bobConn := connectMember(hub, 10, 2, "bob")

	if _, opErr := call(t, h, alice, "joinVoice", map[string]any{"roomId": 10}); opErr != nil {
		t.Fatalf("joinVoice failed: %v", opErr)
	}

	if got := aliceConn.pushes(t); len(got) != 0 {
		t.Fatalf("joiner got %v, want nothing", got)
	}
	pushes := bobConn.pushes(t)
	if len(pushes) != 1 || pushes[0].Event != "peerJoined" {
		t.Fatalf("bob got %v, want one peerJoined", pushes)
	}
}

func TestUnknownEventRejected(t *testing.T) {
	h, hub := newBoardHandler()
	alice, _ := connectMember(hub, 10, 1, "alice")

	_, opErr := call(t, h, alice, "teleport", map[string]any{})
	if opErr == nil || opErr.Code != protocol.CodeInvalidArgument {
		t.Fatalf("got %v, want INVALID_ARGUMENT", opErr)
	}
}

func TestMissingRoomIDRejected(t *testing.T) {
	h, hub := newBoardHandler()
	alice, _ := connectMember(hub, 10, 1, "alice")

	for _, event := range []string{"placeToken", "drawStroke", "undoStroke", "endGame", "joinVoice"} {
		t.Run(event, func(t *testing.T) {
			_, opErr := call(t, h, alice, event, map[string]any{})
			if opErr == nil || opErr.Code != protocol.CodeInvalidArgument {
				t.Fatalf("got %v, want INVALID_ARGUMENT", opErr)
			}
		})
	}
}

func TestPurgeLobbiesDropsDeadRoomState(t *testing.T) {
	store := board.NewStore()
	hub := room.NewHub()
	h := NewWSHandler(nil, hub, store, nil, nil, 0, 0)
	alice, aliceConn := connectMember(hub, 10, 1, "alice")

	call(t, h, alice, "placeToken", map[string]any{"roomId": 10, "x": 1.0, "y": 2.0})

	h.PurgeLobbies([]int64{10}, nil)

	pushes := aliceConn.pushes(t)
	if len(pushes) != 2 || pushes[1].Event != "roomClosed" {
		t.Fatalf("alice got %v, want tokenPlaced then roomClosed", pushes)
	}

	_, tokens, _ := store.Snapshot(10)
	if len(tokens) != 0 {
		t.Fatalf("purged room still holds %d tokens", len(tokens))
	}

	// The hub room is gone: nothing further reaches the old member.
	hub.Broadcast(10, "ping", nil)
	if got := aliceConn.pushes(t); len(got) != 2 {
		t.Fatalf("dropped room still delivered: %v", got)
	}
}

func TestKickWithoutTargetRejected(t *testing.T) {
	h, hub := newBoardHandler()
	alice, _ := connectMember(hub, 10, 1, "alice")

	_, opErr := call(t, h, alice, "kick", map[string]any{"roomId": 10})
	if opErr == nil || opErr.Code != protocol.CodeInvalidArgument {
		t.Fatalf("got %v, want INVALID_ARGUMENT", opErr)
	}
}

func TestVoiceStatusCarriesSpeakingFlag(t *testing.T) {
	h, hub := newBoardHandler()
	alice, _ := connectMember(hub, 10, 1, "alice")
	_, bobConn := connectMember(hub, 10, 2, "bob")

	if _, opErr := call(t, h, alice, "voiceStatus", map[string]any{"roomId": 10, "speaking": true}); opErr != nil {
		t.Fatalf("voiceStatus failed: %v", opErr)
	}

	pushes := bobConn.pushes(t)
	if len(pushes) != 1 || pushes[0].Event != "voiceStatusChanged" {
		t.Fatalf("bob got %v, want one voiceStatusChanged", pushes)
	}
	data := pushes[0].Data.(map[string]any)
	speaking, ok := data["speaking"].(bool)
	if !ok || !speaking {
		t.Fatalf("payload %v, want speaking=true", data)
	}
}

func TestUploadTokenWithoutStoreUnavailable(t *testing.T) {
	h, hub := newBoardHandler()
	alice, _ := connectMember(hub, 10, 1, "alice")

	_, opErr := call(t, h, alice, "uploadToken", map[string]any{
		"roomId": 10, "fileName": "orc.png", "mimeType": "image/png",
		"bytes": []byte{1, 2, 3},
	})
	if opErr == nil || opErr.Code != protocol.CodeUnavailable {
		t.Fatalf("got %v, want UNAVAILABLE", opErr)
	}
}

func TestRemoveTokenImageValidatesIDs(t *testing.T) {
	h, hub := newBoardHandler()
	alice, _ := connectMember(hub, 10, 1, "alice")

	_, opErr := call(t, h, alice, "removeTokenImage", map[string]any{"roomId": 10})
	if opErr == nil || opErr.Code != protocol.CodeInvalidArgument {
		t.Fatalf("got %v, want INVALID_ARGUMENT", opErr)
	}
}

func TestTruncateTextKeepsRuneBoundary(t *testing.T) {
	// "가" is 3 bytes; a cut inside it must back off to the rune start.
	s := "ab가"
	for max, want := range map[int]string{5: "ab", 4: "ab", 3: "ab", 2: "ab", 10: "ab가"} {
		if got := truncateText(s, max); got != want {
			t.Fatalf("truncateText(%q, %d) = %q, want %q", s, max, got, want)
		}
		if !utf8.ValidString(truncateText(s, max)) {
			t.Fatalf("truncateText(%q, %d) produced invalid UTF-8", s, max)
		}
	}
}

func TestConcurrentTokenChurn(t *testing.T) {
	h, hub := newBoardHandler()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c, _ := connectMember(hub, 10, int64(100+n), fmt.Sprintf("user%d", n))
			for j := 0; j < 25; j++ {
				placed, opErr := call(t, h, c, "placeToken", map[string]any{"roomId": 10, "x": 1.0, "y": 1.0})
				if opErr != nil {
					t.Errorf("placeToken failed: %v", opErr)
					return
				}
				id := placed["placement"].(map[string]any)["id"].(string)
				// Concurrent double-removal must never surface an error.
				call(t, h, c, "removeToken", map[string]any{"roomId": 10, "tokenId": id})
				call(t, h, c, "removeToken", map[string]any{"roomId": 10, "tokenId": id})
			}
		}(i)
	}
	wg.Wait()
}
