// Package room tracks which connections are joined to which room and fans
// events out to them. It also keeps the user -> connection table used by the
// voice signaling relay.
package room

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gofiber/contrib/websocket"

	"tabletop-backend/internal/protocol"
)

// Conn is the subset of the websocket connection the hub writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
}

// Client is one live authenticated connection.
type Client struct {
	UserID      int64
	DisplayName string

	conn    Conn
	writeMu sync.Mutex

	mu    sync.Mutex
	rooms map[int64]bool
}

// NewClient wraps a connection with its authenticated identity.
func NewClient(userID int64, displayName string, conn Conn) *Client {
	return &Client{
		UserID:      userID,
		DisplayName: displayName,
		conn:        conn,
		rooms:       make(map[int64]bool),
	}
}

// Push sends a server-initiated event to this client.
func (c *Client) Push(event string, data any) error {
	return c.write(&protocol.Push{Event: event, Data: data})
}

// Ack sends a response for a request this client made.
func (c *Client) Ack(resp *protocol.Response) error {
	return c.write(resp)
}

func (c *Client) write(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) joinedRooms() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int64, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Room is the set of connections currently joined to one room. Its mutex
// serializes broadcast emission, so events observed by members preserve the
// order in which mutations were applied.
type Room struct {
	ID int64

	mu      sync.Mutex
	clients map[*Client]bool
}

// Apply runs fn under the room's order lock. Events passed to emit go out to
// every joined client before any later Apply's events; fn should emit only
// after its state change has been confirmed.
func (r *Room) Apply(fn func(emit func(event string, data any)) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.emitLocked)
}

func (r *Room) emitLocked(event string, data any) {
	payload, err := json.Marshal(&protocol.Push{Event: event, Data: data})
	if err != nil {
		log.Printf("[Room %d] failed to marshal %s: %v", r.ID, event, err)
		return
	}
	for c := range r.clients {
		c.writeMu.Lock()
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("[Room %d] failed to send %s to user %d: %v", r.ID, event, c.UserID, err)
		}
		c.writeMu.Unlock()
	}
}

// Hub owns every room and the user -> connection table.
type Hub struct {
	mu    sync.RWMutex
	rooms map[int64]*Room
	users map[int64]*Client
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[int64]*Room),
		users: make(map[int64]*Client),
	}
}

// Register binds the client as the current connection for its identity.
// A reconnect with the same identity supersedes the old mapping; the stale
// connection is not closed, it simply stops receiving relayed signals.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.users[c.UserID] = c
}

// Unregister removes the client from every room it joined and drops its
// identity mapping unless a newer connection already superseded it.
func (h *Hub) Unregister(c *Client) {
	for _, roomID := range c.joinedRooms() {
		h.Leave(roomID, c)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.users[c.UserID] == c {
		delete(h.users, c.UserID)
	}
}

// ClientFor looks up the current connection for an identity.
func (h *Hub) ClientFor(userID int64) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.users[userID]
	return c, ok
}

// GetOrCreateRoom returns the room, creating it on first touch.
func (h *Hub) GetOrCreateRoom(roomID int64) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, ok := h.rooms[roomID]; ok {
		return room
	}
	room := &Room{ID: roomID, clients: make(map[*Client]bool)}
	h.rooms[roomID] = room
	return room
}

// Join adds the client to the room's recipient set.
func (h *Hub) Join(roomID int64, c *Client) {
	room := h.GetOrCreateRoom(roomID)

	room.mu.Lock()
	room.clients[c] = true
	room.mu.Unlock()

	c.mu.Lock()
	c.rooms[roomID] = true
	c.mu.Unlock()
}

// Leave removes the client from the room; an empty room is dropped.
func (h *Hub) Leave(roomID int64, c *Client) {
	h.mu.RLock()
	room, ok := h.rooms[roomID]
	h.mu.RUnlock()

	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()

	if !ok {
		return
	}

	room.mu.Lock()
	delete(room.clients, c)
	empty := len(room.clients) == 0
	room.mu.Unlock()

	if empty {
		h.dropIfEmpty(roomID)
	}
}

// DropRoom removes the room entirely (room closed by its master).
func (h *Hub) DropRoom(roomID int64) {
	h.mu.Lock()
	room, ok := h.rooms[roomID]
	delete(h.rooms, roomID)
	h.mu.Unlock()

	if !ok {
		return
	}
	room.mu.Lock()
	for c := range room.clients {
		c.mu.Lock()
		delete(c.rooms, roomID)
		c.mu.Unlock()
	}
	room.clients = make(map[*Client]bool)
	room.mu.Unlock()
}

func (h *Hub) dropIfEmpty(roomID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, ok := h.rooms[roomID]; ok {
		room.mu.Lock()
		empty := len(room.clients) == 0
		room.mu.Unlock()
		if empty {
			delete(h.rooms, roomID)
		}
	}
}

// Broadcast emits one event to every client joined to the room.
func (h *Hub) Broadcast(roomID int64, event string, data any) {
	h.GetOrCreateRoom(roomID).Apply(func(emit func(string, any)) error {
		emit(event, data)
		return nil
	})
}

// BroadcastExcept emits to everyone in the room but the given client,
// used for join announcements in the signaling relay.
func (h *Hub) BroadcastExcept(roomID int64, except *Client, event string, data any) {
	room := h.GetOrCreateRoom(roomID)

	room.mu.Lock()
	defer room.mu.Unlock()

	payload, err := json.Marshal(&protocol.Push{Event: event, Data: data})
	if err != nil {
		log.Printf("[Room %d] failed to marshal %s: %v", roomID, event, err)
		return
	}
	for c := range room.clients {
		if c == except {
			continue
		}
		c.writeMu.Lock()
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("[Room %d] failed to send %s to user %d: %v", roomID, event, c.UserID, err)
		}
		c.writeMu.Unlock()
	}
}

// SendToUser forwards an event to the current connection of an identity.
// A missing recipient is silently dropped: a disconnected peer is not an
// actionable failure for the sender.
func (h *Hub) SendToUser(userID int64, event string, data any) {
	c, ok := h.ClientFor(userID)
	if !ok {
		return
	}
	if err := c.Push(event, data); err != nil {
		log.Printf("[Hub] failed to send %s to user %d: %v", event, userID, err)
	}
}
