// Package board holds the ephemeral per-room game state: map transforms,
// placed tokens, the stroke log and per-author undo stacks. Nothing here is
// persisted; a room's state is created lazily on first touch and discarded
// when the room dissolves.
package board

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrMapNotFound   = errors.New("map not found")
	ErrTokenNotFound = errors.New("token not found")
	ErrNothingToUndo = errors.New("no stroke to undo")
	ErrNothingToRedo = errors.New("no stroke to redo")
)

// Point is a single 2-D position of a stroke path.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is a finalized freehand ink stroke. Immutable once stored.
type Stroke struct {
	ID     string  `json:"id"`
	UserID int64   `json:"userId"`
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
	Points []Point `json:"points"`
}

// Token is a placed game token. Any joined player may create, move or remove
// any token; PlacedBy is informational only.
type Token struct {
	ID          string  `json:"id"`
	ResourceRef string  `json:"resourceRef,omitempty"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Radius      float64 `json:"radius"`
	Color       string  `json:"color"`
	PlacedBy    int64   `json:"placedBy"`
}

// MapTransform is the live position/scale of an uploaded map.
type MapTransform struct {
	MapID int64   `json:"mapId"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Scale float64 `json:"scale"`
}

type roomState struct {
	transforms map[int64]*MapTransform
	tokens     []*Token
	strokes    []*Stroke
	undone     map[int64][]*Stroke // author -> stack of undone strokes
}

func newRoomState() *roomState {
	return &roomState{
		transforms: make(map[int64]*MapTransform),
		undone:     make(map[int64][]*Stroke),
	}
}

// Store keeps one state per room id.
type Store struct {
	mu    sync.Mutex
	rooms map[int64]*roomState
}

func NewStore() *Store {
	return &Store{rooms: make(map[int64]*roomState)}
}

// state returns the room's state, creating it lazily.
func (s *Store) state(roomID int64) *roomState {
	st, ok := s.rooms[roomID]
	if !ok {
		st = newRoomState()
		s.rooms[roomID] = st
	}
	return st
}

// Snapshot returns copies of the room's live collections for a late joiner.
func (s *Store) Snapshot(roomID int64) (transforms map[int64]MapTransform, tokens []Token, strokes []Stroke) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(roomID)

	transforms = make(map[int64]MapTransform, len(st.transforms))
	for id, t := range st.transforms {
		transforms[id] = *t
	}
	tokens = make([]Token, 0, len(st.tokens))
	for _, t := range st.tokens {
		tokens = append(tokens, *t)
	}
	strokes = make([]Stroke, 0, len(st.strokes))
	for _, sk := range st.strokes {
		strokes = append(strokes, *sk)
	}
	return transforms, tokens, strokes
}

// EnsureMapTransform registers a default transform (0,0,1) for the map if it
// has none yet and returns the current value.
func (s *Store) EnsureMapTransform(roomID, mapID int64) MapTransform {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(roomID)
	t, ok := st.transforms[mapID]
	if !ok {
		t = &MapTransform{MapID: mapID, Scale: 1}
		st.transforms[mapID] = t
	}
	return *t
}

// UpdateMapTransform applies a partial transform update; nil fields keep
// their current value. Fails with ErrMapNotFound if the map was never
// registered in this room's live state.
func (s *Store) UpdateMapTransform(roomID, mapID int64, x, y, scale *float64) (MapTransform, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(roomID)
	t, ok := st.transforms[mapID]
	if !ok {
		return MapTransform{}, ErrMapNotFound
	}
	if x != nil {
		t.X = *x
	}
	if y != nil {
		t.Y = *y
	}
	if scale != nil {
		t.Scale = *scale
	}
	return *t, nil
}

// RemoveMap drops the map's live transform. Tolerates unknown ids.
func (s *Store) RemoveMap(roomID, mapID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.state(roomID).transforms, mapID)
}

// PlaceToken creates a token with a collision-free id.
func (s *Store) PlaceToken(roomID, placedBy int64, resourceRef string, x, y, radius float64, color string) Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &Token{
		ID:          uuid.New().String(),
		ResourceRef: resourceRef,
		X:           x,
		Y:           y,
		Radius:      radius,
		Color:       color,
		PlacedBy:    placedBy,
	}
	st := s.state(roomID)
	st.tokens = append(st.tokens, t)
	return *t
}

// MoveToken updates a token's position in place. Last write wins.
func (s *Store) MoveToken(roomID int64, tokenID string, x, y float64) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.state(roomID).tokens {
		if t.ID == tokenID {
			t.X = x
			t.Y = y
			return *t, nil
		}
	}
	return Token{}, ErrTokenNotFound
}

// RemoveToken removes by filtering; removing an absent id is not an error
// since concurrent double-removal is expected.
func (s *Store) RemoveToken(roomID int64, tokenID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(roomID)
	kept := st.tokens[:0]
	for _, t := range st.tokens {
		if t.ID != tokenID {
			kept = append(kept, t)
		}
	}
	st.tokens = kept
}

// AddStroke appends a finished stroke to the room's log.
func (s *Store) AddStroke(roomID, userID int64, color string, width float64, points []Point) Stroke {
	s.mu.Lock()
	defer s.mu.Unlock()

	stroke := &Stroke{
		ID:     uuid.New().String(),
		UserID: userID,
		Color:  color,
		Width:  width,
		Points: append([]Point(nil), points...),
	}
	st := s.state(roomID)
	st.strokes = append(st.strokes, stroke)
	return *stroke
}

// UndoStroke removes the author's most recent stroke from the log, scanning
// from the end, and pushes it onto their undo stack. Another author's strokes
// are never touched, even when chronologically last.
func (s *Store) UndoStroke(roomID, userID int64) (Stroke, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(roomID)
	for i := len(st.strokes) - 1; i >= 0; i-- {
		stroke := st.strokes[i]
		if stroke.UserID != userID {
			continue
		}
		st.strokes = append(st.strokes[:i], st.strokes[i+1:]...)
		st.undone[userID] = append(st.undone[userID], stroke)
		return *stroke, nil
	}
	return Stroke{}, ErrNothingToUndo
}

// RedoStroke pops the author's most recently undone stroke and re-appends it
// to the log. Redo history is not invalidated by unrelated new strokes; it
// stays valid until consumed.
func (s *Store) RedoStroke(roomID, userID int64) (Stroke, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(roomID)
	stack := st.undone[userID]
	if len(stack) == 0 {
		return Stroke{}, ErrNothingToRedo
	}
	stroke := stack[len(stack)-1]
	st.undone[userID] = stack[:len(stack)-1]
	st.strokes = append(st.strokes, stroke)
	return *stroke, nil
}

// Clear discards the room's entire board state. Idempotent.
func (s *Store) Clear(roomID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rooms, roomID)
}
