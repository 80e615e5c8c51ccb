package board

import (
	"testing"
)

func TestTokenLifecycle(t *testing.T) {
	s := NewStore()
	const room = int64(1)

	placed := s.PlaceToken(room, 7, "orc.png", 10, 20, 20, "#fff")
	if placed.ID == "" {
		t.Fatal("expected generated token id")
	}
	if placed.PlacedBy != 7 {
		t.Errorf("placedBy = %d, want 7", placed.PlacedBy)
	}

	t.Run("move reflects in snapshot", func(t *testing.T) {
		moved, err := s.MoveToken(room, placed.ID, 42, 43)
		if err != nil {
			t.Fatalf("MoveToken: %v", err)
		}
		if moved.X != 42 || moved.Y != 43 {
			t.Errorf("moved to (%v,%v), want (42,43)", moved.X, moved.Y)
		}

		_, tokens, _ := s.Snapshot(room)
		if len(tokens) != 1 {
			t.Fatalf("snapshot has %d tokens, want 1", len(tokens))
		}
		if tokens[0].X != 42 || tokens[0].Y != 43 {
			t.Errorf("snapshot position (%v,%v), want (42,43)", tokens[0].X, tokens[0].Y)
		}
	})

	t.Run("move unknown id fails", func(t *testing.T) {
		if _, err := s.MoveToken(room, "no-such-token", 0, 0); err != ErrTokenNotFound {
			t.Errorf("err = %v, want ErrTokenNotFound", err)
		}
	})

	t.Run("double removal is tolerated", func(t *testing.T) {
		s.RemoveToken(room, placed.ID)
		s.RemoveToken(room, placed.ID) // second removal must not panic or error

		_, tokens, _ := s.Snapshot(room)
		if len(tokens) != 0 {
			t.Errorf("snapshot has %d tokens after removal, want 0", len(tokens))
		}
	})
}

func TestTokenIDsUnique(t *testing.T) {
	s := NewStore()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok := s.PlaceToken(1, 1, "", 0, 0, 10, "#000")
		if seen[tok.ID] {
			t.Fatalf("duplicate token id %s", tok.ID)
		}
		seen[tok.ID] = true
	}
}

func TestUndoOnlyOwnStrokes(t *testing.T) {
	s := NewStore()
	const room = int64(5)
	const alice, bob = int64(1), int64(2)

	a1 := s.AddStroke(room, alice, "#f00", 2, []Point{{0, 0}, {1, 1}})
	b1 := s.AddStroke(room, bob, "#0f0", 3, []Point{{5, 5}})

	// Bob's stroke is chronologically last; Alice's undo must still remove
	// her own stroke.
	undone, err := s.UndoStroke(room, alice)
	if err != nil {
		t.Fatalf("UndoStroke: %v", err)
	}
	if undone.ID != a1.ID {
		t.Errorf("undone id = %s, want alice's %s", undone.ID, a1.ID)
	}

	_, _, strokes := s.Snapshot(room)
	if len(strokes) != 1 || strokes[0].ID != b1.ID {
		t.Fatalf("log should contain only bob's stroke, got %d strokes", len(strokes))
	}

	// Alice has nothing left to undo.
	if _, err := s.UndoStroke(room, alice); err != ErrNothingToUndo {
		t.Errorf("second undo err = %v, want ErrNothingToUndo", err)
	}
}

func TestRedoRestoresExactStroke(t *testing.T) {
	s := NewStore()
	const room = int64(9)
	const user = int64(3)

	orig := s.AddStroke(room, user, "#00f", 4, []Point{{1, 2}, {3, 4}, {5, 6}})

	if _, err := s.UndoStroke(room, user); err != nil {
		t.Fatalf("UndoStroke: %v", err)
	}

	redone, err := s.RedoStroke(room, user)
	if err != nil {
		t.Fatalf("RedoStroke: %v", err)
	}
	if redone.ID != orig.ID || redone.Color != orig.Color || redone.Width != orig.Width {
		t.Errorf("redone stroke differs: got %+v, want %+v", redone, orig)
	}
	if len(redone.Points) != len(orig.Points) {
		t.Fatalf("redone has %d points, want %d", len(redone.Points), len(orig.Points))
	}
	for i, p := range redone.Points {
		if p != orig.Points[i] {
			t.Errorf("point %d = %+v, want %+v", i, p, orig.Points[i])
		}
	}

	// Stack discipline: the stroke is back in the log, nothing left to redo.
	if _, err := s.RedoStroke(room, user); err != ErrNothingToRedo {
		t.Errorf("second redo err = %v, want ErrNothingToRedo", err)
	}
}

func TestRedoSurvivesNewStrokes(t *testing.T) {
	s := NewStore()
	const room = int64(2)
	const user = int64(1)

	first := s.AddStroke(room, user, "#111", 1, []Point{{0, 0}})
	if _, err := s.UndoStroke(room, user); err != nil {
		t.Fatalf("UndoStroke: %v", err)
	}

	// Drawing a new stroke does not clear the redo history.
	s.AddStroke(room, user, "#222", 1, []Point{{9, 9}})

	redone, err := s.RedoStroke(room, user)
	if err != nil {
		t.Fatalf("RedoStroke after new stroke: %v", err)
	}
	if redone.ID != first.ID {
		t.Errorf("redone id = %s, want %s", redone.ID, first.ID)
	}
}

func TestUndoLIFOPerAuthor(t *testing.T) {
	s := NewStore()
	const room = int64(3)
	const user = int64(8)

	s1 := s.AddStroke(room, user, "#a", 1, []Point{{1, 1}})
	s2 := s.AddStroke(room, user, "#b", 1, []Point{{2, 2}})

	u1, _ := s.UndoStroke(room, user)
	u2, _ := s.UndoStroke(room, user)
	if u1.ID != s2.ID || u2.ID != s1.ID {
		t.Fatal("undo must pop most recent own stroke first")
	}

	// Redo is LIFO over the undo stack: s1 comes back first.
	r1, _ := s.RedoStroke(room, user)
	r2, _ := s.RedoStroke(room, user)
	if r1.ID != s1.ID || r2.ID != s2.ID {
		t.Fatal("redo must pop strokes in reverse undo order")
	}
}

func TestMapTransforms(t *testing.T) {
	s := NewStore()
	const room = int64(4)

	tr := s.EnsureMapTransform(room, 100)
	if tr.X != 0 || tr.Y != 0 || tr.Scale != 1 {
		t.Errorf("default transform = %+v, want {0 0 1}", tr)
	}

	t.Run("partial update keeps other fields", func(t *testing.T) {
		scale := 2.5
		got, err := s.UpdateMapTransform(room, 100, nil, nil, &scale)
		if err != nil {
			t.Fatalf("UpdateMapTransform: %v", err)
		}
		if got.X != 0 || got.Y != 0 || got.Scale != 2.5 {
			t.Errorf("transform = %+v, want {0 0 2.5}", got)
		}

		x := 15.0
		got, err = s.UpdateMapTransform(room, 100, &x, nil, nil)
		if err != nil {
			t.Fatalf("UpdateMapTransform: %v", err)
		}
		if got.X != 15 || got.Scale != 2.5 {
			t.Errorf("transform = %+v, want x=15 scale=2.5", got)
		}
	})

	t.Run("unknown map fails", func(t *testing.T) {
		if _, err := s.UpdateMapTransform(room, 999, nil, nil, nil); err != ErrMapNotFound {
			t.Errorf("err = %v, want ErrMapNotFound", err)
		}
	})

	t.Run("removed map is forgotten", func(t *testing.T) {
		s.RemoveMap(room, 100)
		if _, err := s.UpdateMapTransform(room, 100, nil, nil, nil); err != ErrMapNotFound {
			t.Errorf("err = %v, want ErrMapNotFound", err)
		}
	})
}

func TestClearDiscardsEverything(t *testing.T) {
	s := NewStore()
	const room = int64(6)

	s.EnsureMapTransform(room, 1)
	s.PlaceToken(room, 1, "", 0, 0, 10, "#fff")
	s.AddStroke(room, 1, "#000", 1, []Point{{0, 0}})
	s.UndoStroke(room, 1)

	s.Clear(room)
	s.Clear(room) // idempotent

	transforms, tokens, strokes := s.Snapshot(room)
	if len(transforms) != 0 || len(tokens) != 0 || len(strokes) != 0 {
		t.Error("cleared room should snapshot empty")
	}
	// Undo stacks are gone with the rest of the state.
	if _, err := s.RedoStroke(room, 1); err != ErrNothingToRedo {
		t.Errorf("redo after clear err = %v, want ErrNothingToRedo", err)
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	s := NewStore()

	s.PlaceToken(1, 1, "", 0, 0, 10, "#fff")
	s.AddStroke(2, 1, "#000", 1, []Point{{0, 0}})

	_, tokens, strokes := s.Snapshot(1)
	if len(tokens) != 1 || len(strokes) != 0 {
		t.Errorf("room 1: %d tokens %d strokes, want 1/0", len(tokens), len(strokes))
	}
	_, tokens, strokes = s.Snapshot(2)
	if len(tokens) != 0 || len(strokes) != 1 {
		t.Errorf("room 2: %d tokens %d strokes, want 0/1", len(tokens), len(strokes))
	}
}
