package codec

import (
	"testing"
	"time"
)

func sampleTree() *PaneNode {
	return &PaneNode{
		Split: &SplitNode{
			Direction: SplitHorizontal,
			Size:      TerminalSize{Rows: 48, Cols: 160},
			Left: &PaneNode{
				Split: &SplitNode{
					Direction: SplitVertical,
					Size:      TerminalSize{Rows: 48, Cols: 80},
					Left:      &PaneNode{Leaf: &PaneEntry{WindowID: 1, TabID: 2, PaneID: 10}},
					Right:     &PaneNode{Leaf: &PaneEntry{WindowID: 1, TabID: 2, PaneID: 11}},
				},
			},
			Right: &PaneNode{Leaf: &PaneEntry{WindowID: 1, TabID: 2, PaneID: 12}},
		},
	}
}

func TestPaneNodeWalkOrder(t *testing.T) {
	var got []PaneID
	sampleTree().Walk(func(e *PaneEntry) {
		got = append(got, e.PaneID)
	})
	want := []PaneID{10, 11, 12}
	if len(got) != len(want) {
		t.Fatalf("visited %d panes, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("visit order %v, want %v", got, want)
		}
	}
}

func TestPaneNodeWalkNil(t *testing.T) {
	var n *PaneNode
	n.Walk(func(*PaneEntry) {
		t.Fatal("nil node should visit nothing")
	})
	(&PaneNode{}).Walk(func(*PaneEntry) {
		t.Fatal("empty node should visit nothing")
	})
}

func TestPaneNodeWindowAndTabIDs(t *testing.T) {
	window, tab, ok := sampleTree().WindowAndTabIDs()
	if !ok {
		t.Fatal("expected ids from a populated tree")
	}
	if window != 1 || tab != 2 {
		t.Fatalf("got window=%d tab=%d, want window=1 tab=2", window, tab)
	}

	if _, _, ok := (&PaneNode{}).WindowAndTabIDs(); ok {
		t.Fatal("empty tree should report no ids")
	}
}

func TestPaneNodeRootSize(t *testing.T) {
	if got := sampleTree().RootSize(); got == nil || got.Cols != 160 {
		t.Fatalf("got %+v, want cols=160", got)
	}
	leaf := &PaneNode{Leaf: &PaneEntry{Size: TerminalSize{Rows: 24, Cols: 80}}}
	if got := leaf.RootSize(); got == nil || got.Rows != 24 {
		t.Fatalf("got %+v, want rows=24", got)
	}
	if got := (&PaneNode{}).RootSize(); got != nil {
		t.Fatalf("empty node should have no size, got %+v", got)
	}
	var nilNode *PaneNode
	if got := nilNode.RootSize(); got != nil {
		t.Fatalf("nil node should have no size, got %+v", got)
	}
}

func TestInputSerialNow(t *testing.T) {
	s := InputSerialNow()
	if s == InputSerialEmpty {
		t.Fatal("InputSerialNow returned the empty serial")
	}
	if e := s.Elapsed(); e < 0 || e > time.Minute {
		t.Fatalf("implausible elapsed time %v", e)
	}
}
