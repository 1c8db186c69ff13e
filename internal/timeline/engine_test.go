package timeline

import (
	"fmt"
	"io"
	"log"
	"reflect"
	"sync"
	"testing"
	"time"
)

type fakeHost struct {
	mu     sync.Mutex
	calls  []string
	orders []map[string]int
}

func (h *fakeHost) record(s string) {
	h.mu.Lock()
	h.calls = append(h.calls, s)
	h.mu.Unlock()
}

func (h *fakeHost) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *fakeHost) MoveKeyframe(sprite string, index int, t float64, commit bool) (int, error) {
	h.record(fmt.Sprintf("move %s[%d] %.2f commit=%v", sprite, index, t, commit))
	return index, nil
}

func (h *fakeHost) SetLayerOrder(depths map[string]int) error {
	h.mu.Lock()
	h.orders = append(h.orders, depths)
	h.mu.Unlock()
	h.record("order")
	return nil
}

func (h *fakeHost) Undo() error { h.record("undo"); return nil }
func (h *fakeHost) Redo() error { h.record("redo"); return nil }

func newEngine(t *testing.T, layers ...LayerInfo) (*Engine, *fakeHost) {
	t.Helper()
	h := &fakeHost{}
	layout := DefaultLayout()
	layout.ScrollInterval = time.Millisecond
	e := New(h, layout, log.New(io.Discard, "", 0))
	e.SetLayers(layers, 30)
	t.Cleanup(e.Close)
	return e, h
}

// x of time t at the default zoom of 50 px/s.
func xAt(t float64) float64 { return 120 + t*50 }

// y of the middle of lane i.
func yLane(i int) float64 { return 24 + float64(i)*32 + 16 }

func TestArrowUpJumpsToNextTier(t *testing.T) {
	e, h := newEngine(t,
		LayerInfo{Sprite: "A", ZDepth: 10},
		LayerInfo{Sprite: "B", ZDepth: 20},
	)
	e.Select("A")
	e.SetInputContext(ContextTimeline)

	if !e.HandleKey(Key{Code: "ArrowUp"}, FocusNone) {
		t.Fatal("ArrowUp not handled")
	}
	if len(h.orders) != 1 || !reflect.DeepEqual(h.orders[0], map[string]int{"A": 20}) {
		t.Fatalf("orders = %v", h.orders)
	}

	// The host applies the move and redraws.
	e.SetLayers([]LayerInfo{{Sprite: "A", ZDepth: 20}, {Sprite: "B", ZDepth: 20}}, 30)
	e.HandleKey(Key{Code: "ArrowUp"}, FocusNone)
	if len(h.orders) != 2 || !reflect.DeepEqual(h.orders[1], map[string]int{"A": 21}) {
		t.Fatalf("orders = %v", h.orders)
	}
}

func TestNextDepth(t *testing.T) {
	tests := []struct {
		cur      int
		occupied []int
		dir      int
		want     int
	}{
		{10, []int{20, 30}, 1, 20},
		{10, []int{30, 20}, 1, 20},
		{20, []int{20}, 1, 21},
		{30, []int{10, 20}, -1, 20},
		{10, []int{20}, -1, 9},
		{100, nil, 1, 100},
		{1, nil, -1, 1},
	}
	for _, tt := range tests {
		if got := NextDepth(tt.cur, tt.occupied, tt.dir); got != tt.want {
			t.Errorf("NextDepth(%d, %v, %d) = %d, want %d", tt.cur, tt.occupied, tt.dir, got, tt.want)
		}
	}
}

func TestArrowUpAtCeilingDoesNothing(t *testing.T) {
	e, h := newEngine(t, LayerInfo{Sprite: "A", ZDepth: 100})
	e.Select("A")
	e.SetInputContext(ContextTimeline)
	e.HandleKey(Key{Code: "ArrowUp"}, FocusNone)
	if len(h.orders) != 0 {
		t.Errorf("orders = %v", h.orders)
	}
}

func TestArrowUpNeedsTimelineContextAndLayer(t *testing.T) {
	e, h := newEngine(t, LayerInfo{Sprite: "A", ZDepth: 10})

	e.SetInputContext(ContextTimeline)
	e.Select(Original)
	if e.HandleKey(Key{Code: "ArrowUp"}, FocusNone) {
		t.Error("handled with the scene itself selected")
	}

	e.Select("A")
	e.SetInputContext(ContextVis)
	if e.HandleKey(Key{Code: "ArrowUp"}, FocusNone) {
		t.Error("handled in the preview context")
	}
	if len(h.orders) != 0 {
		t.Errorf("orders = %v", h.orders)
	}
}

func TestArrowScrub(t *testing.T) {
	e, _ := newEngine(t)
	if e.HandleKey(Key{Code: "ArrowRight"}, FocusNone) {
		t.Error("arrows should need a hovered panel")
	}
	e.SetInputContext(ContextVis)
	e.HandleKey(Key{Code: "ArrowRight"}, FocusNone)
	e.HandleKey(Key{Code: "ArrowRight"}, FocusNone)
	if got := e.Time(); got != 0.2 {
		t.Errorf("time = %v, want 0.2", got)
	}
	for i := 0; i < 5; i++ {
		e.HandleKey(Key{Code: "ArrowLeft"}, FocusNone)
	}
	if got := e.Time(); got != 0 {
		t.Errorf("time = %v, want 0", got)
	}
	e.SetTime(29.95)
	e.HandleKey(Key{Code: "ArrowRight"}, FocusNone)
	if got := e.Time(); got != 30 {
		t.Errorf("time = %v, want 30", got)
	}
}

func TestUndoRedoShortcuts(t *testing.T) {
	e, h := newEngine(t)
	e.HandleKey(Key{Code: "z", Ctrl: true}, FocusNone)
	e.HandleKey(Key{Code: "z", Meta: true, Shift: true}, FocusNone)
	e.HandleKey(Key{Code: "y", Ctrl: true}, FocusNone)
	for _, f := range []Focus{FocusInput, FocusTextArea, FocusSelect} {
		if e.HandleKey(Key{Code: "z", Ctrl: true}, f) {
			t.Errorf("handled with focus in %s", f)
		}
	}
	want := []string{"undo", "redo", "redo"}
	if got := h.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestEscapeClearsSelection(t *testing.T) {
	e, _ := newEngine(t, LayerInfo{Sprite: "A", ZDepth: 10, Keyframes: []Keyframe{{Sprite: "A", Index: 0, Time: 2}}})
	e.MouseDown(Point{xAt(2), yLane(0)}, Mods{})
	e.MouseUp(Point{xAt(2), yLane(0)})
	if s := e.Selection(); s.Sprite != "A" || s.Keyframe == nil {
		t.Fatalf("selection = %+v", s)
	}
	e.HandleKey(Key{Code: "Escape"}, FocusNone)
	if s := e.Selection(); s.Sprite != "" || s.Keyframe != nil || len(s.Sprites) != 0 {
		t.Errorf("selection = %+v", s)
	}
}

func TestWheelZoom(t *testing.T) {
	e, _ := newEngine(t)
	if e.Wheel(100, Mods{}) {
		t.Error("wheel without ctrl should pass through")
	}
	if z := e.View().Zoom; z != 50 {
		t.Errorf("zoom = %v", z)
	}

	e.Wheel(-3, Mods{Ctrl: true})
	if z := e.View().Zoom; z < 54.99 || z > 55.01 {
		t.Errorf("zoom in = %v, want 55", z)
	}
	e.Wheel(120, Mods{Ctrl: true})
	if z := e.View().Zoom; z < 49.99 || z > 50.01 {
		t.Errorf("zoom out = %v, want 50", z)
	}

	for i := 0; i < 100; i++ {
		e.Wheel(1, Mods{Ctrl: true})
	}
	if z := e.View().Zoom; z != 10 {
		t.Errorf("zoom = %v, want clamp to 10", z)
	}
	e.SetZoom(1e6)
	if z := e.View().Zoom; z != 400 {
		t.Errorf("zoom = %v, want clamp to 400", z)
	}
}

func TestScrubOnRuler(t *testing.T) {
	e, _ := newEngine(t)
	e.MouseDown(Point{xAt(3), 10}, Mods{})
	if v := e.View(); v.State != ScrubbingTime || v.Time != 3 {
		t.Fatalf("state %v time %v", v.State, v.Time)
	}
	e.MouseMove(Point{xAt(100), 10})
	if got := e.Time(); got != 30 {
		t.Errorf("time = %v, want clamp to 30", got)
	}
	e.MouseUp(Point{xAt(100), 10})
	if e.View().State != Idle {
		t.Error("not idle after mouse up")
	}
}

func TestKeyframeDragPreviewsThenCommits(t *testing.T) {
	e, h := newEngine(t, LayerInfo{Sprite: "A", ZDepth: 10, Keyframes: []Keyframe{{Sprite: "A", Index: 0, Time: 2}}})

	e.MouseDown(Point{xAt(2) + 3, yLane(0)}, Mods{})
	if v := e.View(); v.State != DraggingKeyframe || v.Selection.Sprite != "A" {
		t.Fatalf("state %v selection %+v", v.State, v.Selection)
	}
	e.MouseMove(Point{xAt(2.5), yLane(0)})
	e.MouseMove(Point{xAt(3), yLane(0)})
	e.MouseUp(Point{xAt(3), yLane(0)})

	want := []string{
		"move A[0] 2.50 commit=false",
		"move A[0] 3.00 commit=false",
		"move A[0] 3.00 commit=true",
	}
	if got := h.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v\nwant %v", got, want)
	}
	if v := e.View(); v.State != Idle || v.Selection.Keyframe == nil || v.Selection.Keyframe.Time != 3 {
		t.Errorf("after drop: %+v", v)
	}
}

func TestClickWithoutMoveDoesNotEdit(t *testing.T) {
	e, h := newEngine(t, LayerInfo{Sprite: "A", ZDepth: 10, Keyframes: []Keyframe{{Sprite: "A", Index: 0, Time: 2}}})
	e.MouseDown(Point{xAt(2), yLane(0)}, Mods{})
	e.MouseUp(Point{xAt(2), yLane(0)})
	if calls := h.Calls(); len(calls) != 0 {
		t.Errorf("calls = %v", calls)
	}
}

func overlapping() []LayerInfo {
	return []LayerInfo{
		{Sprite: "A", ZDepth: 10, Keyframes: []Keyframe{{Sprite: "A", Index: 0, Time: 2}}},
		{Sprite: "B", ZDepth: 10, Keyframes: []Keyframe{{Sprite: "B", Index: 1, Time: 2.1}}},
	}
}

func TestTieBreakWhileHeldStartsDrag(t *testing.T) {
	e, h := newEngine(t, overlapping()...)
	e.MouseDown(Point{xAt(2.05), yLane(0)}, Mods{})
	v := e.View()
	if v.State != PendingTieBreak || len(v.TieBreak) != 2 {
		t.Fatalf("state %v candidates %v", v.State, v.TieBreak)
	}

	e.ResolveTieBreak(1)
	if v := e.View(); v.State != DraggingKeyframe || v.Selection.Sprite != "B" {
		t.Fatalf("state %v selection %+v", v.State, v.Selection)
	}
	e.MouseMove(Point{xAt(4), yLane(0)})
	e.MouseUp(Point{xAt(4), yLane(0)})
	want := []string{"move B[1] 4.00 commit=false", "move B[1] 4.00 commit=true"}
	if got := h.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v", got)
	}
}

func TestTieBreakAfterReleaseSelects(t *testing.T) {
	e, h := newEngine(t, overlapping()...)
	e.MouseDown(Point{xAt(2.05), yLane(0)}, Mods{})
	e.MouseUp(Point{xAt(2.05), yLane(0)})
	if e.View().State != PendingTieBreak {
		t.Fatal("tie-break should survive mouse up")
	}
	e.ResolveTieBreak(0)
	v := e.View()
	if v.State != Idle || v.Selection.Sprite != "A" || v.Selection.Keyframe == nil || v.Selection.Keyframe.Index != 0 {
		t.Errorf("after pick: %+v", v)
	}
	if len(h.Calls()) != 0 {
		t.Errorf("calls = %v", h.Calls())
	}

	e.MouseDown(Point{xAt(2.05), yLane(0)}, Mods{})
	e.CancelTieBreak()
	if e.View().State != Idle {
		t.Error("cancel should return to idle")
	}
}

func TestOverlapPicker(t *testing.T) {
	e, _ := newEngine(t, overlapping()...)
	e.Hover(Point{xAt(2.05), yLane(0)})
	if got := e.View().Overlaps; !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Fatalf("overlaps = %v", got)
	}
	e.PickOverlap("B", Mods{})
	if s := e.Selection(); s.Sprite != "B" {
		t.Errorf("selection = %+v", s)
	}

	e.Hover(Point{xAt(10), yLane(0)})
	if got := e.View().Overlaps; got != nil {
		t.Errorf("overlaps = %v", got)
	}
}

func TestMultiSelectKeepsPickOrderAndDepth(t *testing.T) {
	e, h := newEngine(t,
		LayerInfo{Sprite: "A", ZDepth: 10},
		LayerInfo{Sprite: "B", ZDepth: 20},
		LayerInfo{Sprite: "C", ZDepth: 30},
	)
	// Lanes run top tier first: C, B, A.
	click := func(lane int, mods Mods) {
		e.MouseDown(Point{xAt(5), yLane(lane)}, mods)
		e.MouseUp(Point{xAt(5), yLane(lane)})
	}
	click(2, Mods{})
	click(0, Mods{Shift: true})
	click(1, Mods{Ctrl: true})

	s := e.Selection()
	if !reflect.DeepEqual(s.Sprites, []string{"A", "C", "B"}) || s.Sprite != "B" {
		t.Fatalf("selection = %+v", s)
	}

	click(0, Mods{Shift: true})
	s = e.Selection()
	if !reflect.DeepEqual(s.Sprites, []string{"A", "B"}) {
		t.Errorf("after toggle: %+v", s)
	}
	if len(h.Calls()) != 0 {
		t.Errorf("selection produced edits: %v", h.Calls())
	}
}

func TestEdgeAutoscroll(t *testing.T) {
	var layers []LayerInfo
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("L%d", i)
		layers = append(layers, LayerInfo{Sprite: name, ZDepth: 100 - i, Keyframes: []Keyframe{{Sprite: name, Time: 2}}})
	}
	e, _ := newEngine(t, layers...)

	e.MouseDown(Point{xAt(2), yLane(3)}, Mods{})
	e.MouseMove(Point{xAt(2), 230})
	if e.View().State != AutoScrolling {
		t.Fatalf("state = %v", e.View().State)
	}
	deadline := time.Now().Add(2 * time.Second)
	for e.View().ScrollY < 104 {
		if time.Now().After(deadline) {
			t.Fatalf("scrollY = %v, want to reach the end", e.View().ScrollY)
		}
		time.Sleep(2 * time.Millisecond)
	}

	// Leaving the zone stops scrolling but keeps the drag.
	e.MouseMove(Point{xAt(2), 120})
	if e.View().State != DraggingKeyframe {
		t.Errorf("state = %v", e.View().State)
	}

	e.MouseMove(Point{xAt(2), 40})
	if e.View().State != AutoScrolling {
		t.Fatalf("state = %v", e.View().State)
	}
	e.MouseUp(Point{xAt(2), 40})
	if e.View().State != Idle {
		t.Errorf("state = %v", e.View().State)
	}
	y := e.View().ScrollY
	time.Sleep(10 * time.Millisecond)
	if e.View().ScrollY != y {
		t.Error("scrolling continued after mouse up")
	}
}

func TestResetRestoresSelection(t *testing.T) {
	e, _ := newEngine(t, LayerInfo{Sprite: "A", ZDepth: 10})
	e.Select("A")
	e.SetTime(4)
	e.Reset(12, Original)
	v := e.View()
	if v.Selection.Sprite != Original || v.Time != 0 || v.Duration != 12 {
		t.Errorf("view = %+v", v)
	}
}

func TestLanesBelowViewportAreNotHit(t *testing.T) {
	layers := make([]LayerInfo, 0, 6)
	for i := 0; i < 6; i++ {
		name := fmt.Sprintf("L%d", i)
		layers = append(layers, LayerInfo{Sprite: name, ZDepth: 10 * (6 - i), Keyframes: []Keyframe{{Sprite: name, Index: 0, Time: 2}}})
	}
	e, _ := newEngine(t, layers...)

	e.SetViewportHeight(24 + 2*32)
	e.MouseDown(Point{xAt(2), yLane(3)}, Mods{})
	if v := e.View(); v.State != Idle || v.Selection.Sprite != "" {
		t.Fatalf("hit a lane outside the viewport: %+v", v)
	}
	e.MouseUp(Point{xAt(2), yLane(3)})

	e.SetViewportHeight(DefaultLayout().ViewportHeight)
	e.MouseDown(Point{xAt(2), yLane(3)}, Mods{})
	if v := e.View(); v.State != DraggingKeyframe || v.Selection.Sprite != "L3" {
		t.Errorf("after growing: %+v", v)
	}
}
