package panel

import (
	"io"
	"log"
	"testing"

	"github.com/ivlev/papeterie/internal/storage"
)

func newStore() (*storage.Store, *storage.MemoryBackend) {
	mem := storage.NewMemoryBackend()
	return storage.New(mem, log.New(io.Discard, "", 0)), mem
}

func TestSplitClampsAndPersists(t *testing.T) {
	s, mem := newStore()

	sp := NewSplit(s, storage.PanelSplitKey, 0.5, 0.2, 0.8)
	if got := sp.Ratio(); got != 0.5 {
		t.Fatalf("initial ratio %v", got)
	}

	sp.Drag(900, 1000)
	if got := sp.Ratio(); got != 0.8 {
		t.Errorf("drag past max: got %v, want 0.8", got)
	}
	if raw, _ := mem.Get(storage.PanelSplitKey); raw != "0.8" {
		t.Errorf("stored %q", raw)
	}

	sp.Drag(100, 0)
	if got := sp.Ratio(); got != 0.8 {
		t.Errorf("zero-length drag changed ratio to %v", got)
	}
	sp.Release()

	again := NewSplit(s, storage.PanelSplitKey, 0.5, 0.2, 0.8)
	defer again.Release()
	if got := again.Ratio(); got != 0.8 {
		t.Errorf("restored ratio %v, want 0.8", got)
	}
}

func TestSplitClampsStoredValue(t *testing.T) {
	s, mem := newStore()
	mem.Set("split", "0.05")

	sp := NewSplit(s, "split", 0.5, 0.2, 0.8)
	defer sp.Release()
	if got := sp.Ratio(); got != 0.2 {
		t.Errorf("got %v, want 0.2", got)
	}
}

func TestSplitRebindPerAsset(t *testing.T) {
	s, _ := newStore()

	sp := NewSplit(s, storage.TimelineSplitKey("a"), 0.6, 0.1, 0.9)
	defer sp.Release()
	var seen []float64
	unsub := sp.Subscribe(func(r float64) { seen = append(seen, r) })
	defer unsub()

	sp.SetRatio(0.3)
	sp.Rebind(storage.TimelineSplitKey("b"), 0.6)
	if got := sp.Ratio(); got != 0.6 {
		t.Errorf("asset b ratio %v, want default 0.6", got)
	}
	sp.Rebind(storage.TimelineSplitKey("a"), 0.6)
	if got := sp.Ratio(); got != 0.3 {
		t.Errorf("asset a ratio %v, want 0.3", got)
	}
	if len(seen) == 0 || seen[len(seen)-1] != 0.3 {
		t.Errorf("notifications %v", seen)
	}
}

func TestDraggableStaysInViewport(t *testing.T) {
	s, _ := newStore()

	d := NewDraggable(s, "optimize-window", Position{X: 10, Y: 10})
	d.MoveBy(2000, -50, 200, 100, 1280, 720)
	if got := d.Position(); got != (Position{X: 1080, Y: 0}) {
		t.Errorf("got %+v", got)
	}
	d.Release()

	again := NewDraggable(s, "optimize-window", Position{})
	defer again.Release()
	if got := again.Position(); got != (Position{X: 1080, Y: 0}) {
		t.Errorf("restored %+v", got)
	}
}

func TestSizesDefaultsAndMinimum(t *testing.T) {
	s, _ := newStore()

	z := NewSizes(s, "panel-sizes", map[string]float64{"sidebar": 280})
	defer z.Release()
	if got := z.Size("sidebar"); got != 280 {
		t.Errorf("default %v", got)
	}

	z.Resize("sidebar", 90, 150)
	if got := z.Size("sidebar"); got != 150 {
		t.Errorf("below min: got %v", got)
	}
	z.Resize("inspector", 320, 100)
	if got := z.Size("sidebar"); got != 150 {
		t.Errorf("resizing another panel changed sidebar to %v", got)
	}

	z.Reset()
	if got := z.Size("inspector"); got != 0 {
		t.Errorf("after reset %v", got)
	}
}
