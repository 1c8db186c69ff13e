// Package panel keeps the persistent layout of the editor chrome: split
// ratios, draggable window positions and resizable panel sizes. None of it
// is part of a document.
package panel

import (
	"math"

	"github.com/ivlev/papeterie/internal/storage"
)

// Split is a two-pane divider whose ratio is persisted at a key.
type Split struct {
	b        *storage.Bound[float64]
	min, max float64
}

// NewSplit binds a split to key. min and max are clamped to [0,1].
func NewSplit(s *storage.Store, key string, initial, min, max float64) *Split {
	min = math.Max(0, math.Min(min, 1))
	max = math.Max(min, math.Min(max, 1))
	sp := &Split{min: min, max: max}
	sp.b = storage.Bind(s, key, sp.clamp(initial))
	return sp
}

func (sp *Split) clamp(r float64) float64 {
	if math.IsNaN(r) {
		return sp.min
	}
	return math.Min(math.Max(r, sp.min), sp.max)
}

// Ratio is the share of the first pane. A stored value outside the range is clamped.
func (sp *Split) Ratio() float64 { return sp.clamp(sp.b.Get()) }

func (sp *Split) SetRatio(r float64) { sp.b.Set(sp.clamp(r)) }

// Drag moves the divider to pointer position pos within a container of the given length.
func (sp *Split) Drag(pos, length float64) {
	if length <= 0 {
		return
	}
	sp.SetRatio(pos / length)
}

// Rebind moves the split to another key, as when the open asset changes.
func (sp *Split) Rebind(key string, initial float64) { sp.b.Rebind(key, sp.clamp(initial)) }

func (sp *Split) Subscribe(fn func(float64)) func() {
	return sp.b.Subscribe(func(r float64) { fn(sp.clamp(r)) })
}

func (sp *Split) Release() { sp.b.Release() }

// Position is the top-left corner of a floating window.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Draggable is a floating window whose position survives restarts.
type Draggable struct {
	b *storage.Bound[Position]
}

func NewDraggable(s *storage.Store, key string, initial Position) *Draggable {
	return &Draggable{b: storage.Bind(s, key, initial)}
}

func (d *Draggable) Position() Position { return d.b.Get() }

// MoveTo places the window at p, keeping a w×h window inside a vw×vh viewport.
func (d *Draggable) MoveTo(p Position, w, h, vw, vh float64) {
	p.X = math.Max(0, math.Min(p.X, vw-w))
	p.Y = math.Max(0, math.Min(p.Y, vh-h))
	d.b.Set(p)
}

// MoveBy drags the window by a pointer delta.
func (d *Draggable) MoveBy(dx, dy, w, h, vw, vh float64) {
	p := d.b.Get()
	d.MoveTo(Position{X: p.X + dx, Y: p.Y + dy}, w, h, vw, vh)
}

func (d *Draggable) Release() { d.b.Release() }

// Sizes holds the sizes of named resizable panels under one key.
type Sizes struct {
	b        *storage.Bound[map[string]float64]
	defaults map[string]float64
}

func NewSizes(s *storage.Store, key string, defaults map[string]float64) *Sizes {
	return &Sizes{b: storage.Bind(s, key, map[string]float64{}), defaults: defaults}
}

// Size returns the stored size of a panel, else its default.
func (z *Sizes) Size(name string) float64 {
	if v, ok := z.b.Get()[name]; ok {
		return v
	}
	return z.defaults[name]
}

// Resize sets one panel's size; sizes below min are raised to it.
func (z *Sizes) Resize(name string, size, min float64) {
	cur := z.b.Get()
	next := make(map[string]float64, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[name] = math.Max(size, min)
	z.b.Set(next)
}

// Reset forgets every stored size.
func (z *Sizes) Reset() { z.b.Set(map[string]float64{}) }

func (z *Sizes) Release() { z.b.Release() }
