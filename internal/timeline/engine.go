// Package timeline is the interaction state machine behind the timeline view:
// scrubbing, keyframe selection and drag, zoom, edge autoscroll and
// context-aware keyboard navigation. It never edits documents itself; edits
// are requested from a Host.
package timeline

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/ivlev/papeterie/internal/model"
)

// State of the pointer interaction.
type State int

const (
	Idle State = iota
	ScrubbingTime
	DraggingKeyframe
	PendingTieBreak
	AutoScrolling
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ScrubbingTime:
		return "scrubbing"
	case DraggingKeyframe:
		return "dragging"
	case PendingTieBreak:
		return "tie-break"
	case AutoScrolling:
		return "autoscrolling"
	}
	return "unknown"
}

// InputContext is the panel the pointer last hovered; it scopes arrow keys.
type InputContext string

const (
	ContextNone     InputContext = ""
	ContextVis      InputContext = "vis"
	ContextTimeline InputContext = "timeline"
)

// Original selects the asset itself rather than one of its layers.
const Original = "original"

// timeStep is how far ArrowLeft/ArrowRight scrub.
const timeStep = 0.1

// Host carries out the edits the timeline asks for.
type Host interface {
	// MoveKeyframe retimes a behavior and returns its index after re-sorting.
	// Only a committing move is recorded in history.
	MoveKeyframe(sprite string, index int, t float64, commit bool) (int, error)
	SetLayerOrder(depths map[string]int) error
	Undo() error
	Redo() error
}

// Selection is owned by the timeline and never touches z-depth.
type Selection struct {
	Sprite   string   // layer name, Original, or empty
	Sprites  []string // multi-select, in pick order
	Keyframe *Keyframe
}

func (s Selection) clone() Selection {
	s.Sprites = append([]string(nil), s.Sprites...)
	if s.Keyframe != nil {
		k := *s.Keyframe
		s.Keyframe = &k
	}
	return s
}

// Point is a pointer position relative to the timeline's top-left corner.
type Point struct{ X, Y float64 }

// Mods are the modifier keys held during an input.
type Mods struct{ Shift, Ctrl, Meta bool }

// View is a snapshot for rendering.
type View struct {
	State     State
	Time      float64
	Duration  float64
	Zoom      float64
	ScrollY   float64
	Context   InputContext
	Selection Selection
	Lanes     []Lane
	TieBreak  []Keyframe // candidates while State is PendingTieBreak
	Overlaps  []string   // sprites under the hovered keyframe, when more than one
}

type drag struct {
	kf      Keyframe
	initial float64
	moved   bool
}

// Engine is one timeline instance. It is safe for concurrent use; the
// autoscroll ticker runs on its own goroutine.
type Engine struct {
	host   Host
	layout Layout
	logger *log.Logger

	mu        sync.Mutex
	state     State
	time      float64
	duration  float64
	zoom      float64
	scrollY   float64
	context   InputContext
	sel       Selection
	layers    []LayerInfo
	lanes     []Lane
	drag      *drag
	tie       []Keyframe
	mouseHeld bool
	overlaps  []string
	cursor    Point
	scrollDir int
	stopTick  chan struct{}
	listeners map[int]func()
	nextID    int
}

// New creates an idle engine at the lowest zoom level that still fits.
func New(host Host, layout Layout, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		host:      host,
		layout:    layout,
		logger:    logger,
		duration:  model.DefaultDuration,
		zoom:      layout.clampZoom(50),
		listeners: make(map[int]func()),
	}
}

// Reset starts over for a newly opened asset: time zero, idle, and the given selection.
func (e *Engine) Reset(duration float64, selected string) {
	e.mu.Lock()
	e.stopScrollLocked()
	e.state = Idle
	e.time = 0
	e.duration = duration
	e.scrollY = 0
	e.drag = nil
	e.tie = nil
	e.overlaps = nil
	e.mouseHeld = false
	e.sel = Selection{Sprite: selected}
	e.mu.Unlock()
	e.notify()
}

// SetLayers replaces the layers drawn on the timeline.
func (e *Engine) SetLayers(layers []LayerInfo, duration float64) {
	e.mu.Lock()
	e.layers = append([]LayerInfo(nil), layers...)
	e.lanes = buildLanes(layers)
	if duration > 0 {
		e.duration = duration
	}
	e.time = math.Min(e.time, e.duration)
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return View{
		State:     e.state,
		Time:      e.time,
		Duration:  e.duration,
		Zoom:      e.zoom,
		ScrollY:   e.scrollY,
		Context:   e.context,
		Selection: e.sel.clone(),
		Lanes:     append([]Lane(nil), e.lanes...),
		TieBreak:  append([]Keyframe(nil), e.tie...),
		Overlaps:  append([]string(nil), e.overlaps...),
	}
}

func (e *Engine) Time() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.time
}

func (e *Engine) Selection() Selection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sel.clone()
}

// Select makes name the single selected sprite.
func (e *Engine) Select(name string) {
	e.mu.Lock()
	e.sel = Selection{Sprite: name}
	if name != "" && name != Original {
		e.sel.Sprites = []string{name}
	}
	e.mu.Unlock()
	e.notify()
}

// ClearKeyframe drops the keyframe selection, keeping the selected sprites.
func (e *Engine) ClearKeyframe() {
	e.mu.Lock()
	e.sel.Keyframe = nil
	e.mu.Unlock()
	e.notify()
}

// SetTime moves the playhead, clamped to the scene.
func (e *Engine) SetTime(t float64) {
	e.mu.Lock()
	e.time = e.clampTime(t)
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) clampTime(t float64) float64 {
	return math.Min(math.Max(t, 0), e.duration)
}

func (e *Engine) timeAt(x float64) float64 {
	return e.clampTime((x - e.layout.TrackOrigin) / e.zoom)
}

func round2(t float64) float64 { return math.Round(t*100) / 100 }

// laneAt returns the lane under y, or -1.
func (e *Engine) laneAt(y float64) int {
	if y < e.layout.RulerHeight || y > e.layout.ViewportHeight {
		return -1
	}
	i := int(math.Floor((y - e.layout.RulerHeight + e.scrollY) / e.layout.LaneHeight))
	if i < 0 || i >= len(e.lanes) {
		return -1
	}
	return i
}

// hits returns the keyframes of a lane whose hit box contains x.
func (e *Engine) hits(lane int, x float64) []Keyframe {
	var out []Keyframe
	half := e.layout.HitBox / 2
	for _, k := range e.lanes[lane].Keyframes {
		kx := e.layout.TrackOrigin + k.Time*e.zoom
		if math.Abs(kx-x) <= half {
			out = append(out, k)
		}
	}
	return out
}

// MouseDown starts scrubbing on the ruler, a keyframe drag on a keyframe, or
// a tie-break when several keyframes sit under the pointer.
func (e *Engine) MouseDown(p Point, mods Mods) {
	e.mu.Lock()
	e.cursor = p
	e.mouseHeld = true
	if p.Y < e.layout.RulerHeight {
		e.state = ScrubbingTime
		e.time = e.timeAt(p.X)
		e.mu.Unlock()
		e.notify()
		return
	}

	lane := e.laneAt(p.Y)
	if lane < 0 {
		e.mu.Unlock()
		return
	}
	hits := e.hits(lane, p.X)
	switch len(hits) {
	case 0:
		// Empty track: a lane holding a single layer selects it.
		e.sel.Keyframe = nil
		if sprites := e.lanes[lane].Sprites; len(sprites) == 1 {
			e.pickLocked(sprites[0], mods.Shift || mods.Ctrl || mods.Meta)
		}
	case 1:
		e.beginDragLocked(hits[0], mods.Shift || mods.Ctrl || mods.Meta)
	default:
		e.state = PendingTieBreak
		e.tie = hits
	}
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) beginDragLocked(k Keyframe, additive bool) {
	e.pickLocked(k.Sprite, additive)
	kf := k
	e.sel.Keyframe = &kf
	e.drag = &drag{kf: k, initial: k.Time}
	e.state = DraggingKeyframe
}

// pickLocked selects sprite; additive picks toggle membership in the multi-selection.
func (e *Engine) pickLocked(sprite string, additive bool) {
	if !additive {
		e.sel.Sprite = sprite
		e.sel.Sprites = []string{sprite}
		return
	}
	for i, s := range e.sel.Sprites {
		if s == sprite {
			e.sel.Sprites = append(e.sel.Sprites[:i:i], e.sel.Sprites[i+1:]...)
			if e.sel.Sprite == sprite {
				e.sel.Sprite = ""
				if n := len(e.sel.Sprites); n > 0 {
					e.sel.Sprite = e.sel.Sprites[n-1]
				}
			}
			return
		}
	}
	e.sel.Sprites = append(e.sel.Sprites, sprite)
	e.sel.Sprite = sprite
}

// ResolveTieBreak continues with the i-th candidate. If the button is still
// down the drag starts; otherwise the keyframe is just selected.
func (e *Engine) ResolveTieBreak(i int) {
	e.mu.Lock()
	if e.state != PendingTieBreak || i < 0 || i >= len(e.tie) {
		e.mu.Unlock()
		return
	}
	k := e.tie[i]
	e.tie = nil
	if e.mouseHeld {
		e.beginDragLocked(k, false)
	} else {
		e.pickLocked(k.Sprite, false)
		kf := k
		e.sel.Keyframe = &kf
		e.state = Idle
	}
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) CancelTieBreak() {
	e.mu.Lock()
	if e.state == PendingTieBreak {
		e.state = Idle
		e.tie = nil
	}
	e.mu.Unlock()
	e.notify()
}

// MouseMove scrubs, previews a keyframe drag, and starts or stops edge autoscroll.
func (e *Engine) MouseMove(p Point) {
	e.mu.Lock()
	e.cursor = p
	switch e.state {
	case ScrubbingTime:
		e.time = e.timeAt(p.X)
		e.mu.Unlock()
		e.notify()
		return
	case DraggingKeyframe, AutoScrolling:
	default:
		e.mu.Unlock()
		return
	}

	e.updateScrollLocked(p.Y)
	d := *e.drag
	t := round2(e.timeAt(p.X))
	if t == d.kf.Time {
		e.mu.Unlock()
		e.notify()
		return
	}
	e.mu.Unlock()

	idx, err := e.host.MoveKeyframe(d.kf.Sprite, d.kf.Index, t, false)

	e.mu.Lock()
	if e.drag == nil {
		e.mu.Unlock()
		return
	}
	if err != nil {
		e.logger.Printf("[!] timeline: preview move of %s[%d]: %v", d.kf.Sprite, d.kf.Index, err)
		e.endDragLocked()
	} else {
		e.drag.kf.Index, e.drag.kf.Time = idx, t
		e.drag.moved = true
		kf := e.drag.kf
		e.sel.Keyframe = &kf
	}
	e.mu.Unlock()
	e.notify()
}

// MouseUp ends scrubbing or commits a keyframe drag.
func (e *Engine) MouseUp(p Point) {
	e.mu.Lock()
	e.cursor = p
	e.mouseHeld = false
	switch e.state {
	case ScrubbingTime:
		e.state = Idle
		e.mu.Unlock()
		e.notify()
		return
	case DraggingKeyframe, AutoScrolling:
	default:
		e.mu.Unlock()
		return
	}
	d := *e.drag
	e.endDragLocked()
	e.mu.Unlock()

	if d.moved {
		idx, err := e.host.MoveKeyframe(d.kf.Sprite, d.kf.Index, d.kf.Time, true)
		e.mu.Lock()
		if err != nil {
			e.logger.Printf("[!] timeline: move of %s[%d] to %.2fs: %v", d.kf.Sprite, d.kf.Index, d.kf.Time, err)
		} else if k := e.sel.Keyframe; k != nil && k.Sprite == d.kf.Sprite {
			k.Index = idx
		}
		e.mu.Unlock()
	}
	e.notify()
}

func (e *Engine) endDragLocked() {
	e.stopScrollLocked()
	e.drag = nil
	e.state = Idle
}

// Wheel zooms when Ctrl is held and reports whether it consumed the event.
func (e *Engine) Wheel(deltaY float64, mods Mods) bool {
	if !mods.Ctrl || deltaY == 0 {
		return false
	}
	e.mu.Lock()
	e.zoom = e.layout.clampZoom(e.zoom * math.Pow(1.1, -sign(deltaY)))
	e.mu.Unlock()
	e.notify()
	return true
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// SetZoom sets pixels per second, clamped to the layout's range.
func (e *Engine) SetZoom(z float64) {
	e.mu.Lock()
	e.zoom = e.layout.clampZoom(z)
	e.mu.Unlock()
	e.notify()
}

// SetViewportHeight resizes the visible area, ruler included. Scrolling is
// clamped so the last lane stays in view.
func (e *Engine) SetViewportHeight(h float64) {
	e.mu.Lock()
	if h <= e.layout.RulerHeight || h == e.layout.ViewportHeight {
		e.mu.Unlock()
		return
	}
	e.layout.ViewportHeight = h
	content := float64(len(e.lanes)) * e.layout.LaneHeight
	e.scrollY = math.Min(e.scrollY, math.Max(0, content-(h-e.layout.RulerHeight)))
	e.mu.Unlock()
	e.notify()
}

// SetInputContext records which panel the pointer is over.
func (e *Engine) SetInputContext(c InputContext) {
	e.mu.Lock()
	e.context = c
	e.mu.Unlock()
}

// Hover updates the overlap picker: when several layers have a keyframe
// under the pointer their names are offered for selection.
func (e *Engine) Hover(p Point) {
	e.mu.Lock()
	e.cursor = p
	var names []string
	if lane := e.laneAt(p.Y); lane >= 0 {
		seen := make(map[string]bool)
		for _, k := range e.hits(lane, p.X) {
			if !seen[k.Sprite] {
				seen[k.Sprite] = true
				names = append(names, k.Sprite)
			}
		}
	}
	if len(names) < 2 {
		names = nil
	}
	changed := len(names) != len(e.overlaps)
	e.overlaps = names
	e.mu.Unlock()
	if changed || names != nil {
		e.notify()
	}
}

// PickOverlap selects one of the layers offered by the overlap picker.
func (e *Engine) PickOverlap(sprite string, mods Mods) {
	e.mu.Lock()
	found := false
	for _, s := range e.overlaps {
		if s == sprite {
			found = true
			break
		}
	}
	if found {
		e.pickLocked(sprite, mods.Shift || mods.Ctrl || mods.Meta)
		e.sel.Keyframe = nil
		e.overlaps = nil
	}
	e.mu.Unlock()
	if found {
		e.notify()
	}
}

// Subscribe calls fn after every change and returns a function that removes it.
func (e *Engine) Subscribe(fn func()) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

func (e *Engine) notify() {
	e.mu.Lock()
	fns := make([]func(), 0, len(e.listeners))
	for id := 0; id < e.nextID; id++ {
		if fn, ok := e.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Close stops the autoscroll ticker.
func (e *Engine) Close() {
	e.mu.Lock()
	e.stopScrollLocked()
	e.mu.Unlock()
}

// updateScrollLocked starts, redirects or stops autoscroll for pointer height y.
func (e *Engine) updateScrollLocked(y float64) {
	dir := 0
	top := e.layout.RulerHeight
	bottom := e.layout.ViewportHeight
	switch {
	case y >= top && y <= top+e.layout.EdgeZone:
		dir = -1
	case y >= bottom-e.layout.EdgeZone && y <= bottom:
		dir = 1
	}
	if dir == e.scrollDir {
		return
	}
	e.stopScrollLocked()
	if dir == 0 {
		return
	}
	e.scrollDir = dir
	e.state = AutoScrolling
	stop := make(chan struct{})
	e.stopTick = stop
	go e.autoscroll(stop)
}

func (e *Engine) stopScrollLocked() {
	if e.stopTick != nil {
		close(e.stopTick)
		e.stopTick = nil
	}
	e.scrollDir = 0
	if e.state == AutoScrolling {
		e.state = DraggingKeyframe
	}
}

func (e *Engine) autoscroll(stop chan struct{}) {
	interval := e.layout.ScrollInterval
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if e.scrollTick(stop) {
				e.notify()
			}
		}
	}
}

// scrollTick moves the tracks one step and reports whether they moved.
func (e *Engine) scrollTick(stop chan struct{}) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopTick != stop {
		return false
	}
	content := float64(len(e.lanes)) * e.layout.LaneHeight
	visible := e.layout.ViewportHeight - e.layout.RulerHeight
	maxScroll := math.Max(0, content-visible)
	next := math.Min(math.Max(e.scrollY+float64(e.scrollDir)*e.layout.ScrollStep, 0), maxScroll)
	if next == e.scrollY {
		return false
	}
	e.scrollY = next
	return true
}
