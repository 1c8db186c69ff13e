package timeline

import "github.com/ivlev/papeterie/internal/model"

// Key is a key press. Code uses DOM key names ("ArrowUp", "Escape", "z").
type Key struct {
	Code  string
	Ctrl  bool
	Meta  bool
	Shift bool
}

// Focus is the kind of element holding keyboard focus.
type Focus string

const (
	FocusNone     Focus = ""
	FocusInput    Focus = "input"
	FocusTextArea Focus = "textarea"
	FocusSelect   Focus = "select"
)

func (f Focus) editable() bool {
	return f == FocusInput || f == FocusTextArea || f == FocusSelect
}

// HandleKey runs the shortcut bound to k and reports whether it was consumed.
// Nothing is handled while a form field has focus.
func (e *Engine) HandleKey(k Key, focus Focus) bool {
	if focus.editable() {
		return false
	}
	mod := k.Ctrl || k.Meta
	switch {
	case mod && (k.Code == "z" || k.Code == "Z"):
		if k.Shift {
			return e.hostCall("redo", e.host.Redo)
		}
		return e.hostCall("undo", e.host.Undo)
	case mod && (k.Code == "y" || k.Code == "Y"):
		return e.hostCall("redo", e.host.Redo)
	}

	switch k.Code {
	case "Escape":
		e.mu.Lock()
		e.sel.Sprite = ""
		e.sel.Sprites = nil
		e.sel.Keyframe = nil
		e.mu.Unlock()
		e.notify()
		return true
	case "ArrowLeft", "ArrowRight":
		e.mu.Lock()
		if e.context == ContextNone {
			e.mu.Unlock()
			return false
		}
		step := timeStep
		if k.Code == "ArrowLeft" {
			step = -step
		}
		e.time = e.clampTime(round2(e.time + step))
		e.mu.Unlock()
		e.notify()
		return true
	case "ArrowUp", "ArrowDown":
		dir := 1
		if k.Code == "ArrowDown" {
			dir = -1
		}
		return e.shiftDepth(dir)
	}
	return false
}

func (e *Engine) hostCall(what string, fn func() error) bool {
	if err := fn(); err != nil {
		e.logger.Printf("[!] timeline: %s: %v", what, err)
	}
	return true
}

// shiftDepth moves the selected layer to the next occupied z tier in dir, or
// one past the last tier when there is none. Other layers never move.
func (e *Engine) shiftDepth(dir int) bool {
	e.mu.Lock()
	sprite := e.sel.Sprite
	if e.context != ContextTimeline || sprite == "" || sprite == Original {
		e.mu.Unlock()
		return false
	}
	cur, found := 0, false
	var others []int
	for _, l := range e.layers {
		if l.Sprite == sprite {
			cur, found = l.ZDepth, true
		} else {
			others = append(others, l.ZDepth)
		}
	}
	e.mu.Unlock()
	if !found {
		return false
	}

	z := NextDepth(cur, others, dir)
	if z == cur {
		return true
	}
	if err := e.host.SetLayerOrder(map[string]int{sprite: z}); err != nil {
		e.logger.Printf("[!] timeline: move %s to Z=%d: %v", sprite, z, err)
	}
	return true
}

// NextDepth is the z-depth reached from cur by one step in dir (+1 up, -1
// down): the nearest occupied depth that way, else cur+dir, within [1,100].
func NextDepth(cur int, occupied []int, dir int) int {
	best, ok := 0, false
	for _, z := range occupied {
		if dir > 0 && z > cur && (!ok || z < best) {
			best, ok = z, true
		}
		if dir < 0 && z < cur && (!ok || z > best) {
			best, ok = z, true
		}
	}
	if !ok {
		best = cur + dir
	}
	return min(max(best, model.MinZDepth), model.MaxZDepth)
}
