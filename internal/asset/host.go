package asset

import (
	"context"

	"github.com/ivlev/papeterie/internal/timeline"
)

// timelineHost carries timeline intents out against the open asset, under
// the asset's lifetime context.
type timelineHost struct{ c *Controller }

var _ timeline.Host = timelineHost{}

func (h timelineHost) ctx() context.Context {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	return h.c.ctx
}

func (h timelineHost) MoveKeyframe(sprite string, index int, t float64, commit bool) (int, error) {
	return h.c.MoveKeyframe(h.ctx(), sprite, index, t, commit)
}

func (h timelineHost) SetLayerOrder(depths map[string]int) error {
	return h.c.UpdateLayerOrder(h.ctx(), depths)
}

func (h timelineHost) Undo() error {
	_, err := h.c.Undo(h.ctx())
	return err
}

func (h timelineHost) Redo() error {
	_, err := h.c.Redo(h.ctx())
	return err
}
