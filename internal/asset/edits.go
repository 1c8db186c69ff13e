package asset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ivlev/papeterie/internal/history"
	"github.com/ivlev/papeterie/internal/model"
	"github.com/ivlev/papeterie/internal/remote"
	"github.com/ivlev/papeterie/internal/scene"
	"github.com/ivlev/papeterie/internal/timeline"
)

// snapshot returns the current document and identity, failing when the
// open asset is not of kind want (any kind when want is empty).
func (c *Controller) snapshot(want model.AssetKind) (kind model.AssetKind, name string, doc []byte, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.name == "" {
		return "", "", nil, ErrNoAsset
	}
	if want != "" && c.kind != want {
		return "", "", nil, fmt.Errorf("%s %q: %w", c.kind, c.name, ErrWrongKind)
	}
	return c.kind, c.name, c.doc, nil
}

func decodeScene(doc []byte) (*model.Scene, error) {
	var s model.Scene
	if err := json.Unmarshal(doc, &s); err != nil {
		return nil, fmt.Errorf("decode scene: %w", err)
	}
	return &s, nil
}

func decodeSprite(doc []byte, name string) (*model.SpriteMetadata, error) {
	var m model.SpriteMetadata
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, fmt.Errorf("decode sprite: %w", err)
	}
	if m.Name == "" {
		m.Name = name
	}
	return &m, nil
}

// editScene applies fn to a fresh copy of the open scene and records the
// result as one command. The copy is taken once every earlier edit has
// settled. An empty description means nothing changed.
func (c *Controller) editScene(ctx context.Context, hk history.Kind, fn func(*model.Scene) (string, error)) error {
	if _, _, _, err := c.snapshot(model.KindScene); err != nil {
		return err
	}
	return c.history.ExecuteFunc(ctx, func() (history.Command, error) {
		_, name, old, err := c.snapshot(model.KindScene)
		if err != nil {
			return nil, err
		}
		s, err := decodeScene(old)
		if err != nil {
			return nil, err
		}
		desc, err := fn(s)
		if err != nil || desc == "" {
			return nil, err
		}
		if err := model.ValidateScene(s); err != nil {
			return nil, err
		}
		doc, err := json.Marshal(s)
		if err != nil {
			return nil, err
		}
		return history.NewUpdateConfig(hk, model.KindScene, name, old, doc, desc), nil
	})
}

func (c *Controller) editSprite(ctx context.Context, hk history.Kind, fn func(*model.SpriteMetadata) (string, error)) error {
	if _, _, _, err := c.snapshot(model.KindSprite); err != nil {
		return err
	}
	return c.history.ExecuteFunc(ctx, func() (history.Command, error) {
		_, name, old, err := c.snapshot(model.KindSprite)
		if err != nil {
			return nil, err
		}
		m, err := decodeSprite(old, name)
		if err != nil {
			return nil, err
		}
		desc, err := fn(m)
		if err != nil || desc == "" {
			return nil, err
		}
		if err := model.ValidateSprite(m); err != nil {
			return nil, err
		}
		doc, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		return history.NewUpdateConfig(hk, model.KindSprite, name, old, doc, desc), nil
	})
}

// AddSprite places a sprite on the open scene. Without metadata the sprite's
// configuration is fetched to pick its z-depth.
func (c *Controller) AddSprite(ctx context.Context, name string, meta *model.SpriteMetadata) error {
	if meta == nil {
		raw, err := c.remote.GetConfig(ctx, model.KindSprite, name)
		if err != nil {
			return c.fail("add sprite", err)
		}
		if meta, err = decodeSprite(raw, name); err != nil {
			return c.fail("add sprite", err)
		}
	}
	err := c.editScene(ctx, history.KindAddLayer, func(s *model.Scene) (string, error) {
		return scene.AddLayer(s, name, meta)
	})
	if err != nil {
		return c.fail("add sprite", err)
	}
	c.timeline.Select(name)
	return nil
}

// RemoveLayer takes a sprite off the open scene. Removing an absent layer is a no-op.
func (c *Controller) RemoveLayer(ctx context.Context, name string) error {
	err := c.editScene(ctx, history.KindDeleteLayer, func(s *model.Scene) (string, error) {
		desc, _ := scene.RemoveLayer(s, name)
		return desc, nil
	})
	if err != nil {
		return c.fail("remove layer", err)
	}
	if sel := c.timeline.Selection(); sel.Sprite == name {
		c.timeline.Select(timeline.Original)
	}
	return nil
}

// DeleteSprite permanently deletes a sprite asset after confirmation. When a
// scene is open the layer is first removed from it on a best-effort basis.
// The delete cannot be undone; history entries for the sprite become no-ops.
func (c *Controller) DeleteSprite(ctx context.Context, name string) error {
	if !c.confirm.Confirm(ctx, fmt.Sprintf("Delete sprite '%s' permanently? This cannot be undone.", name)) {
		return nil
	}

	kind, sceneName, _, err := c.snapshot("")
	if err == nil && kind == model.KindScene {
		c.removeDirect(ctx, sceneName, name)
	}

	if _, err := c.remote.Delete(ctx, model.KindSprite, name, remote.DeleteSprite); err != nil {
		return c.fail("delete sprite", fmt.Errorf("delete sprite %q: %w", name, err))
	}
	c.history.Retire(model.KindSprite, name)
	c.logger.Printf("[*] deleted sprite %q", name)
	c.notifier.Notify(Toast{Level: LevelSuccess, Message: fmt.Sprintf("Deleted sprite '%s'", name)})

	if kind == model.KindSprite {
		if _, open := c.Asset(); open == name {
			c.Close()
		}
	}
	return nil
}

// removeDirect writes the scene without the layer, bypassing history.
func (c *Controller) removeDirect(ctx context.Context, sceneName string, layer string) {
	err := c.writeDirect(ctx, sceneName, func(s *model.Scene) error {
		if _, ok := scene.RemoveLayer(s, layer); !ok {
			return errUnchanged
		}
		return nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		c.logger.Printf("[!] delete sprite: removing %q from scene %q: %v", layer, sceneName, err)
	}
}

// writeDirect applies fn to the open scene and PUTs the result without
// recording a command. It runs in line with history so no edit is lost.
func (c *Controller) writeDirect(ctx context.Context, sceneName string, fn func(*model.Scene) error) error {
	err := c.history.Do(ctx, func() error {
		_, name, old, err := c.snapshot(model.KindScene)
		if err != nil {
			return err
		}
		if name != sceneName {
			return ErrNoAsset
		}
		s, err := decodeScene(old)
		if err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
		doc, err := json.Marshal(s)
		if err != nil {
			return err
		}
		if err := c.remote.PutConfig(ctx, model.KindScene, sceneName, doc); err != nil {
			return err
		}
		c.mu.Lock()
		if c.kind == model.KindScene && c.name == sceneName {
			c.setDocLocked(doc)
		}
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}
	c.syncTimeline()
	c.notify()
	return nil
}

// DeleteScene permanently deletes the open scene after confirmation and
// closes it. mode decides what happens to its sprites.
func (c *Controller) DeleteScene(ctx context.Context, mode remote.DeleteMode) (remote.DeleteResult, error) {
	_, name, _, err := c.snapshot(model.KindScene)
	if err != nil {
		return remote.DeleteResult{}, c.fail("delete scene", err)
	}
	if !c.confirm.Confirm(ctx, fmt.Sprintf("Delete scene '%s' permanently? This cannot be undone.", name)) {
		return remote.DeleteResult{}, nil
	}
	res, err := c.remote.Delete(ctx, model.KindScene, name, mode)
	if err != nil {
		return res, c.fail("delete scene", fmt.Errorf("delete scene %q: %w", name, err))
	}
	c.history.Retire(model.KindScene, name)
	c.Close()
	c.notifier.Notify(Toast{Level: LevelSuccess, Message: fmt.Sprintf("Deleted scene '%s'", name)})
	return res, nil
}

// ToggleVisibility flips a layer's visibility at once and persists it. On
// failure the flag is restored. The layer cannot be toggled again until the
// request settles.
func (c *Controller) ToggleVisibility(ctx context.Context, name string) error {
	c.mu.Lock()
	if c.kind != model.KindScene || c.scene == nil {
		c.mu.Unlock()
		return c.fail("toggle visibility", ErrWrongKind)
	}
	if c.scene.Layer(name) == nil {
		c.mu.Unlock()
		return c.fail("toggle visibility", fmt.Errorf("layer %q: %w", name, scene.ErrNotFound))
	}
	if c.pending[name] {
		c.mu.Unlock()
		return ErrBusy
	}
	prev := c.visibility[name]
	c.visibility[name] = !prev
	c.pending[name] = true
	sceneName := c.name
	gen := c.gen
	c.mu.Unlock()
	c.notify()

	err := c.persistVisibility(ctx, sceneName, name, !prev)

	c.mu.Lock()
	if gen == c.gen {
		delete(c.pending, name)
		if err != nil {
			c.visibility[name] = prev
		}
	}
	c.mu.Unlock()
	c.notify()
	return c.fail("toggle visibility", err)
}

func (c *Controller) persistVisibility(ctx context.Context, sceneName string, name string, visible bool) error {
	if c.opts.DirectVisibility {
		return c.writeDirect(ctx, sceneName, func(s *model.Scene) error {
			_, err := scene.SetVisibility(s, name, visible)
			return err
		})
	}
	return c.history.ExecuteFunc(ctx, func() (history.Command, error) {
		_, cur, old, err := c.snapshot(model.KindScene)
		if err != nil {
			return nil, err
		}
		if cur != sceneName {
			return nil, ErrNoAsset
		}
		s, err := decodeScene(old)
		if err != nil {
			return nil, err
		}
		desc, err := scene.SetVisibility(s, name, visible)
		if err != nil {
			return nil, err
		}
		doc, err := json.Marshal(s)
		if err != nil {
			return nil, err
		}
		return history.NewUpdateConfig(history.KindToggleVisibility, model.KindScene, sceneName, old, doc, desc), nil
	})
}

// UpdateLayerOrder applies new z-depths. Nothing is sent when no depth changes.
func (c *Controller) UpdateLayerOrder(ctx context.Context, depths map[string]int) error {
	err := c.editScene(ctx, history.KindReorder, func(s *model.Scene) (string, error) {
		desc, _ := scene.UpdateLayerOrder(s, depths)
		return desc, nil
	})
	return c.fail("reorder layers", err)
}

// PositionChange moves a layer and keyframes the position at t.
func (c *Controller) PositionChange(ctx context.Context, name string, x, y, t float64) error {
	err := c.editScene(ctx, history.KindTransform, func(s *model.Scene) (string, error) {
		return scene.PositionChange(s, name, x, y, t)
	})
	return c.fail("move sprite", err)
}

func (c *Controller) RotationChange(ctx context.Context, name string, deg, t float64) error {
	err := c.editScene(ctx, history.KindTransform, func(s *model.Scene) (string, error) {
		return scene.RotationChange(s, name, deg, t)
	})
	return c.fail("rotate sprite", err)
}

func (c *Controller) ScaleChange(ctx context.Context, name string, scale, t float64) error {
	err := c.editScene(ctx, history.KindTransform, func(s *model.Scene) (string, error) {
		return scene.ScaleChange(s, name, scale, t)
	})
	return c.fail("scale sprite", err)
}

// MoveKeyframe retimes a keyframe. A non-committing move only previews the
// change locally; the committing move records a single command whose old
// document is the one from before the first preview.
func (c *Controller) MoveKeyframe(ctx context.Context, sprite string, index int, t float64, commit bool) (int, error) {
	c.mu.Lock()
	if c.name == "" {
		c.mu.Unlock()
		return -1, ErrNoAsset
	}
	kind, name, cur := c.kind, c.name, c.doc
	base := c.dragBase
	if base == nil {
		base = cur
	}
	c.mu.Unlock()

	newIndex, doc, _, err := moveKeyframe(kind, name, cur, sprite, index, t)
	if err != nil {
		c.endPreview(base)
		return -1, c.fail("move keyframe", err)
	}

	if !commit {
		c.mu.Lock()
		if c.name == name && c.kind == kind {
			c.dragBase = base
			c.setDocLocked(doc)
		}
		c.mu.Unlock()
		c.syncTimeline()
		c.notify()
		return newIndex, nil
	}

	// The committed document is rebuilt from whatever is current once
	// earlier edits have settled.
	err = c.history.ExecuteFunc(ctx, func() (history.Command, error) {
		c.mu.Lock()
		if c.kind != kind || c.name != name {
			c.mu.Unlock()
			return nil, ErrNoAsset
		}
		if c.dragBase != nil {
			base = c.dragBase
		} else {
			base = c.doc
		}
		cur = c.doc
		c.dragBase = nil
		c.mu.Unlock()

		i, moved, what, err := moveKeyframe(kind, name, cur, sprite, index, t)
		if err != nil {
			return nil, err
		}
		newIndex = i
		return history.NewUpdateConfig(history.KindKeyframe, kind, name, base, moved, what), nil
	})
	if err != nil {
		c.restore(kind, name, base)
		return -1, c.fail("move keyframe", err)
	}
	return newIndex, nil
}

// restore puts back a document when a previewed change could not be saved.
func (c *Controller) restore(kind model.AssetKind, name string, doc []byte) {
	c.mu.Lock()
	same := c.kind == kind && c.name == name
	if same {
		c.setDocLocked(doc)
	}
	c.mu.Unlock()
	if same {
		c.syncTimeline()
		c.notify()
	}
}

func moveKeyframe(kind model.AssetKind, name string, cur []byte, sprite string, index int, t float64) (int, []byte, string, error) {
	var (
		i    int
		desc string
		v    any
		err  error
	)
	switch kind {
	case model.KindScene:
		var s *model.Scene
		if s, err = decodeScene(cur); err != nil {
			return -1, nil, "", err
		}
		i, desc, err = scene.MoveKeyframe(s, sprite, index, t)
		v = s
	case model.KindSprite:
		var m *model.SpriteMetadata
		if m, err = decodeSprite(cur, name); err != nil {
			return -1, nil, "", err
		}
		i, desc, err = scene.MoveSpriteKeyframe(m, index, t)
		v = m
	}
	if err != nil {
		return -1, nil, "", err
	}
	doc, err := json.Marshal(v)
	return i, doc, desc, err
}

// endPreview drops a drag preview, restoring the document it started from.
func (c *Controller) endPreview(base []byte) {
	c.mu.Lock()
	restore := c.dragBase != nil
	c.dragBase = nil
	if restore {
		c.setDocLocked(base)
	}
	c.mu.Unlock()
	if restore {
		c.syncTimeline()
		c.notify()
	}
}

// DeleteKeyframe removes a keyframe after confirmation.
func (c *Controller) DeleteKeyframe(ctx context.Context, sprite string, index int) error {
	if !c.confirm.Confirm(ctx, "Delete this keyframe?") {
		return nil
	}
	kind, _, _, err := c.snapshot("")
	if err != nil {
		return c.fail("delete keyframe", err)
	}
	if kind == model.KindSprite {
		err = c.editSprite(ctx, history.KindKeyframe, func(m *model.SpriteMetadata) (string, error) {
			return scene.DeleteSpriteKeyframe(m, index)
		})
	} else {
		err = c.editScene(ctx, history.KindKeyframe, func(s *model.Scene) (string, error) {
			return scene.DeleteKeyframe(s, sprite, index)
		})
	}
	if err != nil {
		return c.fail("delete keyframe", err)
	}
	c.timeline.ClearKeyframe()
	return nil
}

// ReplaceBehaviors swaps the behavior list of the sprite, or of the selected
// layer when a scene is open.
func (c *Controller) ReplaceBehaviors(ctx context.Context, behaviors model.BehaviorList) error {
	kind, _, _, err := c.snapshot("")
	if err != nil {
		return c.fail("update behaviors", err)
	}
	if kind == model.KindSprite {
		err = c.editSprite(ctx, history.KindBehaviors, func(m *model.SpriteMetadata) (string, error) {
			return scene.ReplaceSpriteBehaviors(m, behaviors)
		})
		return c.fail("update behaviors", err)
	}
	selected := c.timeline.Selection().Sprite
	err = c.editScene(ctx, history.KindBehaviors, func(s *model.Scene) (string, error) {
		return scene.ReplaceBehaviors(s, selected, behaviors)
	})
	return c.fail("update behaviors", err)
}

// Undo reverts the last edit and returns its description, empty when there was none.
func (c *Controller) Undo(ctx context.Context) (string, error) {
	cmd, err := c.history.Undo(ctx)
	if err != nil {
		return "", c.fail("undo", err)
	}
	if cmd == nil {
		return "", nil
	}
	return cmd.Description(), nil
}

func (c *Controller) Redo(ctx context.Context) (string, error) {
	cmd, err := c.history.Redo(ctx)
	if err != nil {
		return "", c.fail("redo", err)
	}
	if cmd == nil {
		return "", nil
	}
	return cmd.Description(), nil
}

// Optimize runs the asset's processing job.
func (c *Controller) Optimize(ctx context.Context) error {
	if err := c.optimizer.Optimize(ctx); err != nil {
		return c.fail("optimize", err)
	}
	c.notifier.Notify(Toast{Level: LevelSuccess, Message: "Optimization finished"})
	return nil
}

// RevertSprite restores the sprite's original image.
func (c *Controller) RevertSprite(ctx context.Context) error {
	return c.fail("revert", c.optimizer.Revert(ctx))
}

// SaveRotation bakes a rotation into the asset's images.
func (c *Controller) SaveRotation(ctx context.Context, deg float64) error {
	msg, err := c.optimizer.SaveRotation(ctx, deg)
	if err != nil {
		return c.fail("save rotation", err)
	}
	if msg != "" {
		c.notifier.Notify(Toast{Level: LevelSuccess, Message: msg})
	}
	return nil
}
