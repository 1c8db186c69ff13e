// Package scene implements the edits a user can make to a scene or sprite
// document. Every function mutates the document it is given in place and
// returns the description shown in the undo menu; callers snapshot the
// document before and after to build a history command.
package scene

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ivlev/papeterie/internal/model"
)

var (
	ErrAlreadyExists = errors.New("sprite already in scene")
	ErrNotFound      = errors.New("not found")
	ErrNoSelection   = errors.New("no layer selected")
)

// Original is the selection value that stands for the scene itself.
const Original = "original"

// Keyframe matching windows, in seconds.
const (
	PositionTolerance = 0.5
	RotationTolerance = 0.2
	ScaleTolerance    = 0.1

	// At or below this time rotation and scale edits change the base transform.
	baseTimeLimit = 0.1
)

func layerOf(s *model.Scene, name string) (*model.Layer, error) {
	l := s.Layer(name)
	if l == nil {
		return nil, fmt.Errorf("layer %q: %w", name, ErrNotFound)
	}
	return l, nil
}

// round2 rounds a time to hundredths of a second.
func round2(t float64) float64 {
	return math.Round(t*100) / 100
}

// AddLayer appends a layer for sprite. Its z-depth comes from the sprite's
// first location behavior, then the sprite metadata, then the default.
func AddLayer(s *model.Scene, name string, sprite *model.SpriteMetadata) (string, error) {
	if s.Layer(name) != nil {
		return "", fmt.Errorf("add %q: %w", name, ErrAlreadyExists)
	}
	z := model.DefaultZDepth
	if sprite != nil {
		if loc := sprite.Behaviors.FirstLocation(); loc != nil && loc.ZDepth != nil {
			z = *loc.ZDepth
		} else if sprite.ZDepth > 0 {
			z = sprite.ZDepth
		}
	}
	s.Layers = append(s.Layers, &model.Layer{
		SpriteName: name,
		ZDepth:     z,
		XOffset:    model.Float(0),
		YOffset:    model.Float(0),
		Scale:      model.Float(1),
		Visible:    true,
		Behaviors:  model.BehaviorList{},
	})
	return fmt.Sprintf("Added sprite '%s' at Z=%d", name, z), nil
}

// RemoveLayer drops the named layer. It reports false when there was none.
func RemoveLayer(s *model.Scene, name string) (string, bool) {
	i := s.LayerIndex(name)
	if i < 0 {
		return "", false
	}
	s.Layers = append(s.Layers[:i], s.Layers[i+1:]...)
	return fmt.Sprintf("Removed sprite '%s'", name), true
}

func SetVisibility(s *model.Scene, name string, visible bool) (string, error) {
	l, err := layerOf(s, name)
	if err != nil {
		return "", err
	}
	l.Visible = visible
	if visible {
		return fmt.Sprintf("Showed sprite '%s'", name), nil
	}
	return fmt.Sprintf("Hid sprite '%s'", name), nil
}

// UpdateLayerOrder applies new z-depths. Only layers whose depth differs are
// touched; it reports false when nothing changed. Unknown names are ignored.
func UpdateLayerOrder(s *model.Scene, depths map[string]int) (string, bool) {
	var changed []string
	for _, l := range s.Layers {
		z, ok := depths[l.SpriteName]
		if !ok || z == l.ZDepth {
			continue
		}
		l.ZDepth = z
		changed = append(changed, l.SpriteName)
	}
	switch len(changed) {
	case 0:
		return "", false
	case 1:
		return fmt.Sprintf("Moved sprite '%s' to Z=%d", changed[0], depths[changed[0]]), true
	}
	sort.Strings(changed)
	return fmt.Sprintf("Reordered layers %s", strings.Join(changed, ", ")), true
}

// keyframeNear returns the location behavior closest to t within tol.
func keyframeNear(list model.BehaviorList, t, tol float64) *model.Location {
	var best *model.Location
	bestDist := tol
	for _, b := range list {
		loc, ok := b.(*model.Location)
		if !ok {
			continue
		}
		if d := math.Abs(loc.TimeOffset - t); d < bestDist {
			best, bestDist = loc, d
		}
	}
	return best
}

// upsertKeyframe finds the location keyframe near t or appends a new one,
// then lets set fill it in. Other location keyframes inside the window are
// folded into it, so exactly one remains. Behaviors stay sorted by time.
func upsertKeyframe(l *model.Layer, t, tol float64, set func(*model.Location)) bool {
	if loc := keyframeNear(l.Behaviors, t, tol); loc != nil {
		l.Behaviors = foldNear(l.Behaviors, loc, t, tol)
		set(loc)
		return false
	}
	loc := model.NewLocation()
	loc.TimeOffset = round2(t)
	loc.Interpolate = true
	set(loc)
	l.Behaviors = append(l.Behaviors, loc)
	l.Behaviors.SortByTime()
	return true
}

// foldNear removes the location behaviors within tol of t other than keep,
// copying into keep the properties it does not set itself.
func foldNear(list model.BehaviorList, keep *model.Location, t, tol float64) model.BehaviorList {
	out := list[:0]
	for _, b := range list {
		loc, ok := b.(*model.Location)
		if !ok || loc == keep || math.Abs(loc.TimeOffset-t) >= tol {
			out = append(out, b)
			continue
		}
		keep.X = fill(keep.X, loc.X)
		keep.Y = fill(keep.Y, loc.Y)
		keep.Scale = fill(keep.Scale, loc.Scale)
		keep.Rotation = fill(keep.Rotation, loc.Rotation)
		keep.VerticalPercent = fill(keep.VerticalPercent, loc.VerticalPercent)
		keep.HorizontalPercent = fill(keep.HorizontalPercent, loc.HorizontalPercent)
		if keep.ZDepth == nil {
			keep.ZDepth = loc.ZDepth
		}
	}
	return out
}

func fill(have, from *float64) *float64 {
	if have != nil {
		return have
	}
	return from
}

// baseLocation is the location behavior at time zero, if any.
func baseLocation(l *model.Layer) *model.Location {
	for _, b := range l.Behaviors {
		if loc, ok := b.(*model.Location); ok && loc.TimeOffset == 0 {
			return loc
		}
	}
	return nil
}

// PositionChange moves a layer's base offset and records the position as a
// keyframe at t, replacing any location keyframe within PositionTolerance.
func PositionChange(s *model.Scene, name string, x, y, t float64) (string, error) {
	l, err := layerOf(s, name)
	if err != nil {
		return "", err
	}
	x, y = math.Round(x), math.Round(y)
	l.XOffset = model.Float(x)
	l.YOffset = model.Float(y)
	upsertKeyframe(l, t, PositionTolerance, func(loc *model.Location) {
		loc.X = model.Float(x)
		loc.Y = model.Float(y)
	})
	return fmt.Sprintf("Moved '%s' to (%g, %g) at %.2fs", name, x, y, t), nil
}

// RotationChange keyframes a rotation after the first tenth of a second;
// earlier it changes the base location, or the layer when there is none.
func RotationChange(s *model.Scene, name string, deg, t float64) (string, error) {
	l, err := layerOf(s, name)
	if err != nil {
		return "", err
	}
	if t > baseTimeLimit {
		upsertKeyframe(l, t, RotationTolerance, func(loc *model.Location) {
			loc.Rotation = model.Float(deg)
		})
		return fmt.Sprintf("Rotated '%s' to %g° at %.2fs", name, deg, t), nil
	}
	if loc := baseLocation(l); loc != nil {
		loc.Rotation = model.Float(deg)
	} else {
		l.Rotation = model.Float(deg)
	}
	return fmt.Sprintf("Rotated '%s' to %g°", name, deg), nil
}

// ScaleChange keyframes a scale after the first tenth of a second; earlier it
// sets the layer scale and the base location's scale.
func ScaleChange(s *model.Scene, name string, scale, t float64) (string, error) {
	l, err := layerOf(s, name)
	if err != nil {
		return "", err
	}
	if t > baseTimeLimit {
		upsertKeyframe(l, t, ScaleTolerance, func(loc *model.Location) {
			loc.Scale = model.Float(scale)
		})
		return fmt.Sprintf("Scaled '%s' to %g at %.2fs", name, scale, t), nil
	}
	l.Scale = model.Float(scale)
	if loc := baseLocation(l); loc != nil {
		loc.Scale = model.Float(scale)
	}
	return fmt.Sprintf("Scaled '%s' to %g", name, scale), nil
}

// MoveKeyframe retimes a layer behavior and returns where it lands after re-sorting.
func MoveKeyframe(s *model.Scene, name string, index int, t float64) (int, string, error) {
	l, err := layerOf(s, name)
	if err != nil {
		return -1, "", err
	}
	i, err := moveIn(l.Behaviors, index, t)
	if err != nil {
		return -1, "", fmt.Errorf("layer %q: %w", name, err)
	}
	return i, fmt.Sprintf("Moved keyframe of '%s' to %.2fs", name, round2(math.Max(t, 0))), nil
}

// DeleteKeyframe removes a layer behavior.
func DeleteKeyframe(s *model.Scene, name string, index int) (string, error) {
	l, err := layerOf(s, name)
	if err != nil {
		return "", err
	}
	list, err := deleteIn(l.Behaviors, index)
	if err != nil {
		return "", fmt.Errorf("layer %q: %w", name, err)
	}
	l.Behaviors = list
	return fmt.Sprintf("Deleted keyframe of '%s'", name), nil
}

// ReplaceBehaviors swaps the behavior list of the selected layer.
func ReplaceBehaviors(s *model.Scene, selected string, behaviors model.BehaviorList) (string, error) {
	if selected == "" || selected == Original {
		return "", ErrNoSelection
	}
	l, err := layerOf(s, selected)
	if err != nil {
		return "", err
	}
	list, err := behaviors.Clone()
	if err != nil {
		return "", err
	}
	list.SortByTime()
	l.Behaviors = list
	return fmt.Sprintf("Updated behaviors of '%s'", selected), nil
}

// ReplaceSpriteBehaviors swaps a sprite's own behavior list.
func ReplaceSpriteBehaviors(m *model.SpriteMetadata, behaviors model.BehaviorList) (string, error) {
	list, err := behaviors.Clone()
	if err != nil {
		return "", err
	}
	list.SortByTime()
	m.Behaviors = list
	return fmt.Sprintf("Updated behaviors of '%s'", m.Name), nil
}

func MoveSpriteKeyframe(m *model.SpriteMetadata, index int, t float64) (int, string, error) {
	i, err := moveIn(m.Behaviors, index, t)
	if err != nil {
		return -1, "", fmt.Errorf("sprite %q: %w", m.Name, err)
	}
	return i, fmt.Sprintf("Moved keyframe of '%s' to %.2fs", m.Name, round2(math.Max(t, 0))), nil
}

func DeleteSpriteKeyframe(m *model.SpriteMetadata, index int) (string, error) {
	list, err := deleteIn(m.Behaviors, index)
	if err != nil {
		return "", fmt.Errorf("sprite %q: %w", m.Name, err)
	}
	m.Behaviors = list
	return fmt.Sprintf("Deleted keyframe of '%s'", m.Name), nil
}

func moveIn(list model.BehaviorList, index int, t float64) (int, error) {
	if index < 0 || index >= len(list) {
		return -1, fmt.Errorf("behavior %d: %w", index, ErrNotFound)
	}
	b := list[index]
	if !model.SetTime(b, round2(math.Max(t, 0))) {
		return -1, fmt.Errorf("%s behavior %d has no time offset: %w", b.Kind(), index, ErrNotFound)
	}
	list.SortByTime()
	for i := range list {
		if list[i] == b {
			return i, nil
		}
	}
	return index, nil
}

func deleteIn(list model.BehaviorList, index int) (model.BehaviorList, error) {
	if index < 0 || index >= len(list) {
		return list, fmt.Errorf("behavior %d: %w", index, ErrNotFound)
	}
	return append(list[:index], list[index+1:]...), nil
}

