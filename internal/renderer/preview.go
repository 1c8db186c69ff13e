package renderer

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ivlev/papeterie/internal/model"
)

// FrameLine is one visible layer of a sampled frame.
type FrameLine struct {
	Sprite string
	ZDepth int
	Transform
}

func (l FrameLine) String() string {
	return fmt.Sprintf("%-16s z=%-3d x=%7.1f y=%7.1f s=%.2f r=%6.1f",
		l.Sprite, l.ZDepth, l.X, l.Y, l.Scale, l.Rotation)
}

// SampleScene returns the visible layers at time t in draw order, back to front.
func SampleScene(scene *model.Scene, t float64) []FrameLine {
	if scene == nil {
		return nil
	}
	lines := make([]FrameLine, 0, len(scene.Layers))
	for _, l := range scene.Layers {
		if !l.Visible {
			continue
		}
		lines = append(lines, FrameLine{Sprite: l.SpriteName, ZDepth: l.ZDepth, Transform: SampleLayer(l, t)})
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].ZDepth < lines[j].ZDepth })
	return lines
}

// Strip draws a track of the given width in cells, zoom cells per second:
// '◆' for keyframes, '|' for the playhead at t, '·' elsewhere. A keyframe
// under the playhead wins; anything past the width is cut off.
func Strip(times []float64, t, zoom float64, width int) string {
	if width <= 0 {
		return ""
	}
	row := []rune(strings.Repeat("·", width))
	put := func(at float64, r rune) {
		c := int(math.Round(at * zoom))
		if c >= 0 && c < width {
			row[c] = r
		}
	}
	put(t, '|')
	for _, kt := range times {
		put(kt, '◆')
	}
	return string(row)
}
