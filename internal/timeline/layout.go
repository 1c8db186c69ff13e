package timeline

import (
	"math"
	"sort"
	"time"
)

// Layout is the geometry of a timeline view, in pixels unless noted.
type Layout struct {
	RulerHeight    float64
	TrackOrigin    float64 // x of t=0
	LaneHeight     float64
	ViewportHeight float64
	EdgeZone       float64 // autoscroll trigger band at either edge of the tracks
	HitBox         float64 // keyframe hit box width, centered on the keyframe
	ScrollStep     float64
	ScrollInterval time.Duration
	MinZoom        float64 // px per second
	MaxZoom        float64
}

// DefaultLayout returns the geometry the editor ships with.
func DefaultLayout() Layout {
	return Layout{
		RulerHeight:    24,
		TrackOrigin:    120,
		LaneHeight:     32,
		ViewportHeight: 240,
		EdgeZone:       40,
		HitBox:         14,
		ScrollStep:     8,
		ScrollInterval: 16 * time.Millisecond,
		MinZoom:        10,
		MaxZoom:        400,
	}
}

func (l Layout) clampZoom(z float64) float64 {
	return math.Min(math.Max(z, l.MinZoom), l.MaxZoom)
}

// Keyframe is a timed behavior as drawn on a lane.
type Keyframe struct {
	Sprite string
	Index  int // position in the sprite's behavior list
	Time   float64
}

// LayerInfo is what the engine needs to know about one layer.
type LayerInfo struct {
	Sprite    string
	ZDepth    int
	Keyframes []Keyframe
}

// Lane is one z tier. Layers sharing a z-depth share a lane.
type Lane struct {
	ZDepth    int
	Sprites   []string
	Keyframes []Keyframe
}

// buildLanes groups layers by depth, topmost tier first.
func buildLanes(layers []LayerInfo) []Lane {
	byZ := make(map[int]*Lane)
	var order []int
	for _, l := range layers {
		lane, ok := byZ[l.ZDepth]
		if !ok {
			lane = &Lane{ZDepth: l.ZDepth}
			byZ[l.ZDepth] = lane
			order = append(order, l.ZDepth)
		}
		lane.Sprites = append(lane.Sprites, l.Sprite)
		lane.Keyframes = append(lane.Keyframes, l.Keyframes...)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(order)))
	lanes := make([]Lane, 0, len(order))
	for _, z := range order {
		lane := byZ[z]
		sort.SliceStable(lane.Keyframes, func(i, j int) bool { return lane.Keyframes[i].Time < lane.Keyframes[j].Time })
		lanes = append(lanes, *lane)
	}
	return lanes
}
