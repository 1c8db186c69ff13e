package renderer

import (
	"sort"

	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"

	"github.com/ivlev/papeterie/internal/model"
)

// Transform is a layer's placement at a specific moment
type Transform struct {
	X        float64
	Y        float64
	Scale    float64
	Rotation float64
}

// Easing is applied to every interpolating keyframe segment.
var Easing ease.TweenFunc = ease.InOutCubic

type point struct {
	time        float64
	value       float64
	interpolate bool
}

// SampleLayer evaluates the layer's transform at time t.
// The base values act as a keyframe at 0; each enabled location keyframe
// either eases into its values (interpolate) or jumps to them.
func SampleLayer(layer *model.Layer, t float64) Transform {
	base := Transform{Scale: 1}
	if layer == nil {
		return base
	}
	if layer.XOffset != nil {
		base.X = *layer.XOffset
	}
	if layer.YOffset != nil {
		base.Y = *layer.YOffset
	}
	if layer.Scale != nil {
		base.Scale = *layer.Scale
	}
	if layer.Rotation != nil {
		base.Rotation = *layer.Rotation
	}

	var keys []*model.Location
	for _, b := range layer.Behaviors {
		loc, ok := b.(*model.Location)
		if !ok || !loc.Enabled {
			continue
		}
		if loc.TimeOffset == 0 {
			// The base location overrides the layer fields it sets.
			overlay(&base.X, loc.X)
			overlay(&base.Y, loc.Y)
			overlay(&base.Scale, loc.Scale)
			overlay(&base.Rotation, loc.Rotation)
			continue
		}
		keys = append(keys, loc)
	}
	sort.SliceStable(keys, func(i, j int) bool { return keys[i].TimeOffset < keys[j].TimeOffset })

	return Transform{
		X:        sample(track(base.X, keys, func(l *model.Location) *float64 { return l.X }), t),
		Y:        sample(track(base.Y, keys, func(l *model.Location) *float64 { return l.Y }), t),
		Scale:    sample(track(base.Scale, keys, func(l *model.Location) *float64 { return l.Scale }), t),
		Rotation: sample(track(base.Rotation, keys, func(l *model.Location) *float64 { return l.Rotation }), t),
	}
}

func overlay(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

// track collects the keyframes that set one property. Keyframes leaving it unset hold it.
func track(base float64, keys []*model.Location, field func(*model.Location) *float64) []point {
	points := []point{{time: 0, value: base}}
	for _, k := range keys {
		if v := field(k); v != nil {
			points = append(points, point{time: k.TimeOffset, value: *v, interpolate: k.Interpolate})
		}
	}
	return points
}

func sample(points []point, t float64) float64 {
	// Find the last keyframe at or before t
	prev := 0
	for i := 1; i < len(points); i++ {
		if points[i].time > t {
			break
		}
		prev = i
	}
	if prev == len(points)-1 {
		return points[prev].value
	}

	from, to := points[prev], points[prev+1]
	if !to.interpolate || t <= from.time {
		return from.value
	}
	span := to.time - from.time
	if span <= 0 {
		return to.value
	}
	v, _ := gween.New(float32(from.value), float32(to.value), float32(span), Easing).Set(float32(t - from.time))
	return float64(v)
}
